package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/tenderflow/pkg/domain"
	"github.com/aescanero/tenderflow/pkg/ports"
)

// IndexFileName is the name of the persisted index inside the root.
const IndexFileName = ".kb_index.json"

var supportedExtensions = map[string]bool{
	".txt":  true,
	".md":   true,
	".pdf":  true,
	".docx": true,
	".doc":  true,
}

// Supported reports whether files with extension ext are indexed.
func Supported(ext string) bool {
	return supportedExtensions[strings.ToLower(ext)]
}

// Document is one indexed file.
type Document struct {
	Path        string `json:"path"`
	Fingerprint string `json:"hash"`
	Content     string `json:"content"`
	Title       string `json:"title"`
	Type        string `json:"type"`
	Seq         int64  `json:"seq"`
}

// Summary describes an indexed document without its content.
type Summary struct {
	Key    string `json:"key"`
	Title  string `json:"title"`
	Path   string `json:"path"`
	Type   string `json:"type"`
	Length int    `json:"length"`
}

// Index is a knowledge base rooted at one directory. It is safe for
// concurrent use.
type Index struct {
	root      string
	indexPath string
	parser    ports.DocumentParser
	logger    *zap.Logger

	mu   sync.RWMutex
	docs map[string]*Document
	seq  int64
}

// Open loads the index persisted under root. A missing index file yields an
// empty index; an unreadable or corrupt one is logged and also yields an
// empty index. parser extracts text from non-plain-text formats and may be
// nil, in which case only .txt and .md files are indexed.
func Open(root string, parser ports.DocumentParser, logger *zap.Logger) (*Index, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve knowledge base root: %w", err)
	}

	idx := &Index{
		root:      abs,
		indexPath: filepath.Join(abs, IndexFileName),
		parser:    parser,
		logger:    logger.With(zap.String("kb_root", abs)),
		docs:      make(map[string]*Document),
	}
	if err := idx.load(); err != nil {
		idx.logger.Warn("ignoring unreadable knowledge base index", zap.Error(err))
		idx.docs = make(map[string]*Document)
		idx.seq = 0
	}
	return idx, nil
}

// Root returns the absolute root directory.
func (i *Index) Root() string { return i.root }

func (i *Index) load() error {
	data, err := os.ReadFile(i.indexPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return &IndexIOError{Op: "read", Path: i.indexPath, Err: err}
	}

	docs := make(map[string]*Document)
	if err := json.Unmarshal(data, &docs); err != nil {
		return &IndexIOError{Op: "decode", Path: i.indexPath, Err: err}
	}

	for key, doc := range docs {
		if doc == nil {
			delete(docs, key)
			continue
		}
		if doc.Seq > i.seq {
			i.seq = doc.Seq
		}
	}
	i.docs = docs
	i.logger.Debug("knowledge base index loaded", zap.Int("documents", len(docs)))
	return nil
}

// save writes the index atomically. Must be called with mu held.
func (i *Index) save() error {
	data, err := json.MarshalIndent(i.docs, "", "  ")
	if err != nil {
		return &IndexIOError{Op: "encode", Path: i.indexPath, Err: err}
	}
	if err := os.MkdirAll(i.root, 0o755); err != nil {
		return &IndexIOError{Op: "write", Path: i.indexPath, Err: err}
	}

	tmp, err := os.CreateTemp(i.root, ".kb_index-*.tmp")
	if err != nil {
		return &IndexIOError{Op: "write", Path: i.indexPath, Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &IndexIOError{Op: "write", Path: i.indexPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &IndexIOError{Op: "write", Path: i.indexPath, Err: err}
	}
	if err := os.Rename(tmpName, i.indexPath); err != nil {
		os.Remove(tmpName)
		return &IndexIOError{Op: "write", Path: i.indexPath, Err: err}
	}
	return nil
}

// Scan indexes every supported file under dir, or under the root when dir is
// empty, and returns how many documents were added or re-extracted. dir must
// lie under the root; documents are keyed by their path relative to the
// root. Files whose modification time did not change are skipped. Documents
// whose file no longer exists are dropped. The context is checked before
// each file.
func (i *Index) Scan(ctx context.Context, dir string) (int, error) {
	if dir == "" {
		dir = i.root
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve scan directory: %w", err)
	}
	if !within(i.root, dir) {
		return 0, fmt.Errorf("scan directory %s: %w", dir, ErrOutsideRoot)
	}

	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		i.logger.Warn("knowledge base directory not found", zap.String("dir", dir))
		return 0, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	count := 0
	seen := make(map[string]bool)
	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			i.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		ext := strings.ToLower(filepath.Ext(d.Name()))
		if !supportedExtensions[ext] {
			return nil
		}

		rel, err := filepath.Rel(i.root, path)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		seen[path] = true

		fi, err := d.Info()
		if err != nil {
			i.logger.Warn("failed to stat document", zap.String("path", path), zap.Error(err))
			return nil
		}
		fingerprint := strconv.FormatInt(fi.ModTime().UnixNano(), 10)
		if existing, ok := i.docs[rel]; ok && existing.Fingerprint == fingerprint && existing.Path == path {
			return nil
		}

		content, err := i.extract(ctx, path, d.Name(), ext)
		if err != nil {
			i.logger.Warn("failed to extract document", zap.String("path", path), zap.Error(err))
			return nil
		}
		if content == "" {
			return nil
		}

		seq := int64(0)
		if existing, ok := i.docs[rel]; ok {
			seq = existing.Seq
		} else {
			i.seq++
			seq = i.seq
		}
		i.docs[rel] = &Document{
			Path:        path,
			Fingerprint: fingerprint,
			Content:     content,
			Title:       d.Name(),
			Type:        ext,
			Seq:         seq,
		}
		count++
		return nil
	})

	pruned := i.prune(dir, seen)

	if count > 0 || pruned > 0 {
		if err := i.save(); err != nil {
			i.logger.Warn("failed to persist knowledge base index", zap.Error(err))
		}
	}

	i.logger.Debug("knowledge base scanned",
		zap.String("dir", dir),
		zap.Int("indexed", count),
		zap.Int("pruned", pruned),
		zap.Int("documents", len(i.docs)))

	if walkErr != nil {
		return count, fmt.Errorf("failed to scan knowledge base: %w", walkErr)
	}
	return count, nil
}

// prune drops documents under dir that the walk did not see and that no
// longer exist on disk. Must be called with mu held.
func (i *Index) prune(dir string, seen map[string]bool) int {
	prefix := dir + string(filepath.Separator)
	pruned := 0
	for key, doc := range i.docs {
		if seen[doc.Path] || !strings.HasPrefix(doc.Path, prefix) {
			continue
		}
		if _, err := os.Stat(doc.Path); errors.Is(err, fs.ErrNotExist) {
			delete(i.docs, key)
			pruned++
		}
	}
	return pruned
}

func (i *Index) extract(ctx context.Context, path, name, ext string) (string, error) {
	switch ext {
	case ".txt", ".md":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read file: %w", err)
		}
		return string(data), nil
	}

	if i.parser == nil {
		return "", fmt.Errorf("no document parser configured for %s", ext)
	}
	doc, err := i.parser.Parse(ctx, domain.FileRef{URL: path, Name: name})
	if err != nil {
		return "", err
	}
	return doc.Text, nil
}

// Count returns the number of indexed documents.
func (i *Index) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.docs)
}

// Documents lists indexed documents in indexing order.
func (i *Index) Documents() []Summary {
	i.mu.RLock()
	defer i.mu.RUnlock()

	out := make([]Summary, 0, len(i.docs))
	for _, key := range i.orderedKeys() {
		doc := i.docs[key]
		out = append(out, Summary{
			Key:    key,
			Title:  doc.Title,
			Path:   doc.Path,
			Type:   doc.Type,
			Length: runeLen(doc.Content),
		})
	}
	return out
}

// Clear empties the index and persists the empty index.
func (i *Index) Clear() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.docs = make(map[string]*Document)
	i.seq = 0
	if err := i.save(); err != nil {
		i.logger.Warn("failed to persist cleared knowledge base index", zap.Error(err))
		return err
	}
	return nil
}

// orderedKeys returns keys by indexing sequence. Must be called with mu held.
func (i *Index) orderedKeys() []string {
	keys := make([]string, 0, len(i.docs))
	for k := range i.docs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(a, b int) bool {
		da, db := i.docs[keys[a]], i.docs[keys[b]]
		if da.Seq != db.Seq {
			return da.Seq < db.Seq
		}
		return keys[a] < keys[b]
	})
	return keys
}
