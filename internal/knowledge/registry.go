package knowledge

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/tenderflow/pkg/ports"
)

// Registry shares one Index per root directory across invocations.
type Registry struct {
	defaultRoot string
	parser      ports.DocumentParser
	logger      *zap.Logger

	mu      sync.Mutex
	indexes map[string]*Index
}

// NewRegistry creates a registry. defaultRoot is used when Get is called
// with an empty root.
func NewRegistry(defaultRoot string, parser ports.DocumentParser, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		defaultRoot: defaultRoot,
		parser:      parser,
		logger:      logger,
		indexes:     make(map[string]*Index),
	}
}

// DefaultRoot returns the root used for an empty path.
func (r *Registry) DefaultRoot() string { return r.defaultRoot }

// Get returns the index for root, opening it on first use. root must be the
// default root or a directory below it; empty means the default root.
func (r *Registry) Get(root string) (*Index, error) {
	base, err := filepath.Abs(r.defaultRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve knowledge base root: %w", err)
	}
	abs := base
	if root != "" {
		if abs, err = filepath.Abs(root); err != nil {
			return nil, fmt.Errorf("failed to resolve knowledge base root: %w", err)
		}
		if !within(base, abs) {
			return nil, fmt.Errorf("%s: %w", root, ErrOutsideRoot)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if idx, ok := r.indexes[abs]; ok {
		return idx, nil
	}
	idx, err := Open(abs, r.parser, r.logger)
	if err != nil {
		return nil, err
	}
	r.indexes[abs] = idx
	return idx, nil
}

// within reports whether path is base or lies below it.
func within(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
