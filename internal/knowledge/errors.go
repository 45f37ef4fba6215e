package knowledge

import (
	"errors"
	"fmt"
)

// ErrOutsideRoot is returned for a knowledge base path that does not lie
// under the configured root.
var ErrOutsideRoot = errors.New("path is outside the knowledge base root")

// IndexIOError reports a failure reading or writing the persisted index.
type IndexIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IndexIOError) Error() string {
	return fmt.Sprintf("knowledge index %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IndexIOError) Unwrap() error { return e.Err }
