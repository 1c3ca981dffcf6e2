package loader

import (
	"context"
	"io"
)

// Loader loads an opaque document from an external source, typically a
// YAML/JSON rule-set or catalog export.
type Loader interface {
	Load(context.Context) (io.Reader, error)
	Close() error
}
