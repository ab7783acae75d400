package driven

import (
	"context"
	"io"
)

// MediaStore resolves media references to video bytes.
type MediaStore interface {
	// Open returns a reader over the media and its size. Returns
	// model.ErrNotFound for unknown references.
	Open(ctx context.Context, ref string) (io.ReadCloser, int64, error)

	// Stat returns the size of the media without opening it.
	Stat(ctx context.Context, ref string) (int64, error)
}
