package tracker

import (
	"context"
	"io"
	"time"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// PageFetcher renders a URL and returns its content surface.
type PageFetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (Page, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// RecordSink receives every appended check record. Sinks are best-effort
// mirrors of the log; the log remains the source of truth.
type RecordSink interface {
	Record(ctx context.Context, rec CheckRecord) error
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
