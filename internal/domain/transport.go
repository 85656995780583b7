package domain

import (
	"context"
	"io"
)

// Transport is the remote listing/retrieval capability a session drives.
// Implementations serialize their own calls; a session never issues two
// operations at once on the same Transport.
type Transport interface {
	// Connect opens the connection and authenticates
	Connect(ctx context.Context) error

	// List returns the file names in dir. A missing directory yields an
	// error wrapping ErrDirectoryNotFound; anything else is a transport error.
	List(ctx context.Context, dir string) ([]string, error)

	// Retrieve streams the remote file at path into w
	Retrieve(ctx context.Context, path string, w io.Writer) (int64, error)

	// Close ends the connection
	Close() error
}

// TransportFactory creates a fresh, unconnected Transport for a server
type TransportFactory func(server ServerConfig) Transport
