package infrastructure

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/yourusername/rtu-fetch-go/internal/domain"
)

// FetchOutcome is the result kind of a single file fetch
type FetchOutcome string

const (
	OutcomeFetched         FetchOutcome = "fetched"
	OutcomeSkippedExisting FetchOutcome = "skipped_existing"
	OutcomeFailed          FetchOutcome = "failed"
)

// FetchResult describes one Fetch call
type FetchResult struct {
	Outcome FetchOutcome
	Bytes   int64
	Err     error
}

// TransferEngine retrieves remote files into the local tree. A file present
// at its final path is always complete: data lands in a temporary file in the
// same directory and is renamed into place only after a successful transfer.
type TransferEngine struct {
	fs     afero.Fs
	logger *zap.Logger
}

// NewTransferEngine creates a transfer engine on fs (the OS filesystem when nil)
func NewTransferEngine(fs afero.Fs, logger *zap.Logger) *TransferEngine {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransferEngine{fs: fs, logger: logger}
}

// Fetch retrieves remotePath to localPath unless localPath already exists
func (e *TransferEngine) Fetch(ctx context.Context, transport domain.Transport, remotePath, localPath string) FetchResult {
	exists, err := afero.Exists(e.fs, localPath)
	if err != nil {
		return failed(fmt.Errorf("stat %s: %w", localPath, err))
	}
	if exists {
		return FetchResult{Outcome: OutcomeSkippedExisting}
	}

	dir := filepath.Dir(localPath)
	if err := e.fs.MkdirAll(dir, 0755); err != nil {
		return failed(fmt.Errorf("create directory %s: %w", dir, err))
	}

	tmp, err := afero.TempFile(e.fs, dir, "."+filepath.Base(localPath)+".*.part")
	if err != nil {
		return failed(fmt.Errorf("create temp file in %s: %w", dir, err))
	}
	tmpName := tmp.Name()

	n, err := transport.Retrieve(ctx, remotePath, tmp)
	if closeErr := tmp.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close %s: %w", tmpName, closeErr)
	}
	if err != nil {
		e.discard(tmpName)
		return FetchResult{Outcome: OutcomeFailed, Bytes: n, Err: err}
	}

	if err := e.fs.Rename(tmpName, localPath); err != nil {
		e.discard(tmpName)
		return failed(fmt.Errorf("place %s: %w", localPath, err))
	}

	return FetchResult{Outcome: OutcomeFetched, Bytes: n}
}

func (e *TransferEngine) discard(name string) {
	if err := e.fs.Remove(name); err != nil {
		e.logger.Warn("Failed to remove partial file",
			zap.String("path", name),
			zap.Error(err))
	}
}

func failed(err error) FetchResult {
	return FetchResult{Outcome: OutcomeFailed, Err: err}
}
