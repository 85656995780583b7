package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"sync"
	"time"

	"github.com/jlaffaye/ftp"
	"go.uber.org/zap"

	"github.com/yourusername/rtu-fetch-go/internal/domain"
)

// FTPTransport implements domain.Transport over a single FTP control connection
type FTPTransport struct {
	server      domain.ServerConfig
	dialTimeout time.Duration
	opTimeout   time.Duration
	logger      *zap.Logger

	mu   sync.Mutex
	conn *ftp.ServerConn
	home string // working directory right after login
}

// NewFTPTransport creates an unconnected FTP transport.
// opTimeout bounds every read/write on the control and data connections.
func NewFTPTransport(server domain.ServerConfig, dialTimeout, opTimeout time.Duration, logger *zap.Logger) *FTPTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FTPTransport{
		server:      server,
		dialTimeout: dialTimeout,
		opTimeout:   opTimeout,
		logger:      logger,
	}
}

// NewFTPTransportFactory returns a domain.TransportFactory using the download timeouts
func NewFTPTransportFactory(config *domain.DownloadConfig, logger *zap.Logger) domain.TransportFactory {
	return func(server domain.ServerConfig) domain.Transport {
		return NewFTPTransport(server, config.DialTimeout, config.OperationTimeout, logger)
	}
}

// Connect dials the server and logs in
func (t *FTPTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn != nil {
		return nil
	}
	return t.connectLocked(ctx)
}

func (t *FTPTransport) connectLocked(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	addr := t.server.Address()
	dialer := &net.Dialer{Timeout: t.dialTimeout}
	opTimeout := t.opTimeout

	conn, err := ftp.Dial(addr,
		ftp.DialWithTimeout(t.dialTimeout),
		ftp.DialWithDialFunc(func(network, address string) (net.Conn, error) {
			c, err := dialer.Dial(network, address)
			if err != nil {
				return nil, err
			}
			return &deadlineConn{Conn: c, timeout: opTimeout}, nil
		}),
	)
	if err != nil {
		return &domain.ConnectionError{Address: addr, Err: err}
	}

	if err := conn.Login(t.server.Username, t.server.Password); err != nil {
		_ = conn.Quit()
		return &domain.ConnectionError{Address: addr, Err: fmt.Errorf("login: %w", err)}
	}

	home, err := conn.CurrentDir()
	if err != nil {
		home = "/"
	}

	t.conn = conn
	t.home = home

	t.logger.Debug("FTP connected",
		zap.String("server", t.server.Identity()),
		zap.String("addr", addr),
		zap.String("home", home))
	return nil
}

// List returns the plain file names in dir
func (t *FTPTransport) List(ctx context.Context, dir string) ([]string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := t.ensureConnLocked(ctx)
	if err != nil {
		return nil, err
	}

	// CWD tells a missing directory apart from an empty one on every server
	if err := conn.ChangeDir(dir); err != nil {
		return nil, t.classifyLocked("list", dir, err)
	}
	defer t.restoreDirLocked()

	entries, err := conn.List("")
	if err == nil {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.Type != ftp.EntryTypeFile {
				continue
			}
			names = append(names, domain.BaseName(e.Name))
		}
		return names, nil
	}
	if !isProtocolError(err) {
		return nil, t.classifyLocked("list", dir, err)
	}

	// MLSD/LIST refused: fall back to NLST
	raw, err := conn.NameList("")
	if err != nil {
		return nil, t.classifyLocked("list", dir, err)
	}
	names := make([]string, 0, len(raw))
	for _, n := range raw {
		base := domain.BaseName(n)
		if base == "." || base == ".." || base == "" {
			continue
		}
		names = append(names, base)
	}
	return names, nil
}

// Retrieve streams the remote file into w
func (t *FTPTransport) Retrieve(ctx context.Context, path string, w io.Writer) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	conn, err := t.ensureConnLocked(ctx)
	if err != nil {
		return 0, err
	}

	resp, err := conn.Retr(path)
	if err != nil {
		return 0, t.classifyLocked("retrieve", path, err)
	}

	n, copyErr := io.Copy(w, &contextReader{ctx: ctx, r: resp})
	closeErr := resp.Close()
	if copyErr != nil {
		if !errors.Is(copyErr, context.Canceled) && !errors.Is(copyErr, context.DeadlineExceeded) {
			t.dropLocked()
		}
		return n, fmt.Errorf("retrieve %s: %w", path, copyErr)
	}
	if closeErr != nil {
		return n, t.classifyLocked("retrieve", path, closeErr)
	}
	return n, nil
}

// Close ends the FTP session
func (t *FTPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.conn == nil {
		return nil
	}
	err := t.conn.Quit()
	t.conn = nil
	return err
}

// ensureConnLocked reconnects after a connection was dropped by a network error
func (t *FTPTransport) ensureConnLocked(ctx context.Context) (*ftp.ServerConn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.conn == nil {
		t.logger.Info("FTP reconnecting", zap.String("server", t.server.Identity()))
		if err := t.connectLocked(ctx); err != nil {
			return nil, err
		}
	}
	return t.conn, nil
}

func (t *FTPTransport) restoreDirLocked() {
	if t.conn == nil {
		return
	}
	if err := t.conn.ChangeDir(t.home); err != nil {
		t.logger.Debug("FTP restore working directory failed",
			zap.String("server", t.server.Identity()),
			zap.Error(err))
	}
}

// classifyLocked maps FTP replies to domain errors. 550/450 on a directory
// is "not found"; a non-protocol error leaves the connection unusable.
func (t *FTPTransport) classifyLocked(op, path string, err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		if op == "list" && isNotFoundCode(protoErr.Code) {
			return fmt.Errorf("%s %s: %w", op, path, domain.ErrDirectoryNotFound)
		}
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	t.dropLocked()
	return fmt.Errorf("%s %s: %w", op, path, err)
}

func (t *FTPTransport) dropLocked() {
	if t.conn == nil {
		return
	}
	_ = t.conn.Quit()
	t.conn = nil
}

func isNotFoundCode(code int) bool {
	return code == ftp.StatusFileUnavailable || code == ftp.StatusFileActionIgnored
}

func isProtocolError(err error) bool {
	var protoErr *textproto.Error
	return errors.As(err, &protoErr)
}

// deadlineConn pushes the I/O deadline forward on every read and write, so a
// stalled server fails the current operation instead of blocking forever.
type deadlineConn struct {
	net.Conn
	timeout time.Duration
}

func (c *deadlineConn) Read(b []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetReadDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Read(b)
}

func (c *deadlineConn) Write(b []byte) (int, error) {
	if c.timeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	return c.Conn.Write(b)
}

// contextReader stops a transfer once ctx is done
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}
