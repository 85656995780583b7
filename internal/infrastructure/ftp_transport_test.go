package infrastructure

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourusername/rtu-fetch-go/internal/domain"
)

func TestFTPTransport_ClassifyNotFound(t *testing.T) {
	tr := NewFTPTransport(domain.ServerConfig{Host: "ftp.local"}, time.Second, time.Second, nil)

	for _, code := range []int{450, 550} {
		err := tr.classifyLocked("list", "/data/2024/12/15/", &textproto.Error{Code: code, Msg: "No such file or directory"})
		assert.ErrorIs(t, err, domain.ErrDirectoryNotFound, "code %d", code)
	}
}

func TestFTPTransport_ClassifyOtherReplies(t *testing.T) {
	tr := NewFTPTransport(domain.ServerConfig{Host: "ftp.local"}, time.Second, time.Second, nil)

	err := tr.classifyLocked("list", "/data", &textproto.Error{Code: 421, Msg: "Service not available"})
	assert.False(t, errors.Is(err, domain.ErrDirectoryNotFound))

	// a missing file on RETR is a per-file failure, not a missing directory
	err = tr.classifyLocked("retrieve", "/data/a.txt", &textproto.Error{Code: 550, Msg: "No such file"})
	assert.False(t, errors.Is(err, domain.ErrDirectoryNotFound))

	err = tr.classifyLocked("list", "/data", errors.New("read tcp: i/o timeout"))
	assert.False(t, errors.Is(err, domain.ErrDirectoryNotFound))
	assert.Contains(t, err.Error(), "i/o timeout")
}

func TestFTPTransport_ConnectFailureIsConnectionError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	tr := NewFTPTransport(domain.ServerConfig{Host: "127.0.0.1", Port: addr.Port}, time.Second, time.Second, nil)
	err = tr.Connect(context.Background())

	require.Error(t, err)
	assert.True(t, domain.IsConnectionError(err))
}

func TestFTPTransport_CancelledContext(t *testing.T) {
	tr := NewFTPTransport(domain.ServerConfig{Host: "ftp.local"}, time.Second, time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := tr.List(ctx, "/data")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, tr.Close())
}

func TestDeadlineConn_TimesOutStalledRead(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	conn := &deadlineConn{Conn: client, timeout: 50 * time.Millisecond}
	buf := make([]byte, 8)

	_, err := conn.Read(buf)
	require.Error(t, err)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr))
	assert.True(t, netErr.Timeout())
}

func TestContextReader(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &contextReader{ctx: ctx, r: strings.NewReader("payload")}

	var out bytes.Buffer
	buf := make([]byte, 3)
	n, err := r.Read(buf)
	require.NoError(t, err)
	out.Write(buf[:n])

	cancel()
	_, err = r.Read(buf)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "pay", out.String())
}
