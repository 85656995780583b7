package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/rtu-fetch-go/internal/domain"
	"github.com/yourusername/rtu-fetch-go/internal/infrastructure"
)

// fakeTransport serves a fixed remote tree
type fakeTransport struct {
	mu         sync.Mutex
	dirs       map[string][]string
	listErrs   map[string]error
	files      map[string]string
	fileErrs   map[string]error
	connectErr error
	connects   int
	lists      int
	retrieved  []string
	gate       func(path string) // runs before each retrieve
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		dirs:     make(map[string][]string),
		listErrs: make(map[string]error),
		files:    make(map[string]string),
		fileErrs: make(map[string]error),
	}
}

// addFile places name in dir with content
func (f *fakeTransport) addFile(dir, name, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dirs[dir] = append(f.dirs[dir], name)
	f.files[domain.RemoteFilePath(dir, name)] = content
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeTransport) List(ctx context.Context, dir string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	if err := f.listErrs[dir]; err != nil {
		return nil, err
	}
	names, ok := f.dirs[dir]
	if !ok {
		return nil, fmt.Errorf("list %s: %w", dir, domain.ErrDirectoryNotFound)
	}
	return append([]string(nil), names...), nil
}

func (f *fakeTransport) Retrieve(ctx context.Context, path string, w io.Writer) (int64, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		gate(path)
	}

	f.mu.Lock()
	f.retrieved = append(f.retrieved, path)
	err := f.fileErrs[path]
	data, ok := f.files[path]
	f.mu.Unlock()

	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, errors.New("550 file not found")
	}
	n, err := io.WriteString(w, data)
	return int64(n), err
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) retrievedPaths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.retrieved...)
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects
}

func (f *fakeTransport) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lists
}

// eventLog records emitted events
type eventLog struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
}

func (l *eventLog) emit(ev domain.ProgressEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []domain.ProgressEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.ProgressEvent(nil), l.events...)
}

func (l *eventLog) ofType(t domain.EventType) []domain.ProgressEvent {
	var out []domain.ProgressEvent
	for _, ev := range l.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func testServer() domain.ServerConfig {
	return domain.ServerConfig{
		ID:             "north",
		Host:           "ftp.example.org",
		Port:           21,
		Username:       "rtu",
		Password:       "secret",
		RemoteBasePath: "/data",
		StateLabel:     "Kerala",
		LocalBasePath:  "/out",
		Stations:       []string{"A1", "A2"},
	}
}

func testDay() time.Time {
	return time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC)
}

func newTestSession(t *testing.T, server domain.ServerConfig, dates domain.DateRange, transport domain.Transport, fs afero.Fs) (*Session, *eventLog) {
	t.Helper()
	events := &eventLog{}
	engine := infrastructure.NewTransferEngine(fs, nil)
	session := NewSession("session-1", server, dates, transport, engine, events.emit, SessionOptions{
		ConnectRetries: 2,
		RetryDelay:     time.Millisecond,
	})
	return session, events
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session did not finish, state %s", s.State())
	}
}

// localFiles lists every regular file under root, sorted
func localFiles(t *testing.T, fs afero.Fs, root string) []string {
	t.Helper()
	var files []string
	err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	require.NoError(t, err)
	sort.Strings(files)
	return files
}
