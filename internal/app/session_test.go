package app

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/rtu-fetch-go/internal/domain"
	"github.com/yourusername/rtu-fetch-go/internal/infrastructure"
)

func TestSession_FallsBackToSecondPattern(t *testing.T) {
	transport := newFakeTransport()
	dir := "/data/2024/12/15122024/"
	transport.addFile(dir, "A1_2412151200.txt", "a1")
	transport.addFile(dir, "A2_2412151200.TXT", "a2")
	transport.addFile(dir, "B1_2412151200.txt", "b1")
	transport.addFile(dir, "A1_2412151200.doc", "doc")

	fs := afero.NewMemMapFs()
	session, events := newTestSession(t, testServer(), domain.SingleDay(testDay()), transport, fs)

	require.NoError(t, session.Start(context.Background()))
	waitDone(t, session)

	assert.Equal(t, domain.StateCompleted, session.State())

	probes := events.ofType(domain.EventDirectoryProbed)
	require.Len(t, probes, 2)
	assert.Equal(t, "/data/2024/12/15/", probes[0].Dir)
	assert.False(t, probes[0].Found)
	assert.Equal(t, dir, probes[1].Dir)
	assert.True(t, probes[1].Found)

	assert.Equal(t, []string{
		filepath.Join("/out", "Kerala", "A1", "2024", "12", "15", "A1_2412151200.txt"),
		filepath.Join("/out", "Kerala", "A2", "2024", "12", "15", "A2_2412151200.TXT"),
	}, localFiles(t, fs, "/out"))

	dates := events.ofType(domain.EventDateCompleted)
	require.Len(t, dates, 1)
	assert.Equal(t, "2024-12-15", dates[0].Date)
	assert.Equal(t, 2, dates[0].Files)

	stats := session.Stats()
	assert.Equal(t, 2, stats.Downloaded)
	assert.Equal(t, 1, stats.DatesDone)
}

func TestSession_MissingDirectoryIsNotAnError(t *testing.T) {
	transport := newFakeTransport()
	session, events := newTestSession(t, testServer(), domain.SingleDay(testDay()), transport, afero.NewMemMapFs())

	require.NoError(t, session.Start(context.Background()))
	waitDone(t, session)

	assert.Equal(t, domain.StateCompleted, session.State())
	assert.Len(t, events.ofType(domain.EventDirectoryProbed), 4)

	dates := events.ofType(domain.EventDateCompleted)
	require.Len(t, dates, 1)
	assert.Equal(t, 0, dates[0].Files)
	assert.Empty(t, events.ofType(domain.EventSessionError))
}

func TestSession_DatesAscendingAndListErrorContinues(t *testing.T) {
	transport := newFakeTransport()
	transport.addFile("/data/2024/12/14/", "A1_14.txt", "14")
	transport.listErrs["/data/2024/12/15/"] = errors.New("read tcp: i/o timeout")
	transport.addFile("/data/2024/12/16/", "A1_16.txt", "16")

	start := time.Date(2024, 12, 14, 6, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 16, 18, 30, 0, 0, time.UTC)
	dates, err := domain.NewDateRange(start, end)
	require.NoError(t, err)

	session, events := newTestSession(t, testServer(), dates, transport, afero.NewMemMapFs())
	require.NoError(t, session.Start(context.Background()))
	waitDone(t, session)

	assert.Equal(t, domain.StateCompleted, session.State())

	failed := events.ofType(domain.EventDateFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "2024-12-15", failed[0].Date)
	assert.Contains(t, failed[0].Error, "i/o timeout")

	var order []string
	for _, ev := range events.all() {
		if ev.Type == domain.EventDateCompleted || ev.Type == domain.EventDateFailed {
			order = append(order, ev.Date)
		}
	}
	assert.Equal(t, []string{"2024-12-14", "2024-12-15", "2024-12-16"}, order)
	assert.Equal(t, []string{"/data/2024/12/14/A1_14.txt", "/data/2024/12/16/A1_16.txt"}, transport.retrievedPaths())
}

func TestSession_StationsInConfiguredOrder(t *testing.T) {
	transport := newFakeTransport()
	dir := "/data/2024/12/15/"
	transport.addFile(dir, "A1_1.txt", "a")
	transport.addFile(dir, "B1_1.txt", "b")
	transport.addFile(dir, "A1_2.txt", "a")

	server := testServer()
	server.Stations = []string{"B1", "A1"}
	session, events := newTestSession(t, server, domain.SingleDay(testDay()), transport, afero.NewMemMapFs())

	require.NoError(t, session.Start(context.Background()))
	waitDone(t, session)

	var stations []string
	for _, ev := range events.ofType(domain.EventFileDownloaded) {
		stations = append(stations, ev.StationID)
	}
	assert.Equal(t, []string{"B1", "A1", "A1"}, stations)
}

func TestSession_SkipsExistingFiles(t *testing.T) {
	transport := newFakeTransport()
	dir := "/data/2024/12/15/"
	transport.addFile(dir, "A1_x.txt", "new")
	transport.addFile(dir, "A2_x.txt", "new")

	fs := afero.NewMemMapFs()
	existing := domain.LocalFilePath("/out", "Kerala", "A1", testDay(), "A1_x.txt")
	require.NoError(t, afero.WriteFile(fs, existing, []byte("old"), 0644))

	session, events := newTestSession(t, testServer(), domain.SingleDay(testDay()), transport, fs)
	require.NoError(t, session.Start(context.Background()))
	waitDone(t, session)

	skipped := events.ofType(domain.EventFileSkippedExisting)
	require.Len(t, skipped, 1)
	assert.Equal(t, existing, skipped[0].LocalPath)
	assert.Equal(t, []string{"/data/2024/12/15/A2_x.txt"}, transport.retrievedPaths())

	data, err := afero.ReadFile(fs, existing)
	require.NoError(t, err)
	assert.Equal(t, "old", string(data))
}

func TestSession_FileFailureDoesNotFailSession(t *testing.T) {
	transport := newFakeTransport()
	dir := "/data/2024/12/15/"
	transport.addFile(dir, "A1_bad.txt", "x")
	transport.addFile(dir, "A1_good.txt", "y")
	transport.fileErrs[dir+"A1_bad.txt"] = errors.New("connection reset by peer")

	fs := afero.NewMemMapFs()
	session, events := newTestSession(t, testServer(), domain.SingleDay(testDay()), transport, fs)
	require.NoError(t, session.Start(context.Background()))
	waitDone(t, session)

	assert.Equal(t, domain.StateCompleted, session.State())
	failed := events.ofType(domain.EventFileFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "A1_bad.txt", failed[0].FileName)
	assert.Len(t, events.ofType(domain.EventFileDownloaded), 1)

	exists, err := afero.Exists(fs, domain.LocalFilePath("/out", "Kerala", "A1", testDay(), "A1_bad.txt"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestSession_InvalidInputRejectedBeforeNetwork(t *testing.T) {
	inverted := domain.DateRange{
		Start: time.Date(2024, 12, 16, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 12, 15, 0, 0, 0, 0, time.UTC),
	}
	noStations := testServer()
	noStations.Stations = nil
	noHost := testServer()
	noHost.Host = ""

	tests := []struct {
		name   string
		server domain.ServerConfig
		dates  domain.DateRange
	}{
		{"start after end", testServer(), inverted},
		{"empty station set", noStations, domain.SingleDay(testDay())},
		{"missing host", noHost, domain.SingleDay(testDay())},
		{"unset range", testServer(), domain.DateRange{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := newFakeTransport()
			session, events := newTestSession(t, tt.server, tt.dates, transport, afero.NewMemMapFs())

			err := session.Start(context.Background())
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Equal(t, domain.StateIdle, session.State())
			assert.Equal(t, 0, transport.connectCount())
			assert.Equal(t, 0, transport.listCount())
			assert.Empty(t, events.all())
		})
	}
}

func TestSession_ConnectionFailureFailsOnce(t *testing.T) {
	transport := newFakeTransport()
	transport.connectErr = &domain.ConnectionError{Address: "ftp.example.org:21", Err: errors.New("530 login incorrect")}

	session, events := newTestSession(t, testServer(), domain.SingleDay(testDay()), transport, afero.NewMemMapFs())
	require.NoError(t, session.Start(context.Background()))
	waitDone(t, session)

	assert.Equal(t, domain.StateFailed, session.State())
	assert.Equal(t, 2, transport.connectCount())
	assert.True(t, domain.IsConnectionError(session.Err()))

	errs := events.ofType(domain.EventSessionError)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error, "530")
	assert.Equal(t, 0, transport.listCount())
}

func TestSession_PlainConnectErrorIsWrapped(t *testing.T) {
	transport := newFakeTransport()
	transport.connectErr = errors.New("dial tcp: connection refused")

	session, _ := newTestSession(t, testServer(), domain.SingleDay(testDay()), transport, afero.NewMemMapFs())
	require.NoError(t, session.Start(context.Background()))
	waitDone(t, session)

	assert.True(t, domain.IsConnectionError(session.Err()))
}

func threeFileTransport() *fakeTransport {
	transport := newFakeTransport()
	dir := "/data/2024/12/15/"
	transport.addFile(dir, "A1_1.txt", "1")
	transport.addFile(dir, "A1_2.txt", "2")
	transport.addFile(dir, "A2_1.txt", "3")
	return transport
}

func TestSession_PauseResumeDownloadsSameFiles(t *testing.T) {
	baselineFs := afero.NewMemMapFs()
	baseline, _ := newTestSession(t, testServer(), domain.SingleDay(testDay()), threeFileTransport(), baselineFs)
	require.NoError(t, baseline.Start(context.Background()))
	waitDone(t, baseline)

	transport := threeFileTransport()
	started := make(chan string, 10)
	release := make(chan struct{})
	transport.gate = func(path string) {
		started <- path
		<-release
	}

	fs := afero.NewMemMapFs()
	session, events := newTestSession(t, testServer(), domain.SingleDay(testDay()), transport, fs)
	require.NoError(t, session.Start(context.Background()))

	<-started
	require.NoError(t, session.Pause())
	require.NoError(t, session.Pause(), "pause is idempotent")
	close(release)

	// the in-flight transfer completes, then the worker holds
	require.Eventually(t, func() bool {
		return len(events.ofType(domain.EventFileDownloaded)) == 1
	}, 2*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, transport.retrievedPaths(), 1)
	assert.Equal(t, domain.StatePaused, session.State())

	require.NoError(t, session.Resume())
	require.NoError(t, session.Resume(), "resume is idempotent")
	waitDone(t, session)

	assert.Equal(t, domain.StateCompleted, session.State())
	assert.Equal(t, localFiles(t, baselineFs, "/out"), localFiles(t, fs, "/out"))
	assert.Len(t, transport.retrievedPaths(), 3, "no file is fetched twice after resume")
	assert.Len(t, events.ofType(domain.EventDirectoryProbed), 1, "the date is not re-scanned")
}

func TestSession_CancelIsTerminal(t *testing.T) {
	transport := threeFileTransport()
	started := make(chan string, 10)
	release := make(chan struct{})
	transport.gate = func(path string) {
		started <- path
		<-release
	}

	session, events := newTestSession(t, testServer(), domain.SingleDay(testDay()), transport, afero.NewMemMapFs())
	require.NoError(t, session.Start(context.Background()))

	<-started
	require.NoError(t, session.Cancel())
	assert.Equal(t, domain.StateCancelling, session.State())
	require.NoError(t, session.Cancel(), "cancel is idempotent while cancelling")
	close(release)
	waitDone(t, session)

	assert.Equal(t, domain.StateCancelled, session.State())
	assert.Len(t, transport.retrievedPaths(), 1)

	all := events.all()
	last := all[len(all)-1]
	assert.Equal(t, domain.EventSessionCompleted, last.Type)
	assert.Equal(t, domain.StateCancelled, last.State)

	assert.ErrorIs(t, session.Resume(), domain.ErrInvalidTransition)
	assert.ErrorIs(t, session.Pause(), domain.ErrInvalidTransition)
	assert.ErrorIs(t, session.Start(context.Background()), domain.ErrInvalidTransition)
	assert.ErrorIs(t, session.Cancel(), domain.ErrInvalidTransition)
}

func TestSession_CancelWinsOverPause(t *testing.T) {
	transport := threeFileTransport()
	started := make(chan string, 10)
	release := make(chan struct{})
	transport.gate = func(path string) {
		started <- path
		<-release
	}

	session, _ := newTestSession(t, testServer(), domain.SingleDay(testDay()), transport, afero.NewMemMapFs())
	require.NoError(t, session.Start(context.Background()))

	<-started
	require.NoError(t, session.Pause())
	close(release)
	require.NoError(t, session.Cancel())
	assert.ErrorIs(t, session.Resume(), domain.ErrInvalidTransition)
	waitDone(t, session)

	assert.Equal(t, domain.StateCancelled, session.State())
	assert.Len(t, transport.retrievedPaths(), 1)
}

func TestSession_PausedAfterLastFileWaitsForResume(t *testing.T) {
	transport := newFakeTransport()
	transport.addFile("/data/2024/12/15/", "A1_only.txt", "1")
	started := make(chan string, 1)
	release := make(chan struct{})
	transport.gate = func(path string) {
		started <- path
		<-release
	}

	session, _ := newTestSession(t, testServer(), domain.SingleDay(testDay()), transport, afero.NewMemMapFs())
	require.NoError(t, session.Start(context.Background()))

	<-started
	require.NoError(t, session.Pause())
	close(release)

	select {
	case <-session.Done():
		t.Fatal("paused session finished without resume")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, session.Resume())
	waitDone(t, session)
	assert.Equal(t, domain.StateCompleted, session.State())
}

func TestSession_ContextCancelEndsCancelled(t *testing.T) {
	transport := threeFileTransport()
	started := make(chan string, 10)
	release := make(chan struct{})
	transport.gate = func(path string) {
		started <- path
		<-release
	}

	ctx, cancel := context.WithCancel(context.Background())
	session, events := newTestSession(t, testServer(), domain.SingleDay(testDay()), transport, afero.NewMemMapFs())
	require.NoError(t, session.Start(ctx))

	<-started
	cancel()
	close(release)
	waitDone(t, session)

	assert.Equal(t, domain.StateCancelled, session.State())

	var states []domain.SessionState
	for _, ev := range events.ofType(domain.EventStateChanged) {
		states = append(states, ev.State)
	}
	assert.Equal(t, []domain.SessionState{domain.StateRunning, domain.StateCancelling}, states)
}

func TestSession_BlockedSinkDoesNotStallWorker(t *testing.T) {
	release := make(chan struct{})
	events := &eventLog{}
	sink := func(ev domain.ProgressEvent) {
		<-release
		events.emit(ev)
	}

	engine := infrastructure.NewTransferEngine(afero.NewMemMapFs(), nil)
	session := NewSession("session-1", testServer(), domain.SingleDay(testDay()), threeFileTransport(), engine, sink,
		SessionOptions{ConnectRetries: 1})
	require.NoError(t, session.Start(context.Background()))

	require.Eventually(t, func() bool {
		return session.State() == domain.StateCompleted
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, 3, session.Stats().Downloaded)
	assert.ErrorIs(t, session.Pause(), domain.ErrInvalidTransition)

	select {
	case <-session.Done():
		t.Fatal("done before the sink received the events")
	default:
	}

	close(release)
	waitDone(t, session)

	all := events.all()
	require.NotEmpty(t, all)
	assert.Equal(t, domain.EventStateChanged, all[0].Type)
	assert.Equal(t, domain.StateRunning, all[0].State)
	assert.True(t, all[len(all)-1].IsTerminal())
	assert.Len(t, events.ofType(domain.EventFileDownloaded), 3)
}

func TestSession_ControlBeforeStart(t *testing.T) {
	session, _ := newTestSession(t, testServer(), domain.SingleDay(testDay()), newFakeTransport(), afero.NewMemMapFs())

	assert.ErrorIs(t, session.Pause(), domain.ErrInvalidTransition)
	assert.ErrorIs(t, session.Resume(), domain.ErrInvalidTransition)
	assert.ErrorIs(t, session.Cancel(), domain.ErrInvalidTransition)
	assert.Equal(t, domain.StateIdle, session.State())
}

func TestSession_EventsAreStamped(t *testing.T) {
	transport := newFakeTransport()
	transport.addFile("/data/2024/12/15/", "A1_x.txt", "x")

	session, events := newTestSession(t, testServer(), domain.SingleDay(testDay()), transport, afero.NewMemMapFs())
	require.NoError(t, session.Start(context.Background()))
	waitDone(t, session)

	all := events.all()
	require.NotEmpty(t, all)
	for _, ev := range all {
		assert.Equal(t, "session-1", ev.SessionID)
		assert.Equal(t, "north", ev.ServerID)
		assert.False(t, ev.Time.IsZero())
	}
	assert.True(t, all[len(all)-1].IsTerminal())
	for _, ev := range all[:len(all)-1] {
		assert.False(t, ev.IsTerminal())
	}
}

func TestNewSession_CopiesServer(t *testing.T) {
	server := testServer()
	session, _ := newTestSession(t, server, domain.SingleDay(testDay()), newFakeTransport(), afero.NewMemMapFs())

	server.Stations[0] = "ZZ"
	assert.Equal(t, []string{"A1", "A2"}, session.Server().Stations)
}
