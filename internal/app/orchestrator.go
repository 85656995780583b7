package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/yourusername/rtu-fetch-go/internal/domain"
	"github.com/yourusername/rtu-fetch-go/internal/infrastructure"
	"github.com/yourusername/rtu-fetch-go/pkg/logger"
)

// ErrNotRunning is returned when sessions are requested before Start or after Stop
var ErrNotRunning = errors.New("orchestrator not running")

// ServerStatus is a server configuration with the state of its latest session
type ServerStatus struct {
	Server    domain.ServerConfig `json:"server"`
	State     domain.SessionState `json:"state"`
	SessionID string              `json:"session_id,omitempty"`
	Trigger   domain.Trigger      `json:"trigger,omitempty"`
	Range     *domain.DateRange   `json:"range,omitempty"`
	Stats     *SessionStats       `json:"stats,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// RemotePreview is the listing of the directory a session would use for a date
type RemotePreview struct {
	ServerID string              `json:"server_id"`
	Date     string              `json:"date"`
	Dir      string              `json:"dir"`
	Files    []string            `json:"files"`
	Matches  map[string][]string `json:"matches"` // station id -> matching files
}

// Orchestrator owns one session slot per configured server, runs sessions
// concurrently and aggregates their progress events.
type Orchestrator struct {
	download     domain.DownloadConfig
	newTransport domain.TransportFactory
	engine       *infrastructure.TransferEngine
	repo         domain.RunRepository
	notifier     *infrastructure.NotificationService
	multiLogger  *logger.MultiLogger
	logger       *zap.Logger
	now          func() time.Time

	lifeMu sync.Mutex // serializes Start and Stop

	mu       sync.RWMutex
	servers  []domain.ServerConfig
	sessions map[string]*Session // server id -> latest session
	running  bool
	ctx      context.Context
	cancel   context.CancelFunc

	runsMu sync.Mutex
	runs   map[string]*domain.Run // session id -> live run record

	events   chan domain.ProgressEvent
	stopChan chan struct{}
	wg       sync.WaitGroup

	subsMu  sync.Mutex
	subs    map[int]chan domain.ProgressEvent
	nextSub int
}

// NewOrchestrator creates a new orchestrator for the configured servers
func NewOrchestrator(
	config *domain.Config,
	newTransport domain.TransportFactory,
	engine *infrastructure.TransferEngine,
	repo domain.RunRepository,
	notifier *infrastructure.NotificationService,
	multiLogger *logger.MultiLogger,
	log *zap.Logger,
) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	buffer := config.Download.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}

	servers := make([]domain.ServerConfig, len(config.Servers))
	for i, srv := range config.Servers {
		servers[i] = withDefaults(srv, config.Download)
	}

	return &Orchestrator{
		download:     config.Download,
		newTransport: newTransport,
		engine:       engine,
		repo:         repo,
		notifier:     notifier,
		multiLogger:  multiLogger,
		logger:       log,
		now:          time.Now,
		servers:      servers,
		sessions:     make(map[string]*Session),
		runs:         make(map[string]*domain.Run),
		events:       make(chan domain.ProgressEvent, buffer),
		subs:         make(map[int]chan domain.ProgressEvent),
	}
}

// withDefaults fills the fields a server may inherit from the download section
func withDefaults(server domain.ServerConfig, download domain.DownloadConfig) domain.ServerConfig {
	if server.ID == "" {
		server.ID = server.Identity()
	}
	if server.LocalBasePath == "" {
		server.LocalBasePath = download.BaseDir
	}
	server.Stations = append([]string(nil), server.Stations...)
	return server
}

// Start starts the event dispatcher. Sessions started later stop when ctx
// ends. A stopped orchestrator may be started again.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()

	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.stopChan = make(chan struct{})
	stop := o.stopChan
	o.mu.Unlock()

	if o.repo != nil {
		n, err := o.repo.MarkInterrupted()
		if err != nil {
			o.logAppError("Failed to close interrupted runs", zap.Error(err))
		} else if n > 0 {
			o.logger.Warn("Marked interrupted runs as failed", zap.Int64("count", n))
		}
	}

	o.logSessionEvent("orchestrator_started", zap.Int("servers", len(o.Servers())))

	o.wg.Add(1)
	go o.dispatch(stop)
	return nil
}

// Stop cancels live sessions, waits for them to finish and stops the dispatcher
func (o *Orchestrator) Stop() error {
	o.lifeMu.Lock()
	defer o.lifeMu.Unlock()

	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return ErrNotRunning
	}
	o.running = false
	o.cancel()
	stop := o.stopChan
	live := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		live = append(live, s)
	}
	o.mu.Unlock()

	for _, s := range live {
		if s.State() == domain.StateIdle {
			continue
		}
		<-s.Done()
	}

	close(stop)
	o.wg.Wait()

	o.subsMu.Lock()
	for id, ch := range o.subs {
		close(ch)
		delete(o.subs, id)
	}
	o.subsMu.Unlock()

	o.logSessionEvent("orchestrator_stopped")
	return nil
}

// IsRunning returns whether the orchestrator is running
func (o *Orchestrator) IsRunning() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.running
}

// StartOne starts a session for serverID over dates
func (o *Orchestrator) StartOne(serverID string, dates domain.DateRange, trigger domain.Trigger) (*Session, error) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil, ErrNotRunning
	}
	server, ok := o.findServerLocked(serverID)
	if !ok {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrServerNotFound, serverID)
	}
	if prev, ok := o.sessions[serverID]; ok && prev.State().IsActive() {
		o.mu.Unlock()
		return nil, fmt.Errorf("%w: %s is %s", domain.ErrSessionActive, serverID, prev.State())
	}

	id := domain.NewRunID()
	session := NewSession(id, server, dates, o.newTransport(server), o.engine, o.publish, SessionOptions{
		ConnectRetries: o.download.ConnectRetries,
		RetryDelay:     o.download.RetryDelay,
		Trigger:        trigger,
		Logger:         o.logger,
	})
	stations, err := session.Validate()
	if err != nil {
		o.mu.Unlock()
		return nil, err
	}

	prev := o.sessions[serverID]
	o.sessions[serverID] = session
	o.mu.Unlock()

	run := domain.NewRun(id, server, stations, dates, trigger)
	if o.repo != nil {
		if err := o.repo.Create(run); err != nil {
			o.logAppError("Failed to record run", zap.String("session", id), zap.Error(err))
		}
	}
	o.runsMu.Lock()
	o.runs[id] = run
	o.runsMu.Unlock()

	// Stop may have run while the record was written. Starting under mu
	// means Stop either sees the session live and waits for it, or the
	// start is refused here.
	o.mu.Lock()
	err = ErrNotRunning
	if o.running {
		err = fmt.Errorf("%w: %s", domain.ErrSessionActive, serverID)
		if o.sessions[serverID] == session {
			err = session.Start(o.ctx)
		}
	}
	if err != nil {
		if o.sessions[serverID] == session {
			if prev != nil {
				o.sessions[serverID] = prev
			} else {
				delete(o.sessions, serverID)
			}
		}
		o.mu.Unlock()
		o.abandonRun(run, err)
		return nil, err
	}
	o.mu.Unlock()

	o.logSessionEvent("session_started",
		zap.String("session", id),
		zap.String("server", serverID),
		zap.String("range", dates.String()),
		zap.Strings("stations", stations.IDs()),
		zap.String("trigger", string(trigger)))

	return session, nil
}

// abandonRun closes the record of a session that never started
func (o *Orchestrator) abandonRun(run *domain.Run, cause error) {
	o.runsMu.Lock()
	delete(o.runs, run.ID)
	o.runsMu.Unlock()

	if o.repo == nil {
		return
	}
	run.MarkFinished(domain.StateFailed, "not started: "+cause.Error())
	if err := o.repo.Update(run); err != nil {
		o.logAppError("Failed to update run", zap.String("session", run.ID), zap.Error(err))
	}
}

// StartAll starts a session over dates for every configured server
func (o *Orchestrator) StartAll(dates domain.DateRange, trigger domain.Trigger) ([]*Session, error) {
	var started []*Session
	var result *multierror.Error

	for _, server := range o.Servers() {
		session, err := o.StartOne(server.Server.ID, dates, trigger)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", server.Server.ID, err))
			continue
		}
		started = append(started, session)
	}
	return started, result.ErrorOrNil()
}

// RunAllNow starts yesterday's download for every server with stations.
// auto_midnight does not filter servers here; it only turns the daily
// trigger on.
func (o *Orchestrator) RunAllNow() ([]*Session, error) {
	dates := domain.Yesterday(o.now())

	var started []*Session
	var result *multierror.Error
	for _, server := range o.Servers() {
		if len(server.Server.Stations) == 0 {
			continue
		}
		session, err := o.StartOne(server.Server.ID, dates, domain.TriggerScheduled)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("%s: %w", server.Server.ID, err))
			continue
		}
		started = append(started, session)
	}

	o.logSessionEvent("run_all_now",
		zap.String("range", dates.String()),
		zap.Int("started", len(started)))
	return started, result.ErrorOrNil()
}

// Pause pauses the session of serverID
func (o *Orchestrator) Pause(serverID string) error {
	session, err := o.session(serverID)
	if err != nil {
		return err
	}
	return session.Pause()
}

// Resume resumes the session of serverID
func (o *Orchestrator) Resume(serverID string) error {
	session, err := o.session(serverID)
	if err != nil {
		return err
	}
	return session.Resume()
}

// Cancel cancels the session of serverID
func (o *Orchestrator) Cancel(serverID string) error {
	session, err := o.session(serverID)
	if err != nil {
		return err
	}
	return session.Cancel()
}

// Session returns the latest session of serverID, nil if none ran yet
func (o *Orchestrator) Session(serverID string) (*Session, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if _, ok := o.findServerLocked(serverID); !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrServerNotFound, serverID)
	}
	return o.sessions[serverID], nil
}

func (o *Orchestrator) session(serverID string) (*Session, error) {
	session, err := o.Session(serverID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("%w: %s has no session", domain.ErrInvalidTransition, serverID)
	}
	return session, nil
}

// Status returns a server with the state of its latest session
func (o *Orchestrator) Status(serverID string) (*ServerStatus, error) {
	o.mu.RLock()
	server, ok := o.findServerLocked(serverID)
	session := o.sessions[serverID]
	o.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrServerNotFound, serverID)
	}
	status := statusOf(server, session)
	return &status, nil
}

// Servers returns every configured server with its live state, in configured order
func (o *Orchestrator) Servers() []ServerStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()

	out := make([]ServerStatus, 0, len(o.servers))
	for _, server := range o.servers {
		out = append(out, statusOf(server, o.sessions[server.ID]))
	}
	return out
}

func statusOf(server domain.ServerConfig, session *Session) ServerStatus {
	server.Stations = append([]string(nil), server.Stations...)
	status := ServerStatus{Server: server, State: domain.StateIdle}
	if session == nil {
		return status
	}
	dates := session.DateRange()
	stats := session.Stats()
	status.State = session.State()
	status.SessionID = session.ID()
	status.Trigger = session.Trigger()
	status.Range = &dates
	status.Stats = &stats
	if err := session.Err(); err != nil {
		status.Error = err.Error()
	}
	return status
}

// UpdateServer adds or replaces a server configuration. A running session
// keeps the configuration it started with.
func (o *Orchestrator) UpdateServer(server domain.ServerConfig) (domain.ServerConfig, error) {
	if err := server.Validate(); err != nil {
		return domain.ServerConfig{}, err
	}
	if _, err := domain.NewStationSet(server.Stations); err != nil {
		return domain.ServerConfig{}, err
	}
	server = withDefaults(server, o.download)

	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range o.servers {
		if o.servers[i].ID == server.ID {
			o.servers[i] = server
			return server, nil
		}
	}
	o.servers = append(o.servers, server)
	return server, nil
}

// ServerConfigs returns a copy of the configured servers
func (o *Orchestrator) ServerConfigs() []domain.ServerConfig {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]domain.ServerConfig, len(o.servers))
	for i, server := range o.servers {
		server.Stations = append([]string(nil), server.Stations...)
		out[i] = server
	}
	return out
}

// TestConnection connects to serverID and logs in
func (o *Orchestrator) TestConnection(ctx context.Context, serverID string) error {
	server, err := o.serverConfig(serverID)
	if err != nil {
		return err
	}
	if err := server.Validate(); err != nil {
		return err
	}

	transport := o.newTransport(server)
	defer transport.Close()
	return transport.Connect(ctx)
}

// PreviewRemote lists the first existing candidate directory of serverID
// for date, the same one a session would use.
func (o *Orchestrator) PreviewRemote(ctx context.Context, serverID string, date time.Time) (*RemotePreview, error) {
	server, err := o.serverConfig(serverID)
	if err != nil {
		return nil, err
	}
	if err := server.Validate(); err != nil {
		return nil, err
	}

	transport := o.newTransport(server)
	defer transport.Close()
	if err := transport.Connect(ctx); err != nil {
		return nil, err
	}

	for _, dir := range domain.CandidatePaths(server.RemoteBasePath, date) {
		names, err := transport.List(ctx, dir)
		if errors.Is(err, domain.ErrDirectoryNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		preview := &RemotePreview{
			ServerID: server.ID,
			Date:     date.Format("2006-01-02"),
			Dir:      dir,
			Files:    names,
			Matches:  make(map[string][]string),
		}
		for _, station := range server.Stations {
			for _, name := range names {
				if domain.MatchesStation(station, name) {
					preview.Matches[station] = append(preview.Matches[station], name)
				}
			}
		}
		return preview, nil
	}
	return nil, fmt.Errorf("%s on %s: %w", server.ID, date.Format("2006-01-02"), domain.ErrDirectoryNotFound)
}

func (o *Orchestrator) serverConfig(serverID string) (domain.ServerConfig, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	server, ok := o.findServerLocked(serverID)
	if !ok {
		return domain.ServerConfig{}, fmt.Errorf("%w: %s", domain.ErrServerNotFound, serverID)
	}
	return server, nil
}

func (o *Orchestrator) findServerLocked(serverID string) (domain.ServerConfig, bool) {
	for _, server := range o.servers {
		if server.ID == serverID {
			return server, true
		}
	}
	return domain.ServerConfig{}, false
}

// Subscribe returns a channel of progress events from all sessions. Events
// are dropped for a subscriber whose buffer is full.
func (o *Orchestrator) Subscribe(buffer int) (<-chan domain.ProgressEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan domain.ProgressEvent, buffer)

	o.subsMu.Lock()
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch
	o.subsMu.Unlock()

	unsubscribe := func() {
		o.subsMu.Lock()
		defer o.subsMu.Unlock()
		if c, ok := o.subs[id]; ok {
			close(c)
			delete(o.subs, id)
		}
	}
	return ch, unsubscribe
}

// publish is the event sink of every session
func (o *Orchestrator) publish(ev domain.ProgressEvent) {
	o.events <- ev
}

// dispatch drains the aggregated event channel until stop closes
func (o *Orchestrator) dispatch(stop <-chan struct{}) {
	defer o.wg.Done()

	for {
		select {
		case ev := <-o.events:
			o.handle(ev)
		case <-stop:
			for {
				select {
				case ev := <-o.events:
					o.handle(ev)
				default:
					return
				}
			}
		}
	}
}

func (o *Orchestrator) handle(ev domain.ProgressEvent) {
	o.logEvent(ev)
	o.record(ev)
	o.broadcast(ev)
}

func (o *Orchestrator) record(ev domain.ProgressEvent) {
	o.runsMu.Lock()
	run, ok := o.runs[ev.SessionID]
	if ok && ev.IsTerminal() {
		delete(o.runs, ev.SessionID)
	}
	o.runsMu.Unlock()
	if !ok {
		return
	}

	if ev.Type == domain.EventStateChanged && ev.State == domain.StateRunning {
		run.MarkRunning()
	} else {
		run.Apply(ev)
	}

	if ev.Type != domain.EventDirectoryProbed && o.repo != nil {
		if err := o.repo.Update(run); err != nil {
			o.logAppError("Failed to update run", zap.String("session", run.ID), zap.Error(err))
		}
	}

	if ev.IsTerminal() {
		if run.State == domain.StateFailed {
			o.notifier.NotifySessionFailed(run)
		} else {
			o.notifier.NotifySessionFinished(run)
		}
	}
}

func (o *Orchestrator) broadcast(ev domain.ProgressEvent) {
	o.subsMu.Lock()
	defer o.subsMu.Unlock()
	for _, ch := range o.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (o *Orchestrator) logEvent(ev domain.ProgressEvent) {
	fields := []zap.Field{
		zap.String("session", ev.SessionID),
		zap.String("server", ev.ServerID),
	}
	if ev.Date != "" {
		fields = append(fields, zap.String("date", ev.Date))
	}
	if ev.Dir != "" {
		fields = append(fields, zap.String("dir", ev.Dir))
	}
	if ev.StationID != "" {
		fields = append(fields, zap.String("station", ev.StationID), zap.String("file", ev.FileName))
	}
	if ev.LocalPath != "" {
		fields = append(fields, zap.String("local_path", ev.LocalPath))
	}

	switch ev.Type {
	case domain.EventDirectoryProbed:
		fields = append(fields, zap.Bool("found", ev.Found))
	case domain.EventFileDownloaded:
		fields = append(fields, zap.Int64("bytes", ev.Bytes))
	case domain.EventDateCompleted:
		fields = append(fields, zap.Int("files", ev.Files))
	case domain.EventStateChanged, domain.EventSessionCompleted, domain.EventSessionError:
		fields = append(fields, zap.String("state", string(ev.State)))
	}
	if ev.Error != "" {
		fields = append(fields, zap.String("error", ev.Error))
	}

	o.logger.Debug("Session event", append(fields, zap.String("event", string(ev.Type)))...)

	if o.multiLogger == nil {
		return
	}
	switch ev.Type {
	case domain.EventFileFailed, domain.EventDateFailed:
		o.multiLogger.Session().Warn(string(ev.Type), fields...)
	case domain.EventSessionError:
		o.multiLogger.Session().Error(string(ev.Type), fields...)
		o.multiLogger.LogAppError("Session failed", fields...)
	default:
		o.multiLogger.LogSessionEvent(string(ev.Type), fields...)
	}
}

func (o *Orchestrator) logSessionEvent(event string, fields ...zap.Field) {
	if o.multiLogger != nil {
		o.multiLogger.LogSessionEvent(event, fields...)
	}
	o.logger.Info(event, fields...)
}

func (o *Orchestrator) logAppError(msg string, fields ...zap.Field) {
	if o.multiLogger != nil {
		o.multiLogger.LogAppError(msg, fields...)
	}
	o.logger.Error(msg, fields...)
}
