package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/rtu-fetch-go/internal/domain"
	"github.com/yourusername/rtu-fetch-go/internal/infrastructure"
)

// SessionStats counts the outcomes of one session
type SessionStats struct {
	Dates       int    `json:"dates"`
	DatesDone   int    `json:"dates_done"`
	DatesFailed int    `json:"dates_failed"`
	Downloaded  int    `json:"downloaded"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
	Bytes       int64  `json:"bytes"`
	CurrentDate string `json:"current_date,omitempty"`
}

// SessionOptions tunes connection handling of a session
type SessionOptions struct {
	ConnectRetries int
	RetryDelay     time.Duration
	Trigger        domain.Trigger
	Logger         *zap.Logger
}

// Session downloads the station files of one server over a date range.
// It owns its state; callers only observe it and send control requests.
type Session struct {
	id        string
	server    domain.ServerConfig
	dates     domain.DateRange
	transport domain.Transport
	engine    *infrastructure.TransferEngine
	emit      func(domain.ProgressEvent)
	opts      SessionOptions
	logger    *zap.Logger

	ctrl *control
	done chan struct{}

	mu       sync.Mutex
	state    domain.SessionState
	stations domain.StationSet
	stats    SessionStats
	err      error

	// events wait in queue until forward hands them to emit
	queue     []domain.ProgressEvent
	ended     bool
	wake      chan struct{}
	forwarded chan struct{}
}

// NewSession creates an idle session. server is copied; later edits to the
// caller's value do not reach the session.
func NewSession(
	id string,
	server domain.ServerConfig,
	dates domain.DateRange,
	transport domain.Transport,
	engine *infrastructure.TransferEngine,
	emit func(domain.ProgressEvent),
	opts SessionOptions,
) *Session {
	server.Stations = append([]string(nil), server.Stations...)
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Trigger == "" {
		opts.Trigger = domain.TriggerManual
	}
	return &Session{
		id:        id,
		server:    server,
		dates:     dates,
		transport: transport,
		engine:    engine,
		emit:      emit,
		opts:      opts,
		logger:    opts.Logger.With(zap.String("session", id), zap.String("server", server.Identity())),
		ctrl:      newControl(),
		done:      make(chan struct{}),
		state:     domain.StateIdle,
		wake:      make(chan struct{}, 1),
		forwarded: make(chan struct{}),
	}
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Server returns the server configuration the session runs with
func (s *Session) Server() domain.ServerConfig { return s.server }

// DateRange returns the requested range
func (s *Session) DateRange() domain.DateRange { return s.dates }

// Trigger returns what started the session
func (s *Session) Trigger() domain.Trigger { return s.opts.Trigger }

// Done is closed once the session reached a terminal state and every event,
// the terminal one last, was handed to the sink
func (s *Session) Done() <-chan struct{} { return s.done }

// State returns the current state
func (s *Session) State() domain.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns a snapshot of the counters
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Err returns the fatal error of a failed session
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Validate checks everything Start needs without touching the network
func (s *Session) Validate() (domain.StationSet, error) {
	if err := s.server.Validate(); err != nil {
		return domain.StationSet{}, err
	}
	stations, err := domain.NewStationSet(s.server.Stations)
	if err != nil {
		return domain.StationSet{}, err
	}
	if stations.IsEmpty() {
		return domain.StationSet{}, fmt.Errorf("%w: no stations configured for %s", domain.ErrInvalidInput, s.server.Identity())
	}
	if s.server.LocalBasePath == "" {
		return domain.StationSet{}, fmt.Errorf("%w: local base path is empty", domain.ErrInvalidInput)
	}
	if err := s.dates.Validate(); err != nil {
		return domain.StationSet{}, err
	}
	return stations, nil
}

// Start validates the request and launches the worker. The worker stops
// when ctx ends, as if cancelled.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != domain.StateIdle {
		return fmt.Errorf("%w: session is %s", domain.ErrInvalidTransition, s.state)
	}
	stations, err := s.Validate()
	if err != nil {
		return err
	}

	s.stations = stations
	s.stats.Dates = len(s.dates.Days())
	go s.forward()
	s.transitionLocked(domain.StateRunning)

	go s.run(ctx)
	return nil
}

// Pause stops the worker at its next checkpoint. Pausing a paused session is a no-op.
func (s *Session) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case domain.StatePaused:
		return nil
	case domain.StateRunning:
		s.ctrl.setPaused(true)
		s.transitionLocked(domain.StatePaused)
		return nil
	}
	return fmt.Errorf("%w: cannot pause a %s session", domain.ErrInvalidTransition, s.state)
}

// Resume continues a paused session. Resuming a running session is a no-op.
func (s *Session) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case domain.StateRunning:
		return nil
	case domain.StatePaused:
		s.ctrl.setPaused(false)
		s.transitionLocked(domain.StateRunning)
		return nil
	}
	return fmt.Errorf("%w: cannot resume a %s session", domain.ErrInvalidTransition, s.state)
}

// Cancel stops the session for good at its next checkpoint
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case domain.StateCancelling:
		return nil
	case domain.StateRunning, domain.StatePaused:
		s.transitionLocked(domain.StateCancelling)
		s.ctrl.cancel()
		return nil
	}
	return fmt.Errorf("%w: cannot cancel a %s session", domain.ErrInvalidTransition, s.state)
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	defer func() { <-s.forwarded }()
	defer func() {
		if err := s.transport.Close(); err != nil {
			s.logger.Debug("Transport close failed", zap.Error(err))
		}
	}()

	if err := s.connect(ctx); err != nil {
		s.finish(err)
		return
	}

	for _, day := range s.dates.Days() {
		if err := s.ctrl.checkpoint(ctx); err != nil {
			s.finish(err)
			return
		}
		if err := s.processDate(ctx, day); err != nil {
			s.finish(err)
			return
		}
	}

	// a session paused after its last file stays paused until resumed or cancelled
	s.finish(s.ctrl.checkpoint(ctx))
}

func (s *Session) connect(ctx context.Context) error {
	attempts := s.opts.ConnectRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			s.logger.Info("Retrying connection",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", attempts))
			if err := s.ctrl.sleep(ctx, s.opts.RetryDelay); err != nil {
				return err
			}
		}

		err := s.transport.Connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
		s.logger.Warn("Connection attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	if !domain.IsConnectionError(lastErr) {
		lastErr = &domain.ConnectionError{Address: s.server.Address(), Err: lastErr}
	}
	return lastErr
}

// processDate lists the first existing candidate directory of day and
// fetches the files of every station in configured order. It returns an
// error only when the session must stop.
func (s *Session) processDate(ctx context.Context, day time.Time) error {
	date := day.Format("2006-01-02")
	s.mu.Lock()
	s.stats.CurrentDate = date
	s.mu.Unlock()

	dir, names, err := s.resolve(ctx, day, date)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if domain.IsConnectionError(err) {
			return err
		}
		s.emitEvent(domain.ProgressEvent{
			Type:  domain.EventDateFailed,
			Date:  date,
			Dir:   dir,
			Error: err.Error(),
		})
		return nil
	}
	if dir == "" {
		s.emitEvent(domain.ProgressEvent{Type: domain.EventDateCompleted, Date: date})
		return nil
	}

	files := 0
	for _, station := range s.stations.IDs() {
		for _, name := range names {
			if !domain.MatchesStation(station, name) {
				continue
			}
			if err := s.ctrl.checkpoint(ctx); err != nil {
				return err
			}
			files++
			file := domain.RemoteFile{Name: name, Dir: dir, StationID: station, Date: date}
			if err := s.fetch(ctx, file, day); err != nil {
				return err
			}
		}
	}

	s.emitEvent(domain.ProgressEvent{
		Type:  domain.EventDateCompleted,
		Date:  date,
		Dir:   dir,
		Files: files,
	})
	return nil
}

// resolve probes the candidate paths in order. An empty dir with a nil
// error means no candidate exists.
func (s *Session) resolve(ctx context.Context, day time.Time, date string) (string, []string, error) {
	for _, dir := range domain.CandidatePaths(s.server.RemoteBasePath, day) {
		names, err := s.transport.List(ctx, dir)
		if err == nil {
			s.emitEvent(domain.ProgressEvent{Type: domain.EventDirectoryProbed, Date: date, Dir: dir, Found: true})
			return dir, names, nil
		}
		if !errors.Is(err, domain.ErrDirectoryNotFound) {
			return dir, nil, err
		}
		s.emitEvent(domain.ProgressEvent{Type: domain.EventDirectoryProbed, Date: date, Dir: dir})
	}
	return "", nil, nil
}

// fetch transfers one file and reports the outcome. A lost connection that
// cannot be re-established is returned as fatal.
func (s *Session) fetch(ctx context.Context, file domain.RemoteFile, day time.Time) error {
	localPath := domain.LocalFilePath(s.server.LocalBasePath, s.server.StateLabel, file.StationID, day, file.Name)
	result := s.engine.Fetch(ctx, s.transport, file.Path(), localPath)

	ev := domain.ProgressEvent{
		Date:      file.Date,
		Dir:       file.Dir,
		StationID: file.StationID,
		FileName:  file.Name,
		LocalPath: localPath,
		Bytes:     result.Bytes,
	}
	switch result.Outcome {
	case infrastructure.OutcomeFetched:
		ev.Type = domain.EventFileDownloaded
	case infrastructure.OutcomeSkippedExisting:
		ev.Type = domain.EventFileSkippedExisting
	default:
		ev.Type = domain.EventFileFailed
		ev.Error = result.Err.Error()
	}
	s.emitEvent(ev)

	if result.Outcome == infrastructure.OutcomeFailed && domain.IsConnectionError(result.Err) {
		return result.Err
	}
	return nil
}

// finish moves the session to its terminal state and emits the closing event
func (s *Session) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cancelled := s.ctrl.isCancelled() ||
		errors.Is(err, errCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)

	switch {
	case cancelled:
		if s.state != domain.StateCancelling {
			s.transitionLocked(domain.StateCancelling)
		}
		s.state = domain.StateCancelled
		s.emitLocked(domain.ProgressEvent{Type: domain.EventSessionCompleted, State: domain.StateCancelled})
	case err != nil:
		s.err = err
		s.state = domain.StateFailed
		s.emitLocked(domain.ProgressEvent{Type: domain.EventSessionError, State: domain.StateFailed, Error: err.Error()})
	default:
		s.state = domain.StateCompleted
		s.emitLocked(domain.ProgressEvent{Type: domain.EventSessionCompleted, State: domain.StateCompleted})
	}
	s.stats.CurrentDate = ""
	s.ended = true
	s.signalLocked()
}

func (s *Session) transitionLocked(to domain.SessionState) {
	s.state = to
	s.emitLocked(domain.ProgressEvent{Type: domain.EventStateChanged, State: to})
}

func (s *Session) emitEvent(ev domain.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitLocked(ev)
}

// emitLocked stamps and counts ev and queues it for the sink. Control calls
// and state reads never wait on the sink.
func (s *Session) emitLocked(ev domain.ProgressEvent) {
	ev.SessionID = s.id
	ev.ServerID = s.server.Identity()
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	switch ev.Type {
	case domain.EventFileDownloaded:
		s.stats.Downloaded++
		s.stats.Bytes += ev.Bytes
	case domain.EventFileSkippedExisting:
		s.stats.Skipped++
	case domain.EventFileFailed:
		s.stats.Failed++
	case domain.EventDateCompleted:
		s.stats.DatesDone++
	case domain.EventDateFailed:
		s.stats.DatesFailed++
	}

	s.queue = append(s.queue, ev)
	s.signalLocked()
}

func (s *Session) signalLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// forward hands queued events to the sink in emission order until the
// terminal event went out. The sink may block.
func (s *Session) forward() {
	defer close(s.forwarded)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		ended := s.ended
		s.mu.Unlock()

		for _, ev := range batch {
			if s.emit != nil {
				s.emit(ev)
			}
		}
		if len(batch) == 0 {
			if ended {
				return
			}
			<-s.wake
		}
	}
}
