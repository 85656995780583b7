package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/rtu-fetch-go/internal/domain"
	"github.com/yourusername/rtu-fetch-go/pkg/logger"
)

// DailyRunner starts the download of the previous day
type DailyRunner interface {
	RunAllNow() ([]*Session, error)
}

// Scheduler triggers RunAllNow once a day at a fixed local time
type Scheduler struct {
	runner      DailyRunner
	config      *domain.ScheduleConfig
	multiLogger *logger.MultiLogger
	logger      *zap.Logger
	now         func() time.Time

	hour   int
	minute int

	mu       sync.RWMutex
	running  bool
	lastRun  string // YYYY-MM-DD of the last day the trigger fired or was skipped
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewScheduler creates a new scheduler
func NewScheduler(
	runner DailyRunner,
	config *domain.ScheduleConfig,
	multiLogger *logger.MultiLogger,
	log *zap.Logger,
) (*Scheduler, error) {
	hour, minute, err := ParseClock(config.At)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		runner:      runner,
		config:      config,
		multiLogger: multiLogger,
		logger:      log,
		now:         time.Now,
		hour:        hour,
		minute:      minute,
		stopChan:    make(chan struct{}),
	}, nil
}

// ScheduleEnabled reports whether the daily trigger should run at all. Any
// server's auto_midnight enables it for every server.
func ScheduleEnabled(config *domain.Config) bool {
	if config.Schedule.Enabled {
		return true
	}
	for _, server := range config.Servers {
		if server.AutoMidnight {
			return true
		}
	}
	return false
}

// ParseClock parses an HH:MM time of day
func ParseClock(s string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 || len(parts[0]) != 2 || len(parts[1]) != 2 {
		return 0, 0, fmt.Errorf("%w: schedule time %q must be HH:MM", domain.ErrInvalidInput, s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: invalid hour in %q", domain.ErrInvalidInput, s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: invalid minute in %q", domain.ErrInvalidInput, s)
	}
	return hour, minute, nil
}

// Start starts the scheduler loop. A start after today's slot does not
// fire until the next day.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already running")
	}
	s.running = true
	now := s.now()
	if !now.Before(s.slot(now)) {
		s.lastRun = now.Format("2006-01-02")
	}
	s.mu.Unlock()

	s.logEvent("scheduler_started",
		zap.String("at", s.config.At),
		zap.Time("next_run", s.NextRun()))

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop stops the scheduler loop
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler not running")
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
	s.logEvent("scheduler_stopped")
	return nil
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// NextRun returns the next time the trigger fires
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	slot := s.slot(now)
	if s.lastRun == now.Format("2006-01-02") || now.After(slot) {
		return s.slot(now.AddDate(0, 0, 1))
	}
	return slot
}

func (s *Scheduler) slot(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), s.hour, s.minute, 0, 0, day.Location())
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	interval := s.config.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logEvent("scheduler_loop_stopped", zap.String("reason", "context_cancelled"))
			return
		case <-s.stopChan:
			s.logEvent("scheduler_loop_stopped", zap.String("reason", "stop_signal"))
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// tick fires the daily run when the clock has passed today's slot
func (s *Scheduler) tick() bool {
	now := s.now()
	today := now.Format("2006-01-02")

	s.mu.Lock()
	if s.lastRun == today || now.Before(s.slot(now)) {
		s.mu.Unlock()
		return false
	}
	s.lastRun = today
	s.mu.Unlock()

	sessions, err := s.runner.RunAllNow()
	s.logEvent("scheduled_run_fired",
		zap.String("day", today),
		zap.Int("sessions", len(sessions)))
	if err != nil {
		s.logger.Warn("Scheduled run could not start every server", zap.Error(err))
		if s.multiLogger != nil {
			s.multiLogger.LogAppError("Scheduled run could not start every server", zap.Error(err))
		}
	}
	return true
}

func (s *Scheduler) logEvent(event string, fields ...zap.Field) {
	if s.multiLogger != nil {
		s.multiLogger.LogSchedulerEvent(event, fields...)
	}
	s.logger.Info(event, fields...)
}
