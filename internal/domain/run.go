package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Trigger records what started a run
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

// Run is the persisted history record of one session
type Run struct {
	ID           string       `json:"id" gorm:"primaryKey"`
	ServerID     string       `json:"server_id" gorm:"not null;index"`
	Host         string       `json:"host"`
	Trigger      Trigger      `json:"trigger" gorm:"default:manual"`
	State        SessionState `json:"state" gorm:"not null;index"`
	RangeStart   time.Time    `json:"range_start"`
	RangeEnd     time.Time    `json:"range_end"`
	Stations     string       `json:"stations"` // comma separated, configured order
	Downloaded   int          `json:"downloaded" gorm:"default:0"`
	Skipped      int          `json:"skipped" gorm:"default:0"`
	Failed       int          `json:"failed" gorm:"default:0"`
	Bytes        int64        `json:"bytes" gorm:"default:0"`
	DatesDone    int          `json:"dates_done" gorm:"default:0"`
	DatesFailed  int          `json:"dates_failed" gorm:"default:0"`
	ErrorMessage string       `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt    time.Time    `json:"updated_at" gorm:"autoUpdateTime"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
}

// NewRunID returns a fresh session/run identifier
func NewRunID() string {
	return uuid.New().String()
}

// NewRun creates a run record in the idle state
func NewRun(id string, server ServerConfig, stations StationSet, dates DateRange, trigger Trigger) *Run {
	now := time.Now()
	return &Run{
		ID:         id,
		ServerID:   server.Identity(),
		Host:       server.Host,
		Trigger:    trigger,
		State:      StateIdle,
		RangeStart: dates.Start,
		RangeEnd:   dates.End,
		Stations:   strings.Join(stations.IDs(), ","),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// MarkRunning marks the run as started
func (r *Run) MarkRunning() {
	r.State = StateRunning
	now := time.Now()
	if r.StartedAt == nil {
		r.StartedAt = &now
	}
	r.UpdatedAt = now
}

// MarkFinished records the terminal state of the run
func (r *Run) MarkFinished(state SessionState, errMsg string) {
	r.State = state
	r.ErrorMessage = errMsg
	now := time.Now()
	r.FinishedAt = &now
	r.UpdatedAt = now
}

// Apply folds a progress event into the run counters
func (r *Run) Apply(ev ProgressEvent) {
	switch ev.Type {
	case EventFileDownloaded:
		r.Downloaded++
		r.Bytes += ev.Bytes
	case EventFileSkippedExisting:
		r.Skipped++
	case EventFileFailed:
		r.Failed++
	case EventDateCompleted:
		r.DatesDone++
	case EventDateFailed:
		r.DatesFailed++
	case EventStateChanged:
		r.State = ev.State
	case EventSessionCompleted, EventSessionError:
		r.MarkFinished(ev.State, ev.Error)
		return
	}
	r.UpdatedAt = time.Now()
}
