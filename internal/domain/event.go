package domain

import "time"

// EventType tags a ProgressEvent
type EventType string

const (
	EventDirectoryProbed     EventType = "directory_probed"
	EventFileSkippedExisting EventType = "file_skipped_existing"
	EventFileDownloaded      EventType = "file_downloaded"
	EventFileFailed          EventType = "file_failed"
	EventDateCompleted       EventType = "date_completed"
	EventDateFailed          EventType = "date_failed" // listing hit a transport error; next date follows
	EventStateChanged        EventType = "state_changed"
	EventSessionCompleted    EventType = "session_completed"
	EventSessionError        EventType = "session_error"
)

// ProgressEvent is a self-describing notification emitted by a session.
// Only the fields relevant to Type are set.
type ProgressEvent struct {
	Type      EventType    `json:"type"`
	SessionID string       `json:"session_id"`
	ServerID  string       `json:"server_id"`
	Time      time.Time    `json:"time"`
	Date      string       `json:"date,omitempty"` // YYYY-MM-DD being processed
	Dir       string       `json:"dir,omitempty"`
	Found     bool         `json:"found,omitempty"` // DirectoryProbed: listing succeeded
	StationID string       `json:"station_id,omitempty"`
	FileName  string       `json:"file_name,omitempty"`
	LocalPath string       `json:"local_path,omitempty"`
	Bytes     int64        `json:"bytes,omitempty"`
	Files     int          `json:"files,omitempty"` // DateCompleted: matched files for the date
	State     SessionState `json:"state,omitempty"`
	Error     string       `json:"error,omitempty"`
}

// IsTerminal reports whether the event closes a session's event stream.
// Completed and Cancelled sessions end with SessionCompleted, Failed ones
// with SessionError; State carries the final state in both cases.
func (e ProgressEvent) IsTerminal() bool {
	return e.Type == EventSessionCompleted || e.Type == EventSessionError
}
