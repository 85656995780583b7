package domain

// RunRepository defines the interface for run history persistence
type RunRepository interface {
	// Create creates a new run
	Create(run *Run) error

	// Update updates an existing run
	Update(run *Run) error

	// FindByID finds a run by ID
	FindByID(id string) (*Run, error)

	// FindByServer finds the runs of a server, newest first
	FindByServer(serverID string, limit int) ([]*Run, error)

	// FindAll finds all runs with optional filters
	FindAll(filters map[string]interface{}) ([]*Run, error)

	// MarkInterrupted moves runs left idle or active by a previous process to failed
	MarkInterrupted() (int64, error)

	// GetStats returns run statistics
	GetStats() (*RunStats, error)
}

// RunStats represents run statistics
type RunStats struct {
	Total      int64 `json:"total"`
	Running    int64 `json:"running"`
	Completed  int64 `json:"completed"`
	Cancelled  int64 `json:"cancelled"`
	Failed     int64 `json:"failed"`
	Downloaded int64 `json:"downloaded"`
	Skipped    int64 `json:"skipped"`
	FileErrors int64 `json:"file_errors"`
	Bytes      int64 `json:"bytes"`
}
