package infrastructure

import (
	"fmt"
	"time"

	"github.com/yourusername/rtu-fetch-go/internal/domain"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLiteRunRepository implements RunRepository using SQLite
type SQLiteRunRepository struct {
	db *gorm.DB
}

// NewSQLiteRunRepository creates a new SQLite repository
func NewSQLiteRunRepository(dbPath string) (*SQLiteRunRepository, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.AutoMigrate(&domain.Run{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLiteRunRepository{db: db}, nil
}

// Create creates a new run
func (r *SQLiteRunRepository) Create(run *domain.Run) error {
	return r.db.Create(run).Error
}

// Update updates an existing run
func (r *SQLiteRunRepository) Update(run *domain.Run) error {
	return r.db.Save(run).Error
}

// FindByID finds a run by ID
func (r *SQLiteRunRepository) FindByID(id string) (*domain.Run, error) {
	var run domain.Run
	err := r.db.First(&run, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// FindByServer finds the runs of a server, newest first
func (r *SQLiteRunRepository) FindByServer(serverID string, limit int) ([]*domain.Run, error) {
	var runs []*domain.Run
	query := r.db.Where("server_id = ?", serverID).Order("created_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&runs).Error
	return runs, err
}

// FindAll finds all runs with optional filters
func (r *SQLiteRunRepository) FindAll(filters map[string]interface{}) ([]*domain.Run, error) {
	var runs []*domain.Run
	query := r.db

	for key, value := range filters {
		query = query.Where(fmt.Sprintf("%s = ?", key), value)
	}

	err := query.Order("created_at DESC").Find(&runs).Error
	return runs, err
}

// MarkInterrupted fails runs a previous process left unfinished, including
// runs recorded but never started
func (r *SQLiteRunRepository) MarkInterrupted() (int64, error) {
	res := r.db.Model(&domain.Run{}).
		Where("state IN ?", []domain.SessionState{
			domain.StateIdle, domain.StateRunning, domain.StatePaused, domain.StateCancelling,
		}).
		Updates(map[string]interface{}{
			"state":         domain.StateFailed,
			"error_message": "interrupted by shutdown",
			"finished_at":   time.Now(),
		})
	return res.RowsAffected, res.Error
}

// GetStats returns run statistics
func (r *SQLiteRunRepository) GetStats() (*domain.RunStats, error) {
	stats := &domain.RunStats{}

	if err := r.db.Model(&domain.Run{}).Count(&stats.Total).Error; err != nil {
		return nil, err
	}

	stateCounts := []struct {
		State domain.SessionState
		Count int64
	}{}

	if err := r.db.Model(&domain.Run{}).
		Select("state, count(*) as count").
		Group("state").
		Scan(&stateCounts).Error; err != nil {
		return nil, err
	}

	for _, sc := range stateCounts {
		switch sc.State {
		case domain.StateRunning, domain.StatePaused, domain.StateCancelling:
			stats.Running += sc.Count
		case domain.StateCompleted:
			stats.Completed = sc.Count
		case domain.StateCancelled:
			stats.Cancelled = sc.Count
		case domain.StateFailed:
			stats.Failed = sc.Count
		}
	}

	totals := struct {
		Downloaded int64
		Skipped    int64
		Failed     int64
		Bytes      int64
	}{}
	if err := r.db.Model(&domain.Run{}).
		Select("COALESCE(SUM(downloaded), 0) as downloaded, COALESCE(SUM(skipped), 0) as skipped, " +
			"COALESCE(SUM(failed), 0) as failed, COALESCE(SUM(bytes), 0) as bytes").
		Scan(&totals).Error; err != nil {
		return nil, err
	}
	stats.Downloaded = totals.Downloaded
	stats.Skipped = totals.Skipped
	stats.FileErrors = totals.Failed
	stats.Bytes = totals.Bytes

	return stats, nil
}

// Close closes the database connection
func (r *SQLiteRunRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
