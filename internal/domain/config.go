package domain

import (
	"fmt"
	"time"
)

// Config represents the application configuration
type Config struct {
	API          APIConfig          `mapstructure:"api"`
	Download     DownloadConfig     `mapstructure:"download"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Schedule     ScheduleConfig     `mapstructure:"schedule"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Servers      []ServerConfig     `mapstructure:"servers"`
}

// APIConfig contains HTTP API configuration
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DownloadConfig contains download-related configuration
type DownloadConfig struct {
	BaseDir          string        `mapstructure:"base_dir"`
	LogsDir          string        `mapstructure:"logs_dir"`
	ConnectRetries   int           `mapstructure:"connect_retries"`
	RetryDelay       time.Duration `mapstructure:"retry_delay"`
	DialTimeout      time.Duration `mapstructure:"dial_timeout"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout"` // per list/fetch I/O deadline
	EventBuffer      int           `mapstructure:"event_buffer"`
}

// DatabaseConfig contains run history storage configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ScheduleConfig configures the daily "download yesterday" trigger
type ScheduleConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	At            string        `mapstructure:"at"` // HH:MM, local time
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// NotificationConfig contains notification-related configuration
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Sound   bool   `mapstructure:"sound"`
	Method  string `mapstructure:"method"` // osascript, notify-send, etc.
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// ServerConfig describes one remote file server and the stations fetched from it.
// A running session works on its own copy; edits apply to the next run only.
type ServerConfig struct {
	ID             string   `mapstructure:"id" json:"id"`
	Host           string   `mapstructure:"host" json:"host"`
	Port           int      `mapstructure:"port" json:"port"`
	Username       string   `mapstructure:"username" json:"username"`
	Password       string   `mapstructure:"password" json:"-"`
	RemoteBasePath string   `mapstructure:"remote_base_path" json:"remote_base_path"`
	StateLabel     string   `mapstructure:"state_label" json:"state_label"`
	LocalBasePath  string   `mapstructure:"local_base_path" json:"local_base_path"`
	Stations       []string `mapstructure:"stations" json:"stations"`
	// AutoMidnight turns the daily trigger on for the whole process, like
	// schedule.enabled. It is not a per-server filter: the trigger starts
	// every server with stations.
	AutoMidnight   bool     `mapstructure:"auto_midnight" json:"auto_midnight"`
}

// Identity returns the server id, falling back to username@host:port
func (s ServerConfig) Identity() string {
	if s.ID != "" {
		return s.ID
	}
	return fmt.Sprintf("%s@%s:%d", s.Username, s.Host, s.Port)
}

// Address returns host:port, defaulting the port to 21
func (s ServerConfig) Address() string {
	port := s.Port
	if port == 0 {
		port = 21
	}
	return fmt.Sprintf("%s:%d", s.Host, port)
}

// Validate checks the fields a session needs before any network access
func (s ServerConfig) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("%w: server host is empty", ErrInvalidInput)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidInput, s.Port)
	}
	return nil
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Host: "localhost",
			Port: 8080,
		},
		Download: DownloadConfig{
			BaseDir:          "$HOME/rtu-fetch/downloads",
			LogsDir:          "$HOME/rtu-fetch/logs",
			ConnectRetries:   3,
			RetryDelay:       2 * time.Second,
			DialTimeout:      30 * time.Second,
			OperationTimeout: 60 * time.Second,
			EventBuffer:      256,
		},
		Database: DatabaseConfig{
			Path: "$HOME/rtu-fetch/history.db",
		},
		Schedule: ScheduleConfig{
			Enabled:       false,
			At:            "00:10",
			CheckInterval: 30 * time.Second,
		},
		Notification: NotificationConfig{
			Enabled: false,
			Sound:   false,
			Method:  "notify-send",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
		},
	}
}
