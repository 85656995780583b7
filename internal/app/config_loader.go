package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/yourusername/rtu-fetch-go/internal/domain"
)

// LoadConfig loads configuration from file and environment
func LoadConfig(configPath string) (*domain.Config, error) {
	// Start with default config
	config := domain.DefaultConfig()

	// Set up viper
	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.rtu-fetch")
		v.AddConfigPath("/etc/rtu-fetch")
	}

	// Read environment variables
	v.SetEnvPrefix("RTUFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	config = expandPaths(config)

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// bindEnv registers the scalar keys so AutomaticEnv can override them
// without a config file present
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"api.host", "api.port",
		"download.base_dir", "download.logs_dir", "download.connect_retries",
		"download.retry_delay", "download.dial_timeout", "download.operation_timeout",
		"database.path",
		"schedule.enabled", "schedule.at",
		"notification.enabled", "notification.method",
		"logging.level", "logging.format", "logging.output_path",
	} {
		_ = v.BindEnv(key)
	}
}

// expandPaths expands environment variables in path configurations
func expandPaths(config *domain.Config) *domain.Config {
	config.Download.BaseDir = expandPath(config.Download.BaseDir)
	config.Download.LogsDir = expandPath(config.Download.LogsDir)
	config.Database.Path = expandPath(config.Database.Path)

	for i := range config.Servers {
		config.Servers[i].LocalBasePath = expandPath(config.Servers[i].LocalBasePath)
	}

	if config.Logging.OutputPath != "stdout" && config.Logging.OutputPath != "stderr" {
		config.Logging.OutputPath = expandPath(config.Logging.OutputPath)
	}

	return config
}

// expandPath expands environment variables and ~ in paths
func expandPath(path string) string {
	if path == "" {
		return path
	}

	path = os.ExpandEnv(path)

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, path[2:])
		}
	}

	return path
}

// validateConfig validates the configuration
func validateConfig(config *domain.Config) error {
	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("invalid api port: %d", config.API.Port)
	}

	if config.Download.BaseDir == "" {
		return fmt.Errorf("download base directory not configured")
	}

	if config.Download.ConnectRetries < 0 {
		return fmt.Errorf("connect retries cannot be negative")
	}

	if config.Download.DialTimeout <= 0 || config.Download.OperationTimeout <= 0 {
		return fmt.Errorf("network timeouts must be positive")
	}

	if config.Database.Path == "" {
		return fmt.Errorf("database path not configured")
	}

	if _, _, err := ParseClock(config.Schedule.At); err != nil {
		return err
	}

	seen := make(map[string]bool, len(config.Servers))
	for i, server := range config.Servers {
		if err := server.Validate(); err != nil {
			return fmt.Errorf("server %d: %w", i, err)
		}
		if _, err := domain.NewStationSet(server.Stations); err != nil {
			return fmt.Errorf("server %s: %w", server.Identity(), err)
		}
		id := server.Identity()
		if seen[id] {
			return fmt.Errorf("duplicate server id: %s", id)
		}
		seen[id] = true
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}

// SaveConfig saves configuration to file
func SaveConfig(config *domain.Config, path string) error {
	v := viper.New()
	v.SetConfigType("yaml")

	v.Set("api", map[string]interface{}{
		"host": config.API.Host,
		"port": config.API.Port,
	})
	v.Set("download", map[string]interface{}{
		"base_dir":          config.Download.BaseDir,
		"logs_dir":          config.Download.LogsDir,
		"connect_retries":   config.Download.ConnectRetries,
		"retry_delay":       config.Download.RetryDelay.String(),
		"dial_timeout":      config.Download.DialTimeout.String(),
		"operation_timeout": config.Download.OperationTimeout.String(),
		"event_buffer":      config.Download.EventBuffer,
	})
	v.Set("database", map[string]interface{}{
		"path": config.Database.Path,
	})
	v.Set("schedule", map[string]interface{}{
		"enabled":        config.Schedule.Enabled,
		"at":             config.Schedule.At,
		"check_interval": config.Schedule.CheckInterval.String(),
	})
	v.Set("notification", map[string]interface{}{
		"enabled": config.Notification.Enabled,
		"sound":   config.Notification.Sound,
		"method":  config.Notification.Method,
	})
	v.Set("logging", map[string]interface{}{
		"level":       config.Logging.Level,
		"format":      config.Logging.Format,
		"output_path": config.Logging.OutputPath,
	})
	v.Set("servers", serversForSave(config.Servers))

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// serversForSave keeps the mapstructure keys, including the password that
// the JSON form hides
func serversForSave(servers []domain.ServerConfig) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(servers))
	for _, s := range servers {
		out = append(out, map[string]interface{}{
			"id":               s.ID,
			"host":             s.Host,
			"port":             s.Port,
			"username":         s.Username,
			"password":         s.Password,
			"remote_base_path": s.RemoteBasePath,
			"state_label":      s.StateLabel,
			"local_base_path":  s.LocalBasePath,
			"stations":         s.Stations,
			"auto_midnight":    s.AutoMidnight,
		})
	}
	return out
}
