package infrastructure

import (
	"fmt"
	"os/exec"

	"github.com/yourusername/rtu-fetch-go/internal/domain"
	"go.uber.org/zap"
)

// NotificationService handles sending desktop notifications
type NotificationService struct {
	config *domain.NotificationConfig
	logger *zap.Logger
	run    func(name string, args ...string) error
}

// NewNotificationService creates a new notification service
func NewNotificationService(config *domain.NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		config: config,
		logger: logger,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send sends a notification
func (n *NotificationService) Send(title, message string) error {
	if n == nil || n.config == nil || !n.config.Enabled {
		return nil
	}

	var err error
	switch n.config.Method {
	case "osascript":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`, message, title)
		if n.config.Sound {
			script += ` sound name "Glass"`
		}
		err = n.run("osascript", "-e", script)
	case "notify-send":
		err = n.run("notify-send", title, message)
	default:
		n.logger.Warn("Unknown notification method", zap.String("method", n.config.Method))
		return nil
	}

	if err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("method", n.config.Method),
			zap.Error(err))
		return err
	}

	n.logger.Debug("Notification sent",
		zap.String("title", title),
		zap.String("message", message))
	return nil
}

// NotifySessionFinished reports a completed or cancelled session
func (n *NotificationService) NotifySessionFinished(run *domain.Run) {
	title := "Download Completed"
	if run.State == domain.StateCancelled {
		title = "Download Cancelled"
	}
	message := fmt.Sprintf("%s: %d downloaded, %d skipped, %d failed",
		truncateString(run.ServerID, 30), run.Downloaded, run.Skipped, run.Failed)
	n.Send(title, message)
}

// NotifySessionFailed reports a session that could not run
func (n *NotificationService) NotifySessionFailed(run *domain.Run) {
	title := "Download Failed"
	message := fmt.Sprintf("%s: %s", truncateString(run.ServerID, 30), truncateString(run.ErrorMessage, 60))
	n.Send(title, message)
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
