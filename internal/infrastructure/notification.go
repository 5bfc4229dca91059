package infrastructure

import (
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/yourusername/offline-cache-go/internal/domain"
)

// NotificationService surfaces queue outcomes on the desktop.
type NotificationService struct {
	config *domain.NotificationConfig
	logger *zap.Logger
}

// NewNotificationService creates a new notification service
func NewNotificationService(config *domain.NotificationConfig, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		config: config,
		logger: logger,
	}
}

// ErrorsHandler adapts the service to the queue's error reporting hook.
// Non-fatal diagnostics are logged only.
func (n *NotificationService) ErrorsHandler() domain.ErrorsHandler {
	return func(description string, fatal bool) {
		if !fatal {
			n.logger.Warn("download finished with errors", zap.String("report", description))
			return
		}
		n.logger.Error("download failed", zap.String("report", description))
		n.Send("Offline Download Failed", truncateString(description, 120))
	}
}

// NotifyQueueCompleted sends a notification when the queue drains.
func (n *NotificationService) NotifyQueueCompleted(success bool) {
	if success {
		n.Send("Downloads Completed", "All queued content is available offline")
		return
	}
	n.Send("Downloads Finished", "Some entries failed to download")
}

// Send sends a notification
func (n *NotificationService) Send(title, message string) error {
	if !n.config.Enabled {
		n.logger.Debug("Notifications disabled, skipping",
			zap.String("title", title),
			zap.String("message", message))
		return nil
	}

	switch n.config.Method {
	case "osascript":
		return n.sendOSAScript(title, message)
	case "notify-send":
		return n.sendNotifySend(title, message)
	default:
		n.logger.Warn("Unknown notification method", zap.String("method", n.config.Method))
		return nil
	}
}

// sendOSAScript sends notification using macOS osascript
func (n *NotificationService) sendOSAScript(title, message string) error {
	script := fmt.Sprintf(`display notification "%s" with title "%s"`, message, title)
	cmd := exec.Command("osascript", "-e", script)

	if err := cmd.Run(); err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("method", "osascript"),
			zap.Error(err))
		return err
	}

	n.logger.Debug("Notification sent",
		zap.String("title", title),
		zap.String("message", message))

	return nil
}

// sendNotifySend sends notification using Linux notify-send
func (n *NotificationService) sendNotifySend(title, message string) error {
	cmd := exec.Command("notify-send", title, message)

	if err := cmd.Run(); err != nil {
		n.logger.Error("Failed to send notification",
			zap.String("method", "notify-send"),
			zap.Error(err))
		return err
	}

	n.logger.Debug("Notification sent",
		zap.String("title", title),
		zap.String("message", message))

	return nil
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
