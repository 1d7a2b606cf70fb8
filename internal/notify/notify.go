// Package notify delivers operator-facing messages about fills, closures
// and risk alerts.
package notify

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Notification levels.
const (
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Notification is one operator message.
type Notification struct {
	Level   string
	BotID   string
	Title   string
	Message string
}

// Notifier delivers notifications. Implementations must not block the
// trading path.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Console writes notifications through the structured logger.
type Console struct {
	log *logrus.Logger
}

func NewConsole(log *logrus.Logger) *Console {
	return &Console{log: log}
}

func (c *Console) Notify(_ context.Context, n Notification) {
	entry := c.log.WithFields(logrus.Fields{
		"bot":   n.BotID,
		"title": n.Title,
	})
	switch n.Level {
	case LevelError:
		entry.Error(n.Message)
	case LevelWarn:
		entry.Warn(n.Message)
	default:
		entry.Info(n.Message)
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Notify(context.Context, Notification) {}
