// Package notify delivers user-facing notifications. The console notifier
// writes them to the application log and keeps the latest few for the API.
package notify

import (
	"sync"
	"time"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one delivered message.
type Notification struct {
	Level   Level     `json:"level"`
	Title   string    `json:"title"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

const defaultKeep = 50

// Console logs notifications and retains the most recent ones.
type Console struct {
	logger Logger
	keep   int

	mu     sync.Mutex
	recent []Notification
}

// NewConsole creates a Console that retains keep notifications
// (50 when keep <= 0).
func NewConsole(logger Logger, keep int) *Console {
	if keep <= 0 {
		keep = defaultKeep
	}
	return &Console{logger: logger, keep: keep}
}

func (c *Console) Success(title, message string) {
	c.logger.Info(title, "notification", LevelSuccess, "message", message)
	c.add(LevelSuccess, title, message)
}

func (c *Console) Warning(title, message string) {
	c.logger.Warn(title, "notification", LevelWarning, "message", message)
	c.add(LevelWarning, title, message)
}

func (c *Console) Error(title, message string) {
	c.logger.Error(title, "notification", LevelError, "message", message)
	c.add(LevelError, title, message)
}

func (c *Console) add(level Level, title, message string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recent = append(c.recent, Notification{Level: level, Title: title, Message: message, At: time.Now()})
	if len(c.recent) > c.keep {
		c.recent = c.recent[len(c.recent)-c.keep:]
	}
}

// Recent returns retained notifications, oldest first.
func (c *Console) Recent() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notification(nil), c.recent...)
}
