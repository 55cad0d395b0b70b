// Package notify delivers short-lived user notifications (toasts).
package notify

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Level is the severity of a notification
type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
)

// Notification is one transient message shown to the user
type Notification struct {
	Level   Level
	Message string
}

// Notifier shows transient notifications
type Notifier interface {
	Success(message string)
	Error(message string)
}

// LogNotifier writes notifications to a logrus logger
type LogNotifier struct {
	logger *logrus.Logger
}

func NewLogNotifier(logger *logrus.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Success(message string) {
	n.logger.WithField("level_hint", LevelSuccess).Info(message)
}

func (n *LogNotifier) Error(message string) {
	n.logger.WithField("level_hint", LevelError).Warn(message)
}

// Func adapts a function to Notifier
type Func func(Notification)

func (f Func) Success(message string) { f(Notification{Level: LevelSuccess, Message: message}) }
func (f Func) Error(message string)   { f(Notification{Level: LevelError, Message: message}) }

// Recorder keeps every notification in memory
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
}

func (r *Recorder) Success(message string) { r.add(LevelSuccess, message) }
func (r *Recorder) Error(message string)   { r.add(LevelError, message) }

func (r *Recorder) add(level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, Notification{Level: level, Message: message})
}

// All returns a copy of the recorded notifications
func (r *Recorder) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// Last returns the most recent notification
func (r *Recorder) Last() (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sent) == 0 {
		return Notification{}, false
	}
	return r.sent[len(r.sent)-1], true
}
