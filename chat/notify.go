package chat

import "github.com/pithecene-io/parley/types"

// Level is the severity of a notification.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Notification is a user-facing message raised by the controller.
type Notification struct {
	Level     Level
	Message   string
	SessionID types.ID
	Err       error
}

// Notifier receives notifications. Notify is called outside the controller
// lock and may call back into the controller's read surface.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

// Notify calls f(n).
func (f NotifierFunc) Notify(n Notification) { f(n) }
