package store

import "log/slog"

// Event reports the outcome of one mutation.
type Event struct {
	Op      string
	Message string
	Err     error
}

func (e Event) Failed() bool {
	return e.Err != nil
}

type Notifier interface {
	Notify(Event)
}

type NotifierFunc func(Event)

func (f NotifierFunc) Notify(e Event) {
	f(e)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// LogNotifier writes events to a logger at info, or error for failures.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(e Event) {
	if e.Failed() {
		n.Logger.Error("store update failed", "op", e.Op, "error", e.Err)
		return
	}
	n.Logger.Info(e.Message, "op", e.Op)
}
