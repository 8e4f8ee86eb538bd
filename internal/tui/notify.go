package tui

import (
	"time"

	"github.com/kingrea/borrowease-verify/internal/logbook"
	"github.com/kingrea/borrowease-verify/internal/otpflow"
)

const toastTTL = 4 * time.Second

// Notifier receives every user-facing notification the flow raises. The App
// always shows a footer toast; the Notifier lets the host mirror it
// elsewhere.
type Notifier interface {
	Notify(level otpflow.Level, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(level otpflow.Level, message string)

func (f NotifierFunc) Notify(level otpflow.Level, message string) { f(level, message) }

type logbookNotifier struct {
	lb *logbook.Logbook
}

func (n logbookNotifier) Notify(level otpflow.Level, message string) {
	switch level {
	case otpflow.LevelError:
		n.lb.Error("Notice · %s", message)
	case otpflow.LevelWarning:
		n.lb.Warn("Notice · %s", message)
	default:
		n.lb.Info("Notice · %s", message)
	}
}

type toast struct {
	level   otpflow.Level
	message string
	seq     int
}

type toastExpiredMsg struct{ seq int }
