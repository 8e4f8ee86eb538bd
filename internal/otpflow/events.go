package otpflow

import "time"

// Event is an input to Machine.Apply.
type Event interface {
	event()
}

// PhoneEdited carries the raw text of the phone field; non-digits are dropped.
type PhoneEdited struct{ Raw string }

// CountryChanged selects a dialing code from the configured list.
type CountryChanged struct{ Code string }

// SendRequested is the "Send OTP" action.
type SendRequested struct{}

// SendSucceeded reports a successful send or resend. ExpiresIn of 0 means
// the server did not say.
type SendSucceeded struct{ ExpiresIn int }

// SendFailed reports a failed send or resend.
type SendFailed struct{ Err error }

// DigitTyped is a keystroke in the focused cell.
type DigitTyped struct{ Digit rune }

// Backspace clears the focused cell or steps back from an empty one.
type Backspace struct{}

// MoveLeft and MoveRight shift focus without editing.
type MoveLeft struct{}

type MoveRight struct{}

// Pasted is clipboard text dropped on the code cells.
type Pasted struct{ Text string }

// VerifyRequested is the manual "Verify" action.
type VerifyRequested struct{}

// VerifySucceeded reports an accepted code.
type VerifySucceeded struct{}

// VerifyFailed reports a refused code or a failed call.
type VerifyFailed struct{ Err error }

// ResendRequested is the "Resend" action.
type ResendRequested struct{}

// ChangeNumber abandons the session and returns to number entry.
type ChangeNumber struct{}

// Tick is one second of a countdown. Timer must match the active timer.
type Tick struct{ Timer string }

// ReturnToPhone ends the Exhausted pause.
type ReturnToPhone struct{}

func (PhoneEdited) event()     {}
func (CountryChanged) event()  {}
func (SendRequested) event()   {}
func (SendSucceeded) event()   {}
func (SendFailed) event()      {}
func (DigitTyped) event()      {}
func (Backspace) event()       {}
func (MoveLeft) event()        {}
func (MoveRight) event()       {}
func (Pasted) event()          {}
func (VerifyRequested) event() {}
func (VerifySucceeded) event() {}
func (VerifyFailed) event()    {}
func (ResendRequested) event() {}
func (ChangeNumber) event()    {}
func (Tick) event()            {}
func (ReturnToPhone) event()   {}

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Effect is work the caller performs on the machine's behalf.
type Effect interface {
	effect()
}

// SendEffect calls POST /otp/send.
type SendEffect struct{ Phone string }

// ResendEffect calls POST /otp/resend.
type ResendEffect struct{ Phone string }

// VerifyEffect calls POST /otp/verify.
type VerifyEffect struct{ Phone, Code string }

// NotifyEffect shows a transient notification.
type NotifyEffect struct {
	Level   Level
	Message string
}

// TimerEffect starts a one-second Tick loop for Timer. The loop should stop
// once Machine.Timer no longer returns the same value.
type TimerEffect struct{ Timer string }

// CompleteEffect hands Result to the parent flow after After.
type CompleteEffect struct {
	Result Result
	After  time.Duration
}

// ReturnEffect delivers ReturnToPhone after After.
type ReturnEffect struct{ After time.Duration }

func (SendEffect) effect()     {}
func (ResendEffect) effect()   {}
func (VerifyEffect) effect()   {}
func (NotifyEffect) effect()   {}
func (TimerEffect) effect()    {}
func (CompleteEffect) effect() {}
func (ReturnEffect) effect()   {}
