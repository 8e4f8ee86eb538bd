package otpflow

import (
	"time"

	"github.com/kingrea/borrowease-verify/internal/phone"
)

// Stage names a State variant.
type Stage string

const (
	StagePhone        Stage = "phone"
	StageDispatching  Stage = "dispatching"
	StageAwaitingCode Stage = "awaiting_code"
	StageVerifying    Stage = "verifying"
	StageExhausted    Stage = "exhausted"
	StageSuccess      Stage = "success"
)

// State is one of Phone, Dispatching, AwaitingCode, Verifying, Exhausted or
// Success.
type State interface {
	Stage() Stage
	sealed()
}

// Session is an issued code's countdowns and attempt budget.
type Session struct {
	ID        string
	Candidate phone.Candidate
	// ExpiresIn is seconds until the code expires.
	ExpiresIn int
	// ResendCooldown is seconds until resend is allowed; 0 means allowed.
	ResendCooldown int
	// AttemptsRemaining only ever decreases within a session.
	AttemptsRemaining int
}

// Phone returns the fully-qualified number the code was sent to.
func (s Session) Phone() string {
	return s.Candidate.Full()
}

// Phone is the number entry stage.
type Phone struct {
	Candidate phone.Candidate
	// Error is an inline validation or send failure message.
	Error string
	// Notice is a warning carried over from an aborted session.
	Notice string
	// Lockout is seconds before sending is allowed again after a 429.
	Lockout int
	timer   string
}

// Dispatching waits for /otp/send, or /otp/resend when Session is set.
type Dispatching struct {
	Candidate phone.Candidate
	Session   *Session
}

// Resend reports whether this dispatch is a resend within a session.
func (d Dispatching) Resend() bool {
	return d.Session != nil
}

// AwaitingCode is the six-cell entry stage.
type AwaitingCode struct {
	Session Session
	Code    Code
	// Error is an inline hint such as an incomplete code.
	Error string
	timer string
}

// Verifying waits for /otp/verify.
type Verifying struct {
	Session Session
	Code    Code
}

// Exhausted is shown briefly before the flow falls back to Phone.
type Exhausted struct {
	Candidate   phone.Candidate
	Message     string
	RateLimited bool
}

// Success is terminal.
type Success struct {
	Result Result
}

// Result is handed to the parent flow once verification succeeds.
type Result struct {
	Phone     string    `json:"phone"`
	Verified  bool      `json:"verified"`
	Timestamp time.Time `json:"timestamp"`
}

func (Phone) Stage() Stage        { return StagePhone }
func (Dispatching) Stage() Stage  { return StageDispatching }
func (AwaitingCode) Stage() Stage { return StageAwaitingCode }
func (Verifying) Stage() Stage    { return StageVerifying }
func (Exhausted) Stage() Stage    { return StageExhausted }
func (Success) Stage() Stage      { return StageSuccess }

func (Phone) sealed()        {}
func (Dispatching) sealed()  {}
func (AwaitingCode) sealed() {}
func (Verifying) sealed()    {}
func (Exhausted) sealed()    {}
func (Success) sealed()      {}
