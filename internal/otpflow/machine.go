package otpflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kingrea/borrowease-verify/internal/otpapi"
	"github.com/kingrea/borrowease-verify/internal/phone"
)

const (
	msgInvalidPhone    = "Enter a valid phone number"
	msgIncompleteCode  = "Enter all 6 digits"
	msgExpired         = "OTP expired. Please request a new one."
	msgExhausted       = "Maximum attempts exceeded. Please request a new OTP."
	msgRateLimited     = "Too many attempts. Please wait before trying again."
	msgVerified        = "Phone number verified"
	msgResent          = "A new OTP has been sent"
	msgLockoutTemplate = "Please wait %ds before requesting another OTP"
)

// Settings are the flow's limits and timings.
type Settings struct {
	MaxAttempts    int
	DefaultExpiry  int
	ResendCooldown int
	SendLockout    int
	SuccessDelay   time.Duration
	ReturnDelay    time.Duration
	DefaultCountry string
	Countries      []phone.Country
}

// DefaultSettings matches the production client: 3 attempts, 300s codes,
// 60s resend cooldown.
func DefaultSettings() Settings {
	return Settings{
		MaxAttempts:    3,
		DefaultExpiry:  300,
		ResendCooldown: 60,
		SendLockout:    60,
		SuccessDelay:   1500 * time.Millisecond,
		ReturnDelay:    2 * time.Second,
		DefaultCountry: phone.DefaultCountryCode,
		Countries:      phone.DefaultCountries,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = def.MaxAttempts
	}
	if s.DefaultExpiry <= 0 {
		s.DefaultExpiry = def.DefaultExpiry
	}
	if s.ResendCooldown <= 0 {
		s.ResendCooldown = def.ResendCooldown
	}
	if s.SendLockout <= 0 {
		s.SendLockout = def.SendLockout
	}
	if s.SuccessDelay <= 0 {
		s.SuccessDelay = def.SuccessDelay
	}
	if s.ReturnDelay <= 0 {
		s.ReturnDelay = def.ReturnDelay
	}
	s.DefaultCountry = phone.NormalizeCountryCode(s.DefaultCountry)
	if s.DefaultCountry == "" {
		s.DefaultCountry = def.DefaultCountry
	}
	if len(s.Countries) == 0 {
		s.Countries = def.Countries
	}
	return s
}

// Option customizes a Machine.
type Option func(*Machine)

// WithClock overrides the clock used for Result timestamps.
func WithClock(clock func() time.Time) Option {
	return func(m *Machine) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithIDs overrides session and timer id generation.
func WithIDs(fn func() string) Option {
	return func(m *Machine) {
		if fn != nil {
			m.newID = fn
		}
	}
}

// Machine holds the current State. It is not safe for concurrent use; the
// caller drives it from a single event loop.
type Machine struct {
	settings Settings
	state    State
	clock    func() time.Time
	newID    func() string
}

// New returns a machine in the Phone stage with the default country selected.
func New(settings Settings, opts ...Option) *Machine {
	m := &Machine{
		settings: settings.withDefaults(),
		clock:    func() time.Time { return time.Now().UTC() },
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	m.state = Phone{Candidate: phone.Candidate{CountryCode: m.settings.DefaultCountry}}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state
}

// Settings returns the effective settings.
func (m *Machine) Settings() Settings {
	return m.settings
}

// Busy reports whether a network call is in flight.
func (m *Machine) Busy() bool {
	switch m.state.(type) {
	case Dispatching, Verifying:
		return true
	}
	return false
}

// Timer returns the id of the running countdown, or "" when none runs.
func (m *Machine) Timer() string {
	switch s := m.state.(type) {
	case AwaitingCode:
		return s.timer
	case Phone:
		return s.timer
	}
	return ""
}

// CanSend reports whether "Send OTP" is enabled.
func (m *Machine) CanSend() bool {
	s, ok := m.state.(Phone)
	return ok && s.Lockout == 0 && s.Candidate.Valid()
}

// CanVerify reports whether "Verify" is enabled.
func (m *Machine) CanVerify() bool {
	s, ok := m.state.(AwaitingCode)
	return ok && s.Code.Complete()
}

// CanResend reports whether "Resend" is enabled.
func (m *Machine) CanResend() bool {
	s, ok := m.state.(AwaitingCode)
	return ok && s.Session.ResendCooldown == 0
}

// Apply advances the machine and returns the effects to perform. Events that
// do not apply to the current stage are ignored.
func (m *Machine) Apply(ev Event) []Effect {
	switch s := m.state.(type) {
	case Phone:
		return m.applyPhone(s, ev)
	case Dispatching:
		return m.applyDispatching(s, ev)
	case AwaitingCode:
		return m.applyAwaiting(s, ev)
	case Verifying:
		return m.applyVerifying(s, ev)
	case Exhausted:
		if _, ok := ev.(ReturnToPhone); ok {
			next := Phone{Candidate: s.Candidate, Notice: s.Message}
			if s.RateLimited {
				return m.lockout(next, s.Message, false)
			}
			m.state = next
		}
		return nil
	}
	return nil
}

func (m *Machine) applyPhone(s Phone, ev Event) []Effect {
	switch e := ev.(type) {
	case PhoneEdited:
		s.Candidate.NationalNumber = phone.SanitizeDigits(e.Raw)
		s.Error = ""
		m.state = s
	case CountryChanged:
		if phone.IndexOf(m.settings.Countries, e.Code) < 0 {
			return nil
		}
		s.Candidate.CountryCode = phone.NormalizeCountryCode(e.Code)
		s.Error = ""
		m.state = s
	case SendRequested:
		if s.Lockout > 0 {
			return nil
		}
		if !s.Candidate.Valid() {
			s.Error = msgInvalidPhone
			m.state = s
			return nil
		}
		m.state = Dispatching{Candidate: s.Candidate}
		return []Effect{SendEffect{Phone: s.Candidate.Full()}}
	case Tick:
		if s.timer == "" || e.Timer != s.timer {
			return nil
		}
		if s.Lockout > 0 {
			s.Lockout--
		}
		if s.Lockout == 0 {
			s.timer = ""
			s.Error = ""
		}
		m.state = s
	}
	return nil
}

func (m *Machine) applyDispatching(s Dispatching, ev Event) []Effect {
	switch e := ev.(type) {
	case SendSucceeded:
		expires := e.ExpiresIn
		if expires <= 0 {
			expires = m.settings.DefaultExpiry
		}
		if s.Session != nil {
			session := *s.Session
			session.ExpiresIn = expires
			session.ResendCooldown = m.settings.ResendCooldown
			return m.await(session, Code{},
				NotifyEffect{Level: LevelSuccess, Message: msgResent})
		}
		session := Session{
			ID:                m.newID(),
			Candidate:         s.Candidate,
			ExpiresIn:         expires,
			ResendCooldown:    m.settings.ResendCooldown,
			AttemptsRemaining: m.settings.MaxAttempts,
		}
		return m.await(session, Code{},
			NotifyEffect{Level: LevelSuccess, Message: fmt.Sprintf("OTP sent to %s", session.Phone())})
	case SendFailed:
		msg := otpapi.UserMessage(e.Err)
		if otpapi.IsRateLimited(e.Err) {
			return m.lockout(Phone{Candidate: s.Candidate}, msg, true)
		}
		notify := NotifyEffect{Level: LevelError, Message: msg}
		if s.Session != nil {
			return m.await(*s.Session, Code{}, notify)
		}
		m.state = Phone{Candidate: s.Candidate, Error: msg}
		return []Effect{notify}
	}
	return nil
}

func (m *Machine) applyAwaiting(s AwaitingCode, ev Event) []Effect {
	switch e := ev.(type) {
	case DigitTyped:
		if e.Digit < '0' || e.Digit > '9' {
			return nil
		}
		code, submit := s.Code.typeDigit(byte(e.Digit))
		return m.edited(s, code, submit)
	case Backspace:
		return m.edited(s, s.Code.backspace(), false)
	case MoveLeft:
		return m.edited(s, s.Code.move(-1), false)
	case MoveRight:
		return m.edited(s, s.Code.move(1), false)
	case Pasted:
		code, submit, ok := s.Code.paste(e.Text)
		if !ok {
			return nil
		}
		return m.edited(s, code, submit)
	case VerifyRequested:
		if !s.Code.Complete() {
			s.Error = msgIncompleteCode
			m.state = s
			return nil
		}
		return m.submit(s.Session, s.Code)
	case ResendRequested:
		if s.Session.ResendCooldown > 0 {
			return nil
		}
		session := s.Session
		m.state = Dispatching{Candidate: session.Candidate, Session: &session}
		return []Effect{ResendEffect{Phone: session.Phone()}}
	case ChangeNumber:
		m.state = Phone{Candidate: s.Session.Candidate}
		return nil
	case Tick:
		if e.Timer != s.timer {
			return nil
		}
		if s.Session.ExpiresIn > 0 {
			s.Session.ExpiresIn--
		}
		if s.Session.ResendCooldown > 0 {
			s.Session.ResendCooldown--
		}
		if s.Session.ExpiresIn == 0 {
			m.state = Phone{Candidate: s.Session.Candidate, Notice: msgExpired}
			return []Effect{NotifyEffect{Level: LevelWarning, Message: msgExpired}}
		}
		m.state = s
	}
	return nil
}

func (m *Machine) applyVerifying(s Verifying, ev Event) []Effect {
	switch e := ev.(type) {
	case VerifySucceeded:
		result := Result{Phone: s.Session.Phone(), Verified: true, Timestamp: m.clock().UTC()}
		m.state = Success{Result: result}
		return []Effect{
			NotifyEffect{Level: LevelSuccess, Message: msgVerified},
			CompleteEffect{Result: result, After: m.settings.SuccessDelay},
		}
	case VerifyFailed:
		kind := otpapi.KindOf(e.Err)
		switch kind {
		case otpapi.KindRateLimited:
			return m.exhaust(s.Session, msgRateLimited, true)
		case otpapi.KindExpired:
			m.state = Phone{Candidate: s.Session.Candidate, Notice: msgExpired}
			return []Effect{NotifyEffect{Level: LevelWarning, Message: msgExpired}}
		case otpapi.KindRejected:
			session := s.Session
			session.AttemptsRemaining = nextAttempts(session.AttemptsRemaining, e.Err)
			if session.AttemptsRemaining == 0 {
				return m.exhaust(session, msgExhausted, false)
			}
			msg := fmt.Sprintf("Invalid OTP. %d attempt(s) remaining", session.AttemptsRemaining)
			return m.await(session, Code{}, NotifyEffect{Level: LevelWarning, Message: msg})
		default:
			return m.await(s.Session, s.Code, NotifyEffect{Level: LevelError, Message: otpapi.UserMessage(e.Err)})
		}
	}
	return nil
}

// nextAttempts consumes one attempt and lets the server lower the count
// further; the result never exceeds current-1 and never drops below 0.
func nextAttempts(current int, err error) int {
	next := current - 1
	if left, ok := otpapi.AttemptsLeft(err); ok && left < next {
		next = left
	}
	if next < 0 {
		next = 0
	}
	return next
}

func (m *Machine) edited(s AwaitingCode, code Code, submit bool) []Effect {
	if submit {
		return m.submit(s.Session, code)
	}
	s.Code = code
	s.Error = ""
	m.state = s
	return nil
}

func (m *Machine) submit(session Session, code Code) []Effect {
	m.state = Verifying{Session: session, Code: code}
	return []Effect{VerifyEffect{Phone: session.Phone(), Code: code.Value()}}
}

func (m *Machine) await(session Session, code Code, extra ...Effect) []Effect {
	timer := m.newID()
	m.state = AwaitingCode{Session: session, Code: code, timer: timer}
	effects := append([]Effect{}, extra...)
	return append(effects, TimerEffect{Timer: timer})
}

func (m *Machine) exhaust(session Session, msg string, rateLimited bool) []Effect {
	m.state = Exhausted{Candidate: session.Candidate, Message: msg, RateLimited: rateLimited}
	return []Effect{
		NotifyEffect{Level: LevelError, Message: msg},
		ReturnEffect{After: m.settings.ReturnDelay},
	}
}

func (m *Machine) lockout(next Phone, msg string, notify bool) []Effect {
	timer := m.newID()
	next.Lockout = m.settings.SendLockout
	next.timer = timer
	if strings.TrimSpace(msg) == "" {
		msg = fmt.Sprintf(msgLockoutTemplate, next.Lockout)
	}
	next.Error = msg
	m.state = next
	if !notify {
		return []Effect{TimerEffect{Timer: timer}}
	}
	return []Effect{
		NotifyEffect{Level: LevelError, Message: msg},
		TimerEffect{Timer: timer},
	}
}

// LockoutMessage renders the remaining send lockout for display.
func LockoutMessage(seconds int) string {
	return fmt.Sprintf(msgLockoutTemplate, seconds)
}
