package otpflow

import (
	"fmt"
	"testing"
	"time"

	"github.com/kingrea/borrowease-verify/internal/otpapi"
)

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestMachine(t *testing.T) *Machine {
	t.Helper()
	n := 0
	return New(DefaultSettings(),
		WithClock(func() time.Time { return fixedNow }),
		WithIDs(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}))
}

// awaitingMachine drives a fresh machine to AwaitingCode for 9876543210.
func awaitingMachine(t *testing.T) *Machine {
	t.Helper()
	m := newTestMachine(t)
	m.Apply(PhoneEdited{Raw: "9876543210"})
	if effects := m.Apply(SendRequested{}); len(effects) != 1 {
		t.Fatalf("expected a single send effect, got %v", effects)
	}
	m.Apply(SendSucceeded{ExpiresIn: 300})
	if _, ok := m.State().(AwaitingCode); !ok {
		t.Fatalf("expected AwaitingCode, got %T", m.State())
	}
	return m
}

func awaiting(t *testing.T, m *Machine) AwaitingCode {
	t.Helper()
	s, ok := m.State().(AwaitingCode)
	if !ok {
		t.Fatalf("expected AwaitingCode, got %T", m.State())
	}
	return s
}

func rejected(left int) error {
	return &otpapi.Error{Kind: otpapi.KindRejected, Op: "verify", Message: "Invalid OTP", AttemptsLeft: &left}
}

func findEffect[T Effect](effects []Effect) (T, bool) {
	var zero T
	for _, e := range effects {
		if typed, ok := e.(T); ok {
			return typed, true
		}
	}
	return zero, false
}

func TestSendScenarioStartsCountdowns(t *testing.T) {
	m := newTestMachine(t)
	m.Apply(PhoneEdited{Raw: "98765 43210"})
	if !m.CanSend() {
		t.Fatalf("valid default-country number should enable send")
	}
	effects := m.Apply(SendRequested{})
	send, ok := findEffect[SendEffect](effects)
	if !ok || send.Phone != "+919876543210" {
		t.Fatalf("expected send effect for +919876543210, got %v", effects)
	}
	if !m.Busy() {
		t.Fatalf("dispatching must be busy")
	}
	effects = m.Apply(SendSucceeded{ExpiresIn: 300})
	s := awaiting(t, m)
	if s.Session.ExpiresIn != 300 || s.Session.ResendCooldown != 60 || s.Session.AttemptsRemaining != 3 {
		t.Fatalf("unexpected session %+v", s.Session)
	}
	if s.Code.Focus != 0 {
		t.Fatalf("focus should start on cell 0")
	}
	if m.CanResend() {
		t.Fatalf("resend must be disabled during cooldown")
	}
	timer, ok := findEffect[TimerEffect](effects)
	if !ok || timer.Timer != m.Timer() || timer.Timer == "" {
		t.Fatalf("expected a timer effect matching the active timer, got %v", effects)
	}
}

func TestSendDefaultsExpiryWhenMissing(t *testing.T) {
	m := newTestMachine(t)
	m.Apply(PhoneEdited{Raw: "9876543210"})
	m.Apply(SendRequested{})
	m.Apply(SendSucceeded{})
	if got := awaiting(t, m).Session.ExpiresIn; got != 300 {
		t.Fatalf("expiry = %d, want default 300", got)
	}
}

func TestInvalidPhoneStaysOnPhoneStage(t *testing.T) {
	m := newTestMachine(t)
	m.Apply(PhoneEdited{Raw: "5876543210"})
	if m.CanSend() {
		t.Fatalf("leading 5 is invalid for the default country")
	}
	if effects := m.Apply(SendRequested{}); len(effects) != 0 {
		t.Fatalf("invalid phone must not produce effects, got %v", effects)
	}
	s, ok := m.State().(Phone)
	if !ok || s.Error == "" {
		t.Fatalf("expected inline validation error, got %#v", m.State())
	}
	m.Apply(PhoneEdited{Raw: "9876543210"})
	if s := m.State().(Phone); s.Error != "" {
		t.Fatalf("editing should clear the validation error")
	}
}

func TestCountryChangeUsesLenientRule(t *testing.T) {
	m := newTestMachine(t)
	m.Apply(PhoneEdited{Raw: "0123456789012"})
	if m.CanSend() {
		t.Fatalf("13 digits are invalid for +91")
	}
	m.Apply(CountryChanged{Code: "+44"})
	if !m.CanSend() {
		t.Fatalf("13 digits are valid for +44")
	}
	m.Apply(CountryChanged{Code: "+999"})
	if got := m.State().(Phone).Candidate.CountryCode; got != "+44" {
		t.Fatalf("unsupported country should be ignored, got %s", got)
	}
	send, _ := findEffect[SendEffect](m.Apply(SendRequested{}))
	if send.Phone != "+440123456789012" {
		t.Fatalf("unexpected phone %s", send.Phone)
	}
}

func TestStrictRuleStaysWithIndiaWhenDefaultMoves(t *testing.T) {
	settings := DefaultSettings()
	settings.DefaultCountry = "+44"
	m := New(settings, WithClock(func() time.Time { return fixedNow }))
	if got := m.State().(Phone).Candidate.CountryCode; got != "+44" {
		t.Fatalf("configured default not selected, got %s", got)
	}
	m.Apply(PhoneEdited{Raw: "0123456789"})
	if !m.CanSend() {
		t.Fatalf("+44 keeps the 10-15 digit rule as the default country")
	}
	m.Apply(CountryChanged{Code: "+91"})
	if m.CanSend() {
		t.Fatalf("+91 keeps the 6-9 leading digit rule when it is not the default")
	}
}

func TestSendTransportErrorRemainsOnPhone(t *testing.T) {
	m := newTestMachine(t)
	m.Apply(PhoneEdited{Raw: "9876543210"})
	m.Apply(SendRequested{})
	effects := m.Apply(SendFailed{Err: &otpapi.Error{Kind: otpapi.KindTransport, Op: "send"}})
	s, ok := m.State().(Phone)
	if !ok {
		t.Fatalf("expected Phone, got %T", m.State())
	}
	if s.Candidate.NationalNumber != "9876543210" || s.Lockout != 0 {
		t.Fatalf("number must be kept and no lockout applied: %+v", s)
	}
	if n, ok := findEffect[NotifyEffect](effects); !ok || n.Level != LevelError {
		t.Fatalf("expected an error notification, got %v", effects)
	}
	if !m.CanSend() {
		t.Fatalf("user can retry after a transport error")
	}
}

func TestSendRateLimitLocksSending(t *testing.T) {
	m := newTestMachine(t)
	m.Apply(PhoneEdited{Raw: "9876543210"})
	m.Apply(SendRequested{})
	effects := m.Apply(SendFailed{Err: &otpapi.Error{Kind: otpapi.KindRateLimited, Op: "send", Status: 429}})
	s := m.State().(Phone)
	if s.Lockout != 60 {
		t.Fatalf("lockout = %d, want 60", s.Lockout)
	}
	if m.CanSend() {
		t.Fatalf("send must be disabled during lockout")
	}
	if effects := m.Apply(SendRequested{}); len(effects) != 0 {
		t.Fatalf("no retry storm: send during lockout must be a no-op")
	}
	timer, ok := findEffect[TimerEffect](effects)
	if !ok {
		t.Fatalf("lockout needs a timer")
	}
	for i := 0; i < 60; i++ {
		m.Apply(Tick{Timer: timer.Timer})
	}
	if !m.CanSend() {
		t.Fatalf("send should be re-enabled after lockout, state %+v", m.State())
	}
	if m.Timer() != "" {
		t.Fatalf("lockout timer should stop at zero")
	}
}

func TestSequentialDigitsAutoSubmitExactlyOnce(t *testing.T) {
	m := awaitingMachine(t)
	var verifies int
	for i, d := range "123456" {
		effects := m.Apply(DigitTyped{Digit: d})
		if v, ok := findEffect[VerifyEffect](effects); ok {
			verifies++
			if v.Code != "123456" || v.Phone != "+919876543210" {
				t.Fatalf("unexpected verify effect %+v", v)
			}
			continue
		}
		s := awaiting(t, m)
		if s.Code.Focus != i+1 {
			t.Fatalf("after digit %d focus = %d, want %d", i, s.Code.Focus, i+1)
		}
		if s.Code.Cell(s.Code.Focus) != "" {
			t.Fatalf("focus should rest on the next empty cell")
		}
	}
	if verifies != 1 {
		t.Fatalf("expected exactly one auto-submit, got %d", verifies)
	}
	if _, ok := m.State().(Verifying); !ok {
		t.Fatalf("expected Verifying, got %T", m.State())
	}
	if effects := m.Apply(DigitTyped{Digit: '7'}); len(effects) != 0 {
		t.Fatalf("input while verifying must be ignored")
	}
	if effects := m.Apply(VerifyRequested{}); len(effects) != 0 {
		t.Fatalf("no second submission while verifying")
	}
}

func TestNonDigitsIgnored(t *testing.T) {
	m := awaitingMachine(t)
	m.Apply(DigitTyped{Digit: 'a'})
	if s := awaiting(t, m); s.Code.Filled() != 0 || s.Code.Focus != 0 {
		t.Fatalf("letters must not be stored: %+v", s.Code)
	}
}

func TestPasteFillsAndSubmits(t *testing.T) {
	m := awaitingMachine(t)
	effects := m.Apply(Pasted{Text: "654321"})
	v, ok := findEffect[VerifyEffect](effects)
	if !ok || v.Code != "654321" {
		t.Fatalf("paste of 6 digits should auto-submit, got %v", effects)
	}
	s := m.State().(Verifying)
	for i, want := range "654321" {
		if s.Code.Cell(i) != string(want) {
			t.Fatalf("cell %d = %q, want %c", i, s.Code.Cell(i), want)
		}
	}
}

func TestPartialPasteFocusesLastFilled(t *testing.T) {
	m := awaitingMachine(t)
	if effects := m.Apply(Pasted{Text: "12-3"}); len(effects) != 0 {
		t.Fatalf("partial paste must not submit, got %v", effects)
	}
	s := awaiting(t, m)
	if s.Code.Value() != "123" || s.Code.Focus != 2 {
		t.Fatalf("unexpected code after paste: %+v", s.Code)
	}
	if effects := m.Apply(Pasted{Text: "abc"}); len(effects) != 0 {
		t.Fatalf("paste without digits is ignored")
	}
	if s2 := awaiting(t, m); s2.Code != s.Code {
		t.Fatalf("paste without digits must not change the code")
	}
}

func TestBackspaceAndArrows(t *testing.T) {
	m := awaitingMachine(t)
	m.Apply(DigitTyped{Digit: '1'})
	m.Apply(DigitTyped{Digit: '2'})
	// focus is on empty cell 2: backspace steps back without clearing
	m.Apply(Backspace{})
	s := awaiting(t, m)
	if s.Code.Focus != 1 || s.Code.Value() != "12" {
		t.Fatalf("backspace on empty cell should move left: %+v", s.Code)
	}
	// on a filled cell it clears in place
	m.Apply(Backspace{})
	s = awaiting(t, m)
	if s.Code.Focus != 1 || s.Code.Value() != "1" {
		t.Fatalf("backspace on filled cell should clear it: %+v", s.Code)
	}
	m.Apply(MoveLeft{})
	m.Apply(MoveLeft{})
	if s = awaiting(t, m); s.Code.Focus != 0 || s.Code.Value() != "1" {
		t.Fatalf("arrows move without editing: %+v", s.Code)
	}
	for i := 0; i < 10; i++ {
		m.Apply(MoveRight{})
	}
	if s = awaiting(t, m); s.Code.Focus != CodeLength-1 {
		t.Fatalf("focus must clamp at the last cell, got %d", s.Code.Focus)
	}
}

func TestManualVerifyRequiresAllCells(t *testing.T) {
	m := awaitingMachine(t)
	m.Apply(Pasted{Text: "12345"})
	if m.CanVerify() {
		t.Fatalf("verify must be disabled with an empty cell")
	}
	if effects := m.Apply(VerifyRequested{}); len(effects) != 0 {
		t.Fatalf("incomplete code must not be submitted")
	}
	if s := awaiting(t, m); s.Error == "" {
		t.Fatalf("expected an inline hint")
	}
	// filling cell 5 out of order via arrows then manual verify
	m.Apply(MoveRight{})
	effects := m.Apply(DigitTyped{Digit: '6'})
	if _, ok := findEffect[VerifyEffect](effects); !ok {
		t.Fatalf("typing the last cell with all filled should submit")
	}
}

func TestTicksCountDownIndependently(t *testing.T) {
	m := awaitingMachine(t)
	timer := m.Timer()
	for i := 0; i < 60; i++ {
		m.Apply(Tick{Timer: timer})
	}
	s := awaiting(t, m)
	if s.Session.ResendCooldown != 0 || s.Session.ExpiresIn != 240 {
		t.Fatalf("unexpected countdowns %+v", s.Session)
	}
	if !m.CanResend() {
		t.Fatalf("resend should be enabled once cooldown is 0")
	}
	m.Apply(Tick{Timer: timer})
	if s = awaiting(t, m); s.Session.ResendCooldown != 0 || s.Session.ExpiresIn != 239 {
		t.Fatalf("cooldown must not go negative: %+v", s.Session)
	}
}

func TestStaleTickIgnored(t *testing.T) {
	m := awaitingMachine(t)
	m.Apply(Tick{Timer: "not-the-timer"})
	if s := awaiting(t, m); s.Session.ExpiresIn != 300 {
		t.Fatalf("stale tick must not count down")
	}
}

func TestServerExpiryOnVerifyReturnsToPhone(t *testing.T) {
	m := awaitingMachine(t)
	m.Apply(Pasted{Text: "123456"})
	if _, ok := m.State().(Verifying); !ok {
		t.Fatalf("full paste should verify, got %T", m.State())
	}
	effects := m.Apply(VerifyFailed{Err: &otpapi.Error{Kind: otpapi.KindExpired, Op: "verify", Status: 410}})
	s, ok := m.State().(Phone)
	if !ok {
		t.Fatalf("an expired code must return to Phone, got %T", m.State())
	}
	if s.Notice == "" || s.Candidate.NationalNumber != "9876543210" {
		t.Fatalf("expected an expiry notice and the number kept: %+v", s)
	}
	if n, ok := findEffect[NotifyEffect](effects); !ok || n.Level != LevelWarning {
		t.Fatalf("expiry is a warning, got %v", effects)
	}
	if _, ok := findEffect[ReturnEffect](effects); ok {
		t.Fatalf("expiry is not exhaustion")
	}
	if m.Timer() != "" {
		t.Fatalf("no countdown may run after expiry")
	}
}

func TestExpiryReturnsToPhoneWithoutCode(t *testing.T) {
	m := awaitingMachine(t)
	m.Apply(Pasted{Text: "123"})
	timer := m.Timer()
	var effects []Effect
	for i := 0; i < 300; i++ {
		effects = m.Apply(Tick{Timer: timer})
	}
	s, ok := m.State().(Phone)
	if !ok {
		t.Fatalf("expiry must return to Phone, got %T", m.State())
	}
	if s.Notice == "" || s.Candidate.NationalNumber != "9876543210" {
		t.Fatalf("expected an expiry notice and the number kept: %+v", s)
	}
	if n, ok := findEffect[NotifyEffect](effects); !ok || n.Level != LevelWarning {
		t.Fatalf("expiry is a warning, got %v", effects)
	}
	if m.Timer() != "" {
		t.Fatalf("no countdown may run on the phone stage after expiry")
	}
}

func TestResendDuringCooldownIsNoop(t *testing.T) {
	m := awaitingMachine(t)
	if effects := m.Apply(ResendRequested{}); len(effects) != 0 {
		t.Fatalf("resend during cooldown must not call the network, got %v", effects)
	}
	if _, ok := m.State().(AwaitingCode); !ok {
		t.Fatalf("state must not change")
	}
}

func TestResendClearsCodeAndResetsTimers(t *testing.T) {
	m := awaitingMachine(t)
	timer := m.Timer()
	for i := 0; i < 70; i++ {
		m.Apply(Tick{Timer: timer})
	}
	m.Apply(Pasted{Text: "12"})
	m.Apply(VerifyRequested{})
	m.Apply(Pasted{Text: "999999"})
	m.Apply(VerifyFailed{Err: rejected(2)})
	m.Apply(Pasted{Text: "12"})
	before := awaiting(t, m)
	effects := m.Apply(ResendRequested{})
	resend, ok := findEffect[ResendEffect](effects)
	if !ok || resend.Phone != "+919876543210" {
		t.Fatalf("expected resend effect, got %v", effects)
	}
	d, ok := m.State().(Dispatching)
	if !ok || !d.Resend() {
		t.Fatalf("expected resend dispatch, got %#v", m.State())
	}
	m.Apply(SendSucceeded{ExpiresIn: 120})
	after := awaiting(t, m)
	if after.Code.Filled() != 0 || after.Code.Focus != 0 {
		t.Fatalf("resend must clear partial code: %+v", after.Code)
	}
	if after.Session.ExpiresIn != 120 || after.Session.ResendCooldown != 60 {
		t.Fatalf("timers not reset: %+v", after.Session)
	}
	if after.Session.ID != before.Session.ID {
		t.Fatalf("resend keeps the session")
	}
	if after.Session.AttemptsRemaining != before.Session.AttemptsRemaining {
		t.Fatalf("resend must not restore attempts: %d -> %d", before.Session.AttemptsRemaining, after.Session.AttemptsRemaining)
	}
	if m.Timer() == timer {
		t.Fatalf("resend should start a fresh timer")
	}
}

func TestResendTransportFailureReturnsToCodeEntry(t *testing.T) {
	m := awaitingMachine(t)
	timer := m.Timer()
	for i := 0; i < 60; i++ {
		m.Apply(Tick{Timer: timer})
	}
	m.Apply(ResendRequested{})
	m.Apply(SendFailed{Err: &otpapi.Error{Kind: otpapi.KindServer, Status: 503}})
	s := awaiting(t, m)
	if s.Session.ExpiresIn != 240 {
		t.Fatalf("failed resend keeps the previous session, got %+v", s.Session)
	}
}

func TestVerifySuccessCompletesAfterDelay(t *testing.T) {
	m := awaitingMachine(t)
	m.Apply(Pasted{Text: "123456"})
	effects := m.Apply(VerifySucceeded{})
	s, ok := m.State().(Success)
	if !ok {
		t.Fatalf("expected Success, got %T", m.State())
	}
	want := Result{Phone: "+919876543210", Verified: true, Timestamp: fixedNow}
	if s.Result != want {
		t.Fatalf("result = %+v, want %+v", s.Result, want)
	}
	done, ok := findEffect[CompleteEffect](effects)
	if !ok || done.After != 1500*time.Millisecond || done.Result != want {
		t.Fatalf("expected completion after 1.5s, got %v", effects)
	}
	if m.Timer() != "" {
		t.Fatalf("success stops all timers")
	}
}

func TestRejectedCodeDecrementsAttempts(t *testing.T) {
	m := awaitingMachine(t)
	m.Apply(Pasted{Text: "111111"})
	effects := m.Apply(VerifyFailed{Err: &otpapi.Error{Kind: otpapi.KindRejected, Message: "Invalid OTP"}})
	s := awaiting(t, m)
	if s.Session.AttemptsRemaining != 2 {
		t.Fatalf("attempts = %d, want 2", s.Session.AttemptsRemaining)
	}
	if s.Code.Filled() != 0 || s.Code.Focus != 0 {
		t.Fatalf("failed verify clears digits and refocuses cell 0: %+v", s.Code)
	}
	if _, ok := findEffect[TimerEffect](effects); !ok {
		t.Fatalf("countdown must resume after verify")
	}
}

func TestServerAttemptsNeverIncrease(t *testing.T) {
	m := awaitingMachine(t)
	m.Apply(Pasted{Text: "111111"})
	m.Apply(VerifyFailed{Err: rejected(1)})
	if got := awaiting(t, m).Session.AttemptsRemaining; got != 1 {
		t.Fatalf("server value should win when lower, got %d", got)
	}
	m.Apply(Pasted{Text: "222222"})
	m.Apply(VerifyFailed{Err: rejected(5)})
	if _, ok := m.State().(Exhausted); !ok {
		t.Fatalf("a higher server value must not restore attempts; expected Exhausted, got %T", m.State())
	}
}

func TestAttemptsExhaustedReturnsToPhone(t *testing.T) {
	m := awaitingMachine(t)
	m.Apply(Pasted{Text: "123456"})
	effects := m.Apply(VerifyFailed{Err: rejected(0)})
	ex, ok := m.State().(Exhausted)
	if !ok {
		t.Fatalf("expected Exhausted, got %T", m.State())
	}
	if ex.Message == "" {
		t.Fatalf("exhausted state needs a message")
	}
	ret, ok := findEffect[ReturnEffect](effects)
	if !ok || ret.After <= 0 {
		t.Fatalf("expected delayed return, got %v", effects)
	}
	if effects := m.Apply(DigitTyped{Digit: '1'}); len(effects) != 0 {
		t.Fatalf("exhausted state accepts no input")
	}
	m.Apply(ReturnToPhone{})
	s, ok := m.State().(Phone)
	if !ok {
		t.Fatalf("expected Phone after return, got %T", m.State())
	}
	if s.Lockout != 0 || !m.CanSend() {
		t.Fatalf("plain exhaustion does not lock sending: %+v", s)
	}
}

func TestVerifyRateLimitLocksAfterReturn(t *testing.T) {
	m := awaitingMachine(t)
	m.Apply(Pasted{Text: "123456"})
	m.Apply(VerifyFailed{Err: &otpapi.Error{Kind: otpapi.KindRateLimited, Status: 429}})
	if _, ok := m.State().(Exhausted); !ok {
		t.Fatalf("429 must end the attempt, got %T", m.State())
	}
	effects := m.Apply(ReturnToPhone{})
	s := m.State().(Phone)
	if s.Lockout != 60 || m.CanSend() {
		t.Fatalf("429 should lock sending after return: %+v", s)
	}
	if _, ok := findEffect[NotifyEffect](effects); ok {
		t.Fatalf("the lockout message was already shown")
	}
}

func TestVerifyTransportErrorKeepsAttemptsAndCode(t *testing.T) {
	m := awaitingMachine(t)
	m.Apply(Pasted{Text: "123456"})
	m.Apply(VerifyFailed{Err: fmt.Errorf("dial tcp: refused")})
	s := awaiting(t, m)
	if s.Session.AttemptsRemaining != 3 {
		t.Fatalf("transport errors do not consume attempts")
	}
	if s.Code.Value() != "123456" || !m.CanVerify() {
		t.Fatalf("user can retry the same code: %+v", s.Code)
	}
}

func TestAttemptsMonotonicAcrossSession(t *testing.T) {
	m := awaitingMachine(t)
	prev := awaiting(t, m).Session.AttemptsRemaining
	for _, left := range []int{2, 2} {
		m.Apply(Pasted{Text: "000000"})
		m.Apply(VerifyFailed{Err: rejected(left)})
		s, ok := m.State().(AwaitingCode)
		if !ok {
			break
		}
		if s.Session.AttemptsRemaining > prev || s.Session.AttemptsRemaining < 0 {
			t.Fatalf("attempts went from %d to %d", prev, s.Session.AttemptsRemaining)
		}
		prev = s.Session.AttemptsRemaining
	}
	if prev != 1 {
		t.Fatalf("expected 1 attempt left after two failures, got %d", prev)
	}
}

func TestChangeNumberAbandonsSession(t *testing.T) {
	m := awaitingMachine(t)
	m.Apply(ChangeNumber{})
	s, ok := m.State().(Phone)
	if !ok || s.Candidate.NationalNumber != "9876543210" {
		t.Fatalf("expected Phone with the previous number, got %#v", m.State())
	}
	if m.Timer() != "" {
		t.Fatalf("changing number cancels countdowns")
	}
}
