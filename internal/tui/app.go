// internal/tui/app.go
//
// This is the terminal front-end for phone verification.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: the otpflow.Machine plus widget state
// 2. Update: key presses and API replies become otpflow events
// 3. View: renders the current stage
//
// The machine never touches the network or the clock. It returns effects,
// and the App turns each effect into a tea.Cmd.

package tui

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/bubbles/cursor"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/borrowease-verify/internal/logbook"
	"github.com/kingrea/borrowease-verify/internal/otpapi"
	"github.com/kingrea/borrowease-verify/internal/otpflow"
	"github.com/kingrea/borrowease-verify/internal/phone"
)

// Verifier performs the three API calls. *otpapi.Client satisfies it.
type Verifier interface {
	Send(ctx context.Context, phone string) (otpapi.SendResult, error)
	Resend(ctx context.Context, phone string) (otpapi.SendResult, error)
	Verify(ctx context.Context, phone, code string) error
}

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithVerifier sets the API the App talks to. Required.
func WithVerifier(v Verifier) AppOption {
	return func(a *App) {
		if v != nil {
			a.verifier = v
		}
	}
}

// WithNotifier mirrors notifications to n. Defaults to the logbook.
func WithNotifier(n Notifier) AppOption {
	return func(a *App) {
		if n != nil {
			a.notifier = n
		}
	}
}

// WithTheme overrides DefaultTheme.
func WithTheme(theme Theme) AppOption {
	return func(a *App) {
		a.theme = theme
	}
}

// WithCompletion is called with the result once verification succeeds,
// right before the program quits.
func WithCompletion(fn func(otpflow.Result)) AppOption {
	return func(a *App) {
		a.onComplete = fn
	}
}

// WithClock overrides the clock used for the result timestamp.
func WithClock(clock func() time.Time) AppOption {
	return func(a *App) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithLogbook records the journey to lb and shows its tail.
func WithLogbook(lb *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = lb
	}
}

// WithContext bounds every API call; cancelling it aborts calls in flight.
func WithContext(ctx context.Context) AppOption {
	return func(a *App) {
		if ctx != nil {
			a.ctx = ctx
		}
	}
}

// withScheduler replaces tea.Tick for delayed messages.
func withScheduler(fn func(time.Duration, tea.Msg) tea.Cmd) AppOption {
	return func(a *App) {
		if fn != nil {
			a.after = fn
		}
	}
}

type sendResultMsg struct {
	resend bool
	result otpapi.SendResult
	err    error
}

type verifyResultMsg struct{ err error }

type tickMsg struct{ timer string }

type completeMsg struct{ result otpflow.Result }

type returnMsg struct{}

// App is the bubbletea model for the verification flow.
type App struct {
	machine  *otpflow.Machine
	settings otpflow.Settings
	verifier Verifier
	notifier Notifier
	logbook  *logbook.Logbook
	theme    Theme
	keys     keyMap
	ctx      context.Context
	clock    func() time.Time
	after    func(time.Duration, tea.Msg) tea.Cmd

	onComplete func(otpflow.Result)
	result     *otpflow.Result

	// UI components
	input   textinput.Model
	spinner spinner.Model
	help    help.Model
	toast   *toast
	seq     int

	width  int
	height int
}

// NewApp builds the App in the phone stage.
func NewApp(settings otpflow.Settings, opts ...AppOption) (*App, error) {
	a := &App{
		theme: DefaultTheme(),
		keys:  defaultKeyMap(),
		ctx:   context.Background(),
		clock: func() time.Time { return time.Now().UTC() },
		after: func(d time.Duration, msg tea.Msg) tea.Cmd {
			return tea.Tick(d, func(time.Time) tea.Msg { return msg })
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.verifier == nil {
		return nil, errors.New("tui: a verifier is required")
	}
	if a.notifier == nil {
		a.notifier = logbookNotifier{lb: a.logbook}
	}
	a.machine = otpflow.New(settings, otpflow.WithClock(a.clock))
	a.settings = a.machine.Settings()

	input := textinput.New()
	input.Placeholder = "98765 43210"
	input.CharLimit = phone.MaxDigits
	input.Width = phone.MaxDigits + 2
	input.Prompt = ""
	input.Cursor.SetMode(cursor.CursorStatic)
	input.Focus()
	a.input = input

	a.spinner = spinner.New(spinner.WithSpinner(spinner.Dot))
	a.help = help.New()

	a.logInfo("Session opened · default country %s", a.settings.DefaultCountry)
	return a, nil
}

// Result returns the verification result once the flow has completed.
func (a *App) Result() (otpflow.Result, bool) {
	if a.result == nil {
		return otpflow.Result{}, false
	}
	return *a.result, true
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.spinner.Tick
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.help.Width = msg.Width
		return a, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case tea.KeyMsg:
		if key.Matches(msg, a.keys.Quit) {
			a.logInfo("Session closed by user")
			return a, tea.Quit
		}
		return a.handleKey(msg)

	case sendResultMsg:
		return a, a.handleSendResult(msg)

	case verifyResultMsg:
		return a, a.handleVerifyResult(msg)

	case tickMsg:
		cmd := a.apply(otpflow.Tick{Timer: msg.timer})
		if a.machine.Timer() == msg.timer {
			cmd = tea.Batch(cmd, a.tick(msg.timer))
		}
		return a, cmd

	case returnMsg:
		return a, a.apply(otpflow.ReturnToPhone{})

	case completeMsg:
		result := msg.result
		a.result = &result
		if a.onComplete != nil {
			a.onComplete(result)
		}
		return a, tea.Quit

	case toastExpiredMsg:
		if a.toast != nil && a.toast.seq == msg.seq {
			a.toast = nil
		}
		return a, nil
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch s := a.machine.State().(type) {
	case otpflow.Phone:
		switch {
		case key.Matches(msg, a.keys.Cancel):
			a.logInfo("Verification cancelled")
			return a, tea.Quit
		case key.Matches(msg, a.keys.Send):
			return a, a.apply(otpflow.SendRequested{})
		case key.Matches(msg, a.keys.NextCountry):
			return a, a.apply(otpflow.CountryChanged{Code: a.nextCountry(s.Candidate.CountryCode, 1)})
		case key.Matches(msg, a.keys.PrevCountry):
			return a, a.apply(otpflow.CountryChanged{Code: a.nextCountry(s.Candidate.CountryCode, -1)})
		}
		var cmd tea.Cmd
		a.input, cmd = a.input.Update(msg)
		return a, tea.Batch(cmd, a.apply(otpflow.PhoneEdited{Raw: a.input.Value()}))

	case otpflow.AwaitingCode:
		switch {
		case key.Matches(msg, a.keys.Verify):
			return a, a.apply(otpflow.VerifyRequested{})
		case key.Matches(msg, a.keys.Change):
			a.logInfo("Changing number")
			return a, a.apply(otpflow.ChangeNumber{})
		case key.Matches(msg, a.keys.Left):
			return a, a.apply(otpflow.MoveLeft{})
		case key.Matches(msg, a.keys.Right):
			return a, a.apply(otpflow.MoveRight{})
		case key.Matches(msg, a.keys.Delete):
			return a, a.apply(otpflow.Backspace{})
		}
		if msg.Type != tea.KeyRunes || len(msg.Runes) == 0 {
			if key.Matches(msg, a.keys.Resend) {
				return a, a.apply(otpflow.ResendRequested{})
			}
			return a, nil
		}
		if msg.Paste {
			return a, a.apply(otpflow.Pasted{Text: string(msg.Runes)})
		}
		if key.Matches(msg, a.keys.Resend) {
			return a, a.apply(otpflow.ResendRequested{})
		}
		// Fast typing can arrive as several runes in one message.
		cmds := make([]tea.Cmd, 0, len(msg.Runes))
		for _, r := range msg.Runes {
			cmds = append(cmds, a.apply(otpflow.DigitTyped{Digit: r}))
		}
		return a, tea.Batch(cmds...)
	}
	// Dispatching, Verifying, Exhausted and Success take no input.
	return a, nil
}

func (a *App) handleSendResult(msg sendResultMsg) tea.Cmd {
	op := "Send"
	if msg.resend {
		op = "Resend"
	}
	if msg.err != nil {
		a.logWarn("%s failed · %s", op, describe(msg.err))
		return a.apply(otpflow.SendFailed{Err: msg.err})
	}
	a.logInfo("%s ok · expires in %ds", op, msg.result.ExpiresIn)
	return a.apply(otpflow.SendSucceeded{ExpiresIn: msg.result.ExpiresIn})
}

func (a *App) handleVerifyResult(msg verifyResultMsg) tea.Cmd {
	if msg.err != nil {
		a.logWarn("Verify failed · %s", describe(msg.err))
		return a.apply(otpflow.VerifyFailed{Err: msg.err})
	}
	a.logInfo("Verify ok")
	return a.apply(otpflow.VerifySucceeded{})
}

// apply feeds ev to the machine and runs the resulting effects.
func (a *App) apply(ev otpflow.Event) tea.Cmd {
	effects := a.machine.Apply(ev)
	a.syncInput()
	cmds := make([]tea.Cmd, 0, len(effects))
	for _, effect := range effects {
		cmds = append(cmds, a.perform(effect))
	}
	return tea.Batch(cmds...)
}

func (a *App) perform(effect otpflow.Effect) tea.Cmd {
	switch e := effect.(type) {
	case otpflow.SendEffect:
		a.logInfo("Sending OTP to %s", phone.Mask(e.Phone))
		return a.dispatch(e.Phone, false)
	case otpflow.ResendEffect:
		a.logInfo("Resending OTP to %s", phone.Mask(e.Phone))
		return a.dispatch(e.Phone, true)
	case otpflow.VerifyEffect:
		a.logInfo("Verifying code for %s", phone.Mask(e.Phone))
		verifier, ctx := a.verifier, a.ctx
		number, code := e.Phone, e.Code
		return func() tea.Msg {
			return verifyResultMsg{err: verifier.Verify(ctx, number, code)}
		}
	case otpflow.NotifyEffect:
		return a.notify(e.Level, e.Message)
	case otpflow.TimerEffect:
		return a.tick(e.Timer)
	case otpflow.CompleteEffect:
		a.logInfo("Verified %s", phone.Mask(e.Result.Phone))
		return a.after(e.After, completeMsg{result: e.Result})
	case otpflow.ReturnEffect:
		return a.after(e.After, returnMsg{})
	}
	return nil
}

func (a *App) dispatch(number string, resend bool) tea.Cmd {
	verifier, ctx := a.verifier, a.ctx
	return func() tea.Msg {
		var (
			res otpapi.SendResult
			err error
		)
		if resend {
			res, err = verifier.Resend(ctx, number)
		} else {
			res, err = verifier.Send(ctx, number)
		}
		return sendResultMsg{resend: resend, result: res, err: err}
	}
}

func (a *App) tick(timer string) tea.Cmd {
	return a.after(time.Second, tickMsg{timer: timer})
}

func (a *App) notify(level otpflow.Level, message string) tea.Cmd {
	a.seq++
	a.toast = &toast{level: level, message: message, seq: a.seq}
	a.notifier.Notify(level, message)
	return a.after(toastTTL, toastExpiredMsg{seq: a.seq})
}

// syncInput keeps the text field in step with the machine: only digits are
// shown, and a return to the phone stage restores the number.
func (a *App) syncInput() {
	s, ok := a.machine.State().(otpflow.Phone)
	if !ok {
		a.input.Blur()
		return
	}
	if a.input.Value() != s.Candidate.NationalNumber {
		a.input.SetValue(s.Candidate.NationalNumber)
		a.input.CursorEnd()
	}
	if !a.input.Focused() {
		a.input.Focus()
	}
}

func (a *App) nextCountry(current string, step int) string {
	countries := a.settings.Countries
	if len(countries) == 0 {
		return current
	}
	idx := phone.IndexOf(countries, current)
	if idx < 0 {
		return countries[0].Code
	}
	idx = (idx + step + len(countries)) % len(countries)
	return countries[idx].Code
}

func describe(err error) string {
	kind := otpapi.KindOf(err)
	return string(kind) + ": " + err.Error()
}

func (a *App) logInfo(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Info(format, args...)
}

func (a *App) logWarn(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Warn(format, args...)
}
