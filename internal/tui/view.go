package tui

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/borrowease-verify/internal/otpflow"
	"github.com/kingrea/borrowease-verify/internal/phone"
)

const logPanelLines = 6

// View renders the current state to a string.
func (a *App) View() string {
	width := a.width
	if width <= 0 {
		width = 72
	}
	header := a.theme.header().Render("⬡ BORROWEASE · Verify your phone")

	var content string
	var bindings []key.Binding
	switch s := a.machine.State().(type) {
	case otpflow.Phone:
		content = a.renderPhone(s)
		bindings = a.keys.phoneHelp()
	case otpflow.Dispatching:
		content = a.renderDispatching(s)
	case otpflow.AwaitingCode:
		content = a.renderAwaiting(s)
		bindings = a.keys.codeHelp(a.machine.CanResend())
	case otpflow.Verifying:
		content = a.renderVerifying(s)
	case otpflow.Exhausted:
		content = a.renderExhausted(s)
	case otpflow.Success:
		content = a.renderSuccess(s)
	}
	body := a.theme.panel().Width(max(40, width-4)).Render(content)

	sections := []string{header, body}
	if line := a.renderToast(); line != "" {
		sections = append(sections, line)
	}
	if len(bindings) > 0 {
		sections = append(sections, a.help.ShortHelpView(bindings))
	}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	return strings.Join(sections, "\n")
}

func (a *App) renderPhone(s otpflow.Phone) string {
	lines := []string{
		a.theme.title().Render("Enter your mobile number"),
		a.theme.muted().Render("We'll send a 6-digit code to verify it."),
		"",
		fmt.Sprintf("%s  %s", a.renderCountry(s.Candidate.CountryCode), a.input.View()),
	}
	switch {
	case s.Lockout > 0:
		lines = append(lines, a.theme.level(a.theme.Error).Render(otpflow.LockoutMessage(s.Lockout)))
	case s.Error != "":
		lines = append(lines, a.theme.level(a.theme.Error).Render(s.Error))
	case s.Notice != "":
		lines = append(lines, a.theme.level(a.theme.Warning).Render(s.Notice))
	}
	lines = append(lines, "", a.theme.button(a.machine.CanSend()).Render("Send OTP"))
	return strings.Join(lines, "\n")
}

func (a *App) renderCountry(code string) string {
	label := code
	if idx := phone.IndexOf(a.settings.Countries, code); idx >= 0 {
		if name := a.settings.Countries[idx].Name; name != "" {
			label = fmt.Sprintf("%s %s", code, name)
		}
	}
	return a.theme.title().Render(fmt.Sprintf("‹ %s ›", label))
}

func (a *App) renderDispatching(s otpflow.Dispatching) string {
	verb := "Sending OTP to"
	if s.Resend() {
		verb = "Resending OTP to"
	}
	return fmt.Sprintf("%s %s %s…", a.spinner.View(), verb, s.Candidate.Full())
}

func (a *App) renderAwaiting(s otpflow.AwaitingCode) string {
	lines := []string{
		a.theme.title().Render("Enter verification code"),
		a.theme.muted().Render(fmt.Sprintf("Sent to %s", s.Session.Phone())),
		"",
		a.renderCells(s.Code, true),
		"",
		fmt.Sprintf("Code expires in %s · %d attempt(s) left", clock(s.Session.ExpiresIn), s.Session.AttemptsRemaining),
	}
	if s.Session.ResendCooldown > 0 {
		lines = append(lines, a.theme.muted().Render(fmt.Sprintf("Resend available in %ds", s.Session.ResendCooldown)))
	} else {
		lines = append(lines, a.theme.title().Render("Didn't get it? Press r to resend"))
	}
	if s.Error != "" {
		lines = append(lines, a.theme.level(a.theme.Error).Render(s.Error))
	}
	lines = append(lines, "", a.theme.button(a.machine.CanVerify()).Render("Verify"))
	return strings.Join(lines, "\n")
}

func (a *App) renderVerifying(s otpflow.Verifying) string {
	return strings.Join([]string{
		a.theme.title().Render("Enter verification code"),
		"",
		a.renderCells(s.Code, false),
		"",
		fmt.Sprintf("%s Verifying…", a.spinner.View()),
	}, "\n")
}

func (a *App) renderExhausted(s otpflow.Exhausted) string {
	return strings.Join([]string{
		a.theme.level(a.theme.Error).Bold(true).Render(s.Message),
		a.theme.muted().Render("Returning to number entry…"),
	}, "\n")
}

func (a *App) renderSuccess(s otpflow.Success) string {
	return strings.Join([]string{
		a.theme.level(a.theme.Success).Bold(true).Render("✓ Phone number verified"),
		a.theme.muted().Render(s.Result.Phone),
	}, "\n")
}

func (a *App) renderCells(code otpflow.Code, focused bool) string {
	cells := make([]string, otpflow.CodeLength)
	for i := range cells {
		digit := code.Cell(i)
		if digit == "" {
			digit = " "
		}
		cells[i] = a.theme.cell(focused && i == code.Focus).Render(digit)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

func (a *App) renderToast() string {
	if a.toast == nil {
		return ""
	}
	color := a.theme.Accent
	switch a.toast.level {
	case otpflow.LevelSuccess:
		color = a.theme.Success
	case otpflow.LevelWarning:
		color = a.theme.Warning
	case otpflow.LevelError:
		color = a.theme.Error
	}
	return a.theme.level(color).MarginTop(1).Render("● " + a.toast.message)
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, total := a.logbook.Tail(logPanelLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := a.theme.title().Render(fmt.Sprintf("LOG · %s (%d)", fileName, total))
	body := a.theme.muted().Render(strings.Join(lines, "\n"))
	return a.theme.panel().Render(fmt.Sprintf("%s\n%s", head, body))
}

// clock formats seconds as mm:ss.
func clock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
