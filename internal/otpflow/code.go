package otpflow

import "strings"

// CodeLength is the number of digits in a one-time code.
const CodeLength = 6

// Code is the six-cell entry widget plus its focus position. A zero byte
// marks an empty cell.
type Code struct {
	Cells [CodeLength]byte
	Focus int
}

// Complete reports whether every cell holds a digit.
func (c Code) Complete() bool {
	for _, cell := range c.Cells {
		if cell == 0 {
			return false
		}
	}
	return true
}

// Filled counts non-empty cells.
func (c Code) Filled() int {
	n := 0
	for _, cell := range c.Cells {
		if cell != 0 {
			n++
		}
	}
	return n
}

// Value joins the cells; empty cells are skipped.
func (c Code) Value() string {
	var b strings.Builder
	for _, cell := range c.Cells {
		if cell != 0 {
			b.WriteByte(cell)
		}
	}
	return b.String()
}

// Cell returns the digit at i as a string, "" when empty or out of range.
func (c Code) Cell(i int) string {
	if i < 0 || i >= CodeLength || c.Cells[i] == 0 {
		return ""
	}
	return string(c.Cells[i])
}

// typeDigit stores d at the focused cell and advances focus. submit is true
// only when the last cell was typed and the code is now complete.
func (c Code) typeDigit(d byte) (next Code, submit bool) {
	next = c
	i := next.Focus
	next.Cells[i] = d
	if i < CodeLength-1 {
		next.Focus = i + 1
		return next, false
	}
	return next, next.Complete()
}

// backspace clears a filled cell, or steps back from an empty one.
func (c Code) backspace() Code {
	next := c
	if next.Cells[next.Focus] != 0 {
		next.Cells[next.Focus] = 0
		return next
	}
	if next.Focus > 0 {
		next.Focus--
	}
	return next
}

func (c Code) move(delta int) Code {
	next := c
	next.Focus += delta
	if next.Focus < 0 {
		next.Focus = 0
	}
	if next.Focus > CodeLength-1 {
		next.Focus = CodeLength - 1
	}
	return next
}

// paste spreads up to CodeLength digits from text across the cells starting
// at cell 0 and focuses the last one written. submit is true when the paste
// alone supplied all six digits.
func (c Code) paste(text string) (next Code, submit bool, ok bool) {
	digits := make([]byte, 0, CodeLength)
	for i := 0; i < len(text) && len(digits) < CodeLength; i++ {
		if isDigit(text[i]) {
			digits = append(digits, text[i])
		}
	}
	if len(digits) == 0 {
		return c, false, false
	}
	next = c
	for i, d := range digits {
		next.Cells[i] = d
	}
	next.Focus = len(digits) - 1
	return next, len(digits) == CodeLength, true
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
