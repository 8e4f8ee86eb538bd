// Package otpflow implements phone verification as a pure state machine.
// Machine.Apply consumes an Event and returns the Effects the caller must
// perform (network calls, timers, notifications); it never does I/O itself.
// Timers and attempt counters live on the Session carried by the code-entry
// states, so a countdown can not exist while the user is typing a number.
package otpflow
