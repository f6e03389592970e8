package hotkeys

import (
	"errors"
	"fmt"
)

var (
	// ErrConflict matches a ConflictError with errors.Is.
	ErrConflict = errors.New("hotkey already grabbed by another client")
	// ErrAlreadyStarted is returned by Start and SetDisplays once the loop runs.
	ErrAlreadyStarted = errors.New("hotkey loop already started")
	// ErrClosed is returned after Stop, or after a failed start.
	ErrClosed = errors.New("hotkey manager closed")
	// ErrUnknownKey is returned when a key symbol has no keycode on the first display.
	ErrUnknownKey = errors.New("no keycode for key symbol")
	// ErrNoDisplays is returned by Start when no display target is configured.
	ErrNoDisplays = errors.New("no display targets configured")
)

// ConflictError reports that the grab for a hotkey collided with a grab held
// by another X client. The hotkey stays in the table.
type ConflictError struct {
	ID int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("unable to register hotkey with id = %d: each hotkey combination can only be grabbed by one application at a time", e.ID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// ConnectionOpenError is the fatal initialization error recorded when a
// display target cannot be opened.
type ConnectionOpenError struct {
	Target string
	Err    error
}

func (e *ConnectionOpenError) Error() string {
	return fmt.Sprintf("cannot open display %q: %v", e.Target, e.Err)
}

func (e *ConnectionOpenError) Unwrap() error {
	return e.Err
}
