package main

import (
	"errors"
	"fmt"
)

// ErrBrowserLaunchTimeout means page enumeration stalled on every launch
// attempt, including the extra retry with a larger starting timeout.
var ErrBrowserLaunchTimeout = errors.New("browser launch timed out")

// ErrBadPayload marks a network payload that could not be decoded.
var ErrBadPayload = errors.New("malformed payload")

// StatusNotDueError is returned when the page reports the reporting window
// has not opened yet. Recoverable by waiting; never retried internally.
type StatusNotDueError struct {
	Status string
}

func (e *StatusNotDueError) Error() string {
	return fmt.Sprintf("status not due: %s", e.Status)
}

// ProvinceMismatchError means the province resolved by the page disagrees
// with the province expected from the IP lookup.
type ProvinceMismatchError struct {
	Resolved string
	Expected string
}

func (e *ProvinceMismatchError) Error() string {
	return fmt.Sprintf("mismatched province: %s (IP is from %s)", e.Resolved, e.Expected)
}

// UnexpectedDialogError carries the title of a post-submission dialog that
// was either the attention variant or a confirm dialog with the wrong text.
type UnexpectedDialogError struct {
	Variant string
	Message string
}

func (e *UnexpectedDialogError) Error() string {
	return fmt.Sprintf("unexpected %s dialog: %s", e.Variant, e.Message)
}

// SubmissionFailedError carries the final alert text when it does not
// contain the expected success phrase.
type SubmissionFailedError struct {
	Text string
}

func (e *SubmissionFailedError) Error() string {
	return fmt.Sprintf("submission failed: %s", e.Text)
}
