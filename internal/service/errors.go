package service

import "errors"

// Sentinel errors for the integrity engine. Handlers map these onto the
// response error codes; stores return the not-found variants so the
// self-healing fallbacks can distinguish "gone" from "broken".
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrNoLiveSession      = errors.New("no live session for this exam")
	ErrSessionTerminal    = errors.New("session already reached a terminal status")
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrExamNotFound       = errors.New("exam not found")
	ErrAlreadySubmitted   = errors.New("exam already submitted and no retake granted")
	ErrMaxAttemptsTooLow  = errors.New("max attempts must be greater than the current attempt number")
)
