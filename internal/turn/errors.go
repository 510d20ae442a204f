package turn

import "errors"

var (
	// ErrCaptureUnavailable means there is no way to capture audio (no
	// device, permission denied). It ends the session.
	ErrCaptureUnavailable = errors.New("capture unavailable")

	// ErrDetectorTransient is a recoverable detector failure such as a
	// capture stream that is not active yet.
	ErrDetectorTransient = errors.New("detector transient failure")

	// ErrAICallFailed covers chat timeouts and non-success responses.
	ErrAICallFailed = errors.New("ai call failed")

	// ErrSynthesisFailed covers remote speech synthesis failures.
	ErrSynthesisFailed = errors.New("speech synthesis failed")

	// ErrNoSession is returned when a session ends before it was ready.
	ErrNoSession = errors.New("no active session")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("coordinator closed")
)
