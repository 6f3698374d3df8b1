package models

import "errors"

// Error taxonomy for the message pipeline. Components wrap these with
// context via fmt.Errorf("...: %w", err); only the sanitized user-facing
// messages below ever reach a client.
var (
	ErrRateLimited       = errors.New("rate limited")
	ErrAttachmentInvalid = errors.New("attachment invalid")
	ErrSafetyBlocked     = errors.New("response blocked by safety filter")
	ErrExternalTimeout   = errors.New("external api timeout")
	ErrToolExecution     = errors.New("tool execution failed")
	ErrIndexingFailure   = errors.New("indexing failure")
)

// User-facing notice text. Internal error detail is logged server-side
// only and must never be interpolated into these.
const (
	MsgSafetyBlocked = "I can't help with that request. Please try rephrasing your message."
	MsgTimeout       = "The request took too long to process. Please try again."
	MsgGenericError  = "Something went wrong while processing your message. Please try again."
)
