package service

import "errors"

// Domain Errors
var (
	ErrInvalidExamRequest   = errors.New("invalid exam request")
	ErrSessionNotFound      = errors.New("exam session not found")
	ErrSessionClosed        = errors.New("exam session is closed")
	ErrQuestionNotInSession = errors.New("question does not belong to this session")
	ErrContentUnavailable   = errors.New("exam content is unavailable")
	ErrContentNotFound      = errors.New("ticket, package or topic not found")
	ErrSessionNotFinished   = errors.New("exam session is not finished")
	ErrConcurrentUpdate     = errors.New("exam session was updated concurrently, retry")
)
