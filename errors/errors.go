package errors

import "fmt"

var (
	ErrUnauthenticated    = fmt.Errorf("no identity attached to this session")
	ErrEmptyMessage       = fmt.Errorf("message has neither content nor attachments")
	ErrNotFound           = fmt.Errorf("not found")
	ErrWorkerPanic        = fmt.Errorf("worker panic")
	ErrUserAlreadyExists  = fmt.Errorf("user already exists")
	ErrInvalidCredentials = fmt.Errorf("invalid credentials")
	ErrInvalidPassword    = fmt.Errorf("password does not meet complexity rules")
	ErrUnknownFrame       = fmt.Errorf("unknown frame type")
)
