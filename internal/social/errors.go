package social

import "errors"

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotRecipient      = errors.New("only the recipient can respond")
	ErrNotParticipant    = errors.New("not a participant")
	ErrNotFound          = errors.New("not found")
	ErrLimitReached      = errors.New("tier limit reached")
	ErrExists            = errors.New("already exists")
	ErrInvalidArgument   = errors.New("invalid argument")
)
