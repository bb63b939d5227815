package errors

import "fmt"

var (
	ErrWorkerPanic         = fmt.Errorf("worker panic")
	ErrRegistryUnavailable = fmt.Errorf("registry unavailable")
	ErrOutboundFull        = fmt.Errorf("outbound buffer full")
	ErrSessionClosed       = fmt.Errorf("session closed")
	ErrInvalidChatType     = fmt.Errorf("invalid chat type")
	ErrInvalidPayload      = fmt.Errorf("invalid payload")
	ErrUserAlreadyExists   = fmt.Errorf("user already exists")
	ErrUserNotFound        = fmt.Errorf("user not found")
	ErrRoomNotFound        = fmt.Errorf("room not found")
	ErrEmptySearch         = fmt.Errorf("no search terms")
	ErrInvalidRecord       = fmt.Errorf("invalid record")
	ErrEmptyWords          = fmt.Errorf("no words have been found")
	ErrInvalidUser         = fmt.Errorf("invalid user")
)
