package realtime

import "errors"

var (
	ErrInvalidMessage        = errors.New("message must have content or attachments")
	ErrUnknownRecipient      = errors.New("unknown recipient")
	ErrUnknownUser           = errors.New("unknown user")
	ErrRecipientOffline      = errors.New("recipient is offline")
	ErrCallAlreadyInProgress = errors.New("call already in progress")
	ErrCallStateConflict     = errors.New("call state conflict")
	ErrUnknownEvent          = errors.New("unknown event")
	ErrInvalidPayload        = errors.New("invalid payload")
)
