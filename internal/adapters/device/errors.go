package device

import "errors"

// Sentinel kinds for device-link errors.
var (
	ErrDeviceNotFound   = errors.New("device not found")
	ErrConnectTimeout   = errors.New("connect timed out")
	ErrAlreadyConnected = errors.New("device already connected")
	ErrStreamConsumed   = errors.New("sample stream already consumed")
	ErrStreamEnded      = errors.New("sample stream ended")
	ErrLinkDropped      = errors.New("device link dropped")
)
