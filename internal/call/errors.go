package call

import "errors"

var (
	ErrPermissionDenied = errors.New("media permission denied")
	ErrDeviceNotFound   = errors.New("media device not found")
	ErrDeviceBusy       = errors.New("media device busy")
	ErrSignalingFailure = errors.New("signaling failure")
	ErrCallInProgress   = errors.New("another call is in progress")
	ErrNoActiveCall     = errors.New("no active call")
)
