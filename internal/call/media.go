package call

import "context"

// MediaStream is a live capture or playback stream. Stop releases the
// underlying device or track.
type MediaStream interface {
	Stop()
}

// MediaDevices acquires capture streams. Implementations map acquisition
// failures to ErrPermissionDenied, ErrDeviceNotFound or ErrDeviceBusy.
type MediaDevices interface {
	AcquireStream(ctx context.Context, video, audio bool) (MediaStream, error)
}

// PeerConnection is the transport half of a call. Implementations wrap a
// WebRTC peer connection; tests substitute fakes.
type PeerConnection interface {
	AddLocalStream(stream MediaStream) error
	CreateOffer(ctx context.Context) (string, error)
	CreateAnswer(ctx context.Context, offer string) (string, error)
	SetRemoteAnswer(answer string) error
	AddIceCandidate(candidate string) error
	Close() error

	OnIceCandidate(fn func(candidate string))
	OnRemoteStream(fn func(stream MediaStream))
	OnConnectionStateChange(fn func(state string))
}

// PeerConnectionFactory builds one PeerConnection per call attempt.
type PeerConnectionFactory func(ctx context.Context) (PeerConnection, error)
