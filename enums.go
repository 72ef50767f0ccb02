package roomkit

import "context"

// RoomState is the connection state of a Room.
type RoomState string

const (
	StateDisconnected RoomState = "disconnected"
	StateConnecting   RoomState = "connecting"
	StateConnected    RoomState = "connected"
	StateReconnecting RoomState = "reconnecting"
)

// ConnectionQuality is a participant's link quality as rated by the server.
type ConnectionQuality string

const (
	QualityExcellent ConnectionQuality = "excellent"
	QualityGood      ConnectionQuality = "good"
	QualityPoor      ConnectionQuality = "poor"
	QualityLost      ConnectionQuality = "lost"
	QualityUnknown   ConnectionQuality = "unknown"
)

// TrackStreamState reports whether a subscribed track is being delivered.
type TrackStreamState string

const (
	StreamActive  TrackStreamState = "active"
	StreamPaused  TrackStreamState = "paused"
	StreamUnknown TrackStreamState = "unknown"
)

// SubscriptionStatus is the local subscription state of a remote track.
type SubscriptionStatus string

const (
	SubscriptionDesired      SubscriptionStatus = "desired"
	SubscriptionSubscribed   SubscriptionStatus = "subscribed"
	SubscriptionUnsubscribed SubscriptionStatus = "unsubscribed"
)

// PermissionStatus is whether the publisher allows subscribing to a track.
type PermissionStatus string

const (
	PermissionAllowed    PermissionStatus = "allowed"
	PermissionNotAllowed PermissionStatus = "not_allowed"
)

// MediaDeviceKind selects a class of media device.
type MediaDeviceKind string

const (
	AudioInput  MediaDeviceKind = "audioinput"
	AudioOutput MediaDeviceKind = "audiooutput"
	VideoInput  MediaDeviceKind = "videoinput"
)

// TrackKind is the media type of a track.
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// TrackSource is where a track's media comes from.
type TrackSource string

const (
	SourceCamera           TrackSource = "camera"
	SourceMicrophone       TrackSource = "microphone"
	SourceScreenShare      TrackSource = "screen_share"
	SourceScreenShareAudio TrackSource = "screen_share_audio"
	SourceUnknown          TrackSource = "unknown"
)

// DataPacketKind is the delivery mode of a data packet.
type DataPacketKind int

const (
	DataReliable DataPacketKind = 0
	DataLossy    DataPacketKind = 1
)

func (k DataPacketKind) String() string {
	switch k {
	case DataReliable:
		return "reliable"
	case DataLossy:
		return "lossy"
	}
	return "unknown"
}

// enumOf accepts string values and converts them to E. Values this build
// does not know are passed through unchanged.
func enumOf[E ~string]() Converter[E] {
	return func(ctx context.Context, b *Bridge, v Value) (E, error) {
		s, err := String(ctx, b, v)
		return E(s), err
	}
}

func dataKind(ctx context.Context, b *Bridge, v Value) (DataPacketKind, error) {
	n, err := Int(ctx, b, v)
	return DataPacketKind(n), err
}
