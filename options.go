package roomkit

import (
	"encoding/json"
	"time"
)

// RoomOptions configure a Room at construction.
type RoomOptions struct {
	AdaptiveStream            bool `json:"adaptiveStream"`
	Dynacast                  bool `json:"dynacast"`
	StopLocalTrackOnUnpublish bool `json:"stopLocalTrackOnUnpublish"`
}

// DefaultRoomOptions returns the options a Room uses when none are given.
func DefaultRoomOptions() RoomOptions {
	return RoomOptions{StopLocalTrackOnUnpublish: true}
}

// ConnectOptions configure one Connect call. A nil *ConnectOptions keeps
// the client defaults: auto-subscribe on, 15s connection timeout.
type ConnectOptions struct {
	AutoSubscribe bool
	// ConnectTimeout bounds the join handshake; zero keeps the default.
	ConnectTimeout time.Duration
}

func (o ConnectOptions) MarshalJSON() ([]byte, error) {
	doc := map[string]any{"autoSubscribe": o.AutoSubscribe}
	if o.ConnectTimeout > 0 {
		doc["peerConnectionTimeout"] = o.ConnectTimeout.Milliseconds()
	}
	return json.Marshal(doc)
}

func optionalStruct[T any](v *T) Value {
	if v == nil {
		return Undefined()
	}
	return StructValue(*v)
}
