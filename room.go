package roomkit

import "context"

// Room is the host-side proxy of a runtime Room. All listeners are
// installed on construction; register Go listeners on Events.
type Room struct {
	*Object
	Events RoomEvents

	subs *subscriptions
}

// NewRoom constructs a Room in the runtime. A nil opts keeps
// DefaultRoomOptions.
func NewRoom(ctx context.Context, b *Bridge, opts *RoomOptions) (*Room, error) {
	obj, err := New(ctx, b, "Room", NewTransferStack(optionalStruct(opts)), ObjectOf("Room", func(o *Object) *Object { return o }))
	if err != nil {
		return nil, err
	}
	r := &Room{Object: obj}
	r.subs, err = subscribe(ctx, b, r, obj, roomEvents)
	if err != nil {
		obj.Release()
		return nil, err
	}
	return r, nil
}

// Close removes the room's listeners from the runtime and releases the
// room handle. It does not disconnect. Close must not be called from a
// listener of this room.
func (r *Room) Close(ctx context.Context) error {
	err := r.subs.Close(ctx)
	r.Release()
	return err
}

// Connect starts joining the room at url. The returned operation completes
// when the server accepts the join or the attempt fails.
func (r *Room) Connect(ctx context.Context, url, token string, opts *ConnectOptions) (*ConnectOperation, error) {
	args := NewTransferStack(StringValue(url), StringValue(token), optionalStruct(opts))
	p, err := Call(ctx, r.Object, "connect", args, PromiseOf(Ignore))
	if err != nil {
		return nil, err
	}
	return &ConnectOperation{p: p, room: r}, nil
}

// Disconnect leaves the room. Local tracks are stopped when stopTracks is
// set.
func (r *Room) Disconnect(ctx context.Context, stopTracks bool) error {
	_, err := Call(ctx, r.Object, "disconnect", NewTransferStack(BoolValue(stopTracks)), Ignore)
	return err
}

// GetParticipantByIdentity finds a participant, local or remote.
func (r *Room) GetParticipantByIdentity(ctx context.Context, identity string) (*Participant, bool, error) {
	return CallOrNull(ctx, r.Object, "getParticipantByIdentity", NewTransferStack(StringValue(identity)), participantConv)
}

// StartAudio enables audio playback.
func (r *Room) StartAudio(ctx context.Context) (*Promise[any], error) {
	return Call(ctx, r.Object, "startAudio", nil, PromiseOf(Any))
}

// SwitchActiveDevice selects the device used for kind.
func (r *Room) SwitchActiveDevice(ctx context.Context, kind MediaDeviceKind, deviceID string) (*Promise[any], error) {
	args := NewTransferStack(StringValue(string(kind)), StringValue(deviceID))
	return Call(ctx, r.Object, "switchActiveDevice", args, PromiseOf(Any))
}

// ActiveDevice returns the device selected for kind, if any.
func (r *Room) ActiveDevice(ctx context.Context, kind MediaDeviceKind) (string, bool, error) {
	return CallOrNull(ctx, r.Object, "getActiveDevice", NewTransferStack(StringValue(string(kind))), String)
}

func (r *Room) State(ctx context.Context) (RoomState, error) {
	return Get(ctx, r.Object, "state", enumOf[RoomState]())
}

// Participants returns the remote participants keyed by sid.
func (r *Room) Participants(ctx context.Context) (*Map[*RemoteParticipant], error) {
	return Get(ctx, r.Object, "participants", MapOf(remoteParticipantConv))
}

// ActiveSpeakers returns the current speakers, loudest first.
func (r *Room) ActiveSpeakers(ctx context.Context) (*Array[*Participant], error) {
	return Get(ctx, r.Object, "activeSpeakers", ArrayOf(participantConv))
}

func (r *Room) Sid(ctx context.Context) (string, error) {
	return Get(ctx, r.Object, "sid", String)
}

func (r *Room) Name(ctx context.Context) (string, error) {
	return Get(ctx, r.Object, "name", String)
}

// Metadata returns the room metadata; ok is false when none is set.
func (r *Room) Metadata(ctx context.Context) (string, bool, error) {
	return GetOrNull(ctx, r.Object, "metadata", String)
}

func (r *Room) LocalParticipant(ctx context.Context) (*LocalParticipant, error) {
	return Get(ctx, r.Object, "localParticipant", localParticipantConv)
}

// Options returns a copy of the options the room was built with.
func (r *Room) Options(ctx context.Context) (RoomOptions, error) {
	return Get(ctx, r.Object, "options", StructOf[RoomOptions]())
}

func (r *Room) CanPlaybackAudio(ctx context.Context) (bool, error) {
	return Get(ctx, r.Object, "canPlaybackAudio", Bool)
}
