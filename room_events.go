package roomkit

import "context"

// Wire names of the events a Room emits.
const (
	EventReconnecting                       = "reconnecting"
	EventReconnected                        = "reconnected"
	EventDisconnected                       = "disconnected"
	EventConnectionStateChanged             = "connectionStateChanged"
	EventMediaDevicesChanged                = "mediaDevicesChanged"
	EventParticipantConnected               = "participantConnected"
	EventParticipantDisconnected            = "participantDisconnected"
	EventTrackPublished                     = "trackPublished"
	EventTrackSubscribed                    = "trackSubscribed"
	EventTrackSubscriptionFailed            = "trackSubscriptionFailed"
	EventTrackUnpublished                   = "trackUnpublished"
	EventTrackUnsubscribed                  = "trackUnsubscribed"
	EventTrackMuted                         = "trackMuted"
	EventTrackUnmuted                       = "trackUnmuted"
	EventLocalTrackPublished                = "localTrackPublished"
	EventLocalTrackUnpublished              = "localTrackUnpublished"
	EventParticipantMetadataChanged         = "participantMetadataChanged"
	EventActiveSpeakersChanged              = "activeSpeakersChanged"
	EventRoomMetadataChanged                = "roomMetadataChanged"
	EventDataReceived                       = "dataReceived"
	EventConnectionQualityChanged           = "connectionQualityChanged"
	EventMediaDevicesError                  = "mediaDevicesError"
	EventTrackStreamStateChanged            = "trackStreamStateChanged"
	EventTrackSubscriptionPermissionChanged = "trackSubscriptionPermissionChanged"
	EventAudioPlaybackChanged               = "audioPlaybackChanged"
)

// TrackPublicationEvent carries a remote publication and its owner.
type TrackPublicationEvent struct {
	Publication *RemoteTrackPublication
	Participant *RemoteParticipant
}

// TrackEvent carries a subscribed remote track.
type TrackEvent struct {
	Track       *RemoteTrack
	Publication *RemoteTrackPublication
	Participant *RemoteParticipant
}

// TrackSubscriptionFailedEvent names a track that could not be subscribed.
type TrackSubscriptionFailedEvent struct {
	TrackSid    string
	Participant *RemoteParticipant
}

// TrackMuteEvent carries a publication whose mute state changed.
type TrackMuteEvent struct {
	Publication *TrackPublication
	Participant *Participant
}

// LocalTrackEvent carries a local publication.
type LocalTrackEvent struct {
	Publication *LocalTrackPublication
	Participant *LocalParticipant
}

// MetadataEvent reports a participant metadata change. PrevMetadata is the
// value before the change; HasPrev is false if there was none.
type MetadataEvent struct {
	PrevMetadata string
	HasPrev      bool
	Participant  *Participant
}

// DataReceivedEvent carries a data packet. Participant is nil for packets
// sent by the server; HasKind is false if the sender gave no kind.
type DataReceivedEvent struct {
	Payload     []byte
	Participant *RemoteParticipant
	Kind        DataPacketKind
	HasKind     bool
}

// ConnectionQualityEvent reports a participant's new link quality.
type ConnectionQualityEvent struct {
	Quality     ConnectionQuality
	Participant *Participant
}

// StreamStateEvent reports a change of delivery state of a remote track.
type StreamStateEvent struct {
	Publication *RemoteTrackPublication
	State       TrackStreamState
	Participant *RemoteParticipant
}

// PermissionEvent reports a change of subscription permission.
type PermissionEvent struct {
	Publication *RemoteTrackPublication
	Status      PermissionStatus
	Participant *RemoteParticipant
}

// RoomEvents are the listener lists of a Room, one per event kind.
type RoomEvents struct {
	Reconnecting                       Event[struct{}]
	Reconnected                        Event[struct{}]
	Disconnected                       Event[struct{}]
	ConnectionStateChanged             Event[RoomState]
	MediaDevicesChanged                Event[struct{}]
	ParticipantConnected               Event[*RemoteParticipant]
	ParticipantDisconnected            Event[*RemoteParticipant]
	TrackPublished                     Event[TrackPublicationEvent]
	TrackSubscribed                    Event[TrackEvent]
	TrackSubscriptionFailed            Event[TrackSubscriptionFailedEvent]
	TrackUnpublished                   Event[TrackPublicationEvent]
	TrackUnsubscribed                  Event[TrackEvent]
	TrackMuted                         Event[TrackMuteEvent]
	TrackUnmuted                       Event[TrackMuteEvent]
	LocalTrackPublished                Event[LocalTrackEvent]
	LocalTrackUnpublished              Event[LocalTrackEvent]
	ParticipantMetadataChanged         Event[MetadataEvent]
	ActiveSpeakersChanged              Event[*Array[*Participant]]
	RoomMetadataChanged                Event[string]
	DataReceived                       Event[DataReceivedEvent]
	ConnectionQualityChanged           Event[ConnectionQualityEvent]
	MediaDevicesError                  Event[*JSError]
	TrackStreamStateChanged            Event[StreamStateEvent]
	TrackSubscriptionPermissionChanged Event[PermissionEvent]
	AudioPlaybackChanged               Event[bool]
}

type decodeCtx struct {
	ctx   context.Context
	b     *Bridge
	args  *TransferStack
	owned []*Object
}

func (d *decodeCtx) keep(o *Object) {
	if o != nil {
		d.owned = append(d.owned, o)
	}
}

func shift[T any](d *decodeCtx, conv Converter[T]) T {
	return Acquire(d.ctx, d.b, d.args.Shift(), conv)
}

func shiftOrNull[T any](d *decodeCtx, conv Converter[T]) (T, bool) {
	return AcquireOrNull(d.ctx, d.b, d.args.Shift(), conv)
}

// roomEvent adapts a decoder working on a decodeCtx to eventDecl.
func roomEvent[A any](name string, list func(*Room) *Event[A], decode func(d *decodeCtx) A) eventDecl[Room] {
	return on(name, list, func(ctx context.Context, b *Bridge, args *TransferStack) (A, []*Object) {
		d := &decodeCtx{ctx: ctx, b: b, args: args}
		ev := decode(d)
		return ev, d.owned
	})
}

func noArgs(*decodeCtx) struct{} { return struct{}{} }

func remoteParticipant(d *decodeCtx) *RemoteParticipant {
	p := shift(d, remoteParticipantConv)
	d.keep(p.Object)
	return p
}

func anyParticipant(d *decodeCtx) *Participant {
	p := shift(d, participantConv)
	d.keep(p.Object)
	return p
}

func remotePublication(d *decodeCtx) *RemoteTrackPublication {
	p := shift(d, remotePublicationConv)
	d.keep(p.Object)
	return p
}

func trackPublication(d *decodeCtx) TrackPublicationEvent {
	pub := remotePublication(d)
	return TrackPublicationEvent{Publication: pub, Participant: remoteParticipant(d)}
}

func trackEvent(d *decodeCtx) TrackEvent {
	track := shift(d, remoteTrackConv)
	d.keep(track.Object)
	pub := remotePublication(d)
	return TrackEvent{Track: track, Publication: pub, Participant: remoteParticipant(d)}
}

func muteEvent(d *decodeCtx) TrackMuteEvent {
	pub := shift(d, publicationConv)
	d.keep(pub.Object)
	return TrackMuteEvent{Publication: pub, Participant: anyParticipant(d)}
}

func localTrackEvent(d *decodeCtx) LocalTrackEvent {
	pub := shift(d, localPublicationConv)
	d.keep(pub.Object)
	p := shift(d, localParticipantConv)
	d.keep(p.Object)
	return LocalTrackEvent{Publication: pub, Participant: p}
}

// roomEvents is the per-event argument contract, in the order the client
// pushes the arguments.
var roomEvents = []eventDecl[Room]{
	roomEvent(EventReconnecting, func(r *Room) *Event[struct{}] { return &r.Events.Reconnecting }, noArgs),
	roomEvent(EventReconnected, func(r *Room) *Event[struct{}] { return &r.Events.Reconnected }, noArgs),
	roomEvent(EventDisconnected, func(r *Room) *Event[struct{}] { return &r.Events.Disconnected }, noArgs),
	roomEvent(EventConnectionStateChanged,
		func(r *Room) *Event[RoomState] { return &r.Events.ConnectionStateChanged },
		func(d *decodeCtx) RoomState { return shift(d, enumOf[RoomState]()) }),
	roomEvent(EventMediaDevicesChanged, func(r *Room) *Event[struct{}] { return &r.Events.MediaDevicesChanged }, noArgs),
	roomEvent(EventParticipantConnected,
		func(r *Room) *Event[*RemoteParticipant] { return &r.Events.ParticipantConnected },
		remoteParticipant),
	roomEvent(EventParticipantDisconnected,
		func(r *Room) *Event[*RemoteParticipant] { return &r.Events.ParticipantDisconnected },
		remoteParticipant),
	roomEvent(EventTrackPublished,
		func(r *Room) *Event[TrackPublicationEvent] { return &r.Events.TrackPublished },
		trackPublication),
	roomEvent(EventTrackSubscribed,
		func(r *Room) *Event[TrackEvent] { return &r.Events.TrackSubscribed },
		trackEvent),
	roomEvent(EventTrackSubscriptionFailed,
		func(r *Room) *Event[TrackSubscriptionFailedEvent] { return &r.Events.TrackSubscriptionFailed },
		func(d *decodeCtx) TrackSubscriptionFailedEvent {
			sid := shift(d, String)
			return TrackSubscriptionFailedEvent{TrackSid: sid, Participant: remoteParticipant(d)}
		}),
	roomEvent(EventTrackUnpublished,
		func(r *Room) *Event[TrackPublicationEvent] { return &r.Events.TrackUnpublished },
		trackPublication),
	roomEvent(EventTrackUnsubscribed,
		func(r *Room) *Event[TrackEvent] { return &r.Events.TrackUnsubscribed },
		trackEvent),
	roomEvent(EventTrackMuted,
		func(r *Room) *Event[TrackMuteEvent] { return &r.Events.TrackMuted },
		muteEvent),
	roomEvent(EventTrackUnmuted,
		func(r *Room) *Event[TrackMuteEvent] { return &r.Events.TrackUnmuted },
		muteEvent),
	roomEvent(EventLocalTrackPublished,
		func(r *Room) *Event[LocalTrackEvent] { return &r.Events.LocalTrackPublished },
		localTrackEvent),
	roomEvent(EventLocalTrackUnpublished,
		func(r *Room) *Event[LocalTrackEvent] { return &r.Events.LocalTrackUnpublished },
		localTrackEvent),
	roomEvent(EventParticipantMetadataChanged,
		func(r *Room) *Event[MetadataEvent] { return &r.Events.ParticipantMetadataChanged },
		func(d *decodeCtx) MetadataEvent {
			prev, ok := shiftOrNull(d, String)
			return MetadataEvent{PrevMetadata: prev, HasPrev: ok, Participant: anyParticipant(d)}
		}),
	roomEvent(EventActiveSpeakersChanged,
		func(r *Room) *Event[*Array[*Participant]] { return &r.Events.ActiveSpeakersChanged },
		func(d *decodeCtx) *Array[*Participant] {
			speakers := shift(d, ArrayOf(participantConv))
			d.keep(speakers.Object)
			return speakers
		}),
	roomEvent(EventRoomMetadataChanged,
		func(r *Room) *Event[string] { return &r.Events.RoomMetadataChanged },
		func(d *decodeCtx) string { return shift(d, String) }),
	roomEvent(EventDataReceived,
		func(r *Room) *Event[DataReceivedEvent] { return &r.Events.DataReceived },
		func(d *decodeCtx) DataReceivedEvent {
			ev := DataReceivedEvent{Payload: shift(d, Bytes)}
			if p, ok := shiftOrNull(d, remoteParticipantConv); ok {
				d.keep(p.Object)
				ev.Participant = p
			}
			ev.Kind, ev.HasKind = shiftOrNull(d, dataKind)
			return ev
		}),
	roomEvent(EventConnectionQualityChanged,
		func(r *Room) *Event[ConnectionQualityEvent] { return &r.Events.ConnectionQualityChanged },
		func(d *decodeCtx) ConnectionQualityEvent {
			q := shift(d, enumOf[ConnectionQuality]())
			return ConnectionQualityEvent{Quality: q, Participant: anyParticipant(d)}
		}),
	roomEvent(EventMediaDevicesError,
		func(r *Room) *Event[*JSError] { return &r.Events.MediaDevicesError },
		func(d *decodeCtx) *JSError {
			err := shift(d, ErrorValue)
			d.keep(err.Object)
			return err
		}),
	roomEvent(EventTrackStreamStateChanged,
		func(r *Room) *Event[StreamStateEvent] { return &r.Events.TrackStreamStateChanged },
		func(d *decodeCtx) StreamStateEvent {
			pub := remotePublication(d)
			state := shift(d, enumOf[TrackStreamState]())
			return StreamStateEvent{Publication: pub, State: state, Participant: remoteParticipant(d)}
		}),
	roomEvent(EventTrackSubscriptionPermissionChanged,
		func(r *Room) *Event[PermissionEvent] { return &r.Events.TrackSubscriptionPermissionChanged },
		func(d *decodeCtx) PermissionEvent {
			pub := remotePublication(d)
			status := shift(d, enumOf[PermissionStatus]())
			return PermissionEvent{Publication: pub, Status: status, Participant: remoteParticipant(d)}
		}),
	roomEvent(EventAudioPlaybackChanged,
		func(r *Room) *Event[bool] { return &r.Events.AudioPlaybackChanged },
		func(d *decodeCtx) bool { return shift(d, Bool) }),
}
