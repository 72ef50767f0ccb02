package roomkit

import "context"

// Participant is a member of a room, local or remote.
type Participant struct{ *Object }

func (p *Participant) Sid(ctx context.Context) (string, error) {
	return Get(ctx, p.Object, "sid", String)
}

func (p *Participant) Identity(ctx context.Context) (string, error) {
	return Get(ctx, p.Object, "identity", String)
}

func (p *Participant) Name(ctx context.Context) (string, error) {
	return Get(ctx, p.Object, "name", String)
}

// Metadata returns the participant metadata; ok is false when none is set.
func (p *Participant) Metadata(ctx context.Context) (md string, ok bool, err error) {
	return GetOrNull(ctx, p.Object, "metadata", String)
}

func (p *Participant) IsSpeaking(ctx context.Context) (bool, error) {
	return Get(ctx, p.Object, "isSpeaking", Bool)
}

func (p *Participant) AudioLevel(ctx context.Context) (float64, error) {
	return Get(ctx, p.Object, "audioLevel", Number)
}

func (p *Participant) ConnectionQuality(ctx context.Context) (ConnectionQuality, error) {
	return Get(ctx, p.Object, "connectionQuality", enumOf[ConnectionQuality]())
}

// TrackPublications returns the participant's publications keyed by track
// sid.
func (p *Participant) TrackPublications(ctx context.Context) (*Map[*TrackPublication], error) {
	return Get(ctx, p.Object, "trackPublications", MapOf(publicationConv))
}

// TrackPublication looks up one publication by track sid.
func (p *Participant) TrackPublication(ctx context.Context, sid string) (*TrackPublication, bool, error) {
	return CallOrNull(ctx, p.Object, "getTrackPublication", NewTransferStack(StringValue(sid)), publicationConv)
}

// IsLocal reports whether the participant is the local one.
func (p *Participant) IsLocal() bool { return p.Is("LocalParticipant") }

// AsRemote views p as a RemoteParticipant sharing p's unit.
func (p *Participant) AsRemote() (*RemoteParticipant, bool) {
	if !p.Is("RemoteParticipant") {
		return nil, false
	}
	return &RemoteParticipant{Participant{p.Object}}, true
}

// AsLocal views p as the LocalParticipant sharing p's unit.
func (p *Participant) AsLocal() (*LocalParticipant, bool) {
	if !p.IsLocal() {
		return nil, false
	}
	return &LocalParticipant{Participant{p.Object}}, true
}

func (p *Participant) Clone() *Participant { return &Participant{p.Object.Clone()} }

// RemoteParticipant is another member of the room.
type RemoteParticipant struct{ Participant }

// TrackPublications returns the participant's publications keyed by track
// sid.
func (p *RemoteParticipant) TrackPublications(ctx context.Context) (*Map[*RemoteTrackPublication], error) {
	return Get(ctx, p.Object, "trackPublications", MapOf(remotePublicationConv))
}

func (p *RemoteParticipant) Clone() *RemoteParticipant {
	return &RemoteParticipant{Participant{p.Object.Clone()}}
}

// LocalParticipant is this client's own participant.
type LocalParticipant struct{ Participant }

// TrackPublications returns the local publications keyed by track sid.
func (p *LocalParticipant) TrackPublications(ctx context.Context) (*Map[*LocalTrackPublication], error) {
	return Get(ctx, p.Object, "trackPublications", MapOf(localPublicationConv))
}

// PublishData sends payload to the other participants.
func (p *LocalParticipant) PublishData(ctx context.Context, payload []byte, kind DataPacketKind) error {
	_, err := Call(ctx, p.Object, "publishData", NewTransferStack(BytesValue(payload), IntValue(int(kind))), Ignore)
	return err
}

// SetMetadata updates the local participant's metadata on the server.
func (p *LocalParticipant) SetMetadata(ctx context.Context, metadata string) error {
	_, err := Call(ctx, p.Object, "setMetadata", NewTransferStack(StringValue(metadata)), Ignore)
	return err
}

func (p *LocalParticipant) Clone() *LocalParticipant {
	return &LocalParticipant{Participant{p.Object.Clone()}}
}

var (
	participantConv = ObjectOf("Participant", func(o *Object) *Participant {
		return &Participant{o}
	})
	remoteParticipantConv = ObjectOf("RemoteParticipant", func(o *Object) *RemoteParticipant {
		return &RemoteParticipant{Participant{o}}
	})
	localParticipantConv = ObjectOf("LocalParticipant", func(o *Object) *LocalParticipant {
		return &LocalParticipant{Participant{o}}
	})
)
