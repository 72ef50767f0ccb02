package roomkit

import "context"

// Track is a media track of a participant.
type Track struct{ *Object }

func (t *Track) Sid(ctx context.Context) (string, error) {
	return Get(ctx, t.Object, "sid", String)
}

func (t *Track) Kind(ctx context.Context) (TrackKind, error) {
	return Get(ctx, t.Object, "kind", enumOf[TrackKind]())
}

func (t *Track) Source(ctx context.Context) (TrackSource, error) {
	return Get(ctx, t.Object, "source", enumOf[TrackSource]())
}

func (t *Track) IsMuted(ctx context.Context) (bool, error) {
	return Get(ctx, t.Object, "isMuted", Bool)
}

// Clone returns an alias with its own unit.
func (t *Track) Clone() *Track { return &Track{t.Object.Clone()} }

// RemoteTrack is a track received from a remote participant.
type RemoteTrack struct{ Track }

func (t *RemoteTrack) StreamState(ctx context.Context) (TrackStreamState, error) {
	return Get(ctx, t.Object, "streamState", enumOf[TrackStreamState]())
}

func (t *RemoteTrack) Clone() *RemoteTrack { return &RemoteTrack{Track{t.Object.Clone()}} }

// LocalTrack is a track published by the local participant.
type LocalTrack struct{ Track }

func (t *LocalTrack) IsStopped(ctx context.Context) (bool, error) {
	return Get(ctx, t.Object, "isStopped", Bool)
}

// Stop ends the track's capture.
func (t *LocalTrack) Stop(ctx context.Context) error {
	_, err := Call(ctx, t.Object, "stop", nil, Ignore)
	return err
}

func (t *LocalTrack) Clone() *LocalTrack { return &LocalTrack{Track{t.Object.Clone()}} }

// TrackPublication describes a published track, whether or not it is
// subscribed.
type TrackPublication struct{ *Object }

func (p *TrackPublication) TrackSid(ctx context.Context) (string, error) {
	return Get(ctx, p.Object, "trackSid", String)
}

func (p *TrackPublication) TrackName(ctx context.Context) (string, error) {
	return Get(ctx, p.Object, "trackName", String)
}

func (p *TrackPublication) Kind(ctx context.Context) (TrackKind, error) {
	return Get(ctx, p.Object, "kind", enumOf[TrackKind]())
}

func (p *TrackPublication) Source(ctx context.Context) (TrackSource, error) {
	return Get(ctx, p.Object, "source", enumOf[TrackSource]())
}

func (p *TrackPublication) IsMuted(ctx context.Context) (bool, error) {
	return Get(ctx, p.Object, "isMuted", Bool)
}

// Track returns the attached track, if any.
func (p *TrackPublication) Track(ctx context.Context) (*Track, bool, error) {
	return GetOrNull(ctx, p.Object, "track", trackConv)
}

func (p *TrackPublication) Clone() *TrackPublication { return &TrackPublication{p.Object.Clone()} }

// RemoteTrackPublication is a track published by a remote participant.
type RemoteTrackPublication struct{ TrackPublication }

func (p *RemoteTrackPublication) IsSubscribed(ctx context.Context) (bool, error) {
	return Get(ctx, p.Object, "isSubscribed", Bool)
}

func (p *RemoteTrackPublication) SubscriptionStatus(ctx context.Context) (SubscriptionStatus, error) {
	return Get(ctx, p.Object, "subscriptionStatus", enumOf[SubscriptionStatus]())
}

func (p *RemoteTrackPublication) PermissionStatus(ctx context.Context) (PermissionStatus, error) {
	return Get(ctx, p.Object, "permissionStatus", enumOf[PermissionStatus]())
}

func (p *RemoteTrackPublication) StreamState(ctx context.Context) (TrackStreamState, error) {
	return Get(ctx, p.Object, "streamState", enumOf[TrackStreamState]())
}

// Track returns the subscribed track, if any.
func (p *RemoteTrackPublication) Track(ctx context.Context) (*RemoteTrack, bool, error) {
	return GetOrNull(ctx, p.Object, "track", remoteTrackConv)
}

func (p *RemoteTrackPublication) Clone() *RemoteTrackPublication {
	return &RemoteTrackPublication{TrackPublication{p.Object.Clone()}}
}

// LocalTrackPublication is a track published by the local participant.
type LocalTrackPublication struct{ TrackPublication }

// Track returns the published local track, if any.
func (p *LocalTrackPublication) Track(ctx context.Context) (*LocalTrack, bool, error) {
	return GetOrNull(ctx, p.Object, "track", localTrackConv)
}

func (p *LocalTrackPublication) Clone() *LocalTrackPublication {
	return &LocalTrackPublication{TrackPublication{p.Object.Clone()}}
}

var (
	trackConv       = ObjectOf("Track", func(o *Object) *Track { return &Track{o} })
	remoteTrackConv = ObjectOf("RemoteTrack", func(o *Object) *RemoteTrack { return &RemoteTrack{Track{o}} })
	localTrackConv  = ObjectOf("LocalTrack", func(o *Object) *LocalTrack { return &LocalTrack{Track{o}} })

	publicationConv = ObjectOf("TrackPublication", func(o *Object) *TrackPublication {
		return &TrackPublication{o}
	})
	remotePublicationConv = ObjectOf("RemoteTrackPublication", func(o *Object) *RemoteTrackPublication {
		return &RemoteTrackPublication{TrackPublication{o}}
	})
	localPublicationConv = ObjectOf("LocalTrackPublication", func(o *Object) *LocalTrackPublication {
		return &LocalTrackPublication{TrackPublication{o}}
	})
)
