package roomkit

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"
	"time"

	"github.com/coder/websocket"
)

const joinMessage = `{"type":"join",
 "room":{"sid":"RM_1","name":"demo","metadata":"m0"},
 "participant":{"sid":"PA_me","identity":"me"},
 "participants":[{"sid":"PA_bob","identity":"bob","name":"Bob",
   "tracks":[{"sid":"TR_bob_audio","kind":"audio","source":"microphone"}]}]}`

// signalServer is a scripted room server: it accepts one client, sends
// the join response, forwards whatever the test queues on out and reports
// client messages on in.
type signalServer struct {
	*httptest.Server
	out chan string
	in  chan map[string]any
}

func newSignalServer(t *testing.T, join string) *signalServer {
	t.Helper()
	s := &signalServer{out: make(chan string, 16), in: make(chan map[string]any, 16)}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "token" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		if err := conn.Write(ctx, websocket.MessageText, []byte(join)); err != nil {
			return
		}
		go func() {
			for {
				_, data, err := conn.Read(ctx)
				if err != nil {
					return
				}
				var msg map[string]any
				if json.Unmarshal(data, &msg) == nil {
					s.in <- msg
				}
			}
		}()
		for {
			select {
			case msg := <-s.out:
				if err := conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(Config{SignalDialTimeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func receive[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
	var zero T
	return zero
}

func connectRoom(t *testing.T, e *Engine, srv *signalServer) *Room {
	t.Helper()
	ctx := testContext(t)
	room, err := e.NewRoom(ctx, nil)
	if err != nil {
		t.Fatalf("NewRoom: %v", err)
	}
	t.Cleanup(func() { _ = room.Close(context.Background()) })
	op, err := room.Connect(ctx, srv.URL, "token", &ConnectOptions{AutoSubscribe: true, ConnectTimeout: 3 * time.Second})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	got, err := op.Await(ctx)
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if got != room || op.IsError() {
		t.Fatal("connect operation resolved to another room")
	}
	return room
}

func TestRoom_ConnectAndState(t *testing.T) {
	e := newTestEngine(t)
	srv := newSignalServer(t, joinMessage)
	ctx := testContext(t)

	room, err := e.NewRoom(ctx, nil)
	if err != nil {
		t.Fatalf("NewRoom: %v", err)
	}
	defer room.Close(ctx)

	states := make(chan RoomState, 8)
	room.Events.ConnectionStateChanged.On(func(_ context.Context, s RoomState) { states <- s })

	op, err := room.Connect(ctx, srv.URL, "token", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := op.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if s := receive(t, states, "connecting"); s != StateConnecting {
		t.Errorf("first state = %s", s)
	}
	if s := receive(t, states, "connected"); s != StateConnected {
		t.Errorf("second state = %s", s)
	}

	if s, err := room.State(ctx); err != nil || s != StateConnected {
		t.Errorf("State = %s, %v", s, err)
	}
	if sid, _ := room.Sid(ctx); sid != "RM_1" {
		t.Errorf("Sid = %q", sid)
	}
	if name, _ := room.Name(ctx); name != "demo" {
		t.Errorf("Name = %q", name)
	}
	if md, ok, _ := room.Metadata(ctx); !ok || md != "m0" {
		t.Errorf("Metadata = %q, %v", md, ok)
	}
	opts, err := room.Options(ctx)
	if err != nil || opts != DefaultRoomOptions() {
		t.Errorf("Options = %+v, %v", opts, err)
	}

	participants, err := room.Participants(ctx)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	defer participants.Release()
	bob, ok, err := participants.Lookup(ctx, "PA_bob")
	if err != nil || !ok {
		t.Fatalf("Lookup(PA_bob) = %v, %v", ok, err)
	}
	defer bob.Release()
	if id, _ := bob.Identity(ctx); id != "bob" {
		t.Errorf("Identity = %q", id)
	}
	pubs, err := bob.TrackPublications(ctx)
	if err != nil {
		t.Fatalf("TrackPublications: %v", err)
	}
	defer pubs.Release()
	if n, _ := pubs.Len(ctx); n != 1 {
		t.Errorf("bob publications = %d", n)
	}

	lp, err := room.LocalParticipant(ctx)
	if err != nil {
		t.Fatalf("LocalParticipant: %v", err)
	}
	defer lp.Release()
	if id, _ := lp.Identity(ctx); id != "me" || !lp.IsLocal() {
		t.Errorf("local identity = %q, local %v", id, lp.IsLocal())
	}

	p, ok, err := room.GetParticipantByIdentity(ctx, "bob")
	if err != nil || !ok {
		t.Fatalf("GetParticipantByIdentity(bob) = %v, %v", ok, err)
	}
	defer p.Release()
	if _, remote := p.AsRemote(); !remote {
		t.Error("bob should be remote")
	}
	if _, ok, _ := room.GetParticipantByIdentity(ctx, "nobody"); ok {
		t.Error("found a participant that is not in the room")
	}
}

func TestRoom_RemoteEvents(t *testing.T) {
	e := newTestEngine(t)
	srv := newSignalServer(t, joinMessage)
	ctx := testContext(t)

	room, err := e.NewRoom(ctx, nil)
	if err != nil {
		t.Fatalf("NewRoom: %v", err)
	}
	defer room.Close(ctx)

	joined := make(chan string, 1)
	room.Events.ParticipantConnected.On(func(ctx context.Context, p *RemoteParticipant) {
		id, err := p.Identity(ctx)
		if err != nil {
			id = err.Error()
		}
		joined <- id
	})
	subscribed := make(chan string, 1)
	room.Events.TrackSubscribed.On(func(ctx context.Context, ev TrackEvent) {
		kind, _ := ev.Track.Kind(ctx)
		sid, _ := ev.Publication.TrackSid(ctx)
		subscribed <- sid + "/" + string(kind)
	})
	data := make(chan DataReceivedEvent, 1)
	from := make(chan string, 1)
	room.Events.DataReceived.On(func(ctx context.Context, ev DataReceivedEvent) {
		data <- ev
		if ev.Participant != nil {
			id, _ := ev.Participant.Identity(ctx)
			from <- id
		}
	})
	metadata := make(chan MetadataEvent, 1)
	room.Events.ParticipantMetadataChanged.On(func(_ context.Context, ev MetadataEvent) { metadata <- ev })
	speakers := make(chan int, 1)
	room.Events.ActiveSpeakersChanged.On(func(_ context.Context, s *Array[*Participant]) { speakers <- s.Len() })
	devErr := make(chan string, 1)
	room.Events.MediaDevicesError.On(func(_ context.Context, err *JSError) { devErr <- err.Message })

	op, err := room.Connect(ctx, srv.URL, "token", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := op.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}

	srv.out <- `{"type":"participant_joined","participant":{"sid":"PA_carol","identity":"carol",
		"tracks":[{"sid":"TR_carol_cam","kind":"video","source":"camera"}]}}`
	if id := receive(t, joined, "participantConnected"); id != "carol" {
		t.Errorf("joined = %q", id)
	}
	if got := receive(t, subscribed, "trackSubscribed"); got != "TR_carol_cam/video" {
		t.Errorf("subscribed = %q", got)
	}

	srv.out <- `{"type":"data","participant":"PA_carol","payload":"` + base64.StdEncoding.EncodeToString([]byte("hi")) + `","kind":1}`
	ev := receive(t, data, "dataReceived")
	if string(ev.Payload) != "hi" || !ev.HasKind || ev.Kind != DataLossy {
		t.Errorf("data = %q kind %v (has %v)", ev.Payload, ev.Kind, ev.HasKind)
	}
	if id := receive(t, from, "data sender"); id != "carol" {
		t.Errorf("sender = %q", id)
	}

	srv.out <- `{"type":"data","payload":"` + base64.StdEncoding.EncodeToString([]byte("srv")) + `"}`
	ev = receive(t, data, "server data")
	if ev.Participant != nil || ev.HasKind || string(ev.Payload) != "srv" {
		t.Errorf("server data = %+v", ev)
	}

	srv.out <- `{"type":"participant_metadata","participant":"PA_bob","metadata":"busy"}`
	md := receive(t, metadata, "participantMetadataChanged")
	if md.HasPrev {
		t.Errorf("bob had no metadata, got prev %q", md.PrevMetadata)
	}

	srv.out <- `{"type":"speakers","speakers":[{"sid":"PA_bob","level":0.5},{"sid":"PA_me","level":0.2}]}`
	if n := receive(t, speakers, "activeSpeakersChanged"); n != 2 {
		t.Errorf("speakers = %d", n)
	}

	srv.out <- `{"type":"media_devices_error","message":"no camera"}`
	if msg := receive(t, devErr, "mediaDevicesError"); msg != "no camera" {
		t.Errorf("device error = %q", msg)
	}
}

func TestRoom_LocalParticipantSends(t *testing.T) {
	e := newTestEngine(t)
	srv := newSignalServer(t, joinMessage)
	room := connectRoom(t, e, srv)
	ctx := testContext(t)

	lp, err := room.LocalParticipant(ctx)
	if err != nil {
		t.Fatalf("LocalParticipant: %v", err)
	}
	defer lp.Release()

	if err := lp.PublishData(ctx, []byte{0, 1, 2, 255}, DataReliable); err != nil {
		t.Fatalf("PublishData: %v", err)
	}
	msg := receive(t, srv.in, "data message")
	payload, _ := base64.StdEncoding.DecodeString(msg["payload"].(string))
	if msg["type"] != "data" || string(payload) != "\x00\x01\x02\xff" || msg["kind"] != float64(0) {
		t.Errorf("sent %v", msg)
	}

	if err := lp.SetMetadata(ctx, "hello"); err != nil {
		t.Fatalf("SetMetadata: %v", err)
	}
	msg = receive(t, srv.in, "metadata message")
	if msg["type"] != "update_metadata" || msg["metadata"] != "hello" {
		t.Errorf("sent %v", msg)
	}
}

func TestRoom_DevicesAndAudio(t *testing.T) {
	e := newTestEngine(t)
	ctx := testContext(t)
	room, err := e.NewRoom(ctx, &RoomOptions{Dynacast: true})
	if err != nil {
		t.Fatalf("NewRoom: %v", err)
	}
	defer room.Close(ctx)

	changed := make(chan struct{}, 4)
	room.Events.MediaDevicesChanged.On(func(context.Context, struct{}) { changed <- struct{}{} })
	playback := make(chan bool, 1)
	room.Events.AudioPlaybackChanged.On(func(_ context.Context, ok bool) { playback <- ok })

	p, err := room.SwitchActiveDevice(ctx, AudioInput, "mic-2")
	if err != nil {
		t.Fatalf("SwitchActiveDevice: %v", err)
	}
	v, err := p.Await(ctx)
	if err != nil || v != true {
		t.Errorf("switch resolved %v, %v", v, err)
	}
	receive(t, changed, "mediaDevicesChanged")
	if id, ok, err := room.ActiveDevice(ctx, AudioInput); err != nil || !ok || id != "mic-2" {
		t.Errorf("ActiveDevice = %q, %v, %v", id, ok, err)
	}

	p, err = room.SwitchActiveDevice(ctx, MediaDeviceKind("speaker"), "x")
	if err != nil {
		t.Fatalf("SwitchActiveDevice: %v", err)
	}
	_, err = p.Await(ctx)
	var berr *BoundaryError
	if !errors.As(err, &berr) || berr.Err.Name != "TypeError" {
		t.Errorf("unknown kind err = %v", err)
	}
	p.RejectValue().Release()

	audio, err := room.StartAudio(ctx)
	if err != nil {
		t.Fatalf("StartAudio: %v", err)
	}
	if _, err := audio.Await(ctx); err != nil {
		t.Errorf("StartAudio: %v", err)
	}
	if !receive(t, playback, "audioPlaybackChanged") {
		t.Error("playback not enabled")
	}
	if ok, _ := room.CanPlaybackAudio(ctx); !ok {
		t.Error("CanPlaybackAudio = false")
	}
	opts, _ := room.Options(ctx)
	if !opts.Dynacast || !opts.StopLocalTrackOnUnpublish {
		t.Errorf("options = %+v", opts)
	}
}

func TestRoom_ConnectRejected(t *testing.T) {
	e := newTestEngine(t)
	srv := newSignalServer(t, `{"type":"error","message":"room full"}`)
	ctx := testContext(t)

	room, err := e.NewRoom(ctx, nil)
	if err != nil {
		t.Fatalf("NewRoom: %v", err)
	}
	defer room.Close(ctx)

	op, err := room.Connect(ctx, srv.URL, "token", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_, err = op.Await(ctx)
	var berr *BoundaryError
	if !errors.As(err, &berr) || berr.Err.Message != "room full" {
		t.Fatalf("err = %v, want the server rejection", err)
	}
	if !op.IsError() || op.Error().Message != "room full" {
		t.Errorf("IsError %v", op.IsError())
	}
	if s, _ := room.State(ctx); s != StateDisconnected {
		t.Errorf("state after rejection = %s", s)
	}
}

func TestRoom_ConnectBadURL(t *testing.T) {
	e := newTestEngine(t)
	ctx := testContext(t)
	room, err := e.NewRoom(ctx, nil)
	if err != nil {
		t.Fatalf("NewRoom: %v", err)
	}
	defer room.Close(ctx)

	op, err := room.Connect(ctx, "ftp://nowhere", "token", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := op.Await(ctx); err == nil {
		t.Fatal("connect to an unsupported scheme succeeded")
	}
}

func TestRoom_DisconnectAndRelease(t *testing.T) {
	e := newTestEngine(t)
	srv := newSignalServer(t, joinMessage)
	ctx := testContext(t)

	room, err := e.NewRoom(ctx, nil)
	if err != nil {
		t.Fatalf("NewRoom: %v", err)
	}
	left := make(chan struct{}, 1)
	room.Events.Disconnected.On(func(context.Context, struct{}) { left <- struct{}{} })
	op, err := room.Connect(ctx, srv.URL, "token", nil)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if _, err := op.Await(ctx); err != nil {
		t.Fatalf("Await: %v", err)
	}

	if err := room.Disconnect(ctx, true); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	receive(t, left, "disconnected")
	if s, _ := room.State(ctx); s != StateDisconnected {
		t.Errorf("state = %s", s)
	}

	if err := room.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var pinned int
	for i := 0; i < 50; i++ {
		runtime.GC()
		pinned, err = e.Pinned(ctx)
		if err != nil {
			t.Fatalf("Pinned: %v", err)
		}
		if pinned == 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if pinned != 0 {
		t.Errorf("%d objects still pinned after Close", pinned)
	}
	if err := e.Bridge().Err(); err != nil {
		t.Errorf("bridge error: %v", err)
	}
}

func TestEngine_Eval(t *testing.T) {
	e := newTestEngine(t)
	ctx := testContext(t)
	if err := e.Eval(ctx, "globalThis.answer = 6 * 7"); err != nil {
		t.Fatalf("Eval: %v", err)
	}
	v, err := Call(ctx, e.Bridge().Namespace(), "@prop", NewTransferStack(StringValue("version")), Int)
	if err != nil || v != 1 {
		t.Errorf("namespace version = %d, %v", v, err)
	}
	if err := e.Eval(ctx, "throw new Error('boom')"); err == nil {
		t.Error("Eval of a throwing script succeeded")
	}
}
