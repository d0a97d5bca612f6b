package playback

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"groupwatch/internal/clock/clocktest"
	"groupwatch/internal/conn"
	"groupwatch/internal/notice"
	"groupwatch/internal/protocol"
	"groupwatch/internal/session"
)

type fakePlayer struct {
	calls           []string
	position        float64
	metadata        bool
	instantMetadata bool
	playErr         error
}

func (p *fakePlayer) SetSource(locator string) {
	p.calls = append(p.calls, "source:"+locator)
	p.metadata = p.instantMetadata
}

func (p *fakePlayer) Load() {
	p.calls = append(p.calls, "load")
}

func (p *fakePlayer) Seek(seconds float64) {
	p.calls = append(p.calls, fmt.Sprintf("seek:%g", seconds))
	p.position = seconds
}

func (p *fakePlayer) Play() error {
	p.calls = append(p.calls, "play")
	return p.playErr
}

func (p *fakePlayer) Pause() {
	p.calls = append(p.calls, "pause")
}

func (p *fakePlayer) CurrentTime() float64 {
	return p.position
}

func (p *fakePlayer) HasMetadata() bool {
	return p.metadata
}

type fakeSender struct {
	frames []protocol.VideoControlSend
	err    error
}

func (s *fakeSender) Send(v any) error {
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, v.(protocol.VideoControlSend))
	return nil
}

type fixture struct {
	ctx     context.Context
	state   *session.State
	sched   *clocktest.Scheduler
	player  *fakePlayer
	sender  *fakeSender
	events  []any
	notices []notice.Notice
	sup     *Suppressor
	ctrl    *Controller
	emitter *Emitter
}

func newFixture() *fixture {
	f := &fixture{
		ctx:    context.Background(),
		state:  &session.State{},
		sched:  clocktest.New(),
		player: &fakePlayer{},
		sender: &fakeSender{},
	}
	post := func(ev any) { f.events = append(f.events, ev) }
	notifier := notice.Func(func(n notice.Notice) { f.notices = append(f.notices, n) })
	f.sup = NewSuppressor(f.state, f.sched, post)
	f.ctrl = NewController(f.state, Config{Identity: "me@example.com", StreamBase: "http://stream"}, Deps{
		Player:     f.player,
		Suppressor: f.sup,
		Scheduler:  f.sched,
		Post:       post,
		Notifier:   notifier,
	})
	f.emitter = NewEmitter(5, f.state, EmitterDeps{
		Player:     f.player,
		Controller: f.ctrl,
		Suppressor: f.sup,
		Sender:     f.sender,
		Notifier:   notifier,
	})
	return f
}

// deliver hands posted timer events back to their owners, as the loop would.
func (f *fixture) deliver() {
	events := f.events
	f.events = nil
	for _, ev := range events {
		switch e := ev.(type) {
		case SettleDue:
			f.sup.HandleSettle(e)
		case ReadyTimeout:
			f.ctrl.HandleReadyTimeout(f.ctx, e)
		}
	}
}

func ptr[T any](v T) *T {
	return &v
}

func control(user string, action protocol.Action, at *float64, name *string) protocol.VideoControl {
	return protocol.VideoControl{Type: protocol.TypeVideoControl, Action: action, Time: at, Name: name, User: user}
}

func equalCalls(got []string, want ...string) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestOwnEchoIsIgnored(t *testing.T) {
	f := newFixture()
	f.state.Video = session.VideoState{Name: "a.mp4", CurrentTime: 3, IsPlaying: true}

	f.ctrl.ApplyControl(f.ctx, control("me@example.com", protocol.ActionPause, ptr(99.0), nil))

	if f.state.Video != (session.VideoState{Name: "a.mp4", CurrentTime: 3, IsPlaying: true}) {
		t.Errorf("echo mutated video state: %+v", f.state.Video)
	}
	if len(f.player.calls) != 0 {
		t.Errorf("echo touched the player: %v", f.player.calls)
	}
	if f.sup.Active() {
		t.Error("echo should not arm suppression")
	}
}

func TestRemotePlaySeeksThenPlays(t *testing.T) {
	f := newFixture()
	f.ctrl.ApplyControl(f.ctx, control("bob", protocol.ActionPlay, ptr(12.0), nil))

	if !equalCalls(f.player.calls, "seek:12", "play") {
		t.Errorf("unexpected calls %v", f.player.calls)
	}
	if !f.state.Video.IsPlaying || f.state.Video.CurrentTime != 12 {
		t.Errorf("unexpected state %+v", f.state.Video)
	}
	if !f.sup.Active() {
		t.Fatal("suppression should be armed")
	}
	pending := f.sched.Pending()
	if len(pending) != 1 || pending[0].Delay != DefaultControlSettle {
		t.Fatalf("expected one %s settle timer, got %d", DefaultControlSettle, len(pending))
	}
	pending[0].Fire()
	f.deliver()
	if f.sup.Active() {
		t.Error("suppression should clear after the settle delay")
	}
}

func TestRemotePauseAndSeek(t *testing.T) {
	f := newFixture()
	f.ctrl.ApplyControl(f.ctx, control("bob", protocol.ActionPause, ptr(4.5), nil))
	f.ctrl.ApplyControl(f.ctx, control("bob", protocol.ActionSeek, ptr(8.0), nil))
	f.ctrl.ApplyControl(f.ctx, control("bob", protocol.ActionPause, nil, nil))

	if !equalCalls(f.player.calls, "seek:4.5", "pause", "seek:8", "pause") {
		t.Errorf("unexpected calls %v", f.player.calls)
	}
	if f.state.Video.IsPlaying || f.state.Video.CurrentTime != 8 {
		t.Errorf("unexpected state %+v", f.state.Video)
	}
	if f.ctrl.Phase() != PausedPhase {
		t.Errorf("expected paused phase, got %s", f.ctrl.Phase())
	}
	if n := len(f.sched.Pending()); n != 1 {
		t.Errorf("only one settle timer may be live, got %d", n)
	}
}

func TestRemoteChangeVideo(t *testing.T) {
	f := newFixture()
	f.ctrl.ApplyControl(f.ctx, control("bob", protocol.ActionChangeVideo, ptr(0.0), ptr("trip.mp4")))

	if !equalCalls(f.player.calls, "source:http://stream/api/stream/trip.mp4", "load", "seek:0") {
		t.Errorf("unexpected calls %v", f.player.calls)
	}
	if f.state.Video.Name != "trip.mp4" || f.state.Video.IsPlaying {
		t.Errorf("unexpected state %+v", f.state.Video)
	}
	if f.ctrl.Phase() != Loading {
		t.Errorf("expected loading, got %s", f.ctrl.Phase())
	}
	f.ctrl.HandleMetadataReady(f.ctx)
	if f.ctrl.Phase() != Ready {
		t.Errorf("expected ready, got %s", f.ctrl.Phase())
	}
}

func TestChangeVideoWithoutNameIsDropped(t *testing.T) {
	f := newFixture()
	f.ctrl.ApplyControl(f.ctx, control("bob", protocol.ActionChangeVideo, nil, nil))
	if len(f.player.calls) != 0 || f.sup.Active() {
		t.Errorf("nameless change_video should do nothing: %v", f.player.calls)
	}
}

func TestVideoSyncAfterMetadataReady(t *testing.T) {
	f := newFixture()
	f.ctrl.ApplyControl(f.ctx, control("bob", protocol.ActionSeek, ptr(1.0), nil))
	prior := f.sched.Last()

	f.ctrl.ApplySync(f.ctx, protocol.VideoSync{Name: ptr("a.mp4"), Time: 42.0, IsPlaying: true})
	if prior.Pending() {
		t.Error("sync should replace the prior settle timer")
	}
	if f.ctrl.Phase() != Loading {
		t.Errorf("expected loading, got %s", f.ctrl.Phase())
	}
	if !f.sup.Active() {
		t.Fatal("suppression should be armed while loading")
	}

	f.ctrl.HandleMetadataReady(f.ctx)

	want := session.VideoState{Name: "a.mp4", CurrentTime: 42.0, IsPlaying: true}
	if f.state.Video != want {
		t.Errorf("expected %+v, got %+v", want, f.state.Video)
	}
	if !equalCalls(f.player.calls[len(f.player.calls)-4:], "source:http://stream/api/stream/a.mp4", "load", "seek:42", "play") {
		t.Errorf("unexpected calls %v", f.player.calls)
	}
	pending := f.sched.Pending()
	if len(pending) != 1 {
		t.Fatalf("expected exactly one live timer, got %d", len(pending))
	}
	if pending[0].Delay != DefaultSyncSettle {
		t.Errorf("expected %s settle delay, got %s", DefaultSyncSettle, pending[0].Delay)
	}
	if !f.sup.Active() {
		t.Error("suppression should last until the settle delay")
	}
	pending[0].Fire()
	f.deliver()
	if f.sup.Active() {
		t.Error("suppression should clear after settle")
	}
}

func TestVideoSyncWithMetadataAppliesImmediately(t *testing.T) {
	f := newFixture()
	f.player.instantMetadata = true
	f.ctrl.ApplySync(f.ctx, protocol.VideoSync{Name: ptr("b.mp4"), Time: 7, IsPlaying: false})

	if f.state.Video != (session.VideoState{Name: "b.mp4", CurrentTime: 7}) {
		t.Errorf("unexpected state %+v", f.state.Video)
	}
	if !equalCalls(f.player.calls, "source:http://stream/api/stream/b.mp4", "load", "seek:7", "pause") {
		t.Errorf("unexpected calls %v", f.player.calls)
	}
	pending := f.sched.Pending()
	if len(pending) != 1 || pending[0].Delay != DefaultSyncSettle {
		t.Errorf("expected only the settle timer, got %d", len(pending))
	}
}

func TestVideoSyncReadyTimeoutForcesApplication(t *testing.T) {
	f := newFixture()
	f.ctrl.ApplySync(f.ctx, protocol.VideoSync{Name: ptr("c.mp4"), Time: 30, IsPlaying: true})
	timer := f.sched.Last()
	if timer.Delay != DefaultReadyTimeout {
		t.Fatalf("expected ready timeout %s, got %s", DefaultReadyTimeout, timer.Delay)
	}
	timer.Fire()
	f.deliver()

	if f.state.Video.CurrentTime != 30 || !f.state.Video.IsPlaying {
		t.Errorf("sync should be forced through, got %+v", f.state.Video)
	}
	if !f.sup.Active() {
		t.Error("suppression should stay armed for the settle delay")
	}
	if f.sched.Last().Delay != DefaultSyncSettle {
		t.Error("settle timer should follow the forced application")
	}

	// A metadata signal arriving late must not apply the sync twice.
	before := len(f.player.calls)
	f.ctrl.HandleMetadataReady(f.ctx)
	if len(f.player.calls) != before {
		t.Errorf("late metadata re-applied the sync: %v", f.player.calls[before:])
	}
}

func TestVideoSyncWithoutNameClearsSuppression(t *testing.T) {
	f := newFixture()
	f.ctrl.ApplyControl(f.ctx, control("bob", protocol.ActionPlay, nil, nil))
	f.player.calls = nil

	f.ctrl.ApplySync(f.ctx, protocol.VideoSync{Name: nil, Time: 10, IsPlaying: true})

	if f.sup.Active() {
		t.Error("suppression should clear synchronously")
	}
	if len(f.player.calls) != 0 {
		t.Errorf("no source reassignment expected, got %v", f.player.calls)
	}
	if len(f.sched.Pending()) != 0 {
		t.Error("no timer should remain")
	}
}

func TestStaleSettleDoesNotClearNewerWindow(t *testing.T) {
	f := newFixture()
	f.ctrl.ApplyControl(f.ctx, control("bob", protocol.ActionPlay, nil, nil))
	f.sched.Last().Fire() // settle event queued but not yet handled

	f.ctrl.ApplyControl(f.ctx, control("carol", protocol.ActionPause, nil, nil))
	f.deliver()

	if !f.sup.Active() {
		t.Error("a settle event from an older window must not clear the current one")
	}
}

func TestPlaybackRefusedIsNonFatal(t *testing.T) {
	f := newFixture()
	f.player.playErr = errors.New("NotAllowedError: play() requires a user gesture")
	f.player.instantMetadata = true
	f.ctrl.ApplySync(f.ctx, protocol.VideoSync{Name: ptr("d.mp4"), Time: 5, IsPlaying: true})

	if f.state.Video.IsPlaying {
		t.Error("refused playback should not be tracked as playing")
	}
	if len(f.notices) != 1 {
		t.Fatalf("expected one notice, got %d", len(f.notices))
	}
	n := f.notices[0]
	if n.Level != notice.Warning || n.Hint != "click to start playback" {
		t.Errorf("unexpected notice %+v", n)
	}
	if !f.sup.Active() || len(f.sched.Pending()) != 1 {
		t.Error("suppression lifecycle should be unaffected")
	}
}

func TestEmitterSilentWhileSuppressed(t *testing.T) {
	f := newFixture()
	f.ctrl.ApplyControl(f.ctx, control("bob", protocol.ActionPlay, ptr(3.0), nil))

	for i := 0; i < 10; i++ {
		f.emitter.OnTransition(f.ctx, Transition{Kind: Played, At: 3})
		f.emitter.OnTransition(f.ctx, Transition{Kind: Seeked, At: 3})
		f.emitter.OnTransition(f.ctx, Transition{Kind: Paused, At: 3})
	}
	if len(f.sender.frames) != 0 {
		t.Fatalf("expected no frames while suppressed, got %d", len(f.sender.frames))
	}

	f.sched.Last().Fire()
	f.deliver()
	f.state.Video.Name = "a.mp4"
	f.player.position = 9.25
	f.emitter.OnTransition(f.ctx, Transition{Kind: Paused, At: 9.25})
	if len(f.sender.frames) != 1 {
		t.Fatalf("expected one frame after settle, got %d", len(f.sender.frames))
	}
	got := f.sender.frames[0]
	want := protocol.NewVideoControlSend(5, protocol.ActionPause, 9.25, "a.mp4")
	if got.Action != want.Action || got.Time != want.Time || protocol.String(got.Name) != "a.mp4" || got.GroupID != 5 {
		t.Errorf("unexpected frame %+v", got)
	}
}

func TestAppliedRemoteSeekIsNotReEmitted(t *testing.T) {
	f := newFixture()
	f.ctrl.ApplyControl(f.ctx, control("a@example.com", protocol.ActionSeek, ptr(10.5), ptr("a.mp4")))
	// The player reports the seek it just performed.
	t1 := Transition{Kind: Seeked, At: f.player.CurrentTime()}
	f.ctrl.Observe(t1)
	f.emitter.OnTransition(f.ctx, t1)

	if f.player.position != 10.5 {
		t.Errorf("seek not applied: %g", f.player.position)
	}
	if len(f.sender.frames) != 0 {
		t.Errorf("remote seek echoed back: %+v", f.sender.frames)
	}
}

func TestEmitterDropsWhenDisconnected(t *testing.T) {
	f := newFixture()
	f.sender.err = conn.ErrNotConnected
	f.emitter.OnTransition(f.ctx, Transition{Kind: Played})

	if len(f.notices) != 1 || f.notices[0].Level != notice.Warning {
		t.Fatalf("expected a warning, got %+v", f.notices)
	}
}

func TestRequestVideoChangeBypassesSuppression(t *testing.T) {
	f := newFixture()
	f.ctrl.ApplyControl(f.ctx, control("bob", protocol.ActionPlay, nil, nil))
	f.player.calls = nil

	if err := f.emitter.RequestVideoChange(f.ctx, "e.mp4"); err != nil {
		t.Fatalf("RequestVideoChange failed: %v", err)
	}
	if !equalCalls(f.player.calls, "source:http://stream/api/stream/e.mp4", "load", "play") {
		t.Errorf("unexpected calls %v", f.player.calls)
	}
	if len(f.sender.frames) != 1 {
		t.Fatalf("expected change_video frame, got %d", len(f.sender.frames))
	}
	frame := f.sender.frames[0]
	if frame.Action != protocol.ActionChangeVideo || frame.Time != 0 || protocol.String(frame.Name) != "e.mp4" {
		t.Errorf("unexpected frame %+v", frame)
	}
	if f.state.Video != (session.VideoState{Name: "e.mp4", IsPlaying: true}) {
		t.Errorf("unexpected state %+v", f.state.Video)
	}
	if err := f.emitter.RequestVideoChange(f.ctx, ""); !errors.Is(err, ErrNoVideo) {
		t.Errorf("expected ErrNoVideo, got %v", err)
	}
}

func TestChangeVideoAbandonsPendingSync(t *testing.T) {
	f := newFixture()
	f.ctrl.ApplySync(f.ctx, protocol.VideoSync{Name: ptr("old.mp4"), Time: 50, IsPlaying: true})
	ready := f.sched.Last()

	f.ctrl.ApplyControl(f.ctx, control("bob", protocol.ActionChangeVideo, nil, ptr("new.mp4")))
	if ready.Pending() {
		t.Error("ready timeout should be cancelled")
	}
	f.ctrl.HandleMetadataReady(f.ctx)
	if f.state.Video.CurrentTime != 0 || f.state.Video.Name != "new.mp4" {
		t.Errorf("old sync leaked into new video: %+v", f.state.Video)
	}
}

func TestControlDuringPendingSyncStaysQuiet(t *testing.T) {
	f := newFixture()
	f.ctrl.ApplySync(f.ctx, protocol.VideoSync{Name: ptr("a.mp4"), Time: 42, IsPlaying: true})
	// bob seeks while the video is still loading, and his settle runs out
	f.ctrl.ApplyControl(f.ctx, control("bob", protocol.ActionSeek, ptr(10.0), nil))
	for _, tm := range f.sched.Pending() {
		if tm.Delay == DefaultControlSettle {
			tm.Fire()
		}
	}
	f.deliver()

	f.ctrl.HandleMetadataReady(f.ctx)
	if !f.sup.Active() {
		t.Fatal("applying the sync should suppress emission again")
	}
	f.emitter.OnTransition(f.ctx, Transition{Kind: Seeked, At: 42})
	f.emitter.OnTransition(f.ctx, Transition{Kind: Played, At: 42})
	if len(f.sender.frames) != 0 {
		t.Errorf("sync application echoed back: %+v", f.sender.frames)
	}

	pending := f.sched.Pending()
	if len(pending) != 1 || pending[0].Delay != DefaultSyncSettle {
		t.Fatalf("expected only the sync settle timer, got %d", len(pending))
	}
	pending[0].Fire()
	f.deliver()
	if f.sup.Active() {
		t.Error("suppression should clear after the sync settle")
	}
}

func TestEmptySyncAbandonsPendingSync(t *testing.T) {
	f := newFixture()
	f.ctrl.ApplySync(f.ctx, protocol.VideoSync{Name: ptr("a.mp4"), Time: 42, IsPlaying: true})
	ready := f.sched.Last()

	f.ctrl.ApplySync(f.ctx, protocol.VideoSync{Name: nil})
	if ready.Pending() {
		t.Error("ready timeout should be cancelled")
	}
	if f.sup.Active() {
		t.Error("suppression should clear synchronously")
	}

	before := len(f.player.calls)
	f.ctrl.HandleMetadataReady(f.ctx)
	if len(f.player.calls) != before {
		t.Errorf("abandoned sync was applied: %v", f.player.calls[before:])
	}
	if f.sup.Active() || len(f.sched.Pending()) != 0 {
		t.Error("no window or timer should remain")
	}
}

func TestSettleDelaysAreConfigurable(t *testing.T) {
	f := newFixture()
	f.ctrl = NewController(f.state, Config{Identity: "me", ControlSettle: 50 * time.Millisecond}, Deps{
		Player:     f.player,
		Suppressor: f.sup,
		Scheduler:  f.sched,
		Post:       func(any) {},
	})
	f.ctrl.ApplyControl(f.ctx, control("bob", protocol.ActionSeek, ptr(1.0), nil))
	if f.sched.Last().Delay != 50*time.Millisecond {
		t.Errorf("unexpected delay %s", f.sched.Last().Delay)
	}
}
