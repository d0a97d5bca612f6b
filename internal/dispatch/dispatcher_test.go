package dispatch

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"groupwatch/internal/metrics"
	"groupwatch/internal/protocol"
)

type recorder struct {
	chats    []protocol.ChatMessage
	members  []protocol.MembershipMessage
	left     []protocol.UserLeftMessage
	controls []protocol.VideoControl
	syncs    []protocol.VideoSync
}

func (r *recorder) ShowChat(m protocol.ChatMessage)             { r.chats = append(r.chats, m) }
func (r *recorder) ShowMembership(m protocol.MembershipMessage) { r.members = append(r.members, m) }
func (r *recorder) ShowUserLeft(m protocol.UserLeftMessage)     { r.left = append(r.left, m) }

func (r *recorder) ApplyControl(_ context.Context, vc protocol.VideoControl) {
	r.controls = append(r.controls, vc)
}

func (r *recorder) ApplySync(_ context.Context, vs protocol.VideoSync) {
	r.syncs = append(r.syncs, vs)
}

func (r *recorder) total() int {
	return len(r.chats) + len(r.members) + len(r.left) + len(r.controls) + len(r.syncs)
}

func TestDispatchRoutesEachType(t *testing.T) {
	r := &recorder{}
	d := New(r, r, nil)
	frames := []string{
		`{"text":"untyped","user":"a","group_id":1,"created_at":"2025-01-01T00:00:00"}`,
		`{"type":"message","text":"typed","user":"a","group_id":1,"created_at":"2025-01-01T00:00:00"}`,
		`{"type":"add","text":"bob joined","user":"system","group_id":1,"user_email":"bob@example.com"}`,
		`{"type":"leave","text":"bob left","user":"system","group_id":1,"user_email":"bob@example.com"}`,
		`{"type":"user_left","message":"User disconnected from group 1"}`,
		`{"type":"video_control","video_action":"seek","video_time":10.5,"video_name":null,"user":"a"}`,
		`{"type":"video_sync","video_name":"a.mp4","video_time":42,"is_playing":true}`,
	}
	for _, f := range frames {
		d.Handle(context.Background(), []byte(f))
	}
	if len(r.chats) != 2 || len(r.members) != 2 || len(r.left) != 1 || len(r.controls) != 1 || len(r.syncs) != 1 {
		t.Fatalf("unexpected routing: %d chats, %d members, %d left, %d controls, %d syncs",
			len(r.chats), len(r.members), len(r.left), len(r.controls), len(r.syncs))
	}
	if !r.members[0].Added() || r.members[1].Added() {
		t.Error("add/leave routed with wrong kind")
	}
	if *r.controls[0].Time != 10.5 {
		t.Errorf("unexpected control time %v", *r.controls[0].Time)
	}
}

func TestDispatchDropsBadFrames(t *testing.T) {
	r := &recorder{}
	reg := prometheus.NewRegistry()
	m := metrics.New(metrics.WithRegistry(reg))
	d := New(r, r, m)

	d.Handle(context.Background(), []byte(`not json`))
	d.Handle(context.Background(), []byte(`{"type":"video_control","video_action":"explode","user":"a"}`))
	d.Handle(context.Background(), []byte(`{"type":"typing","user":"a"}`))
	d.Handle(context.Background(), nil)

	if r.total() != 0 {
		t.Errorf("bad frames reached a handler: %+v", r)
	}
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var dropped float64
	for _, mf := range families {
		if mf.GetName() == "groupwatch_frames_dropped_total" {
			for _, metric := range mf.GetMetric() {
				dropped += metric.GetCounter().GetValue()
			}
		}
	}
	if dropped != 4 {
		t.Errorf("expected 4 dropped frames, got %v", dropped)
	}
	n, err := testutil.GatherAndCount(reg, "groupwatch_frames_received_total")
	if err != nil {
		t.Fatalf("GatherAndCount failed: %v", err)
	}
	if n != 0 {
		t.Errorf("no frame should count as received, got %d series", n)
	}
}
