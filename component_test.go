package hostcomm

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/embedkit/hostcomm-go/channel/memorychannel"
	"github.com/embedkit/hostcomm-go/origins"
	"github.com/embedkit/hostcomm-go/wire"
)

type recordingRenderer struct {
	mu     sync.Mutex
	states []State
	meta   Metadata
}

func (r *recordingRenderer) Render(ctx context.Context, sess Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, sess.CurrentState())
	return nil
}

func (r *recordingRenderer) RendererMetadata() Metadata { return r.meta }

func (r *recordingRenderer) renders() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func newDecorated(t *testing.T, inner Renderer) (*Decorated, *memorychannel.Channel) {
	t.Helper()
	ch := memorychannel.New()
	d := WithHostCommunication(inner,
		WithTransport(ch),
		WithTrustedOrigins(origins.NewPatternList("*.example.com")),
	)
	if err := d.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(d.Unmount)
	return d, ch
}

func TestDecorated_InitialRenderWithDefaults(t *testing.T) {
	r := &recordingRenderer{}
	newDecorated(t, r)

	states := r.renders()
	if len(states) != 1 {
		t.Fatalf("expected exactly one initial render, got %d", len(states))
	}
	if states[0].IsOwner || states[0].ForcedModalClose || len(states[0].MenuItems) != 0 {
		t.Fatalf("initial render saw non-default state: %+v", states[0])
	}
}

func TestDecorated_ReRendersOnStateChange(t *testing.T) {
	r := &recordingRenderer{}
	_, ch := newDecorated(t, r)

	deliver(t, ch, trustedOrigin, map[string]any{
		"protocolVersion": wire.ProtocolVersion,
		"type":            "SET_IS_OWNER",
		"isOwner":         true,
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		states := r.renders()
		if len(states) >= 2 {
			if !states[len(states)-1].IsOwner {
				t.Fatalf("re-render saw stale state: %+v", states)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("no re-render after state change; renders: %d", len(states))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestDecorated_NoReRenderForInertMessages(t *testing.T) {
	r := &recordingRenderer{}
	_, ch := newDecorated(t, r)

	deliver(t, ch, trustedOrigin, map[string]any{
		"protocolVersion": wire.ProtocolVersion,
		"type":            "TOTALLY_UNKNOWN",
	})
	// Marker that does change state.
	deliver(t, ch, trustedOrigin, map[string]any{
		"protocolVersion": wire.ProtocolVersion,
		"type":            "SET_IS_OWNER",
		"isOwner":         true,
	})

	// Wait for the marker's render, then count: initial + marker only.
	deadline := time.Now().Add(2 * time.Second)
	for {
		states := r.renders()
		if n := len(states); n > 0 && states[n-1].IsOwner {
			if n != 2 {
				t.Fatalf("expected initial + marker renders, got %d", n)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("marker message never rendered")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// overlapRenderer holds each Render open briefly so concurrent invocations
// would be observed as overlap.
type overlapRenderer struct {
	mu       sync.Mutex
	inFlight int
	overlaps int
	renders  []State
}

func (r *overlapRenderer) Render(ctx context.Context, sess Session) error {
	r.mu.Lock()
	r.inFlight++
	if r.inFlight > 1 {
		r.overlaps++
	}
	r.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	r.mu.Lock()
	r.inFlight--
	r.renders = append(r.renders, sess.CurrentState())
	r.mu.Unlock()
	return nil
}

func TestDecorated_RendersNeverOverlap(t *testing.T) {
	r := &overlapRenderer{}
	ch := memorychannel.New()
	d := WithHostCommunication(r,
		WithTransport(ch),
		WithTrustedOrigins(origins.NewPatternList("*.example.com")),
	)
	if err := d.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	t.Cleanup(d.Unmount)

	// Flood state changes right behind Mount so an applied-message render
	// races the initial render if mounting does not serialize them.
	for i := 0; i < 5; i++ {
		deliver(t, ch, trustedOrigin, map[string]any{
			"protocolVersion":         wire.ProtocolVersion,
			"type":                    "SET_SIDEBAR_CHEVRON_DOWNSHIFT",
			"sidebarChevronDownshift": i + 1,
		})
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		r.mu.Lock()
		n := len(r.renders)
		done := n > 0 && r.renders[n-1].SidebarChevronDownshift == 5
		r.mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("final state never rendered; renders so far: %d", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.overlaps != 0 {
		t.Fatalf("%d overlapping render invocations", r.overlaps)
	}
	if r.renders[0].SidebarChevronDownshift != 0 {
		t.Fatalf("first completed render saw %+v, want the default state", r.renders[0])
	}
}

func TestDecorated_MetadataCopiedNotAliased(t *testing.T) {
	r := &recordingRenderer{meta: Metadata{
		Name:         "dashboard",
		Capabilities: []string{"menu", "toolbar"},
	}}
	d, _ := newDecorated(t, r)

	got := d.RendererMetadata()
	if got.Name != "dashboard" || len(got.Capabilities) != 2 {
		t.Fatalf("metadata not forwarded: %+v", got)
	}

	// Mutating either side must not affect the other.
	got.Capabilities[0] = "tampered"
	if d.RendererMetadata().Capabilities[0] != "menu" {
		t.Fatal("returned metadata aliases the decorator's copy")
	}
	r.meta.Capabilities[1] = "tampered"
	if d.RendererMetadata().Capabilities[1] != "toolbar" {
		t.Fatal("decorator metadata aliases the inner renderer's copy")
	}
}

func TestDecorated_NoMetadataYieldsZeroValue(t *testing.T) {
	d, _ := newDecorated(t, RendererFunc(func(ctx context.Context, sess Session) error {
		return nil
	}))
	if got := d.RendererMetadata(); got.Name != "" || got.Capabilities != nil {
		t.Fatalf("expected zero metadata, got %+v", got)
	}
}

func TestDecorated_SessionActionsReachHost(t *testing.T) {
	var sess Session
	var mu sync.Mutex
	_, ch := newDecorated(t, RendererFunc(func(ctx context.Context, s Session) error {
		mu.Lock()
		sess = s
		mu.Unlock()
		return nil
	}))

	mu.Lock()
	s := sess
	mu.Unlock()
	if s == nil {
		t.Fatal("renderer never received a session")
	}

	if err := s.SendMessage(context.Background(), wire.GuestEvent{
		Type:   "MENU_ITEM_CALLBACK",
		Fields: map[string]any{"key": "about"},
	}); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	data, err := ch.NextPosted(ctx)
	if err != nil {
		t.Fatalf("NextPosted: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got["type"] != "MENU_ITEM_CALLBACK" || got["key"] != "about" {
		t.Fatalf("posted message = %v", got)
	}
}
