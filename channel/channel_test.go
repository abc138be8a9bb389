package channel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/embedkit/hostcomm-go/origins"
	"github.com/embedkit/hostcomm-go/wire"
)

// fakeTransport is a minimal in-package Transport double so adapter tests
// do not depend on the backend packages (which import this one).
type fakeTransport struct {
	mu      sync.Mutex
	posted  [][]byte
	inbound chan Inbound
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		inbound: make(chan Inbound, 16),
	}
}

func (f *fakeTransport) Post(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Subscribe(ctx context.Context) (Subscription, error) {
	return &fakeSubscription{inbound: f.inbound}, nil
}

type fakeSubscription struct {
	inbound chan Inbound
}

func (s *fakeSubscription) Serve(ctx context.Context, handler HandlerFunc) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in := <-s.inbound:
			if err := handler(ctx, in); err != nil {
				return err
			}
		}
	}
}

func (f *fakeTransport) postedMessages() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.posted...)
}

func TestAdapter_ResolveOrigin(t *testing.T) {
	a := NewAdapter(newFakeTransport(), origins.None, nil)

	cases := []struct {
		name string
		raw  string
		want string
	}{
		{"https URL", "https://share.example.com", "share.example.com"},
		{"URL with port", "https://share.example.com:8443", "share.example.com"},
		{"URL with path", "https://share.example.com/embed/app", "share.example.com"},
		{"null origin falls back", "null", "null"},
		{"bare hostname falls back", "share.example.com", "share.example.com"},
		{"garbage falls back", "::::", "::::"},
		{"empty stays empty", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := a.ResolveOrigin(tc.raw); got != tc.want {
				t.Fatalf("ResolveOrigin(%q) = %q, want %q", tc.raw, got, tc.want)
			}
		})
	}
}

func TestAdapter_Send_TagsProtocolVersion(t *testing.T) {
	ft := newFakeTransport()
	a := NewAdapter(ft, origins.None, nil)

	if err := a.Send(context.Background(), wire.GuestReady{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	posted := ft.postedMessages()
	if len(posted) != 1 {
		t.Fatalf("expected exactly one post, got %d", len(posted))
	}
	var got map[string]any
	if err := json.Unmarshal(posted[0], &got); err != nil {
		t.Fatalf("unmarshal posted message: %v", err)
	}
	if got["protocolVersion"] != float64(wire.ProtocolVersion) {
		t.Fatalf("protocolVersion = %v, want %d", got["protocolVersion"], wire.ProtocolVersion)
	}
	if got["type"] != string(wire.TypeGuestReady) {
		t.Fatalf("type = %v, want %s", got["type"], wire.TypeGuestReady)
	}
}

func TestAdapter_NoTransport(t *testing.T) {
	a := NewAdapter(nil, origins.None, nil)
	if err := a.Send(context.Background(), wire.GuestReady{}); err != ErrNoTransport {
		t.Fatalf("Send error = %v, want ErrNoTransport", err)
	}
	if _, err := a.ConnectListener(context.Background()); err != ErrNoTransport {
		t.Fatalf("ConnectListener error = %v, want ErrNoTransport", err)
	}
}

// runListener attaches a listener collecting valid messages; returns the
// collector and a stop function.
func runListener(t *testing.T, a *Adapter, ft *fakeTransport) (func() []wire.HostMessage, func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	listener, err := a.ConnectListener(ctx)
	if err != nil {
		cancel()
		t.Fatalf("ConnectListener: %v", err)
	}

	var mu sync.Mutex
	var got []wire.HostMessage
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = listener.Serve(ctx, func(ctx context.Context, msg wire.HostMessage) error {
			mu.Lock()
			got = append(got, msg)
			mu.Unlock()
			return nil
		})
	}()

	collect := func() []wire.HostMessage {
		mu.Lock()
		defer mu.Unlock()
		return append([]wire.HostMessage(nil), got...)
	}
	stop := func() {
		cancel()
		<-done
	}
	return collect, stop
}

func deliver(ft *fakeTransport, origin, data string) {
	ft.inbound <- Inbound{Origin: origin, Data: []byte(data)}
}

func TestAdapter_Validation(t *testing.T) {
	trusted := origins.NewPatternList("*.example.com", "null")

	cases := []struct {
		name      string
		origin    string
		data      string
		forwarded bool
	}{
		{
			"trusted origin, current version",
			"https://share.example.com",
			`{"protocolVersion":1,"type":"CLOSE_MODAL"}`,
			true,
		},
		{
			"version mismatch dropped",
			"https://share.example.com",
			`{"protocolVersion":2,"type":"CLOSE_MODAL"}`,
			false,
		},
		{
			"version zero (absent) dropped",
			"https://share.example.com",
			`{"type":"CLOSE_MODAL"}`,
			false,
		},
		{
			"untrusted origin dropped",
			"https://evil.example.org",
			`{"protocolVersion":1,"type":"CLOSE_MODAL"}`,
			false,
		},
		{
			"empty origin dropped",
			"",
			`{"protocolVersion":1,"type":"CLOSE_MODAL"}`,
			false,
		},
		{
			"null origin matched as raw string",
			"null",
			`{"protocolVersion":1,"type":"CLOSE_MODAL"}`,
			true,
		},
		{
			"non-object payload dropped",
			"https://share.example.com",
			`"hello"`,
			false,
		},
		{
			"unknown type forwarded as unrecognized",
			"https://share.example.com",
			`{"protocolVersion":1,"type":"NEW_HOTNESS"}`,
			true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ft := newFakeTransport()
			a := NewAdapter(ft, trusted, nil)
			collect, stop := runListener(t, a, ft)

			deliver(ft, tc.origin, tc.data)
			// Sentinel message to flush: once it arrives, the message under
			// test has been fully handled.
			deliver(ft, "null", `{"protocolVersion":1,"type":"CLOSE_MODAL"}`)

			waitForCount(t, collect, 1)
			got := collect()

			if tc.forwarded {
				waitForCount(t, collect, 2)
				got = collect()
				if len(got) != 2 {
					t.Fatalf("expected message + sentinel, got %d", len(got))
				}
			} else {
				if len(got) != 1 {
					t.Fatalf("expected only sentinel, got %d messages", len(got))
				}
				if _, ok := got[0].(wire.CloseModal); !ok {
					t.Fatalf("sentinel decoded as %T", got[0])
				}
			}
			stop()
		})
	}
}

func TestAdapter_ValidationOrder_UnknownTypeDecoded(t *testing.T) {
	ft := newFakeTransport()
	a := NewAdapter(ft, origins.NewPatternList("*.example.com"), nil)
	collect, stop := runListener(t, a, ft)
	defer stop()

	deliver(ft, "https://a.example.com", `{"protocolVersion":1,"type":"FUTURE_TYPE","pay":"load"}`)
	waitForCount(t, collect, 1)

	got := collect()
	un, ok := got[0].(wire.Unrecognized)
	if !ok {
		t.Fatalf("expected Unrecognized, got %T", got[0])
	}
	if un.Type != "FUTURE_TYPE" {
		t.Fatalf("Unrecognized.Type = %q", un.Type)
	}
}

func waitForCount(t *testing.T, collect func() []wire.HostMessage, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(collect()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, have %d", n, len(collect()))
}
