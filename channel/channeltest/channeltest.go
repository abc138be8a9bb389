// Package channeltest provides a conformance test suite for
// channel.Transport implementations. Backends run the suite from their own
// test files by supplying a factory; the suite exercises both directions of
// the channel plus the attachment, delivery-ordering, and cancellation
// semantics the adapter relies on.
package channeltest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/embedkit/hostcomm-go/channel"
)

// Endpoint is a Transport plus the host-side hooks the suite needs to drive
// it: injecting inbound messages and observing guest posts.
type Endpoint interface {
	channel.Transport

	// Deliver injects a host-originated message with the given origin.
	Deliver(ctx context.Context, origin string, data []byte) error

	// NextPosted blocks until the guest posts a message or ctx is done.
	NextPosted(ctx context.Context) ([]byte, error)
}

// Factory creates a fresh Endpoint for one test.
type Factory func(t *testing.T) Endpoint

// Run executes the complete Transport conformance suite.
func Run(t *testing.T, factory Factory) {
	t.Run("Subscribe_AttachedOnReturn", func(t *testing.T) { testAttachedOnReturn(t, factory) })
	t.Run("Inbound_DeliveredInOrder", func(t *testing.T) { testInboundOrder(t, factory) })
	t.Run("Inbound_SerialHandling", func(t *testing.T) { testSerialHandling(t, factory) })
	t.Run("Inbound_OriginPreserved", func(t *testing.T) { testOriginPreserved(t, factory) })
	t.Run("Serve_CancellationReleasesSubscription", func(t *testing.T) { testServeCancellation(t, factory) })
	t.Run("Resubscribe_DoesNotReplayHandledMessages", func(t *testing.T) { testResubscribeNoReplay(t, factory) })
	t.Run("Serve_HandlerErrorStopsSubscription", func(t *testing.T) { testHandlerErrorStops(t, factory) })
	t.Run("Outbound_PostVisibleToHost", func(t *testing.T) { testPostVisible(t, factory) })
}

// serve subscribes and starts draining on a background goroutine. Subscribe
// completes the attachment before returning, so callers may deliver
// immediately afterwards without losing messages.
func serve(ctx context.Context, t *testing.T, ep Endpoint, handler channel.HandlerFunc) <-chan error {
	t.Helper()
	sub, err := ep.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- sub.Serve(ctx, handler) }()
	return errCh
}

func testAttachedOnReturn(t *testing.T, factory Factory) {
	ep := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gotCh := make(chan channel.Inbound, 1)
	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	serve(serveCtx, t, ep, func(ctx context.Context, in channel.Inbound) error {
		select {
		case gotCh <- in:
		default:
		}
		return nil
	})

	// No settling delay: a message delivered the instant Subscribe returns
	// must be observed.
	if err := ep.Deliver(ctx, "host.example.com", []byte("first")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	select {
	case in := <-gotCh:
		if string(in.Data) != "first" {
			t.Fatalf("data = %q, want %q", in.Data, "first")
		}
	case <-ctx.Done():
		t.Fatal("message delivered right after Subscribe was lost")
	}
}

func testInboundOrder(t *testing.T, factory Factory) {
	ep := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	const n = 5

	var mu sync.Mutex
	var got []string
	done := make(chan struct{})

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	serve(serveCtx, t, ep, func(ctx context.Context, in channel.Inbound) error {
		mu.Lock()
		got = append(got, string(in.Data))
		if len(got) == n {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	for i := 0; i < n; i++ {
		if err := ep.Deliver(ctx, "host.example.com", []byte(fmt.Sprintf("m%d", i))); err != nil {
			t.Fatalf("Deliver %d: %v", i, err)
		}
	}

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("timed out waiting for %d messages, got %d", n, len(got))
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < n; i++ {
		if want := fmt.Sprintf("m%d", i); got[i] != want {
			t.Fatalf("message %d = %q, want %q (full order: %v)", i, got[i], want, got)
		}
	}
}

func testSerialHandling(t *testing.T, factory Factory) {
	ep := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var inFlight int32
	var mu sync.Mutex
	received := 0
	done := make(chan struct{})

	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	serve(serveCtx, t, ep, func(ctx context.Context, in channel.Inbound) error {
		mu.Lock()
		inFlight++
		if inFlight != 1 {
			t.Errorf("overlapping handler invocations: %d in flight", inFlight)
		}
		mu.Unlock()

		time.Sleep(10 * time.Millisecond)

		mu.Lock()
		inFlight--
		received++
		if received == 3 {
			close(done)
		}
		mu.Unlock()
		return nil
	})

	for i := 0; i < 3; i++ {
		if err := ep.Deliver(ctx, "host.example.com", []byte("m")); err != nil {
			t.Fatalf("Deliver: %v", err)
		}
	}

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatal("timed out waiting for serial deliveries")
	}
}

func testOriginPreserved(t *testing.T, factory Factory) {
	ep := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	gotCh := make(chan channel.Inbound, 1)
	serveCtx, stopServe := context.WithCancel(ctx)
	defer stopServe()
	serve(serveCtx, t, ep, func(ctx context.Context, in channel.Inbound) error {
		select {
		case gotCh <- in:
		default:
		}
		return nil
	})

	if err := ep.Deliver(ctx, "null", []byte(`{"x":1}`)); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	select {
	case in := <-gotCh:
		if in.Origin != "null" {
			t.Fatalf("origin = %q, want %q", in.Origin, "null")
		}
		if string(in.Data) != `{"x":1}` {
			t.Fatalf("data = %q", in.Data)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for delivery")
	}
}

func testServeCancellation(t *testing.T, factory Factory) {
	ep := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serveCtx, stopServe := context.WithCancel(ctx)
	errCh := serve(serveCtx, t, ep, func(ctx context.Context, in channel.Inbound) error {
		return nil
	})

	stopServe()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected context error from cancelled Serve")
		}
	case <-ctx.Done():
		t.Fatal("Serve did not return after cancellation")
	}
}

func testResubscribeNoReplay(t *testing.T, factory Factory) {
	ep := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// First subscription lifetime handles one message.
	firstCtx, stopFirst := context.WithCancel(ctx)
	handled := make(chan string, 16)
	errCh := serve(firstCtx, t, ep, func(ctx context.Context, in channel.Inbound) error {
		handled <- string(in.Data)
		return nil
	})
	if err := ep.Deliver(ctx, "host.example.com", []byte("old")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	select {
	case <-handled:
	case <-ctx.Done():
		t.Fatal("timed out waiting for first delivery")
	}
	stopFirst()
	<-errCh

	// A fresh subscription resumes after the handled message; it must not
	// re-handle "old".
	serve(ctx, t, ep, func(ctx context.Context, in channel.Inbound) error {
		handled <- string(in.Data)
		return nil
	})
	if err := ep.Deliver(ctx, "host.example.com", []byte("new")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	select {
	case got := <-handled:
		if got != "new" {
			t.Fatalf("resubscription handled %q first, want %q", got, "new")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for post-resubscribe delivery")
	}
}

func testHandlerErrorStops(t *testing.T, factory Factory) {
	ep := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wantErr := fmt.Errorf("handler rejected")
	errCh := serve(ctx, t, ep, func(ctx context.Context, in channel.Inbound) error {
		return wantErr
	})

	if err := ep.Deliver(ctx, "host.example.com", []byte("m")); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected handler error to surface from Serve")
		}
	case <-ctx.Done():
		t.Fatal("Serve did not stop after handler error")
	}
}

func testPostVisible(t *testing.T, factory Factory) {
	ep := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ep.Post(ctx, []byte(`{"protocolVersion":1,"type":"GUEST_READY"}`)); err != nil {
		t.Fatalf("Post: %v", err)
	}

	data, err := ep.NextPosted(ctx)
	if err != nil {
		t.Fatalf("NextPosted: %v", err)
	}
	if string(data) != `{"protocolVersion":1,"type":"GUEST_READY"}` {
		t.Fatalf("posted data = %q", data)
	}
}
