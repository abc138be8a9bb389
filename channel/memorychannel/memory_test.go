package memorychannel

import (
	"context"
	"testing"
	"time"

	"github.com/embedkit/hostcomm-go/channel"
	"github.com/embedkit/hostcomm-go/channel/channeltest"
)

func TestMemoryChannel(t *testing.T) {
	channeltest.Run(t, func(t *testing.T) channeltest.Endpoint {
		return New()
	})
}

func TestMemoryChannel_ListenerCount(t *testing.T) {
	c := New()
	if got := c.ListenerCount(); got != 0 {
		t.Fatalf("ListenerCount = %d, want 0", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := c.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	// Registration happens inside Subscribe, not first inside Serve.
	if got := c.ListenerCount(); got != 1 {
		t.Fatalf("ListenerCount after Subscribe = %d, want 1", got)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = sub.Serve(ctx, func(ctx context.Context, in channel.Inbound) error { return nil })
	}()

	cancel()
	<-done
	waitFor(t, func() bool { return c.ListenerCount() == 0 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}
