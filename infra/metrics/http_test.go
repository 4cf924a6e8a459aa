package metrics

import (
	"context"
	"testing"
	"time"

	infralogger "github.com/foodbridge/relay/infra/logger"
)

func TestStartPromServer_StopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- StartPromServer(ctx, "127.0.0.1:0", infralogger.NopLogger{})
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after cancellation")
	}
}
