package server

import (
	"context"
	"testing"
	"time"

	"github.com/n0emo/wassel/internal/serverconfig"
)

// TestServeShutsDownOnContextCancel starts both listeners against an empty
// plugin stack, cancels the context shortly afterwards, and checks that Serve
// returns promptly instead of blocking forever.
func TestServeShutsDownOnContextCancel(t *testing.T) {
	baseDir := t.TempDir()

	cfg := &serverconfig.Config{
		Server: serverconfig.ServerConfig{Host: "127.0.0.1", Port: 0},
		Admin:  serverconfig.AdminConfig{Enabled: true, Host: "127.0.0.1", Port: 0},
		Logging: serverconfig.LoggingConfig{
			Level:  "error",
			Output: "stderr",
		},
		Tracing: serverconfig.TracingConfig{Enabled: false},
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, cfg, baseDir)
	}()

	// Give the listeners a moment to come up before tearing them down.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Serve returned error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}
