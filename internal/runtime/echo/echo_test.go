package echo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/AltairaLabs/assistant-server/internal/orchestrator"
)

func TestRuntime_RunEchoesInput(t *testing.T) {
	r := New(0)
	out, err := r.Run(context.Background(), "hello", orchestrator.RunOptions{Model: "fast"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "[fast] echo: hello" {
		t.Errorf("got %q", out)
	}
	if r.IsBusy() {
		t.Error("runtime should not be busy after Run returns")
	}
}

func TestRuntime_RunHonoursCancellation(t *testing.T) {
	r := New(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, "long", orchestrator.RunOptions{})
		done <- err
	}()

	deadline := time.Now().Add(time.Second)
	for !r.IsBusy() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !r.IsBusy() {
		t.Fatal("runtime never reported busy")
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not observe cancellation")
	}
}

func TestRuntime_RunRejectsReentry(t *testing.T) {
	r := New(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _, _ = r.Run(ctx, "first", orchestrator.RunOptions{}) }()

	deadline := time.Now().Add(time.Second)
	for !r.IsBusy() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	_, err := r.Run(context.Background(), "second", orchestrator.RunOptions{})
	if !errors.Is(err, ErrReentrant) {
		t.Errorf("expected ErrReentrant, got %v", err)
	}
}

func TestRuntime_RunAbsorbsChimeIns(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
	r := New(100 * time.Millisecond)
	s := orchestrator.NewSession(r, orchestrator.SessionOptions{ID: "echo", Logger: logger})
	defer func() { _ = s.Close(context.Background()) }()

	done := make(chan orchestrator.ChatResult, 1)
	go func() {
		res, _ := s.HandleChat(context.Background(), "c1", orchestrator.ChatRequest{Input: "draw a chart"})
		done <- res
	}()

	deadline := time.Now().Add(time.Second)
	for !r.IsBusy() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	res, err := s.HandleChat(context.Background(), "c2", orchestrator.ChatRequest{Input: "make it blue"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != orchestrator.ChatQueued {
		t.Fatalf("outcome = %s, want queued", res.Outcome)
	}

	select {
	case first := <-done:
		if first.Response != "echo: draw a chart\n+ make it blue" {
			t.Errorf("response = %q", first.Response)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("chat did not complete")
	}
}
