// VitalSync - Incremental Health Metrics Mirror
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vitalsync/vitalsync

package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestTreeRunsServiceUntilCanceled(t *testing.T) {
	t.Parallel()

	var started atomic.Int32
	tree := New(discardLogger(), DefaultTreeConfig())
	tree.Add(Service{
		Name: "blocker",
		Run: func(ctx context.Context) error {
			started.Add(1)
			<-ctx.Done()
			return ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tree.Serve(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for started.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("service never started")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after cancel")
	}
}

func TestTreeRestartsFailingService(t *testing.T) {
	t.Parallel()

	var runs atomic.Int32
	tree := New(discardLogger(), TreeConfig{FailureBackoff: 10 * time.Millisecond})
	tree.Add(Service{
		Name: "flaky",
		Run: func(ctx context.Context) error {
			if runs.Add(1) == 1 {
				return errors.New("first run fails")
			}
			<-ctx.Done()
			return ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tree.Serve(ctx) //nolint:errcheck

	deadline := time.Now().Add(5 * time.Second)
	for runs.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("service restarted %d times, want >= 2", runs.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestServiceString(t *testing.T) {
	t.Parallel()

	svc := Service{Name: "http-server"}
	if svc.String() != "http-server" {
		t.Errorf("String() = %q", svc.String())
	}
}
