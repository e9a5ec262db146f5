package shutdown

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/yndnr/snapmesh-go/internal/telemetry/logger"
)

func TestHandler_RunsHooksInReverseOrder(t *testing.T) {
	h := NewHandler(time.Second, logger.NewNop())

	var (
		mu    sync.Mutex
		order []string
	)
	for _, name := range []string{"raft", "http", "checkpoint"} {
		name := name
		h.OnShutdown(name, func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		})
	}

	h.Trigger()
	if err := h.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() = %v", err)
	}

	want := "checkpoint,http,raft"
	if got := strings.Join(order, ","); got != want {
		t.Errorf("order = %s, want %s", got, want)
	}

	select {
	case <-h.Done():
	default:
		t.Error("Done should be closed after Wait")
	}
}

func TestHandler_JoinsHookErrors(t *testing.T) {
	h := NewHandler(time.Second, logger.NewNop())
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	ran := false

	h.OnShutdown("a", func(context.Context) error { return errA })
	h.OnShutdown("ok", func(context.Context) error { ran = true; return nil })
	h.OnShutdown("b", func(context.Context) error { return errB })

	h.Trigger()
	err := h.Wait(context.Background())
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("Wait() = %v, want both hook errors", err)
	}
	if !ran {
		t.Error("a failing hook must not stop later hooks")
	}
}

func TestHandler_ContextCancel(t *testing.T) {
	h := NewHandler(time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- h.Wait(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Wait() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}

func TestHandler_HookTimeout(t *testing.T) {
	h := NewHandler(50*time.Millisecond, logger.NewNop())
	h.OnShutdown("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	h.Trigger()
	h.Trigger()
	if err := h.Wait(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want DeadlineExceeded", err)
	}
}
