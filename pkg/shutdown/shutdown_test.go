package shutdown

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/routeoptions/route-options/pkg/logging"
)

func quietLogger() *logging.Logger {
	l := logging.NewLogger(logging.ERROR, false)
	l.SetOutput(io.Discard)
	return l
}

func TestShutdown_RunsHooksInReverse(t *testing.T) {
	m := New(time.Second, quietLogger())

	var order []string
	m.Register("store", func(ctx context.Context) error {
		order = append(order, "store")
		return nil
	})
	m.Register("http", func(ctx context.Context) error {
		order = append(order, "http")
		return errors.New("already closed")
	})

	if failed := m.Shutdown(); failed != 1 {
		t.Errorf("Expected 1 failed hook, got %d", failed)
	}
	if len(order) != 2 || order[0] != "http" || order[1] != "store" {
		t.Errorf("Expected LIFO order [http store], got %v", order)
	}
}

func TestWait_ReturnsOnTrigger(t *testing.T) {
	m := New(time.Second, quietLogger())

	ran := make(chan struct{})
	m.Register("hook", func(ctx context.Context) error {
		close(ran)
		return nil
	})

	go m.Trigger()

	finished := make(chan struct{})
	go func() {
		m.Wait(context.Background())
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Trigger")
	}

	select {
	case <-ran:
	default:
		t.Error("Expected hook to run")
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func TestCloseResource(t *testing.T) {
	hook := CloseResource(closerFunc(func() error { return errors.New("busy") }), "store")
	if err := hook(context.Background()); err == nil {
		t.Error("Expected close error to propagate")
	}
}
