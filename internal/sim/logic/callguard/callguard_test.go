package callguard

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_ReturnsResult(t *testing.T) {
	want := errors.New("boom")
	if err := Do(context.Background(), time.Second, func(context.Context) error { return want }); !errors.Is(err, want) {
		t.Fatalf("got %v want %v", err, want)
	}
}

func TestDo_AbandonsCallIgnoringContext(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	start := time.Now()
	err := Do(context.Background(), 30*time.Millisecond, func(context.Context) error {
		<-block
		return nil
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v want ErrTimeout", err)
	}
	if el := time.Since(start); el > time.Second {
		t.Fatalf("Do blocked for %s", el)
	}
}

func TestDo_RecoversPanic(t *testing.T) {
	err := Do(context.Background(), time.Second, func(context.Context) error { panic("bad handle") })
	if !errors.Is(err, ErrPanic) {
		t.Fatalf("got %v want ErrPanic", err)
	}
}

func TestDo_RejectsZeroTimeout(t *testing.T) {
	if err := Do(context.Background(), 0, func(context.Context) error { return nil }); err == nil {
		t.Fatalf("expected error for zero timeout")
	}
}
