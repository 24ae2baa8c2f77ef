package frameclock

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAcceleratedRunsRequestedFrames(t *testing.T) {
	c := New(0, Accelerated)

	var got []uint64
	c.OnFrame(func(frame uint64) { got = append(got, frame) })

	if err := c.Run(context.Background(), 5); err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 || got[0] != 1 || got[4] != 5 {
		t.Fatalf("frames = %v, want 1..5", got)
	}
}

func TestListenersRunInRegistrationOrder(t *testing.T) {
	c := New(0, Accelerated)

	var order []string
	c.OnFrame(func(uint64) { order = append(order, "a") })
	c.OnFrame(func(uint64) { order = append(order, "b") })

	if err := c.Run(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("order = %v", order)
	}
}

func TestRealTimePacing(t *testing.T) {
	c := New(10*time.Millisecond, RealTime)

	frames := 0
	c.OnFrame(func(uint64) { frames++ })

	start := time.Now()
	if err := c.Run(context.Background(), 3); err != nil {
		t.Fatal(err)
	}
	if frames != 3 {
		t.Fatalf("frames = %d, want 3", frames)
	}
	if elapsed := time.Since(start); elapsed < 25*time.Millisecond {
		t.Errorf("3 frames at 10ms finished in %v", elapsed)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	c := New(time.Millisecond, RealTime)

	ctx, cancel := context.WithCancel(context.Background())
	frames := 0
	c.OnFrame(func(uint64) {
		frames++
		if frames == 3 {
			cancel()
		}
	})

	err := c.Run(ctx, 0) // unbounded
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if frames < 3 {
		t.Errorf("frames = %d, want at least 3", frames)
	}
}

func TestAcceleratedHonoursCancel(t *testing.T) {
	c := New(0, Accelerated)

	ctx, cancel := context.WithCancel(context.Background())
	c.OnFrame(func(frame uint64) {
		if frame == 100 {
			cancel()
		}
	})

	if err := c.Run(ctx, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestDefaultInterval(t *testing.T) {
	c := New(-1, RealTime)
	if c.interval != time.Second/60 {
		t.Fatalf("interval = %v, want %v", c.interval, time.Second/60)
	}
}
