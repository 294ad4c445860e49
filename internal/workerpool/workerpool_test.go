package workerpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestSubmit_ReturnsValue(t *testing.T) {
	p := New(4)
	out := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return 7, nil
	})

	o := <-out
	if o.Err != nil {
		t.Fatalf("unexpected error: %v", o.Err)
	}
	if o.Value.(int) != 7 {
		t.Fatalf("expected 7, got %v", o.Value)
	}
}

func TestSubmit_PropagatesJobError(t *testing.T) {
	p := New(4)
	boom := errors.New("plugin failed")
	out := p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, boom
	})

	o := <-out
	if !errors.Is(o.Err, boom) {
		t.Fatalf("expected job error to propagate, got %v", o.Err)
	}
}

func TestSubmit_BoundsConcurrency(t *testing.T) {
	p := New(2)
	var running, maxRunning int32

	release := make(chan struct{})
	done := make(chan struct{}, 5)
	for i := 0; i < 5; i++ {
		// Submit blocks its caller while both slots are taken, so each
		// job is submitted from its own goroutine.
		go func() {
			<-p.Submit(context.Background(), func(ctx context.Context) (any, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&maxRunning)
					if n <= old || atomic.CompareAndSwapInt32(&maxRunning, old, n) {
						break
					}
				}
				<-release
				atomic.AddInt32(&running, -1)
				return nil, nil
			})
			done <- struct{}{}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	for i := 0; i < 5; i++ {
		<-done
	}

	if got := atomic.LoadInt32(&maxRunning); got > 2 {
		t.Fatalf("expected at most 2 concurrent jobs, saw %d", got)
	}
}

func TestSubmit_CanceledContextFailsFast(t *testing.T) {
	p := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	block := make(chan struct{})
	defer close(block)
	p.Submit(context.Background(), func(ctx context.Context) (any, error) {
		<-block
		return nil, nil
	})

	out := p.Submit(ctx, func(ctx context.Context) (any, error) {
		return nil, nil
	})

	o := <-out
	if o.Err == nil {
		t.Fatal("expected canceled context to fail acquiring a slot")
	}
}
