package workers

import (
	"context"
	"testing"
	"time"

	"github.com/phonginreallife/autoanswer/internal/clock"
	"github.com/stretchr/testify/assert"
)

type fakeSupervisor struct {
	clock clock.Clock
	calls chan time.Time
}

func (f *fakeSupervisor) Supervise(context.Context) {
	f.calls <- f.clock.Now()
}

func TestTokenWorker_SupervisesOnInterval(t *testing.T) {
	clk := clock.Fake(epoch)
	sup := &fakeSupervisor{clock: clk, calls: make(chan time.Time, 10)}
	worker := NewTokenWorker(sup, clk, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		worker.Run(ctx)
		close(done)
	}()

	next := func() time.Time {
		select {
		case at := <-sup.calls:
			return at
		case <-time.After(5 * time.Second):
			t.Fatal("no supervisory check")
			return time.Time{}
		}
	}

	assert.Equal(t, epoch, next())

	clk.WaitForTimers(1)
	clk.Advance(DefaultTokenCheckInterval)
	assert.Equal(t, epoch.Add(5*time.Minute), next())

	clk.Advance(DefaultTokenCheckInterval)
	assert.Equal(t, epoch.Add(10*time.Minute), next())

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
}
