package workers

import (
	"context"
	"log"
	"time"

	"github.com/phonginreallife/autoanswer/internal/clock"
)

const DefaultTokenCheckInterval = 5 * time.Minute

type Supervisor interface {
	Supervise(ctx context.Context)
}

// TokenWorker runs the token monitor's supervisory check on a fixed
// interval, starting with one check at startup.
type TokenWorker struct {
	monitor  Supervisor
	clock    clock.Clock
	interval time.Duration
}

func NewTokenWorker(monitor Supervisor, clk clock.Clock, interval time.Duration) *TokenWorker {
	if interval <= 0 {
		interval = DefaultTokenCheckInterval
	}
	return &TokenWorker{monitor: monitor, clock: clk, interval: interval}
}

func (w *TokenWorker) Run(ctx context.Context) {
	log.Printf("TokenWorker: started, checking every %s", w.interval)

	ticker := w.clock.NewTicker(w.interval)
	defer ticker.Stop()

	w.monitor.Supervise(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Println("TokenWorker: stopped")
			return
		case <-ticker.C:
			w.monitor.Supervise(ctx)
		}
	}
}
