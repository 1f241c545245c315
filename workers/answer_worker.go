package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/phonginreallife/autoanswer/db"
	"github.com/phonginreallife/autoanswer/internal/clock"
	"github.com/phonginreallife/autoanswer/internal/marketplace"
	"github.com/phonginreallife/autoanswer/services"
)

const (
	DefaultPollInterval     = 60 * time.Second
	DefaultRecoveryInterval = 30 * time.Second
)

// QuestionAPI is the part of the marketplace client the worker calls.
type QuestionAPI interface {
	FetchUnansweredQuestions(ctx context.Context, accessToken string) ([]db.Question, error)
	PostAnswer(ctx context.Context, accessToken string, questionID int64, text string) error
}

// TokenProvider hands out usable access tokens.
type TokenProvider interface {
	GetValidToken(ctx context.Context) (string, error)
	Invalidate(token, reason string)
}

type Decider interface {
	Decide(ctx context.Context, q db.Question) (services.Verdict, error)
}

type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, outcome *db.AnswerOutcome) error
}

// AnswerWorkerStats are cumulative counters since start.
type AnswerWorkerStats struct {
	Cycles          int64     `json:"cycles"`
	FailedCycles    int64     `json:"failed_cycles"`
	SkippedCycles   int64     `json:"skipped_cycles"`
	Answered        int64     `json:"answered"`
	Failed          int64     `json:"failed"`
	Deferred        int64     `json:"deferred"`
	NoAction        int64     `json:"no_action"`
	ProcessedTotal  int       `json:"processed_total"`
	LastCycleAt     time.Time `json:"last_cycle_at,omitempty"`
	LastCycleError  string    `json:"last_cycle_error,omitempty"`
	LastCycleFailed bool      `json:"last_cycle_failed"`
}

type questionResult int

const (
	resultAnswered questionResult = iota
	resultFailed
	resultDeferred
	resultNoAction
	resultSkipped
)

// AnswerWorker is the polling cycle controller: fetch, decide, answer,
// record.
type AnswerWorker struct {
	api      QuestionAPI
	tokens   TokenProvider
	decider  Decider
	outcomes OutcomeRecorder
	clock    clock.Clock

	interval         time.Duration
	recoveryInterval time.Duration

	processed *processedSet

	statsMu sync.Mutex
	stats   AnswerWorkerStats
}

func NewAnswerWorker(api QuestionAPI, tokens TokenProvider, decider Decider, outcomes OutcomeRecorder, clk clock.Clock, interval, recoveryInterval time.Duration) *AnswerWorker {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if recoveryInterval <= 0 {
		recoveryInterval = DefaultRecoveryInterval
	}
	return &AnswerWorker{
		api:              api,
		tokens:           tokens,
		decider:          decider,
		outcomes:         outcomes,
		clock:            clk,
		interval:         interval,
		recoveryInterval: recoveryInterval,
		processed:        newProcessedSet(),
	}
}

// Run polls until ctx is cancelled. The sleep starts after a cycle
// completes; a failed cycle is followed by the shorter recovery sleep.
// Cancellation only stops the next cycle from being scheduled: a cycle
// already running finishes its posts and outcome writes.
func (w *AnswerWorker) Run(ctx context.Context) {
	log.Printf("AnswerWorker: started, polling every %s", w.interval)

	cycleCtx := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			log.Println("AnswerWorker: stopped")
			return
		}

		wait := w.interval
		if err := w.safeCycle(cycleCtx); err != nil {
			log.Printf("AnswerWorker: cycle failed, retrying in %s: %v", w.recoveryInterval, err)
			wait = w.recoveryInterval
		}

		select {
		case <-ctx.Done():
			log.Println("AnswerWorker: stopped")
			return
		case <-w.clock.After(wait):
		}
	}
}

func (w *AnswerWorker) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("AnswerWorker: panic in cycle: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("panic: %v", r)
			w.finishCycle(err)
		}
	}()
	return w.RunCycle(ctx)
}

// RunCycle runs one fetch-and-answer pass. It returns an error only when
// the cycle as a whole failed; per-question failures are logged and
// recorded instead.
func (w *AnswerWorker) RunCycle(ctx context.Context) error {
	token, err := w.tokens.GetValidToken(ctx)
	if err != nil {
		log.Printf("AnswerWorker: skipping cycle, no usable token: %v", err)
		w.statsMu.Lock()
		w.stats.SkippedCycles++
		w.statsMu.Unlock()
		w.finishCycle(nil)
		return nil
	}

	questions, err := w.api.FetchUnansweredQuestions(ctx, token)
	if err != nil {
		if errors.Is(err, marketplace.ErrUnauthorized) {
			w.tokens.Invalidate(token, err.Error())
		}
		err = fmt.Errorf("failed to fetch questions: %w", err)
		w.finishCycle(err)
		return err
	}

	var counts [resultSkipped + 1]int
	for _, q := range questions {
		counts[w.processQuestion(ctx, q)]++
	}

	if len(questions) > 0 {
		log.Printf("AnswerWorker: cycle done, fetched=%d answered=%d failed=%d deferred=%d no_action=%d already_processed=%d",
			len(questions), counts[resultAnswered], counts[resultFailed], counts[resultDeferred],
			counts[resultNoAction], counts[resultSkipped])
	}
	w.finishCycle(nil)
	return nil
}

func (w *AnswerWorker) processQuestion(ctx context.Context, q db.Question) questionResult {
	if !q.IsUnanswered() {
		return resultSkipped
	}
	if !w.processed.claim(q.ID) {
		return resultSkipped
	}
	// No-op once marked done; otherwise the question is retried next cycle.
	defer w.processed.release(q.ID)

	started := w.clock.Now()
	verdict, err := w.decider.Decide(ctx, q)
	elapsed := w.clock.Now().Sub(started)
	if err != nil {
		log.Printf("AnswerWorker: failed to decide question %d: %v", q.ID, err)
		w.count(resultDeferred)
		return resultDeferred
	}

	if !verdict.Actionable() {
		log.Printf("AnswerWorker: no action for question %d: %s", q.ID, verdict)
		w.count(resultNoAction)
		return resultNoAction
	}

	token, err := w.tokens.GetValidToken(ctx)
	if err != nil {
		log.Printf("AnswerWorker: deferring question %d: %v", q.ID, err)
		w.count(resultDeferred)
		return resultDeferred
	}

	postErr := w.api.PostAnswer(ctx, token, q.ID, verdict.Message)
	if errors.Is(postErr, marketplace.ErrUnauthorized) {
		log.Printf("AnswerWorker: token rejected while answering question %d, deferring: %v", q.ID, postErr)
		w.tokens.Invalidate(token, postErr.Error())
		w.count(resultDeferred)
		return resultDeferred
	}

	w.processed.markDone(q.ID)
	w.record(ctx, q, verdict, elapsed, postErr)

	if postErr != nil {
		log.Printf("AnswerWorker: failed to answer question %d (%s): %v", q.ID, verdict, postErr)
		w.count(resultFailed)
		return resultFailed
	}
	log.Printf("AnswerWorker: answered question %d (%s)", q.ID, verdict)
	w.count(resultAnswered)
	return resultAnswered
}

func (w *AnswerWorker) record(ctx context.Context, q db.Question, verdict services.Verdict, elapsed time.Duration, postErr error) {
	if w.outcomes == nil {
		return
	}

	outcome := &db.AnswerOutcome{
		QuestionID:      q.ID,
		VerdictKind:     verdict.Kind.String(),
		MatchedKeywords: verdict.MatchedKeywords,
		AnswerText:      verdict.Message,
		Success:         postErr == nil,
		DecisionElapsed: elapsed,
		RecordedAt:      w.clock.Now(),
	}
	switch verdict.Kind {
	case services.VerdictRuleMatch:
		id := verdict.RuleID
		outcome.RuleID = &id
	case services.VerdictAbsence:
		id := verdict.WindowID
		outcome.WindowID = &id
	}
	if postErr != nil {
		outcome.Error = postErr.Error()
	}

	if err := w.outcomes.RecordOutcome(ctx, outcome); err != nil {
		log.Printf("AnswerWorker: failed to record outcome for question %d: %v", q.ID, err)
	}
}

func (w *AnswerWorker) count(r questionResult) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	switch r {
	case resultAnswered:
		w.stats.Answered++
	case resultFailed:
		w.stats.Failed++
	case resultDeferred:
		w.stats.Deferred++
	case resultNoAction:
		w.stats.NoAction++
	}
}

func (w *AnswerWorker) finishCycle(err error) {
	w.statsMu.Lock()
	defer w.statsMu.Unlock()
	w.stats.Cycles++
	w.stats.LastCycleAt = w.clock.Now()
	w.stats.LastCycleFailed = err != nil
	w.stats.LastCycleError = ""
	if err != nil {
		w.stats.FailedCycles++
		w.stats.LastCycleError = err.Error()
	}
}

// Stats returns a snapshot of the counters.
func (w *AnswerWorker) Stats() AnswerWorkerStats {
	w.statsMu.Lock()
	stats := w.stats
	w.statsMu.Unlock()
	stats.ProcessedTotal = w.processed.doneCount()
	return stats
}

// IsProcessed reports whether questionID was answered or permanently
// failed in this process.
func (w *AnswerWorker) IsProcessed(questionID int64) bool {
	return w.processed.isDone(questionID)
}
