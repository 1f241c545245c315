package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/phonginreallife/autoanswer/db"
	"github.com/phonginreallife/autoanswer/internal/clock"
	"github.com/phonginreallife/autoanswer/internal/marketplace"
	"github.com/phonginreallife/autoanswer/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC)

type fakeQuestionAPI struct {
	mu        sync.Mutex
	clock     clock.Clock
	questions []db.Question
	fetchErrs []error
	postErrs  map[int64][]error
	posts     []int64
	tokens    []string
	fetched   chan time.Time
}

func (f *fakeQuestionAPI) FetchUnansweredQuestions(_ context.Context, token string) ([]db.Question, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetched != nil {
		f.fetched <- f.clock.Now()
	}
	if len(f.fetchErrs) > 0 {
		err := f.fetchErrs[0]
		f.fetchErrs = f.fetchErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return append([]db.Question(nil), f.questions...), nil
}

func (f *fakeQuestionAPI) PostAnswer(_ context.Context, token string, questionID int64, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, questionID)
	f.tokens = append(f.tokens, token)
	if errs := f.postErrs[questionID]; len(errs) > 0 {
		f.postErrs[questionID] = errs[1:]
		return errs[0]
	}
	return nil
}

func (f *fakeQuestionAPI) postCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posts)
}

type fakeTokens struct {
	mu          sync.Mutex
	token       string
	results     []error
	invalidated []string
}

func (f *fakeTokens) GetValidToken(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.results) > 0 {
		err := f.results[0]
		f.results = f.results[1:]
		if err != nil {
			return "", err
		}
	}
	return f.token, nil
}

func (f *fakeTokens) Invalidate(token, _ string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, token)
}

type deciderFunc func(ctx context.Context, q db.Question) (services.Verdict, error)

func (f deciderFunc) Decide(ctx context.Context, q db.Question) (services.Verdict, error) {
	return f(ctx, q)
}

func ruleVerdict(context.Context, db.Question) (services.Verdict, error) {
	return services.Verdict{Kind: services.VerdictRuleMatch, Message: "Temos estoque!", RuleID: 7, MatchedKeywords: []string{"estoque"}}, nil
}

type recordingOutcomes struct {
	mu       sync.Mutex
	outcomes []db.AnswerOutcome
}

func (r *recordingOutcomes) RecordOutcome(_ context.Context, outcome *db.AnswerOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, *outcome)
	return nil
}

func question(id int64) db.Question {
	return db.Question{ID: id, ItemID: "MLB1", Text: "tem estoque?", Status: db.QuestionStatusUnanswered}
}

type fixture struct {
	api      *fakeQuestionAPI
	tokens   *fakeTokens
	outcomes *recordingOutcomes
	clock    *clock.FakeClock
	worker   *AnswerWorker
}

func newFixture(decider Decider, questions ...db.Question) *fixture {
	clk := clock.Fake(epoch)
	f := &fixture{
		api:      &fakeQuestionAPI{clock: clk, questions: questions, postErrs: map[int64][]error{}},
		tokens:   &fakeTokens{token: "APP-1"},
		outcomes: &recordingOutcomes{},
		clock:    clk,
	}
	f.worker = NewAnswerWorker(f.api, f.tokens, decider, f.outcomes, clk, 0, 0)
	return f
}

func TestAnswerWorker_AnswersOnce(t *testing.T) {
	f := newFixture(deciderFunc(ruleVerdict), question(1))
	ctx := context.Background()

	require.NoError(t, f.worker.RunCycle(ctx))
	require.NoError(t, f.worker.RunCycle(ctx))

	assert.Equal(t, []int64{1}, f.api.posts)
	assert.True(t, f.worker.IsProcessed(1))
	require.Len(t, f.outcomes.outcomes, 1)

	outcome := f.outcomes.outcomes[0]
	assert.Equal(t, int64(1), outcome.QuestionID)
	assert.Equal(t, db.VerdictKindRuleMatch, outcome.VerdictKind)
	require.NotNil(t, outcome.RuleID)
	assert.Equal(t, int64(7), *outcome.RuleID)
	assert.Nil(t, outcome.WindowID)
	assert.Equal(t, []string{"estoque"}, outcome.MatchedKeywords)
	assert.True(t, outcome.Success)

	stats := f.worker.Stats()
	assert.Equal(t, int64(2), stats.Cycles)
	assert.Equal(t, int64(1), stats.Answered)
	assert.Equal(t, 1, stats.ProcessedTotal)
}

func TestAnswerWorker_DuplicateIDsInOneFetch(t *testing.T) {
	f := newFixture(deciderFunc(ruleVerdict), question(1), question(1), question(2))

	require.NoError(t, f.worker.RunCycle(context.Background()))

	assert.Equal(t, []int64{1, 2}, f.api.posts)
}

func TestAnswerWorker_AbsenceOutcome(t *testing.T) {
	absence := deciderFunc(func(context.Context, db.Question) (services.Verdict, error) {
		return services.Verdict{Kind: services.VerdictAbsence, Message: "Voltamos amanhã", WindowID: 3}, nil
	})
	f := newFixture(absence, question(9))

	require.NoError(t, f.worker.RunCycle(context.Background()))

	require.Len(t, f.outcomes.outcomes, 1)
	outcome := f.outcomes.outcomes[0]
	assert.Equal(t, db.VerdictKindAbsence, outcome.VerdictKind)
	require.NotNil(t, outcome.WindowID)
	assert.Equal(t, int64(3), *outcome.WindowID)
	assert.Nil(t, outcome.RuleID)
}

func TestAnswerWorker_TokenUnavailableDefers(t *testing.T) {
	f := newFixture(deciderFunc(ruleVerdict), question(1))
	// First call is the cycle's fetch, second is the per-question check.
	f.tokens.results = []error{nil, services.ErrTokenUnavailable}
	ctx := context.Background()

	require.NoError(t, f.worker.RunCycle(ctx))
	assert.Empty(t, f.api.posts)
	assert.False(t, f.worker.IsProcessed(1))
	assert.Equal(t, int64(1), f.worker.Stats().Deferred)

	require.NoError(t, f.worker.RunCycle(ctx))
	assert.Equal(t, []int64{1}, f.api.posts)
}

func TestAnswerWorker_NoTokenSkipsCycle(t *testing.T) {
	f := newFixture(deciderFunc(ruleVerdict), question(1))
	f.tokens.results = []error{services.ErrTokenUnavailable}

	require.NoError(t, f.worker.RunCycle(context.Background()))

	assert.Empty(t, f.api.posts)
	assert.Equal(t, int64(1), f.worker.Stats().SkippedCycles)
}

func TestAnswerWorker_UnauthorizedPostInvalidatesAndDefers(t *testing.T) {
	f := newFixture(deciderFunc(ruleVerdict), question(1))
	f.api.postErrs[1] = []error{&marketplace.APIError{StatusCode: 401}}
	ctx := context.Background()

	require.NoError(t, f.worker.RunCycle(ctx))
	assert.Equal(t, []string{"APP-1"}, f.tokens.invalidated)
	assert.False(t, f.worker.IsProcessed(1))
	assert.Empty(t, f.outcomes.outcomes)

	require.NoError(t, f.worker.RunCycle(ctx))
	assert.Equal(t, []int64{1, 1}, f.api.posts)
	assert.True(t, f.worker.IsProcessed(1))
}

func TestAnswerWorker_RejectedPostIsNotRetried(t *testing.T) {
	f := newFixture(deciderFunc(ruleVerdict), question(1))
	f.api.postErrs[1] = []error{&marketplace.APIError{StatusCode: 400, Body: "question closed"}}
	ctx := context.Background()

	require.NoError(t, f.worker.RunCycle(ctx))
	require.NoError(t, f.worker.RunCycle(ctx))

	assert.Equal(t, []int64{1}, f.api.posts)
	require.Len(t, f.outcomes.outcomes, 1)
	assert.False(t, f.outcomes.outcomes[0].Success)
	assert.Contains(t, f.outcomes.outcomes[0].Error, "question closed")
	assert.Equal(t, int64(1), f.worker.Stats().Failed)
}

func TestAnswerWorker_TransportFailureOnPostIsRecorded(t *testing.T) {
	f := newFixture(deciderFunc(ruleVerdict), question(1))
	f.api.postErrs[1] = []error{fmt.Errorf("%w: timeout", marketplace.ErrTransport)}

	require.NoError(t, f.worker.RunCycle(context.Background()))

	assert.True(t, f.worker.IsProcessed(1))
	require.Len(t, f.outcomes.outcomes, 1)
	assert.False(t, f.outcomes.outcomes[0].Success)
}

func TestAnswerWorker_NoActionNotPosted(t *testing.T) {
	noAction := deciderFunc(func(context.Context, db.Question) (services.Verdict, error) {
		return services.Verdict{Kind: services.VerdictNoAction, Reason: services.ReasonNoKeywordMatch}, nil
	})
	f := newFixture(noAction, question(1))

	require.NoError(t, f.worker.RunCycle(context.Background()))

	assert.Empty(t, f.api.posts)
	assert.Empty(t, f.outcomes.outcomes)
	assert.False(t, f.worker.IsProcessed(1))
	assert.Equal(t, int64(1), f.worker.Stats().NoAction)
}

func TestAnswerWorker_DecideErrorDoesNotAbortBatch(t *testing.T) {
	decider := deciderFunc(func(ctx context.Context, q db.Question) (services.Verdict, error) {
		if q.ID == 1 {
			return services.Verdict{}, errors.New("db down")
		}
		return ruleVerdict(ctx, q)
	})
	f := newFixture(decider, question(1), question(2))

	require.NoError(t, f.worker.RunCycle(context.Background()))

	assert.Equal(t, []int64{2}, f.api.posts)
	assert.False(t, f.worker.IsProcessed(1))
}

func TestAnswerWorker_SkipsAnsweredQuestions(t *testing.T) {
	answered := question(1)
	answered.Status = db.QuestionStatusAnswered
	f := newFixture(deciderFunc(ruleVerdict), answered)

	require.NoError(t, f.worker.RunCycle(context.Background()))

	assert.Empty(t, f.api.posts)
}

func TestAnswerWorker_FetchErrors(t *testing.T) {
	t.Run("transport", func(t *testing.T) {
		f := newFixture(deciderFunc(ruleVerdict), question(1))
		f.api.fetchErrs = []error{fmt.Errorf("%w: connection refused", marketplace.ErrTransport)}

		err := f.worker.RunCycle(context.Background())

		assert.ErrorIs(t, err, marketplace.ErrTransport)
		assert.Empty(t, f.tokens.invalidated)
		assert.True(t, f.worker.Stats().LastCycleFailed)
	})

	t.Run("unauthorized", func(t *testing.T) {
		f := newFixture(deciderFunc(ruleVerdict), question(1))
		f.api.fetchErrs = []error{&marketplace.APIError{StatusCode: 403}}

		err := f.worker.RunCycle(context.Background())

		assert.ErrorIs(t, err, marketplace.ErrUnauthorized)
		assert.Equal(t, []string{"APP-1"}, f.tokens.invalidated)
	})
}

func startWorker(t *testing.T, w *AnswerWorker) (cancel func()) {
	t.Helper()
	ctx, cancelCtx := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	return func() {
		cancelCtx()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

func nextFetch(t *testing.T, api *fakeQuestionAPI) time.Time {
	t.Helper()
	select {
	case at := <-api.fetched:
		return at
	case <-time.After(5 * time.Second):
		t.Fatal("no fetch")
		return time.Time{}
	}
}

func TestAnswerWorker_RunCadence(t *testing.T) {
	f := newFixture(deciderFunc(ruleVerdict))
	f.api.fetched = make(chan time.Time, 10)
	f.api.fetchErrs = []error{fmt.Errorf("%w: timeout", marketplace.ErrTransport)}

	stop := startWorker(t, f.worker)
	defer stop()

	assert.Equal(t, epoch, nextFetch(t, f.api))

	// Failed cycle: recovery sleep.
	f.clock.WaitForTimers(1)
	f.clock.Advance(DefaultRecoveryInterval)
	assert.Equal(t, epoch.Add(30*time.Second), nextFetch(t, f.api))

	// Completed cycle: regular sleep.
	f.clock.WaitForTimers(1)
	f.clock.Advance(DefaultRecoveryInterval)
	select {
	case <-f.api.fetched:
		t.Fatal("fetched before the poll interval elapsed")
	case <-time.After(50 * time.Millisecond):
	}
	f.clock.Advance(DefaultPollInterval - DefaultRecoveryInterval)
	assert.Equal(t, epoch.Add(90*time.Second), nextFetch(t, f.api))
}

func TestAnswerWorker_RunRecoversFromPanic(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	decider := deciderFunc(func(ctx context.Context, q db.Question) (services.Verdict, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			panic("unexpected row shape")
		}
		return ruleVerdict(ctx, q)
	})
	f := newFixture(decider, question(1))
	f.api.fetched = make(chan time.Time, 10)

	stop := startWorker(t, f.worker)
	defer stop()

	nextFetch(t, f.api)
	f.clock.WaitForTimers(1)
	assert.Equal(t, int64(1), f.worker.Stats().FailedCycles)
	assert.False(t, f.worker.IsProcessed(1))

	f.clock.Advance(DefaultRecoveryInterval)
	nextFetch(t, f.api)
	f.clock.WaitForTimers(1)

	assert.Equal(t, 1, f.api.postCount())
	assert.True(t, f.worker.IsProcessed(1))
}

func TestAnswerWorker_RunStopsOnCancel(t *testing.T) {
	f := newFixture(deciderFunc(ruleVerdict))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		f.worker.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, int64(0), f.worker.Stats().Cycles)
}

// cancellingAPI stops the worker while an answer is being posted and
// fails the post the way the HTTP client would if its context were done.
type cancellingAPI struct {
	*fakeQuestionAPI
	cancel func()
}

func (c *cancellingAPI) PostAnswer(ctx context.Context, token string, questionID int64, text string) error {
	c.cancel()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: POST /answers: %v", marketplace.ErrTransport, err)
	}
	return c.fakeQuestionAPI.PostAnswer(ctx, token, questionID, text)
}

type ctxRecordingOutcomes struct {
	recordingOutcomes
	ctxErrs []error
}

func (r *ctxRecordingOutcomes) RecordOutcome(ctx context.Context, outcome *db.AnswerOutcome) error {
	r.mu.Lock()
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	r.mu.Unlock()
	return r.recordingOutcomes.RecordOutcome(ctx, outcome)
}

func TestAnswerWorker_StopDuringPostFinishesCycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.Fake(epoch)
	api := &cancellingAPI{
		fakeQuestionAPI: &fakeQuestionAPI{clock: clk, questions: []db.Question{question(1)}, postErrs: map[int64][]error{}},
		cancel:          cancel,
	}
	outcomes := &ctxRecordingOutcomes{}
	w := NewAnswerWorker(api, &fakeTokens{token: "APP-1"}, deciderFunc(ruleVerdict), outcomes, clk, 0, 0)

	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}

	stats := w.Stats()
	assert.Equal(t, int64(1), stats.Answered)
	assert.Equal(t, int64(0), stats.Failed)
	assert.Equal(t, int64(1), stats.Cycles)
	assert.True(t, w.IsProcessed(1))

	require.Len(t, outcomes.outcomes, 1)
	assert.True(t, outcomes.outcomes[0].Success)
	assert.Empty(t, outcomes.outcomes[0].Error)
	assert.Equal(t, []error{nil}, outcomes.ctxErrs)
	assert.Equal(t, 1, api.postCount())
}
