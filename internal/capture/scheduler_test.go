package capture

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"classtrack/internal/attendance"
	"classtrack/internal/camera"
	"classtrack/internal/matchclient"
	"classtrack/internal/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeMatcher struct {
	calls  int
	result matchclient.Result
	onMark func()
}

func (m *fakeMatcher) Mark(ctx context.Context, image string) matchclient.Result {
	m.calls++
	if m.onMark != nil {
		m.onMark()
	}
	return m.result
}

type fakeOracle struct {
	mu      sync.Mutex
	calls   int
	lecture *session.Lecture
}

func (o *fakeOracle) Current(ctx context.Context) (*session.Lecture, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	return o.lecture, nil
}

func (o *fakeOracle) set(lec *session.Lecture) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lecture = lec
}

type fakeLister struct {
	calls int
	recs  []attendance.Record
}

func (l *fakeLister) Recent(ctx context.Context, limit int) ([]attendance.Record, error) {
	l.calls++
	return l.recs, nil
}

func activeLecture() *session.Lecture {
	return &session.Lecture{ID: "lec-1", LectureNumber: 3, Date: "2026-08-30", Subject: "Math", IsActive: true}
}

// lister is the interface type: a nil here must stay a nil inside the
// scheduler, which a *fakeLister argument would not.
func newTestScheduler(matcher *fakeMatcher, oracle *fakeOracle, lister RecentLister, clock *fakeClock, cooldown time.Duration) *Scheduler {
	return NewScheduler(&camera.StaticSource{}, matcher, oracle, lister, Config{
		Tick:     time.Second,
		Debounce: 3 * time.Second,
		Cooldown: cooldown,
		Clock:    clock,
	})
}

func TestDebounceAllowsOneAttemptPerInterval(t *testing.T) {
	clock := newFakeClock()
	matcher := &fakeMatcher{result: matchclient.Result{Kind: matchclient.KindNoMatch, Message: "No matching student found"}}
	oracle := &fakeOracle{lecture: activeLecture()}
	// Cooldown of 1ns expires by the next tick, isolating the debounce.
	s := newTestScheduler(matcher, oracle, nil, clock, time.Nanosecond)
	ctx := context.Background()

	// Ticks at t=0, 1, 2: exactly one call, at t=0.
	s.Tick(ctx)
	clock.Advance(time.Second)
	s.Tick(ctx)
	clock.Advance(time.Second)
	s.Tick(ctx)
	if matcher.calls != 1 {
		t.Fatalf("calls after ticks at t=0,1,2 = %d, want 1", matcher.calls)
	}

	// t=3 is the next eligible attempt time.
	clock.Advance(time.Second)
	s.Tick(ctx)
	if matcher.calls != 2 {
		t.Fatalf("calls after tick at t=3 = %d, want 2", matcher.calls)
	}
}

func TestNoAttemptWhileOneInFlight(t *testing.T) {
	clock := newFakeClock()
	oracle := &fakeOracle{lecture: activeLecture()}
	matcher := &fakeMatcher{result: matchclient.Result{Kind: matchclient.KindNoMatch}}
	var s *Scheduler
	matcher.onMark = func() {
		// Even a tick that satisfies the debounce must not start a second
		// attempt while this one is outstanding.
		clock.Advance(10 * time.Second)
		s.Tick(context.Background())
	}
	s = newTestScheduler(matcher, oracle, nil, clock, time.Nanosecond)

	s.Tick(context.Background())
	if matcher.calls != 1 {
		t.Fatalf("calls = %d, want 1 (no overlapping attempts)", matcher.calls)
	}
}

func TestCooldownHoldsBeforeNextAttempt(t *testing.T) {
	clock := newFakeClock()
	matcher := &fakeMatcher{result: matchclient.Result{Kind: matchclient.KindMatched, Message: "Attendance marked for Alice (Roll: R1) - Lecture 3"}}
	oracle := &fakeOracle{lecture: activeLecture()}
	s := newTestScheduler(matcher, oracle, nil, clock, 5*time.Second)
	ctx := context.Background()

	s.Tick(ctx) // t=0: attempt, outcome enters cooldown until t=5
	if got := s.Snapshot().State; got != StateCooldown {
		t.Fatalf("state = %v, want cooldown", got)
	}

	clock.Advance(4 * time.Second)
	s.Tick(ctx) // t=4: debounce satisfied but display hold not elapsed
	if matcher.calls != 1 {
		t.Fatalf("calls at t=4 = %d, want 1 (cooldown holds)", matcher.calls)
	}

	clock.Advance(time.Second)
	s.Tick(ctx) // t=5: hold elapsed
	if matcher.calls != 2 {
		t.Fatalf("calls at t=5 = %d, want 2", matcher.calls)
	}
}

func TestTransportErrorSkipsCooldown(t *testing.T) {
	clock := newFakeClock()
	matcher := &fakeMatcher{result: matchclient.Result{Kind: matchclient.KindTransportError, Message: "connection refused"}}
	oracle := &fakeOracle{lecture: activeLecture()}
	s := newTestScheduler(matcher, oracle, nil, clock, 5*time.Second)
	ctx := context.Background()

	s.Tick(ctx)
	if got := s.Snapshot().State; got != StateScanning {
		t.Fatalf("state after transport error = %v, want scanning (no hold)", got)
	}
	if got := s.Snapshot().Status; got != statusRetrying {
		t.Fatalf("status = %q, want retry-pending message", got)
	}

	// Debounce alone gates the retry; the failure added no hold.
	clock.Advance(3 * time.Second)
	s.Tick(ctx)
	if matcher.calls != 2 {
		t.Fatalf("calls = %d, want 2 (transient failures retry on schedule)", matcher.calls)
	}
}

func TestPauseStopsAttemptsUntilResume(t *testing.T) {
	clock := newFakeClock()
	matcher := &fakeMatcher{result: matchclient.Result{Kind: matchclient.KindNoMatch}}
	oracle := &fakeOracle{lecture: activeLecture()}
	s := newTestScheduler(matcher, oracle, nil, clock, time.Nanosecond)
	ctx := context.Background()

	s.Tick(ctx)
	if matcher.calls != 1 {
		t.Fatal("expected initial attempt")
	}

	s.Pause()
	if got := s.Snapshot().State; got != StatePaused {
		t.Fatalf("state = %v, want paused", got)
	}
	for i := 0; i < 5; i++ {
		clock.Advance(10 * time.Second)
		s.Tick(ctx)
	}
	if matcher.calls != 1 {
		t.Fatalf("calls while paused = %d, want 1", matcher.calls)
	}

	s.Resume()
	clock.Advance(10 * time.Second)
	s.Tick(ctx)
	if matcher.calls != 2 {
		t.Fatalf("calls after resume = %d, want 2", matcher.calls)
	}
}

func TestTeardownDiscardsInFlightResult(t *testing.T) {
	clock := newFakeClock()
	oracle := &fakeOracle{lecture: activeLecture()}
	lister := &fakeLister{recs: []attendance.Record{{RollNo: "R1"}}}
	matcher := &fakeMatcher{result: matchclient.Result{Kind: matchclient.KindMatched, Message: "Attendance marked"}}
	var s *Scheduler
	matcher.onMark = func() { s.Close() } // view torn down mid-attempt
	s = newTestScheduler(matcher, oracle, lister, clock, 5*time.Second)

	s.Tick(context.Background())

	if lister.calls != 0 {
		t.Errorf("recent refresh ran %d times after teardown, want 0", lister.calls)
	}
	snap := s.Snapshot()
	if snap.Status != statusProcessing || snap.State != StateAttempting {
		t.Errorf("late result mutated state: %v %q", snap.State, snap.Status)
	}

	clock.Advance(time.Minute)
	s.Tick(context.Background())
	if matcher.calls != 1 {
		t.Errorf("calls after Close = %d, want 1", matcher.calls)
	}
}

func TestIdleWithoutLectureThenRecovers(t *testing.T) {
	clock := newFakeClock()
	matcher := &fakeMatcher{result: matchclient.Result{Kind: matchclient.KindNoMatch}}
	oracle := &fakeOracle{}
	s := newTestScheduler(matcher, oracle, nil, clock, time.Nanosecond)
	ctx := context.Background()

	s.Tick(ctx)
	if matcher.calls != 0 {
		t.Fatalf("calls without a lecture = %d, want 0", matcher.calls)
	}
	snap := s.Snapshot()
	if snap.State != StateIdle || snap.Banner == "" {
		t.Fatalf("state = %v banner = %q, want idle with banner", snap.State, snap.Banner)
	}

	oracle.set(activeLecture())
	clock.Advance(10 * time.Second)
	s.Tick(ctx)
	if matcher.calls != 1 {
		t.Fatalf("calls once lecture reappears = %d, want 1", matcher.calls)
	}
	if banner := s.Snapshot().Banner; banner != "" {
		t.Errorf("banner = %q, want cleared", banner)
	}
}

func TestNoActiveLectureOutcomeRequeriesOracle(t *testing.T) {
	clock := newFakeClock()
	oracle := &fakeOracle{lecture: activeLecture()}
	matcher := &fakeMatcher{result: matchclient.Result{
		Kind:    matchclient.KindNoActiveLecture,
		Message: "No active lecture. Please ask teacher to start a lecture first.",
	}}
	// The oracle agrees with the match service: the lecture ended mid-attempt.
	matcher.onMark = func() { oracle.set(nil) }
	s := newTestScheduler(matcher, oracle, nil, clock, time.Nanosecond)

	s.Tick(context.Background())
	queriesAfterFirst := func() int {
		oracle.mu.Lock()
		defer oracle.mu.Unlock()
		return oracle.calls
	}()
	if queriesAfterFirst < 2 {
		t.Errorf("oracle queries = %d, want re-query after no-active-lecture outcome", queriesAfterFirst)
	}
	if banner := s.Snapshot().Banner; banner == "" {
		t.Error("expected blocking banner after no-active-lecture outcome")
	}
}

func TestMatchedOutcomeWithoutListerCompletes(t *testing.T) {
	clock := newFakeClock()
	matcher := &fakeMatcher{result: matchclient.Result{Kind: matchclient.KindMatched, Message: "Attendance marked for Alice (Roll: R1) - Lecture 3"}}
	oracle := &fakeOracle{lecture: activeLecture()}
	// No recent panel wired at all: the fresh match must still land in
	// cooldown instead of reaching for a lister that is not there.
	s := NewScheduler(&camera.StaticSource{}, matcher, oracle, nil, Config{Clock: clock})

	s.Tick(context.Background())

	snap := s.Snapshot()
	if snap.State != StateCooldown {
		t.Fatalf("state = %v, want cooldown", snap.State)
	}
	if len(snap.Recent) != 0 {
		t.Fatalf("recent rows = %d, want none without a lister", len(snap.Recent))
	}
}

func TestMatchedRefreshesRecentButAlreadyMarkedDoesNot(t *testing.T) {
	clock := newFakeClock()
	oracle := &fakeOracle{lecture: activeLecture()}
	lister := &fakeLister{recs: []attendance.Record{{RollNo: "R1", Name: "Alice"}}}
	matcher := &fakeMatcher{result: matchclient.Result{Kind: matchclient.KindMatched, Message: "Attendance marked for Alice"}}
	s := newTestScheduler(matcher, oracle, lister, clock, time.Nanosecond)
	ctx := context.Background()

	s.Tick(ctx)
	if lister.calls != 1 {
		t.Fatalf("recent refreshes after fresh match = %d, want 1", lister.calls)
	}
	if got := len(s.Snapshot().Recent); got != 1 {
		t.Fatalf("recent rows = %d, want 1", got)
	}

	matcher.result = matchclient.Result{Kind: matchclient.KindAlreadyMarked, Message: "Alice is already marked present for Lecture 3 via manual"}
	clock.Advance(10 * time.Second)
	s.Tick(ctx)
	if lister.calls != 1 {
		t.Errorf("recent refreshes after already-marked = %d, want still 1", lister.calls)
	}
	if status := s.Snapshot().Status; !strings.HasPrefix(status, "✅") {
		t.Errorf("status = %q, want success styling for already-marked", status)
	}
}
