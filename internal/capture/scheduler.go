// Package capture drives the bounded-rate camera check-in loop: grab a
// frame, send it to the match service, interpret the outcome, repeat for as
// long as a lecture is active and scanning is not paused.
package capture

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"classtrack/internal/attendance"
	"classtrack/internal/camera"
	"classtrack/internal/matchclient"
	"classtrack/internal/session"
)

var attemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "classtrack_capture_attempts_total",
	Help: "Capture attempts by outcome.",
}, []string{"outcome"})

// State is the scheduler's position in the capture loop.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateAttempting
	StateCooldown
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateAttempting:
		return "attempting"
	case StateCooldown:
		return "cooldown"
	default:
		return "paused"
	}
}

const (
	statusLooking    = "Looking for faces..."
	statusProcessing = "Processing face..."
	statusPaused     = "Scanning paused."
	statusNoLecture  = "No active lecture. Ask teacher to start a lecture."
	statusRetrying   = "Error connecting to server. Retrying..."
)

// Clock abstracts time so the debounce and cooldown invariants are testable.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Matcher submits one frame for matching and marking.
type Matcher interface {
	Mark(ctx context.Context, image string) matchclient.Result
}

// RecentLister reads the newest marks back from persistence after a fresh
// match, so the display reflects the authoritative state.
type RecentLister interface {
	Recent(ctx context.Context, limit int) ([]attendance.Record, error)
}

// Config tunes the loop. Zero values get the production defaults.
type Config struct {
	Tick           time.Duration // period of the driving ticker
	Debounce       time.Duration // minimum gap between attempt starts
	Cooldown       time.Duration // display hold after an outcome
	AttemptTimeout time.Duration // bound on one snapshot+mark round trip
	RecentLimit    int
	Clock          Clock
}

func (c Config) withDefaults() Config {
	if c.Tick <= 0 {
		c.Tick = time.Second
	}
	if c.Debounce <= 0 {
		c.Debounce = 3 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 5 * time.Second
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.RecentLimit <= 0 {
		c.RecentLimit = 10
	}
	if c.Clock == nil {
		c.Clock = realClock{}
	}
	return c
}

// Snapshot is a read-only view of the loop for display and logging.
type Snapshot struct {
	State   State
	Status  string
	Banner  string
	Lecture *session.Lecture
	Recent  []attendance.Record
}

// Scheduler owns the capture loop state machine.
//
// One mutex serializes every transition; the in-flight flag is the shared
// state that guarantees no attempt starts while another is outstanding.
type Scheduler struct {
	cfg     Config
	source  camera.Source
	matcher Matcher
	oracle  session.Oracle
	lister  RecentLister

	mu          sync.Mutex
	state       State
	paused      bool
	closed      bool
	inFlight    bool
	lastAttempt time.Time
	holdUntil   time.Time
	lecture     *session.Lecture
	status      string
	banner      string
	recent      []attendance.Record
}

// NewScheduler wires the loop. lister may be nil when no recent panel is
// wanted.
func NewScheduler(source camera.Source, matcher Matcher, oracle session.Oracle, lister RecentLister, cfg Config) *Scheduler {
	return &Scheduler{
		cfg:     cfg.withDefaults(),
		source:  source,
		matcher: matcher,
		oracle:  oracle,
		lister:  lister,
		state:   StateIdle,
		status:  statusLooking,
	}
}

// Run drives Tick off a ticker until the context ends or Close is called.
// Teardown is deterministic: the ticker stops before Run returns, and a
// result still in flight at that point is discarded by finish.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-ticker.C:
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			s.Tick(ctx)
		}
	}
}

// Tick runs one step of the loop: leave cooldown when its hold has elapsed,
// re-query the oracle when no lecture is known, and start an attempt when
// the debounce interval allows one. Safe to call concurrently; at most one
// attempt is ever in flight.
func (s *Scheduler) Tick(ctx context.Context) {
	s.mu.Lock()
	if s.closed || s.paused || s.inFlight {
		s.mu.Unlock()
		return
	}

	now := s.cfg.Clock.Now()
	if s.state == StateCooldown {
		if now.Before(s.holdUntil) {
			s.mu.Unlock()
			return
		}
		s.state = StateScanning
		s.status = statusLooking
	}

	if s.lecture == nil {
		s.mu.Unlock()
		s.refreshLecture(ctx)
		s.mu.Lock()
		if s.closed || s.paused || s.lecture == nil {
			s.mu.Unlock()
			return
		}
	}

	if s.state == StateIdle {
		s.state = StateScanning
		s.status = statusLooking
	}
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.cfg.Debounce {
		s.mu.Unlock()
		return
	}

	s.inFlight = true
	s.lastAttempt = now
	s.state = StateAttempting
	s.status = statusProcessing
	s.mu.Unlock()

	s.attempt(ctx)
}

func (s *Scheduler) attempt(ctx context.Context) {
	actx, cancel := context.WithTimeout(ctx, s.cfg.AttemptTimeout)
	defer cancel()

	var res matchclient.Result
	frame, err := s.source.Snapshot(actx)
	if err != nil {
		res = matchclient.Result{Kind: matchclient.KindTransportError, Message: "No image captured. Trying again..."}
	} else {
		res = s.matcher.Mark(actx, frame.DataURL())
	}
	s.finish(ctx, res)
}

// finish folds one outcome back into the state machine. A result arriving
// after Close mutates nothing.
func (s *Scheduler) finish(ctx context.Context, res matchclient.Result) {
	s.mu.Lock()
	s.inFlight = false
	if s.closed {
		s.mu.Unlock()
		return
	}

	attemptsTotal.WithLabelValues(res.Kind.String()).Inc()
	now := s.cfg.Clock.Now()
	refreshRecent := false
	requery := false

	switch res.Kind {
	case matchclient.KindMatched:
		s.status = "✅ " + res.Message
		refreshRecent = true
		s.enterCooldown(now)
	case matchclient.KindAlreadyMarked:
		// Success-adjacent: show success styling, skip the data refresh.
		s.status = "✅ " + res.Message
		s.enterCooldown(now)
	case matchclient.KindNoMatch:
		s.status = "No matching student found. Looking for faces..."
		s.enterCooldown(now)
	case matchclient.KindNoFace:
		s.status = "Face not detected. Position yourself clearly..."
		s.enterCooldown(now)
	case matchclient.KindNoActiveLecture:
		s.status = statusNoLecture
		s.banner = statusNoLecture
		s.lecture = nil
		requery = true
		s.enterCooldown(now)
	case matchclient.KindTransportError:
		// Transient: never fatal, no display hold, next tick retries.
		log.Printf("capture: transient failure: %s", res.Message)
		s.status = statusRetrying
		s.state = StateScanning
	default:
		s.status = res.Message
		if s.status == "" {
			s.status = "Failed to mark attendance."
		}
		s.enterCooldown(now)
	}
	s.mu.Unlock()

	if requery {
		s.refreshLecture(ctx)
	}
	if refreshRecent && s.lister != nil {
		recent, err := s.lister.Recent(ctx, s.cfg.RecentLimit)
		if err != nil {
			log.Printf("capture: recent refresh failed: %v", err)
			return
		}
		s.mu.Lock()
		if !s.closed {
			s.recent = recent
		}
		s.mu.Unlock()
	}
}

func (s *Scheduler) enterCooldown(now time.Time) {
	s.state = StateCooldown
	s.holdUntil = now.Add(s.cfg.Cooldown)
}

// refreshLecture re-queries the session oracle and clears or raises the
// no-lecture banner accordingly.
func (s *Scheduler) refreshLecture(ctx context.Context) {
	lec, err := s.oracle.Current(ctx)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if err != nil {
		log.Printf("capture: lecture query failed: %v", err)
		s.status = statusRetrying
		return
	}
	if lec == nil {
		s.lecture = nil
		s.state = StateIdle
		s.banner = statusNoLecture
		return
	}
	s.lecture = lec
	s.banner = ""
	if s.state == StateIdle {
		s.state = StateScanning
		s.status = statusLooking
	}
}

// Pause stops scheduling attempts. The camera keeps running and an in-flight
// attempt completes, but no new attempt starts until Resume.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.paused {
		return
	}
	s.paused = true
	s.state = StatePaused
	s.status = statusPaused
}

// Resume re-enables scanning.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.paused {
		return
	}
	s.paused = false
	if s.lecture != nil {
		s.state = StateScanning
		s.status = statusLooking
	} else {
		s.state = StateIdle
	}
}

// Close tears the loop down. Idempotent. Any in-flight result is discarded.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Snapshot returns the current view of the loop.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	recent := make([]attendance.Record, len(s.recent))
	copy(recent, s.recent)
	return Snapshot{
		State:   s.state,
		Status:  s.status,
		Banner:  s.banner,
		Lecture: s.lecture,
		Recent:  recent,
	}
}
