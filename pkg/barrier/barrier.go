package barrier

import (
	"sort"
	"sync"
	"time"

	"github.com/dd0wney/cluso-lockstep/pkg/logging"
)

// Barrier is an N-party rendezvous point with a timeout.
//
// Participants are identified by node id. A generation starts with the first
// arrival and ends when either every active participant has called Wait
// (all waiters get ResultOk), the timeout elapses since that first arrival
// (all waiters get ResultTimeout), or the barrier is deactivated (all waiters
// get ResultNotActive). The next Wait after a generation ends starts a new one.
type Barrier struct {
	name    string
	timeout time.Duration
	logger  logging.Logger

	mu           sync.Mutex
	state        State
	participants map[string]struct{}
	waiters      map[string]chan Result
	generation   uint64
	timer        *time.Timer
	lastTimeout  []string
}

// Option configures a Barrier
type Option func(*Barrier)

// WithLogger sets the barrier logger
func WithLogger(l logging.Logger) Option {
	return func(b *Barrier) {
		b.logger = logging.OrNop(l)
	}
}

// New creates an idle barrier for the given participants.
// Call Activate before the first Wait.
func New(name string, participants []string, timeout time.Duration, opts ...Option) (*Barrier, error) {
	if len(participants) == 0 {
		return nil, ErrNoParticipants
	}
	if timeout <= 0 {
		return nil, ErrInvalidTimeout
	}

	set := make(map[string]struct{}, len(participants))
	for _, p := range participants {
		if _, dup := set[p]; dup {
			return nil, ErrDuplicateParticipant
		}
		set[p] = struct{}{}
	}

	b := &Barrier{
		name:         name,
		timeout:      timeout,
		logger:       logging.NewNopLogger(),
		state:        StateIdle,
		participants: set,
		waiters:      make(map[string]chan Result),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(logging.Component("barrier"), logging.Gate(name))
	return b, nil
}

// Name returns the barrier name
func (b *Barrier) Name() string {
	return b.name
}

// Timeout returns the configured timeout
func (b *Barrier) Timeout() time.Duration {
	return b.timeout
}

// Activate allows waits on the barrier
func (b *Barrier) Activate() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateDisposed {
		return ErrDisposed
	}
	b.state = StateActivated
	return nil
}

// Deactivate releases every current waiter with ResultNotActive.
// Further waits return ResultNotActive until Activate is called again.
func (b *Barrier) Deactivate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateActivated {
		b.state = StateIdle
	}
	if len(b.waiters) > 0 {
		b.logger.Debug("Deactivated with pending waiters", logging.Count(len(b.waiters)))
	}
	b.finishLocked(ResultNotActive)
}

// Dispose deactivates the barrier permanently
func (b *Barrier) Dispose() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateDisposed
	b.finishLocked(ResultNotActive)
}

// State returns the current barrier state
func (b *Barrier) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Participants returns the number of active participants
func (b *Barrier) Participants() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.participants)
}

// Waiting returns the number of participants blocked in the current generation
func (b *Barrier) Waiting() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiters)
}

// LastTimeout returns the participants that had not arrived when the most
// recent generation timed out, sorted by id. It is nil if no generation has
// timed out yet.
func (b *Barrier) LastTimeout() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.lastTimeout == nil {
		return nil
	}
	out := make([]string, len(b.lastTimeout))
	copy(out, b.lastTimeout)
	return out
}

// Wait blocks the participant until the generation is released, times out,
// or the barrier is deactivated.
func (b *Barrier) Wait(participant string) (Result, WaitTimes) {
	entered := time.Now()

	b.mu.Lock()
	if b.state != StateActivated {
		b.mu.Unlock()
		return ResultNotActive, WaitTimes{ThreadWait: time.Since(entered)}
	}
	if _, ok := b.participants[participant]; !ok {
		b.mu.Unlock()
		b.logger.Warn("Wait from unknown participant rejected", logging.Peer(participant))
		return ResultRejected, WaitTimes{ThreadWait: time.Since(entered)}
	}
	if _, waiting := b.waiters[participant]; waiting {
		b.mu.Unlock()
		b.logger.Warn("Re-entrant wait rejected", logging.Peer(participant))
		return ResultRejected, WaitTimes{ThreadWait: time.Since(entered)}
	}

	ch := make(chan Result, 1)
	b.waiters[participant] = ch
	if len(b.waiters) == 1 {
		gen := b.generation
		b.timer = time.AfterFunc(b.timeout, func() { b.expire(gen) })
	}
	b.releaseIfCompleteLocked()
	b.mu.Unlock()

	blocked := time.Now()
	result := <-ch
	done := time.Now()

	return result, WaitTimes{
		ThreadWait:  done.Sub(entered),
		BarrierWait: done.Sub(blocked),
	}
}

// Drop removes a participant from the active set. A waiter the participant
// has in flight is released with ResultNotActive; the remaining waiters are
// released if everyone left has now arrived.
func (b *Barrier) Drop(participant string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.participants[participant]; !ok {
		return false
	}
	delete(b.participants, participant)
	if ch, waiting := b.waiters[participant]; waiting {
		delete(b.waiters, participant)
		ch <- ResultNotActive
	}

	b.logger.Info("Participant dropped",
		logging.Peer(participant),
		logging.Int("participants", len(b.participants)))

	if len(b.waiters) == 0 {
		b.stopTimerLocked()
		b.generation++
		return true
	}
	b.releaseIfCompleteLocked()
	return true
}

func (b *Barrier) releaseIfCompleteLocked() {
	if len(b.waiters) == 0 || len(b.waiters) < len(b.participants) {
		return
	}
	for p := range b.participants {
		if _, ok := b.waiters[p]; !ok {
			return
		}
	}
	b.finishLocked(ResultOk)
}

func (b *Barrier) expire(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// The generation may already have been released while the timer fired.
	if gen != b.generation || len(b.waiters) == 0 {
		return
	}

	missing := make([]string, 0, len(b.participants))
	for p := range b.participants {
		if _, ok := b.waiters[p]; !ok {
			missing = append(missing, p)
		}
	}
	sort.Strings(missing)
	b.lastTimeout = missing

	b.logger.Warn("Barrier timed out",
		logging.Duration("timeout", b.timeout),
		logging.Int("arrived", len(b.waiters)),
		logging.Any("missing", missing))

	b.finishLocked(ResultTimeout)
}

// finishLocked ends the current generation with result.
func (b *Barrier) finishLocked(result Result) {
	b.stopTimerLocked()
	for p, ch := range b.waiters {
		ch <- result
		delete(b.waiters, p)
	}
	b.generation++
}

func (b *Barrier) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}
