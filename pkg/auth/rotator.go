package auth

import (
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// Clock is overridable for deterministic tests.
type Clock func() time.Time

// Rotator implements getNextProfile/markFailed/markSuccess over a fixed set
// of profiles, applying OAuth-first + priority-desc ordering, the
// configured Strategy, session stickiness, and the escalating-cooldown
// state machine.
type Rotator struct {
	log    *slog.Logger
	clock  Clock
	policy CooldownPolicy

	mu       sync.Mutex
	profiles map[string]Profile
	state    map[string]*State
	order    []string // insertion order, stable base before sorting

	strategy Strategy
	rrIndex  int

	sticky    bool
	stickyMap map[string]string // sessionID -> profileID

	store Store
}

// Store persists cooldown state atomically to a known path and reloads it
// at startup, per the persistence contract in spec §4.4.
type Store interface {
	Load() (map[string]*State, error)
	Save(map[string]*State) error
}

// Option configures a Rotator at construction.
type Option func(*Rotator)

func WithLogger(l *slog.Logger) Option       { return func(r *Rotator) { r.log = l } }
func WithClock(c Clock) Option               { return func(r *Rotator) { r.clock = c } }
func WithCooldownPolicy(p CooldownPolicy) Option { return func(r *Rotator) { r.policy = p } }
func WithStrategy(s Strategy) Option         { return func(r *Rotator) { r.strategy = s } }
func WithStickiness(enabled bool) Option     { return func(r *Rotator) { r.sticky = enabled } }
func WithStore(s Store) Option                { return func(r *Rotator) { r.store = s } }

// New builds a Rotator over the given profiles, applying any persisted
// cooldown state found via the configured Store.
func New(profiles []Profile, opts ...Option) *Rotator {
	r := &Rotator{
		log:       slog.Default(),
		clock:     time.Now,
		policy:    DefaultCooldownPolicy(),
		profiles:  make(map[string]Profile, len(profiles)),
		state:     make(map[string]*State, len(profiles)),
		strategy:  StrategyPriority,
		sticky:    true,
		stickyMap: make(map[string]string),
	}
	for _, o := range opts {
		o(r)
	}
	for _, p := range profiles {
		r.profiles[p.ID] = p
		r.order = append(r.order, p.ID)
		r.state[p.ID] = &State{ProfileID: p.ID}
	}

	if r.store != nil {
		if loaded, err := r.store.Load(); err == nil {
			now := r.clock()
			for id, st := range loaded {
				if _, ok := r.profiles[id]; !ok {
					continue
				}
				if st.InCooldown && st.CooldownUntil.After(now) {
					r.state[id] = st
				} else {
					st.InCooldown = false
					r.state[id] = st
				}
			}
		} else {
			r.log.Warn("auth: failed to load persisted cooldown state", "error", err)
		}
	}

	return r
}

// GetNextProfile implements the selection algorithm: stickiness first, then
// the healthy set sorted OAuth-first/priority-desc, then the configured
// strategy.
func (r *Rotator) GetNextProfile(sessionID string) (Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sticky && sessionID != "" {
		if pid, ok := r.stickyMap[sessionID]; ok {
			if r.isHealthyLocked(pid) {
				return r.profiles[pid], nil
			}
			delete(r.stickyMap, sessionID)
		}
	}

	healthy := r.healthySetLocked()
	if len(r.profiles) == 0 {
		return Profile{}, ErrNoProfiles
	}
	if len(healthy) == 0 {
		return Profile{}, ErrAllInCooldown
	}

	var chosen string
	switch r.strategy {
	case StrategyRoundRobin:
		if r.rrIndex >= len(healthy) {
			r.rrIndex = 0
		}
		chosen = healthy[r.rrIndex]
		r.rrIndex = (r.rrIndex + 1) % len(healthy)
	case StrategyRandom:
		chosen = healthy[rand.Intn(len(healthy))] // #nosec G404 -- profile selection, not a security boundary
	default: // StrategyPriority
		chosen = healthy[0]
	}

	if r.sticky && sessionID != "" {
		r.stickyMap[sessionID] = chosen
	}
	return r.profiles[chosen], nil
}

// healthySetLocked transitions expired cooldowns to healthy (recovery) and
// returns the OAuth-first, priority-desc-sorted healthy profile ids.
func (r *Rotator) healthySetLocked() []string {
	now := r.clock()
	var healthy []string
	for _, id := range r.order {
		st := r.state[id]
		if st.InCooldown && !st.CooldownUntil.After(now) {
			r.recoverLocked(id)
		}
		if !st.InCooldown {
			healthy = append(healthy, id)
		}
	}
	sort.SliceStable(healthy, func(i, j int) bool {
		pi, pj := r.profiles[healthy[i]], r.profiles[healthy[j]]
		if pi.IsOAuth != pj.IsOAuth {
			return pi.IsOAuth
		}
		return pi.Priority > pj.Priority
	})
	return healthy
}

func (r *Rotator) isHealthyLocked(id string) bool {
	st, ok := r.state[id]
	if !ok {
		return false
	}
	if st.InCooldown && !st.CooldownUntil.After(r.clock()) {
		r.recoverLocked(id)
	}
	return !st.InCooldown
}

// recoverLocked clears inCooldown but retains failureCount, per the state
// machine: "Cooldown --timer expiry--> Healthy (failureCount retained)".
func (r *Rotator) recoverLocked(id string) {
	st := r.state[id]
	st.InCooldown = false
	r.persistLocked()
}

// MarkFailed records a failed use of profileID and computes its next
// cooldown window per the escalation formula.
func (r *Rotator) MarkFailed(profileID string, errMsg string, isBilling bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.state[profileID]
	if !ok {
		return
	}
	now := r.clock()
	st.FailureCount++
	st.LastError = errMsg
	st.LastFailureWasBilling = isBilling
	st.LastFailureAt = now
	st.InCooldown = true
	st.CooldownUntil = now.Add(r.policy.computeCooldown(st.FailureCount, isBilling))

	for sid, pid := range r.stickyMap {
		if pid == profileID {
			delete(r.stickyMap, sid)
		}
	}

	r.log.Warn("auth: profile entering cooldown",
		"profile", profileID, "failure_count", st.FailureCount,
		"billing", isBilling, "cooldown_until", st.CooldownUntil)
	r.persistLocked()
}

// MarkSuccess fully resets profileID's state, per "Cooldown --success-->
// Healthy (failureCount=0)".
func (r *Rotator) MarkSuccess(profileID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.state[profileID]
	if !ok {
		return
	}
	*st = State{ProfileID: profileID}
	r.persistLocked()
}

// Sweep transitions every expired cooldown to healthy. Intended to be
// driven by a cron-scheduled recovery sweep rather than one timer per
// profile, so recovery does not pin a goroutine per profile for the
// lifetime of the process.
func (r *Rotator) Sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.clock()
	for _, id := range r.order {
		st := r.state[id]
		if st.InCooldown && !st.CooldownUntil.After(now) {
			r.recoverLocked(id)
		}
	}
}

// State returns a copy of profileID's current state.
func (r *Rotator) State(profileID string) (State, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.state[profileID]
	if !ok {
		return State{}, false
	}
	return *st, true
}

func (r *Rotator) persistLocked() {
	if r.store == nil {
		return
	}
	snapshot := make(map[string]*State, len(r.state))
	for id, st := range r.state {
		cp := *st
		snapshot[id] = &cp
	}
	if err := r.store.Save(snapshot); err != nil {
		r.log.Error("auth: failed to persist cooldown state", "error", err)
	}
}
