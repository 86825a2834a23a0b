package hooks

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

type entry[F any] struct {
	id       string
	priority int
	seq      int
	fn       F
	timeout  time.Duration
}

// Pipeline holds the ordered per-stage hook registries and dispatches a
// single tool call's lifecycle through them. Registration order is stable:
// hooks run in descending priority, ties broken by registration order,
// exactly the way Agent's listener map is walked under a lock rather than
// emulating dynamic event names at runtime.
type Pipeline struct {
	log     *slog.Logger
	failure FailureMode

	mu      sync.RWMutex
	seq     int
	before  []entry[BeforeFunc]
	after   []entry[AfterFunc]
	persist []entry[PersistFunc]
	onError []entry[NotifyFunc]
	onTO    []entry[NotifyFunc]
	onDenied []entry[NotifyFunc]

	metrics *metricsStore
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithLogger overrides the default no-op logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.log = l }
}

// WithFailureMode sets the chain-wide default when a hook errors or times
// out. Defaults to FailureModeContinue.
func WithFailureMode(m FailureMode) Option {
	return func(p *Pipeline) { p.failure = m }
}

// New builds an empty Pipeline.
func New(opts ...Option) *Pipeline {
	p := &Pipeline{
		log:     slog.Default(),
		failure: FailureModeContinue,
		metrics: newMetricsStore(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// pluginScope returns "plugin:<pluginID>:" for bulk-unregister matching.
func pluginScope(pluginID string) string {
	return "plugin:" + pluginID + ":"
}

// RegisterBefore adds a before-stage hook. id should be globally unique;
// plugin-sourced hooks should use the "plugin:<pluginID>:<hookID>" scheme
// so UnregisterPlugin can remove them in bulk.
func (p *Pipeline) RegisterBefore(id string, priority int, timeout time.Duration, fn BeforeFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.before = append(p.before, entry[BeforeFunc]{id: id, priority: priority, seq: p.seq, fn: fn, timeout: timeout})
	sortEntries(p.before)
}

func (p *Pipeline) RegisterAfter(id string, priority int, timeout time.Duration, fn AfterFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.after = append(p.after, entry[AfterFunc]{id: id, priority: priority, seq: p.seq, fn: fn, timeout: timeout})
	sortEntries(p.after)
}

func (p *Pipeline) RegisterPersist(id string, priority int, timeout time.Duration, fn PersistFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.persist = append(p.persist, entry[PersistFunc]{id: id, priority: priority, seq: p.seq, fn: fn, timeout: timeout})
	sortEntries(p.persist)
}

func (p *Pipeline) RegisterOnError(id string, priority int, fn NotifyFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.onError = append(p.onError, entry[NotifyFunc]{id: id, priority: priority, seq: p.seq, fn: fn})
	sortEntries(p.onError)
}

func (p *Pipeline) RegisterOnTimeout(id string, priority int, fn NotifyFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.onTO = append(p.onTO, entry[NotifyFunc]{id: id, priority: priority, seq: p.seq, fn: fn})
	sortEntries(p.onTO)
}

func (p *Pipeline) RegisterOnDenied(id string, priority int, fn NotifyFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	p.onDenied = append(p.onDenied, entry[NotifyFunc]{id: id, priority: priority, seq: p.seq, fn: fn})
	sortEntries(p.onDenied)
}

// Unregister removes a single hook by id from every stage registry.
func (p *Pipeline) Unregister(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.before = removeByID(p.before, id)
	p.after = removeByID(p.after, id)
	p.persist = removeByID(p.persist, id)
	p.onError = removeByID(p.onError, id)
	p.onTO = removeByID(p.onTO, id)
	p.onDenied = removeByID(p.onDenied, id)
}

// UnregisterPlugin removes every hook whose id is scoped under
// "plugin:<pluginID>:", for bulk teardown when a plugin unloads.
func (p *Pipeline) UnregisterPlugin(pluginID string) {
	scope := pluginScope(pluginID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.before = removeByPrefix(p.before, scope)
	p.after = removeByPrefix(p.after, scope)
	p.persist = removeByPrefix(p.persist, scope)
	p.onError = removeByPrefix(p.onError, scope)
	p.onTO = removeByPrefix(p.onTO, scope)
	p.onDenied = removeByPrefix(p.onDenied, scope)
}

func sortEntries[F any](es []entry[F]) {
	sort.SliceStable(es, func(i, j int) bool {
		if es[i].priority != es[j].priority {
			return es[i].priority > es[j].priority
		}
		return es[i].seq < es[j].seq
	})
}

func removeByID[F any](es []entry[F], id string) []entry[F] {
	out := es[:0:0]
	for _, e := range es {
		if e.id != id {
			out = append(out, e)
		}
	}
	return out
}

func removeByPrefix[F any](es []entry[F], prefix string) []entry[F] {
	out := es[:0:0]
	for _, e := range es {
		if !strings.HasPrefix(e.id, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// RunBefore threads ctx through every before-hook in priority order. A hook
// that errors or times out is handled per the pipeline's FailureMode: under
// FailureModeContinue the chain keeps the last good ctx and logs; under
// FailureModeAbort the chain stops and the error is returned.
func (p *Pipeline) RunBefore(ctx Context) (Context, error) {
	p.mu.RLock()
	hooks := append([]entry[BeforeFunc](nil), p.before...)
	p.mu.RUnlock()

	cur := ctx
	for _, h := range hooks {
		start := time.Now()
		out, ok, err := p.runWithTimeout(h.id, h.timeout, func() (Context, bool, error) {
			return h.fn(cur)
		})
		p.metrics.record(h.id, err != nil, isTimeoutErr(err), msSince(start))
		if err != nil {
			p.notifyFailure(h.id, cur, err)
			if p.failure == FailureModeAbort {
				return cur, fmt.Errorf("before hook %q: %w", h.id, err)
			}
			p.log.Warn("before hook failed, continuing", "hook", h.id, "error", err)
			continue
		}
		if ok {
			cur = out
		}
	}
	return cur, nil
}

// RunAfter threads result through every after-hook in priority order.
func (p *Pipeline) RunAfter(ctx Context, result Result) (Result, error) {
	p.mu.RLock()
	hooks := append([]entry[AfterFunc](nil), p.after...)
	p.mu.RUnlock()

	cur := result
	for _, h := range hooks {
		start := time.Now()
		out, ok, err := p.runAfterWithTimeout(h.id, h.timeout, func() (Result, bool, error) {
			return h.fn(ctx, cur)
		})
		p.metrics.record(h.id, err != nil, isTimeoutErr(err), msSince(start))
		if err != nil {
			p.notifyFailure(h.id, ctx, err)
			if p.failure == FailureModeAbort {
				return cur, fmt.Errorf("after hook %q: %w", h.id, err)
			}
			p.log.Warn("after hook failed, continuing", "hook", h.id, "error", err)
			continue
		}
		if ok {
			modified := cur.Modified || out != cur
			cur = out
			cur.Modified = modified
		}
	}
	return cur, nil
}

// RunPersist runs every persist-stage hook synchronously and in order,
// immediately before result is written to any transcript.
func (p *Pipeline) RunPersist(ctx Context, result Result) (Result, error) {
	p.mu.RLock()
	hooks := append([]entry[PersistFunc](nil), p.persist...)
	p.mu.RUnlock()

	cur := result
	for _, h := range hooks {
		start := time.Now()
		out, err := h.fn(ctx, cur)
		p.metrics.record(h.id, err != nil, false, msSince(start))
		if err != nil {
			p.notifyFailure(h.id, ctx, err)
			if p.failure == FailureModeAbort {
				return cur, fmt.Errorf("persist hook %q: %w", h.id, err)
			}
			p.log.Warn("persist hook failed, continuing", "hook", h.id, "error", err)
			continue
		}
		cur = out
	}
	return cur, nil
}

// NotifyError, NotifyTimeout, and NotifyDenied fan out to notification-only
// hooks; their return values are discarded and failures are logged, never
// aborted — these stages exist to observe, not to gate the outcome.
func (p *Pipeline) NotifyError(ctx Context, detail string)   { p.notify(p.snapshot().onError, ctx, detail) }
func (p *Pipeline) NotifyTimeout(ctx Context, detail string) { p.notify(p.snapshot().onTO, ctx, detail) }
func (p *Pipeline) NotifyDenied(ctx Context, detail string)  { p.notify(p.snapshot().onDenied, ctx, detail) }

type snapshotted struct {
	onError  []entry[NotifyFunc]
	onTO     []entry[NotifyFunc]
	onDenied []entry[NotifyFunc]
}

func (p *Pipeline) snapshot() snapshotted {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return snapshotted{
		onError:  append([]entry[NotifyFunc](nil), p.onError...),
		onTO:     append([]entry[NotifyFunc](nil), p.onTO...),
		onDenied: append([]entry[NotifyFunc](nil), p.onDenied...),
	}
}

func (p *Pipeline) notify(hooks []entry[NotifyFunc], ctx Context, detail string) {
	for _, h := range hooks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					p.log.Error("notify hook panicked", "hook", h.id, "panic", r)
				}
			}()
			h.fn(ctx, detail)
		}()
	}
}

func (p *Pipeline) notifyFailure(hookID string, ctx Context, err error) {
	p.log.Debug("hook failure observed", "hook", hookID, "error", err)
}

var errTimeout = fmt.Errorf("hook timed out")

func isTimeoutErr(err error) bool {
	return err == errTimeout
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}

func (p *Pipeline) runWithTimeout(id string, timeout time.Duration, fn func() (Context, bool, error)) (Context, bool, error) {
	if timeout <= 0 {
		return fn()
	}
	type res struct {
		ctx Context
		ok  bool
		err error
	}
	ch := make(chan res, 1)
	go func() {
		ctx, ok, err := fn()
		ch <- res{ctx, ok, err}
	}()
	select {
	case r := <-ch:
		return r.ctx, r.ok, r.err
	case <-time.After(timeout):
		return Context{}, false, errTimeout
	}
}

func (p *Pipeline) runAfterWithTimeout(id string, timeout time.Duration, fn func() (Result, bool, error)) (Result, bool, error) {
	if timeout <= 0 {
		return fn()
	}
	type res struct {
		result Result
		ok     bool
		err    error
	}
	ch := make(chan res, 1)
	go func() {
		result, ok, err := fn()
		ch <- res{result, ok, err}
	}()
	select {
	case r := <-ch:
		return r.result, r.ok, r.err
	case <-time.After(timeout):
		return Result{}, false, errTimeout
	}
}
