// Package budget tracks per-request pricing and cumulative session cost,
// and gates the agent loop when a configured spending limit is exceeded.
package budget

import (
	"sync"

	"github.com/carbon-run/agentcore/pkg/ai/models"
)

// Pricing is a model's per-million-token rates. CachedInputPerMillion is
// optional (0 means the model has no discounted cache-read rate, or it is
// unknown).
type Pricing struct {
	InputPerMillion       float64
	OutputPerMillion      float64
	CachedInputPerMillion float64
}

// CostDelta is the cost attributed to a single request.
type CostDelta struct {
	InputTokens  int
	OutputTokens int
	CachedTokens int
	InputCost    float64
	OutputCost   float64
	CachedCost   float64
	TotalCost    float64
}

// Totals accumulates CostDelta across every request in a session. All
// fields are monotonically non-decreasing.
type Totals struct {
	InputTokens  int
	OutputTokens int
	CachedTokens int
	InputCost    float64
	OutputCost   float64
	CachedCost   float64
	TotalCost    float64
}

func (t *Totals) add(d CostDelta) {
	t.InputTokens += d.InputTokens
	t.OutputTokens += d.OutputTokens
	t.CachedTokens += d.CachedTokens
	t.InputCost += d.InputCost
	t.OutputCost += d.OutputCost
	t.CachedCost += d.CachedCost
	t.TotalCost += d.TotalCost
}

// Status is what budgetStatus() returns to the agent loop.
type Status struct {
	Used       float64
	Limit      float64
	Remaining  float64
	Percentage float64
	Warning    bool
	Blocked    bool
}

// Tracker prices requests and accumulates session cost. LimitUSD <= 0
// disables budget gating; Status.Blocked is then always false.
type Tracker struct {
	mu            sync.Mutex
	limitUSD      float64
	warnThreshold float64
	totals        Totals
	overrides     map[string]Pricing
}

// Option configures a Tracker at construction.
type Option func(*Tracker)

// WithLimit sets the session cost ceiling in USD. 0 (the default) disables
// gating.
func WithLimit(usd float64) Option { return func(t *Tracker) { t.limitUSD = usd } }

// SetLimit updates the session cost ceiling in USD, e.g. when a caller only
// learns the limit per-call (agent.Config.MaxCostUSD) rather than at
// Tracker construction time. 0 disables gating.
func (t *Tracker) SetLimit(usd float64) {
	t.mu.Lock()
	t.limitUSD = usd
	t.mu.Unlock()
}

// WithWarnThreshold sets the fraction of the limit at which Status.Warning
// turns on. Default 0.8.
func WithWarnThreshold(frac float64) Option { return func(t *Tracker) { t.warnThreshold = frac } }

// WithPricingOverride registers a price for a model id that bypasses the
// models registry lookup (useful for providers/models not in that
// registry, e.g. a Bedrock alias).
func WithPricingOverride(modelID string, p Pricing) Option {
	return func(t *Tracker) {
		if t.overrides == nil {
			t.overrides = make(map[string]Pricing)
		}
		t.overrides[modelID] = p
	}
}

// New builds a Tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{warnThreshold: 0.8}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// priceFor resolves a model's Pricing: an explicit override first, then the
// models registry (exact match, then prefix/suffix per models.Lookup), else
// a zero Pricing (untracked model: cost is 0, not an error).
func (t *Tracker) priceFor(model string) Pricing {
	if p, ok := t.overrides[model]; ok {
		return p
	}
	if info := models.Lookup(model); info != nil {
		return Pricing{
			InputPerMillion:       info.InputCostPer1M,
			OutputPerMillion:      info.OutputCostPer1M,
			CachedInputPerMillion: info.CacheReadCostPer1M,
		}
	}
	return Pricing{}
}

// RecordRequest prices one request against model's pricing and adds the
// result to the running totals. cachedTokens counts the input tokens served
// from cache; they are taken to be included in inPromptTokens, and are
// priced at CachedInputPerMillion instead of InputPerMillion.
func (t *Tracker) RecordRequest(model string, inPromptTokens, outCompletionTokens, cachedTokens int) CostDelta {
	t.mu.Lock()
	defer t.mu.Unlock()

	price := t.priceFor(model)
	billableInput := inPromptTokens - cachedTokens
	if billableInput < 0 {
		billableInput = 0
	}

	delta := CostDelta{
		InputTokens:  inPromptTokens,
		OutputTokens: outCompletionTokens,
		CachedTokens: cachedTokens,
		InputCost:    float64(billableInput) / 1_000_000 * price.InputPerMillion,
		OutputCost:   float64(outCompletionTokens) / 1_000_000 * price.OutputPerMillion,
		CachedCost:   float64(cachedTokens) / 1_000_000 * price.CachedInputPerMillion,
	}
	delta.TotalCost = delta.InputCost + delta.OutputCost + delta.CachedCost

	t.totals.add(delta)
	return delta
}

// Totals returns a snapshot of the cumulative session cost.
func (t *Tracker) Totals() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals
}

// BudgetStatus reports where the session stands against the configured
// limit. With no limit configured, Blocked is always false and Percentage
// is 0.
func (t *Tracker) BudgetStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	used := t.totals.TotalCost
	if t.limitUSD <= 0 {
		return Status{Used: used}
	}

	remaining := t.limitUSD - used
	pct := used / t.limitUSD
	return Status{
		Used:       used,
		Limit:      t.limitUSD,
		Remaining:  remaining,
		Percentage: pct,
		Warning:    pct >= t.warnThreshold,
		Blocked:    used >= t.limitUSD,
	}
}
