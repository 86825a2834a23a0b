package budget_test

import (
	"testing"

	"github.com/carbon-run/agentcore/pkg/budget"
)

func TestRecordRequest_PricesAgainstKnownModel(t *testing.T) {
	tr := budget.New()
	delta := tr.RecordRequest("claude-sonnet-4-5", 1_000_000, 1_000_000, 0)

	// claude-sonnet-4-5: $3/M input, $15/M output.
	if delta.InputCost != 3 {
		t.Errorf("InputCost = %v, want 3", delta.InputCost)
	}
	if delta.OutputCost != 15 {
		t.Errorf("OutputCost = %v, want 15", delta.OutputCost)
	}
	if delta.TotalCost != 18 {
		t.Errorf("TotalCost = %v, want 18", delta.TotalCost)
	}
}

func TestRecordRequest_CachedTokensPricedAtCacheRate(t *testing.T) {
	tr := budget.New()
	// 1M input tokens total, all served from cache.
	delta := tr.RecordRequest("claude-sonnet-4-5", 1_000_000, 0, 1_000_000)

	if delta.InputCost != 0 {
		t.Errorf("InputCost = %v, want 0 (fully cached)", delta.InputCost)
	}
	if delta.CachedCost != 0.3 {
		t.Errorf("CachedCost = %v, want 0.3", delta.CachedCost)
	}
}

func TestRecordRequest_UnknownModelCostsZero(t *testing.T) {
	tr := budget.New()
	delta := tr.RecordRequest("some-unknown-model", 1000, 1000, 0)
	if delta.TotalCost != 0 {
		t.Errorf("TotalCost = %v, want 0 for an unpriced model", delta.TotalCost)
	}
}

func TestRecordRequest_PricingOverrideTakesPrecedence(t *testing.T) {
	tr := budget.New(budget.WithPricingOverride("my-bedrock-alias", budget.Pricing{InputPerMillion: 1, OutputPerMillion: 2}))
	delta := tr.RecordRequest("my-bedrock-alias", 1_000_000, 1_000_000, 0)
	if delta.InputCost != 1 || delta.OutputCost != 2 {
		t.Errorf("got input=%v output=%v, want 1/2 from override", delta.InputCost, delta.OutputCost)
	}
}

func TestTotals_AreMonotonic(t *testing.T) {
	tr := budget.New()
	tr.RecordRequest("claude-sonnet-4-5", 1_000_000, 0, 0)
	first := tr.Totals().TotalCost
	tr.RecordRequest("claude-sonnet-4-5", 1_000_000, 0, 0)
	second := tr.Totals().TotalCost

	if second <= first {
		t.Errorf("totals did not increase: first=%v second=%v", first, second)
	}
	if second != 2*first {
		t.Errorf("expected totals to double with identical requests: first=%v second=%v", first, second)
	}
}

func TestBudgetStatus_NoLimitNeverBlocks(t *testing.T) {
	tr := budget.New()
	tr.RecordRequest("claude-opus-4-5", 10_000_000, 10_000_000, 0)
	status := tr.BudgetStatus()
	if status.Blocked {
		t.Error("should never block with no configured limit")
	}
}

func TestBudgetStatus_BlocksAtLimit(t *testing.T) {
	tr := budget.New(budget.WithLimit(1.0))
	tr.RecordRequest("claude-sonnet-4-5", 1_000_000, 0, 0) // costs exactly $3 > $1 limit
	status := tr.BudgetStatus()
	if !status.Blocked {
		t.Fatal("expected Blocked once usage exceeds the limit")
	}
	if status.Remaining >= 0 {
		t.Errorf("Remaining = %v, want negative once over budget", status.Remaining)
	}
}

func TestBudgetStatus_WarnsBeforeBlocking(t *testing.T) {
	tr := budget.New(budget.WithLimit(10.0), budget.WithWarnThreshold(0.5))
	tr.RecordRequest("claude-sonnet-4-5", 2_000_000, 0, 0) // $6 of $10 = 60%

	status := tr.BudgetStatus()
	if status.Blocked {
		t.Error("should not be blocked yet")
	}
	if !status.Warning {
		t.Error("expected Warning once past the warn threshold")
	}
}
