package engine

import (
	"time"

	"github.com/okian/insights/internal/domain/rules"
	"github.com/okian/insights/internal/domain/types"
)

// Mode names how a batch selected its rules.
type Mode string

// Batch modes.
const (
	ModeTrigger Mode = "trigger"
	ModeAll     Mode = "all"
	ModeDomain  Mode = "domain"
)

// RuleOutcome is what one rule contributed to a batch.
type RuleOutcome struct {
	Rule     rules.Info
	Items    []types.InsightItem
	Err      error
	Duration time.Duration
}

// Failure names a rule that contributed nothing because it failed.
type Failure struct {
	RuleID string `json:"ruleId"`
	Error  string `json:"error"`
	Err    error  `json:"-"`
}

// BatchResult aggregates one batch. Outcomes follow registry order.
type BatchResult struct {
	RunID     string
	Mode      Mode
	Scope     string
	StartedAt time.Time
	Duration  time.Duration
	Outcomes  []RuleOutcome
}

// Items concatenates the items of every successful rule. Never nil.
func (b BatchResult) Items() []types.InsightItem {
	n := 0
	for _, o := range b.Outcomes {
		n += len(o.Items)
	}
	out := make([]types.InsightItem, 0, n)
	for _, o := range b.Outcomes {
		if o.Err == nil {
			out = append(out, o.Items...)
		}
	}
	return out
}

// Failures lists the failed rules. Never nil.
func (b BatchResult) Failures() []Failure {
	out := []Failure{}
	for _, o := range b.Outcomes {
		if o.Err != nil {
			out = append(out, Failure{RuleID: o.Rule.ID, Error: o.Err.Error(), Err: o.Err})
		}
	}
	return out
}

// Succeeded counts rules that ran without error.
func (b BatchResult) Succeeded() int {
	return len(b.Outcomes) - b.Failed()
}

// Failed counts rules that errored, panicked or timed out.
func (b BatchResult) Failed() int {
	n := 0
	for _, o := range b.Outcomes {
		if o.Err != nil {
			n++
		}
	}
	return n
}
