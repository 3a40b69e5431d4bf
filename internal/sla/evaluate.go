// Package sla evaluates collection cases against their agency's SLA rules.
package sla

import (
	"fmt"

	"github.com/ppiankov/dcawatch/internal/model"
)

const (
	// MessageNoRule is the verdict message when no rule applies to the case status.
	MessageNoRule = "No applicable SLA rule"
	// MessageClean is the verdict message when the matching rule is not breached.
	MessageClean = "Clean"
)

// RuleLookup resolves an agency's rules in authored order.
// *contract.Repository and *contract.Source implement it.
type RuleLookup interface {
	Lookup(dcaID string) ([]model.SLARule, error)
}

// Evaluator produces SLA verdicts. It holds no state beyond its rule source
// and is safe for concurrent use.
type Evaluator struct {
	rules RuleLookup
}

// NewEvaluator creates an Evaluator reading rules from rules.
func NewEvaluator(rules RuleLookup) *Evaluator {
	return &Evaluator{rules: rules}
}

// Evaluate returns the verdict for one case.
//
// Rules are scanned in authored order and the first rule whose trigger
// status equals the case status decides the verdict; later rules are never
// consulted. A case is breached only when its days overdue strictly exceed
// the rule's maximum. An unknown agency yields an error wrapping
// contract.ErrUnknownAgency and a zero result; a negative days overdue one
// wrapping model.ErrInvalidCase.
func (e *Evaluator) Evaluate(c model.Case) (model.EvaluationResult, error) {
	if err := c.Validate(); err != nil {
		return model.EvaluationResult{}, err
	}
	rules, err := e.rules.Lookup(c.DCAID)
	if err != nil {
		return model.EvaluationResult{}, fmt.Errorf("evaluate case %d: %w", c.CaseID, err)
	}

	for i, rule := range rules {
		if rule.TriggerStatus != c.Status {
			continue
		}
		if c.DaysOverdue > rule.MaxDaysAllowed {
			return model.EvaluationResult{
				IsBreached: true,
				Escalate:   rule.Escalates(),
				Message: fmt.Sprintf("Exceeded %d days in status %s. Required: %s",
					rule.MaxDaysAllowed, c.Status, rule.RequiredAction),
				RuleIndex: i,
			}, nil
		}
		return model.EvaluationResult{Message: MessageClean, RuleIndex: i}, nil
	}

	return model.EvaluationResult{Message: MessageNoRule, RuleIndex: model.NoRuleIndex}, nil
}

// Outcome is the per-case result of a batch evaluation.
type Outcome struct {
	Case   model.Case             `json:"case"`
	Result model.EvaluationResult `json:"result"`
	Err    error                  `json:"-"`
	Error  string                 `json:"error,omitempty"`
}

// OK reports whether the case evaluated without error.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// EvaluateBatch evaluates every case. Per-case errors are carried in the
// outcome and never abort the batch.
func (e *Evaluator) EvaluateBatch(cases []model.Case) []Outcome {
	out := make([]Outcome, len(cases))
	for i, c := range cases {
		res, err := e.Evaluate(c)
		out[i] = Outcome{Case: c, Result: res, Err: err}
		if err != nil {
			out[i].Error = err.Error()
		}
	}
	return out
}
