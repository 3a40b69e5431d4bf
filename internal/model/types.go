package model

import (
	"errors"
	"fmt"
)

// ErrInvalidCase is returned for cases whose fields are out of range.
var ErrInvalidCase = errors.New("invalid case")

// EscalationThreshold is the minimum rule escalation level that makes a
// breach mandatory to escalate.
const EscalationThreshold = 2

// NoRuleIndex is the RuleIndex of a result where no rule matched.
const NoRuleIndex = -1

// SLARule is one per-status time limit in an agency contract.
// Rules are evaluated in authored order (first match wins).
type SLARule struct {
	TriggerStatus   string `yaml:"trigger_status" json:"trigger_status"`
	MaxDaysAllowed  int    `yaml:"max_days_allowed" json:"max_days_allowed"`
	RequiredAction  string `yaml:"required_action" json:"required_action"`
	EscalationLevel int    `yaml:"escalation_level" json:"escalation_level"`
}

// Escalates reports whether a breach of this rule requires escalation.
func (r SLARule) Escalates() bool {
	return r.EscalationLevel >= EscalationThreshold
}

// AgencyContract holds the ordered SLA rules of one collection agency.
type AgencyContract struct {
	SLARules []SLARule `yaml:"sla_rules" json:"sla_rules"`
}

// ContractConfig maps agency (DCA) identifiers to their contracts.
type ContractConfig struct {
	DCAConfigs map[string]AgencyContract `yaml:"dca_configs" json:"dca_configs"`
}

// Case is one outsourced collection case.
// AmountDue and CustomerTier are only consumed by the predictor.
type Case struct {
	CaseID       int64   `json:"case_id"`
	DCAID        string  `json:"dca_id"`
	Status       string  `json:"status"`
	DaysOverdue  int     `json:"days_overdue"`
	AmountDue    float64 `json:"amount_due,omitempty"`
	CustomerTier string  `json:"customer_tier,omitempty"`
}

// Validate rejects a case no SLA rule can be meaningfully applied to.
func (c Case) Validate() error {
	if c.DaysOverdue < 0 {
		return fmt.Errorf("%w: case %d has negative days_overdue %d", ErrInvalidCase, c.CaseID, c.DaysOverdue)
	}
	return nil
}

// EvaluationResult is the SLA verdict for one case.
type EvaluationResult struct {
	IsBreached bool   `json:"is_breached"`
	Escalate   bool   `json:"escalate"`
	Message    string `json:"message"`
	RuleIndex  int    `json:"rule_index"`
}

// ToMap converts the result to a map for ledger metadata.
func (r EvaluationResult) ToMap() map[string]any {
	return map[string]any{
		"is_breached": r.IsBreached,
		"escalate":    r.Escalate,
		"message":     r.Message,
		"rule_index":  r.RuleIndex,
	}
}

// Scores is the predictor output for one case, both values in [0,1].
type Scores struct {
	RecoveryProbability float64 `json:"recovery_probability"`
	SLARisk             float64 `json:"sla_risk"`
}

// SLAStatus is the derived governance status shown to reviewers.
type SLAStatus string

const (
	StatusBreached SLAStatus = "breached"
	StatusAtRisk   SLAStatus = "at_risk"
	StatusOK       SLAStatus = "ok"
)

// AtRiskThreshold is the SLA risk score above which a clean case is at risk.
const AtRiskThreshold = 0.5

// ClassifyStatus derives the governance status from a verdict and its risk score.
func ClassifyStatus(r EvaluationResult, risk float64) SLAStatus {
	if r.IsBreached {
		return StatusBreached
	}
	if risk > AtRiskThreshold {
		return StatusAtRisk
	}
	return StatusOK
}
