// Package governance coordinates SLA evaluation and ledger writes for
// callers: API handlers, the CLI, batch jobs. It owns no state beyond
// references to its collaborators.
package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/ppiankov/dcawatch/internal/audit"
	"github.com/ppiankov/dcawatch/internal/authz"
	"github.com/ppiankov/dcawatch/internal/model"
	"github.com/ppiankov/dcawatch/internal/predict"
)

var (
	ErrForbidden     = errors.New("governance: actor not permitted")
	ErrInvalidStatus = errors.New("governance: invalid case status")
	ErrPrediction    = errors.New("governance: prediction failed")
)

// Ledger actions recorded by the facade.
const (
	ActionValidate     = "VALIDATE"
	ActionStatusUpdate = "STATUS_UPDATE"
)

// Metadata keys added by the facade. Caller-supplied keys are never
// overwritten.
const (
	MetaEvaluation   = "sla_evaluation"
	MetaContractHash = "contract_hash"
)

// Statuses a case may be moved to by an operator.
var AllowedStatuses = []string{"In Progress", "Recovered", "Disputed", "Closed"}

// Evaluator produces a verdict for one case.
type Evaluator interface {
	Evaluate(model.Case) (model.EvaluationResult, error)
}

// Ledger is the append and review surface of the audit ledger.
type Ledger interface {
	Append(actor, action string, caseID int64, metadata map[string]any) (string, error)
	ReadAll() []audit.Entry
	Verify() (audit.VerifyResult, error)
}

// Authorizer decides whether an actor may act on an object.
type Authorizer interface {
	Authorize(actor, obj, act string) (allowed bool, enforced bool, err error)
}

type Facade struct {
	evaluator    Evaluator
	ledger       Ledger
	authorizer   Authorizer
	predictor    predict.Predictor
	contractHash func() string
	logger       *slog.Logger
}

type Option func(*Facade)

// WithAuthorizer gates ledger writes and audit-trail reads.
func WithAuthorizer(a Authorizer) Option {
	return func(f *Facade) { f.authorizer = a }
}

// WithPredictor sets the predictor used by Assess. Defaults to predict.Baseline.
func WithPredictor(p predict.Predictor) Option {
	return func(f *Facade) { f.predictor = p }
}

// WithContractHash records the active contract version in every entry.
func WithContractHash(fn func() string) Option {
	return func(f *Facade) { f.contractHash = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(f *Facade) { f.logger = l }
}

// New creates a Facade over an evaluator and a ledger.
func New(evaluator Evaluator, ledger Ledger, opts ...Option) *Facade {
	f := &Facade{
		evaluator: evaluator,
		ledger:    ledger,
		predictor: predict.Baseline{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With("component", "governance")
	return f
}

// CheckCase evaluates a case without touching the ledger.
func (f *Facade) CheckCase(c model.Case) (model.EvaluationResult, error) {
	return f.evaluator.Evaluate(c)
}

// RecordAction appends an actor's action on a case. When the case evaluates
// cleanly against its contract the verdict is attached under
// MetaEvaluation for traceability; the caller's map is not modified.
func (f *Facade) RecordAction(actor, action string, c model.Case, metadata map[string]any) (string, error) {
	if err := f.authorize(actor, authz.ActAppend); err != nil {
		return "", err
	}

	meta := maps.Clone(metadata)
	if meta == nil {
		meta = map[string]any{}
	}
	if res, err := f.evaluator.Evaluate(c); err == nil {
		setDefault(meta, MetaEvaluation, res.ToMap())
	} else {
		f.logger.Debug("recording action without evaluation", "case_id", c.CaseID, "error", err)
	}

	return f.append(actor, action, c.CaseID, meta)
}

// ValidateCase evaluates a case and records the verdict as a VALIDATE
// entry. A failed evaluation is returned and nothing is written.
func (f *Facade) ValidateCase(actor string, c model.Case) (model.EvaluationResult, string, error) {
	if err := f.authorize(actor, authz.ActAppend); err != nil {
		return model.EvaluationResult{}, "", err
	}

	res, err := f.evaluator.Evaluate(c)
	if err != nil {
		return model.EvaluationResult{}, "", err
	}

	verdict := "clean"
	if res.IsBreached {
		verdict = "breach"
	}
	hash, err := f.append(actor, ActionValidate, c.CaseID, map[string]any{
		"result":     verdict,
		"escalate":   res.Escalate,
		"message":    res.Message,
		"rule_index": res.RuleIndex,
	})
	if err != nil {
		return res, "", err
	}
	return res, hash, nil
}

// UpdateStatus records an operator moving a case to newStatus.
func (f *Facade) UpdateStatus(actor string, c model.Case, newStatus string) (string, error) {
	if !slices.Contains(AllowedStatuses, newStatus) {
		return "", fmt.Errorf("%w: %q (allowed: %v)", ErrInvalidStatus, newStatus, AllowedStatuses)
	}
	return f.RecordAction(actor, ActionStatusUpdate, c, map[string]any{
		"new_status":      newStatus,
		"previous_status": c.Status,
	})
}

// AuditTrail returns the ledger entries matching q for review.
func (f *Facade) AuditTrail(actor string, q audit.Query) (*audit.ReplayResult, error) {
	if err := f.authorize(actor, authz.ActRead); err != nil {
		return nil, err
	}
	return audit.Replay(f.ledger.ReadAll(), q), nil
}

// Ledger exposes the underlying ledger for verification and review.
func (f *Facade) Ledger() Ledger { return f.ledger }

// VerifyLedger checks the persisted hash chain.
func (f *Facade) VerifyLedger() (audit.VerifyResult, error) {
	return f.ledger.Verify()
}

func (f *Facade) append(actor, action string, caseID int64, meta map[string]any) (string, error) {
	if f.contractHash != nil {
		setDefault(meta, MetaContractHash, f.contractHash())
	}
	hash, err := f.ledger.Append(actor, action, caseID, meta)
	if err != nil {
		return "", fmt.Errorf("governance: record %s for case %d: %w", action, caseID, err)
	}
	f.logger.Debug("ledger entry appended", "actor", actor, "action", action, "case_id", caseID, "hash", hash)
	return hash, nil
}

func (f *Facade) authorize(actor, act string) error {
	if f.authorizer == nil {
		return nil
	}
	allowed, enforced, err := f.authorizer.Authorize(actor, authz.ObjectLedger, act)
	if err != nil {
		return fmt.Errorf("governance: authorize %q: %w", actor, err)
	}
	if allowed {
		return nil
	}
	if enforced {
		return fmt.Errorf("%w: %q may not %s the ledger", ErrForbidden, actor, act)
	}
	f.logger.Warn("authorization would deny", "actor", actor, "act", act)
	return nil
}

func setDefault(m map[string]any, key string, v any) {
	if _, ok := m[key]; !ok {
		m[key] = v
	}
}

var (
	_ Ledger     = (*audit.Ledger)(nil)
	_ Authorizer = (*authz.Authorizer)(nil)
)

// AssessedCase is one row of an assessment.
type AssessedCase struct {
	Case   model.Case              `json:"case"`
	Result *model.EvaluationResult `json:"result,omitempty"`
	Error  string                  `json:"error,omitempty"`
	Scores model.Scores            `json:"scores"`
	Status model.SLAStatus         `json:"sla_status,omitempty"`
}

// Summary holds portfolio KPIs of an assessment.
type Summary struct {
	TotalCases             int     `json:"total_cases"`
	AtRisk                 int     `json:"at_risk"`
	Breached               int     `json:"breached"`
	CriticalBreaches       int     `json:"critical_breaches"`
	Errors                 int     `json:"errors"`
	AvgRecoveryProbability float64 `json:"avg_recovery_probability"`
}

type Assessment struct {
	Cases   []AssessedCase `json:"cases"`
	Summary Summary        `json:"summary"`
}

// Assess evaluates and scores a batch of cases. Evaluation errors stay
// per-case; a predictor failure fails the whole batch.
func (f *Facade) Assess(ctx context.Context, cases []model.Case) (*Assessment, error) {
	scores, err := predict.Score(ctx, f.predictor, cases)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPrediction, err)
	}

	out := &Assessment{Cases: make([]AssessedCase, len(cases))}
	out.Summary.TotalCases = len(cases)

	var recoverySum float64
	for i, c := range cases {
		row := AssessedCase{Case: c, Scores: scores[i]}
		recoverySum += scores[i].RecoveryProbability
		if scores[i].SLARisk > model.AtRiskThreshold {
			out.Summary.AtRisk++
		}

		res, err := f.evaluator.Evaluate(c)
		if err != nil {
			row.Error = err.Error()
			out.Summary.Errors++
		} else {
			row.Result = &res
			row.Status = model.ClassifyStatus(res, scores[i].SLARisk)
			if res.IsBreached {
				out.Summary.Breached++
			}
			if res.Escalate {
				out.Summary.CriticalBreaches++
			}
		}
		out.Cases[i] = row
	}
	if len(cases) > 0 {
		out.Summary.AvgRecoveryProbability = recoverySum / float64(len(cases))
	}
	return out, nil
}
