// Package predict defines the boundary to the recovery and SLA risk
// predictor. The predictor is a black box: only its batch contract matters.
package predict

import (
	"context"
	"fmt"
	"math"

	"github.com/ppiankov/dcawatch/internal/model"
)

// Predictor scores a batch of cases. It returns two sequences parallel to
// cases: recovery probability and SLA risk, each in [0,1].
type Predictor interface {
	Predict(ctx context.Context, cases []model.Case) (recovery, risk []float64, err error)
}

// Baseline is a deterministic heuristic predictor: recovery falls with the
// amount due and days overdue, risk rises linearly to 1 at 60 days.
// It is the fallback when no trained model is wired in.
type Baseline struct{}

const (
	amountScale  = 60000.0
	recoveryDays = 150.0
	riskDays     = 60.0
)

func (Baseline) Predict(ctx context.Context, cases []model.Case) ([]float64, []float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	recovery := make([]float64, len(cases))
	risk := make([]float64, len(cases))
	for i, c := range cases {
		days := float64(c.DaysOverdue)
		recovery[i] = clamp01(1.0 - c.AmountDue/amountScale - days/recoveryDays)
		risk[i] = clamp01(days / riskDays)
	}
	return recovery, risk, nil
}

// Score runs p and checks its output against the batch contract.
func Score(ctx context.Context, p Predictor, cases []model.Case) ([]model.Scores, error) {
	recovery, risk, err := p.Predict(ctx, cases)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}
	if len(recovery) != len(cases) || len(risk) != len(cases) {
		return nil, fmt.Errorf("predict: got %d recovery and %d risk scores for %d cases",
			len(recovery), len(risk), len(cases))
	}

	scores := make([]model.Scores, len(cases))
	for i := range cases {
		if !inUnit(recovery[i]) || !inUnit(risk[i]) {
			return nil, fmt.Errorf("predict: case %d scores out of [0,1]: recovery=%v risk=%v",
				cases[i].CaseID, recovery[i], risk[i])
		}
		scores[i] = model.Scores{RecoveryProbability: recovery[i], SLARisk: risk[i]}
	}
	return scores, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func inUnit(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
