package governance

import (
	"context"
	"errors"
	"testing"

	"github.com/ppiankov/dcawatch/internal/audit"
	"github.com/ppiankov/dcawatch/internal/authz"
	"github.com/ppiankov/dcawatch/internal/contract"
	"github.com/ppiankov/dcawatch/internal/model"
	"github.com/ppiankov/dcawatch/internal/sla"
)

func testRepo() *contract.Repository {
	return contract.New(model.ContractConfig{
		DCAConfigs: map[string]model.AgencyContract{
			"DCA_ALPHA": {SLARules: []model.SLARule{
				{TriggerStatus: "New", MaxDaysAllowed: 3, RequiredAction: "Escalate to legal", EscalationLevel: 2},
				{TriggerStatus: "In Progress", MaxDaysAllowed: 10, RequiredAction: "Call customer", EscalationLevel: 1},
			}},
		},
	}, "sha-test")
}

func newTestFacade(t *testing.T, opts ...Option) (*Facade, *audit.Ledger) {
	t.Helper()
	repo := testRepo()
	l, err := audit.Open(audit.NewMemoryStore())
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	opts = append([]Option{WithContractHash(repo.Hash)}, opts...)
	return New(sla.NewEvaluator(repo), l, opts...), l
}

var breachCase = model.Case{CaseID: 1001, DCAID: "DCA_ALPHA", Status: "New", DaysOverdue: 5}

func TestCheckCaseDoesNotWrite(t *testing.T) {
	f, l := newTestFacade(t)
	res, err := f.CheckCase(breachCase)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsBreached || !res.Escalate {
		t.Fatalf("expected escalated breach, got %+v", res)
	}
	if l.Len() != 0 {
		t.Fatalf("check must not write, ledger has %d entries", l.Len())
	}
}

func TestRecordActionAttachesEvaluation(t *testing.T) {
	f, l := newTestFacade(t)
	meta := map[string]any{"note": "called customer"}

	hash, err := f.RecordAction("DCA Agent", "CALL", breachCase, meta)
	if err != nil {
		t.Fatal(err)
	}
	if hash != l.LastHash() {
		t.Fatalf("returned hash %s, ledger head %s", hash, l.LastHash())
	}
	if len(meta) != 1 {
		t.Fatalf("caller metadata was modified: %v", meta)
	}

	e := l.ReadAll()[0]
	if e.Actor != "DCA Agent" || e.Action != "CALL" || e.CaseID != 1001 {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.Metadata["note"] != "called customer" {
		t.Errorf("note lost: %v", e.Metadata)
	}
	eval, ok := e.Metadata[MetaEvaluation].(map[string]any)
	if !ok {
		t.Fatalf("missing %s: %v", MetaEvaluation, e.Metadata)
	}
	if eval["is_breached"] != true {
		t.Errorf("expected breach in evaluation, got %v", eval)
	}
	if e.Metadata[MetaContractHash] != testRepo().Hash() {
		t.Errorf("contract hash = %v", e.Metadata[MetaContractHash])
	}
}

func TestRecordActionKeepsCallerKeys(t *testing.T) {
	f, l := newTestFacade(t)
	if _, err := f.RecordAction("SYSTEM", "NOTE", breachCase, map[string]any{MetaEvaluation: "manual"}); err != nil {
		t.Fatal(err)
	}
	if got := l.ReadAll()[0].Metadata[MetaEvaluation]; got != "manual" {
		t.Fatalf("caller key overwritten: %v", got)
	}
}

func TestRecordActionUnknownAgencyStillRecords(t *testing.T) {
	f, l := newTestFacade(t)
	c := model.Case{CaseID: 7, DCAID: "DCA_GHOST", Status: "New", DaysOverdue: 1}
	if _, err := f.RecordAction("SYSTEM", "NOTE", c, nil); err != nil {
		t.Fatal(err)
	}
	e := l.ReadAll()[0]
	if _, ok := e.Metadata[MetaEvaluation]; ok {
		t.Fatalf("unexpected evaluation for unknown agency: %v", e.Metadata)
	}
}

func TestValidateCase(t *testing.T) {
	f, l := newTestFacade(t)
	res, hash, err := f.ValidateCase("SYSTEM", breachCase)
	if err != nil {
		t.Fatal(err)
	}
	if !res.IsBreached || hash == "" {
		t.Fatalf("res=%+v hash=%q", res, hash)
	}
	e := l.ReadAll()[0]
	if e.Action != ActionValidate {
		t.Errorf("action = %s", e.Action)
	}
	if e.Metadata["result"] != "breach" || e.Metadata["escalate"] != true {
		t.Errorf("unexpected metadata: %v", e.Metadata)
	}

	clean := model.Case{CaseID: 1002, DCAID: "DCA_ALPHA", Status: "New", DaysOverdue: 1}
	if _, _, err := f.ValidateCase("SYSTEM", clean); err != nil {
		t.Fatal(err)
	}
	if got := l.ReadAll()[1].Metadata["result"]; got != "clean" {
		t.Errorf("clean case recorded as %v", got)
	}
}

func TestValidateUnknownAgencyWritesNothing(t *testing.T) {
	f, l := newTestFacade(t)
	_, _, err := f.ValidateCase("SYSTEM", model.Case{CaseID: 9, DCAID: "DCA_GHOST", Status: "New"})
	if !errors.Is(err, contract.ErrUnknownAgency) {
		t.Fatalf("expected ErrUnknownAgency, got %v", err)
	}
	if l.Len() != 0 {
		t.Fatalf("ledger mutated: %d entries", l.Len())
	}
}

func TestUpdateStatus(t *testing.T) {
	f, l := newTestFacade(t)
	if _, err := f.UpdateStatus("DCA Agent", breachCase, "Closed"); err != nil {
		t.Fatal(err)
	}
	e := l.ReadAll()[0]
	if e.Action != ActionStatusUpdate || e.Metadata["new_status"] != "Closed" || e.Metadata["previous_status"] != "New" {
		t.Fatalf("unexpected entry: %+v", e)
	}

	_, err := f.UpdateStatus("DCA Agent", breachCase, "Paid")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus, got %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("invalid status must not write, ledger has %d entries", l.Len())
	}
}

func TestEnforcedAuthorization(t *testing.T) {
	a, err := authz.New(authz.ModeEnforce)
	if err != nil {
		t.Fatal(err)
	}
	f, l := newTestFacade(t, WithAuthorizer(a))

	_, err = f.RecordAction("Auditor", "CALL", breachCase, nil)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("auditor append: expected ErrForbidden, got %v", err)
	}
	if _, _, err := f.ValidateCase("stranger", breachCase); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger validate: expected ErrForbidden, got %v", err)
	}
	if l.Len() != 0 {
		t.Fatalf("forbidden writes reached the ledger: %d", l.Len())
	}

	if _, err := f.RecordAction("FedEx Admin", "CALL", breachCase, nil); err != nil {
		t.Fatalf("admin append: %v", err)
	}
	trail, err := f.AuditTrail("Auditor", audit.Query{})
	if err != nil {
		t.Fatalf("auditor read: %v", err)
	}
	if trail.Summary.Total != 1 {
		t.Fatalf("expected 1 entry in trail, got %d", trail.Summary.Total)
	}
	if _, err := f.AuditTrail("stranger", audit.Query{}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("stranger read: expected ErrForbidden, got %v", err)
	}
}

func TestShadowAuthorizationAllows(t *testing.T) {
	a, err := authz.New(authz.ModeShadow)
	if err != nil {
		t.Fatal(err)
	}
	f, l := newTestFacade(t, WithAuthorizer(a))
	if _, err := f.RecordAction("stranger", "CALL", breachCase, nil); err != nil {
		t.Fatalf("shadow mode must not block: %v", err)
	}
	if l.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", l.Len())
	}
}

func TestVerifyLedger(t *testing.T) {
	f, _ := newTestFacade(t)
	for i := 0; i < 3; i++ {
		if _, _, err := f.ValidateCase("SYSTEM", breachCase); err != nil {
			t.Fatal(err)
		}
	}
	res, err := f.VerifyLedger()
	if err != nil {
		t.Fatal(err)
	}
	if !res.Valid || res.Entries != 3 {
		t.Fatalf("unexpected verify result: %+v", res)
	}
}

func TestAssess(t *testing.T) {
	f, l := newTestFacade(t)
	cases := []model.Case{
		breachCase,
		{CaseID: 1002, DCAID: "DCA_ALPHA", Status: "In Progress", DaysOverdue: 40, AmountDue: 1000},
		{CaseID: 1003, DCAID: "DCA_ALPHA", Status: "Closed", DaysOverdue: 1},
		{CaseID: 1004, DCAID: "DCA_GHOST", Status: "New", DaysOverdue: 1},
	}
	got, err := f.Assess(context.Background(), cases)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Cases) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(got.Cases))
	}
	if got.Cases[0].Status != model.StatusBreached {
		t.Errorf("case 0 status = %s", got.Cases[0].Status)
	}
	if got.Cases[2].Status != model.StatusOK {
		t.Errorf("case 2 status = %s", got.Cases[2].Status)
	}
	if got.Cases[3].Error == "" || got.Cases[3].Result != nil {
		t.Errorf("unknown agency row should carry an error: %+v", got.Cases[3])
	}

	s := got.Summary
	if s.TotalCases != 4 || s.Breached != 2 || s.CriticalBreaches != 1 || s.Errors != 1 {
		t.Errorf("unexpected summary: %+v", s)
	}
	if s.AtRisk != 1 {
		t.Errorf("expected 1 case at risk (40 days), got %d", s.AtRisk)
	}
	if s.AvgRecoveryProbability <= 0 || s.AvgRecoveryProbability > 1 {
		t.Errorf("avg recovery out of range: %v", s.AvgRecoveryProbability)
	}
	if l.Len() != 0 {
		t.Fatalf("assess must not write, ledger has %d entries", l.Len())
	}
}

type brokenPredictor struct{}

func (brokenPredictor) Predict(context.Context, []model.Case) ([]float64, []float64, error) {
	return []float64{0.5}, nil, nil
}

func TestAssessPredictorFailure(t *testing.T) {
	f, _ := newTestFacade(t, WithPredictor(brokenPredictor{}))
	_, err := f.Assess(context.Background(), []model.Case{breachCase})
	if !errors.Is(err, ErrPrediction) {
		t.Fatalf("expected ErrPrediction, got %v", err)
	}
}
