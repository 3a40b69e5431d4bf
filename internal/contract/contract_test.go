package contract

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

const alphaYAML = `
dca_configs:
  DCA_ALPHA:
    sla_rules:
      - trigger_status: New
        max_days_allowed: 3
        required_action: Escalate to legal
        escalation_level: 2
      - trigger_status: In Progress
        max_days_allowed: 10
        required_action: Call customer
        escalation_level: 1
  DCA_BETA:
    sla_rules: []
`

const alphaJSON = `{
  "dca_configs": {
    "DCA_ALPHA": {
      "sla_rules": [
        {"trigger_status": "New", "max_days_allowed": 3, "required_action": "Escalate to legal", "escalation_level": 2}
      ]
    }
  }
}`

func TestParseYAML(t *testing.T) {
	repo, err := Parse([]byte(alphaYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	rules, err := repo.Lookup("DCA_ALPHA")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(rules))
	}
	if rules[0].TriggerStatus != "New" || rules[1].TriggerStatus != "In Progress" {
		t.Errorf("rules out of authored order: %+v", rules)
	}
	if rules[0].MaxDaysAllowed != 3 || rules[0].EscalationLevel != 2 {
		t.Errorf("unexpected first rule: %+v", rules[0])
	}
	if rules[0].RequiredAction != "Escalate to legal" {
		t.Errorf("unexpected required action %q", rules[0].RequiredAction)
	}

	beta, err := repo.Lookup("DCA_BETA")
	if err != nil {
		t.Fatalf("lookup beta: %v", err)
	}
	if len(beta) != 0 {
		t.Errorf("expected no rules for DCA_BETA, got %d", len(beta))
	}
}

func TestParseJSON(t *testing.T) {
	repo, err := Parse([]byte(alphaJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	rules, err := repo.Lookup("DCA_ALPHA")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if len(rules) != 1 || rules[0].MaxDaysAllowed != 3 {
		t.Fatalf("unexpected rules: %+v", rules)
	}
}

func TestLookupUnknownAgency(t *testing.T) {
	repo, err := Parse([]byte(alphaYAML))
	if err != nil {
		t.Fatal(err)
	}
	_, err = repo.Lookup("DCA_GAMMA")
	if !errors.Is(err, ErrUnknownAgency) {
		t.Fatalf("expected ErrUnknownAgency, got %v", err)
	}
}

func TestLookupReturnsCopy(t *testing.T) {
	repo, err := Parse([]byte(alphaYAML))
	if err != nil {
		t.Fatal(err)
	}
	rules, _ := repo.Lookup("DCA_ALPHA")
	rules[0].MaxDaysAllowed = 999

	again, _ := repo.Lookup("DCA_ALPHA")
	if again[0].MaxDaysAllowed != 3 {
		t.Fatalf("repository mutated through Lookup result: %d", again[0].MaxDaysAllowed)
	}
}

func TestParseRejectsMalformedContracts(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty document", ""},
		{"invalid yaml", "dca_configs: [unterminated"},
		{"missing dca_configs", "agencies: {}"},
		{"missing sla_rules", "dca_configs:\n  A: {}"},
		{"negative max days", "dca_configs:\n  A:\n    sla_rules:\n      - {trigger_status: New, max_days_allowed: -1, required_action: x, escalation_level: 1}"},
		{"string max days", "dca_configs:\n  A:\n    sla_rules:\n      - {trigger_status: New, max_days_allowed: \"3\", required_action: x, escalation_level: 1}"},
		{"fractional max days", "dca_configs:\n  A:\n    sla_rules:\n      - {trigger_status: New, max_days_allowed: 2.5, required_action: x, escalation_level: 1}"},
		{"missing escalation level", "dca_configs:\n  A:\n    sla_rules:\n      - {trigger_status: New, max_days_allowed: 3, required_action: x}"},
		{"empty trigger status", "dca_configs:\n  A:\n    sla_rules:\n      - {trigger_status: \"\", max_days_allowed: 3, required_action: x, escalation_level: 1}"},
		{"unknown rule field", "dca_configs:\n  A:\n    sla_rules:\n      - {trigger_status: New, max_days_allowed: 3, required_action: x, escalation_level: 1, priority: 9}"},
		{"rules not a list", "dca_configs:\n  A:\n    sla_rules: New"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if err == nil {
				t.Fatal("expected parse error")
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %T: %v", err, err)
			}
		})
	}
}

func TestLoadMissingFileIsParseError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected wrapped ErrNotExist, got %v", err)
	}
}

func TestLoadFromFileSetsHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contracts.yaml")
	if err := os.WriteFile(path, []byte(alphaYAML), 0644); err != nil {
		t.Fatal(err)
	}
	repo, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(repo.Hash()) != 64 {
		t.Errorf("expected 64 char hex hash, got %q", repo.Hash())
	}

	other, _ := Parse([]byte(alphaJSON))
	if other.Hash() == repo.Hash() {
		t.Error("different contract bytes produced the same hash")
	}
}

func TestAgenciesSorted(t *testing.T) {
	repo, err := Parse([]byte(alphaYAML))
	if err != nil {
		t.Fatal(err)
	}
	got := repo.Agencies()
	if len(got) != 2 || got[0] != "DCA_ALPHA" || got[1] != "DCA_BETA" {
		t.Fatalf("unexpected agencies: %v", got)
	}
	if repo.Len() != 2 {
		t.Errorf("expected Len 2, got %d", repo.Len())
	}
}

func TestConcurrentLookups(t *testing.T) {
	repo, err := Parse([]byte(alphaYAML))
	if err != nil {
		t.Fatal(err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := repo.Lookup("DCA_ALPHA"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
}
