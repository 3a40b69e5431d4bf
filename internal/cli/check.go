package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/dcawatch/internal/model"
	"github.com/ppiankov/dcawatch/internal/sla"
)

// caseFlags describes a single case on the command line.
type caseFlags struct {
	id     int64
	dca    string
	status string
	days   int
	amount float64
}

func (f *caseFlags) bind(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.id, "case-id", 0, "Case identifier")
	cmd.Flags().StringVar(&f.dca, "dca", "", "Agency (DCA) identifier")
	cmd.Flags().StringVar(&f.status, "status", "", "Current case status")
	cmd.Flags().IntVar(&f.days, "days", 0, "Days overdue")
	cmd.Flags().Float64Var(&f.amount, "amount", 0, "Amount due")
}

func (f *caseFlags) toCase() (model.Case, error) {
	if f.dca == "" {
		return model.Case{}, errors.New("--dca is required")
	}
	c := model.Case{
		CaseID:      f.id,
		DCAID:       f.dca,
		Status:      f.status,
		DaysOverdue: f.days,
		AmountDue:   f.amount,
	}
	if err := c.Validate(); err != nil {
		return model.Case{}, err
	}
	return c, nil
}

var (
	checkCase  caseFlags
	checkFile  string
	validateCs caseFlags
	validateBy string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCase.bind(checkCmd)
	checkCmd.Flags().StringVarP(&checkFile, "file", "f", "", "JSON file with an array of cases to check")

	rootCmd.AddCommand(validateCmd)
	validateCs.bind(validateCmd)
	validateCmd.Flags().StringVar(&validateBy, "actor", "SYSTEM", "Actor recorded on the VALIDATE entry")
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate cases against their agency's SLA contract",
	Long:  "Evaluates one case (flags) or a batch (--file) against the loaded contracts.\nNothing is written to the ledger.",
	Example: `  dcawatch check --dca DCA_ALPHA --status New --days 5
  dcawatch check --file cases.json`,
	RunE: runCheck,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Evaluate a case and record the verdict in the ledger",
	RunE:  runValidate,
}

func runCheck(cmd *cobra.Command, args []string) error {
	source, err := loadContracts()
	if err != nil {
		return err
	}
	evaluator := sla.NewEvaluator(source)

	if checkFile != "" {
		data, err := os.ReadFile(checkFile)
		if err != nil {
			return fmt.Errorf("read cases: %w", err)
		}
		var cases []model.Case
		if err := json.Unmarshal(data, &cases); err != nil {
			return fmt.Errorf("parse cases %s: %w", checkFile, err)
		}
		return printJSON(cmd, evaluator.EvaluateBatch(cases))
	}

	c, err := checkCase.toCase()
	if err != nil {
		return err
	}
	res, err := evaluator.Evaluate(c)
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}

func runValidate(cmd *cobra.Command, args []string) error {
	c, err := validateCs.toCase()
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	res, hash, err := a.facade.ValidateCase(validateBy, c)
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]any{
		"result": res,
		"hash":   hash,
	})
}

func printJSON(cmd *cobra.Command, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
