package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ppiankov/dcawatch/internal/audit"
)

var contractsFormat string

func init() {
	rootCmd.AddCommand(contractsCmd)
	contractsCmd.AddCommand(contractsShowCmd)
	contractsShowCmd.Flags().StringVarP(&contractsFormat, "format", "f", "text", "Output format (text|json)")
}

var contractsCmd = &cobra.Command{
	Use:   "contracts",
	Short: "Inspect DCA SLA contracts",
}

var contractsShowCmd = &cobra.Command{
	Use:   "show [dca-id]",
	Short: "Show loaded agencies and their SLA rules",
	Long:  "Loads and validates the contract file, then prints every agency's rules\nin evaluation order. With a DCA id, prints only that agency.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runContractsShow,
}

func runContractsShow(cmd *cobra.Command, args []string) error {
	source, err := loadContracts()
	if err != nil {
		return err
	}
	repo := source.Current()

	agencies := repo.Agencies()
	if len(args) == 1 {
		agencies = args[:1]
	}

	if contractsFormat == "json" {
		byAgency := make(map[string]any, len(agencies))
		for _, id := range agencies {
			rules, err := repo.Lookup(id)
			if err != nil {
				return err
			}
			byAgency[id] = map[string]any{"sla_rules": rules}
		}
		return printJSON(cmd, map[string]any{
			"hash":        repo.Hash(),
			"dca_configs": byAgency,
		})
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Contracts: %s (%d agencies, hash %s)\n", cfg.Contracts, repo.Len(), audit.ShortHash(repo.Hash()))
	for _, id := range agencies {
		rules, err := repo.Lookup(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\n%s\n", id)
		if len(rules) == 0 {
			fmt.Fprintln(out, "  (no rules)")
		}
		for i, r := range rules {
			esc := ""
			if r.Escalates() {
				esc = "  [escalates]"
			}
			fmt.Fprintf(out, "  %d. %-14s > %3d days  level %d  %s%s\n",
				i, r.TriggerStatus, r.MaxDaysAllowed, r.EscalationLevel, r.RequiredAction, esc)
		}
	}
	return nil
}
