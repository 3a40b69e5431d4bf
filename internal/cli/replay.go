package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ppiankov/dcawatch/internal/audit"
)

var (
	replayActor  string
	replayAction string
	replayFrom   string
	replayTo     string
	replayFormat string
)

func init() {
	ledgerCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayActor, "actor", "", "Only entries by this actor")
	replayCmd.Flags().StringVar(&replayAction, "action", "", "Only entries with this action")
	replayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339)")
	replayCmd.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339)")
	replayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
}

var replayCmd = &cobra.Command{
	Use:   "replay [case-id]",
	Short: "Replay the ledger history of a case",
	Long:  "Reads the ledger, filters by case, actor, action and time range,\nand renders a timeline with summary.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	q := audit.Query{Actor: replayActor, Action: replayAction}

	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid case id %q: %w", args[0], err)
		}
		q.CaseID = &id
	}

	if replayFrom != "" {
		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time %q: %w", replayFrom, err)
		}
		q.From = from
	}

	if replayTo != "" {
		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return fmt.Errorf("invalid --to time %q: %w", replayTo, err)
		}
		q.To = to
	}

	l, err := cfg.OpenLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	result := audit.Replay(l.ReadAll(), q)

	switch replayFormat {
	case "json":
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	default:
		fmt.Fprint(cmd.OutOrStdout(), audit.FormatTimeline(result))
	}

	return nil
}
