package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/ppiankov/dcawatch/internal/audit"
)

// errVerifyFailed is returned after a broken chain has been reported.
var errVerifyFailed = errors.New("ledger verification failed")

var tailLines int

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.AddCommand(ledgerVerifyCmd)
	ledgerCmd.AddCommand(ledgerTailCmd)
	ledgerTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
}

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Audit ledger operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit ledger.",
}

var ledgerVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify hash chain integrity of the ledger",
	Long:  "Re-reads the persisted ledger and checks every entry's prev_hash and hash.\nExits 0 if valid, 1 if tampered.",
	Args:  cobra.NoArgs,
	RunE:  runLedgerVerify,
}

var ledgerTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent ledger entries",
	Args:  cobra.NoArgs,
	RunE:  runLedgerTail,
}

func runLedgerVerify(cmd *cobra.Command, args []string) error {
	l, err := cfg.OpenLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	res, err := l.Verify()
	if err != nil {
		return err
	}
	if res.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified\n", res.Entries)
		return nil
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "FAILED at entry %d (%s): %s\n", res.Index, res.Kind, res.Reason)
	return errVerifyFailed
}

func runLedgerTail(cmd *cobra.Command, args []string) error {
	l, err := cfg.OpenLedger()
	if err != nil {
		return err
	}
	defer l.Close()

	entries := l.ReadAll()
	start := max(len(entries)-tailLines, 0)

	out := cmd.OutOrStdout()
	for i := start; i < len(entries); i++ {
		e := entries[i]
		age := e.Timestamp
		if ts, err := time.Parse(audit.TimestampFormat, e.Timestamp); err == nil {
			age = humanize.Time(ts)
		}
		fmt.Fprintf(out, "#%-5d %-16s %-14s %-16s %-8d %s\n",
			i, age, e.Actor, e.Action, e.CaseID, audit.ShortHash(e.Hash))
	}
	fmt.Fprintf(out, "%s entries, head %s\n", humanize.Comma(int64(len(entries))), audit.ShortHash(l.LastHash()))
	return nil
}
