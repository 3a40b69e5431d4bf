package cli

import (
	"github.com/spf13/cobra"

	"github.com/ppiankov/dcawatch/internal/governance"
)

var (
	recordCase      caseFlags
	recordActor     string
	recordMeta      map[string]string
	recordNewStatus string
)

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCase.bind(recordCmd)
	recordCmd.Flags().StringVar(&recordActor, "actor", "", "Who performed the action (required)")
	recordCmd.Flags().StringToStringVarP(&recordMeta, "meta", "m", nil, "Metadata key=value pairs")
	recordCmd.Flags().StringVar(&recordNewStatus, "new-status", "", "Target status for STATUS_UPDATE")
	recordCmd.MarkFlagRequired("actor")
}

var recordCmd = &cobra.Command{
	Use:   "record <action>",
	Short: "Record an actor's action on a case in the ledger",
	Long:  "Appends an entry to the hash-chained ledger. STATUS_UPDATE requires\n--new-status; any other action is recorded with the given metadata.",
	Example: `  dcawatch record CALL --actor "DCA Agent" --dca DCA_ALPHA --case-id 1001 -m outcome=no_answer
  dcawatch record STATUS_UPDATE --actor "DCA Agent" --dca DCA_ALPHA --case-id 1001 --new-status Closed`,
	Args: cobra.ExactArgs(1),
	RunE: runRecord,
}

func runRecord(cmd *cobra.Command, args []string) error {
	action := args[0]
	c, err := recordCase.toCase()
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	var hash string
	if action == governance.ActionStatusUpdate {
		hash, err = a.facade.UpdateStatus(recordActor, c, recordNewStatus)
	} else {
		meta := make(map[string]any, len(recordMeta))
		for k, v := range recordMeta {
			meta[k] = v
		}
		hash, err = a.facade.RecordAction(recordActor, action, c, meta)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd, map[string]string{"hash": hash})
}
