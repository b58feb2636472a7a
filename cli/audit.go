package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/smallnest/releasedash/audit"
	"github.com/spf13/cobra"
)

var auditLimit int

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent audited commands",
	RunE:  runAuditList,
}

func init() {
	auditListCmd.Flags().IntVarP(&auditLimit, "limit", "n", 20, "Number of records to show")
	auditCmd.AddCommand(auditListCmd)
}

func runAuditList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	if !cfg.Audit.Enabled {
		return fmt.Errorf("audit log is disabled (set audit.enabled)")
	}

	store, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.List(cmd.Context(), auditLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tKIND\tPAYLOAD\tERROR")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			r.OccurredAt.Local().Format(time.DateTime), r.Type, r.Kind, r.Payload, r.Error)
	}
	return tw.Flush()
}
