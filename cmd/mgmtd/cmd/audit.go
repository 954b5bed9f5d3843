package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/jmcleod/mgmtd/api"
)

var auditFlags struct {
	event string
	limit int
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the persisted audit trail",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := clientFromConfig()
		if err != nil {
			return err
		}
		return listAudit(cmd.Context(), c, cmd.OutOrStdout(), auditFlags.event, auditFlags.limit)
	},
}

func init() {
	rootCmd.AddCommand(auditCmd)
	addClientFlags(auditCmd)
	auditCmd.AddCommand(auditListCmd)
	auditListCmd.Flags().StringVar(&auditFlags.event, "event", "", "Only show entries of this event type")
	auditListCmd.Flags().IntVarP(&auditFlags.limit, "limit", "n", 50, "Maximum number of entries")
}

func listAudit(ctx context.Context, c *apiClient, w io.Writer, event string, limit int) error {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	if event != "" {
		q.Set("event", event)
	}
	var resp api.ListAuditResponse
	if err := c.do(ctx, http.MethodGet, "/audit?"+q.Encode(), nil, &resp); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	color.New(color.Bold).Fprintln(tw, "TIME\tEVENT\tUSER\tREMOTE\tREASON")
	for _, e := range resp.Entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", e.CreatedAt, eventColor(e.Event), dash(e.User), dash(e.RemoteAddr), dash(e.Reason))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if resp.HasMore {
		fmt.Fprintf(w, "(%d of %d entries shown)\n", len(resp.Entries), resp.TotalCount)
	}
	return nil
}

func eventColor(e api.AuditEvent) string {
	switch e {
	case api.AuditLoginFailure, api.AuditAuthFailure, api.AuditCSRFRejected, api.AuditAccessDenied, api.AuditLoginRateLimited:
		return color.RedString(string(e))
	case api.AuditLoginSuccess:
		return color.GreenString(string(e))
	default:
		return string(e)
	}
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
