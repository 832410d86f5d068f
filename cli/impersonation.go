package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/flockhq/flock/config"
	"github.com/flockhq/flock/impersonation"
	"github.com/flockhq/flock/token"
	"github.com/flockhq/flock/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var impersonationCmd = &cobra.Command{
	Use:     "impersonation",
	Aliases: []string{"imp"},
	Short:   "Inspect and end admin impersonation sessions",
}

var (
	listOpenOnly bool
	listLimit    int
	listJSON     bool
)

var impersonationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent impersonation sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		sessions, err := db.ListSessions(cmd.Context(), listOpenOnly, listLimit)
		if err != nil {
			return err
		}

		if listJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(sessions)
		}

		now := time.Now()
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tADMIN\tTARGET\tSTARTED\tSTATE\tACTIONS\tREASON")
		for _, s := range sessions {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
				s.ID, s.AdminEmail, s.TargetUserEmail,
				humanize.RelTime(s.StartedAt, now, "ago", "from now"),
				sessionState(&s, now), s.ActionsCount, s.Reason)
		}
		return tw.Flush()
	},
}

var impersonationActionsCmd = &cobra.Command{
	Use:   "actions SESSION_ID",
	Short: "Show the action log of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id: %w", err)
		}

		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		sess, err := db.GetSession(cmd.Context(), sessionID)
		if err != nil {
			return err
		}
		actions, err := db.ListActions(cmd.Context(), sessionID)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s impersonating %s for %s (%s, %s actions)\n",
			sess.AdminEmail, sess.TargetUserEmail,
			sess.Duration(time.Now()).Round(time.Second),
			sessionState(sess, time.Now()), humanize.Comma(sess.ActionsCount))

		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "AT\tTYPE\tMETHOD\tPATH")
		for _, a := range actions {
			method := "-"
			if a.ActionMethod != nil {
				method = *a.ActionMethod
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", a.CreatedAt.Format(time.RFC3339), a.ActionType, method, a.ActionPath)
		}
		return tw.Flush()
	},
}

var impersonationEndCmd = &cobra.Command{
	Use:   "end SESSION_ID",
	Short: "Force-end an impersonation session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sessionID, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session id: %w", err)
		}

		key, err := config.SigningKey(v)
		if err != nil {
			return err
		}
		codec, err := token.NewCodec(key)
		if err != nil {
			return err
		}

		db, err := openDatabase()
		if err != nil {
			return err
		}
		defer db.Close()

		svc := impersonation.NewService(db, db, db, codec, impersonation.Config{})
		if err := svc.Terminate(cmd.Context(), sessionID, types.EndReasonForced); err != nil {
			return err
		}

		sess, err := db.GetSession(cmd.Context(), sessionID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "session %s ended (%s)\n", sess.ID, sess.EndReason)
		return nil
	},
}

func sessionState(s *types.ImpersonationSession, now time.Time) string {
	switch {
	case s.IsEnded():
		return "ended:" + s.EndReason.String()
	case s.IsExpired(now):
		return "overdue"
	default:
		return "active, " + humanize.RelTime(now, s.ExpiresAt, "left", "")
	}
}

func init() {
	impersonationListCmd.Flags().BoolVar(&listOpenOnly, "open", false, "only show sessions that have not ended")
	impersonationListCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum number of sessions")
	impersonationListCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")

	impersonationCmd.AddCommand(impersonationListCmd)
	impersonationCmd.AddCommand(impersonationActionsCmd)
	impersonationCmd.AddCommand(impersonationEndCmd)
}
