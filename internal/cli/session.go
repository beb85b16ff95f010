package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ashureev/videa/internal/domain"
	"github.com/ashureev/videa/internal/store"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newSessionCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect stored conversation sessions",
	}
	cmd.AddCommand(newSessionListCmd(opts), newSessionShowCmd(opts))
	return cmd
}

func openStore(path string) (*store.SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return store.NewSQLite(path)
}

func newSessionListCmd(opts *options) *cobra.Command {
	var (
		state string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recently updated sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := domain.State(strings.ToUpper(state))
			if state != "" && !st.Valid() {
				return fmt.Errorf("unknown state %q", state)
			}

			repo, err := openStore(opts.dbPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			rows, err := repo.ListSessions(cmd.Context(), st, limit)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tUSER\tSTATE\tPERSONA\tCOMPLETION\tTURNS\tUPDATED")
			for _, r := range rows {
				persona := r.MatchedProfileID
				if persona == "" {
					persona = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d%%\t%d\t%s\n",
					r.ID, r.UserID, r.State, persona, r.Completion, r.Turns, r.UpdatedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&state, "state", "", "Only sessions in this state (e.g. COLLECTING, CONFIRMED)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of sessions")
	return cmd
}

// sessionDump is the machine-readable form printed by session show.
type sessionDump struct {
	Session    *domain.Session          `json:"session" yaml:"session"`
	Enrollment *domain.EnrollmentRecord `json:"enrollment,omitempty" yaml:"enrollment,omitempty"`
}

func newSessionShowCmd(opts *options) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Print a session transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openStore(opts.dbPath)
			if err != nil {
				return err
			}
			defer repo.Close()

			s, err := repo.GetSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enr, err := repo.GetEnrollment(cmd.Context(), s.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch format {
			case "text":
				return printSession(out, s, enr)
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(sessionDump{Session: s, Enrollment: enr})
			case "yaml":
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				defer enc.Close()
				return enc.Encode(sessionDump{Session: s, Enrollment: enr})
			default:
				return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
			}
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json or yaml")
	return cmd
}

func printSession(w io.Writer, s *domain.Session, enr *domain.EnrollmentRecord) error {
	fmt.Fprintf(w, "Session   %s\n", s.ID)
	fmt.Fprintf(w, "User      %s\n", s.UserID)
	fmt.Fprintf(w, "State     %s (%d%% complete, %d exchanges)\n", s.State, s.Completion, s.ExchangeCount)
	if s.MatchedProfileID != "" {
		fmt.Fprintf(w, "Matched   %s -> %s\n", s.MatchedProfileID, s.BundleID)
	}
	if enr != nil {
		fmt.Fprintf(w, "Decision  %s at %s\n", enr.Outcome, enr.CreatedAt.UTC().Format(time.RFC3339))
	}

	if !s.Profile.IsEmpty() {
		fmt.Fprintln(w, "\nProfile")
		for _, f := range domain.AllFields {
			if vals := s.Profile.Texts(f); len(vals) > 0 {
				fmt.Fprintf(w, "  %-30s %s\n", f, strings.Join(vals, ", "))
			} else if n, ok := s.Profile.Number(f); ok {
				fmt.Fprintf(w, "  %-30s %d\n", f, n)
			}
		}
	}

	fmt.Fprintln(w, "\nTranscript")
	for _, t := range s.Transcript {
		fmt.Fprintf(w, "[%d] %s %s\n", t.Seq, t.CreatedAt.UTC().Format("15:04:05"), t.Role)
		for _, line := range strings.Split(t.Text, "\n") {
			fmt.Fprintf(w, "    %s\n", line)
		}
		if t.Extracted != "" {
			fmt.Fprintf(w, "    extracted: %s\n", t.Extracted)
		}
	}
	return nil
}
