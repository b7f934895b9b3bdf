// clubctl is the operator CLI for a running clubdesk server.
//
// Usage:
//
//	clubctl health                          Check the server is up
//	clubctl state export [-o file]          Write the full state as JSON
//	clubctl state import <file>             Replace state from a JSON file
//	clubctl reset                           Wipe all state (server must enable reset)
//	clubctl slots --date D --party N        List open slots
//	clubctl token --subject S [--role R]    Mint a bearer token from the config secret
//	clubctl remind                          Run one reminder and campaign pass
//	clubctl time advance <duration>         Move the server clock forward
//	clubctl check <file-or-dir>             Run YAML or JSON scenarios against the server
//
// Requests authenticate with --token, or with an admin token minted from
// the config file's auth secret when --token is empty.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/supperclub/clubdesk/internal/auth"
	"github.com/supperclub/clubdesk/internal/client"
	"github.com/supperclub/clubdesk/internal/config"
	"github.com/supperclub/clubdesk/internal/scenario"
)

var version = "dev"

type globals struct {
	server     string
	token      string
	configPath string
	timeout    time.Duration
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:          "clubctl",
		Short:        "Operate a running clubdesk server",
		Version:      version,
		SilenceUsage: true,
	}
	root.SetOut(out)
	pf := root.PersistentFlags()
	pf.StringVar(&g.server, "server", envOr("CLUBDESK_URL", "http://localhost:8080"), "clubdesk base URL")
	pf.StringVar(&g.token, "token", os.Getenv("CLUBCTL_TOKEN"), "bearer token")
	pf.StringVar(&g.configPath, "config", config.DefaultFile, "config file holding the auth secret")
	pf.DurationVar(&g.timeout, "timeout", 30*time.Second, "overall request timeout")

	root.AddCommand(
		healthCmd(g),
		stateCmd(g),
		resetCmd(g),
		slotsCmd(g),
		tokenCmd(g),
		remindCmd(g),
		timeCmd(g),
		checkCmd(g),
	)
	return root
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func (g *globals) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), g.timeout)
}

func (g *globals) manager() (*auth.Manager, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	return auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL), nil
}

// bearer returns --token, or an admin token minted from the config secret.
func (g *globals) bearer() (string, error) {
	if g.token != "" {
		return g.token, nil
	}
	m, err := g.manager()
	if err != nil {
		return "", fmt.Errorf("no --token given and cannot mint one: %w", err)
	}
	return m.Issue("clubctl", auth.RoleAdmin)
}

func (g *globals) client() (*client.Client, error) {
	token, err := g.bearer()
	if err != nil {
		return nil, err
	}
	return client.New(g.server, token), nil
}

func healthCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the server is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := g.context(cmd)
			defer cancel()
			ok, body := client.New(g.server, "").Health(ctx)
			if !ok {
				return fmt.Errorf("unhealthy: %s", body)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok %s\n", g.server, body)
			return nil
		},
	}
}

func stateCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "state", Short: "Export or import server state"}

	var outPath string
	export := &cobra.Command{
		Use:   "export",
		Short: "Write the full state as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()
			data, err := c.ExportState(ctx)
			if err != nil {
				return err
			}
			if outPath == "" {
				_, err = cmd.OutOrStdout().Write(append(data, '\n'))
				return err
			}
			return os.WriteFile(outPath, data, 0o600)
		},
	}
	export.Flags().StringVarP(&outPath, "output", "o", "", "write to file instead of stdout")

	imp := &cobra.Command{
		Use:   "import <file>",
		Short: "Replace the collections present in a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("reading state file: %w", err)
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()
			if err := c.ImportState(ctx, data); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %s\n", args[0])
			return nil
		},
	}
	cmd.AddCommand(export, imp)
	return cmd
}

func resetCmd(g *globals) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Wipe all state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return fmt.Errorf("reset deletes every record; pass --yes to confirm")
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()
			if err := c.Reset(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reset")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm the reset")
	return cmd
}

func slotsCmd(g *globals) *cobra.Command {
	var (
		date  string
		party int
	)
	cmd := &cobra.Command{
		Use:   "slots",
		Short: "List open slots for a party",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := g.context(cmd)
			defer cancel()
			slots, err := client.New(g.server, g.token).Slots(ctx, date, party)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "START\tEND\tTABLE")
			for _, s := range slots {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Start.Format("15:04"), s.End.Format("15:04"), s.TableID)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&date, "date", time.Now().Format("2006-01-02"), "date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&party, "party", 2, "party size")
	return cmd
}

func tokenCmd(g *globals) *cobra.Command {
	var (
		subject string
		roles   []string
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token signed with the config secret",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for _, r := range roles {
				if r != auth.RoleStaff && r != auth.RoleAdmin {
					return fmt.Errorf("unknown role %q (want %s or %s)", r, auth.RoleStaff, auth.RoleAdmin)
				}
			}
			m, err := g.manager()
			if err != nil {
				return err
			}
			token, err := m.Issue(subject, roles...)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "token subject, e.g. the staff member's email")
	cmd.Flags().StringSliceVar(&roles, "role", []string{auth.RoleStaff}, "roles to grant")
	cmd.MarkFlagRequired("subject")
	return cmd
}

func remindCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "remind",
		Short: "Run one reminder and campaign pass now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()
			res, err := c.RunReminders(ctx)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}

func timeCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{Use: "time", Short: "Inspect or move the server clock"}
	cmd.AddCommand(&cobra.Command{
		Use:   "advance <duration>",
		Short: "Move the server clock forward, e.g. 90m or 24h",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := time.ParseDuration(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid duration: %w", err)
			}
			c, err := g.client()
			if err != nil {
				return err
			}
			ctx, cancel := g.context(cmd)
			defer cancel()
			now, err := c.AdvanceTime(ctx, d)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "server time %s\n", now.Format(time.RFC3339))
			return nil
		},
	})
	return cmd
}

func checkCmd(g *globals) *cobra.Command {
	var staffToken string
	cmd := &cobra.Command{
		Use:   "check <file-or-dir>",
		Short: "Run scenario files against the server",
		Long: `Run scenario files against the server.

Each scenario may reset and seed the server, then issues its steps in
order as the public, staff or admin caller and checks status codes and
response fields. Steps run as staff unless they say otherwise.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scenarios, err := scenario.LoadPath(args[0])
			if err != nil {
				return err
			}
			admin, err := g.bearer()
			if err != nil {
				return err
			}
			staff := staffToken
			if staff == "" {
				staff = admin
				if g.token == "" {
					if m, err := g.manager(); err == nil {
						if tok, err := m.Issue("clubctl-staff", auth.RoleStaff); err == nil {
							staff = tok
						}
					}
				}
			}
			runner := scenario.NewRunner(g.server, map[string]string{
				scenario.AsStaff: staff,
				scenario.AsAdmin: admin,
			})

			out := cmd.OutOrStdout()
			failed := 0
			for _, s := range scenarios {
				ctx, cancel := g.context(cmd)
				res, err := runner.Run(ctx, s)
				cancel()
				if err != nil {
					fmt.Fprintf(out, "FAIL %s: %v\n", s.Name, err)
					failed++
					continue
				}
				for _, st := range res.Steps {
					if st.Passed {
						fmt.Fprintf(out, "  PASS %s (%s)\n", st.Name, st.Duration.Round(time.Millisecond))
					} else {
						fmt.Fprintf(out, "  FAIL %s: %s\n", st.Name, st.Error)
					}
				}
				status := "PASS"
				if !res.Passed {
					status = "FAIL"
					failed++
				}
				fmt.Fprintf(out, "%s %s (%d steps, %s)\n", status, res.ScenarioName, len(res.Steps), res.Duration.Round(time.Millisecond))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(scenarios))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&staffToken, "staff-token", "", "token for staff steps (default: minted from the config secret)")
	return cmd
}
