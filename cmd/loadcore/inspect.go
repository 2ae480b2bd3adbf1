package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourorg/loadcore/internal/agent"
	"github.com/yourorg/loadcore/internal/config"
	"github.com/yourorg/loadcore/internal/filter"
	"github.com/yourorg/loadcore/internal/har"
	"github.com/yourorg/loadcore/internal/loadcore"
	"github.com/yourorg/loadcore/internal/logging"
	"github.com/yourorg/loadcore/internal/poll"
	"github.com/yourorg/loadcore/internal/report"
	"github.com/yourorg/loadcore/internal/stats"
	"github.com/yourorg/loadcore/internal/store"
	"github.com/yourorg/loadcore/internal/transport"
	"github.com/yourorg/loadcore/pkg/types"
)

// session bundles what a middleware command needs.
type session struct {
	cfg *config.Config
	log *logging.Logger
	mw  *loadcore.Client
}

func (s *session) Close() { _ = s.log.Close() }

func dial(cfgPath string) (*session, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}
	mw, err := loadcore.Connect(cfg, log, transport.Options{Sanitizer: filter.NewSanitizer(cfg.Sanitize)})
	if err != nil {
		_ = log.Close()
		return nil, err
	}
	return &session{cfg: cfg, log: log, mw: mw}, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func newSessionsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{Use: "sessions", Short: "Inspect and delete middleware sessions"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List session IDs",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial(*cfgPath)
			if err != nil {
				return err
			}
			defer s.Close()
			ids, err := s.mw.ListSessions(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <session-id>",
		Short: "Show a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial(*cfgPath)
			if err != nil {
				return err
			}
			defer s.Close()
			s.mw.UseSession(args[0])
			info, err := s.mw.SessionInfo(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), info)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the test status of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial(*cfgPath)
			if err != nil {
				return err
			}
			defer s.Close()
			s.mw.UseSession(args[0])
			test, err := s.mw.SessionTest(cmd.Context())
			if err != nil {
				return err
			}
			status := test.Status.String()
			if test.Status.Failed {
				status = fail("failed")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "status:   %s\ntest id:  %s\nduration: %gs\n", status, test.TestID, test.TestDuration)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pick <wildcard>",
		Short: "Print the first session whose ID contains wildcard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial(*cfgPath)
			if err != nil {
				return err
			}
			defer s.Close()
			id, err := s.mw.PickExistingSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})

	var setFile string
	configCmd := &cobra.Command{
		Use:   "config <session-id>",
		Short: "Print a session's config, or replace it with --set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial(*cfgPath)
			if err != nil {
				return err
			}
			defer s.Close()
			s.mw.UseSession(args[0])
			if setFile != "" {
				doc, err := s.mw.LoadConfig(setFile)
				if err != nil {
					return err
				}
				return s.mw.SetSessionConfig(cmd.Context(), doc)
			}
			doc, err := s.mw.SessionConfig(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
	configCmd.Flags().StringVar(&setFile, "set", "", "config JSON file to apply to the session")
	cmd.AddCommand(configCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "sustain <session-id> [seconds]",
		Short: "Print or set the sustain time of a session",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial(*cfgPath)
			if err != nil {
				return err
			}
			defer s.Close()
			s.mw.UseSession(args[0])
			if len(args) == 2 {
				seconds, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("sustain time: %w", err)
				}
				if err := s.mw.ConfigSustainTime(cmd.Context(), seconds); err != nil {
					return err
				}
			}
			seconds, err := s.mw.SustainTime(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%ds\n", seconds)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial(*cfgPath)
			if err != nil {
				return err
			}
			defer s.Close()
			s.mw.UseSession(args[0])
			if err := s.mw.DeleteSession(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), pass("deleted"), args[0])
			return nil
		},
	})
	return cmd
}

func newAgentsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{Use: "agents", Short: "Inspect registered agents"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List agents with their interfaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial(*cfgPath)
			if err != nil {
				return err
			}
			defer s.Close()
			agents, err := s.mw.AgentsInfo(cmd.Context())
			if err != nil {
				return err
			}
			for _, a := range agents {
				ifaces := make([]string, 0, len(a.Interfaces))
				for _, i := range a.Interfaces {
					ifaces = append(ifaces, i.Name+"="+i.Mac)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-24s %-15s %s\n", a.ID, a.IP, strings.Join(ifaces, " "))
			}
			return nil
		},
	})
	return cmd
}

func newCaptureCmd(cfgPath *string) *cobra.Command {
	var agentURL string
	cmd := &cobra.Command{Use: "capture", Short: "Control packet capture on an agent"}
	cmd.PersistentFlags().StringVar(&agentURL, "agent-url", "", "agent base URL (default http://<agent-ip>)")

	open := func(ip string) (*agent.Agent, *logging.Logger, error) {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return nil, nil, err
		}
		log, err := logging.New(cfg.Log)
		if err != nil {
			return nil, nil, err
		}
		a, err := agent.New(ip, transport.Options{
			BaseURL:   agentURL,
			Logger:    log,
			Sanitizer: filter.NewSanitizer(cfg.Sanitize),
		})
		if err != nil {
			_ = log.Close()
			return nil, nil, err
		}
		return a, log, nil
	}

	var iface string
	filterCmd := &cobra.Command{
		Use:   "filter <agent-ip>",
		Short: "Capture on one interface",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, log, err := open(args[0])
			if err != nil {
				return err
			}
			defer log.Close()
			return a.EnableFilter(cmd.Context(), iface)
		},
	}
	filterCmd.Flags().StringVar(&iface, "interface", "ens160", "interface to capture on")
	cmd.AddCommand(filterCmd)

	var wait time.Duration
	startCmd := &cobra.Command{
		Use:   "start <agent-ip>",
		Short: "Start capturing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, log, err := open(args[0])
			if err != nil {
				return err
			}
			defer log.Close()
			if err := a.StartCapture(cmd.Context()); err != nil {
				return err
			}
			if wait <= 0 {
				return nil
			}
			_, err = poll.WaitForState(cmd.Context(), poll.Options{Interval: time.Second, Timeout: wait}, a.CaptureStatus, types.CaptureRunning)
			return err
		},
	}
	startCmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for the capture to report running")
	cmd.AddCommand(startCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "stop <agent-ip>",
		Short: "Stop capturing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, log, err := open(args[0])
			if err != nil {
				return err
			}
			defer log.Close()
			return a.StopCapture(cmd.Context())
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status <agent-ip>",
		Short: "Show the capture filter and state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, log, err := open(args[0])
			if err != nil {
				return err
			}
			defer log.Close()
			f, err := a.Filter(cmd.Context())
			if err != nil {
				return err
			}
			state, err := a.CaptureStatus(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "filter: %q\nstate:  %s\n", f, state)
			return nil
		},
	})
	return cmd
}

func newStatsCmd(cfgPath *string) *cobra.Command {
	var views []string
	var summary string
	cmd := &cobra.Command{
		Use:   "stats <session-id>",
		Short: "Summarise stat views of a session's test",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := dial(*cfgPath)
			if err != nil {
				return err
			}
			defer s.Close()
			s.mw.UseSession(args[0])
			testID, err := s.mw.TestID(cmd.Context())
			if err != nil {
				return err
			}

			wanted := s.cfg.Run.Stats
			if len(views) > 0 {
				wanted = make([]config.StatViewConfig, 0, len(views))
				for _, v := range views {
					wanted = append(wanted, config.StatViewConfig{Name: v, Summary: summary})
				}
			}
			for _, v := range wanted {
				res, err := s.mw.AllStats(cmd.Context(), testID, v.Name)
				if err != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "%-30s %s\n", v.Name, fail("no stats"))
					continue
				}
				for _, col := range res.ColumnNames() {
					value, err := stats.Summarize(v.Summary, res.Series(col))
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%-30s %-24s %g\n", v.Name, col, value)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&views, "view", nil, "stat view to read (default run.stats)")
	cmd.Flags().StringVar(&summary, "summary", stats.SummaryMax, "max or avg_non_zero, used with --view")
	return cmd
}

func newRunsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{Use: "runs", Short: "Browse the local run ledger"}

	var status, configName string
	var limit uint64
	var since time.Duration
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			st, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			var opts []store.ListOption
			if status != "" {
				opts = append(opts, store.ByStatus(status))
			}
			if configName != "" {
				opts = append(opts, store.ByConfig(configName))
			}
			if since > 0 {
				opts = append(opts, store.Since(time.Now().Add(-since)))
			}
			if limit > 0 {
				opts = append(opts, store.WithLimit(limit))
			}
			runs, err := st.ListRuns(opts...)
			if err != nil {
				return err
			}
			for _, r := range runs {
				verdict := r.Status
				switch r.Status {
				case types.RunStatusPassed:
					verdict = pass(r.Status)
				case types.RunStatusFailed:
					verdict = fail(r.Status)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-8s %-24s %-20s %s\n",
					r.ID, verdict, r.ConfigName, r.SessionID, r.CreatedAt.Local().Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "only runs with this status")
	listCmd.Flags().StringVar(&configName, "config-name", "", "only runs of this config")
	listCmd.Flags().Uint64Var(&limit, "limit", 0, "maximum number of runs")
	listCmd.Flags().DurationVar(&since, "since", 0, "only runs created within this duration")
	cmd.AddCommand(listCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Print the markdown digest of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			st, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.GetRun(args[0])
			if err != nil {
				return err
			}
			summaries, err := st.GetStatSummaries(run.ID)
			if err != nil {
				return err
			}
			arts, err := st.GetArtifacts(run.ID)
			if err != nil {
				return err
			}
			traffic, err := st.GetTraffic(run.ID)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), report.RenderMarkdown(report.RunSummary{
				Run:       *run,
				Summaries: summaries,
				Artifacts: arts,
				Endpoints: filter.Summarize(traffic),
			}))
			return nil
		},
	})

	var output string
	exportCmd := &cobra.Command{
		Use:   "export-har <run-id>",
		Short: "Export the recorded REST traffic of a run as HAR",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			st, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			traffic, err := st.GetTraffic(args[0])
			if err != nil {
				return err
			}
			path := output
			if path == "" {
				path = args[0] + ".har"
			}
			if err := har.Write(path, traffic, cfg.Middleware.Protocol, "loadcore-cli"); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d entries to %s\n", len(traffic), path)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&output, "output", "o", "", "HAR file path (default <run-id>.har)")
	cmd.AddCommand(exportCmd)

	var importName string
	importCmd := &cobra.Command{
		Use:   "import-har <file>",
		Short: "Record a HAR capture as a new run for browsing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			traffic, err := har.Parse(args[0])
			if err != nil {
				return err
			}
			st, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			run, err := st.CreateRun(importName)
			if err != nil {
				return err
			}
			traffic = filter.Sanitize(traffic, cfg.Sanitize)
			for i := range traffic {
				traffic[i].RunID = run.ID
			}
			if err := st.SaveTraffic(run.ID, traffic); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d entries as %s\n", len(traffic), run.ID)
			return nil
		},
	}
	importCmd.Flags().StringVar(&importName, "name", "imported", "config name recorded for the run")
	cmd.AddCommand(importCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <run-id>",
		Short: "Delete a run and everything recorded for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			st, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			return st.DeleteRun(args[0])
		},
	})
	return cmd
}
