package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yourorg/loadcore/internal/artifacts"
	"github.com/yourorg/loadcore/internal/config"
	"github.com/yourorg/loadcore/internal/fakeloadcore"
	"github.com/yourorg/loadcore/internal/logging"
	"github.com/yourorg/loadcore/internal/metrics"
	"github.com/yourorg/loadcore/internal/runner"
	"github.com/yourorg/loadcore/internal/server"
	"github.com/yourorg/loadcore/internal/store"
)

const defaultConfigContent = `middleware:
  host: ""
  port: 443
  protocol: "https"
  auth_token: ""
  license_server: ""
  http2: false
  insecure_skip_verify: true

polling:
  operation_interval: 2s
  operation_attempts: 40
  session_interval: 5s
  artifact_interval: 5s
  artifact_attempts: 40
  transient_errors: "fail"

run:
  config_path: ""
  session_type: "fullCore"
  sustain_time: 10
  delete_session: true
  remap: false
  nodes:
    ran: ""
    amf: ""
  capture:
    agent: ""
    interface: "ens160"
  stats:
    - name: RegisteredUEs
      summary: max
    - name: NGRANRegistrationprocedure
      summary: avg_non_zero
    - name: PDUSessionEstablishment
      summary: max
    - name: NGRANRegistration
      summary: max
  start_timeout: 300s
  duration_multiplier: 2

output:
  results_dir: "./results"
  logo_dir: ""
  formats:
    - html
    - xlsx
    - md
    - pdf
    - csv
    - captures
  ledger: "./results/loadcore.db"
  metrics_file: ""

artifacts:
  s3:
    enabled: false
    endpoint: ""
    bucket: "loadcore-results"
    prefix: ""
    use_ssl: true

sanitize:
  headers:
    - Authorization
    - Cookie
    - Set-Cookie
    - X-Api-Key
    - X-Auth-Token
  body_fields:
    - password
    - secret
    - token
    - authToken
  replacement: "***REDACTED***"

server:
  host: "127.0.0.1"
  port: 3000

log:
  level: "info"
  file: "loadcore-debug.log"
`

var (
	pass = color.New(color.FgGreen, color.Bold).SprintFunc()
	fail = color.New(color.FgRed, color.Bold).SprintFunc()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, fail("error:"), err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "loadcore",
		Short:         "LoadCore middleware client and test run orchestrator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	root.AddCommand(newInitCmd())
	root.AddCommand(newRunCmd(&cfgPath))
	root.AddCommand(newSessionsCmd(&cfgPath))
	root.AddCommand(newAgentsCmd(&cfgPath))
	root.AddCommand(newCaptureCmd(&cfgPath))
	root.AddCommand(newStatsCmd(&cfgPath))
	root.AddCommand(newRunsCmd(&cfgPath))
	root.AddCommand(newServeCmd(&cfgPath))
	root.AddCommand(newFakeServerCmd())

	return root
}

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize ~/.loadcore directory and default config",
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return err
			}
			baseDir := filepath.Join(home, ".loadcore")
			if err := os.MkdirAll(baseDir, 0o755); err != nil {
				return err
			}

			cfgFile := filepath.Join(baseDir, "config.yaml")
			if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(cfgFile, []byte(defaultConfigContent), 0o600); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created", cfgFile)
			} else if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "exists", cfgFile)
			} else {
				return err
			}

			dbPath := filepath.Join(baseDir, "loadcore.db")
			s, err := store.NewSQLiteStore(dbPath)
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "database ready", dbPath)
			fmt.Fprintln(cmd.OutOrStdout(), "please update middleware.host and middleware.auth_token in", cfgFile)
			return nil
		},
	}
}

func newRunCmd(cfgPath *string) *cobra.Command {
	var configFile, agentURL string
	var keepSession bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a test end to end and collect its results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if configFile != "" {
				cfg.Run.ConfigPath = configFile
			}
			if keepSession {
				cfg.Run.DeleteSession = false
			}

			log, err := logging.New(cfg.Log)
			if err != nil {
				return err
			}
			defer log.Close()

			st, err := openLedger(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			uploader, err := artifacts.New(cfg.Artifacts.S3, log)
			if err != nil {
				return err
			}

			r, err := runner.New(cfg, runner.Options{
				Logger:       log,
				Store:        st,
				Metrics:      metrics.New(),
				Uploader:     uploader,
				AgentBaseURL: agentURL,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, runErr := r.Run(ctx)
			if res != nil {
				printResult(cmd, res)
			}
			return runErr
		},
	}
	cmd.Flags().StringVar(&configFile, "config-file", "", "LoadCore config JSON to upload (overrides run.config_path)")
	cmd.Flags().StringVar(&agentURL, "agent-url", "", "capture agent base URL (default http://<run.capture.agent>)")
	cmd.Flags().BoolVar(&keepSession, "keep-session", false, "do not delete the session at the end")
	return cmd
}

func printResult(cmd *cobra.Command, res *runner.Result) {
	out := cmd.OutOrStdout()
	verdict := pass("PASS")
	if res.Run.Error != "" {
		verdict = fail("FAIL")
	}
	fmt.Fprintf(out, "%s run %s session %s test %s\n", verdict, res.Run.ID, res.Run.SessionID, res.Run.TestID)
	for _, s := range res.Summaries {
		fmt.Fprintf(out, "  %-30s %-20s %-12s %g\n", s.View, s.Column, s.Summary, s.Value)
	}
	for _, a := range res.Artifacts {
		fmt.Fprintf(out, "  %-9s %s\n", a.Kind, a.Path)
	}
	if res.Folder != "" {
		fmt.Fprintln(out, "results in", res.Folder)
	}
}

func newServeCmd(cfgPath *string) *cobra.Command {
	var host string
	var port int
	cmd := &cobra.Command{Use: "serve", Short: "Browse recorded runs and their results", RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(*cfgPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = host
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = port
		}
		st, err := openLedger(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		srv, err := server.New(cfg, st, metrics.New())
		if err != nil {
			return err
		}
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		fmt.Fprintln(cmd.OutOrStdout(), "listening on", "http://"+addr)
		return srv.ListenAndServe(addr)
	}}
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "server host")
	cmd.Flags().IntVar(&port, "port", 3000, "server port")
	return cmd
}

func newFakeServerCmd() *cobra.Command {
	var addr, agentAddr, token string
	var polls int
	cmd := &cobra.Command{
		Use:   "fake-server",
		Short: "Serve an in-memory LoadCore middleware and capture agent for dry runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			mw := fakeloadcore.New(fakeloadcore.Options{Token: token, OperationPolls: polls})
			errc := make(chan error, 2)
			go func() { errc <- http.ListenAndServe(addr, mw) }()
			if agentAddr != "" {
				go func() { errc <- http.ListenAndServe(agentAddr, fakeloadcore.NewAgent()) }()
				fmt.Fprintln(cmd.OutOrStdout(), "agent listening on", "http://"+agentAddr)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "middleware listening on", "http://"+addr)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			select {
			case err := <-errc:
				return err
			case <-ctx.Done():
				return nil
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8443", "middleware listen address")
	cmd.Flags().StringVar(&agentAddr, "agent-addr", "127.0.0.1:8080", "agent listen address, empty disables it")
	cmd.Flags().StringVar(&token, "token", "", "required authorization header value")
	cmd.Flags().IntVar(&polls, "operation-polls", 2, "IN_PROGRESS answers before an operation finishes")
	return cmd
}

func openLedger(cfg *config.Config) (*store.SQLiteStore, error) {
	if dir := filepath.Dir(cfg.Output.Ledger); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return store.NewSQLiteStore(cfg.Output.Ledger)
}
