// Package runner drives one end-to-end LoadCore test run from configuration
// to downloaded results.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/yourorg/loadcore/internal/agent"
	"github.com/yourorg/loadcore/internal/artifacts"
	"github.com/yourorg/loadcore/internal/config"
	"github.com/yourorg/loadcore/internal/filter"
	"github.com/yourorg/loadcore/internal/har"
	"github.com/yourorg/loadcore/internal/loadcore"
	"github.com/yourorg/loadcore/internal/logging"
	"github.com/yourorg/loadcore/internal/metrics"
	"github.com/yourorg/loadcore/internal/poll"
	"github.com/yourorg/loadcore/internal/report"
	"github.com/yourorg/loadcore/internal/stats"
	"github.com/yourorg/loadcore/internal/store"
	"github.com/yourorg/loadcore/internal/transport"
	"github.com/yourorg/loadcore/pkg/types"
)

// ErrNotStarted is returned when the test does not reach STARTED in time.
var ErrNotStarted = errors.New("test did not start")

const (
	cleanupTimeout = 2 * time.Minute
	harCreator     = "loadcore-runner"
)

var now = time.Now

// Options wires the runner to its collaborators.
type Options struct {
	Logger   *logging.Logger
	Store    store.Store
	Metrics  *metrics.Metrics
	Uploader artifacts.Uploader
	// AgentBaseURL replaces http://<ip> for every agent. Used for local
	// fakes and tunnels.
	AgentBaseURL string
	// HTTPClient is shared by every transport when set.
	HTTPClient *http.Client
}

// Result is what a finished run produced.
type Result struct {
	Run       *types.Run
	Folder    string
	Summaries []types.StatSummary
	Artifacts []types.Artifact
}

// Runner executes the configured run. A Runner is used for a single Run call.
type Runner struct {
	cfg       *config.Config
	opts      Options
	log       *logging.Logger
	sanitizer *filter.Sanitizer
}

// New checks cfg and returns a Runner.
func New(cfg *config.Config, opts Options) (*Runner, error) {
	if cfg == nil {
		return nil, errors.New("runner: config is required")
	}
	if opts.Store == nil {
		return nil, errors.New("runner: store is required")
	}
	if err := cfg.ValidateRun(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Uploader == nil {
		opts.Uploader = artifacts.NoopUploader{}
	}
	return &Runner{
		cfg:       cfg,
		opts:      opts,
		log:       opts.Logger.Named("runner"),
		sanitizer: filter.NewSanitizer(cfg.Sanitize),
	}, nil
}

// state is the mutable progress of one run.
type state struct {
	run       *types.Run
	ledger    *ledger
	mw        *loadcore.Client
	capture   *agent.Agent
	testID    string
	start     time.Time
	end       time.Time
	folder    string
	summaries []types.StatSummary
	tables    []stats.Table
	artifacts []types.Artifact
}

// Run executes the whole flow. On failure the run is marked failed, the
// session is deleted when one was created, and the original error is
// returned together with the partial result.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	run, err := r.opts.Store.CreateRun(r.cfg.Run.Name())
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	s := &state{run: run, ledger: newLedger(run.ID)}
	r.log.Infow("run created", "run", run.ID, "config", run.ConfigName)

	runErr := r.execute(ctx, s)
	if runErr != nil {
		r.log.Errorw("run failed", "run", run.ID, "error", runErr)
		r.cleanup(ctx, s)
		s.run.Status = types.RunStatusFailed
		s.run.Error = runErr.Error()
	} else {
		s.run.Status = types.RunStatusPassed
	}
	if s.run.EndedAt.IsZero() {
		s.run.EndedAt = now()
	}

	r.finish(s)
	res := &Result{Run: s.run, Folder: s.folder, Summaries: s.summaries, Artifacts: s.artifacts}
	return res, runErr
}

func (r *Runner) execute(ctx context.Context, s *state) error {
	if err := r.connect(s); err != nil {
		return err
	}
	if _, err := s.mw.SetLicenseServer(ctx); err != nil {
		return fmt.Errorf("set license server: %w", err)
	}

	sel, err := r.selection(ctx, s)
	if err != nil {
		return err
	}

	if s.capture != nil {
		if err := s.capture.EnableFilter(ctx, r.cfg.Run.Capture.Interface); err != nil {
			return fmt.Errorf("enable capture filter: %w", err)
		}
	}

	sessionID, err := s.mw.NewSession(ctx, sel)
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	s.run.SessionID = sessionID
	s.run.Status = types.RunStatusRunning
	r.save(s)

	if r.cfg.Run.SustainTime > 0 {
		if err := s.mw.ConfigSustainTime(ctx, r.cfg.Run.SustainTime); err != nil {
			return fmt.Errorf("sustain time: %w", err)
		}
	}

	if _, err := s.mw.StartTest(ctx); err != nil {
		return fmt.Errorf("start test: %w", err)
	}
	s.start = now()
	s.run.StartedAt = s.start
	s.folder = report.RunFolder(r.cfg.Output.ResultsDir, r.cfg.Run.Name(), s.start)

	started, err := s.mw.CheckSessionState(ctx, types.TestStarted, r.cfg.Run.StartTimeout)
	if err != nil {
		return err
	}
	if !started {
		return fmt.Errorf("%w within %s", ErrNotStarted, r.cfg.Run.StartTimeout)
	}

	if s.capture != nil {
		if err := s.capture.StartCapture(ctx); err != nil {
			return fmt.Errorf("start capture: %w", err)
		}
	}

	if s.testID, err = s.mw.TestID(ctx); err != nil {
		return err
	}
	s.run.TestID = s.testID
	r.save(s)

	if err := r.waitStopped(ctx, s); err != nil {
		return err
	}

	if s.capture != nil {
		if err := s.capture.StopCapture(ctx); err != nil {
			return fmt.Errorf("stop capture: %w", err)
		}
	}
	s.end = now()
	s.run.EndedAt = s.end

	if err := r.collectStats(ctx, s); err != nil {
		return err
	}
	if err := r.writeReports(ctx, s); err != nil {
		return err
	}
	if err := r.downloadResults(ctx, s); err != nil {
		return err
	}

	if r.cfg.Run.DeleteSession {
		if err := s.mw.DeleteSession(ctx); err != nil {
			return fmt.Errorf("delete session: %w", err)
		}
		exists, err := s.mw.SessionExists(ctx, sessionID)
		if err != nil {
			return err
		}
		if exists {
			return fmt.Errorf("session %s still exists after delete", sessionID)
		}
	}
	return nil
}

// connect builds the middleware client and, when capture is configured,
// the capture agent. Both record into the run's ledger.
func (r *Runner) connect(s *state) error {
	var err error
	s.mw, err = loadcore.Connect(r.cfg, r.opts.Logger.Named("mw"), transport.Options{
		HTTPClient: r.opts.HTTPClient,
		Logger:     r.opts.Logger.Named("rest"),
		Recorder:   s.ledger,
		Metrics:    r.opts.Metrics,
		Sanitizer:  r.sanitizer,
	})
	if err != nil {
		return err
	}

	ip := r.cfg.Run.Capture.Agent
	if ip == "" {
		return nil
	}
	s.capture, err = agent.New(ip, transport.Options{
		BaseURL:    r.opts.AgentBaseURL,
		HTTPClient: r.opts.HTTPClient,
		Logger:     r.opts.Logger,
		Recorder:   s.ledger,
		Metrics:    r.opts.Metrics,
		Sanitizer:  r.sanitizer,
	})
	return err
}

// selection resolves the config the session starts from, remapping nodes
// onto agents when asked to.
func (r *Runner) selection(ctx context.Context, s *state) (loadcore.ConfigSelection, error) {
	rc := r.cfg.Run
	switch {
	case rc.ConfigID != "":
		return loadcore.ConfigSelection{ConfigID: rc.ConfigID, SessionType: rc.SessionType}, nil
	case rc.ConfigPath == "":
		return loadcore.ConfigSelection{SessionType: rc.SessionType}, nil
	}

	doc, err := s.mw.LoadConfig(rc.ConfigPath)
	if err != nil {
		return loadcore.ConfigSelection{}, err
	}
	if rc.Remap {
		mapping, err := r.nodeMapping(ctx, s)
		if err != nil {
			return loadcore.ConfigSelection{}, err
		}
		if doc, err = loadcore.RemapAgents(doc, mapping, rc.SBATopology); err != nil {
			return loadcore.ConfigSelection{}, fmt.Errorf("remap agents: %w", err)
		}
	}
	return loadcore.ConfigSelection{ConfigJSON: doc, SessionType: rc.SessionType}, nil
}

func (r *Runner) nodeMapping(ctx context.Context, s *state) (map[string]types.AgentMapping, error) {
	agents, err := s.mw.AgentsInfo(ctx)
	if err != nil {
		return nil, err
	}
	mapping := make(map[string]types.AgentMapping, len(r.cfg.Run.Nodes))
	for node, ip := range r.cfg.Run.Nodes {
		a, err := loadcore.FindAgent(agents, ip)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node, err)
		}
		m, err := loadcore.MappingFor(a)
		if err != nil {
			return nil, fmt.Errorf("node %s: %w", node, err)
		}
		mapping[node] = m
		r.log.Debugw("node mapped", "node", node, "agent", m.AgentID, "interface", m.Interface)
	}
	return mapping, nil
}

// waitStopped waits the test duration times the multiplier for the test to
// stop on its own, then stops it.
func (r *Runner) waitStopped(ctx context.Context, s *state) error {
	wait, err := s.mw.TestDuration(ctx, r.cfg.Run.DurationMultiplier)
	if err != nil {
		return err
	}
	stopped, err := s.mw.CheckSessionState(ctx, types.TestStopped, wait)
	if err != nil {
		return err
	}
	if stopped {
		return nil
	}
	r.log.Warnw("test still running after its duration, stopping it", "waited", wait)
	if _, err := s.mw.StopTest(ctx); err != nil {
		return fmt.Errorf("stop test: %w", err)
	}
	return nil
}

func (r *Runner) collectStats(ctx context.Context, s *state) error {
	wantTables := r.cfg.Output.Wants("html") || r.cfg.Output.Wants("xlsx")
	for _, view := range r.cfg.Run.Stats {
		summary := view.Summary
		if summary == "" {
			summary = stats.SummaryMax
		}
		raw, res, err := fetchStats(ctx, s.mw, s.testID, view.Name)
		if err != nil {
			// A missing view does not fail the run.
			r.log.Warnw("no stats available, test didn't run as expected", "view", view.Name, "error", err)
			continue
		}
		for _, col := range res.ColumnNames() {
			value, err := stats.Summarize(summary, res.Series(col))
			if err != nil {
				return err
			}
			s.summaries = append(s.summaries, types.StatSummary{
				RunID:   s.run.ID,
				View:    view.Name,
				Column:  col,
				Summary: summary,
				Value:   value,
			})
			r.opts.Metrics.SetStat(view.Name, col, summary, value)
			r.log.Infow("stat", "view", view.Name, "column", col, summary, value)
		}
		if !wantTables {
			continue
		}
		table, err := stats.NewTable(view.Name, raw, time.Local)
		if err != nil {
			return err
		}
		s.tables = append(s.tables, table)
	}
	if err := r.opts.Store.SaveStatSummaries(s.run.ID, s.summaries); err != nil {
		return fmt.Errorf("save stat summaries: %w", err)
	}
	return nil
}

// fetchStats reads a view once so its summaries and its report table agree.
func fetchStats(ctx context.Context, mw *loadcore.Client, testID, name string) (stats.View, stats.Result, error) {
	raw, err := mw.StatView(ctx, testID, name, 0)
	if err != nil {
		return stats.View{}, stats.Result{}, fmt.Errorf("%w for %s: %w", loadcore.ErrNoStats, name, err)
	}
	res, err := stats.Extract(name, raw)
	if err != nil {
		return raw, stats.Result{}, fmt.Errorf("%w for %s: %w", loadcore.ErrNoStats, name, err)
	}
	return raw, res, nil
}

func (r *Runner) writeReports(ctx context.Context, s *state) error {
	out := r.cfg.Output
	name := r.cfg.Run.Name()
	if out.Wants("html") {
		owner := ""
		if info, err := s.mw.SessionInfo(ctx); err != nil {
			r.log.Warnw("session owner unavailable", "error", err)
		} else {
			owner = info.OwnerID
		}
		path, err := report.WriteHTML(report.HTMLReport{
			Name:      name,
			Owner:     owner,
			Start:     s.start,
			End:       s.end,
			Tables:    s.tables,
			Summaries: s.summaries,
			LogoDir:   out.LogoDir,
			ResultDir: out.ResultsDir,
		})
		if err != nil {
			return fmt.Errorf("html report: %w", err)
		}
		r.addArtifact(ctx, s, types.ArtifactHTML, path)
	}
	if out.Wants("xlsx") {
		if err := poll.EnsureDir(s.folder); err != nil {
			return err
		}
		path := filepath.Join(s.folder, report.FolderName(name, s.start)+".xlsx")
		if err := report.WriteWorkbook(path, s.summaries, s.tables); err != nil {
			return err
		}
		r.addArtifact(ctx, s, types.ArtifactWorkbook, path)
	}
	return nil
}

func (r *Runner) downloadResults(ctx context.Context, s *state) error {
	req := loadcore.ArtifactRequest{
		TestID:    s.testID,
		Name:      r.cfg.Run.Name(),
		Start:     s.start,
		ResultDir: r.cfg.Output.ResultsDir,
	}
	downloads := []struct {
		format string
		kind   string
		fetch  func(context.Context, loadcore.ArtifactRequest) (string, error)
	}{
		{"pdf", types.ArtifactPDF, s.mw.PDFReport},
		{"csv", types.ArtifactCSV, s.mw.CSVs},
		{"captures", types.ArtifactCaptures, s.mw.CapturedLogs},
	}
	for _, d := range downloads {
		if !r.cfg.Output.Wants(d.format) {
			continue
		}
		path, err := d.fetch(ctx, req)
		if err != nil {
			return fmt.Errorf("%s: %w", d.format, err)
		}
		r.addArtifact(ctx, s, d.kind, path)
	}
	return nil
}

// addArtifact uploads path when an uploader is configured and records it.
// Upload failures are logged and leave the artifact local only.
func (r *Runner) addArtifact(ctx context.Context, s *state, kind, path string) {
	a := types.Artifact{RunID: s.run.ID, Kind: kind, Path: path, CreatedAt: now()}
	remote, err := r.opts.Uploader.Upload(ctx, s.run.ID, path)
	if err != nil {
		r.log.Warnw("artifact upload failed", "file", path, "error", err)
	}
	a.RemoteURL = remote
	if err := r.opts.Store.SaveArtifact(&a); err != nil {
		r.log.Warnw("artifact not recorded", "file", path, "error", err)
	}
	s.artifacts = append(s.artifacts, a)
}

// cleanup deletes the session of a failed run. It outlives ctx so that a
// cancelled run still releases middleware resources.
func (r *Runner) cleanup(ctx context.Context, s *state) {
	if s.mw == nil || s.mw.SessionID() == "" {
		return
	}
	if !r.cfg.Run.DeleteSession {
		r.log.Infow("keeping session of failed run", "session", s.mw.SessionID())
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.mw.DeleteSession(cctx); err != nil {
		r.log.Warnw("session cleanup failed", "session", s.mw.SessionID(), "error", err)
	}
}

// finish persists traffic, the digest files and the final run row.
func (r *Runner) finish(s *state) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	logs := s.ledger.Logs()
	if err := r.opts.Store.SaveTraffic(s.run.ID, logs); err != nil {
		r.log.Warnw("traffic not recorded", "run", s.run.ID, "error", err)
	}

	if s.folder != "" {
		if r.cfg.Output.Wants("har") {
			if err := poll.EnsureDir(s.folder); err == nil {
				path := filepath.Join(s.folder, report.FolderName(r.cfg.Run.Name(), s.start)+".har")
				if err := har.Write(path, logs, r.cfg.Middleware.Protocol, harCreator); err != nil {
					r.log.Warnw("har export failed", "error", err)
				} else {
					r.addArtifact(ctx, s, types.ArtifactHAR, path)
				}
			}
		}
		if r.cfg.Output.Wants("md") {
			path, err := report.WriteMarkdown(s.folder, report.RunSummary{
				Run:       *s.run,
				Summaries: s.summaries,
				Artifacts: s.artifacts,
				Endpoints: filter.Summarize(logs),
			})
			if err != nil {
				r.log.Warnw("markdown summary failed", "error", err)
			} else {
				r.log.Infow("summary written", "file", path)
			}
		}
	}

	r.save(s)
	r.opts.Metrics.ObserveRun(s.run.Status)
	if err := r.opts.Metrics.WriteTextfile(r.cfg.Output.MetricsFile); err != nil {
		r.log.Warnw("metrics textfile failed", "error", err)
	}
	r.log.Infow("run finished", "run", s.run.ID, "status", s.run.Status, "artifacts", len(s.artifacts))
}

func (r *Runner) save(s *state) {
	if err := r.opts.Store.UpdateRun(s.run); err != nil {
		r.log.Warnw("run not updated", "run", s.run.ID, "error", err)
	}
}
