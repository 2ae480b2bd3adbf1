package runner_test

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/yourorg/loadcore/internal/config"
	"github.com/yourorg/loadcore/internal/fakeloadcore"
	"github.com/yourorg/loadcore/internal/loadcore"
	"github.com/yourorg/loadcore/internal/metrics"
	"github.com/yourorg/loadcore/internal/runner"
	"github.com/yourorg/loadcore/internal/store"
	"github.com/yourorg/loadcore/pkg/types"
)

const remapConfig = `{
  // saved from the LoadCore UI
  "name": "fullcore",
  "configData": {"Config": {"nodes": {
    "ran": {"settings": {"enable": true, "mappedAgents": [{"agentId": "old",
      "interfaceMappings": [{"agentInterface": "ens192", "agentInterfaceMac": "aa"}]}]}},
    "amf": {"settings": {"enable": true, "mappedAgents": [{"agentId": "old",
      "interfaceMappings": [{"agentInterface": "none", "agentInterfaceMac": ""}]}]}}
  }}}
}`

type recordingUploader struct {
	mu    sync.Mutex
	paths []string
}

func (u *recordingUploader) Upload(_ context.Context, runID, localPath string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, localPath)
	return "s3://results/" + runID + "/" + filepath.Base(localPath), nil
}

func testConfig(mwURL, resultsDir string) *config.Config {
	cfg := &config.Config{}
	Expect(cfg.ApplyDefaults()).To(Succeed())

	u, err := url.Parse(mwURL)
	Expect(err).NotTo(HaveOccurred())
	port, err := strconv.Atoi(u.Port())
	Expect(err).NotTo(HaveOccurred())

	cfg.Middleware.Host = u.Hostname()
	cfg.Middleware.Port = port
	cfg.Middleware.Protocol = "http"
	cfg.Middleware.AuthToken = "tok"
	cfg.Polling.OperationInterval = time.Millisecond
	cfg.Polling.SessionInterval = time.Millisecond
	cfg.Polling.ArtifactInterval = time.Millisecond
	cfg.Run.Capture.Agent = "10.0.0.12"
	cfg.Run.SustainTime = 30
	cfg.Output.ResultsDir = resultsDir
	cfg.Output.Formats = []string{"html", "xlsx", "md", "pdf", "csv", "captures", "har"}
	cfg.Output.MetricsFile = filepath.Join(resultsDir, "loadcore.prom")
	cfg.Log.File = ""
	return cfg
}

func kinds(as []types.Artifact) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.Kind)
	}
	return out
}

func findSummary(ss []types.StatSummary, view, column string) (types.StatSummary, bool) {
	for _, s := range ss {
		if s.View == view && s.Column == column {
			return s, true
		}
	}
	return types.StatSummary{}, false
}

var _ = Describe("Runner", func() {
	var (
		fake      *fakeloadcore.Server
		capture   *fakeloadcore.AgentServer
		st        *store.SQLiteStore
		cfg       *config.Config
		uploader  *recordingUploader
		m         *metrics.Metrics
		resultDir string
		agentURL  string
	)

	start := func(opts fakeloadcore.Options) {
		opts.Token = "tok"
		fake = fakeloadcore.New(opts)
		mw := httptest.NewServer(fake)
		DeferCleanup(mw.Close)

		capture = fakeloadcore.NewAgent()
		agentSrv := httptest.NewServer(capture)
		DeferCleanup(agentSrv.Close)
		agentURL = agentSrv.URL

		cfg = testConfig(mw.URL, resultDir)
	}

	newRunner := func() *runner.Runner {
		r, err := runner.New(cfg, runner.Options{
			Store:        st,
			Metrics:      m,
			Uploader:     uploader,
			AgentBaseURL: agentURL,
		})
		Expect(err).NotTo(HaveOccurred())
		return r
	}

	BeforeEach(func() {
		dir := GinkgoT().TempDir()
		resultDir = filepath.Join(dir, "results")

		var err error
		st, err = store.NewSQLiteStore(filepath.Join(dir, "ledger.db"))
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(st.Close)

		uploader = &recordingUploader{}
		m = metrics.New()
	})

	Describe("a default session run", func() {
		BeforeEach(func() {
			start(fakeloadcore.Options{OperationPolls: 1})
		})

		It("runs the test and collects every result", func() {
			res, err := newRunner().Run(context.Background())
			Expect(err).NotTo(HaveOccurred())

			Expect(res.Run.Status).To(Equal(types.RunStatusPassed))
			Expect(res.Run.SessionID).To(HavePrefix("wireless-"))
			Expect(res.Run.TestID).NotTo(BeEmpty())
			Expect(res.Folder).To(HavePrefix(filepath.Join(resultDir, "LoadCore_default_")))

			Expect(fake.SustainTime(res.Run.SessionID)).To(Equal(30))
			Expect(capture.Filter()).To(Equal("-i ens160"))
			Expect(capture.Starts()).To(Equal(1))

			Expect(kinds(res.Artifacts)).To(ConsistOf(
				types.ArtifactHTML, types.ArtifactWorkbook, types.ArtifactPDF,
				types.ArtifactCSV, types.ArtifactCaptures, types.ArtifactHAR,
			))
			for _, a := range res.Artifacts {
				Expect(a.Path).To(BeAnExistingFile())
				Expect(a.RemoteURL).To(Equal("s3://results/" + res.Run.ID + "/" + filepath.Base(a.Path)))
			}
			Expect(uploader.paths).To(HaveLen(len(res.Artifacts)))
			Expect(filepath.Join(res.Folder, "summary.md")).To(BeAnExistingFile())
		})

		It("summarises every configured view", func() {
			res, err := newRunner().Run(context.Background())
			Expect(err).NotTo(HaveOccurred())

			registered, ok := findSummary(res.Summaries, "RegisteredUEs", "Registered")
			Expect(ok).To(BeTrue())
			Expect(registered.Summary).To(Equal("max"))
			Expect(registered.Value).To(Equal(100.0))

			rate, ok := findSummary(res.Summaries, "NGRANRegistrationprocedure", "Initiated Rate")
			Expect(ok).To(BeTrue())
			Expect(rate.Summary).To(Equal("avg_non_zero"))
			Expect(rate.Value).To(Equal(25.0))

			stored, err := st.GetStatSummaries(res.Run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored).To(HaveLen(len(res.Summaries)))
		})

		It("reads each view once for both summaries and report tables", func() {
			_, err := newRunner().Run(context.Background())
			Expect(err).NotTo(HaveOccurred())

			reads := 0
			for _, call := range fake.Calls() {
				if strings.HasPrefix(call, "GET /api/v2/results/") && strings.Contains(call, "/stats/") {
					reads++
				}
			}
			Expect(reads).To(Equal(len(cfg.Run.Stats)))
		})

		It("records the run, its traffic and metrics", func() {
			res, err := newRunner().Run(context.Background())
			Expect(err).NotTo(HaveOccurred())

			run, err := st.GetRun(res.Run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Status).To(Equal(types.RunStatusPassed))
			Expect(run.TestID).To(Equal(res.Run.TestID))
			Expect(run.StartedAt.IsZero()).To(BeFalse())

			traffic, err := st.GetTraffic(res.Run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(traffic).NotTo(BeEmpty())
			paths := make([]string, 0, len(traffic))
			for i, l := range traffic {
				Expect(l.Seq).To(Equal(i + 1))
				paths = append(paths, l.Path)
			}
			Expect(paths).To(ContainElement("/api/v1/capture/start"))
			Expect(paths).To(ContainElement("/api/v2/sessions"))

			artifacts, err := st.GetArtifacts(res.Run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(artifacts).To(HaveLen(6))

			data, err := os.ReadFile(cfg.Output.MetricsFile)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`loadcore_runs_total{status="passed"} 1`))
		})

		It("deletes the session when done", func() {
			_, err := newRunner().Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.SessionIDs()).To(BeEmpty())
		})

		It("keeps the session when asked to", func() {
			cfg.Run.DeleteSession = false
			res, err := newRunner().Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(fake.SessionIDs()).To(ConsistOf(res.Run.SessionID))
		})
	})

	Describe("a saved config with remapped nodes", func() {
		BeforeEach(func() {
			start(fakeloadcore.Options{})
			path := filepath.Join(GinkgoT().TempDir(), "fullcore.json")
			Expect(os.WriteFile(path, []byte(remapConfig), 0o644)).To(Succeed())
			cfg.Run.ConfigPath = path
			cfg.Run.Remap = true
			cfg.Run.Nodes = map[string]string{"ran": "10.0.0.11", "amf": "10.0.0.12"}
			cfg.Output.Formats = []string{"md"}
		})

		It("uploads the config with nodes moved onto their agents", func() {
			res, err := newRunner().Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Run.ConfigName).To(Equal("fullcore"))

			uploaded, ok := fake.Config("config-1")
			Expect(ok).To(BeTrue())
			nodes := uploaded["configData"].(map[string]any)["Config"].(map[string]any)["nodes"].(map[string]any)
			agentOf := func(node string) map[string]any {
				settings := nodes[node].(map[string]any)["settings"].(map[string]any)
				return settings["mappedAgents"].([]any)[0].(map[string]any)
			}

			ran := agentOf("ran")
			Expect(ran["agentId"]).To(Equal("agent-ran"))
			iface := ran["interfaceMappings"].([]any)[0].(map[string]any)
			Expect(iface["agentInterface"]).To(Equal("ens160"))

			amf := agentOf("amf")
			Expect(amf["agentId"]).To(Equal("agent-core"))
			none := amf["interfaceMappings"].([]any)[0].(map[string]any)
			Expect(none["agentInterface"]).To(Equal("none"))
		})

		It("fails when a node's agent is unknown", func() {
			cfg.Run.Nodes["ran"] = "192.0.2.1"
			res, err := newRunner().Run(context.Background())
			Expect(errors.Is(err, loadcore.ErrAgentNotFound)).To(BeTrue())
			Expect(res.Run.Status).To(Equal(types.RunStatusFailed))
			Expect(res.Run.SessionID).To(BeEmpty())
		})
	})

	Describe("a test that outlives its duration", func() {
		BeforeEach(func() {
			start(fakeloadcore.Options{RunPolls: 1000, TestDuration: 0.05})
			cfg.Run.DurationMultiplier = 1
			cfg.Output.Formats = nil
		})

		It("is stopped explicitly", func() {
			res, err := newRunner().Run(context.Background())
			Expect(err).NotTo(HaveOccurred())
			Expect(res.Run.Status).To(Equal(types.RunStatusPassed))
			Expect(fake.Calls()).To(ContainElement(ContainSubstring("/test-run/operations/stop")))
		})
	})

	Describe("failures", func() {
		It("marks a failed test and cleans up its session", func() {
			start(fakeloadcore.Options{FailTest: true})
			res, err := newRunner().Run(context.Background())
			Expect(errors.Is(err, loadcore.ErrTestFailed)).To(BeTrue())

			Expect(res.Run.Status).To(Equal(types.RunStatusFailed))
			Expect(res.Run.Error).NotTo(BeEmpty())
			Expect(fake.SessionIDs()).To(BeEmpty())
			Expect(capture.Starts()).To(BeZero())

			run, err := st.GetRun(res.Run.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Status).To(Equal(types.RunStatusFailed))
		})

		It("keeps the session of a failed test when asked to", func() {
			start(fakeloadcore.Options{FailTest: true})
			cfg.Run.DeleteSession = false
			res, err := newRunner().Run(context.Background())
			Expect(errors.Is(err, loadcore.ErrTestFailed)).To(BeTrue())
			Expect(res.Run.Status).To(Equal(types.RunStatusFailed))
			Expect(fake.SessionIDs()).To(ConsistOf(res.Run.SessionID))
		})

		It("returns the platform message of a failed download", func() {
			start(fakeloadcore.Options{FailOperations: map[string]string{"generate-pdf": "disk full"}})
			res, err := newRunner().Run(context.Background())

			var opErr *loadcore.OperationError
			Expect(errors.As(err, &opErr)).To(BeTrue())
			Expect(opErr.Message).To(Equal("disk full"))
			Expect(kinds(res.Artifacts)).To(ContainElements(types.ArtifactHTML, types.ArtifactWorkbook))
			Expect(kinds(res.Artifacts)).NotTo(ContainElement(types.ArtifactPDF))
			Expect(fake.SessionIDs()).To(BeEmpty())

			data, err := os.ReadFile(cfg.Output.MetricsFile)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring(`loadcore_runs_total{status="failed"} 1`))
		})

		It("rejects an invalid run config", func() {
			start(fakeloadcore.Options{})
			cfg.Run.Remap = true
			_, err := runner.New(cfg, runner.Options{Store: st})
			Expect(err).To(MatchError(ContainSubstring("run.remap")))
		})
	})
})
