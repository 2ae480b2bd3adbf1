package loadcore

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/yourorg/loadcore/internal/poll"
	"github.com/yourorg/loadcore/internal/report"
	"github.com/yourorg/loadcore/internal/stats"
	"github.com/yourorg/loadcore/pkg/types"
)

// StatView fetches a raw stat view. from, in Unix milliseconds, limits the
// snapshots when positive.
func (c *Client) StatView(ctx context.Context, testID, name string, from int64) (stats.View, error) {
	var query url.Values
	if from > 0 {
		query = url.Values{"from": {strconv.FormatInt(from, 10)}}
	}
	resp, err := c.tr.Get(ctx, c.ep.Stats(testID, name), query)
	if err != nil {
		return stats.View{}, err
	}
	var v stats.View
	if err := resp.ExpectJSON(&v, http.StatusOK); err != nil {
		return stats.View{}, err
	}
	return v, nil
}

// AllStats extracts a stat view as time series or totals. Any failure is
// logged as a warning and returned wrapped in ErrNoStats.
func (c *Client) AllStats(ctx context.Context, testID, name string) (stats.Result, error) {
	v, err := c.StatView(ctx, testID, name, 0)
	if err == nil {
		var res stats.Result
		res, err = stats.Extract(name, v)
		if err == nil {
			return res, nil
		}
	}
	c.log.Warnw("no stats available, test didn't run as expected", "view", name, "error", err)
	return stats.Result{}, fmt.Errorf("%w for %s: %w", ErrNoStats, name, err)
}

// ArtifactRequest names the result folder a download lands in.
type ArtifactRequest struct {
	// TestID defaults to the active session's test.
	TestID    string
	Name      string
	Start     time.Time
	ResultDir string
}

// Result operations.
const (
	OpGeneratePDF   = "generate-pdf"
	OpGenerateCSV   = "generate-csv"
	OpExportResults = "export-results"
)

// PDFReport generates and downloads the PDF report of a test.
func (c *Client) PDFReport(ctx context.Context, req ArtifactRequest) (string, error) {
	return c.downloadArtifact(ctx, OpGeneratePDF, req)
}

// CSVs generates and downloads the CSV archive of a test.
func (c *Client) CSVs(ctx context.Context, req ArtifactRequest) (string, error) {
	return c.downloadArtifact(ctx, OpGenerateCSV, req)
}

// CapturedLogs exports and downloads the captures and logs archive of a test.
func (c *Client) CapturedLogs(ctx context.Context, req ArtifactRequest) (string, error) {
	return c.downloadArtifact(ctx, OpExportResults, req)
}

func (c *Client) downloadArtifact(ctx context.Context, op string, req ArtifactRequest) (string, error) {
	testID := req.TestID
	if testID == "" {
		var err error
		if testID, err = c.TestID(ctx); err != nil {
			return "", err
		}
	}
	if req.ResultDir == "" {
		return "", fmt.Errorf("%s: result folder is required", op)
	}

	resp, err := c.tr.Post(ctx, c.ep.ResultOperation(testID, op), nil)
	if err != nil {
		return "", err
	}
	var ack types.Operation
	if err := resp.ExpectJSON(&ack, http.StatusAccepted); err != nil {
		return "", err
	}

	policy := c.opts.Transient
	if policy == TransientAcknowledge {
		policy = TransientFail
	}
	done, attempts, err := poll.Until(ctx, poll.Options{
		Interval: c.opts.ArtifactInterval,
		MaxTries: c.opts.ArtifactAttempts,
	}, c.operationCheck(op, c.ep.ResultOperationStatus(testID, op, ack.ID.String()), policy))
	switch {
	case err == nil:
		c.opts.Metrics.ObservePoll(op, "success", attempts)
	case errors.Is(err, poll.ErrExhausted):
		c.opts.Metrics.ObservePoll(op, "timeout", attempts)
		return "", c.log.Report(fmt.Errorf("%w: %s did not finish, try increasing the wait time: %w", ErrPollTimeout, op, err))
	default:
		c.opts.Metrics.ObservePoll(op, "error", attempts)
		return "", c.log.Report(err)
	}
	if done.ResultURL == "" {
		return "", c.log.Report(fmt.Errorf("%s: operation succeeded without resultUrl", op))
	}

	download, err := c.tr.GetURL(ctx, done.ResultURL)
	if err != nil {
		return "", err
	}
	if err := download.Expect(http.StatusOK); err != nil {
		return "", err
	}

	folder := report.RunFolder(req.ResultDir, req.Name, req.Start)
	if err := poll.EnsureDir(folder); err != nil {
		return "", err
	}
	name := AttachmentName(download.Header.Get("Content-Disposition"), fmt.Sprintf("%s-%s", op, testID))
	path := filepath.Join(folder, name)
	if err := os.WriteFile(path, download.Body, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	c.log.Infow("artifact downloaded", "operation", op, "file", path, "bytes", len(download.Body))
	return path, nil
}

// AttachmentName returns the filename of a Content-Disposition header, or
// fallback. Directory components are dropped.
func AttachmentName(header, fallback string) string {
	name := ""
	if _, params, err := mime.ParseMediaType(header); err == nil {
		name = params["filename"]
	}
	if name == "" {
		if i := strings.Index(header, "="); i >= 0 {
			name = strings.Trim(strings.TrimSpace(header[i+1:]), `"';`)
		}
	}
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == "/" || name == ".." {
		return fallback
	}
	return name
}
