package report

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/yourorg/loadcore/internal/stats"
	"github.com/yourorg/loadcore/pkg/types"
)

var (
	//go:embed report.html.tmpl
	reportHTML     string
	reportTemplate = template.Must(template.New("report").Parse(reportHTML))
)

// Logo files copied next to the HTML report.
var logoFiles = []string{"keysightlogo.png", "loadcorelogo.PNG"}

const (
	folderTimeLayout = "20060102_150405"
	headerTimeLayout = "2006-01-02 15:04:05"
)

// FolderName returns LoadCore_<name>_<YYYYmmdd_HHMMSS>.
func FolderName(name string, start time.Time) string {
	return fmt.Sprintf("LoadCore_%s_%s", name, start.Format(folderTimeLayout))
}

// RunFolder returns the timestamped result folder of a run.
func RunFolder(resultDir, name string, start time.Time) string {
	return filepath.Join(resultDir, FolderName(name, start))
}

// HTMLReport is the content of the HTML report.
type HTMLReport struct {
	Name      string
	Owner     string
	Start     time.Time
	End       time.Time
	Tables    []stats.Table
	Summaries []types.StatSummary
	// LogoDir holds keysightlogo.png and loadcorelogo.PNG. Empty skips logos.
	LogoDir   string
	ResultDir string
}

// WriteHTML renders r into its run folder and returns the file path.
func WriteHTML(r HTMLReport) (string, error) {
	folder := RunFolder(r.ResultDir, r.Name, r.Start)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", err
	}

	buf := &bytes.Buffer{}
	err := reportTemplate.Execute(buf, map[string]any{
		"Name":      r.Name,
		"Owner":     r.Owner,
		"Start":     r.Start.Format(headerTimeLayout),
		"End":       r.End.Format(headerTimeLayout),
		"Tables":    r.Tables,
		"Summaries": r.Summaries,
		"Logos":     r.LogoDir != "",
	})
	if err != nil {
		return "", fmt.Errorf("render html report: %w", err)
	}

	path := filepath.Join(folder, FolderName(r.Name, r.Start)+".html")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", err
	}
	if r.LogoDir != "" {
		for _, logo := range logoFiles {
			if err := copyFile(filepath.Join(r.LogoDir, logo), filepath.Join(folder, logo)); err != nil {
				return path, fmt.Errorf("copy logo: %w", err)
			}
		}
	}
	return path, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
