package store

import "github.com/yourorg/loadcore/pkg/types"

// Store is the local ledger of orchestrated runs.
type Store interface {
	CreateRun(configName string) (*types.Run, error)
	GetRun(id string) (*types.Run, error)
	UpdateRun(run *types.Run) error
	ListRuns(opts ...ListOption) ([]types.Run, error)
	DeleteRun(id string) error

	SaveTraffic(runID string, logs []types.TrafficLog) error
	GetTraffic(runID string) ([]types.TrafficLog, error)

	SaveArtifact(a *types.Artifact) error
	GetArtifacts(runID string) ([]types.Artifact, error)

	SaveStatSummaries(runID string, summaries []types.StatSummary) error
	GetStatSummaries(runID string) ([]types.StatSummary, error)

	Close() error
}
