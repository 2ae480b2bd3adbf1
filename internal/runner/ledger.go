package runner

import (
	"sync"

	"github.com/yourorg/loadcore/pkg/types"
)

// ledger collects the traffic of one run in call order. It is shared by the
// middleware and agent transports.
type ledger struct {
	mu    sync.Mutex
	runID string
	seq   int
	logs  []types.TrafficLog
}

func newLedger(runID string) *ledger {
	return &ledger{runID: runID}
}

func (l *ledger) Record(t types.TrafficLog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	t.Seq = l.seq
	t.RunID = l.runID
	l.logs = append(l.logs, t)
}

// Logs returns a copy of everything recorded so far.
func (l *ledger) Logs() []types.TrafficLog {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.TrafficLog(nil), l.logs...)
}
