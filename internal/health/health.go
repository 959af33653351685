// Package health implements the status-reporting and graceful-shutdown
// supplement (spec.md §9 supplement), adapted from the teacher's
// shutdown-marker pattern in mive/backend.go (there backed by the chain
// database; here backed by the same persistent.Store the rest of the
// sidecar already opens, so a prior unclean shutdown is visible without a
// second on-disk file).
package health

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/wavesplatform/ride-evaluator/internal/chain"
	"github.com/wavesplatform/ride-evaluator/internal/orchestrator"
	"github.com/wavesplatform/ride-evaluator/internal/persistent"
)

var shutdownMarkerKey = []byte("health/shutdown-marker")

// StateReporter is what /status needs from the orchestrator.
type StateReporter interface {
	State() orchestrator.State
}

// Status is the /status endpoint's JSON body.
type Status struct {
	State         string `json:"state"`
	Height        uint64 `json:"height"`
	UncleanPrior  bool   `json:"uncleanPriorShutdown"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// Tracker reports orchestrator state/height for /status and marks
// startup/clean-shutdown on the persistent store, mirroring
// shutdowncheck.ShutdownTracker's MarkStartup/Start/Stop lifecycle.
type Tracker struct {
	mu sync.Mutex

	store        *persistent.Store
	orchestrator StateReporter
	data         *chain.SharedBlockchainData

	startedAt    time.Time
	uncleanPrior bool

	stopMarking chan struct{}
}

// NewTracker records whether the previous run shut down without calling
// Stop, then marks this run as started.
func NewTracker(store *persistent.Store, orch StateReporter, data *chain.SharedBlockchainData) *Tracker {
	t := &Tracker{store: store, orchestrator: orch, data: data}
	t.uncleanPrior = t.readMarker()
	t.markRunning()
	return t
}

func (t *Tracker) readMarker() bool {
	v, ok, err := t.store.GetBytes(shutdownMarkerKey)
	if err != nil {
		log.Warn("Could not read shutdown marker", "err", err)
		return false
	}
	return ok && len(v) == 1 && v[0] == 1
}

func (t *Tracker) markRunning() {
	if t.startedAt.IsZero() {
		t.startedAt = time.Now()
	}
	if err := t.store.PutBytes(shutdownMarkerKey, []byte{1}); err != nil {
		log.Warn("Could not write startup marker", "err", err)
	}
}

// Start begins periodically refreshing the running marker, the same
// "regularly update shutdown marker" idiom as the teacher's
// ShutdownTracker.Start, so a killed process (no Stop call) is detectable on
// the next run.
func (t *Tracker) Start() {
	t.stopMarking = make(chan struct{})
	go t.loop()
}

func (t *Tracker) loop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.markRunning()
		case <-t.stopMarking:
			return
		}
	}
}

// Stop clears the running marker, signaling a clean shutdown to the next run.
func (t *Tracker) Stop() error {
	if t.stopMarking != nil {
		close(t.stopMarking)
	}
	return t.store.PutBytes(shutdownMarkerKey, []byte{0})
}

// Status returns the current status snapshot for the /status endpoint.
func (t *Tracker) Status() Status {
	t.mu.Lock()
	started := t.startedAt
	unclean := t.uncleanPrior
	t.mu.Unlock()

	return Status{
		State:         t.orchestrator.State().String(),
		Height:        t.data.View().Height(),
		UncleanPrior:  unclean,
		UptimeSeconds: int64(time.Since(started).Seconds()),
	}
}
