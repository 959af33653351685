package orchestrator

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/wavesplatform/ride-evaluator/internal/chain"
	"github.com/wavesplatform/ride-evaluator/internal/events"
	"github.com/wavesplatform/ride-evaluator/internal/persistent"
	"github.com/wavesplatform/ride-evaluator/internal/remotedata"
)

type fakeDataAPI struct{}

func (fakeDataAPI) Height() (chain.Height, error) { return 0, nil }
func (fakeDataAPI) ActivatedFeatures(chain.Height) (map[int32]chain.Height, error) {
	return map[int32]chain.Height{}, nil
}
func (fakeDataAPI) AccountData(chain.Address, string) (remotedata.RemoteData[chain.DataEntry], error) {
	return remotedata.AbsentValue[chain.DataEntry](), nil
}
func (fakeDataAPI) AccountScript(chain.Address) (remotedata.RemoteData[chain.AccountScript], error) {
	return remotedata.AbsentValue[chain.AccountScript](), nil
}
func (fakeDataAPI) BlockHeader(chain.Height) (remotedata.RemoteData[chain.BlockHeaderRecord], error) {
	return remotedata.AbsentValue[chain.BlockHeaderRecord](), nil
}
func (fakeDataAPI) AssetDescription(chain.AssetID) (remotedata.RemoteData[chain.AssetDescription], error) {
	return remotedata.AbsentValue[chain.AssetDescription](), nil
}
func (fakeDataAPI) ResolveAlias(chain.Alias) (remotedata.RemoteData[chain.Address], error) {
	return remotedata.AbsentValue[chain.Address](), nil
}
func (fakeDataAPI) AccountBalance(chain.Address, chain.Asset) (remotedata.RemoteData[int64], error) {
	return remotedata.AbsentValue[int64](), nil
}
func (fakeDataAPI) AccountLeaseBalance(chain.Address) (remotedata.RemoteData[chain.LeaseBalance], error) {
	return remotedata.AbsentValue[chain.LeaseBalance](), nil
}
func (fakeDataAPI) Transaction(chain.TxID) (remotedata.RemoteData[chain.TransactionMeta], error) {
	return remotedata.AbsentValue[chain.TransactionMeta](), nil
}

func newTestProcessor(t *testing.T) *events.Processor {
	t.Helper()
	store, err := persistent.OpenMem()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	data := chain.New(store, fakeDataAPI{})
	return events.New(data, store)
}

type scriptedStream struct {
	events []events.BlockchainUpdated
	errs   []error // errs[i] returned instead of events[i] when non-nil
	pos    int
}

func (s *scriptedStream) Recv(ctx context.Context) (events.BlockchainUpdated, error) {
	if s.pos >= len(s.events) {
		return events.BlockchainUpdated{}, io.EOF
	}
	i := s.pos
	s.pos++
	if s.errs[i] != nil {
		return events.BlockchainUpdated{}, s.errs[i]
	}
	return s.events[i], nil
}

func appendEvent(h chain.Height) events.BlockchainUpdated {
	return events.BlockchainUpdated{Height: h, Kind: events.KindAppendBlock, Append: &events.Block{}}
}

type recordingScheduler struct {
	calls []bool // forceAll per call
}

func (s *recordingScheduler) RunScripts(ctx context.Context, forceAll bool, affected map[chain.Tag]struct{}) error {
	s.calls = append(s.calls, forceAll)
	return nil
}

func TestStartingTransitionsToWorkingAtWorkingHeight(t *testing.T) {
	p := newTestProcessor(t)
	sched := &recordingScheduler{}
	stream := &scriptedStream{
		events: []events.BlockchainUpdated{appendEvent(1), appendEvent(2), appendEvent(3)},
		errs:   []error{nil, nil, nil},
	}
	o := New(p, sched, stream, 2)

	if err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if o.State() != StateWorking {
		t.Fatalf("state = %v, want Working", o.State())
	}
	if len(sched.calls) != 2 {
		t.Fatalf("scheduler calls = %v, want 2 (one warm-up forceAll, one steady-state)", sched.calls)
	}
	if !sched.calls[0] {
		t.Fatalf("first call should be forceAll=true (warm-up)")
	}
	if sched.calls[1] {
		t.Fatalf("second call should be forceAll=false (steady state)")
	}
}

func TestTimeoutTriggersSyntheticForkThenRecovers(t *testing.T) {
	p := newTestProcessor(t)
	sched := &recordingScheduler{}
	// Reach Working immediately (workingHeight 0), timeout, then two more
	// appends. The synthetic fork undoes height 1, so forkOrigin is 0: the
	// first append re-reaches it (returns to Working and runs scripts), the
	// second is an ordinary Working append.
	stream := &scriptedStream{
		events: []events.BlockchainUpdated{appendEvent(1), {}, appendEvent(1), appendEvent(2)},
		errs:   []error{nil, ErrUpstreamTimeout, nil, nil},
	}
	o := New(p, sched, stream, 0)

	if err := o.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if o.State() != StateWorking {
		t.Fatalf("state = %v, want Working after fork recovery", o.State())
	}
}

func TestFailedDuringStartingIsFatal(t *testing.T) {
	p := newTestProcessor(t)
	sched := &recordingScheduler{}
	stream := &scriptedStream{
		events: []events.BlockchainUpdated{{}},
		errs:   []error{errors.New("boom")},
	}
	o := New(p, sched, stream, 100)

	if err := o.Run(context.Background()); err == nil {
		t.Fatal("expected a fatal error for Failed during Starting")
	}
}
