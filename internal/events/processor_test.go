package events

import (
	"testing"

	"github.com/wavesplatform/ride-evaluator/internal/chain"
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

func newTestProcessor(t *testing.T) (*persistent.Store, *chain.SharedBlockchainData, *Processor) {
	t.Helper()
	store, err := persistent.OpenMem()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	data := chain.New(store, fakeDataAPI{})
	return store, data, New(data, store)
}

func alice() chain.Address {
	var a chain.Address
	copy(a[:], []byte("alice-account-0000000000"))
	return a
}

func dataUpdate(addr chain.Address, key string, value int64) StateUpdate {
	return StateUpdate{
		Kind: EntityAccountData, Addr: addr, DataKey: key,
		DataEntry: &chain.DataEntry{Key: key, Type: chain.DataEntryInteger, IntegerValue: value},
	}
}

// TestSimpleIntegerReadScenario mirrors spec.md §8 scenario 1: a read tags
// a request, and an append that changes the read key reports it affected.
func TestSimpleIntegerReadScenario(t *testing.T) {
	_, data, p := newTestProcessor(t)
	a := alice()
	tag := chain.Tag("req1")

	// x starts absent (the fake data API answers Absent); register the
	// request's read (establishes the dependency).
	v, _, err := data.AccountData.Get(0, chain.AccountDataKey{Addr: a, Key: "x"}, tag)
	_ = v
	if err != nil {
		t.Fatal(err)
	}

	event := BlockchainUpdated{
		Height: 2,
		Kind:   KindAppendBlock,
		Append: &Block{StateUpdate: []StateUpdate{dataUpdate(a, "x", 1)}},
	}
	if err := p.Process(event); err != nil {
		t.Fatal(err)
	}

	affected := p.TakeAffected()
	if _, ok := affected[tag]; !ok {
		t.Fatalf("expected %s in affected tags, got %v", tag, affected)
	}
	if p.Accumulated().NewHeight != 2 {
		t.Fatalf("height = %d, want 2", p.Accumulated().NewHeight)
	}
}

// TestRollbackByEventScenario mirrors spec.md §8 scenario 4.
func TestRollbackByEventScenario(t *testing.T) {
	_, data, p := newTestProcessor(t)
	a := alice()
	tag := chain.Tag("req1")

	if _, _, err := data.AccountData.Get(0, chain.AccountDataKey{Addr: a, Key: "x"}, tag); err != nil {
		t.Fatal(err)
	}

	for h := chain.Height(1); h <= 2; h++ {
		if err := p.Process(BlockchainUpdated{Height: h, Kind: KindAppendBlock, Append: &Block{}}); err != nil {
			t.Fatal(err)
		}
	}
	if err := p.Process(BlockchainUpdated{Height: 3, Kind: KindAppendBlock, Append: &Block{StateUpdate: []StateUpdate{dataUpdate(a, "x", 1)}}}); err != nil {
		t.Fatal(err)
	}
	p.TakeAffected()

	zero := int64(0)
	rollbackEvent := BlockchainUpdated{
		Height: 2,
		Kind:   KindRollback,
		Rollback: &Rollback{
			TargetHeight: 2,
			RollbackStateUpdate: []StateUpdate{{
				Kind: EntityAccountData, Addr: a, DataKey: "x",
				DataEntry: &chain.DataEntry{Key: "x", Type: chain.DataEntryInteger, IntegerValue: zero},
			}},
		},
	}
	if err := p.Process(rollbackEvent); err != nil {
		t.Fatal(err)
	}

	affected := p.TakeAffected()
	if _, ok := affected[tag]; !ok {
		t.Fatalf("expected %s affected by rollback, got %v", tag, affected)
	}

	v, ok, err := data.AccountData.GetUntagged(100, chain.AccountDataKey{Addr: a, Key: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v.IntegerValue != 0 {
		t.Fatalf("after rollback x = %v, %v, want 0, true", v, ok)
	}
}

// TestForceRollbackOneRevertsLiquidTail mirrors spec.md §8 scenario 3.
func TestForceRollbackOneRevertsLiquidTail(t *testing.T) {
	_, data, p := newTestProcessor(t)
	a := alice()
	tag := chain.Tag("req1")

	if _, _, err := data.AccountData.Get(0, chain.AccountDataKey{Addr: a, Key: "x"}, tag); err != nil {
		t.Fatal(err)
	}
	if err := p.Process(BlockchainUpdated{Height: 2, Kind: KindAppendBlock, Append: &Block{StateUpdate: []StateUpdate{dataUpdate(a, "x", 1)}}}); err != nil {
		t.Fatal(err)
	}
	p.TakeAffected()

	affected, err := p.ForceRollbackOne()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := affected[tag]; !ok {
		t.Fatalf("expected %s affected by forced rollback, got %v", tag, affected)
	}

	v, ok, err := data.AccountData.GetUntagged(100, chain.AccountDataKey{Addr: a, Key: "x"})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatalf("expected x absent after synthetic fork undo, got %v", v)
	}
}

func TestForceRollbackOneOnEmptyTailIsInvariantBreach(t *testing.T) {
	_, _, p := newTestProcessor(t)
	if _, err := p.ForceRollbackOne(); err == nil {
		t.Fatal("expected an error for forceRollbackOne with no liquid tail")
	}
}
