// Package scriptblockchain implements the per-request blockchain adapter
// (C5): a read-only Blockchain view that tags every key it reads with the
// request's own tag, thereby registering the key as a dependency.
package scriptblockchain

import (
	"github.com/wavesplatform/ride-evaluator/internal/chain"
)

// ScriptBlockchain wraps chain.SharedBlockchainData with a fixed tag; every
// read routes through the tagged Get of the matching storage. It implements
// chain.Blockchain and performs no writes.
type ScriptBlockchain struct {
	data   *chain.SharedBlockchainData
	tag    chain.Tag
	height chain.Height
}

// New builds the adapter for one request, pinned to the height the event
// processor had just finished applying when the evaluation round started
// (spec.md §5: "within a runScripts round, all affected scripts observe the
// same height").
func New(data *chain.SharedBlockchainData, tag chain.Tag, height chain.Height) *ScriptBlockchain {
	return &ScriptBlockchain{data: data, tag: tag, height: height}
}

func (s *ScriptBlockchain) Height() chain.Height { return s.height }

func (s *ScriptBlockchain) BlockHeader(h chain.Height) (chain.BlockHeaderRecord, bool, error) {
	return s.data.Headers.GetUntagged(h)
}

func (s *ScriptBlockchain) HitSource(h chain.Height) (chain.VRFHitSource, bool) {
	return s.data.VRF.Get(h)
}

func (s *ScriptBlockchain) AccountScript(a chain.Address) (chain.AccountScript, bool, error) {
	return s.data.AccountScript.Get(s.height, a, s.tag)
}

func (s *ScriptBlockchain) AccountData(a chain.Address, key string) (chain.DataEntry, bool, error) {
	return s.data.AccountData.Get(s.height, chain.AccountDataKey{Addr: a, Key: key}, s.tag)
}

func (s *ScriptBlockchain) Balance(a chain.Address, asset chain.Asset) (int64, bool, error) {
	return s.data.AccountBalance.Get(s.height, chain.AccountBalanceKey{Addr: a, Asset: asset}, s.tag)
}

func (s *ScriptBlockchain) LeaseBalance(a chain.Address) (chain.LeaseBalance, bool, error) {
	return s.data.AccountLeaseBalance.Get(s.height, a, s.tag)
}

func (s *ScriptBlockchain) ResolveAlias(alias chain.Alias) (chain.Address, bool, error) {
	return s.data.Alias.Get(s.height, alias, s.tag)
}

func (s *ScriptBlockchain) AssetDescription(id chain.AssetID) (chain.AssetDescription, bool, error) {
	return s.data.AssetDescription.Get(s.height, id, s.tag)
}

func (s *ScriptBlockchain) TransactionMeta(id chain.TxID) (chain.TransactionMeta, bool, error) {
	return s.data.Transaction.Get(s.height, id, s.tag)
}

// BalanceSnapshots collapses to a single synthetic snapshot at current
// height; scripts reading historical balance ranges observe a degenerate
// answer (spec.md §9 open question (b)). The lookups it performs are tagged
// like any other read.
func (s *ScriptBlockchain) BalanceSnapshots(a chain.Address, from, to chain.Height) ([]chain.BalanceSnapshot, error) {
	balance, _, err := s.Balance(a, chain.WavesAsset)
	if err != nil {
		return nil, err
	}
	lease, _, err := s.LeaseBalance(a)
	if err != nil {
		return nil, err
	}
	return []chain.BalanceSnapshot{{Height: s.height, LeaseBalance: lease, Balance: balance}}, nil
}

func (s *ScriptBlockchain) ActivatedFeatures() map[int32]chain.Height {
	return s.data.View().ActivatedFeatures()
}

var _ chain.Blockchain = (*ScriptBlockchain)(nil)
