package events

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/wavesplatform/ride-evaluator/internal/chain"
	"github.com/wavesplatform/ride-evaluator/internal/persistent"
	"github.com/wavesplatform/ride-evaluator/internal/remotedata"
)

// AffectedTags is the set of request tags a mutation touched.
type AffectedTags map[chain.Tag]struct{}

func (a AffectedTags) merge(other AffectedTags) {
	for t := range other {
		a[t] = struct{}{}
	}
}

// ProcessResult is the accumulator carried across Process calls: the last
// applied height and the set of request tags awaiting re-evaluation.
type ProcessResult struct {
	NewHeight      chain.Height
	AffectedScripts AffectedTags
}

// ErrInvariantBreach is returned when the processor observes a state it
// considers a programming error rather than recoverable input (spec.md §7
// error kind 5): an unknown event variant, or forceRollbackOne called with
// an empty liquid tail.
var ErrInvariantBreach = errors.New("events: invariant breach")

// Processor is the event processor / state machine (C6).
type Processor struct {
	data  *chain.SharedBlockchainData
	store *persistent.Store

	accumulated ProcessResult
	lastEvents  []BlockchainUpdated // liquid tail, most-recent first
}

// New builds a Processor over data, persisting mutations through store.
func New(data *chain.SharedBlockchainData, store *persistent.Store) *Processor {
	return &Processor{
		data:        data,
		store:       store,
		accumulated: ProcessResult{AffectedScripts: make(AffectedTags)},
	}
}

// Accumulated returns the current height/affected-tags accumulator.
func (p *Processor) Accumulated() ProcessResult { return p.accumulated }

// TakeAffected clears and returns the whole accumulated affected-tag set.
// Tags a caller does not run stay cleared unless it hands them back with
// PutBackAffected; the orchestrator does not hand any back.
func (p *Processor) TakeAffected() AffectedTags {
	out := p.accumulated.AffectedScripts
	p.accumulated.AffectedScripts = make(AffectedTags)
	return out
}

// PutBackAffected restores tags that were not run this round so they remain
// candidates for the next one.
func (p *Processor) PutBackAffected(tags AffectedTags) {
	p.accumulated.AffectedScripts.merge(tags)
}

// Process applies one BlockchainUpdated event, mutating the shared
// blockchain data and the liquid tail, and folding any newly affected tags
// into the accumulator.
func (p *Processor) Process(event BlockchainUpdated) error {
	p.accumulated.NewHeight = event.Height

	switch event.Kind {
	case KindAppendBlock:
		if err := p.applyAppend(event); err != nil {
			return err
		}
		p.lastEvents = []BlockchainUpdated{event}
	case KindAppendMicroBlock:
		if err := p.applyAppend(event); err != nil {
			return err
		}
		p.lastEvents = append([]BlockchainUpdated{event}, p.lastEvents...)
	case KindRollback:
		if err := p.applyRollback(event); err != nil {
			return err
		}
		p.truncateLiquidTail(event.Rollback.TargetHeight, event.Rollback.TargetID)
	case KindEmpty:
		// no-op, per spec.md §4.5.
	default:
		return fmt.Errorf("%w: unknown event kind %d", ErrInvariantBreach, event.Kind)
	}
	return nil
}

func (p *Processor) applyAppend(event BlockchainUpdated) error {
	block := event.Append
	if block == nil {
		return fmt.Errorf("%w: append event with nil payload", ErrInvariantBreach)
	}

	batch := p.store.NewBatch()
	affected := make(AffectedTags)

	allUpdates := append([]StateUpdate(nil), block.StateUpdate...)
	for _, txUpdates := range block.PerTxStateUpdates {
		allUpdates = append(allUpdates, txUpdates...)
	}
	for _, su := range allUpdates {
		tags, err := p.appendStateUpdate(batch, event.Height, su)
		if err != nil {
			return err
		}
		affected.merge(tags)
	}

	seenTx := make(map[chain.TxID]bool, len(allUpdates))
	for _, su := range allUpdates {
		if su.Kind == EntityTransaction {
			seenTx[su.TxID] = true
		}
	}

	for _, tx := range block.Transactions {
		if tx.SetScript != nil {
			if _, err := p.data.AccountScript.Append(batch, event.Height, tx.SetScript.Addr, tx.SetScript.Script); err != nil {
				return err
			}
		}
		if tx.CreateAlias != nil {
			if _, err := p.data.Alias.Append(batch, event.Height, tx.CreateAlias.Alias, tx.CreateAlias.Addr); err != nil {
				return err
			}
		}
	}

	for _, txID := range block.TxIDs {
		if seenTx[txID] {
			continue
		}
		if _, err := p.data.Transaction.Append(batch, event.Height, txID, chain.TransactionMeta{Height: event.Height}); err != nil {
			return err
		}
	}

	if err := p.data.Headers.Put(batch, event.Height, chain.BlockHeaderRecord{Header: block.Header, HitSource: block.HitSource}); err != nil {
		return err
	}
	p.data.VRF.Put(event.Height, block.HitSource)

	if err := p.store.Commit(batch); err != nil {
		return err
	}
	p.data.UpdateHeight(event.Height)
	p.accumulated.AffectedScripts.merge(affected)
	return nil
}

func (p *Processor) appendStateUpdate(batch *persistent.Batch, h chain.Height, su StateUpdate) (AffectedTags, error) {
	switch su.Kind {
	case EntityAccountData:
		if su.DataEntry == nil {
			return p.data.AccountData.AppendAbsent(batch, h, chain.AccountDataKey{Addr: su.Addr, Key: su.DataKey})
		}
		return p.data.AccountData.Append(batch, h, chain.AccountDataKey{Addr: su.Addr, Key: su.DataKey}, *su.DataEntry)
	case EntityAccountBalance:
		if su.Balance == nil {
			return p.data.AccountBalance.AppendAbsent(batch, h, chain.AccountBalanceKey{Addr: su.Addr, Asset: su.Asset})
		}
		return p.data.AccountBalance.Append(batch, h, chain.AccountBalanceKey{Addr: su.Addr, Asset: su.Asset}, *su.Balance)
	case EntityAccountLeaseBalance:
		if su.LeaseBalance == nil {
			return p.data.AccountLeaseBalance.AppendAbsent(batch, h, su.Addr)
		}
		return p.data.AccountLeaseBalance.Append(batch, h, su.Addr, *su.LeaseBalance)
	case EntityAlias:
		if su.ResolvedAddress == nil {
			return p.data.Alias.AppendAbsent(batch, h, su.Alias)
		}
		return p.data.Alias.Append(batch, h, su.Alias, *su.ResolvedAddress)
	case EntityAssetDescription:
		if su.AssetDesc == nil {
			return p.data.AssetDescription.AppendAbsent(batch, h, su.AssetID)
		}
		return p.data.AssetDescription.Append(batch, h, su.AssetID, *su.AssetDesc)
	case EntityAccountScript:
		return nil, nil // SetScript is dispatched via block.Transactions, not state_update.
	case EntityTransaction:
		if su.TxMeta == nil {
			return p.data.Transaction.AppendAbsent(batch, h, su.TxID)
		}
		return p.data.Transaction.Append(batch, h, su.TxID, *su.TxMeta)
	default:
		return nil, fmt.Errorf("%w: unknown state update kind %d", ErrInvariantBreach, su.Kind)
	}
}

func (p *Processor) undoStateUpdate(batch *persistent.Batch, h chain.Height, su StateUpdate) (AffectedTags, error) {
	switch su.Kind {
	case EntityAccountData:
		return p.data.AccountData.UndoAppend(batch, h, chain.AccountDataKey{Addr: su.Addr, Key: su.DataKey})
	case EntityAccountBalance:
		return p.data.AccountBalance.UndoAppend(batch, h, chain.AccountBalanceKey{Addr: su.Addr, Asset: su.Asset})
	case EntityAccountLeaseBalance:
		return p.data.AccountLeaseBalance.UndoAppend(batch, h, su.Addr)
	case EntityAlias:
		return p.data.Alias.UndoAppend(batch, h, su.Alias)
	case EntityAssetDescription:
		return p.data.AssetDescription.UndoAppend(batch, h, su.AssetID)
	case EntityAccountScript:
		return nil, nil
	case EntityTransaction:
		return p.data.Transaction.UndoAppend(batch, h, su.TxID)
	default:
		return nil, fmt.Errorf("%w: unknown state update kind %d", ErrInvariantBreach, su.Kind)
	}
}

func (p *Processor) applyRollback(event BlockchainUpdated) error {
	rb := event.Rollback
	if rb == nil {
		return fmt.Errorf("%w: rollback event with nil payload", ErrInvariantBreach)
	}

	batch := p.store.NewBatch()
	affected := make(AffectedTags)

	for _, su := range rb.RollbackStateUpdate {
		tags, err := p.rollbackStateUpdate(batch, rb.TargetHeight, su)
		if err != nil {
			return err
		}
		affected.merge(tags)
	}

	for _, txID := range rb.RemovedTxIDs {
		tags, err := p.data.Transaction.Rollback(batch, rb.TargetHeight, txID, remotedata.AbsentValue[chain.TransactionMeta]())
		if err != nil {
			return err
		}
		affected.merge(tags)
	}

	p.data.VRF.RemoveFrom(rb.TargetHeight)
	if err := p.data.Headers.RemoveFrom(batch, rb.TargetHeight+1); err != nil {
		return err
	}

	if err := p.store.Commit(batch); err != nil {
		return err
	}
	p.data.UpdateHeight(rb.TargetHeight)
	p.accumulated.AffectedScripts.merge(affected)

	// Design note (spec.md §4.5, §9 open question (a)): rollbacks of alias
	// creation and account-script set are intentionally not undone here;
	// they are eventually reasserted by forward progress.
	return nil
}

func (p *Processor) rollbackStateUpdate(batch *persistent.Batch, hTo chain.Height, su StateUpdate) (AffectedTags, error) {
	switch su.Kind {
	case EntityAccountData:
		var v remotedata.RemoteData[chain.DataEntry]
		if su.DataEntry == nil {
			v = remotedata.AbsentValue[chain.DataEntry]()
		} else {
			v = remotedata.Of(*su.DataEntry)
		}
		return p.data.AccountData.Rollback(batch, hTo, chain.AccountDataKey{Addr: su.Addr, Key: su.DataKey}, v)
	case EntityAccountBalance:
		var v remotedata.RemoteData[int64]
		if su.Balance == nil {
			v = remotedata.AbsentValue[int64]()
		} else {
			v = remotedata.Of(*su.Balance)
		}
		return p.data.AccountBalance.Rollback(batch, hTo, chain.AccountBalanceKey{Addr: su.Addr, Asset: su.Asset}, v)
	case EntityAccountLeaseBalance:
		var v remotedata.RemoteData[chain.LeaseBalance]
		if su.LeaseBalance == nil {
			v = remotedata.AbsentValue[chain.LeaseBalance]()
		} else {
			v = remotedata.Of(*su.LeaseBalance)
		}
		return p.data.AccountLeaseBalance.Rollback(batch, hTo, su.Addr, v)
	case EntityAssetDescription:
		var v remotedata.RemoteData[chain.AssetDescription]
		if su.AssetDesc == nil {
			v = remotedata.AbsentValue[chain.AssetDescription]()
		} else {
			v = remotedata.Of(*su.AssetDesc)
		}
		return p.data.AssetDescription.Rollback(batch, hTo, su.AssetID, v)
	case EntityAlias, EntityAccountScript:
		return nil, nil // not rolled back, see applyRollback's design note.
	case EntityTransaction:
		var v remotedata.RemoteData[chain.TransactionMeta]
		if su.TxMeta == nil {
			v = remotedata.AbsentValue[chain.TransactionMeta]()
		} else {
			v = remotedata.Of(*su.TxMeta)
		}
		return p.data.Transaction.Rollback(batch, hTo, su.TxID, v)
	default:
		return nil, fmt.Errorf("%w: unknown state update kind %d", ErrInvariantBreach, su.Kind)
	}
}

// truncateLiquidTail keeps entries whose (height < targetHeight) or
// (id == targetID), per spec.md invariant I6's lifecycle rule for E.
func (p *Processor) truncateLiquidTail(targetHeight chain.Height, targetID chain.BlockID) {
	kept := p.lastEvents[:0]
	for _, e := range p.lastEvents {
		if e.Height < targetHeight || e.ID == targetID {
			kept = append(kept, e)
		}
	}
	p.lastEvents = kept
}

// ForceRollbackOne implements the synthetic fork: it undoes every key the
// liquid tail's state updates touched (newest event first) and returns the
// view to the last solid block, without any authoritative rollback event
// having been delivered. Account scripts and aliases set by SetScript and
// CreateAlias transactions, and transaction heights recorded from the
// events' tx ids, are not undone.
func (p *Processor) ForceRollbackOne() (AffectedTags, error) {
	if len(p.lastEvents) == 0 {
		return nil, fmt.Errorf("%w: forceRollbackOne with empty liquid tail", ErrInvariantBreach)
	}

	batch := p.store.NewBatch()
	affected := make(AffectedTags)
	forkHeight := p.lastEvents[0].Height

	for _, e := range p.lastEvents {
		if e.Append == nil {
			continue
		}
		allUpdates := append([]StateUpdate(nil), e.Append.StateUpdate...)
		for _, txUpdates := range e.Append.PerTxStateUpdates {
			allUpdates = append(allUpdates, txUpdates...)
		}
		for _, su := range allUpdates {
			tags, err := p.undoStateUpdate(batch, e.Height, su)
			if err != nil {
				return nil, err
			}
			affected.merge(tags)
		}
	}

	if err := p.data.Headers.RemoveFrom(batch, forkHeight); err != nil {
		return nil, err
	}
	if forkHeight > 0 {
		p.data.VRF.RemoveFrom(forkHeight - 1)
	}

	if err := p.store.Commit(batch); err != nil {
		return nil, err
	}

	newHeight := forkHeight
	if newHeight > 0 {
		newHeight--
	}
	p.data.UpdateHeight(newHeight)
	p.accumulated.NewHeight = newHeight
	p.accumulated.AffectedScripts.merge(affected)
	p.lastEvents = nil

	log.Info("Reverted liquid tail via synthetic fork", "forkHeight", forkHeight, "affected", len(affected))
	return affected, nil
}
