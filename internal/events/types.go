// Package events implements the blockchain-updates state machine (C6):
// applying appends, micro-block forks and rollbacks with correct undo
// semantics, and reporting the set of request tags affected by each event.
package events

import "github.com/wavesplatform/ride-evaluator/internal/chain"

// UpdateKind discriminates the BlockchainUpdated sum type.
type UpdateKind uint8

const (
	KindAppendBlock UpdateKind = iota
	KindAppendMicroBlock
	KindRollback
	KindEmpty
)

// EntityKind discriminates which storage a StateUpdate mutates.
type EntityKind uint8

const (
	EntityAccountData EntityKind = iota
	EntityAccountBalance
	EntityAccountLeaseBalance
	EntityAlias
	EntityAssetDescription
	EntityAccountScript
	EntityTransaction
)

// StateUpdate is one sub-update within an Append's state_update or
// per-tx_state_updates list, or within a Rollback's rollback_state_update
// list. Exactly one of the typed payload fields is meaningful, selected by
// Kind. A nil payload for a cached-value field (e.g. DataEntry == nil for
// EntityAccountData) means the key was deleted (transitions to Absent).
type StateUpdate struct {
	Kind EntityKind

	Addr    chain.Address
	DataKey string
	Asset   chain.Asset
	Alias   chain.Alias
	AssetID chain.AssetID
	TxID    chain.TxID

	DataEntry       *chain.DataEntry
	Balance         *int64
	LeaseBalance    *chain.LeaseBalance
	ResolvedAddress *chain.Address
	AssetDesc       *chain.AssetDescription
	TxMeta          *chain.TransactionMeta
}

// SetScriptTx records a SetScript transaction observed in a block's
// transaction list.
type SetScriptTx struct {
	Addr   chain.Address
	Script chain.AccountScript
}

// CreateAliasTx records a CreateAlias transaction observed in a block's
// transaction list.
type CreateAliasTx struct {
	Addr  chain.Address
	Alias chain.Alias
}

// Transaction is the minimal per-transaction info the processor needs to
// scan for SetScript/CreateAlias side effects, independent of StateUpdate.
type Transaction struct {
	ID          chain.TxID
	SetScript   *SetScriptTx
	CreateAlias *CreateAliasTx
}

// Block is the payload of Append(Block) / Append(MicroBlock); both variants
// share this shape.
type Block struct {
	Header            chain.SignedBlockHeader
	HitSource         chain.VRFHitSource
	StateUpdate       []StateUpdate
	PerTxStateUpdates [][]StateUpdate
	Transactions      []Transaction
	TxIDs             []chain.TxID
}

// Rollback is the payload of a Rollback event.
type Rollback struct {
	TargetHeight        chain.Height
	TargetID            chain.BlockID
	RollbackStateUpdate []StateUpdate
	RemovedTxIDs        []chain.TxID
}

// BlockchainUpdated is one event delivered by the blockchain-updates stream.
type BlockchainUpdated struct {
	Height chain.Height
	ID     chain.BlockID
	Kind   UpdateKind

	Append   *Block // set for KindAppendBlock / KindAppendMicroBlock
	Rollback *Rollback
}
