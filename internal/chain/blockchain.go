package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/metrics"

	"github.com/wavesplatform/ride-evaluator/internal/persistent"
	"github.com/wavesplatform/ride-evaluator/internal/remotedata"
	"github.com/wavesplatform/ride-evaluator/internal/tagged"
)

// Tag identifies a registered request; it is the generic Tag parameter of
// every tagged.Storage instantiated below.
type Tag string

// AccountDataKey is the composite (Address, String) key for AccountData.
type AccountDataKey struct {
	Addr Address
	Key  string
}

// AccountBalanceKey is the composite (Address, Asset) key for AccountBalance.
type AccountBalanceKey struct {
	Addr  Address
	Asset Asset
}

// DataAPI is the opaque point-lookup data API (C4's only external
// collaborator): synchronous RPCs issued on a cache miss.
type DataAPI interface {
	Height() (Height, error)
	ActivatedFeatures(h Height) (map[int32]Height, error)
	AccountData(addr Address, key string) (remotedata.RemoteData[DataEntry], error)
	AccountScript(addr Address) (remotedata.RemoteData[AccountScript], error)
	BlockHeader(h Height) (remotedata.RemoteData[BlockHeaderRecord], error)
	AssetDescription(id AssetID) (remotedata.RemoteData[AssetDescription], error)
	ResolveAlias(alias Alias) (remotedata.RemoteData[Address], error)
	AccountBalance(addr Address, asset Asset) (remotedata.RemoteData[int64], error)
	AccountLeaseBalance(addr Address) (remotedata.RemoteData[LeaseBalance], error)
	Transaction(id TxID) (remotedata.RemoteData[TransactionMeta], error)
}

// SharedBlockchainData aggregates one tagged.Storage per entity in §3, plus
// block-header/VRF/activated-features state, into a single coherent
// snapshot (C4).
type SharedBlockchainData struct {
	AccountData        *tagged.Storage[AccountDataKey, DataEntry, Tag]
	AccountScript       *tagged.Storage[Address, AccountScript, Tag]
	AssetDescription    *tagged.Storage[AssetID, AssetDescription, Tag]
	Alias               *tagged.Storage[Alias, Address, Tag]
	AccountBalance      *tagged.Storage[AccountBalanceKey, int64, Tag]
	AccountLeaseBalance *tagged.Storage[Address, LeaseBalance, Tag]
	Transaction         *tagged.Storage[TxID, TransactionMeta, Tag]

	Headers *HeadersStorage
	VRF     *VRFStorage

	activatedFeatures map[int32]Height
	featuresLoaded    bool

	heightGauge metrics.Gauge
}

// New wires every tagged storage to its persistent.Cache counterpart and to
// dataAPI for blockchain-level misses.
func New(store *persistent.Store, dataAPI DataAPI) *SharedBlockchainData {
	accountDataCache := persistent.NewCache[AccountDataKey, DataEntry](store, persistent.TagAccountData, encodeAccountDataKey, dataEntryCodec())
	accountScriptCache := persistent.NewCache[Address, AccountScript](store, persistent.TagAccountScript, encodeAddress, accountScriptCodec())
	assetDescriptionCache := persistent.NewCache[AssetID, AssetDescription](store, persistent.TagAssetDescription, encodeAssetID, assetDescriptionCodec())
	aliasCache := persistent.NewCache[Alias, Address](store, persistent.TagAlias, encodeAlias, addressCodec())
	balanceCache := persistent.NewCache[AccountBalanceKey, int64](store, persistent.TagAccountBalance, encodeAccountBalanceKey, int64Codec())
	leaseBalanceCache := persistent.NewCache[Address, LeaseBalance](store, persistent.TagAccountLeaseBalance, encodeAddress, leaseBalanceCodec())
	txCache := persistent.NewCache[TxID, TransactionMeta](store, persistent.TagTransaction, encodeTxID, transactionMetaCodec())

	return &SharedBlockchainData{
		AccountData: tagged.New[AccountDataKey, DataEntry, Tag]("account_data", accountDataCache,
			func(k AccountDataKey) (remotedata.RemoteData[DataEntry], error) { return dataAPI.AccountData(k.Addr, k.Key) },
			func(a, b DataEntry) bool { return a.Equal(b) }),
		AccountScript: tagged.New[Address, AccountScript, Tag]("account_script", accountScriptCache,
			dataAPI.AccountScript,
			func(a, b AccountScript) bool { return a.Equal(b) }),
		AssetDescription: tagged.New[AssetID, AssetDescription, Tag]("asset_description", assetDescriptionCache,
			dataAPI.AssetDescription,
			func(a, b AssetDescription) bool { return a.Equal(b) }),
		Alias: tagged.New[Alias, Address, Tag]("alias", aliasCache,
			dataAPI.ResolveAlias,
			func(a, b Address) bool { return a == b }),
		AccountBalance: tagged.New[AccountBalanceKey, int64, Tag]("account_balance", balanceCache,
			func(k AccountBalanceKey) (remotedata.RemoteData[int64], error) { return dataAPI.AccountBalance(k.Addr, k.Asset) },
			func(a, b int64) bool { return a == b }),
		AccountLeaseBalance: tagged.New[Address, LeaseBalance, Tag]("account_lease_balance", leaseBalanceCache,
			dataAPI.AccountLeaseBalance,
			func(a, b LeaseBalance) bool { return a.Equal(b) }),
		Transaction: tagged.New[TxID, TransactionMeta, Tag]("transaction", txCache,
			dataAPI.Transaction,
			func(a, b TransactionMeta) bool { return a.Equal(b) }),

		Headers: NewHeadersStorage(store, dataAPI),
		VRF:     NewVRFStorage(),

		heightGauge: metrics.NewRegisteredGauge("chain/height", nil),
	}
}

// LoadActivatedFeatures loads activatedFeatures once at startup from
// persistent cache or the blockchain; it is never mutated by updates.
func (d *SharedBlockchainData) LoadActivatedFeatures(store *persistent.Store, dataAPI DataAPI) error {
	cache := persistent.NewCache[struct{}, map[int32]Height](store, persistent.TagActivatedFeatures, func(struct{}) []byte { return nil }, activatedFeaturesCodec())
	h, err := dataAPI.Height()
	if err != nil {
		return err
	}
	existing, err := cache.Get(h, struct{}{})
	if err != nil {
		return err
	}
	if v, ok := existing.Value(); ok {
		d.activatedFeatures = v
		d.featuresLoaded = true
		return nil
	}
	features, err := dataAPI.ActivatedFeatures(h)
	if err != nil {
		return err
	}
	if err := cache.SetDirect(h, struct{}{}, remotedata.Of(features)); err != nil {
		return err
	}
	d.activatedFeatures = features
	d.featuresLoaded = true
	return nil
}

// UpdateHeight publishes the authoritative last-applied height to metrics.
func (d *SharedBlockchainData) UpdateHeight(h Height) {
	d.heightGauge.Update(int64(h))
}

// View returns a Blockchain read-view at the current height, untagged
// (direct lookups, not attributed to any request).
func (d *SharedBlockchainData) View() Blockchain {
	return &untaggedView{data: d}
}

// Blockchain is the read-view RIDE evaluation needs: height, block headers,
// VRF, account script/data, balances, aliases, assets, transactions, and the
// degenerate balanceSnapshots. Methods not required by RIDE evaluation are
// intentionally absent per spec.md §4.3.
type Blockchain interface {
	Height() Height
	BlockHeader(h Height) (BlockHeaderRecord, bool, error)
	HitSource(h Height) (VRFHitSource, bool)
	AccountScript(a Address) (AccountScript, bool, error)
	AccountData(a Address, key string) (DataEntry, bool, error)
	Balance(a Address, asset Asset) (int64, bool, error)
	LeaseBalance(a Address) (LeaseBalance, bool, error)
	ResolveAlias(alias Alias) (Address, bool, error)
	AssetDescription(id AssetID) (AssetDescription, bool, error)
	TransactionMeta(id TxID) (TransactionMeta, bool, error)
	BalanceSnapshots(a Address, from, to Height) ([]BalanceSnapshot, error)
	ActivatedFeatures() map[int32]Height
}

// BalanceSnapshot is the synthetic snapshot balanceSnapshots returns: a
// single entry at current height (spec.md §4.3's documented degenerate
// answer — see DESIGN.md open question (b)).
type BalanceSnapshot struct {
	Height       Height
	LeaseBalance LeaseBalance
	Balance      int64
}

// untaggedView implements Blockchain using GetUntagged calls: used by the
// events executor itself (e.g. to resolve aliases while applying an update)
// where no request tag should be recorded.
type untaggedView struct {
	data *SharedBlockchainData
}

func (v *untaggedView) Height() Height {
	h, _, _ := v.data.Headers.LastHeight()
	return h
}

func (v *untaggedView) BlockHeader(h Height) (BlockHeaderRecord, bool, error) {
	return v.data.Headers.GetUntagged(h)
}

func (v *untaggedView) HitSource(h Height) (VRFHitSource, bool) {
	return v.data.VRF.Get(h)
}

func (v *untaggedView) AccountScript(a Address) (AccountScript, bool, error) {
	return v.data.AccountScript.GetUntagged(v.Height(), a)
}

func (v *untaggedView) AccountData(a Address, key string) (DataEntry, bool, error) {
	return v.data.AccountData.GetUntagged(v.Height(), AccountDataKey{Addr: a, Key: key})
}

func (v *untaggedView) Balance(a Address, asset Asset) (int64, bool, error) {
	return v.data.AccountBalance.GetUntagged(v.Height(), AccountBalanceKey{Addr: a, Asset: asset})
}

func (v *untaggedView) LeaseBalance(a Address) (LeaseBalance, bool, error) {
	return v.data.AccountLeaseBalance.GetUntagged(v.Height(), a)
}

func (v *untaggedView) ResolveAlias(alias Alias) (Address, bool, error) {
	return v.data.Alias.GetUntagged(v.Height(), alias)
}

func (v *untaggedView) AssetDescription(id AssetID) (AssetDescription, bool, error) {
	return v.data.AssetDescription.GetUntagged(v.Height(), id)
}

func (v *untaggedView) TransactionMeta(id TxID) (TransactionMeta, bool, error) {
	return v.data.Transaction.GetUntagged(v.Height(), id)
}

func (v *untaggedView) BalanceSnapshots(a Address, from, to Height) ([]BalanceSnapshot, error) {
	h := v.Height()
	balance, _, err := v.Balance(a, WavesAsset)
	if err != nil {
		return nil, err
	}
	lease, _, err := v.LeaseBalance(a)
	if err != nil {
		return nil, err
	}
	return []BalanceSnapshot{{Height: h, LeaseBalance: lease, Balance: balance}}, nil
}

func (v *untaggedView) ActivatedFeatures() map[int32]Height {
	return v.data.activatedFeatures
}

var _ fmt.Stringer = Address{}
