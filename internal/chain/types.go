// Package chain implements the shared blockchain view (C4): the aggregation
// of every per-entity tagged storage plus block-header/VRF/activated-feature
// state into one coherent, height-stamped snapshot.
package chain

import "encoding/hex"

// Height identifies a blockchain position. Monotone, non-negative.
type Height = uint64

// BlockID is a 32-byte block identifier.
type BlockID [32]byte

func (b BlockID) String() string { return hex.EncodeToString(b[:]) }

// Address is a 26-byte Waves account identifier.
type Address [26]byte

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// Alias is a short UTF-8 account name resolving to an Address.
type Alias string

// AssetID is a 32-byte issued-asset identifier.
type AssetID [32]byte

func (a AssetID) String() string { return hex.EncodeToString(a[:]) }

// Asset is either the native Waves asset or an issued asset.
type Asset struct {
	IsWaves bool
	ID      AssetID
}

// WavesAsset is the native asset.
var WavesAsset = Asset{IsWaves: true}

func IssuedAsset(id AssetID) Asset { return Asset{IsWaves: false, ID: id} }

// Equal compares two Assets for value equality.
func (a Asset) Equal(o Asset) bool {
	if a.IsWaves != o.IsWaves {
		return false
	}
	return a.IsWaves || a.ID == o.ID
}

// TxID is a 32-byte transaction identifier.
type TxID [32]byte

func (t TxID) String() string { return hex.EncodeToString(t[:]) }

// DataEntryType discriminates the DataEntry union.
type DataEntryType uint8

const (
	DataEntryBinary DataEntryType = iota
	DataEntryBoolean
	DataEntryInteger
	DataEntryString
)

// DataEntry is the tagged union {Binary, Boolean, Integer, String} carrying
// its key inline, as stored under AccountData.
type DataEntry struct {
	Key  string
	Type DataEntryType

	BinaryValue  []byte
	BooleanValue bool
	IntegerValue int64
	StringValue  string
}

// Equal compares two DataEntry values field-by-field for the active variant.
func (d DataEntry) Equal(o DataEntry) bool {
	if d.Key != o.Key || d.Type != o.Type {
		return false
	}
	switch d.Type {
	case DataEntryBinary:
		return string(d.BinaryValue) == string(o.BinaryValue)
	case DataEntryBoolean:
		return d.BooleanValue == o.BooleanValue
	case DataEntryInteger:
		return d.IntegerValue == o.IntegerValue
	case DataEntryString:
		return d.StringValue == o.StringValue
	default:
		return false
	}
}

// AccountScript is the {pubkey, script-bytes, complexities} record.
type AccountScript struct {
	PublicKey    [32]byte
	ScriptBytes  []byte
	Complexities map[string]int64
}

func (s AccountScript) Equal(o AccountScript) bool {
	if s.PublicKey != o.PublicKey || string(s.ScriptBytes) != string(o.ScriptBytes) {
		return false
	}
	if len(s.Complexities) != len(o.Complexities) {
		return false
	}
	for k, v := range s.Complexities {
		if ov, ok := o.Complexities[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// AssetScript is the optional script carried by AssetDescription.
type AssetScript struct {
	ScriptBytes []byte
}

// AssetDescription describes an issued asset.
type AssetDescription struct {
	Issuer       Address
	Name         string
	Description  string
	Decimals     uint8
	Reissuable   bool
	TotalVolume  int64
	Sponsorship  int64
	AssetScript  *AssetScript
}

func (a AssetDescription) Equal(o AssetDescription) bool {
	if a.Issuer != o.Issuer || a.Name != o.Name || a.Description != o.Description {
		return false
	}
	if a.Decimals != o.Decimals || a.Reissuable != o.Reissuable {
		return false
	}
	return a.TotalVolume == o.TotalVolume && a.Sponsorship == o.Sponsorship
}

// LeaseBalance is {in, out} for an account.
type LeaseBalance struct {
	In  int64
	Out int64
}

func (l LeaseBalance) Equal(o LeaseBalance) bool { return l == o }

// TransferPayload is the recognizable-as-a-transfer payload of a transaction.
// TransferTransactionLike in spec.md §9 is represented as Option<TransferPayload>.
type TransferPayload struct {
	Sender    Address
	Recipient Address
	Asset     Asset
	Amount    int64
}

// TransactionMeta is {height, optional transfer-like payload}.
type TransactionMeta struct {
	Height   Height
	Transfer *TransferPayload
}

func (m TransactionMeta) Equal(o TransactionMeta) bool {
	if m.Height != o.Height {
		return false
	}
	if (m.Transfer == nil) != (o.Transfer == nil) {
		return false
	}
	if m.Transfer == nil {
		return true
	}
	return *m.Transfer == *o.Transfer
}

// SignedBlockHeader and its VRF hit-source, as stored under BlockHeader.
type SignedBlockHeader struct {
	ID        BlockID
	Height    Height
	Timestamp int64
	Generator Address
	Signature [64]byte
}

// VRFHitSource is 32 bytes of VRF output for a height.
type VRFHitSource [32]byte

// BlockHeaderRecord is the stored value for the BlockHeader entity.
type BlockHeaderRecord struct {
	Header    SignedBlockHeader
	HitSource VRFHitSource
}
