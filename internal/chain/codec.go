package chain

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/wavesplatform/ride-evaluator/internal/persistent"
)

// Key encoders. Composite keys are encoded so that all bytes of the first
// field precede all bytes of the second, matching the "entity_key_bytes"
// half of the persistent store's composite key layout (spec.md §6).

func encodeAddress(a Address) []byte { return append([]byte{}, a[:]...) }

func encodeAssetID(id AssetID) []byte { return append([]byte{}, id[:]...) }

// encodeAlias length-frames the alias string so its bytes can never be a
// prefix of a different alias's encoded key (e.g. "bob" vs "bobby"), the
// same reasoning as encodeAccountDataKey's length-prefixed Key field.
func encodeAlias(al Alias) []byte {
	out := make([]byte, 0, 2+len(al))
	length := make([]byte, 2)
	binary.BigEndian.PutUint16(length, uint16(len(al)))
	out = append(out, length...)
	out = append(out, al...)
	return out
}

func encodeTxID(id TxID) []byte { return append([]byte{}, id[:]...) }

func encodeAccountDataKey(k AccountDataKey) []byte {
	out := make([]byte, 0, 26+2+len(k.Key))
	out = append(out, k.Addr[:]...)
	length := make([]byte, 2)
	binary.BigEndian.PutUint16(length, uint16(len(k.Key)))
	out = append(out, length...)
	out = append(out, k.Key...)
	return out
}

func encodeAccountBalanceKey(k AccountBalanceKey) []byte {
	out := make([]byte, 0, 26+1+32)
	out = append(out, k.Addr[:]...)
	if k.Asset.IsWaves {
		out = append(out, 0)
	} else {
		out = append(out, 1)
		out = append(out, k.Asset.ID[:]...)
	}
	return out
}

// Value codecs, via RLP (the teacher's wire format for persisted chain
// state in core/rawdb). Maps are not directly RLP-encodable, so they are
// carried as key/value slices in map iteration order (not sorted).

func int64Codec() persistent.Codec[int64] {
	return persistent.Codec[int64]{
		Marshal:   func(v int64) ([]byte, error) { return rlp.EncodeToBytes(uint64(v)) },
		Unmarshal: func(b []byte) (int64, error) {
			var u uint64
			if err := rlp.DecodeBytes(b, &u); err != nil {
				return 0, err
			}
			return int64(u), nil
		},
	}
}

func addressCodec() persistent.Codec[Address] {
	return persistent.Codec[Address]{
		Marshal: func(a Address) ([]byte, error) { return append([]byte{}, a[:]...), nil },
		Unmarshal: func(b []byte) (Address, error) {
			var a Address
			copy(a[:], b)
			return a, nil
		},
	}
}

func leaseBalanceCodec() persistent.Codec[LeaseBalance] {
	return persistent.Codec[LeaseBalance]{
		Marshal: func(v LeaseBalance) ([]byte, error) {
			return rlp.EncodeToBytes(rlpLeaseBalance{In: uint64(v.In), Out: uint64(v.Out)})
		},
		Unmarshal: func(b []byte) (LeaseBalance, error) {
			var r rlpLeaseBalance
			if err := rlp.DecodeBytes(b, &r); err != nil {
				return LeaseBalance{}, err
			}
			return LeaseBalance{In: int64(r.In), Out: int64(r.Out)}, nil
		},
	}
}

type rlpLeaseBalance struct {
	In  uint64
	Out uint64
}

func dataEntryCodec() persistent.Codec[DataEntry] {
	return persistent.Codec[DataEntry]{
		Marshal: func(v DataEntry) ([]byte, error) {
			return rlp.EncodeToBytes(rlpDataEntry{
				Key: v.Key, Type: uint8(v.Type),
				Binary: v.BinaryValue, Boolean: v.BooleanValue,
				Integer: uint64(v.IntegerValue), String: v.StringValue,
			})
		},
		Unmarshal: func(b []byte) (DataEntry, error) {
			var r rlpDataEntry
			if err := rlp.DecodeBytes(b, &r); err != nil {
				return DataEntry{}, err
			}
			return DataEntry{
				Key: r.Key, Type: DataEntryType(r.Type),
				BinaryValue: r.Binary, BooleanValue: r.Boolean,
				IntegerValue: int64(r.Integer), StringValue: r.String,
			}, nil
		},
	}
}

type rlpDataEntry struct {
	Key     string
	Type    uint8
	Binary  []byte
	Boolean bool
	Integer uint64
	String  string
}

func accountScriptCodec() persistent.Codec[AccountScript] {
	return persistent.Codec[AccountScript]{
		Marshal: func(v AccountScript) ([]byte, error) {
			pairs := make([]rlpComplexityPair, 0, len(v.Complexities))
			for fn, c := range v.Complexities {
				pairs = append(pairs, rlpComplexityPair{Function: fn, Complexity: uint64(c)})
			}
			return rlp.EncodeToBytes(rlpAccountScript{
				PublicKey: v.PublicKey[:], Script: v.ScriptBytes, Complexities: pairs,
			})
		},
		Unmarshal: func(b []byte) (AccountScript, error) {
			var r rlpAccountScript
			if err := rlp.DecodeBytes(b, &r); err != nil {
				return AccountScript{}, err
			}
			out := AccountScript{ScriptBytes: r.Script, Complexities: make(map[string]int64, len(r.Complexities))}
			copy(out.PublicKey[:], r.PublicKey)
			for _, p := range r.Complexities {
				out.Complexities[p.Function] = int64(p.Complexity)
			}
			return out, nil
		},
	}
}

type rlpComplexityPair struct {
	Function   string
	Complexity uint64
}

type rlpAccountScript struct {
	PublicKey    []byte
	Script       []byte
	Complexities []rlpComplexityPair
}

func assetDescriptionCodec() persistent.Codec[AssetDescription] {
	return persistent.Codec[AssetDescription]{
		Marshal: func(v AssetDescription) ([]byte, error) {
			r := rlpAssetDescription{
				Issuer: v.Issuer[:], Name: v.Name, Description: v.Description,
				Decimals: uint8(v.Decimals), Reissuable: v.Reissuable,
				TotalVolume: uint64(v.TotalVolume), Sponsorship: uint64(v.Sponsorship),
			}
			if v.AssetScript != nil {
				r.HasScript = true
				r.Script = v.AssetScript.ScriptBytes
			}
			return rlp.EncodeToBytes(r)
		},
		Unmarshal: func(b []byte) (AssetDescription, error) {
			var r rlpAssetDescription
			if err := rlp.DecodeBytes(b, &r); err != nil {
				return AssetDescription{}, err
			}
			out := AssetDescription{
				Name: r.Name, Description: r.Description, Decimals: r.Decimals,
				Reissuable: r.Reissuable, TotalVolume: int64(r.TotalVolume), Sponsorship: int64(r.Sponsorship),
			}
			copy(out.Issuer[:], r.Issuer)
			if r.HasScript {
				out.AssetScript = &AssetScript{ScriptBytes: r.Script}
			}
			return out, nil
		},
	}
}

type rlpAssetDescription struct {
	Issuer      []byte
	Name        string
	Description string
	Decimals    uint8
	Reissuable  bool
	TotalVolume uint64
	Sponsorship uint64
	HasScript   bool
	Script      []byte
}

func transactionMetaCodec() persistent.Codec[TransactionMeta] {
	return persistent.Codec[TransactionMeta]{
		Marshal: func(v TransactionMeta) ([]byte, error) {
			r := rlpTransactionMeta{Height: uint64(v.Height)}
			if v.Transfer != nil {
				r.HasTransfer = true
				r.Sender = v.Transfer.Sender[:]
				r.Recipient = v.Transfer.Recipient[:]
				r.AssetIsWaves = v.Transfer.Asset.IsWaves
				r.AssetID = v.Transfer.Asset.ID[:]
				r.Amount = uint64(v.Transfer.Amount)
			}
			return rlp.EncodeToBytes(r)
		},
		Unmarshal: func(b []byte) (TransactionMeta, error) {
			var r rlpTransactionMeta
			if err := rlp.DecodeBytes(b, &r); err != nil {
				return TransactionMeta{}, err
			}
			out := TransactionMeta{Height: r.Height}
			if r.HasTransfer {
				t := &TransferPayload{Asset: Asset{IsWaves: r.AssetIsWaves}, Amount: int64(r.Amount)}
				copy(t.Sender[:], r.Sender)
				copy(t.Recipient[:], r.Recipient)
				copy(t.Asset.ID[:], r.AssetID)
				out.Transfer = t
			}
			return out, nil
		},
	}
}

type rlpTransactionMeta struct {
	Height       uint64
	HasTransfer  bool
	Sender       []byte
	Recipient    []byte
	AssetIsWaves bool
	AssetID      []byte
	Amount       uint64
}

func activatedFeaturesCodec() persistent.Codec[map[int32]Height] {
	return persistent.Codec[map[int32]Height]{
		Marshal: func(v map[int32]Height) ([]byte, error) {
			pairs := make([]rlpFeaturePair, 0, len(v))
			for id, h := range v {
				pairs = append(pairs, rlpFeaturePair{ID: id, Height: uint64(h)})
			}
			return rlp.EncodeToBytes(pairs)
		},
		Unmarshal: func(b []byte) (map[int32]Height, error) {
			var pairs []rlpFeaturePair
			if err := rlp.DecodeBytes(b, &pairs); err != nil {
				return nil, err
			}
			out := make(map[int32]Height, len(pairs))
			for _, p := range pairs {
				out[p.ID] = p.Height
			}
			return out, nil
		},
	}
}

type rlpFeaturePair struct {
	ID     int32
	Height uint64
}
