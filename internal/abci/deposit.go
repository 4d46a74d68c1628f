package abci

import (
	"bytes"
	"encoding/gob"
)

// DepositIntent records a user's request to deposit amountSat to a
// freshly-derived taproot address, created by CreateDeposit before any
// on-chain payment has been observed (spec §4.4 deposit lifecycle step 1).
type DepositIntent struct {
	TrackingID     string
	DepositAddress string
	UserPubKey     []byte
	AmountSat      uint64
}

// DepositIntentIndex is the dual-indexed {by_id, by_address} structure the
// spec names as part of ChainState, letting the oracle-confirmation
// handler locate an intent either by its tracking ID or by the address a
// payment actually landed on.
type DepositIntentIndex struct {
	ByID      map[string]*DepositIntent
	ByAddress map[string]*DepositIntent
}

// NewDepositIntentIndex returns an empty index.
func NewDepositIntentIndex() *DepositIntentIndex {
	return &DepositIntentIndex{
		ByID:      make(map[string]*DepositIntent),
		ByAddress: make(map[string]*DepositIntent),
	}
}

// Add registers intent under both indices.
func (idx *DepositIntentIndex) Add(intent *DepositIntent) {
	idx.ByID[intent.TrackingID] = intent
	idx.ByAddress[intent.DepositAddress] = intent
}

func (idx *DepositIntentIndex) clone() *DepositIntentIndex {
	out := NewDepositIntentIndex()
	for id, intent := range idx.ByID {
		i := *intent
		out.ByID[id] = &i
		out.ByAddress[i.DepositAddress] = &i
	}
	return out
}

func encodeDepositIntent(intent *DepositIntent) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(intent); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeDepositIntent(data []byte) (*DepositIntent, error) {
	var intent DepositIntent
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&intent); err != nil {
		return nil, err
	}
	return &intent, nil
}
