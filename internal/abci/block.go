package abci

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/gob"

	"github.com/fedvault/node/internal/validator"
)

// Block is one finalised (or proposed) unit of the chain: a height, its
// proposer, the transactions it carries, and a state_root binding them
// together (spec §4.4: "computed over the serialised transaction list plus
// proposer and height").
type Block struct {
	Height       uint64
	Proposer     validator.ID
	Transactions []Transaction
	PrevHash     [32]byte
	StateRoot    [32]byte
}

func init() {
	gob.Register(OpPush{})
	gob.Register(OpCheckOracle{})
	gob.Register(OpIncrementBalance{})
	gob.Register(OpDecrementBalance{})
	gob.Register(OpNoop{})
}

// computeStateRoot hashes the serialised transaction list together with
// proposer and height, giving every node an identical value to compare
// during proposal verification (spec §4.3 step 3: "if the local
// reconstruction equals the received block byte-for-byte").
func computeStateRoot(proposer validator.ID, height uint64, txs []Transaction) ([32]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(txs); err != nil {
		return [32]byte{}, err
	}
	buf.WriteString(string(proposer))
	var heightBytes [8]byte
	binary.BigEndian.PutUint64(heightBytes[:], height)
	buf.Write(heightBytes[:])
	return sha256.Sum256(buf.Bytes()), nil
}

// Hash returns the block's content hash, used as the block_hash voted on
// during consensus and as the b:<hex> persistence key.
func (b *Block) Hash() ([32]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	if err := enc.Encode(b.Height); err != nil {
		return [32]byte{}, err
	}
	if err := enc.Encode(b.Proposer); err != nil {
		return [32]byte{}, err
	}
	if err := enc.Encode(b.Transactions); err != nil {
		return [32]byte{}, err
	}
	if err := enc.Encode(b.PrevHash); err != nil {
		return [32]byte{}, err
	}
	if err := enc.Encode(b.StateRoot); err != nil {
		return [32]byte{}, err
	}
	return sha256.Sum256(buf.Bytes()), nil
}

// Equal reports byte-for-byte equality by comparing encoded forms,
// supporting the equivocation check a follower performs before prevoting.
func (b *Block) Equal(o *Block) bool {
	ah, err1 := b.Hash()
	bh, err2 := o.Hash()
	if err1 != nil || err2 != nil {
		return false
	}
	return ah == bh
}

func encodeBlock(b *Block) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(b); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeBlock(data []byte) (*Block, error) {
	var b Block
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&b); err != nil {
		return nil, err
	}
	return &b, nil
}

func encodeChainState(s *ChainState) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeChainState(data []byte) (*ChainState, error) {
	var s ChainState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
