package network

import (
	"bytes"
	"encoding/gob"

	"github.com/fedvault/node/internal/wire"
)

// directCodec (de)serialises the DirectMessage / BroadcastMessage unions
// for the wire. protobuf/drand generates equivalent framing from a .proto
// schema; absent a protoc toolchain step here, gob's self-describing
// encoding of a registered interface plays the same role: a single
// envelope type wrapping whichever concrete variant was sent.
type directCodec struct{}

func init() {
	gob.Register(wire.Ping{})
	gob.Register(wire.Pong{})
	gob.Register(wire.Round2Package{})
	gob.Register(wire.SignRequest{})
	gob.Register(wire.Commitments{})
	gob.Register(wire.SignPackage{})
	gob.Register(wire.SignatureShare{})

	gob.Register(wire.ConsensusBroadcast{})
	gob.Register(wire.BlockBroadcast{})
	gob.Register(wire.DepositIntentBroadcast{})
	gob.Register(wire.PendingSpendBroadcast{})
	gob.Register(wire.DkgBroadcast{})
}

type directEnvelope struct {
	Message wire.DirectMessage
}

type broadcastEnvelope struct {
	Message wire.BroadcastMessage
}

func (c *directCodec) encodeDirect(msg wire.DirectMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(directEnvelope{Message: msg}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *directCodec) decodeDirect(data []byte) (wire.DirectMessage, error) {
	var env directEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, err
	}
	return env.Message, nil
}

func (c *directCodec) encodeBroadcast(msg wire.BroadcastMessage) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(broadcastEnvelope{Message: msg}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *directCodec) decodeBroadcast(data []byte) (wire.BroadcastMessage, error) {
	var env broadcastEnvelope
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&env); err != nil {
		return nil, err
	}
	return env.Message, nil
}
