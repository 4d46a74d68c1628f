package wallet

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
)

// encodeTaprootAddress wraps a 32-byte x-only output key as a bech32m P2TR
// address for net.
func encodeTaprootAddress(outputKey []byte, net *chaincfg.Params) (*btcutil.AddressTaproot, error) {
	return btcutil.NewAddressTaproot(outputKey, net)
}

// scriptPubKeyFor returns the scriptPubKey an address pays to, used both
// when building spend outputs and when matching a tracked address against
// an externally observed transaction's outputs.
func scriptPubKeyFor(addr btcutil.Address) ([]byte, error) {
	return txscript.PayToAddrScript(addr)
}
