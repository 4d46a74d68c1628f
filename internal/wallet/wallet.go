package wallet

import (
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	btcwire "github.com/btcsuite/btcd/wire"
	decred "github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/fedvault/node/internal/log"
)

// Wallet tracks every taproot address the vault has ever derived and the
// UTXOs paying them. It holds no private key material: spending requires a
// completed threshold signing session elsewhere in the node.
type Wallet struct {
	mu   sync.Mutex
	log  log.Logger
	net  *chaincfg.Params
	addr map[string]bool

	groupKey *decred.PublicKey
	utxos    *Set
}

// New constructs a wallet bound to the DKG group key, used to derive every
// future deposit address.
func New(groupKey *decred.PublicKey, net *chaincfg.Params, logger log.Logger) *Wallet {
	return &Wallet{
		log:      logger,
		net:      net,
		addr:     make(map[string]bool),
		groupKey: groupKey,
		utxos:    NewSet(),
	}
}

// NewDepositAddress derives and registers the taproot address for
// trackingID, returning its encoded form (spec §4.4 deposit lifecycle step
// 1: "registers the address with the wallet and deposit monitor").
func (w *Wallet) NewDepositAddress(trackingID string) (string, error) {
	addr, _, err := DeriveDepositAddress(w.groupKey, trackingID, w.net)
	if err != nil {
		return "", err
	}
	w.RegisterAddress(addr)
	return addr, nil
}

// RegisterAddress marks address as one the wallet watches for
// externally-observed payments or spends.
func (w *Wallet) RegisterAddress(address string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.addr[address] = true
}

// Watches reports whether address is tracked by this wallet.
func (w *Wallet) Watches(address string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.addr[address]
}

// ApplyConfirmedDeposit adds a newly confirmed deposit as a spendable UTXO.
func (w *Wallet) ApplyConfirmedDeposit(txid chainhash.Hash, vout uint32, address string, amountSat uint64) error {
	addr, err := btcutil.DecodeAddress(address, w.net)
	if err != nil {
		return err
	}
	script, err := scriptPubKeyFor(addr)
	if err != nil {
		return err
	}
	w.utxos.Add(UTXO{
		Outpoint:     Outpoint{TxID: txid, Vout: vout},
		Address:      address,
		AmountSat:    amountSat,
		ScriptPubKey: script,
	})
	w.RegisterAddress(address)
	return nil
}

// IngestExternalTransaction reconciles the wallet against a transaction it
// did not itself build: any tracked UTXO it spends is dropped, and any
// output paying one of the wallet's watched addresses is added as a new
// UTXO. Used for peers to stay in lockstep after a gossiped withdrawal
// (spec §4.4 withdrawal lifecycle step 4).
func (w *Wallet) IngestExternalTransaction(tx *btcwire.MsgTx) {
	txid := tx.TxHash()

	var spent []Outpoint
	for _, in := range tx.TxIn {
		spent = append(spent, Outpoint{TxID: in.PreviousOutPoint.Hash, Vout: in.PreviousOutPoint.Index})
	}

	var credited []UTXO
	for vout, out := range tx.TxOut {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, w.net)
		if err != nil || len(addrs) != 1 {
			continue
		}
		encoded := addrs[0].EncodeAddress()
		if !w.Watches(encoded) {
			continue
		}
		credited = append(credited, UTXO{
			Outpoint:     Outpoint{TxID: txid, Vout: uint32(vout)},
			Address:      encoded,
			AmountSat:    uint64(out.Value),
			ScriptPubKey: out.PkScript,
		})
	}

	w.utxos.IngestExternalTransaction(txid, spent, credited)
}

// UTXOs returns a snapshot of every unspent output the wallet tracks.
func (w *Wallet) UTXOs() []UTXO {
	return w.utxos.All()
}

// Balance sums every tracked unspent output's value.
func (w *Wallet) Balance() uint64 {
	var total uint64
	for _, u := range w.utxos.All() {
		total += u.AmountSat
	}
	return total
}
