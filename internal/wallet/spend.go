package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/txscript"
	btcwire "github.com/btcsuite/btcd/wire"
)

// dustThresholdSat mirrors the conventional P2WPKH/P2TR dust limit; a
// change output smaller than this is dropped rather than created.
const dustThresholdSat = 546

// placeholderSchnorrWitness is a zero-filled stand-in for the 64-byte
// Schnorr signature a real key-path spend attaches, sized correctly so a
// dry-run transaction's serialized size (and therefore its vsize) matches
// what the signed transaction will actually weigh.
var placeholderSchnorrWitness = make([]byte, 64)

// estimatedDryRunVSize seeds the coin-selection target for a dry run
// before the real vsize is known: a single-input, one-or-two-output P2TR
// transaction is well under 200 vbytes, so this comfortably covers the fee
// without materially over-selecting.
const estimatedDryRunVSize = 200

// ErrAddressNotTaproot is returned when a recipient address does not decode
// as an address for the wallet's configured network. The address type is not
// checked: any address that decodes, taproot or not, is accepted.
var ErrAddressNotTaproot = errors.New("wallet: recipient address must be a valid address for this network")

// EstimateSpend performs the dry-run spend the withdrawal-propose step
// needs: it selects a candidate UTXO, builds the would-be transaction with
// a placeholder witness, and measures its real vsize, returning the total
// amount (amount_sat + fee) the client must be quoted (spec §4.4
// withdrawal lifecycle step 1). No UTXO is consumed.
func (w *Wallet) EstimateSpend(amountSat, feePerVByte uint64, recipientAddr string) (total uint64, vsize int, err error) {
	guessFee := feePerVByte * estimatedDryRunVSize
	tx, _, err := w.buildSpendTx(amountSat, guessFee, recipientAddr)
	if err != nil {
		return 0, 0, err
	}
	for i := range tx.TxIn {
		tx.TxIn[i].Witness = btcwire.TxWitness{placeholderSchnorrWitness}
	}
	vsize = vsizeOf(tx)
	fee := feePerVByte * uint64(vsize)
	return amountSat + fee, vsize, nil
}

// CreateSpend builds the real single-input withdrawal transaction and its
// BIP-341 key-path sighash, removing the selected UTXO from the set so it
// cannot be double-spent by a concurrent withdrawal. The caller attaches
// the aggregated threshold signature with AttachWitness once signing
// completes.
func (w *Wallet) CreateSpend(amountSat, feeSat uint64, recipientAddr string) (*btcwire.MsgTx, [32]byte, error) {
	tx, spent, err := w.buildSpendTx(amountSat, feeSat, recipientAddr)
	if err != nil {
		return nil, [32]byte{}, err
	}

	sighash, err := w.taprootSighash(tx, spent)
	if err != nil {
		return nil, [32]byte{}, err
	}

	w.utxos.Remove(spent.Outpoint)
	return tx, sighash, nil
}

// AttachWitness finalizes tx by installing the aggregated Schnorr
// signature as the sole input's witness (spec §4.2 aggregation: "the
// completed transaction is handed to the wallet").
func AttachWitness(tx *btcwire.MsgTx, signature [64]byte) {
	tx.TxIn[0].Witness = btcwire.TxWitness{signature[:]}
}

func (w *Wallet) buildSpendTx(amountSat, feeSat uint64, recipientAddr string) (*btcwire.MsgTx, *UTXO, error) {
	total := amountSat + feeSat
	utxo, err := w.utxos.SelectSingle(total)
	if err != nil {
		return nil, nil, err
	}

	recipient, err := btcutil.DecodeAddress(recipientAddr, w.net)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrAddressNotTaproot, err)
	}
	recipientScript, err := scriptPubKeyFor(recipient)
	if err != nil {
		return nil, nil, err
	}

	changeAddr, err := btcutil.DecodeAddress(utxo.Address, w.net)
	if err != nil {
		return nil, nil, err
	}
	changeScript, err := scriptPubKeyFor(changeAddr)
	if err != nil {
		return nil, nil, err
	}

	tx := btcwire.NewMsgTx(btcwire.TxVersion)
	tx.AddTxIn(&btcwire.TxIn{
		PreviousOutPoint: btcwire.OutPoint{Hash: utxo.Outpoint.TxID, Index: utxo.Outpoint.Vout},
	})
	tx.AddTxOut(&btcwire.TxOut{Value: int64(amountSat), PkScript: recipientScript})

	changeSat := utxo.AmountSat - total
	if changeSat > dustThresholdSat {
		tx.AddTxOut(&btcwire.TxOut{Value: int64(changeSat), PkScript: changeScript})
	}

	return tx, utxo, nil
}

func (w *Wallet) taprootSighash(tx *btcwire.MsgTx, spent *UTXO) ([32]byte, error) {
	prevOut := btcwire.NewTxOut(int64(spent.AmountSat), spent.ScriptPubKey)
	fetcher := txscript.NewCannedPrevOutputFetcher(prevOut.PkScript, prevOut.Value)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	hash, err := txscript.CalcTaprootSignatureHash(sigHashes, txscript.SigHashDefault, tx, 0, fetcher)
	if err != nil {
		return [32]byte{}, err
	}
	var out [32]byte
	copy(out[:], hash)
	return out, nil
}

func vsizeOf(tx *btcwire.MsgTx) int {
	weight := tx.SerializeSizeStripped()*3 + tx.SerializeSize()
	return (weight + 3) / 4
}
