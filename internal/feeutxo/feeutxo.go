// Package feeutxo implements the greedy UTXO selector and weight-bounded
// transaction-plan packer: candidate outputs plus a UTXO set go in, a
// sequence of standards-compliant transaction plans comes out. Grounded on
// the teacher's WalletAnchor.FundPsbt coin-selection loop
// (lightweight-wallet/wallet/btcwallet/psbt.go), generalized from a
// single-plan PSBT funder into the multi-plan packer spec.md §4.2 needs.
package feeutxo

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/wire"
)

// DustThreshold matches Bitcoin Core's default relay dust limit for a
// P2WPKH output; no output this package produces may fall below it.
const DustThreshold = btcutil.Amount(546)

// WeightMax bounds a single plan's transaction weight, matching the
// standard non-witness-program transaction weight ceiling used for relay.
const WeightMax = 400_000

// Per-item weight estimates, matching the teacher's rough P2WPKH sizing
// (180 bytes/input, 34 bytes/output) converted to weight units (×4).
const (
	weightPerP2WPKHInput  = 180 * 4
	weightPerOutput       = 34 * 4
	weightBaseOverhead    = 10 * 4
	weightPerOpReturnByte = 4
)

// UTXO is a candidate input: an outpoint and its value. Weight estimation
// treats every input as P2WPKH — this package serves the bridge's own
// spends, which are always P2WPKH-sourced.
type UTXO struct {
	Outpoint wire.OutPoint
	Value    btcutil.Amount
}

// Output is a requested transaction output.
type Output struct {
	Value    btcutil.Amount
	PkScript []byte
}

// Plan is one sealed transaction plan: disjoint inputs, the requested
// outputs plus any change, and the fee actually paid.
type Plan struct {
	Inputs  []UTXO
	Outputs []Output
	Fee     btcutil.Amount
}

// ErrInsufficientFunds is returned, wrapped with the shortfall amounts,
// when the UTXO set cannot cover the requested outputs plus fees.
var ErrInsufficientFunds = errors.New("feeutxo: insufficient funds")

// InsufficientFundsError reports exactly how much was available versus
// required, per spec.md's InsufficientFunds(have, need).
type InsufficientFundsError struct {
	Have, Need btcutil.Amount
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("feeutxo: insufficient funds: have %s, need %s", e.Have, e.Need)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// Pack selects from utxos (iterated in the given order — callers
// determine determinism by sorting value-descending beforehand, matching
// spec.md's "deterministic given a fixed UTXO iteration order") to cover
// outputs at feeRate sat/vB, returning one or more weight-bounded plans.
// changeScript receives any leftover value above DustThreshold, always the
// bridge's own source address per spec.md. Secondary plans (index > 0) get
// an appended OP_RETURN push `[]byte{byte(index)}` so multiple outputs of
// the same logical spend stay chain-distinguishable.
func Pack(utxos []UTXO, outputs []Output, feeRateSatPerVByte int64, changeScript []byte) ([]Plan, error) {
	for _, o := range outputs {
		// A zero-value output is an unspendable data carrier (OP_RETURN):
		// Bitcoin Core's dust rule only applies to outputs someone could
		// eventually spend, so these are exempt rather than rejected.
		if o.Value != 0 && o.Value <= DustThreshold {
			return nil, fmt.Errorf("feeutxo: output value %s at or below dust threshold %s", o.Value, DustThreshold)
		}
	}

	var (
		plans      []Plan
		curInputs  []UTXO
		curValue   btcutil.Amount
		curOutputs []Output
		nextUTXO   int
		planIndex  byte
		totalInput btcutil.Amount
	)

	needMore := func(outs []Output) btcutil.Amount {
		weight := estimateWeight(len(curInputs), len(outs), planIndex > 0)
		return sumOutputs(outs) + feeForWeight(weight, feeRateSatPerVByte)
	}

	takeUTXO := func() bool {
		for nextUTXO < len(utxos) {
			u := utxos[nextUTXO]
			nextUTXO++
			curInputs = append(curInputs, u)
			curValue += u.Value
			totalInput += u.Value
			return true
		}
		return false
	}

	sealCurrentPlan := func() {
		weight := estimateWeight(len(curInputs), len(curOutputs), planIndex > 0)
		fee := feeForWeight(weight, feeRateSatPerVByte)

		outs := append([]Output(nil), curOutputs...)
		if planIndex > 0 {
			outs = append(outs, Output{Value: 0, PkScript: opReturnTag(planIndex)})
		}

		change := curValue - sumOutputs(curOutputs) - fee
		if change > DustThreshold {
			outs = append(outs, Output{Value: change, PkScript: changeScript})
		} else {
			// Change too small to keep goes to miners as extra fee.
			fee += change
		}

		plans = append(plans, Plan{
			Inputs:  append([]UTXO(nil), curInputs...),
			Outputs: outs,
			Fee:     fee,
		})

		curInputs, curValue, curOutputs = nil, 0, nil
		planIndex++
	}

	for _, out := range outputs {
		candidate := append(curOutputs, out)

		for curValue < needMore(candidate) {
			if !takeUTXO() {
				return nil, &InsufficientFundsError{
					Have: totalInput,
					Need: needMore(candidate),
				}
			}
		}

		if estimateWeight(len(curInputs), len(candidate), planIndex > 0) > WeightMax {
			if len(curOutputs) == 0 {
				return nil, fmt.Errorf("feeutxo: single output exceeds weight budget")
			}
			sealCurrentPlan()
			candidate = []Output{out}
			for curValue < needMore(candidate) {
				if !takeUTXO() {
					return nil, &InsufficientFundsError{
						Have: totalInput,
						Need: needMore(candidate),
					}
				}
			}
		}

		curOutputs = candidate
	}

	if len(curInputs) > 0 || len(curOutputs) > 0 {
		sealCurrentPlan()
	}

	return plans, nil
}

// opReturnTag builds the 1-byte incrementing OP_RETURN index tag appended
// to every secondary plan, distinguishing multiple outputs of the same
// logical bridge spend across transactions.
func opReturnTag(index byte) []byte {
	return []byte{0x6a, 0x01, index} // OP_RETURN, push-1, index
}

func sumOutputs(outs []Output) btcutil.Amount {
	var total btcutil.Amount
	for _, o := range outs {
		total += o.Value
	}
	return total
}

func estimateWeight(numInputs, numOutputs int, withOpReturnTag bool) int64 {
	w := int64(weightBaseOverhead) +
		int64(numInputs)*weightPerP2WPKHInput +
		int64(numOutputs)*weightPerOutput
	if withOpReturnTag {
		w += weightPerOutput + weightPerOpReturnByte
	}
	return w
}

func feeForWeight(weight int64, feeRateSatPerVByte int64) btcutil.Amount {
	vsize := (weight + 3) / 4
	return btcutil.Amount(vsize * feeRateSatPerVByte)
}
