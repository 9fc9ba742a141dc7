// Package priority implements the priority-op identifier: a single u64
// packing a block height, an in-block transaction index, and an output
// index, ordered so that comparing the raw integer is equivalent to
// comparing (block, tx_index, vout) lexicographically.
package priority

import "fmt"

const (
	blockBits   = 28
	txIndexBits = 20
	voutBits    = 16

	blockMask   = (uint64(1) << blockBits) - 1
	txIndexMask = (uint64(1) << txIndexBits) - 1
	voutMask    = (uint64(1) << voutBits) - 1

	txIndexShift = voutBits
	blockShift   = txIndexBits + voutBits

	// MaxBlockNumber is the largest block height representable in 28 bits.
	MaxBlockNumber = blockMask
	// MaxTxIndex is the largest in-block transaction index representable
	// in 20 bits.
	MaxTxIndex = txIndexMask
	// MaxVout is the largest output index representable in 16 bits.
	MaxVout = voutMask
)

// ID is a bit-packed, strictly monotonic priority-op identifier:
// [28 bits block][20 bits tx_index][16 bits vout].
type ID uint64

// New packs (block, txIndex, vout) into an ID, returning an error if any
// component overflows its bit field rather than silently truncating.
func New(block, txIndex, vout uint64) (ID, error) {
	if block > MaxBlockNumber {
		return 0, fmt.Errorf("priority: block number %d exceeds maximum %d", block, MaxBlockNumber)
	}
	if txIndex > MaxTxIndex {
		return 0, fmt.Errorf("priority: tx index %d exceeds maximum %d", txIndex, MaxTxIndex)
	}
	if vout > MaxVout {
		return 0, fmt.Errorf("priority: vout %d exceeds maximum %d", vout, MaxVout)
	}

	return ID((block&blockMask)<<blockShift | (txIndex&txIndexMask)<<txIndexShift | (vout & voutMask)), nil
}

// BlockNumber extracts the block-height field.
func (id ID) BlockNumber() uint64 {
	return (uint64(id) >> blockShift) & blockMask
}

// TxIndex extracts the in-block transaction-index field.
func (id ID) TxIndex() uint64 {
	return (uint64(id) >> txIndexShift) & txIndexMask
}

// Vout extracts the output-index field.
func (id ID) Vout() uint64 {
	return uint64(id) & voutMask
}

// Raw returns the underlying packed u64.
func (id ID) Raw() uint64 {
	return uint64(id)
}

// Less reports whether id orders strictly before other. Since the packing
// places block in the highest bits, tx_index next, and vout lowest,
// numeric comparison of the raw value already implements this ordering;
// Less is provided for callers that want the comparison spelled out
// (sort.Interface implementations, heap ordering).
func (id ID) Less(other ID) bool {
	return id < other
}

// String renders the identifier as "block/tx_index/vout" for logs.
func (id ID) String() string {
	return fmt.Sprintf("%d/%d/%d", id.BlockNumber(), id.TxIndex(), id.Vout())
}
