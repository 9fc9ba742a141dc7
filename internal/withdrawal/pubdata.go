// Package withdrawal implements the bridge withdrawal coordinator's
// "session start" pipeline from spec.md §4.11: parsing a batch's pubdata
// blob into withdrawal requests, grouping them by destination address, and
// packing the weight-bounded Taproot plan (via internal/feeutxo) whose
// key-path sighash becomes the signing session's message. Grounded on
// original_source/core/lib/via_withdrawal_client/src/pubdata.rs's
// Pubdata::decode_pubdata, adapted from that file's `[count][items...]`
// framing onto this rollup's own Bitcoin-address-keyed withdrawal entries
// (zksync_types' Ethereum L2→L1 log shape doesn't apply here — there is no
// EVM execution layer in this system, only the bridge's own withdrawal
// requests).
package withdrawal

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"
)

// Entry is one parsed withdrawal request pulled from a batch's pubdata
// blob, matching spec.md §3's Withdrawal Request fields (minus
// bridge_withdrawal_id, which is unknown until settlement).
type Entry struct {
	L2TxHash   [32]byte
	L2LogIndex uint32
	Receiver   string
	AmountSats int64
}

// Group is the per-address sum spec.md §4.11's "groups by address summing
// amounts" step produces.
type Group struct {
	Receiver   string
	AmountSats int64
}

// ParsePubdata decodes a batch's pubdata blob into its withdrawal entries.
// Layout (big-endian framing throughout, resolving spec.md §9's open
// question on wire format): a 4-byte entry count, followed by that many
// entries of `[32-byte l2_tx_hash][4-byte l2_tx_log_index][2-byte address
// length][address bytes][8-byte little-endian amount-in-sats]`. The
// little-endian amount field mirrors the original's byteorder::LE use for
// packed numeric fields inside otherwise big-endian-framed pubdata.
func ParsePubdata(data []byte) ([]Entry, error) {
	r := bytes.NewReader(data)

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("withdrawal: reading entry count: %w", err)
	}

	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		var e Entry
		if _, err := io.ReadFull(r, e.L2TxHash[:]); err != nil {
			return nil, fmt.Errorf("withdrawal: reading entry %d l2_tx_hash: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &e.L2LogIndex); err != nil {
			return nil, fmt.Errorf("withdrawal: reading entry %d l2_tx_log_index: %w", i, err)
		}

		var addrLen uint16
		if err := binary.Read(r, binary.BigEndian, &addrLen); err != nil {
			return nil, fmt.Errorf("withdrawal: reading entry %d address length: %w", i, err)
		}
		addr := make([]byte, addrLen)
		if _, err := io.ReadFull(r, addr); err != nil {
			return nil, fmt.Errorf("withdrawal: reading entry %d address: %w", i, err)
		}
		e.Receiver = string(addr)

		var amount uint64
		if err := binary.Read(r, binary.LittleEndian, &amount); err != nil {
			return nil, fmt.Errorf("withdrawal: reading entry %d amount: %w", i, err)
		}
		e.AmountSats = int64(amount)

		entries = append(entries, e)
	}

	return entries, nil
}

// EncodePubdata is the inverse of ParsePubdata, used by tests and by
// whatever upstream component stages a batch's withdrawal pubdata for DA
// dispatch.
func EncodePubdata(entries []Entry) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint32(len(entries)))
	for _, e := range entries {
		buf.Write(e.L2TxHash[:])
		binary.Write(&buf, binary.BigEndian, e.L2LogIndex)
		binary.Write(&buf, binary.BigEndian, uint16(len(e.Receiver)))
		buf.WriteString(e.Receiver)
		binary.Write(&buf, binary.LittleEndian, uint64(e.AmountSats))
	}
	return buf.Bytes()
}

// GroupByAddress sums AmountSats per Receiver, returning groups sorted by
// address so plan construction is deterministic given the same entry set.
func GroupByAddress(entries []Entry) []Group {
	sums := make(map[string]int64, len(entries))
	for _, e := range entries {
		sums[e.Receiver] += e.AmountSats
	}

	groups := make([]Group, 0, len(sums))
	for addr, amount := range sums {
		groups = append(groups, Group{Receiver: addr, AmountSats: amount})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Receiver < groups[j].Receiver })
	return groups
}
