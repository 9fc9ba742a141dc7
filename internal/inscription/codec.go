package inscription

import (
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// EncodedScript is the result of building an inscription leaf script: the
// raw script, the Taproot output script_pubkey it commits to, and the
// control block needed to spend it back via the script path.
type EncodedScript struct {
	Script       []byte
	ScriptPubKey []byte
	ControlBlock []byte
}

// Encode builds a Taproot leaf script for body, committing it under
// internalKey with a single-leaf script tree, and returns the resulting
// commitment data. The leaf body is
// `<pubkey> OP_CHECKSIG OP_FALSE OP_IF "via_inscription_protocol" <marker> <fields...> OP_ENDIF`,
// matching the witness shape Decode expects. All multi-byte integers are
// pushed big-endian.
func Encode(body Body, internalKey *btcec.PublicKey) (*EncodedScript, error) {
	builder := txscript.NewScriptBuilder()
	builder.AddData(schnorr.SerializePubKey(internalKey))
	builder.AddOp(txscript.OP_CHECKSIG)
	builder.AddOp(txscript.OP_FALSE)
	builder.AddOp(txscript.OP_IF)
	builder.AddData([]byte(ProtocolMarker))
	builder.AddData([]byte{byte(body.marker())})

	if err := appendFields(builder, body); err != nil {
		return nil, fmt.Errorf("inscription: encoding fields: %w", err)
	}

	builder.AddOp(txscript.OP_ENDIF)

	script, err := builder.Script()
	if err != nil {
		return nil, fmt.Errorf("inscription: building script: %w", err)
	}

	leaf := txscript.NewBaseTapLeaf(script)
	tree := txscript.AssembleTaprootScriptTree(leaf)
	rootHash := tree.RootNode.TapHash()

	outputKey := txscript.ComputeTaprootOutputKey(internalKey, rootHash[:])
	scriptPubKey, err := txscript.PayToTaprootScript(outputKey)
	if err != nil {
		return nil, fmt.Errorf("inscription: building script_pubkey: %w", err)
	}

	ctrlBlock := tree.LeafMerkleProofs[0].ToControlBlock(internalKey)
	ctrlBlockBytes, err := ctrlBlock.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("inscription: serializing control block: %w", err)
	}

	return &EncodedScript{
		Script:       script,
		ScriptPubKey: scriptPubKey,
		ControlBlock: ctrlBlockBytes,
	}, nil
}

func appendFields(b *txscript.ScriptBuilder, body Body) error {
	be32 := func(v uint32) []byte {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, v)
		return buf
	}

	switch v := body.(type) {
	case SystemBootstrappingBody:
		b.AddData(be32(v.StartBlockHeight))
		for _, addr := range v.VerifierP2WPKHAddrs {
			b.AddData([]byte(addr))
		}
		b.AddData([]byte(v.BridgeMusig2Address))
		b.AddData(v.BootloaderHash[:])
		b.AddData(v.AbstractAccountHash[:])

	case ProposeSequencerBody:
		b.AddData([]byte(v.NewSequencerAddress))

	case UpdateSequencerBody:
		b.AddData([]byte(v.NewAddress))
		if v.ProposalTxID != nil {
			b.AddData(v.ProposalTxID[:])
		}

	case UpdateBridgeBody:
		b.AddData(v.ProposalTxID[:])

	case UpdateBridgeProposalBody:
		b.AddData([]byte(v.NewBridgeAddress))
		for _, addr := range v.VerifierP2WPKHAddrs {
			b.AddData([]byte(addr))
		}

	case ValidatorAttestationBody:
		b.AddData(v.ReferenceTxID[:])
		if v.Attestation == VoteOk {
			b.AddData([]byte{0x01})
		} else {
			b.AddData([]byte{0x00})
		}

	case L1BatchDAReferenceBody:
		b.AddData(v.L1BatchHash[:])
		b.AddData(be32(v.L1BatchIndex))
		b.AddData([]byte(v.DAIdentifier))
		b.AddData([]byte(v.BlobID))
		b.AddData(v.PrevL1BatchHash[:])

	case ProofDAReferenceBody:
		b.AddData(v.L1BatchRevealTxID[:])
		b.AddData([]byte(v.DAIdentifier))
		b.AddData([]byte(v.BlobID))

	case L1ToL2MessageBody:
		b.AddData(v.ReceiverL2Address[:])
		b.AddData(v.L2ContractAddress[:])
		b.AddData(v.CallData)

	case SystemContractUpgradeBody:
		b.AddData(v.ProposalTxID[:])

	case SystemContractUpgradeProposalBody:
		b.AddData([]byte(v.Version))
		b.AddData(v.BootloaderHash[:])
		b.AddData(v.DefaultAAHash[:])
		b.AddData(v.RecursionVKHash[:])
		for _, sc := range v.SystemContracts {
			b.AddData(sc)
		}

	default:
		return fmt.Errorf("unknown body type %T", body)
	}

	return nil
}

// Decode walks every input of tx, recovering every inscription message it
// carries. Inputs whose witness is too short, whose script doesn't open
// with the protocol marker, or whose pushes don't match a known type
// marker's layout (a too-short push for a fixed-size field, say) are
// silently skipped — decoding never panics and never returns an error.
func Decode(tx *wire.MsgTx, blockHeight uint32) []Message {
	var out []Message

	for _, in := range tx.TxIn {
		msg, ok := decodeInput(in, blockHeight)
		if !ok {
			continue
		}
		out = append(out, msg)
	}

	return out
}

func decodeInput(in *wire.TxIn, blockHeight uint32) (Message, bool) {
	if len(in.Witness) < 3 {
		return Message{}, false
	}

	script := in.Witness[len(in.Witness)-2]
	sigBytes := in.Witness[0]

	// Minimal push encoding writes one-byte values 1..16 as OP_1..OP_16, so
	// read those back as data; skip the envelope's OP_FALSE after the key.
	var pushes [][]byte
	tok := txscript.MakeScriptTokenizer(0, script)
	for tok.Next() {
		op := tok.Opcode()
		switch {
		case op == txscript.OP_0 && len(pushes) == 1:
		case op >= txscript.OP_1 && op <= txscript.OP_16:
			pushes = append(pushes, []byte{op - (txscript.OP_1 - 1)})
		case op <= txscript.OP_PUSHDATA4:
			pushes = append(pushes, tok.Data())
		}
	}
	if tok.Err() != nil || len(pushes) < 3 {
		return Message{}, false
	}

	internalKeyBytes := pushes[0]
	if len(internalKeyBytes) != 32 {
		return Message{}, false
	}

	if string(pushes[1]) != ProtocolMarker {
		return Message{}, false
	}

	if len(pushes[2]) != 1 {
		return Message{}, false
	}
	marker := typeMarker(pushes[2][0])

	fields := pushes[3:]
	body, ok := decodeBody(marker, fields)
	if !ok {
		return Message{}, false
	}

	var internalKey [32]byte
	copy(internalKey[:], internalKeyBytes)

	var sig *schnorr.Signature
	if parsed, err := schnorr.ParseSignature(sigBytes); err == nil {
		sig = parsed
	}

	return Message{
		Envelope: Envelope{
			Signature:   sig,
			InternalKey: internalKey,
			BlockHeight: blockHeight,
		},
		Body: body,
	}, true
}

func decodeBody(marker typeMarker, fields [][]byte) (Body, bool) {
	field32 := func(b []byte) ([32]byte, bool) {
		var out [32]byte
		if len(b) != 32 {
			return out, false
		}
		copy(out[:], b)
		return out, true
	}

	field20 := func(b []byte) ([20]byte, bool) {
		var out [20]byte
		if len(b) != 20 {
			return out, false
		}
		copy(out[:], b)
		return out, true
	}

	fieldHash := func(b []byte) (chainhash.Hash, bool) {
		var out chainhash.Hash
		if len(b) != chainhash.HashSize {
			return out, false
		}
		copy(out[:], b)
		return out, true
	}

	switch marker {
	case markerSystemBootstrapping:
		if len(fields) < 4 {
			return nil, false
		}
		startHeight := fields[0]
		if len(startHeight) != 4 {
			return nil, false
		}
		trailing := fields[len(fields)-3:]
		verifierFields := fields[1 : len(fields)-3]

		bootloaderHash, ok := field32(trailing[1])
		if !ok {
			return nil, false
		}
		abstractAccountHash, ok := field32(trailing[2])
		if !ok {
			return nil, false
		}

		verifiers := make([]string, 0, len(verifierFields))
		for _, f := range verifierFields {
			verifiers = append(verifiers, string(f))
		}

		return SystemBootstrappingBody{
			StartBlockHeight:    binary.BigEndian.Uint32(startHeight),
			VerifierP2WPKHAddrs: verifiers,
			BridgeMusig2Address: string(trailing[0]),
			BootloaderHash:      bootloaderHash,
			AbstractAccountHash: abstractAccountHash,
		}, true

	case markerProposeSequencer:
		if len(fields) != 1 {
			return nil, false
		}
		return ProposeSequencerBody{NewSequencerAddress: string(fields[0])}, true

	case markerUpdateSequencer:
		if len(fields) < 1 || len(fields) > 2 {
			return nil, false
		}
		body := UpdateSequencerBody{NewAddress: string(fields[0])}
		if len(fields) == 2 {
			h, ok := fieldHash(fields[1])
			if !ok {
				return nil, false
			}
			body.ProposalTxID = &h
		}
		return body, true

	case markerUpdateBridge:
		if len(fields) != 1 {
			return nil, false
		}
		h, ok := fieldHash(fields[0])
		if !ok {
			return nil, false
		}
		return UpdateBridgeBody{ProposalTxID: h}, true

	case markerUpdateBridgeProposal:
		if len(fields) < 1 {
			return nil, false
		}
		verifiers := make([]string, 0, len(fields)-1)
		for _, f := range fields[1:] {
			verifiers = append(verifiers, string(f))
		}
		return UpdateBridgeProposalBody{
			NewBridgeAddress:    string(fields[0]),
			VerifierP2WPKHAddrs: verifiers,
		}, true

	case markerValidatorAttestation:
		if len(fields) != 2 {
			return nil, false
		}
		h, ok := fieldHash(fields[0])
		if !ok {
			return nil, false
		}
		if len(fields[1]) > 1 {
			return nil, false
		}
		vote := VoteNotOk
		if len(fields[1]) == 1 && fields[1][0] == 0x01 {
			vote = VoteOk
		}
		return ValidatorAttestationBody{ReferenceTxID: h, Attestation: vote}, true

	case markerL1BatchDAReference:
		if len(fields) != 5 {
			return nil, false
		}
		batchHash, ok := field32(fields[0])
		if !ok {
			return nil, false
		}
		if len(fields[1]) != 4 {
			return nil, false
		}
		prevHash, ok := field32(fields[4])
		if !ok {
			return nil, false
		}
		return L1BatchDAReferenceBody{
			L1BatchHash:     batchHash,
			L1BatchIndex:    binary.BigEndian.Uint32(fields[1]),
			DAIdentifier:    string(fields[2]),
			BlobID:          string(fields[3]),
			PrevL1BatchHash: prevHash,
		}, true

	case markerProofDAReference:
		if len(fields) != 3 {
			return nil, false
		}
		txid, ok := fieldHash(fields[0])
		if !ok {
			return nil, false
		}
		return ProofDAReferenceBody{
			L1BatchRevealTxID: txid,
			DAIdentifier:      string(fields[1]),
			BlobID:            string(fields[2]),
		}, true

	case markerL1ToL2Message:
		if len(fields) != 3 {
			return nil, false
		}
		receiver, ok := field20(fields[0])
		if !ok {
			return nil, false
		}
		contract, ok := field20(fields[1])
		if !ok {
			return nil, false
		}
		return L1ToL2MessageBody{
			ReceiverL2Address: receiver,
			L2ContractAddress: contract,
			CallData:          fields[2],
		}, true

	case markerSystemContractUpgrade:
		if len(fields) != 1 {
			return nil, false
		}
		h, ok := fieldHash(fields[0])
		if !ok {
			return nil, false
		}
		return SystemContractUpgradeBody{ProposalTxID: h}, true

	case markerSystemContractUpgradeProposal:
		if len(fields) < 4 {
			return nil, false
		}
		bootloaderHash, ok := field32(fields[1])
		if !ok {
			return nil, false
		}
		defaultAAHash, ok := field32(fields[2])
		if !ok {
			return nil, false
		}
		recursionVKHash, ok := field32(fields[3])
		if !ok {
			return nil, false
		}
		return SystemContractUpgradeProposalBody{
			Version:         string(fields[0]),
			BootloaderHash:  bootloaderHash,
			DefaultAAHash:   defaultAAHash,
			RecursionVKHash: recursionVKHash,
			SystemContracts: fields[4:],
		}, true

	default:
		return nil, false
	}
}
