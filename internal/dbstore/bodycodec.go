package dbstore

import (
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/via-rollup/via-node/internal/inscription"
)

// bodyKind tags which concrete inscription.Body a stored request row
// carries, since the request table holds one polymorphic column rather
// than one table per message family.
const (
	bodyKindL1BatchDAReference = "l1_batch_da_reference"
	bodyKindProofDAReference   = "proof_da_reference"
	bodyKindValidatorAttestation = "validator_attestation"
	bodyKindUpdateSequencer    = "update_sequencer"
	bodyKindUpdateBridge       = "update_bridge"
)

// encodeBody serializes an inscription.Body to its storage form: a kind
// tag plus a JSON payload. Inscription wire encoding (internal/inscription
// Encode) builds the Taproot witness script, a different concern from
// this table's job of remembering which body a not-yet-sent request
// should eventually build that script from.
func encodeBody(body inscription.Body) (string, []byte, error) {
	switch b := body.(type) {
	case inscription.L1BatchDAReferenceBody:
		payload, err := json.Marshal(jsonL1BatchDAReference{
			L1BatchHash:     b.L1BatchHash,
			L1BatchIndex:    b.L1BatchIndex,
			DAIdentifier:    b.DAIdentifier,
			BlobID:          b.BlobID,
			PrevL1BatchHash: b.PrevL1BatchHash,
		})
		return bodyKindL1BatchDAReference, payload, err

	case inscription.ProofDAReferenceBody:
		payload, err := json.Marshal(jsonProofDAReference{
			L1BatchRevealTxID: b.L1BatchRevealTxID,
			DAIdentifier:      b.DAIdentifier,
			BlobID:            b.BlobID,
		})
		return bodyKindProofDAReference, payload, err

	case inscription.ValidatorAttestationBody:
		payload, err := json.Marshal(jsonValidatorAttestation{
			ReferenceTxID: b.ReferenceTxID,
			Attestation:   bool(b.Attestation),
		})
		return bodyKindValidatorAttestation, payload, err

	case inscription.UpdateSequencerBody:
		payload, err := json.Marshal(jsonUpdateSequencer{
			NewAddress:   b.NewAddress,
			ProposalTxID: b.ProposalTxID,
		})
		return bodyKindUpdateSequencer, payload, err

	case inscription.UpdateBridgeBody:
		payload, err := json.Marshal(jsonUpdateBridge{ProposalTxID: b.ProposalTxID})
		return bodyKindUpdateBridge, payload, err

	default:
		return "", nil, fmt.Errorf("dbstore: unsupported inscription body type %T for queued request storage", body)
	}
}

// decodeBody is encodeBody's inverse.
func decodeBody(kind string, payload []byte) (inscription.Body, error) {
	switch kind {
	case bodyKindL1BatchDAReference:
		var v jsonL1BatchDAReference
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return inscription.L1BatchDAReferenceBody{
			L1BatchHash:     v.L1BatchHash,
			L1BatchIndex:    v.L1BatchIndex,
			DAIdentifier:    v.DAIdentifier,
			BlobID:          v.BlobID,
			PrevL1BatchHash: v.PrevL1BatchHash,
		}, nil

	case bodyKindProofDAReference:
		var v jsonProofDAReference
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return inscription.ProofDAReferenceBody{
			L1BatchRevealTxID: v.L1BatchRevealTxID,
			DAIdentifier:      v.DAIdentifier,
			BlobID:            v.BlobID,
		}, nil

	case bodyKindValidatorAttestation:
		var v jsonValidatorAttestation
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return inscription.ValidatorAttestationBody{
			ReferenceTxID: v.ReferenceTxID,
			Attestation:   inscription.Vote(v.Attestation),
		}, nil

	case bodyKindUpdateSequencer:
		var v jsonUpdateSequencer
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return inscription.UpdateSequencerBody{NewAddress: v.NewAddress, ProposalTxID: v.ProposalTxID}, nil

	case bodyKindUpdateBridge:
		var v jsonUpdateBridge
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, err
		}
		return inscription.UpdateBridgeBody{ProposalTxID: v.ProposalTxID}, nil

	default:
		return nil, fmt.Errorf("dbstore: unknown queued request kind %q", kind)
	}
}

type jsonL1BatchDAReference struct {
	L1BatchHash     [32]byte
	L1BatchIndex    uint32
	DAIdentifier    string
	BlobID          string
	PrevL1BatchHash [32]byte
}

type jsonProofDAReference struct {
	L1BatchRevealTxID chainhash.Hash
	DAIdentifier      string
	BlobID            string
}

type jsonValidatorAttestation struct {
	ReferenceTxID chainhash.Hash
	Attestation   bool
}

type jsonUpdateSequencer struct {
	NewAddress   string
	ProposalTxID *chainhash.Hash
}

type jsonUpdateBridge struct {
	ProposalTxID chainhash.Hash
}
