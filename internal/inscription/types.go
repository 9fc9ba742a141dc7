// Package inscription implements the Taproot inscription wire format: the
// common message envelope, every typed message body, and the codec that
// builds a commit-tree leaf script from a body (encode) or recovers a body
// from a mined transaction (decode).
package inscription

import (
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Vote is a validator's attestation outcome for a referenced transaction.
type Vote bool

const (
	VoteNotOk Vote = false
	VoteOk    Vote = true
)

// Envelope carries the fields every inscription message has regardless of
// body type, recovered from the witness and the containing block rather
// than pushed on-script.
type Envelope struct {
	Signature     *schnorr.Signature
	InternalKey   [32]byte // x-only internal public key
	RevealTxID    chainhash.Hash
	BlockHeight   uint32
	SenderAddress string // derived P2WPKH address, empty if not recoverable
}

// Message pairs an envelope with a typed body.
type Message struct {
	Envelope Envelope
	Body     Body
}

// Body is implemented by every typed inscription payload.
type Body interface {
	marker() typeMarker
}

type SystemBootstrappingBody struct {
	StartBlockHeight      uint32
	VerifierP2WPKHAddrs   []string
	BridgeMusig2Address   string
	BootloaderHash        [32]byte
	AbstractAccountHash   [32]byte
}

func (SystemBootstrappingBody) marker() typeMarker { return markerSystemBootstrapping }

type ProposeSequencerBody struct {
	NewSequencerAddress string
}

func (ProposeSequencerBody) marker() typeMarker { return markerProposeSequencer }

// UpdateSequencerBody also serves UpdateGovernance — both carry a new role
// address and an optional reference to the proposal transaction that
// authorized it.
type UpdateSequencerBody struct {
	NewAddress    string
	ProposalTxID  *chainhash.Hash
}

func (UpdateSequencerBody) marker() typeMarker { return markerUpdateSequencer }

type UpdateBridgeBody struct {
	ProposalTxID chainhash.Hash
}

func (UpdateBridgeBody) marker() typeMarker { return markerUpdateBridge }

// UpdateBridgeProposalBody is the payload fetched by dereferencing
// UpdateBridgeBody.ProposalTxID — not itself inscribed as a top-level
// message, decoded from the referenced transaction on demand.
type UpdateBridgeProposalBody struct {
	NewBridgeAddress     string
	VerifierP2WPKHAddrs  []string
}

func (UpdateBridgeProposalBody) marker() typeMarker { return markerUpdateBridgeProposal }

type ValidatorAttestationBody struct {
	ReferenceTxID chainhash.Hash
	Attestation   Vote
}

func (ValidatorAttestationBody) marker() typeMarker { return markerValidatorAttestation }

type L1BatchDAReferenceBody struct {
	L1BatchHash     [32]byte
	L1BatchIndex    uint32
	DAIdentifier    string
	BlobID          string
	PrevL1BatchHash [32]byte
}

func (L1BatchDAReferenceBody) marker() typeMarker { return markerL1BatchDAReference }

type ProofDAReferenceBody struct {
	L1BatchRevealTxID chainhash.Hash
	DAIdentifier      string
	BlobID            string
}

func (ProofDAReferenceBody) marker() typeMarker { return markerProofDAReference }

type L1ToL2MessageBody struct {
	ReceiverL2Address [20]byte
	L2ContractAddress [20]byte
	CallData          []byte
}

func (L1ToL2MessageBody) marker() typeMarker { return markerL1ToL2Message }

type SystemContractUpgradeBody struct {
	ProposalTxID chainhash.Hash
}

func (SystemContractUpgradeBody) marker() typeMarker { return markerSystemContractUpgrade }

// SystemContractUpgradeProposalBody is, like UpdateBridgeProposalBody,
// fetched by dereferencing SystemContractUpgradeBody.ProposalTxID.
type SystemContractUpgradeProposalBody struct {
	Version           string
	BootloaderHash    [32]byte
	DefaultAAHash     [32]byte
	RecursionVKHash   [32]byte
	SystemContracts   [][]byte
}

func (SystemContractUpgradeProposalBody) marker() typeMarker { return markerSystemContractUpgradeProposal }
