package inscription

// ProtocolMarker is the ASCII tag every inscription leaf script pushes
// immediately after OP_IF, identifying the script as belonging to this
// protocol rather than an unrelated Taproot inscription (ordinals, etc).
const ProtocolMarker = "via_inscription_protocol"

// typeMarker is the single byte following the protocol marker that
// identifies which body layout follows. Values are assigned in the same
// order spec.md lists the message bodies.
type typeMarker byte

const (
	markerSystemBootstrapping           typeMarker = 0x01
	markerProposeSequencer              typeMarker = 0x02
	markerUpdateSequencer               typeMarker = 0x03
	markerUpdateBridge                  typeMarker = 0x04
	markerUpdateBridgeProposal          typeMarker = 0x05
	markerValidatorAttestation          typeMarker = 0x06
	markerL1BatchDAReference            typeMarker = 0x07
	markerProofDAReference              typeMarker = 0x08
	markerL1ToL2Message                 typeMarker = 0x09
	markerSystemContractUpgrade         typeMarker = 0x0a
	markerSystemContractUpgradeProposal typeMarker = 0x0b
)
