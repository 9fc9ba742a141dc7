package processors_test

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/via-rollup/via-node/internal/inscription"
	"github.com/via-rollup/via-node/internal/priority"
	"github.com/via-rollup/via-node/internal/processors"
)

type fakeDepositStore struct {
	next     priority.ID
	inserted map[priority.ID]bool
}

func (s *fakeDepositStore) NextExpectedPriorityID(ctx context.Context) (priority.ID, error) {
	return s.next, nil
}

func (s *fakeDepositStore) InsertDeposit(ctx context.Context, id priority.ID, body inscription.L1ToL2MessageBody, txID string, vout uint32, amount int64) error {
	if s.inserted == nil {
		s.inserted = make(map[priority.ID]bool)
	}
	if s.inserted[id] {
		return processors.ErrDuplicate
	}
	s.inserted[id] = true
	return nil
}

func bridgeScript() []byte {
	return []byte{0x00, 0x14, 0x01, 0x02, 0x03}
}

func txWithBridgeOutput(value int64) *wire.MsgTx {
	tx := wire.NewMsgTx(2)
	tx.AddTxOut(wire.NewTxOut(value, bridgeScript()))
	return tx
}

func TestDepositProcessorIgnoresZeroValueOutput(t *testing.T) {
	store := &fakeDepositStore{next: mustPriority(t, 1, 0, 0)}
	p := processors.NewDepositProcessor(store, bridgeScript())

	tx := txWithBridgeOutput(0)

	msg := inscription.Message{
		Envelope: inscription.Envelope{BlockHeight: 1},
		Body:     inscription.L1ToL2MessageBody{},
	}

	err := p.Process(context.Background(), msg, tx, 0)
	require.NoError(t, err)
	require.Empty(t, store.inserted)
}

func TestDepositProcessorRejectsOutOfOrder(t *testing.T) {
	store := &fakeDepositStore{next: mustPriority(t, 5, 0, 0)}
	p := processors.NewDepositProcessor(store, bridgeScript())

	tx := txWithBridgeOutput(1000)
	msg := inscription.Message{
		Envelope: inscription.Envelope{BlockHeight: 1},
		Body:     inscription.L1ToL2MessageBody{},
	}

	err := p.Process(context.Background(), msg, tx, 0)
	require.Error(t, err)
	require.True(t, errors.Is(err, processors.ErrOutOfOrder))
}

func TestDepositProcessorAcceptsExpectedID(t *testing.T) {
	store := &fakeDepositStore{next: mustPriority(t, 1, 0, 0)}
	p := processors.NewDepositProcessor(store, bridgeScript())

	tx := txWithBridgeOutput(1000)
	msg := inscription.Message{
		Envelope: inscription.Envelope{BlockHeight: 1},
		Body:     inscription.L1ToL2MessageBody{},
	}

	err := p.Process(context.Background(), msg, tx, 0)
	require.NoError(t, err)
	require.Len(t, store.inserted, 1)
}

func mustPriority(t *testing.T, block, txIndex, vout uint64) priority.ID {
	t.Helper()
	id, err := priority.New(block, txIndex, vout)
	require.NoError(t, err)
	return id
}

type fakeVotingStore struct {
	batch  uint64
	found  bool
	votes  map[string]bool
	yes    int
	total  int
	final  bool
}

func (s *fakeVotingStore) VotableBatchByReference(ctx context.Context, referenceTxID chainhash.Hash) (uint64, bool, error) {
	return s.batch, s.found, nil
}

func (s *fakeVotingStore) InsertVote(ctx context.Context, batchNumber uint64, voterAddress string, vote inscription.Vote) error {
	if s.votes == nil {
		s.votes = make(map[string]bool)
	}
	if _, ok := s.votes[voterAddress]; ok {
		return processors.ErrDuplicate
	}
	s.votes[voterAddress] = bool(vote)
	s.total++
	if vote == inscription.VoteOk {
		s.yes++
	}
	return nil
}

func (s *fakeVotingStore) TallyYesVotes(ctx context.Context, batchNumber uint64) (int, int, error) {
	return s.yes, s.total, nil
}

func (s *fakeVotingStore) Finalize(ctx context.Context, batchNumber uint64, accepted bool) error {
	s.final = true
	return nil
}

type fakeVerifierSet struct {
	members   map[string]bool
	threshold float64
}

func (v fakeVerifierSet) IsMember(addr string) bool   { return v.members[addr] }
func (v fakeVerifierSet) Count() int                  { return len(v.members) }
func (v fakeVerifierSet) AgreementThreshold() float64 { return v.threshold }

func TestValidatorAttestationRejectsNonMember(t *testing.T) {
	store := &fakeVotingStore{batch: 1, found: true}
	verifiers := fakeVerifierSet{members: map[string]bool{"addr-a": true}, threshold: 0.66}
	p := processors.NewValidatorAttestationProcessor(store, verifiers)

	msg := inscription.Message{
		Envelope: inscription.Envelope{SenderAddress: "addr-outsider"},
		Body:     inscription.ValidatorAttestationBody{Attestation: inscription.VoteOk},
	}

	err := p.Process(context.Background(), msg, wire.NewMsgTx(2), 0)
	require.NoError(t, err)
	require.Empty(t, store.votes)
}

func TestValidatorAttestationFinalizesAtQuorum(t *testing.T) {
	store := &fakeVotingStore{batch: 1, found: true}
	verifiers := fakeVerifierSet{
		members:   map[string]bool{"addr-a": true, "addr-b": true, "addr-c": true},
		threshold: 0.66,
	}
	p := processors.NewValidatorAttestationProcessor(store, verifiers)

	for _, addr := range []string{"addr-a", "addr-b"} {
		msg := inscription.Message{
			Envelope: inscription.Envelope{SenderAddress: addr},
			Body:     inscription.ValidatorAttestationBody{Attestation: inscription.VoteOk},
		}
		err := p.Process(context.Background(), msg, wire.NewMsgTx(2), 0)
		require.NoError(t, err)
	}

	require.True(t, store.final)
}
