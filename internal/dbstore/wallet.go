package dbstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/via-rollup/via-node/internal/processors"
)

// WalletStore adapts *DB to processors.WalletStore, backed by via_roles
// (the single current address per governance-controlled role) and
// via_wallets_snapshots (the bridge/verifier-set history the governance
// processor replaces wholesale on each accepted UpdateBridgeProposal).
type WalletStore struct{ db *DB }

// NewWalletStore constructs a processors.WalletStore backed by db.
func NewWalletStore(db *DB) *WalletStore { return &WalletStore{db: db} }

func (s *WalletStore) CurrentGovernanceKey(ctx context.Context) (string, error) {
	return s.CurrentRoleAddress(ctx, processors.RoleGovernance)
}

func (s *WalletStore) CurrentRoleAddress(ctx context.Context, role string) (string, error) {
	var address string
	err := s.db.queryRow(ctx, `SELECT address FROM via_roles WHERE role = ?`, role).Scan(&address)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("dbstore: fetching current %s address: %w", role, err)
	}
	return address, nil
}

func (s *WalletStore) ReplaceRoleAddress(ctx context.Context, role, newAddress string, authTxID chainhash.Hash) error {
	_, err := s.db.exec(ctx, `
		INSERT INTO via_roles (role, address, auth_tx_id) VALUES (?, ?, ?)
		ON CONFLICT (role) DO UPDATE SET address = excluded.address, auth_tx_id = excluded.auth_tx_id`,
		role, newAddress, authTxID.String())
	if err != nil {
		return fmt.Errorf("dbstore: replacing %s address: %w", role, err)
	}
	return nil
}

func (s *WalletStore) CurrentBridgeSnapshot(ctx context.Context) (string, []string, bool, error) {
	var bridgeAddress, verifierAddrs string
	err := s.db.queryRow(ctx, `
		SELECT bridge_address, verifier_addrs FROM via_wallets_snapshots
		ORDER BY id DESC LIMIT 1`).Scan(&bridgeAddress, &verifierAddrs)
	if err == sql.ErrNoRows {
		return "", nil, false, nil
	}
	if err != nil {
		return "", nil, false, fmt.Errorf("dbstore: fetching current bridge snapshot: %w", err)
	}
	return bridgeAddress, splitAddrs(verifierAddrs), true, nil
}

func (s *WalletStore) InsertWalletsSnapshot(ctx context.Context, blockHeight uint32, bridgeAddress string, verifierAddrs []string, authTxID chainhash.Hash) error {
	_, err := s.db.exec(ctx, `
		INSERT INTO via_wallets_snapshots (block_height, bridge_address, verifier_addrs, auth_tx_id, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		blockHeight, bridgeAddress, joinAddrs(verifierAddrs), authTxID.String(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("dbstore: inserting wallets snapshot at height %d: %w", blockHeight, err)
	}
	return nil
}

func joinAddrs(addrs []string) string { return strings.Join(addrs, ",") }

func splitAddrs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
