// Package chainid implements the startup network-identity check
// spec.md's Non-goals leave implicit: before this node starts talking to a
// Bitcoin node, it confirms that node actually belongs to
// the network the daemon was configured for. Grounded on
// original_source/core/node/node_sync/src/via_validate_chain_ids_task.rs's
// ValidateChainIdsTask, simplified to drop that task's main-node L1/L2
// chain-ID checks — this module has no L2 execution node to ask (per
// spec.md's Non-goals excluding a generic execution VM), so the only
// remaining check is the one against the locally configured Bitcoin
// client, identified here by genesis block hash rather than a BitcoinOps
// network enum (btcsuite models networks as chaincfg.Params, not a
// comparable chain-ID type).
package chainid

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/via-rollup/via-node/internal/btcclient"
	"github.com/via-rollup/via-node/internal/logging"
)

var log = logging.NewSubsystemLogger("CHID")

// Task checks, on demand, that the Bitcoin node behind Client is actually
// serving the network Params describes.
type Task struct {
	client btcclient.Client
	params *chaincfg.Params
}

// New constructs a Task that validates client against params.
func New(client btcclient.Client, params *chaincfg.Params) *Task {
	return &Task{client: client, params: params}
}

// Check fetches the connected node's genesis block hash and compares it
// against params.GenesisHash, failing loudly (a programmer/config error
// per spec.md §7) on any mismatch rather than letting the daemon run
// silently against the wrong network.
func (t *Task) Check(ctx context.Context) error {
	hash, err := t.client.BlockHash(ctx, 0)
	if err != nil {
		return fmt.Errorf("chainid: fetching genesis block hash: %w", err)
	}
	if !hash.IsEqual(t.params.GenesisHash) {
		return fmt.Errorf(
			"chainid: configured network %s doesn't match connected node: expected genesis %s, got %s",
			t.params.Name, t.params.GenesisHash, hash,
		)
	}
	log.Infof("verified connected Bitcoin node's genesis hash matches configured network %s", t.params.Name)
	return nil
}
