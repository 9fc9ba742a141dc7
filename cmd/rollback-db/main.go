// Command rollback-db reverts this node's relational store to the state
// it held at a given L1 batch number, for recovering from a bad batch
// commitment without rebuilding the database from genesis. Grounded on
// the teacher's own urfave/cli-based binary (cmd/lncli), generalized from
// a gRPC command dispatcher to a single-purpose destructive-operation
// tool with its own confirmation prompts rather than lncli's RPC calls.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli"

	"github.com/via-rollup/via-node/internal/dbstore"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[rollback-db] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "rollback-db"
	app.Usage = "revert this node's database to the state at a given L1 batch number"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "driver",
			Value: "sqlite",
			Usage: "sqlite or postgres",
		},
		cli.StringFlag{
			Name:     "dsn",
			Usage:    "data source name, e.g. a sqlite file path or a postgres connection string",
			Required: true,
		},
		cli.Int64Flag{
			Name:     "l1-batch-number",
			Usage:    "batch number to roll back to; every row recorded above it is deleted",
			Required: true,
		},
		cli.BoolFlag{
			Name:  "rollback-postgres",
			Usage: "delete batch, vote, withdrawal, and pending-dispatch rows above the target batch",
		},
		cli.BoolFlag{
			Name:  "rollback-snapshots",
			Usage: "delete wallet-role snapshots recorded above the target batch's commit height",
		},
		cli.BoolFlag{
			Name:  "rollback-tree",
			Usage: "no-op in this deployment (no separate state-tree store is maintained outside --rollback-postgres); accepted for flag-compatibility",
		},
		cli.BoolFlag{
			Name:  "rollback-sk-cache",
			Usage: "no-op in this deployment (no state-keeper cache is maintained); accepted for flag-compatibility",
		},
		cli.BoolFlag{
			Name:  "rollback-vm-runners-cache",
			Usage: "no-op in this deployment (no VM runner cache is maintained); accepted for flag-compatibility",
		},
		cli.BoolFlag{
			Name:  "allow-executed-block-reversion",
			Usage: "permit rolling back a batch that has already been executed on L1",
		},
		cli.BoolFlag{
			Name:  "yes",
			Usage: "skip interactive confirmation prompts",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func run(c *cli.Context) error {
	batchNumber := c.Int64("l1-batch-number")
	if batchNumber < 0 {
		return fmt.Errorf("l1-batch-number must be non-negative")
	}

	if !c.Bool("rollback-postgres") && !c.Bool("rollback-snapshots") {
		return fmt.Errorf("nothing to do: pass at least one of --rollback-postgres or --rollback-snapshots")
	}

	db, err := dbstore.Open(dbstore.Config{Driver: c.String("driver"), DSN: c.String("dsn")})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	ctx := context.Background()
	store := dbstore.NewRollbackStore(db)

	executed, err := store.HasExecutedBatchAbove(ctx, uint64(batchNumber))
	if err != nil {
		return err
	}
	if executed && !c.Bool("allow-executed-block-reversion") {
		return fmt.Errorf("batch %d or above has already executed on L1; pass --allow-executed-block-reversion to proceed", batchNumber)
	}
	if executed {
		if !confirm(c, fmt.Sprintf(
			"batch %d or above has already executed on L1. Reverting it can desynchronize this node from the chain it already reported to. Continue?",
			batchNumber)) {
			fmt.Println("aborted")
			return nil
		}
	}

	if c.Bool("rollback-postgres") && !c.Bool("rollback-tree") {
		if !confirm(c, "rolling back the relational store without --rollback-tree is requested. This deployment keeps no separate state tree, so this prompt exists purely for parity with deployments that do; continue?") {
			fmt.Println("aborted")
			return nil
		}
	}

	if c.Bool("rollback-tree") || c.Bool("rollback-sk-cache") || c.Bool("rollback-vm-runners-cache") {
		fmt.Println("rollback-db: --rollback-tree/--rollback-sk-cache/--rollback-vm-runners-cache are no-ops for this node; it has no separate state-tree, state-keeper, or VM-runner cache outside the relational store rolled back by --rollback-postgres")
	}

	if c.Bool("rollback-postgres") {
		if err := store.RollbackPostgres(ctx, uint64(batchNumber)); err != nil {
			return err
		}
		fmt.Printf("rolled back batch, vote, withdrawal, and pending-dispatch rows above batch %d\n", batchNumber)
	}

	if c.Bool("rollback-snapshots") {
		if err := store.RollbackSnapshots(ctx, uint64(batchNumber)); err != nil {
			return err
		}
		fmt.Printf("rolled back wallet snapshots above batch %d's commit height\n", batchNumber)
	}

	return nil
}

// confirm prompts for a y/n answer on stdin, unless --yes was passed.
func confirm(c *cli.Context, prompt string) bool {
	if c.Bool("yes") {
		return true
	}

	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
