// Command syncctl is the sync core's ops CLI: force a sync cycle, dump
// outbox/conflict counters, and release a stuck record lock. Grounded on
// cmd/bd's cobra root-command/subcommand layout (persistent --db flag);
// all subcommands live in this file.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/pbookspro/synccore/internal/conflictlog"
	"github.com/pbookspro/synccore/internal/config"
	"github.com/pbookspro/synccore/internal/connmon"
	"github.com/pbookspro/synccore/internal/downstream"
	"github.com/pbookspro/synccore/internal/localstore/sqlitestore"
	"github.com/pbookspro/synccore/internal/outbox"
	"github.com/pbookspro/synccore/internal/recordlock"
	"github.com/pbookspro/synccore/internal/remoteapi"
	"github.com/pbookspro/synccore/internal/synccoordinator"
	"github.com/pbookspro/synccore/internal/synctypes"
	"github.com/pbookspro/synccore/internal/syncclock"
	"github.com/pbookspro/synccore/internal/syncmeta"
	"github.com/pbookspro/synccore/internal/telemetry"
	"github.com/pbookspro/synccore/internal/upstream"
)

var (
	dbPath     string
	tenant     string
	serverAddr string
	natsAddr   string
)

var rootCmd = &cobra.Command{
	Use:   "syncctl",
	Short: "Operate THE CORE's local sync state",
}

func main() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "sync.db", "Path to the local sync database")
	rootCmd.PersistentFlags().StringVar(&tenant, "tenant", "", "Tenant ID to operate on (required)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "Sync server base URL")
	rootCmd.PersistentFlags().StringVar(&natsAddr, "nats", "", "NATS server URL for chunk-applied/downstream-complete notifications")
	rootCmd.MarkPersistentFlagRequired("tenant")

	rootCmd.AddCommand(syncCmd, statusCmd, lockReleaseCmd)

	shutdown, err := telemetry.Setup("syncctl")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer shutdown(context.Background())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// components bundles every driver syncctl's subcommands need, built once
// per invocation against a real sqlite-backed store and HTTP client.
type components struct {
	store    *sqlitestore.Store
	ob       *outbox.Outbox
	meta     *syncmeta.Store
	locks    *recordlock.Manager
	conflict *conflictlog.Log
	client   remoteapi.Client
	notifier downstream.Notifier
	natsConn *nats.Conn
}

func open() (*components, error) {
	store, err := sqlitestore.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}

	clock := syncclock.SystemClock{}
	ids := syncclock.UUIDGenerator{}

	ob := outbox.New(store, clock, ids)
	meta := syncmeta.New(store)
	locks := recordlock.New(store, recordlock.NopBroadcaster{}, clock, config.LockTTL())
	conflict := conflictlog.New(store)

	var client remoteapi.Client
	if serverAddr != "" {
		client = remoteapi.NewHTTPClient(serverAddr)
	} else {
		client = remoteapi.NewFakeClient()
	}

	var natsConn *nats.Conn
	var notifier downstream.Notifier = downstream.NopNotifier{}
	if natsAddr != "" {
		natsConn, err = nats.Connect(natsAddr)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("connect nats %s: %w", natsAddr, err)
		}
		notifier = downstream.NewNatsNotifier(natsConn)
	}

	if err := locks.LoadFromStore(context.Background(), tenant); err != nil {
		store.Close()
		if natsConn != nil {
			natsConn.Close()
		}
		return nil, fmt.Errorf("load locks: %w", err)
	}

	return &components{store: store, ob: ob, meta: meta, locks: locks, conflict: conflict, client: client, notifier: notifier, natsConn: natsConn}, nil
}

func (c *components) close() {
	c.store.Close()
	if c.natsConn != nil {
		c.natsConn.Close()
	}
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Force one upstream-then-downstream sync cycle",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := open()
		if err != nil {
			return err
		}
		defer c.close()

		clock := syncclock.SystemClock{}
		ids := syncclock.UUIDGenerator{}

		up := upstream.New(c.ob, c.meta, c.locks, c.client, c.conflict, clock, ids)
		down := downstream.New(c.store, c.meta, c.client, c.conflict, clock, ids, config.DownstreamChunkSize, c.notifier)

		mon := connmon.New(connmon.ProberFunc(func(context.Context) bool { return true }), 0)
		coord := synccoordinator.New(up, down, mon, clock, config.SyncCooldown())

		ctx, span := telemetry.Tracer("syncctl").Start(cmd.Context(), "sync")
		defer span.End()

		result, err := coord.RunSync(ctx, tenant)
		if err != nil {
			return err
		}

		fmt.Printf("pushed=%d failed=%d applied=%d skipped=%d conflicts=%d dropped=%d success=%v\n",
			result.Upstream.Pushed, result.Upstream.Failed,
			result.Downstream.Applied, result.Downstream.Skipped, result.Downstream.Conflicts,
			result.Downstream.Dropped, result.Success)
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show outbox and conflict counters for a tenant",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := open()
		if err != nil {
			return err
		}
		defer c.close()

		ctx := cmd.Context()

		pending, err := c.ob.PendingCount(ctx, tenant)
		if err != nil {
			return err
		}
		review, err := c.conflict.PendingReviewCount(ctx, tenant)
		if err != nil {
			return err
		}
		lastPull, err := c.meta.GetLastPullAt(ctx, tenant)
		if err != nil {
			return err
		}
		lastSynced, err := c.meta.GetLastSyncedAt(ctx, tenant, synctypes.GlobalEntityType)
		if err != nil {
			return err
		}

		fmt.Printf("outbox pending:        %d\n", pending)
		fmt.Printf("conflicts needing review: %d\n", review)
		fmt.Printf("last pull at:          %s\n", lastPull)
		fmt.Printf("last synced at:        %s\n", lastSynced)
		return nil
	},
}

var lockReleaseCmd = &cobra.Command{
	Use:   "lock-release <entity-type> <entity-id>",
	Short: "Force-release a stuck record lock",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := open()
		if err != nil {
			return err
		}
		defer c.close()

		entityType := synctypes.EntityType(args[0])
		entityID := args[1]

		lock, found := c.locks.Get(entityType, entityID)
		if !found {
			fmt.Println("no active lock")
			return nil
		}

		if err := c.locks.Release(cmd.Context(), entityType, entityID, lock.UserID); err != nil {
			return err
		}
		fmt.Printf("released lock on %s/%s held by %s\n", entityType, entityID, lock.UserID)
		return nil
	},
}

