// Command opsctl runs one ingestion operation and prints its summary as JSON.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"papp/ingestion/internal/client"
	"papp/ingestion/internal/config"
	"papp/ingestion/internal/ingest"
	"papp/ingestion/internal/queue"
	"papp/ingestion/internal/repository"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const usage = `usage: opsctl <command> [flags]

commands:
  discover                          run match discovery for every league
  reconcile                         rebuild the snapshot schedule
  backfill                          backfill final scores
  collect -match <id>               collect one snapshot now
  status                            data completeness overview
  purge -before <RFC3339> -confirm  delete incomplete matches
  delete-snapshot -id <id>          delete one snapshot
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.MustLoad()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := run(ctx, cfg, os.Args[1], os.Args[2:])
	if err != nil {
		log.Fatal().Err(err).Str("command", os.Args[1]).Msg("Command failed")
	}

	data, err := sonic.ConfigDefault.MarshalIndent(out, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to encode result")
	}
	fmt.Println(string(data))
}

func run(ctx context.Context, cfg *config.Config, cmd string, args []string) (interface{}, error) {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	matchID := fs.Int64("match", 0, "match id (collect)")
	snapshotID := fs.Int64("id", 0, "snapshot id (delete-snapshot)")
	before := fs.String("before", "", "RFC3339 cutoff (purge)")
	confirm := fs.Bool("confirm", false, "confirm a destructive purge")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	db, err := repository.NewDatabase(ctx, repository.Config{
		Host:     cfg.DatabaseHost,
		Port:     strconv.Itoa(cfg.DatabasePort),
		User:     cfg.DatabaseUser,
		Password: cfg.DatabasePassword,
		Database: cfg.DatabaseName,
		SSLMode:  cfg.DatabaseSSLMode,
		MaxConns: int32(cfg.LeagueConcurrency + 2),
	})
	if err != nil {
		return nil, err
	}
	defer db.Close()

	deps := ingest.Deps{
		Provider: client.NewClient(
			cfg.OddsAPIBaseURL,
			cfg.OddsAPIKey,
			cfg.OddsAPITimeout,
			client.WithRegions(cfg.OddsAPIRegions),
			client.WithMaxRetries(cfg.OddsAPIMaxRetries),
			client.WithMaxConcurrency(cfg.OddsAPIMaxConcurrency),
			client.WithScoresDaysFrom(cfg.OddsAPIScoresDaysFrom),
		),
		Matches:     db.Matches,
		Snapshots:   db.Snapshots,
		Maintenance: db.Matches,
	}

	// only the commands that enqueue jobs need Redis
	if cmd == "discover" || cmd == "reconcile" {
		rdb, err := queue.Connect(ctx, queue.Config{
			Addr:     cfg.RedisAddr(),
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		defer rdb.Close()
		deps.Jobs = queue.NewRedisQueue(rdb, cfg.QueuePrefix, cfg.QueueVisibilityTimeout)
	}

	svc := ingest.NewService(ingest.NewConfig(cfg), deps)

	switch cmd {
	case "discover":
		return svc.TriggerDiscovery(ctx)
	case "reconcile":
		return svc.TriggerReconciliation(ctx)
	case "backfill":
		return svc.TriggerBackfill(ctx)
	case "collect":
		if *matchID <= 0 {
			return nil, fmt.Errorf("collect requires -match")
		}
		return svc.CollectSnapshot(ctx, *matchID)
	case "status":
		return svc.StatusOverview(ctx)
	case "purge":
		cutoff, err := time.Parse(time.RFC3339, *before)
		if err != nil {
			return nil, fmt.Errorf("purge requires -before in RFC3339: %w", err)
		}
		if !*confirm {
			return nil, fmt.Errorf("purge deletes data; rerun with -confirm")
		}
		deleted, err := svc.PurgeIncomplete(ctx, cutoff)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"deleted": deleted, "before": cutoff.UTC()}, nil
	case "delete-snapshot":
		if *snapshotID <= 0 {
			return nil, fmt.Errorf("delete-snapshot requires -id")
		}
		if err := db.Snapshots.DeleteSnapshot(ctx, *snapshotID); err != nil {
			return nil, err
		}
		return map[string]interface{}{"deleted": *snapshotID}, nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return nil, fmt.Errorf("unknown command %q", cmd)
	}
}
