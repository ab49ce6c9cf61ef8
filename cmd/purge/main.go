package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taucao-ruby/soleil-hostel-sub004/config"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/logger"
	"github.com/taucao-ruby/soleil-hostel-sub004/internal/repository"
)

// Purge physically removes soft-deleted bookings past the retention window.
// It refuses to delete anything without -confirm; -dry-run reports the count
// and exits.
func main() {
	olderThanDays := flag.Int("older-than", 0, "purge rows soft-deleted more than this many days ago (default: worker.retention_days)")
	dryRun := flag.Bool("dry-run", false, "report how many rows would be purged and exit")
	confirm := flag.Bool("confirm", false, "actually delete rows")
	flag.Parse()

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logger.New(logger.Config{}).Fatal("load config", "error", err)
	}

	log := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "hostel-purge",
	})

	days := *olderThanDays
	if days == 0 {
		days = cfg.Worker.RetentionDays
	}
	if days <= 0 {
		log.Fatal("retention window must be positive", "older_than_days", days)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		log.Fatal("connect postgres", "error", err)
	}
	defer pool.Close()

	repo := repository.NewBookingRepository(pool)
	cutoff := time.Now().AddDate(0, 0, -days)

	count, err := repo.CountDeletedBefore(ctx, cutoff)
	if err != nil {
		log.Fatal("count purgeable rows", "error", err)
	}

	fmt.Printf("%d soft-deleted bookings older than %s (%d days)\n", count, cutoff.Format("2006-01-02"), days)

	if *dryRun {
		return
	}
	if !*confirm {
		fmt.Println("refusing to purge without -confirm (use -dry-run to preview)")
		os.Exit(1)
	}
	if count == 0 {
		return
	}

	purged, err := repo.PurgeDeletedBefore(ctx, cutoff)
	if err != nil {
		log.Fatal("purge", "error", err)
	}
	log.Info("purged soft-deleted bookings", "purged", purged, "cutoff", cutoff.Format(time.RFC3339))
}
