// Command ledger-export dumps every referral account's reward ledger as
// gzip-compressed NDJSON, one reward event per line, for offline accounting
// reconciliation. Accounts whose stored balances drift from their event sum
// are reported and counted, not silently exported.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/vastramlabs/vastram-core/internal/domain/referral"
	"github.com/vastramlabs/vastram-core/internal/repository"
)

const fetchWorkers = 8

func main() {
	var (
		databaseURL string
		outFile     string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&outFile, "out", "ledger-export.ndjson.gz", "output file path")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, outFile); err != nil {
		slog.Error("ledger export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("ledger export completed successfully", slog.String("out", outFile))
}

func run(ctx context.Context, databaseURL, outFile string) error {
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := repository.NewReferralRepository(pool)

	userIDs, err := listUserIDs(ctx, pool)
	if err != nil {
		return errors.Wrap(err, "list accounts")
	}
	slog.Info("exporting accounts", slog.Int("count", len(userIDs)))

	f, err := os.Create(outFile)
	if err != nil {
		return errors.Wrap(err, "create output file")
	}
	defer func() { _ = f.Close() }()

	gz := pgzip.NewWriter(f)
	defer func() { _ = gz.Close() }()

	// Fetch accounts concurrently; a single writer goroutine owns the
	// compressed stream so lines never interleave.
	lines := make(chan []byte, fetchWorkers)
	ids := make(chan string)
	var drifted atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(ids)
		for _, id := range userIDs {
			select {
			case ids <- id:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	var fetchers errgroup.Group
	for range fetchWorkers {
		fetchers.Go(func() error {
			for id := range ids {
				a, err := repo.GetAccount(gctx, id)
				if err != nil {
					return errors.Wrapf(err, "get account %s", id)
				}
				if err := a.Reconcile(); err != nil {
					slog.Warn("balance drift", slog.String("error", err.Error()))
					drifted.Add(1)
				}
				for _, ev := range a.Rewards {
					select {
					case lines <- encodeEvent(a.UserID, ev):
					case <-gctx.Done():
						return gctx.Err()
					}
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		defer close(lines)
		return fetchers.Wait()
	})
	g.Go(func() error {
		for line := range lines {
			if _, err := gz.Write(line); err != nil {
				return errors.Wrap(err, "write output")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "flush output")
	}
	if n := drifted.Load(); n > 0 {
		return errors.Errorf("%d account(s) failed balance reconciliation", n)
	}
	return nil
}

func listUserIDs(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx, `SELECT user_id FROM referral_accounts ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (string, error) {
		var id string
		err := row.Scan(&id)
		return id, err
	})
}

// encodeEvent renders one reward event as an NDJSON line.
func encodeEvent(userID string, ev referral.RewardEvent) []byte {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("user_id")
	e.Str(userID)
	e.FieldStart("event_id")
	e.Str(ev.ID)
	e.FieldStart("type")
	e.Str(string(ev.Type))
	e.FieldStart("amount")
	e.Str(ev.Amount.String())
	if ev.Description != "" {
		e.FieldStart("description")
		e.Str(ev.Description)
	}
	if ev.ReferredUserID != "" {
		e.FieldStart("referred_user_id")
		e.Str(ev.ReferredUserID)
	}
	if ev.OrderID != "" {
		e.FieldStart("order_id")
		e.Str(ev.OrderID)
	}
	e.FieldStart("created_at")
	e.Str(ev.CreatedAt.Format(time.RFC3339Nano))
	e.ObjEnd()

	return append(e.Bytes(), '\n')
}
