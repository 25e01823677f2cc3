package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/dropspot/internal/adapter/storage"
	"github.com/rl1809/dropspot/internal/config"
	"github.com/rl1809/dropspot/internal/core/domain"
	"github.com/rl1809/dropspot/internal/core/ranking"
	"github.com/rl1809/dropspot/internal/core/service"
	"github.com/rl1809/dropspot/internal/port"
)

func main() {
	var (
		configPath = pflag.String("config", "", "path to a YAML config file (defaults to $"+config.EnvConfigPath+")")
		stock      = pflag.Int("stock", 20, "units in the drop")
		users      = pflag.Int("users", 50, "waitlist members claiming concurrently")
		joiners    = pflag.Int("join-concurrency", 32, "parallel joins while filling the waitlist")
	)
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := config.SetupLogger(cfg)

	if err := run(cfg, logger, *stock, *users, *joiners); err != nil {
		fmt.Printf("FAIL: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, stock, users, joiners int) error {
	ctx := context.Background()

	store, err := storage.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	var counter port.StockCounter
	if cfg.RedisAddr != "" {
		rdb, err := storage.OpenRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		counter = storage.NewRedisAdapter(rdb)
	}

	clock := service.SystemClock{}
	ranker := ranking.New(cfg.PrioritySeed)
	drops := service.NewDropService(store, counter, service.NewDropCache(cfg.DropCacheSize, cfg.DropCacheTTL), clock, logger)
	waitlist := service.NewWaitlistService(store, drops, ranker, clock, logger)
	claims := service.NewClaimService(store, counter, drops, ranker, clock, service.ClaimConfig{
		LaneTimeout:     cfg.LaneTimeout,
		CommitTimeout:   cfg.CommitTimeout,
		LaneIdleTimeout: cfg.LaneIdleTimeout,
	}, logger)

	// The claim window is already open so joins and claims both land in it.
	now := clock.Now()
	drop, err := drops.CreateDrop(ctx, domain.DropSpec{
		Title:          "stress test drop",
		Stock:          stock,
		WaitlistOpenAt: now.Add(-time.Hour),
		ClaimOpenAt:    now.Add(-time.Minute),
		ClaimCloseAt:   now.Add(time.Hour),
	})
	if err != nil {
		return fmt.Errorf("create drop: %w", err)
	}

	userIDs := make([]string, users)
	for i := range userIDs {
		userIDs[i] = fmt.Sprintf("stress-user-%d", i)
	}

	jg, jctx := errgroup.WithContext(ctx)
	jg.SetLimit(joiners)
	for _, id := range userIDs {
		jg.Go(func() error {
			_, err := waitlist.Join(jctx, drop.ID, id)
			return err
		})
	}
	if err := jg.Wait(); err != nil {
		return fmt.Errorf("fill waitlist: %w", err)
	}

	active, err := store.ListEntries(ctx, drop.ID, domain.EntryStatusActive)
	if err != nil {
		return fmt.Errorf("list entries: %w", err)
	}
	ranked := ranker.Rank(drop, active)

	var (
		mu       sync.Mutex
		winners  = make(map[string]string)
		soldOut  atomic.Int32
		busy     atomic.Int32
		rejected atomic.Int32
	)

	start := time.Now()
	cg, cctx := errgroup.WithContext(ctx)
	for _, id := range userIDs {
		cg.Go(func() error {
			claim, err := claims.Claim(cctx, drop.ID, id)
			switch {
			case err == nil:
				mu.Lock()
				winners[id] = claim.ClaimCode
				mu.Unlock()
			case errors.Is(err, domain.ErrSoldOut):
				soldOut.Add(1)
			case errors.Is(err, domain.ErrAllocatorBusy):
				busy.Add(1)
			case domain.IsBusinessError(err):
				rejected.Add(1)
			default:
				return fmt.Errorf("claim for %s: %w", id, err)
			}
			return nil
		})
	}
	if err := cg.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	final, err := store.GetDrop(ctx, drop.ID)
	if err != nil || final == nil {
		return fmt.Errorf("reload drop: %v", err)
	}
	records, err := store.ListClaims(ctx, drop.ID)
	if err != nil {
		return fmt.Errorf("list claims: %w", err)
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Storage:          %s\n", cfg.Storage)
	fmt.Printf("Drop:             %s\n", drop.ID)
	fmt.Printf("Stock:            %d\n", stock)
	fmt.Printf("Claimants:        %d\n", users)
	fmt.Printf("Winners:          %d\n", len(winners))
	fmt.Printf("Sold out:         %d\n", soldOut.Load())
	fmt.Printf("Allocator busy:   %d\n", busy.Load())
	fmt.Printf("Other rejections: %d\n", rejected.Load())
	fmt.Printf("Remaining stock:  %d\n", final.RemainingStock)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	expected := min(stock, users)
	top := make(map[string]bool, expected)
	for _, e := range ranked[:expected] {
		top[e.UserID] = true
	}

	var failures []string
	for id := range winners {
		if !top[id] {
			failures = append(failures, fmt.Sprintf("%s won but is outside the top %d", id, expected))
		}
	}
	if busy.Load() == 0 && len(winners) != expected {
		failures = append(failures, fmt.Sprintf("expected %d winners, got %d", expected, len(winners)))
	}
	if len(records) != len(winners) {
		failures = append(failures, fmt.Sprintf("store holds %d claims for %d winners", len(records), len(winners)))
	}
	if final.RemainingStock != stock-len(records) {
		failures = append(failures, fmt.Sprintf("remaining stock %d, expected %d", final.RemainingStock, stock-len(records)))
	}
	if rejected.Load() != 0 {
		failures = append(failures, fmt.Sprintf("%d claims rejected for reasons other than stock", rejected.Load()))
	}

	if len(failures) > 0 {
		for _, f := range failures {
			fmt.Printf("FAIL: %s\n", f)
		}
		return fmt.Errorf("%d checks failed", len(failures))
	}
	fmt.Printf("PASS: %d winners, all within the top %d ranked entries, no oversell\n", len(winners), expected)
	return nil
}
