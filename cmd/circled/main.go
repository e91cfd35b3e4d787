package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"SavingsCircle/internal/circle"
	"SavingsCircle/internal/config"
	"SavingsCircle/internal/keeper"
	"SavingsCircle/internal/ledger"
	"SavingsCircle/internal/model"
	"SavingsCircle/internal/notifier"
	"SavingsCircle/internal/recorder"
	"SavingsCircle/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("[INFO] circled starting...")

	// Load config
	cfgPath := "configs/config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		cfgPath = v
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("[FATAL] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[FATAL] config validation: %v", err)
	}
	for _, p := range []string{cfg.Ledger.StateFile, cfg.Database.SQLitePath, cfg.Database.HistoryPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			log.Fatalf("[FATAL] create data dir for %s: %v", p, err)
		}
	}

	// Init ledger
	led, err := ledger.NewLedger(cfg.Ledger.StateFile)
	if err != nil {
		log.Fatalf("[FATAL] init ledger: %v", err)
	}
	if err := mintGenesis(led, cfg.Ledger.Genesis); err != nil {
		log.Fatalf("[FATAL] mint genesis balances: %v", err)
	}

	// Init circle store
	st, err := sqlite.Open(cfg.Database.SQLitePath)
	if err != nil {
		log.Fatalf("[FATAL] open circle store: %v", err)
	}
	defer st.Close()

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.HistoryPath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.HistoryPath)
		if err != nil {
			log.Printf("[WARN] init sqlite recorder failed, using noop: %v", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
			defer sr.Close()
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}

	eng, err := circle.NewEngine(st, led, circle.WithRecorder(rec), circle.WithPolicy(cfg.ToPolicy()))
	if err != nil {
		log.Fatalf("[FATAL] init engine: %v", err)
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := bootstrap(ctx, eng, cfg.Circles); err != nil {
		log.Fatalf("[FATAL] bootstrap circles: %v", err)
	}

	// Init notifier
	var tn *notifier.TelegramNotifier
	var n keeper.Notifier = notifier.LogNotifier{}
	if cfg.TelegramEnabled() {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		n = tn
	} else {
		log.Println("[WARN] telegram not configured, notifications go to the log")
	}

	// Init keeper
	kp := keeper.NewKeeper(ctx, eng, n, rec, model.Address(cfg.Keeper.Caller))
	if err := kp.Register(cfg.Keeper.Cron, cfg.Keeper.DigestCron); err != nil {
		log.Fatalf("[FATAL] register cron tasks: %v", err)
	}
	kp.Start()
	defer kp.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, kp.HandleCommand)
		log.Println("[INFO] Telegram polling started")
	}

	if os.Getenv("RUN_ON_START") == "true" {
		log.Println("[INFO] RUN_ON_START enabled, sweeping due circles now")
		go kp.Sweep(ctx)
	}

	log.Println("[INFO] circled is running. Press Ctrl+C to stop.")

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[INFO] shutdown signal received, stopping...")
	cancel()
	log.Println("[INFO] circled stopped")
}

// mintGenesis credits the configured balances into a fresh ledger.
func mintGenesis(led *ledger.Ledger, grants []config.Grant) error {
	if len(led.GetState().Balances) > 0 {
		return nil
	}
	for _, g := range grants {
		if err := led.Mint(g.Asset, model.Address(g.Account), g.Amount); err != nil {
			return err
		}
		log.Printf("[INFO] minted %d %s to %s", g.Amount, g.Asset, g.Account)
	}
	return nil
}

// bootstrap creates the configured circles when the store is empty.
func bootstrap(ctx context.Context, eng *circle.Engine, specs []config.CircleSpec) error {
	ids, err := eng.ListCircles(ctx)
	if err != nil {
		return err
	}
	if len(ids) > 0 || len(specs) == 0 {
		log.Printf("[INFO] %d circle(s) loaded", len(ids))
		return nil
	}
	for _, s := range specs {
		owner := model.Address(s.Owner)
		c, err := eng.CreateCircle(ctx, owner, s.ToConfig())
		if err != nil {
			return err
		}
		if s.Reserve > 0 {
			if err := eng.FundReserve(ctx, c.ID, owner, s.Reserve); err != nil {
				return err
			}
		}
		if s.AutoJoin {
			for _, m := range c.Config.Members {
				if err := eng.JoinCircle(ctx, c.ID, m); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
