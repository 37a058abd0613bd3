// cmd/main.go
package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Corn-mrb/citadelpay/internal/audit"
	"github.com/Corn-mrb/citadelpay/internal/bot"
	"github.com/Corn-mrb/citadelpay/internal/config"
	"github.com/Corn-mrb/citadelpay/internal/ledger"
	"github.com/Corn-mrb/citadelpay/internal/logging"
	"github.com/Corn-mrb/citadelpay/internal/redpacket"
	"github.com/Corn-mrb/citadelpay/internal/store"
	"github.com/Corn-mrb/citadelpay/internal/txlog"
	"github.com/Corn-mrb/citadelpay/internal/wallet"
	"github.com/Corn-mrb/citadelpay/pkg/lnbits"
)

func main() {
	logging.Init()
	defer logging.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	balances, err := store.Open(filepath.Join(cfg.DataDir, "balances.json"))
	if err != nil {
		log.Fatalf("Failed to open balances store: %v", err)
	}
	packets, err := store.Open(filepath.Join(cfg.DataDir, "redpackets.json"))
	if err != nil {
		log.Fatalf("Failed to open redpackets store: %v", err)
	}

	// The Postgres mirror is optional; the file log is authoritative.
	var sinks []txlog.Sink
	if cfg.DatabaseURL != "" {
		mirror, err := audit.Open(cfg.DatabaseURL, cfg.MigrationsPath)
		if err != nil {
			log.Fatalf("Failed to open audit mirror: %v", err)
		}
		defer mirror.Close()
		sinks = append(sinks, mirror)
	}

	txLog, err := txlog.Open(filepath.Join(cfg.DataDir, "transactions.log"), sinks...)
	if err != nil {
		log.Fatalf("Failed to open transaction log: %v", err)
	}
	defer txLog.Close()

	ln, err := lnbits.NewClient(cfg.LNbitsURL, cfg.LNbitsAPIKey)
	if err != nil {
		log.Fatalf("Failed to create LNbits client: %v", err)
	}

	bank := ledger.New(balances)
	svc := wallet.NewService(cfg, bank, txLog, ln)
	engine := redpacket.NewEngine(packets, bank, txLog, cfg.RedpacketTTL, cfg.MaxRedpacketSlots)
	defer engine.Stop()

	b, err := bot.NewBot(cfg, svc, engine)
	if err != nil {
		log.Fatalf("Failed to create bot: %v", err)
	}

	// Recover escrow timers before serving any traffic: a crash must
	// never leave an overdue packet un-refunded.
	if err := engine.RestoreTimers(); err != nil {
		log.Fatalf("Failed to restore redpacket timers: %v", err)
	}

	go b.Start()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	b.Stop()
	log.Println("Shutting down...")
}
