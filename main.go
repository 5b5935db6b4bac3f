package main

import (
	"github.com/bigbagadawgz/wager-paper-scissors/config"
	"github.com/bigbagadawgz/wager-paper-scissors/ledger"
	"github.com/bigbagadawgz/wager-paper-scissors/logger"
	"github.com/bigbagadawgz/wager-paper-scissors/monitor"
	"github.com/bigbagadawgz/wager-paper-scissors/persistence"
	"github.com/bigbagadawgz/wager-paper-scissors/server"
)

func main() {
	// Initialize logger
	logger.Init()

	// Load configuration
	cfg, err := config.LoadConfig(".")
	if err != nil {
		logger.Log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize the match store
	store, err := newStore(cfg)
	if err != nil {
		logger.Log.Fatalf("Failed to initialize match store: %v", err)
	}
	logger.Log.Infof("Match store ready (driver: %s)", cfg.Database.Driver)

	// Ledger provider client
	provider := ledger.NewHTTPClient(cfg.Ledger.Endpoint, cfg.Ledger.RequestTimeout, cfg.Ledger.MaxRetries)

	// Metrics
	mon := monitor.NewMonitor("wager_paper_scissors")
	if cfg.Server.MetricsAddress != "" {
		mon.StartServer(cfg.Server.MetricsAddress)
	}

	// Initialize the match server
	gameServer := server.NewGameServer(server.Options{
		HTTPAddress:    cfg.Server.HTTPAddress,
		RPCAddress:     cfg.Server.RPCAddress,
		CancelDeadline: cfg.Match.CancelDeadline,
		SweepInterval:  cfg.Match.SweepInterval,
	}, store, provider, mon)

	// Start server
	logger.Log.Infof("Starting match server on %s", cfg.Server.HTTPAddress)
	if err := gameServer.Start(); err != nil {
		logger.Log.Fatalf("Failed to start server: %v", err)
	}
}

func newStore(cfg *config.Config) (persistence.MatchStore, error) {
	pg := cfg.Database.Postgres
	switch cfg.Database.Driver {
	case "postgres":
		return persistence.NewPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	case "memory":
		return persistence.NewMemory(), nil
	default:
		return persistence.NewGormPostgreSQL(pg.Host, pg.Port, pg.User, pg.Password, pg.DBName)
	}
}
