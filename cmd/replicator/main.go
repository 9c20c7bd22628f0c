package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/devrev/replicator/internal/config"
	"github.com/devrev/replicator/internal/model"
	"github.com/devrev/replicator/internal/replicator"
	"github.com/devrev/replicator/internal/resolver"
	"github.com/devrev/replicator/internal/server"
	"github.com/devrev/replicator/internal/storage"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.String("host", cfg.Server.Host),
		zap.Int("replicator_port", cfg.Server.ReplicatorPort),
		zap.Int("replication_mode", cfg.Replication.Mode))

	// The gossip resolver advertises the replicator service address, which
	// is fixed by configuration for daemon deployments.
	var res resolver.Resolver
	var gossip *resolver.Gossip
	if cfg.Gossip.Enabled {
		serviceAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.ReplicatorPort)
		gossip, err = resolver.NewGossip(&resolver.GossipConfig{
			NodeID:    cfg.Server.NodeID,
			BindPort:  cfg.Gossip.BindPort,
			SeedNodes: cfg.Gossip.SeedNodes,
		}, serviceAddr, logger)
		if err != nil {
			logger.Error("Failed to initialize gossip resolver", zap.Error(err))
		} else {
			defer gossip.Shutdown()
			res = gossip
			logger.Info("Gossip resolver initialized")
		}
	}

	host, err := replicator.New(cfg, res, logger)
	if err != nil {
		logger.Fatal("Failed to start replicator host", zap.Error(err))
	}

	// Register the databases declared in the configuration.
	for _, db := range cfg.Databases {
		role, err := model.ParseRole(db.Role)
		if err != nil {
			logger.Fatal("Invalid database role", zap.String("db", db.Name), zap.Error(err))
		}
		if err := host.AddDatabase(db.Name, storage.NewMemStore(), role, db.UpstreamAddr); err != nil {
			logger.Fatal("Failed to add database", zap.String("db", db.Name), zap.Error(err))
		}
	}

	// Start metrics server if enabled
	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = server.NewMetricsServer(&server.MetricsServerConfig{
			Port: cfg.Metrics.Port,
			Path: cfg.Metrics.Path,
		}, host.Metrics(), logger)
		metricsServer.Start()
	}

	logger.Info("Replicator started", zap.String("addr", host.Addr()))

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down gracefully...")
	if metricsServer != nil {
		if err := metricsServer.Stop(); err != nil {
			logger.Error("Failed to stop metrics server", zap.Error(err))
		}
	}
	if err := host.Close(); err != nil {
		logger.Error("Failed to close replicator host", zap.Error(err))
	}
}

// initLogger initializes the zap logger
func initLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	cfg.Level = lvl
	return cfg.Build()
}
