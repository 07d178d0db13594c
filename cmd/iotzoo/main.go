// IoTZoo Core - microcontroller device configuration service.
//
// This is the main entry point of the IoTZoo Core service. It keeps the
// device configuration of every known microcontroller in step with the
// board itself:
//   - Mirrors live configuration snapshots published over MQTT
//   - Validates edits against the device template catalog
//   - Pushes complete configurations over MQTT with an HTTP fallback
//   - Persists the known microcontrollers in SQLite
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/iotzoo/iotzoo-core/migrations"

	"github.com/iotzoo/iotzoo-core/internal/api"
	"github.com/iotzoo/iotzoo-core/internal/catalog"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/config"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/database"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/influxdb"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/logging"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/mqtt"
	"github.com/iotzoo/iotzoo-core/internal/infrastructure/rest"
	"github.com/iotzoo/iotzoo-core/internal/microcontroller"
	"github.com/iotzoo/iotzoo-core/internal/reconcile"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting IoTZoo Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	repo := microcontroller.NewSQLiteRepository(db.DB)

	templates, err := catalog.Load(cfg.Sync.TemplatesFile)
	if err != nil {
		return fmt.Errorf("loading device templates: %w", err)
	}
	log.Info("device templates loaded", "templates", templates.Len(), "file", cfg.Sync.TemplatesFile)

	mqttClient, err := mqtt.Connect(cfg.MQTT, cfg.Sync.Namespace)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", mqtt.BrokerURL(cfg.MQTT),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	influxClient, err := connectInflux(ctx, cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	deps := reconcile.Deps{
		Transport: mqttClient,
		Fallback:  rest.New(cfg.Sync),
		Repo:      repo,
		Templates: templates,
		Logger:    log.Component("reconcile"),
	}
	// A nil *influxdb.Client must not become a non-nil Recorder.
	if influxClient != nil {
		deps.Recorder = influxClient
	}
	engine, err := reconcile.New(deps, reconcile.OptionsFromConfig(cfg))
	if err != nil {
		return fmt.Errorf("creating reconcile engine: %w", err)
	}

	mqttClient.SetOnConnect(engine.HandleConnected)
	mqttClient.SetOnDisconnect(engine.HandleDisconnected)

	if startErr := engine.Start(ctx); startErr != nil {
		return fmt.Errorf("starting reconcile engine: %w", startErr)
	}
	log.Info("reconcile engine started",
		"namespace", cfg.Sync.Namespace,
		"reconnect_policy", cfg.Sync.ReconnectPolicy,
	)

	server, err := api.New(api.Deps{
		Config:           cfg.API,
		WS:               cfg.WebSocket,
		Logger:           log.Component("api"),
		Engine:           engine,
		Catalog:          templates,
		Microcontrollers: repo,
		MQTT:             mqttClient,
		DB:               db,
		Version:          version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order: API, InfluxDB, MQTT, database.
	log.Info("IoTZoo Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses IOTZOO_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("IOTZOO_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectInflux opens the optional InfluxDB client. It returns nil when
// InfluxDB is disabled.
func connectInflux(ctx context.Context, cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	if !cfg.InfluxDB.Enabled {
		log.Info("InfluxDB disabled")
		return nil, nil //nolint:nilnil // disabled is not an error
	}

	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil if InfluxDB is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}
