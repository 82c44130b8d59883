// Gray Logic NAD bridge
//
// nadbridge connects one NAD receiver (NADCP over TCP or RS-232) to the
// Gray Logic MQTT bus. It publishes every receiver channel as retained
// state, executes commands from Core, records channel history and an
// audit trail in SQLite, and serves a small HTTP/WebSocket API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/gray-logic-nad/migrations"

	"github.com/nerrad567/gray-logic-nad/internal/api"
	"github.com/nerrad567/gray-logic-nad/internal/audit"
	"github.com/nerrad567/gray-logic-nad/internal/bridges/nad"
	"github.com/nerrad567/gray-logic-nad/internal/history"
	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/mqtt"
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

// Audit entries outlive channel history.
const auditRetentionPeriod = 90 * 24 * time.Hour

// counterInterval is how often bridge counters go to InfluxDB.
const counterInterval = time.Minute

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // startup sequence: one step per component
	log := logging.Default()
	log.Info("starting Gray Logic NAD bridge",
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

	// Receiver settings are checked against the model before anything
	// connects.
	nadCfg := receiverConfig(cfg.Receiver)
	if err := nadCfg.Validate(); err != nil {
		return fmt.Errorf("receiver config: %w", err)
	}

	db, err := database.Open(database.ConfigFrom(cfg.Database))
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
	if applied, _, statusErr := db.GetMigrationStatus(ctx); statusErr == nil {
		log.Info("database migrations complete", "applied", len(applied))
	}

	historyRepo := history.NewSQLiteRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// The broker holds "offline" for the bridge until it reconnects.
	lwt, err := json.Marshal(nad.NewLWTMessage(cfg.Bridge.ID))
	if err != nil {
		return fmt.Errorf("encoding LWT: %w", err)
	}
	mqttClient, err := mqtt.Connect(cfg.MQTT, mqtt.WithWill(nad.HealthTopic(), lwt))
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	var observers []nad.StateObserver
	if cfg.History.Enabled {
		observers = append(observers, historyRepo)
	}
	if influxClient != nil {
		observers = append(observers, history.TimeSeries{BridgeID: cfg.Bridge.ID, Writer: influxClient})
	}
	var hub *api.Hub
	if cfg.API.Enabled {
		hub = api.NewHub(cfg.WebSocket, log.Component("websocket"))
		observers = append(observers, hub)
	}

	handler := nad.NewHandler(nadCfg, nad.WithLogger(log.Component("nad")))
	bridge, err := nad.NewBridge(nad.BridgeOptions{
		BridgeID:       cfg.Bridge.ID,
		Version:        version,
		HealthInterval: cfg.GetHealthInterval(),
		Handler:        handler,
		MQTTClient:     &mqttBridgeAdapter{client: mqttClient},
		Observers:      observers,
		Audit:          auditRepo,
		Logger:         log.Component("nad"),
	})
	if err != nil {
		return fmt.Errorf("creating NAD bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		bridge.Stop()
		return fmt.Errorf("starting NAD bridge: %w", err)
	}
	defer func() {
		log.Info("stopping NAD bridge")
		bridge.Stop()
	}()

	g, gctx := errgroup.WithContext(ctx)

	if cfg.API.Enabled {
		server, err := api.New(api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.Component("api"),
			Bridge:  bridge,
			MQTT:    mqttClient,
			DB:      db,
			History: historyRepo,
			Audit:   auditRepo,
			Hub:     hub,
			Version: version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(gctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			return server.Close()
		})
	} else {
		log.Info("API disabled")
	}

	if cfg.History.Enabled {
		historyRetention := history.Retention{
			Name:       "history",
			Pruner:     historyRepo,
			Checkpoint: db,
			Keep:       cfg.GetHistoryRetention(),
			Logger:     log.Component("retention"),
		}
		g.Go(func() error { return historyRetention.Run(gctx) })
	}
	auditRetention := history.Retention{
		Name:       "audit",
		Pruner:     auditRepo,
		Checkpoint: db,
		Keep:       auditRetentionPeriod,
		Logger:     log.Component("retention"),
	}
	g.Go(func() error { return auditRetention.Run(gctx) })

	if influxClient != nil {
		g.Go(func() error {
			writeCounters(gctx, bridge, influxClient, cfg.Bridge.ID, counterInterval)
			return nil
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"receiver", nadCfg.Address,
		"zones", nadCfg.Zones,
	)

	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("Gray Logic NAD bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// receiverConfig maps the YAML receiver section onto the handler config.
func receiverConfig(rc config.ReceiverConfig) nad.Config {
	return nad.Config{
		Address:           rc.Address,
		Model:             rc.Model,
		Zones:             rc.Zones,
		Sources:           rc.Sources,
		Tuner:             rc.Tuner,
		PresetFile:        rc.PresetFile,
		RefreshInterval:   rc.RefreshInterval,
		BandCheckInterval: rc.BandCheckInterval,
		RDSPollInterval:   rc.RDSPollInterval,
		XMPollInterval:    rc.XMPollInterval,
		ConnectTimeout:    rc.Connection.ConnectTimeout,
		ReadTimeout:       rc.Connection.ReadTimeout,
		WriteTimeout:      rc.Connection.WriteTimeout,
		SendRetries:       rc.Connection.SendRetries,
		FastRetries:       rc.Connection.FastRetries,
		FastRetryInterval: rc.Connection.FastRetryInterval,
		SlowRetryInterval: rc.Connection.SlowRetryInterval,
	}
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when InfluxDB is disabled.
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

// counterSource is the part of the bridge writeCounters samples.
type counterSource interface {
	GetMetrics() nad.BridgeMetrics
}

// counterSink receives counter samples (influxdb.Client).
type counterSink interface {
	WriteBridgeCounters(bridgeID string, counters influxdb.BridgeCounters)
}

// writeCounters samples bridge counters every interval until ctx is
// cancelled.
func writeCounters(ctx context.Context, src counterSource, sink counterSink, bridgeID string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sink.WriteBridgeCounters(bridgeID, bridgeCounters(src.GetMetrics()))
		}
	}
}

func bridgeCounters(m nad.BridgeMetrics) influxdb.BridgeCounters {
	return influxdb.BridgeCounters{
		Connected:      m.Connected,
		LinesTx:        m.LinesTx,
		LinesRx:        m.LinesRx,
		ParseErrors:    m.ParseErrors,
		Reconnects:     m.Reconnects,
		CommandsOK:     m.CommandsOK,
		CommandsFailed: m.CommandsFailed,
	}
}

// mqttBridgeAdapter adapts the infrastructure MQTT client to the NAD
// bridge's MQTTClient interface. The difference is the handler signature:
//   - infrastructure mqtt: func(topic, payload []byte) error
//   - NAD bridge expects:  func(topic, payload []byte)
type mqttBridgeAdapter struct {
	client *mqtt.Client
}

// Publish implements nad.MQTTClient.
func (a *mqttBridgeAdapter) Publish(topic string, payload []byte, qos byte, retained bool) error {
	return a.client.Publish(topic, payload, qos, retained)
}

// Subscribe implements nad.MQTTClient.
func (a *mqttBridgeAdapter) Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error {
	return a.client.Subscribe(topic, qos, func(t string, p []byte) error {
		handler(t, p)
		return nil
	})
}

// IsConnected implements nad.MQTTClient.
func (a *mqttBridgeAdapter) IsConnected() bool {
	return a.client.IsConnected()
}
