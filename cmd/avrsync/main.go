// avrsync keeps networked A/V receivers and their consumers in agreement.
//
// It polls each configured receiver over eISCP, publishes the reconciled
// state to MQTT, WebSocket and the HTTP API, and turns consumer intents
// into device commands followed by a delayed resync.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/gray-logic-avr/internal/api"
	"github.com/nerrad567/gray-logic-avr/internal/bridges/onkyo"
	"github.com/nerrad567/gray-logic-avr/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-avr/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-avr/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-avr/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-avr/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-avr/internal/reachability"
	"github.com/nerrad567/gray-logic-avr/internal/receiver"
	"github.com/nerrad567/gray-logic-avr/internal/statebus"
	"github.com/nerrad567/gray-logic-avr/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	// Default configuration file path
	defaultConfigPath = "configs/config.yaml"

	// historyRetention is how long state history rows are kept.
	historyRetention = 30 * 24 * time.Hour

	// historyPruneInterval is how often old history rows are removed.
	historyPruneInterval = 6 * time.Hour
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It blocks until ctx is cancelled.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // Sequential wiring of optional components
	log := logging.Default()
	log.Info("starting avrsync",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"receivers", len(cfg.Receivers),
		"level", cfg.Logging.Level,
	)

	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	history := receiver.NewSQLiteStateHistory(db.DB)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	manager := receiver.NewManager(receiver.Options{
		Cache:        receiver.NewSQLiteStateCache(db.DB),
		History:      history,
		Metrics:      receiver.NewMetrics(registry),
		Logger:       log.With("component", "receiver"),
		PollInterval: cfg.PollInterval(),
		Cooldown:     cfg.Cooldown(),
		SettleDelay:  cfg.SettleDelay(),
	})

	for _, rc := range cfg.Receivers {
		d, client, buildErr := buildDevice(rc, log)
		if buildErr != nil {
			return fmt.Errorf("configuring receiver %s: %w", rc.ID, buildErr)
		}
		defer client.Close() //nolint:errcheck // Best effort on shutdown
		if addErr := manager.Add(d); addErr != nil {
			return fmt.Errorf("registering receiver %s: %w", rc.ID, addErr)
		}
		log.Info("receiver configured",
			"receiver_id", rc.ID,
			"address", client.Address(),
			"power_mode", rc.Power.Mode,
			"probe", rc.Probe.Method,
		)
	}

	checks := map[string]api.HealthCheck{
		"database": db.HealthCheck,
	}

	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		wireTelemetry(manager, influxClient)
		checks["influxdb"] = influxClient.HealthCheck
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		checks["mqtt"] = mqttClient.HealthCheck
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		bridge, bridgeErr := statebus.NewBridge(statebus.Options{
			MQTT:      mqttClient,
			Receivers: manager,
			Executor:  manager.Dispatcher(),
			Health: statebus.HealthReporterConfig{
				Version:  version,
				Interval: time.Duration(cfg.MQTT.HealthInterval) * time.Second,
			},
			QoS:    mqttClient.QoS(),
			Logger: log.With("component", "statebus"),
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating state bus: %w", bridgeErr)
		}
		if startErr := bridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting state bus: %w", startErr)
		}
		defer func() {
			log.Info("stopping state bus")
			bridge.Stop()
		}()
		manager.AddListener(bridge.PublishState)
	} else {
		log.Info("MQTT disabled")
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Logger:    log,
			Receivers: manager,
			Executor:  manager.Dispatcher(),
			History:   history,
			Gatherer:  registry,
			DB:        db.DB,
			Checks:    checks,
			Version:   version,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
		manager.AddListener(server.PublishState)
	} else {
		log.Info("API disabled")
	}

	if startErr := manager.Start(ctx); startErr != nil {
		return fmt.Errorf("starting receiver sync: %w", startErr)
	}
	defer manager.Stop()

	go pruneHistoryLoop(ctx, history, log)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: receiver sync, API, state bus, MQTT,
	// InfluxDB, receiver connections, database.
	return nil
}

// getConfigPath returns the configuration file path.
// Uses AVRSYNC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("AVRSYNC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// buildDevice creates the eISCP client, prober and power mechanism for one
// receiver entry and binds them into a Device.
func buildDevice(rc config.ReceiverConfig, log *logging.Logger) (*receiver.Device, *onkyo.Client, error) {
	rlog := log.ForReceiver(rc.ID)

	if unknown := onkyo.UnknownSources(rc.Sources); len(unknown) > 0 {
		return nil, nil, fmt.Errorf("sources not known to the eISCP driver: %s",
			strings.Join(unknown, ", "))
	}

	client := onkyo.New(onkyo.Config{
		Host:        rc.Host,
		Port:        rc.Port,
		Sources:     rc.Sources,
		MinInterval: rc.MinCommandInterval(),
	})
	client.SetLogger(rlog)

	var prober receiver.Prober
	switch rc.Probe.Method {
	case config.ProbeMethodHTTP:
		prober = reachability.HTTPProber{Port: rc.Probe.Port, Timeout: rc.ProbeTimeout(), Logger: rlog}
	default:
		prober = reachability.TCPProber{Port: rc.Probe.Port, Timeout: rc.ProbeTimeout(), Logger: rlog}
	}

	var power receiver.PowerSwitch
	switch rc.Power.Mode {
	case config.PowerModeCommand:
		power = receiver.CommandPowerSwitch{OnCommand: rc.Power.OnCommand, OffCommand: rc.Power.OffCommand}
	case config.PowerModeNetwork:
		power = receiver.NetworkPowerSwitch{Client: client}
	}

	d, err := receiver.NewDevice(receiver.DeviceConfig{
		ID:                     rc.ID,
		Name:                   rc.Name,
		Host:                   rc.Host,
		MaxVolume:              rc.MaxVolume,
		Sources:                rc.Sources,
		PowerOnDelay:           rc.PowerOnDelay(),
		RestoreSourceOnPowerOn: rc.RestoreSourceOnPowerOn,
		RestoreSourceDelay:     rc.RestoreSourceDelay(),
		QueryTimeout:           rc.CommandTimeout(),
		PowerTimeout:           rc.PowerTimeout(),
	}, client, prober, power)
	if err != nil {
		client.Close() //nolint:errcheck // Nothing was dialled yet
		return nil, nil, err
	}
	return d, client, nil
}

// telemetryWriter is the part of *influxdb.Client the receiver core feeds.
type telemetryWriter interface {
	WriteReceiverState(s influxdb.ReceiverSample)
	WriteSyncOutcome(receiverID, outcome string, took time.Duration)
}

// wireTelemetry records every published state and every synchronize outcome.
func wireTelemetry(manager *receiver.Manager, w telemetryWriter) {
	manager.AddListener(func(u receiver.Update) {
		w.WriteReceiverState(influxdb.ReceiverSample{
			ReceiverID: u.ReceiverID,
			Power:      u.State.Power,
			Volume:     u.State.Volume,
			Mute:       u.State.Mute,
			Source:     u.State.Source,
			SourceName: u.SourceName,
			Trigger:    string(u.Trigger),
			Time:       u.At,
		})
	})
	manager.Synchronizer().SetObserver(func(id string, outcome receiver.Outcome, took time.Duration) {
		w.WriteSyncOutcome(id, string(outcome), took)
	})
}

// historyPruner removes old history rows.
type historyPruner interface {
	Prune(ctx context.Context, olderThan time.Duration) (int64, error)
}

// pruneHistoryLoop trims the state history at startup and then periodically
// until ctx is cancelled.
func pruneHistoryLoop(ctx context.Context, h historyPruner, log *logging.Logger) {
	ticker := time.NewTicker(historyPruneInterval)
	defer ticker.Stop()

	for {
		n, err := h.Prune(ctx, historyRetention)
		switch {
		case err != nil && ctx.Err() == nil:
			log.Warn("pruning state history failed", "error", err)
		case n > 0:
			log.Info("pruned state history", "rows", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
