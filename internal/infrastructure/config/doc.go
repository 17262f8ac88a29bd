// Package config handles loading and validating AVR sync service configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (AVRSYNC_*)
//   - Per-receiver defaults (port 60128, max volume 75, 45s power-on delay)
//   - Validation of required fields
//
// Security Considerations:
//   - MQTT and InfluxDB credentials should be set via environment variables
//   - power.on_command and power.off_command are run through /bin/sh; the
//     config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/avrsync.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, r := range cfg.Receivers {
//	    fmt.Println(r.ID, r.Address())
//	}
package config
