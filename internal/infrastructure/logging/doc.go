// Package logging provides structured logging for the AVR sync service.
//
// It wraps log/slog so every component logs the same way:
//
//   - JSON output for production, text for development
//   - Default fields (service, version) on every entry
//   - Level-based filtering (debug, info, warn, error)
//
// Configuration:
//
//	debug: false         # true forces level=debug
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	log := logger.With("component", "receiver").ForReceiver("living-room")
//	log.Warn("receiver unreachable", "host", host)
package logging
