// Package receiver keeps a consistent, best-effort view of networked A/V
// receivers that are slow to answer and often unreachable.
//
// Three cooperating parts share a per-receiver *Device:
//
//   - Synchronizer probes the receiver, reads power, volume, mute and source
//     concurrently and falls back to the state cache when the receiver is
//     unreachable or a reading is incomplete. Only complete readings are
//     written to the cache.
//   - Dispatcher acknowledges commands immediately, sends them in the
//     background and schedules one resync after a settle delay. Power-on
//     opens a transition window during which polling is suppressed.
//   - Scheduler polls every receiver on a fixed interval, skipping a
//     receiver while it powers on or while its previous cycle is in flight.
//
// Every result is handed to the Publisher, which replaces the receiver's
// view wholesale and notifies listeners (MQTT, WebSocket, InfluxDB).
// Publication is last-write-wins.
//
// Usage:
//
//	m := receiver.NewManager(receiver.Options{Cache: cache, PollInterval: 30 * time.Second})
//	d, _ := receiver.NewDevice(cfg, client, prober, power)
//	_ = m.Add(d)
//	m.AddListener(func(u receiver.Update) { ... })
//	_ = m.Start(ctx)
//	defer m.Stop()
//
//	m.Dispatcher().SetVolume(d, 40)
package receiver
