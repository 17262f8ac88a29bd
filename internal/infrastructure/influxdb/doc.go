// Package influxdb records receiver state history as time series using
// github.com/influxdata/influxdb-client-go/v2.
//
// Every published state becomes a receiver_state point tagged with the
// receiver id and the trigger that produced it (startup, poll, command,
// power_on); every synchronize cycle becomes a receiver_sync point.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // telemetry off
//	}
//	defer client.Close()
//
//	client.WriteReceiverState(influxdb.ReceiverSample{ReceiverID: "den", Power: true, Volume: 49})
package influxdb
