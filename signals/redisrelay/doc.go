// Package redisrelay copies signals from an in-process signals.Bus onto a
// Redis stream so observers outside the proxy can follow virtual sessions.
//
// Design Notes
//   - Records are CBOR (core deterministic encoding) in a single "d" field
//   - Forward hands signals to a bounded queue; the bus publisher never waits on Redis
//   - A full queue drops the signal and logs; the stream is best-effort telemetry
//   - Trimming: approximate MAXLEN on every XADD
//   - Tail: XREAD polling from an id, "$" for only new records
//
// Example:
//
//	relay, _ := redisrelay.NewFromEnv()
//	defer relay.Close()
//	sub := relay.Forward(ctx, bus)
//	defer sub.Unsubscribe()
package redisrelay
