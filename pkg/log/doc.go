// Package log provides the protocol event trace for hublink sessions.
//
// The trace is separate from operational logging (slog). It records every
// connection and registration state change, retry decision, failure and
// message exchange as machine-readable events, so a session can be replayed
// and analyzed after the fact.
//
// # Basic Usage
//
//	// Development: print events through slog
//	cfg.EventLog = log.NewSlogAdapter(slog.Default())
//
//	// Production: append to a binary trace file
//	fl, _ := log.NewFileLogger("/var/log/hublink/device.hlog")
//	cfg.EventLog = fl
//
//	// Both
//	cfg.EventLog = log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), fl)
//
// # Event Types
//
//   - MessageEvent: payload sent to or received from the hub
//   - StateChangeEvent: connection or registration state transition
//   - RetryEvent: retry policy decision after a failure
//   - ErrorEventData: classified failure
//
// # File Format
//
// Trace files are a stream of CBOR-encoded events with integer keys, using
// the .hlog extension. The hublink-log tool views, filters and summarizes
// them.
package log
