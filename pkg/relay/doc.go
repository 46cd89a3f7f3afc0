/*
Package relay keeps safety alerts from being lost while a device is offline.

An alert raised with no network is written to a durable store. When
connectivity returns, queued alerts are delivered oldest first. Each one gets
at most three queued attempts before it is dropped and reported as a permanent
failure. An alert raised while online is sent immediately and never stored.

# Quick Start

	settings, err := config.Load("relay.yaml", os.Getenv)
	if err != nil {
	    log.Fatal(err)
	}

	r, err := relay.Open(ctx, settings, relay.Options{
	    SMS:    smsGateway,
	    Caller: dialer,
	})
	if err != nil {
	    log.Fatal(err)
	}
	defer r.Close()

	if err := r.Start(ctx); err != nil {
	    log.Fatal(err)
	}

	outcome, err := r.Emergency(ctx, "User: Alice")

# Packages

  - event: the QueuedEvent record
  - store: SQLite, Redis, Postgres and in-memory persistence
  - connectivity: reachability probes and the transition Monitor
  - dispatch: routing, the drain loop and the retry ceiling
  - handler: emergency and cyber alert formatting over SMS and calls
  - errors: error types, categories and retry backoff
  - observability: slog helpers, OpenTelemetry metrics and spans
  - config: file and environment configuration

Open wires these together from config.Settings. Programs that need a
different arrangement can build the pieces directly; Relay holds no state of
its own beyond them.
*/
package relay
