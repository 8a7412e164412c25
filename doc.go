// Package ink is a client driver for the ink document-database wire
// protocol. It turns logical operations (queries, writes, administrative
// commands) into wire messages, sends them over pooled connections, and
// correlates each asynchronous server reply back to the caller that issued
// the matching request.
//
// The interesting part is not the codec (package wire) but the dispatch
// layer: a request-id registry of in-flight completions, a three-queue
// buffer that holds operations while no connection is usable and replays
// them in order on reconnection, write-concern escalation into
// acknowledgement-tracking command pairs, and fan-out of connection-level
// failures across every logical database handle sharing one connection set.
//
// Basic use:
//
//	client, err := ink.NewClient(ink.Config{
//		Endpoints: []string{"db1:27020", "db2:27020"},
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	db := client.Database("app")
//	docs, err := db.Find(ctx, "users", map[string]any{"active": true}, nil)
package ink
