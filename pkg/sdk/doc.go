/*
Package sdk provides the gears client library for pushing raw samples
from Go applications and devices.

# Quick Start

Install gears in your app:

	go get github.com/vlad-oles/gears

Push observations:

	package main

	import (
	    "context"
	    "log"
	    "time"

	    "github.com/vlad-oles/gears/pkg/sdk"
	)

	func main() {
	    // Create a client. Keys identify the series this client feeds.
	    client, err := sdk.New(sdk.ClientConfig{
	        Endpoint: "http://localhost:8080/v1/samples",
	        Keys:     map[string]string{"host": "sensor-01"},
	    })
	    if err != nil {
	        log.Fatal(err)
	    }

	    // Start background batching, stop drains the queue.
	    client.Start(context.Background())
	    defer client.Stop()

	    for range time.Tick(time.Second) {
	        client.Observe(map[string]float64{
	            "temperature": readTemperature(),
	            "humidity":    readHumidity(),
	        })
	    }
	}

Each Observe call is one raw sample: a timestamp, the client's grouping
keys, and one or more named variables. The server folds samples into
lossless per-bucket statistics; raw values are never stored.

# Cardinality Warning

NEVER use high-cardinality values as grouping keys:

	❌ request_id, UUID, timestamp
	✅ host, device, region, firmware

Every distinct key combination is a separate series. The server rejects
samples once the deployment's series limit is reached.

# Batching & Flushing

Samples are buffered in memory until:
 1. FlushEvery elapses (default: 5 seconds), OR
 2. The batch reaches MaxBatchSize (default: 500 samples), OR
 3. You call client.Flush() manually.

client.Stop() flushes whatever is still queued, so deferred shutdown
does not drop observations.

# Error Handling

Network and server errors are logged and the affected batch dropped;
the client never blocks or crashes the host application over transport
failures.
*/
package sdk
