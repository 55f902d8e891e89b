package sdk

import (
	"context"
	"fmt"
	"time"

	"github.com/vlad-oles/gears/pkg/sample"
	"github.com/vlad-oles/gears/pkg/sdk/batch"
	"github.com/vlad-oles/gears/pkg/sdk/transport"
)

// ClientConfig holds configuration for the gears client.
type ClientConfig struct {
	// Endpoint is the ingest URL; defaults to a local server.
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`

	// Keys are grouping-key values attached to every sample this client
	// produces (e.g. the device or host identity).
	Keys map[string]string `json:"keys,omitempty"`

	FlushEvery   time.Duration `json:"flush_every"`
	MaxBatchSize int           `json:"max_batch_size"`
}

// Client pushes raw samples to a gears server. Samples are batched and
// shipped in the background; a sample is one timestamped observation of
// one or more named variables.
type Client struct {
	config    ClientConfig
	transport transport.Transport
	batcher   *batch.Batcher

	started bool
	cancel  context.CancelFunc
}

// New creates a new client.
func New(cfg ClientConfig) (*Client, error) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "http://localhost:8080/v1/samples"
	}
	if cfg.FlushEvery == 0 {
		cfg.FlushEvery = 5 * time.Second
	}
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 500
	}

	trans, err := transport.NewHTTP(cfg.Endpoint, cfg.APIKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create transport: %w", err)
	}

	return &Client{
		config:    cfg,
		transport: trans,
		batcher: batch.New(trans, batch.Config{
			MaxBatchSize: cfg.MaxBatchSize,
			FlushEvery:   cfg.FlushEvery,
		}),
	}, nil
}

// Start begins background batching and shipping.
func (c *Client) Start(ctx context.Context) error {
	if c.started {
		return fmt.Errorf("client already started")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	if err := c.batcher.Start(ctx); err != nil {
		return err
	}
	c.started = true
	return nil
}

// Observe records an observation of one or more variables at the current
// time, under the client's configured grouping keys.
func (c *Client) Observe(values map[string]float64) {
	c.ObserveAt(time.Now().UTC(), values)
}

// ObserveAt records an observation with an explicit timestamp.
func (c *Client) ObserveAt(ts time.Time, values map[string]float64) {
	c.batcher.Add(sample.Sample{
		Timestamp: ts,
		Keys:      c.config.Keys,
		Values:    values,
	})
}

// ObserveKeyed records an observation with extra grouping-key values
// merged over the client's configured ones.
func (c *Client) ObserveKeyed(keys map[string]string, values map[string]float64) {
	merged := make(map[string]string, len(c.config.Keys)+len(keys))
	for k, v := range c.config.Keys {
		merged[k] = v
	}
	for k, v := range keys {
		merged[k] = v
	}
	c.batcher.Add(sample.Sample{
		Timestamp: time.Now().UTC(),
		Keys:      merged,
		Values:    values,
	})
}

// Flush synchronously ships all queued samples.
func (c *Client) Flush() error {
	return c.batcher.Flush()
}

// Stop stops background shipping and drains the queue.
func (c *Client) Stop() error {
	if !c.started {
		return nil
	}
	err := c.batcher.Stop()
	if c.cancel != nil {
		c.cancel()
	}
	c.started = false
	return err
}
