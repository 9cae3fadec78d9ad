// Package lode archives chat turns to Lode storage.
//
// Records are JSONL in a Hive layout keyed persona/day/session_id/record_kind,
// on the local filesystem or S3.
package lode

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/parley/metrics"
	"github.com/pithecene-io/parley/types"
)

// DefaultDataset is the dataset ID used when Config.Dataset is empty.
const DefaultDataset = "parley"

// Config holds archive client configuration.
type Config struct {
	// Dataset is the Lode dataset ID.
	Dataset string
	// ClientID is stamped on records whose turn carries none.
	ClientID string
}

func (c Config) dataset() string {
	if c.Dataset == "" {
		return DefaultDataset
	}
	return c.Dataset
}

// Client abstracts the archive writer. LodeClient is the real one.
type Client interface {
	// WriteTurns writes a batch of turns. Must preserve ordering within the batch.
	WriteTurns(ctx context.Context, turns []*types.Turn) error
	// WriteMetrics writes a metrics snapshot taken at the given time.
	WriteMetrics(ctx context.Context, snap metrics.Snapshot, sessionID, personaID types.ID, at time.Time) error
	// Close releases client resources.
	Close() error
}

// LodeClient writes records through a Lode dataset.
type LodeClient struct {
	dataset lode.Dataset
	config  Config

	mu sync.Mutex // serializes dataset writes
}

// NewLodeClient creates a client with filesystem storage rooted at root.
func NewLodeClient(cfg Config, root string) (*LodeClient, error) {
	return NewLodeClientWithFactory(cfg, lode.NewFSFactory(root))
}

// NewLodeClientWithFactory creates a client with a custom store factory.
// Use lode.NewMemoryFactory() for testing.
func NewLodeClientWithFactory(cfg Config, factory lode.StoreFactory) (*LodeClient, error) {
	ds, err := newDataset(cfg.dataset(), factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.dataset())
	}
	return &LodeClient{dataset: ds, config: cfg}, nil
}

func newDataset(id string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(id),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// WriteTurns validates and writes a batch as one snapshot.
func (c *LodeClient) WriteTurns(ctx context.Context, turns []*types.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	records := make([]any, 0, len(turns))
	for _, t := range turns {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
		m, err := toTurnRecordMap(t, c.config.ClientID)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidRecord, err)
		}
		records = append(records, m)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.config.dataset())
	}
	return nil
}

// WriteMetrics writes a metrics record.
func (c *LodeClient) WriteMetrics(ctx context.Context, snap metrics.Snapshot, sessionID, personaID types.ID, at time.Time) error {
	record := toMetricsRecordMap(snap, sessionID, personaID, at)
	if record["client_id"] == "" {
		record["client_id"] = c.config.ClientID
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.dataset.Write(ctx, []any{record}, lode.Metadata{}); err != nil {
		return WrapWriteError(err, c.config.dataset())
	}
	return nil
}

// Dataset returns the underlying dataset for reads.
func (c *LodeClient) Dataset() lode.Dataset {
	return c.dataset
}

// Close releases client resources. The dataset holds none.
func (c *LodeClient) Close() error {
	return nil
}

// ErrInvalidRecord is returned when a turn cannot be converted to a record.
var ErrInvalidRecord = errors.New("invalid archive record")

var _ Client = (*LodeClient)(nil)
