// Package storage provides persistent local caching for the forager engine.
// It uses BoltDB as the underlying storage engine to retain 1-minute OHLCV
// candles and realized PnL fills across restarts. cmd/passivebot opens the
// store at startup; the orchestrator's maintainers neither read from nor
// write to it.
//
// The package provides thread-safe operations for storing and retrieving
// time-series data with efficient range queries and automatic bucket management.
package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"forager/internal/pnl"
	"forager/internal/state"
)

const (
	ohlcvBucket = "ohlcv" // Bucket name for 1-minute HLC candles
	pnlBucket   = "pnl"   // Bucket name for realized PnL fills
)

// Store provides persistent storage for OHLCV candles and PnL fills using
// BoltDB. It manages one bucket per data type and provides efficient
// time-range queries for historical data analysis.
type Store struct {
	db *bbolt.DB
}

// New creates a new storage instance with the specified data path.
// It initializes the BoltDB database and creates necessary buckets.
// Returns an error if the database cannot be opened or buckets cannot be created.
func New(dataPath string) (*Store, error) {
	dbPath := filepath.Join(dataPath, "forager-cache.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(ohlcvBucket)); err != nil {
			return fmt.Errorf("create ohlcv bucket: %w", err)
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(pnlBucket)); err != nil {
			return fmt.Errorf("create pnl bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection gracefully.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// StoreHLC persists one 1-minute candle for symbol, keyed by "symbol_ts"
// for efficient range scans.
func (s *Store) StoreHLC(symbol string, bar state.HLC) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(ohlcvBucket))

		data, err := json.Marshal(bar)
		if err != nil {
			return fmt.Errorf("marshal hlc: %w", err)
		}

		key := fmt.Sprintf("%s_%020d", symbol, bar.Ts)
		return b.Put([]byte(key), data)
	})
}

// StorePnlFill persists one realized PnL fill, keyed by "symbol_ts_id" so
// same-millisecond fills don't collide.
func (s *Store) StorePnlFill(fill pnl.Fill) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(pnlBucket))

		data, err := json.Marshal(fill)
		if err != nil {
			return fmt.Errorf("marshal pnl fill: %w", err)
		}

		key := fmt.Sprintf("%s_%020d_%s", fill.Symbol, fill.Ts, fill.ID)
		return b.Put([]byte(key), data)
	})
}

// getRecordsInRange retrieves raw records from a bucket within a time
// range, using a BoltDB cursor seeked to the range start.
func (s *Store) getRecordsInRange(bucketName, symbol string, startMs, endMs int64, unmarshal func([]byte) error) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return nil
		}
		c := b.Cursor()

		prefix := []byte(symbol + "_")
		startKey := []byte(fmt.Sprintf("%s_%020d", symbol, startMs))

		for k, v := c.Seek(startKey); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			if err := unmarshal(v); err != nil {
				continue // skip malformed records
			}
		}
		return nil
	})
}

// HLCRange returns the retained 1-minute candles for symbol with
// Ts in [startMs, endMs], ordered ascending by Ts.
func (s *Store) HLCRange(symbol string, startMs, endMs int64) ([]state.HLC, error) {
	var out []state.HLC
	err := s.getRecordsInRange(ohlcvBucket, symbol, startMs, endMs, func(data []byte) error {
		var bar state.HLC
		if err := json.Unmarshal(data, &bar); err != nil {
			return err
		}
		if bar.Ts > endMs {
			return fmt.Errorf("past range end")
		}
		out = append(out, bar)
		return nil
	})
	return out, err
}

// PnlFillsSince returns the retained PnL fills for symbol with
// Ts >= sinceMs.
func (s *Store) PnlFillsSince(symbol string, sinceMs int64) ([]pnl.Fill, error) {
	var out []pnl.Fill
	err := s.getRecordsInRange(pnlBucket, symbol, sinceMs, 1<<62, func(data []byte) error {
		var f pnl.Fill
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		out = append(out, f)
		return nil
	})
	return out, err
}
