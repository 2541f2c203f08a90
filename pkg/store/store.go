package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.etcd.io/bbolt"

	"plexmover/pkg/transfer"
)

// ErrRunNotFound is returned when no report exists for a run ID.
var ErrRunNotFound = errors.New("run not found")

var runsBucket = []byte("runs")

// RunStore persists run reports.
type RunStore interface {
	SaveReport(report *transfer.RunReport) error
	GetReport(runID string) (*transfer.RunReport, error)
	ListRunIDs() ([]string, error)
	Close() error
}

// BoltStore is a RunStore backed by a single bbolt file. Reports are stored
// as JSON keyed by run ID.
type BoltStore struct {
	db *bbolt.DB
}

func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create runs bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) SaveReport(report *transfer.RunReport) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(runsBucket)

		data, err := json.Marshal(report)
		if err != nil {
			return fmt.Errorf("failed to marshal report: %w", err)
		}

		if err := b.Put([]byte(report.RunID), data); err != nil {
			return fmt.Errorf("failed to put report: %w", err)
		}
		return nil
	})
}

func (s *BoltStore) GetReport(runID string) (*transfer.RunReport, error) {
	var report transfer.RunReport
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(runsBucket)
		data := b.Get([]byte(runID))
		if data == nil {
			return ErrRunNotFound
		}
		if err := json.Unmarshal(data, &report); err != nil {
			return fmt.Errorf("failed to unmarshal report: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &report, nil
}

func (s *BoltStore) ListRunIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(runsBucket)
		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
