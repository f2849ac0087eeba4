// Package storage persists ledger snapshots and stability fee bookkeeping in
// a BoltDB file. Snapshots are stored as JSON under monotonically increasing
// sequence keys so operators can roll back to any retained state.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/leyr1112/alpaca-stablecoin/native/bookkeeper"
)

var (
	bucketSnapshots = []byte("snapshots")
	bucketAccruals  = []byte("accruals")

	// ErrNotFound is returned when no snapshot has been persisted yet.
	ErrNotFound = errors.New("storage: snapshot not found")
)

// Store persists ledger state in BoltDB.
type Store struct {
	db     *bolt.DB
	retain uint64
}

// snapshotRecord wraps a ledger snapshot with its persistence metadata.
type snapshotRecord struct {
	Sequence uint64               `json:"sequence"`
	SavedAt  time.Time            `json:"savedAt"`
	State    *bookkeeper.Snapshot `json:"state"`
}

// accrualRecord tracks a pool's last stability fee accrual time across
// restarts.
type accrualRecord struct {
	PoolID      string    `json:"poolId"`
	LastAccrual time.Time `json:"lastAccrual"`
}

// Open initialises (and migrates) the BoltDB-backed store. retain bounds how
// many historical snapshots are kept; zero keeps everything.
func Open(path string, retain uint64) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketSnapshots, bucketAccruals} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: migrate %s: %w", path, err)
	}
	return &Store{db: db, retain: retain}, nil
}

// Close releases the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func sequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// SaveSnapshot persists a ledger snapshot under the next sequence number and
// prunes history beyond the retention bound.
func (s *Store) SaveSnapshot(snap *bookkeeper.Snapshot) (uint64, error) {
	if snap == nil {
		return 0, errors.New("storage: nil snapshot")
	}
	var seq uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketSnapshots)
		next, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		seq = next
		payload, err := json.Marshal(snapshotRecord{Sequence: seq, SavedAt: time.Now().UTC(), State: snap})
		if err != nil {
			return err
		}
		if err := bucket.Put(sequenceKey(seq), payload); err != nil {
			return err
		}
		return s.prune(bucket, seq)
	})
	if err != nil {
		return 0, fmt.Errorf("storage: save snapshot: %w", err)
	}
	return seq, nil
}

func (s *Store) prune(bucket *bolt.Bucket, latest uint64) error {
	if s.retain == 0 || latest <= s.retain {
		return nil
	}
	cutoff := latest - s.retain
	cursor := bucket.Cursor()
	for key, _ := cursor.First(); key != nil; key, _ = cursor.Next() {
		if binary.BigEndian.Uint64(key) > cutoff {
			break
		}
		if err := cursor.Delete(); err != nil {
			return err
		}
	}
	return nil
}

// LatestSnapshot returns the most recently persisted snapshot.
func (s *Store) LatestSnapshot() (*bookkeeper.Snapshot, uint64, error) {
	var record snapshotRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		key, value := tx.Bucket(bucketSnapshots).Cursor().Last()
		if key == nil {
			return ErrNotFound
		}
		return json.Unmarshal(value, &record)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("storage: load snapshot: %w", err)
	}
	return record.State, record.Sequence, nil
}

// SnapshotAt returns the snapshot stored at a specific sequence number.
func (s *Store) SnapshotAt(seq uint64) (*bookkeeper.Snapshot, error) {
	var record snapshotRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketSnapshots).Get(sequenceKey(seq))
		if value == nil {
			return ErrNotFound
		}
		return json.Unmarshal(value, &record)
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: load snapshot %d: %w", seq, err)
	}
	return record.State, nil
}

// Sequences lists the retained snapshot sequence numbers in ascending order.
func (s *Store) Sequences() ([]uint64, error) {
	var seqs []uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSnapshots).ForEach(func(key, _ []byte) error {
			seqs = append(seqs, binary.BigEndian.Uint64(key))
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("storage: list snapshots: %w", err)
	}
	return seqs, nil
}

// SaveAccrual records a pool's last stability fee accrual time.
func (s *Store) SaveAccrual(poolID string, at time.Time) error {
	payload, err := json.Marshal(accrualRecord{PoolID: poolID, LastAccrual: at.UTC()})
	if err != nil {
		return err
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAccruals).Put([]byte(poolID), payload)
	})
	if err != nil {
		return fmt.Errorf("storage: save accrual %s: %w", poolID, err)
	}
	return nil
}

// LastAccrual returns a pool's last recorded accrual time; ok is false when
// the pool has never accrued.
func (s *Store) LastAccrual(poolID string) (time.Time, bool, error) {
	var record accrualRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketAccruals).Get([]byte(poolID))
		if value == nil {
			return nil
		}
		found = true
		return json.Unmarshal(value, &record)
	})
	if err != nil {
		return time.Time{}, false, fmt.Errorf("storage: load accrual %s: %w", poolID, err)
	}
	return record.LastAccrual, found, nil
}
