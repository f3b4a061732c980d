// Package cache persists note snapshots locally so the last-seen
// document is readable while the network is down. It is a read cache
// only; pending writes are never queued here.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/collabnotes/collabnotes.go/pkg/notes"
)

// ErrMiss is returned when no snapshot exists for a note id.
var ErrMiss = errors.New("cache: no snapshot for note")

var bucketNotes = []byte("notes")

// Snapshot is a note as last observed, with the observation time.
type Snapshot struct {
	Note    notes.Note `json:"note"`
	SeenAt  time.Time  `json:"seenAt"`
	Version int        `json:"version"`
}

// Store is a bbolt-backed snapshot store. Safe for concurrent use.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the cache file at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("cache: opening %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNotes)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: initializing %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put records the latest snapshot of a note, replacing any previous one.
func (s *Store) Put(note notes.Note, seenAt time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketNotes)

		snap := Snapshot{Note: note, SeenAt: seenAt, Version: 1}
		if prev := b.Get([]byte(note.ID)); prev != nil {
			var old Snapshot
			if err := json.Unmarshal(prev, &old); err == nil {
				snap.Version = old.Version + 1
			}
		}

		data, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("cache: encoding snapshot: %w", err)
		}
		return b.Put([]byte(note.ID), data)
	})
}

// Get returns the snapshot for a note id, or ErrMiss.
func (s *Store) Get(noteID string) (Snapshot, error) {
	var snap Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketNotes).Get([]byte(noteID))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrMiss, noteID)
		}
		return json.Unmarshal(data, &snap)
	})
	if err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// List returns every cached snapshot.
func (s *Store) List() ([]Snapshot, error) {
	var out []Snapshot
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNotes).ForEach(func(_, v []byte) error {
			var snap Snapshot
			if err := json.Unmarshal(v, &snap); err != nil {
				return err
			}
			out = append(out, snap)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete drops the snapshot for a note id. Missing ids are a no-op.
func (s *Store) Delete(noteID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNotes).Delete([]byte(noteID))
	})
}
