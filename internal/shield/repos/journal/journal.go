// Package journal keeps a durable record of protective actions in a Bolt
// database: which domains were blocked (and whether by the user or by
// auto-quarantine) and which service verdicts were raised. The plain-text
// event logs are for humans; the journal is the queryable history.
package journal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-shield/internal/shield/common/utils"
	"github.com/haukened/rr-shield/internal/shield/domain"
)

var (
	bucketBlocks   = []byte("blocks")
	bucketVerdicts = []byte("verdicts")
)

// BlockEntry is the journal record for one blocked domain. Origin
// distinguishes manual blocks from auto-quarantined ones so "temporarily
// flagged" never masquerades as "permanently user-blocked".
type BlockEntry struct {
	ID      string             `json:"id"`
	Domain  string             `json:"domain"`
	Apex    string             `json:"apex"`
	Origin  domain.BlockOrigin `json:"origin"`
	AddedAt time.Time          `json:"added_at"`
}

// VerdictEntry is the journal record for one suspicion verdict.
type VerdictEntry struct {
	ID          string    `json:"id"`
	Service     string    `json:"service"`
	Status      string    `json:"status"`
	PID         *int      `json:"pid,omitempty"`
	Description string    `json:"description"`
	Keywords    []string  `json:"keywords"`
	Quarantined bool      `json:"quarantined"`
	DetectedAt  time.Time `json:"detected_at"`
}

// Journal wraps the Bolt database.
type Journal struct {
	db *bbolt.DB
}

// Open opens (or creates) the journal database at path and ensures buckets
// exist.
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketBlocks); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketVerdicts); err != nil {
			return err
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Journal{db: db}, nil
}

// Close releases the database.
func (j *Journal) Close() error { return j.db.Close() }

// RecordBlock upserts the journal entry for a blocked domain.
func (j *Journal) RecordBlock(b domain.BlockedDomain) error {
	entry := BlockEntry{
		ID:      uuid.NewString(),
		Domain:  b.Domain,
		Apex:    utils.ApexDomain(b.Domain),
		Origin:  b.Origin,
		AddedAt: b.AddedAt,
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal block entry: %w", err)
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlocks).Put([]byte(b.Domain), val)
	})
}

// RemoveBlock deletes the journal entry for a domain. Removing an absent
// entry is a no-op; the store is authoritative for membership.
func (j *Journal) RemoveBlock(name string) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlocks).Delete([]byte(name))
	})
}

// Blocks returns all block entries in key order.
func (j *Journal) Blocks() ([]BlockEntry, error) {
	var out []BlockEntry
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketBlocks).ForEach(func(_, v []byte) error {
			var e BlockEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}

// RecordVerdict appends a verdict entry, noting whether the service was
// quarantined as a result.
func (j *Journal) RecordVerdict(v domain.SuspicionVerdict, quarantined bool) error {
	id := v.ID
	if id == "" {
		id = uuid.NewString()
	}
	entry := VerdictEntry{
		ID:          id,
		Service:     v.Service.Name,
		Status:      v.Service.Status.String(),
		PID:         v.Service.PID,
		Description: v.Service.Description,
		Keywords:    v.MatchedKeywords,
		Quarantined: quarantined,
		DetectedAt:  v.DetectedAt,
	}
	val, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal verdict entry: %w", err)
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVerdicts).Put([]byte(id), val)
	})
}

// Verdicts returns all verdict entries.
func (j *Journal) Verdicts() ([]VerdictEntry, error) {
	var out []VerdictEntry
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVerdicts).ForEach(func(_, v []byte) error {
			var e VerdictEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
	})
	return out, err
}
