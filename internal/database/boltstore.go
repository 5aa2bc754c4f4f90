// internal/database/boltstore.go - BoltDB implementation of the storage port
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

var (
	MonitorsBucket      = []byte("monitors")
	ResultsBucket       = []byte("results")
	IncidentsBucket     = []byte("incidents")
	OpenIncidentsBucket = []byte("incidents_open")
	PoliciesBucket      = []byte("policies")
	ChannelsBucket      = []byte("channels")
)

type BoltStore struct {
	db   *bbolt.DB
	path string
}

func NewBoltStore(path string) (Store, error) {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}

	store := &BoltStore{db: db, path: path}

	if err := store.initBuckets(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}

	return store, nil
}

func (s *BoltStore) initBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{MonitorsBucket, ResultsBucket, IncidentsBucket, OpenIncidentsBucket, PoliciesBucket, ChannelsBucket}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) GetMonitors(ctx context.Context, filters MonitorFilters) ([]Monitor, error) {
	var monitors []Monitor

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MonitorsBucket)
		return b.ForEach(func(k, v []byte) error {
			var monitor Monitor
			if err := json.Unmarshal(v, &monitor); err != nil {
				return fmt.Errorf("failed to unmarshal monitor %s: %w", k, err)
			}

			// Apply filters
			if filters.TeamID != "" && monitor.TeamID != filters.TeamID {
				return nil
			}
			if filters.Active != nil && monitor.Active != *filters.Active {
				return nil
			}

			monitors = append(monitors, monitor)
			return nil
		})
	})

	return monitors, err
}

func (s *BoltStore) GetMonitor(ctx context.Context, id string) (*Monitor, error) {
	var monitor Monitor

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MonitorsBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &monitor)
	})

	if err != nil {
		return nil, err
	}
	return &monitor, nil
}

func (s *BoltStore) SaveMonitor(ctx context.Context, monitor *Monitor) error {
	if monitor.ID == "" {
		monitor.ID = uuid.New().String()
		monitor.CreatedAt = time.Now()
	}
	monitor.UpdatedAt = time.Now()

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(MonitorsBucket)

		data, err := json.Marshal(monitor)
		if err != nil {
			return fmt.Errorf("failed to marshal monitor: %w", err)
		}

		return b.Put([]byte(monitor.ID), data)
	})
}

func (s *BoltStore) DeleteMonitor(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(MonitorsBucket).Delete([]byte(id)); err != nil {
			return err
		}

		// Drop the monitor's check history as well
		rb := tx.Bucket(ResultsBucket)
		prefix := id + ":"
		c := rb.Cursor()

		var keys [][]byte
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			keys = append(keys, copyBytes(k))
		}
		for _, k := range keys {
			if err := rb.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) AppendResult(ctx context.Context, result *CheckResult) error {
	if result.ID == "" {
		result.ID = uuid.New().String()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ResultsBucket)

		key := fmt.Sprintf("%s:%020d:%s", result.MonitorID, result.Timestamp.UnixNano(), result.ID)
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}

		return b.Put([]byte(key), data)
	})
}

func (s *BoltStore) GetResultHistory(ctx context.Context, monitorID string, since time.Time) ([]CheckResult, error) {
	var results []CheckResult

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ResultsBucket)
		c := b.Cursor()

		prefix := monitorID + ":"

		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var result CheckResult
			if err := json.Unmarshal(v, &result); err != nil {
				continue
			}

			if result.Timestamp.After(since) {
				results = append(results, result)
			}
		}

		return nil
	})

	return results, err
}

func (s *BoltStore) DeleteResultsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deleted := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ResultsBucket)
		c := b.Cursor()

		var keys [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var result CheckResult
			if err := json.Unmarshal(v, &result); err != nil {
				continue
			}
			if result.Timestamp.Before(cutoff) {
				keys = append(keys, copyBytes(k))
			}
		}

		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})

	return deleted, err
}

func (s *BoltStore) GetIncidents(ctx context.Context, filters IncidentFilters) ([]Incident, error) {
	var incidents []Incident

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(IncidentsBucket)
		return b.ForEach(func(k, v []byte) error {
			var incident Incident
			if err := json.Unmarshal(v, &incident); err != nil {
				return nil // Skip malformed entries
			}

			if filters.MonitorID != "" && incident.MonitorID != filters.MonitorID {
				return nil
			}
			if filters.Status != "" && incident.Status != filters.Status {
				return nil
			}

			incidents = append(incidents, incident)

			if filters.Limit > 0 && len(incidents) >= filters.Limit {
				return errLimitReached
			}

			return nil
		})
	})

	if err == errLimitReached {
		err = nil
	}

	return incidents, err
}

var errLimitReached = fmt.Errorf("limit_reached")

func (s *BoltStore) GetIncident(ctx context.Context, id string) (*Incident, error) {
	var incident Incident

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(IncidentsBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &incident)
	})

	if err != nil {
		return nil, err
	}
	return &incident, nil
}

func (s *BoltStore) GetOpenIncident(ctx context.Context, monitorID string) (*Incident, error) {
	var incident Incident

	err := s.db.View(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(OpenIncidentsBucket)
		incidentID := idx.Get([]byte(monitorID))
		if incidentID == nil {
			return ErrNotFound
		}

		v := tx.Bucket(IncidentsBucket).Get(incidentID)
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &incident)
	})

	if err != nil {
		return nil, err
	}
	return &incident, nil
}

// SaveIncident persists the incident and maintains the monitor -> open
// incident index that backs the one-open-incident-per-monitor invariant.
func (s *BoltStore) SaveIncident(ctx context.Context, incident *Incident) error {
	if incident.ID == "" {
		incident.ID = uuid.New().String()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(IncidentsBucket)

		data, err := json.Marshal(incident)
		if err != nil {
			return fmt.Errorf("failed to marshal incident: %w", err)
		}

		if err := b.Put([]byte(incident.ID), data); err != nil {
			return err
		}

		idx := tx.Bucket(OpenIncidentsBucket)
		if incident.Status == IncidentResolved {
			// Only clear the index if it still points at this incident
			if current := idx.Get([]byte(incident.MonitorID)); string(current) == incident.ID {
				return idx.Delete([]byte(incident.MonitorID))
			}
			return nil
		}
		return idx.Put([]byte(incident.MonitorID), []byte(incident.ID))
	})
}

func (s *BoltStore) GetPolicy(ctx context.Context, teamID string) (*EscalationPolicy, error) {
	var policy EscalationPolicy

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(PoliciesBucket)
		v := b.Get([]byte(teamID))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &policy)
	})

	if err != nil {
		return nil, err
	}
	return &policy, nil
}

func (s *BoltStore) SavePolicy(ctx context.Context, policy *EscalationPolicy) error {
	if policy.ID == "" {
		policy.ID = uuid.New().String()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(PoliciesBucket)

		data, err := json.Marshal(policy)
		if err != nil {
			return fmt.Errorf("failed to marshal policy: %w", err)
		}

		// Policies are assigned per team
		return b.Put([]byte(policy.TeamID), data)
	})
}

func (s *BoltStore) GetChannel(ctx context.Context, id string) (*AlertChannel, error) {
	var channel AlertChannel

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ChannelsBucket)
		v := b.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &channel)
	})

	if err != nil {
		return nil, err
	}
	return &channel, nil
}

func (s *BoltStore) GetChannels(ctx context.Context, teamID string) ([]AlertChannel, error) {
	var channels []AlertChannel

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ChannelsBucket)
		return b.ForEach(func(k, v []byte) error {
			var channel AlertChannel
			if err := json.Unmarshal(v, &channel); err != nil {
				return fmt.Errorf("failed to unmarshal channel %s: %w", k, err)
			}

			if teamID != "" && channel.TeamID != teamID {
				return nil
			}

			channels = append(channels, channel)
			return nil
		})
	})

	return channels, err
}

func (s *BoltStore) SaveChannel(ctx context.Context, channel *AlertChannel) error {
	if channel.ID == "" {
		channel.ID = uuid.New().String()
	}

	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(ChannelsBucket)

		data, err := json.Marshal(channel)
		if err != nil {
			return fmt.Errorf("failed to marshal channel: %w", err)
		}

		return b.Put([]byte(channel.ID), data)
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func copyBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
