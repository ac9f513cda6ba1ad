package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketJobs    = []byte("jobs")
	bucketPending = []byte("pending")
)

// BoltStore implements Store using BoltDB
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore creates a new BoltDB-backed job store
func NewBoltStore(path string) (*BoltStore, error) {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := bolt.Open(path, 0600, &bolt.Options{
		Timeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Create buckets
	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketJobs, bucketPending} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Enqueue adds a job in pending state
func (s *BoltStore) Enqueue(ctx context.Context, job *Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket(bucketJobs)
		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		if err := jobBucket.Put([]byte(job.ID), data); err != nil {
			return fmt.Errorf("failed to store job: %w", err)
		}

		// Add to pending index
		pendingBucket := tx.Bucket(bucketPending)
		indexKey := makeIndexKey(job.CreatedAt, job.ID)
		if err := pendingBucket.Put(indexKey, []byte(job.ID)); err != nil {
			return fmt.Errorf("failed to add to pending index: %w", err)
		}

		return nil
	})
}

// NextPending claims the oldest pending job and marks it running
func (s *BoltStore) NextPending(ctx context.Context) (*Job, error) {
	var job *Job

	err := s.db.Update(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket(bucketJobs)
		pendingBucket := tx.Bucket(bucketPending)

		c := pendingBucket.Cursor()
		now := time.Now()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			jobData := jobBucket.Get(v)
			if jobData == nil {
				// Job was deleted, clean up index
				c.Delete()
				continue
			}

			var j Job
			if err := json.Unmarshal(jobData, &j); err != nil {
				continue
			}

			// Paused or cancelled jobs stay out of the pending index
			if j.Status != StatusPending {
				c.Delete()
				continue
			}

			j.Status = StatusRunning
			j.UpdatedAt = now
			if j.StartedAt == nil {
				j.StartedAt = &now
			}

			data, err := json.Marshal(&j)
			if err != nil {
				return err
			}
			if err := jobBucket.Put([]byte(j.ID), data); err != nil {
				return err
			}
			if err := c.Delete(); err != nil {
				return err
			}

			job = &j
			return nil
		}

		return nil
	})

	return job, err
}

// Update persists job progress and status changes
func (s *BoltStore) Update(ctx context.Context, job *Job) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket(bucketJobs)

		job.UpdatedAt = time.Now()

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		if err := jobBucket.Put([]byte(job.ID), data); err != nil {
			return fmt.Errorf("failed to update job: %w", err)
		}

		// A job resumed to pending goes back on the index
		if job.Status == StatusPending {
			pendingBucket := tx.Bucket(bucketPending)
			indexKey := makeIndexKey(job.CreatedAt, job.ID)
			if err := pendingBucket.Put(indexKey, []byte(job.ID)); err != nil {
				return fmt.Errorf("failed to add to pending index: %w", err)
			}
		}

		return nil
	})
}

// Get retrieves a job by ID
func (s *BoltStore) Get(ctx context.Context, id string) (*Job, error) {
	var job *Job

	err := s.db.View(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket(bucketJobs)
		data := jobBucket.Get([]byte(id))
		if data == nil {
			return nil
		}

		job = &Job{}
		return json.Unmarshal(data, job)
	})

	return job, err
}

// List returns jobs with optional filtering
func (s *BoltStore) List(ctx context.Context, filter ListFilter) ([]*Job, error) {
	var jobs []*Job

	err := s.db.View(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket(bucketJobs)
		c := jobBucket.Cursor()

		count := 0
		skipped := 0

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				continue
			}

			// Apply status filter
			if filter.Status != "" && job.Status != filter.Status {
				continue
			}

			// Apply offset
			if skipped < filter.Offset {
				skipped++
				continue
			}

			jobs = append(jobs, &job)
			count++

			// Apply limit
			if filter.Limit > 0 && count >= filter.Limit {
				break
			}
		}

		return nil
	})

	return jobs, err
}

// Delete removes a job
func (s *BoltStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket(bucketJobs)

		// Get job first to clean up the pending index
		data := jobBucket.Get([]byte(id))
		if data != nil {
			var job Job
			if err := json.Unmarshal(data, &job); err == nil {
				pendingBucket := tx.Bucket(bucketPending)
				pendingBucket.Delete(makeIndexKey(job.CreatedAt, job.ID))
			}
		}

		return jobBucket.Delete([]byte(id))
	})
}

// Stats returns job statistics
func (s *BoltStore) Stats(ctx context.Context) (*JobStats, error) {
	stats := &JobStats{}

	err := s.db.View(func(tx *bolt.Tx) error {
		jobBucket := tx.Bucket(bucketJobs)
		c := jobBucket.Cursor()

		for k, v := c.First(); k != nil; k, v = c.Next() {
			var job Job
			if err := json.Unmarshal(v, &job); err != nil {
				continue
			}

			stats.Total++
			switch job.Status {
			case StatusPending:
				stats.Pending++
			case StatusRunning:
				stats.Running++
			case StatusPaused:
				stats.Paused++
			case StatusCompleted:
				stats.Completed++
			case StatusCancelled:
				stats.Cancelled++
			case StatusFailed:
				stats.Failed++
			}
		}

		return nil
	})

	return stats, err
}

// Close closes the database connection
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying bolt.DB instance
func (s *BoltStore) DB() *bolt.DB {
	return s.db
}

// makeIndexKey creates a sortable key from timestamp and ID
func makeIndexKey(t time.Time, id string) []byte {
	// Format: timestamp (RFC3339Nano) + ":" + id
	return []byte(t.Format(time.RFC3339Nano) + ":" + id)
}
