// Package outputs holds the per-step and per-job output values produced
// during a run.
//
// The store is the only structure shared across job goroutines. Writes are
// scoped to the owning job's single-threaded step sequence; cross-job reads
// are only allowed after the owning job is published. PublishJob is the
// publication barrier: the scheduler calls it before flipping the job's
// terminal flag, so any dependent that observes the job as terminal sees the
// complete output set.
package outputs

import "sync"

// Store is a thread-safe output store supporting one writer per job lifetime
// and many concurrent readers after publication.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*jobRecord
}

type jobRecord struct {
	steps     map[string]map[string]string
	job       map[string]string
	published bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{jobs: make(map[string]*jobRecord)}
}

func (s *Store) record(jobID string) *jobRecord {
	if r, ok := s.jobs[jobID]; ok {
		return r
	}
	r := &jobRecord{
		steps: make(map[string]map[string]string),
		job:   make(map[string]string),
	}
	s.jobs[jobID] = r
	return r
}

// SetStepOutput records one output of a step. Last write wins.
func (s *Store) SetStepOutput(jobID, stepID, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.record(jobID)
	if r.steps[stepID] == nil {
		r.steps[stepID] = make(map[string]string)
	}
	r.steps[stepID][key] = value
}

// StepOutputs returns a copy of one step's outputs for same-job reads.
func (s *Store) StepOutputs(jobID, stepID string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.jobs[jobID]
	if !ok {
		return nil
	}
	return copyMap(r.steps[stepID])
}

// SetJobOutput records one declared output of a job. Idempotent,
// last write wins.
func (s *Store) SetJobOutput(jobID, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(jobID).job[key] = value
}

// PublishJob marks a job's outputs as complete and visible to dependents.
func (s *Store) PublishJob(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(jobID).published = true
}

// JobOutputs returns a copy of a job's declared outputs. The second return
// is false until the job has been published; unpublished outputs are never
// observable across jobs.
func (s *Store) JobOutputs(jobID string) (map[string]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.jobs[jobID]
	if !ok || !r.published {
		return nil, false
	}
	return copyMap(r.job), true
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
