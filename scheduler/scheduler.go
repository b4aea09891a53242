package scheduler

import (
	"container/heap"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"anima/observability"
	"anima/storage"
)

// ErrJobNotFound is returned when no job exists for the requested ID.
var ErrJobNotFound = errors.New("scheduler: job not found")

var (
	prefixJob = []byte("jobs/record/")
	keyJobSeq = []byte("jobs/seq")
)

// queueItem keys the heap by (priority desc, insertion sequence asc). Equal
// scores resolve strictly FIFO so no equal-priority job can starve another.
type queueItem struct {
	score float64
	seq   uint64
	jobID uint64
}

type jobHeap []queueItem

func (h jobHeap) Len() int { return len(h) }
func (h jobHeap) Less(i, j int) bool {
	if h[i].score != h[j].score {
		return h[i].score > h[j].score
	}
	return h[i].seq < h[j].seq
}
func (h jobHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *jobHeap) Push(x interface{}) { *h = append(*h, x.(queueItem)) }
func (h *jobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Scheduler owns the priority queue and the job records. It never touches
// balances or stakes; priority scores arrive pre-computed at submission.
// Safe for concurrent submit/pop from multiple workers: no two PopHighest
// calls ever return the same job.
type Scheduler struct {
	mu     sync.Mutex
	db     storage.Database
	nowFn  func() time.Time
	queue  jobHeap
	jobs   map[uint64]*Job
	jobSeq uint64
}

// New opens a scheduler over the database, re-enqueueing any jobs that were
// still queued when the process last stopped. Queue order after reload is
// identical to the pre-restart order: the persisted (score, sequence) keys
// fully determine it.
func New(db storage.Database) (*Scheduler, error) {
	s := &Scheduler{
		db:    db,
		nowFn: func() time.Time { return time.Now().UTC() },
		jobs:  make(map[uint64]*Job),
	}
	if raw, err := db.Get(keyJobSeq); err == nil {
		if err := json.Unmarshal(raw, &s.jobSeq); err != nil {
			return nil, fmt.Errorf("scheduler: decode job sequence: %w", err)
		}
	} else if !errors.Is(err, storage.ErrKeyNotFound) {
		return nil, err
	}
	if err := db.IteratePrefix(prefixJob, func(_, value []byte) error {
		job := &Job{}
		if err := json.Unmarshal(value, job); err != nil {
			return fmt.Errorf("scheduler: decode job: %w", err)
		}
		s.jobs[job.ID] = job
		if job.Status == JobStatusQueued {
			s.queue = append(s.queue, queueItem{score: job.PriorityScore, seq: job.Sequence, jobID: job.ID})
		}
		return nil
	}); err != nil {
		return nil, err
	}
	heap.Init(&s.queue)
	observability.Economy().QueueDepth.Set(float64(s.queue.Len()))
	return s, nil
}

// SetNowFunc overrides the clock used to stamp job transitions.
func (s *Scheduler) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now == nil {
		s.nowFn = func() time.Time { return time.Now().UTC() }
		return
	}
	s.nowFn = now
}

func (s *Scheduler) persistJob(job *Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return s.db.Put(append(prefixJob, fmt.Sprintf("%020d", job.ID)...), raw)
}

// SubmitJob enqueues the job described by the prepared record fields and
// returns the stored record together with its 1-based queue position.
func (s *Scheduler) SubmitJob(job Job) (*Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobSeq++
	job.ID = s.jobSeq
	job.Sequence = s.jobSeq
	job.Status = JobStatusQueued
	job.SubmittedAt = s.nowFn()

	stored := job.clone()
	if err := s.persistJob(stored); err != nil {
		return nil, 0, err
	}
	seqRaw, err := json.Marshal(s.jobSeq)
	if err != nil {
		return nil, 0, err
	}
	if err := s.db.Put(keyJobSeq, seqRaw); err != nil {
		return nil, 0, err
	}

	s.jobs[stored.ID] = stored
	heap.Push(&s.queue, queueItem{score: stored.PriorityScore, seq: stored.Sequence, jobID: stored.ID})

	metrics := observability.Economy()
	metrics.JobsSubmitted.Inc()
	metrics.QueueDepth.Set(float64(s.queue.Len()))

	position, _ := s.positionLocked(stored.ID)
	return stored.clone(), position, nil
}

// PopHighest removes and returns the queued job with the highest
// (score desc, sequence asc) key, marking it processing. Returns false when
// the queue is empty. A job leaves the queue exactly once and is never
// re-enqueued.
func (s *Scheduler) PopHighest() (*Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queue.Len() == 0 {
		return nil, false, nil
	}
	item := heap.Pop(&s.queue).(queueItem)
	job := s.jobs[item.jobID]
	job.Status = JobStatusProcessing
	job.StartedAt = s.nowFn()
	if err := s.persistJob(job); err != nil {
		return nil, false, err
	}
	observability.Economy().QueueDepth.Set(float64(s.queue.Len()))
	return job.clone(), true, nil
}

// Complete records the executor outcome for a processing job and moves it to
// its terminal status.
func (s *Scheduler) Complete(jobID uint64, result *ExecutionResult, failure string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	job.CompletedAt = s.nowFn()
	if failure != "" {
		job.Status = JobStatusFailed
		job.FailureReason = failure
	} else {
		job.Status = JobStatusCompleted
		job.Result = result
	}
	if err := s.persistJob(job); err != nil {
		return nil, err
	}
	observability.Economy().JobsProcessed.WithLabelValues(string(job.Status)).Inc()
	return job.clone(), nil
}

// positionLocked derives the 1-based rank of a queued job: one plus the
// count of queued jobs ordered ahead of it. O(n), acceptable at expected
// queue sizes.
func (s *Scheduler) positionLocked(jobID uint64) (int, error) {
	var target *queueItem
	for i := range s.queue {
		if s.queue[i].jobID == jobID {
			target = &s.queue[i]
			break
		}
	}
	if target == nil {
		return 0, ErrJobNotFound
	}
	position := 1
	for _, item := range s.queue {
		if item.jobID == target.jobID {
			continue
		}
		if item.score > target.score || (item.score == target.score && item.seq < target.seq) {
			position++
		}
	}
	return position, nil
}

// Position returns the job's 1-based rank among currently queued jobs.
func (s *Scheduler) Position(jobID uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionLocked(jobID)
}

// Job returns a copy of the stored record.
func (s *Scheduler) Job(jobID uint64) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.clone(), nil
}

// JobsFor returns every job owned by the account, oldest first.
func (s *Scheduler) JobsFor(owner string) []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, job := range s.jobs {
		if job.Owner == owner {
			out = append(out, job.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats summarises queue occupancy.
func (s *Scheduler) Stats() QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := QueueStats{Total: len(s.jobs)}
	for _, job := range s.jobs {
		switch job.Status {
		case JobStatusQueued:
			stats.Queued++
		case JobStatusProcessing:
			stats.Processing++
		case JobStatusCompleted:
			stats.Completed++
		case JobStatusFailed:
			stats.Failed++
		}
	}
	return stats
}
