package scheduler

import (
	"errors"
	"sync"
	"testing"

	"anima/native/access"
	"anima/storage"
)

func newTestScheduler(t *testing.T) (*Scheduler, *storage.MemDB) {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	s, err := New(db)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s, db
}

func submit(t *testing.T, s *Scheduler, owner string, score float64) *Job {
	t.Helper()
	job, _, err := s.SubmitJob(Job{
		Owner:         owner,
		Request:       access.Request{Resolution: access.Resolution720p, FPS: 24, DurationMinutes: 1},
		PriorityScore: score,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return job
}

func TestPopOrderByScoreThenFIFO(t *testing.T) {
	s, _ := newTestScheduler(t)

	first := submit(t, s, "a", 3)
	second := submit(t, s, "b", 7)
	third := submit(t, s, "c", 1)
	fourth := submit(t, s, "d", 7)

	// Highest score first; the two score-7 jobs resolve in submission order.
	wantOrder := []uint64{second.ID, fourth.ID, first.ID, third.ID}
	for i, want := range wantOrder {
		job, ok, err := s.PopHighest()
		if err != nil {
			t.Fatalf("pop %d: %v", i, err)
		}
		if !ok {
			t.Fatalf("pop %d: queue drained early", i)
		}
		if job.ID != want {
			t.Fatalf("pop %d: got job %d want %d", i, job.ID, want)
		}
		if job.Status != JobStatusProcessing {
			t.Fatalf("pop %d: status %s", i, job.Status)
		}
	}
	if _, ok, err := s.PopHighest(); err != nil || ok {
		t.Fatalf("expected empty queue, got ok=%v err=%v", ok, err)
	}
}

func TestQueuePosition(t *testing.T) {
	s, _ := newTestScheduler(t)

	low := submit(t, s, "a", 1)
	high := submit(t, s, "b", 10)
	mid := submit(t, s, "c", 5)

	cases := []struct {
		id   uint64
		want int
	}{
		{high.ID, 1},
		{mid.ID, 2},
		{low.ID, 3},
	}
	for _, tc := range cases {
		got, err := s.Position(tc.id)
		if err != nil {
			t.Fatalf("position %d: %v", tc.id, err)
		}
		if got != tc.want {
			t.Fatalf("position of job %d: got %d want %d", tc.id, got, tc.want)
		}
	}

	if _, _, err := s.PopHighest(); err != nil {
		t.Fatalf("pop: %v", err)
	}
	// Popped jobs no longer have a queue position.
	if _, err := s.Position(high.ID); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound for popped job, got %v", err)
	}
	if got, err := s.Position(mid.ID); err != nil || got != 1 {
		t.Fatalf("mid position after pop: got %d err=%v", got, err)
	}
}

func TestCompleteTransitions(t *testing.T) {
	s, _ := newTestScheduler(t)

	submit(t, s, "a", 2)
	submit(t, s, "b", 1)

	job, ok, err := s.PopHighest()
	if err != nil || !ok {
		t.Fatalf("pop: ok=%v err=%v", ok, err)
	}
	done, err := s.Complete(job.ID, &ExecutionResult{QualityScore: 0.9, Detail: "rendered"}, "")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != JobStatusCompleted || done.Result == nil {
		t.Fatalf("completed job: %+v", done)
	}
	if done.CompletedAt.IsZero() {
		t.Fatalf("completion timestamp not set")
	}

	job, ok, err = s.PopHighest()
	if err != nil || !ok {
		t.Fatalf("second pop: ok=%v err=%v", ok, err)
	}
	failed, err := s.Complete(job.ID, nil, "render backend unavailable")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if failed.Status != JobStatusFailed || failed.FailureReason == "" {
		t.Fatalf("failed job: %+v", failed)
	}

	stats := s.Stats()
	if stats.Completed != 1 || stats.Failed != 1 || stats.Queued != 0 {
		t.Fatalf("stats: %+v", stats)
	}

	if _, err := s.Complete(999, nil, ""); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestReloadReenqueuesQueuedJobs(t *testing.T) {
	s, db := newTestScheduler(t)

	submit(t, s, "a", 3)
	high := submit(t, s, "b", 9)
	submit(t, s, "c", 9)

	// One job in flight and one finished; only queued jobs come back.
	popped, ok, err := s.PopHighest()
	if err != nil || !ok {
		t.Fatalf("pop: ok=%v err=%v", ok, err)
	}
	if popped.ID != high.ID {
		t.Fatalf("popped job %d, want %d", popped.ID, high.ID)
	}
	if _, err := s.Complete(popped.ID, &ExecutionResult{QualityScore: 1}, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}

	reloaded, err := New(db)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	stats := reloaded.Stats()
	if stats.Queued != 2 || stats.Completed != 1 {
		t.Fatalf("stats after reload: %+v", stats)
	}

	// Order is preserved: the remaining score-9 job, then the score-3 job.
	first, ok, err := reloaded.PopHighest()
	if err != nil || !ok {
		t.Fatalf("pop after reload: ok=%v err=%v", ok, err)
	}
	if first.PriorityScore != 9 {
		t.Fatalf("first after reload: score %v", first.PriorityScore)
	}
	second, ok, err := reloaded.PopHighest()
	if err != nil || !ok {
		t.Fatalf("second pop after reload: ok=%v err=%v", ok, err)
	}
	if second.PriorityScore != 3 {
		t.Fatalf("second after reload: score %v", second.PriorityScore)
	}

	// New submissions continue the persisted ID sequence.
	next := submit(t, reloaded, "d", 1)
	if next.ID <= popped.ID {
		t.Fatalf("job ID sequence regressed: %d", next.ID)
	}
}

func TestConcurrentPopsNeverShareAJob(t *testing.T) {
	s, _ := newTestScheduler(t)

	const jobs = 64
	for i := 0; i < jobs; i++ {
		submit(t, s, "a", float64(i%7))
	}

	var mu sync.Mutex
	seen := make(map[uint64]int, jobs)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, ok, err := s.PopHighest()
				if err != nil {
					t.Errorf("pop: %v", err)
					return
				}
				if !ok {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != jobs {
		t.Fatalf("popped %d distinct jobs, want %d", len(seen), jobs)
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("job %d popped %d times", id, count)
		}
	}
}
