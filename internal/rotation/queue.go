package rotation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/keypanel/keypanel/internal/db/models"
	"github.com/keypanel/keypanel/internal/services"
	"github.com/keypanel/keypanel/internal/telemetry"
)

const (
	candidateSearchAttempts = 5
	candidateSearchBackoff  = 2 * time.Second
	interJobDelayMin        = 200 * time.Millisecond
	interJobDelayMax        = 500 * time.Millisecond
)

// ErrNoDestination is the terminal failure of a transfer job: no eligible
// destination account was found after all search attempts. The job is skipped,
// the key stays on its current account, and the next tick retries it.
var ErrNoDestination = errors.New("no eligible destination account")

// CandidateSelector yields ranked destination candidates for a job.
type CandidateSelector interface {
	Candidates(ctx context.Context, job TransferJob, notExpiringBefore time.Time) ([]*models.CandidateAccount, error)
}

// TransferExecutor performs one atomic key relocation.
type TransferExecutor interface {
	Transfer(ctx context.Context, job TransferJob, destAccountID string) error
}

// Queue processes transfer jobs strictly sequentially. Sequential execution
// plus the in-run reservation counters guarantee that two jobs in the same run
// can never claim the same free slot before the ledger reflects the first
// claim. A failed job never aborts the run.
type Queue struct {
	selector CandidateSelector
	executor TransferExecutor
	sleep    func(time.Duration) // replaced in tests
}

// NewQueue creates a Queue over the selector and executor
func NewQueue(selector CandidateSelector, executor TransferExecutor) *Queue {
	return &Queue{selector: selector, executor: executor, sleep: time.Sleep}
}

// Run drives every job in order and returns the run summary. Cancelling ctx
// lets the in-flight job finish and leaves the rest of the queue for the next
// tick.
func (q *Queue) Run(ctx context.Context, jobs []TransferJob, notExpiringBefore time.Time) *RunSummary {
	summary := &RunSummary{
		StartedAt:            time.Now(),
		Failed:               []FailedJob{},
		AccountsFullyDrained: []string{},
	}

	telemetry.TransferQueueDepth.Set(float64(len(jobs)))
	defer telemetry.TransferQueueDepth.Set(0)

	// res tracks slots claimed on each destination during this run.
	res := newReservations()

	// pendingBySource tracks how many queued keys each source account still
	// holds; a source that reaches zero is fully drained.
	pendingBySource := make(map[string]int)
	for _, job := range jobs {
		if job.SourceAccountID != nil {
			pendingBySource[*job.SourceAccountID]++
		}
	}

	for i, job := range jobs {
		if ctx.Err() != nil {
			log.Printf("rotation queue: run cancelled with %d of %d jobs processed", i, len(jobs))
			break
		}
		if i > 0 {
			q.sleep(interJobDelay())
		}

		summary.Processed++
		err := q.processJob(ctx, job, notExpiringBefore, res)
		if err == nil {
			summary.Transferred++
			telemetry.KeyTransfersTotal.Inc()
			if job.SourceAccountID != nil {
				pendingBySource[*job.SourceAccountID]--
			}
			continue
		}

		summary.Failed = append(summary.Failed, FailedJob{
			KeyID:           job.KeyID,
			SourceAccountID: job.SourceAccountID,
			Reason:          err.Error(),
		})
		telemetry.KeyTransferFailuresTotal.WithLabelValues(failureReason(err)).Inc()
		log.Printf("rotation queue: job for key %s failed: %v", job.KeyID, err)
	}

	for source, pending := range pendingBySource {
		if pending == 0 {
			summary.AccountsFullyDrained = append(summary.AccountsFullyDrained, source)
		}
	}
	sort.Strings(summary.AccountsFullyDrained)

	summary.FinishedAt = time.Now()
	return summary
}

// processJob finds a destination for one job and executes the transfer.
// Panics are contained here so one bad job cannot take down the run.
func (q *Queue) processJob(ctx context.Context, job TransferJob, notExpiringBefore time.Time, res *reservations) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &jobPanicError{value: r}
		}
	}()

	for attempt := 1; attempt <= candidateSearchAttempts; attempt++ {
		if attempt > 1 {
			q.sleep(candidateSearchBackoff)
		}

		candidates, cErr := q.selector.Candidates(ctx, job, notExpiringBefore)
		if cErr != nil {
			log.Printf("rotation queue: candidate search for key %s failed (attempt %d/%d): %v",
				job.KeyID, attempt, candidateSearchAttempts, cErr)
			continue
		}

		dest := claimCandidate(candidates, job, res)
		if dest == "" {
			continue
		}

		tErr := q.executor.Transfer(ctx, job, dest)
		if tErr == nil {
			res.claim(dest)
			return nil
		}
		if isJobFatal(tErr) {
			return tErr
		}
		// The destination was lost to an interleaved writer or a transient
		// failure exhausted its retries; search again.
		log.Printf("rotation queue: transfer of key %s to account %s failed (attempt %d/%d): %v",
			job.KeyID, dest, attempt, candidateSearchAttempts, tErr)
	}
	return ErrNoDestination
}

// claimCandidate returns the first candidate with free capacity left, or ""
// when every candidate is exhausted for this run.
func claimCandidate(candidates []*models.CandidateAccount, job TransferJob, res *reservations) string {
	for _, c := range candidates {
		if res.freeSlots(c, job.KeyType) > 0 {
			return c.ID
		}
	}
	return ""
}

// reservations tracks the slots this run has claimed per destination account.
// Free capacity on a candidate is the smaller of two views: the occupancy the
// selector just reported, and the occupancy first observed this run minus the
// slots claimed on that account since. The first view is authoritative when
// the selector returns fresh rows that already include committed transfers;
// the second keeps a lagging selector view from handing out the same slot
// twice.
type reservations struct {
	baseFree map[string]int
	claimed  map[string]int
}

func newReservations() *reservations {
	return &reservations{
		baseFree: make(map[string]int),
		claimed:  make(map[string]int),
	}
}

func (r *reservations) freeSlots(c *models.CandidateAccount, keyType models.KeyType) int {
	observed := occupancyOf(c).FreeSlots(keyType)
	base, seen := r.baseFree[c.ID]
	if !seen {
		r.baseFree[c.ID] = observed
		base = observed
	}
	free := base - r.claimed[c.ID]
	if observed < free {
		free = observed
	}
	return free
}

func (r *reservations) claim(accountID string) {
	r.claimed[accountID]++
}

// isJobFatal reports whether retrying the same job with a different
// destination could possibly succeed. A missing or expired key cannot be
// fixed by another candidate search.
func isJobFatal(err error) bool {
	return errors.Is(err, services.ErrNotFound) || errors.Is(err, services.ErrKeyNotTransferable)
}

func failureReason(err error) string {
	var p *jobPanicError
	switch {
	case errors.As(err, &p):
		return "panic"
	case errors.Is(err, ErrNoDestination):
		return "no_destination"
	default:
		return "executor"
	}
}

func interJobDelay() time.Duration {
	return interJobDelayMin + rand.N(interJobDelayMax-interJobDelayMin)
}

type jobPanicError struct {
	value interface{}
}

func (e *jobPanicError) Error() string {
	return fmt.Sprintf("job panicked: %v", e.value)
}
