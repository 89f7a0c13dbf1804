package messagepipeline_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/illmade-knight/go-trailflow/pkg/progress"
	"github.com/illmade-knight/go-trailflow/pkg/types"
)

// --- Log fixtures ---

// records builds a plain-JSON log body with n records named e-0..e-(n-1).
func records(n int) []byte {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf(`{"eventID":"e-%d","eventName":"Event%d","eventTime":"2024-05-01T10:00:00Z"}`, i, i)
	}
	return []byte(`{"Records":[` + strings.Join(parts, ",") + `]}`)
}

func auditSource(msgID, key string) types.Source {
	n := types.Notification{ID: msgID, ReceiptHandle: "rh-" + msgID}
	return types.NewSource(types.SourceAuditLog, "trail-bucket", key, n, nil)
}

// --- Mock LogDownloader ---

type fakeDownloader struct {
	mu     sync.Mutex
	bodies map[string][]byte
	errs   map[string]error
	panics map[string]bool
	calls  []string
}

func newFakeDownloader() *fakeDownloader {
	return &fakeDownloader{bodies: map[string][]byte{}, errs: map[string]error{}, panics: map[string]bool{}}
}

func (d *fakeDownloader) Download(_ context.Context, source types.Source) (*types.Log, error) {
	d.mu.Lock()
	d.calls = append(d.calls, source.ObjectKey)
	body, hasBody := d.bodies[source.ObjectKey]
	err := d.errs[source.ObjectKey]
	panics := d.panics[source.ObjectKey]
	d.mu.Unlock()

	if panics {
		panic("download exploded")
	}
	if err != nil {
		return nil, err
	}
	if !hasBody {
		return nil, errors.New("object not found")
	}
	return types.NewLog(source, body, nil), nil
}

func (d *fakeDownloader) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

// --- Mock Verifier ---

type fixedVerifier types.VerificationResult

func (v fixedVerifier) Verify(_ context.Context, log *types.Log) types.VerificationResult {
	log.SetVerificationResult(types.VerificationResult(v))
	return log.VerificationResult()
}

// --- Mock EventsProcessor ---

type collectingProcessor struct {
	mu      sync.Mutex
	batches [][]types.Event
	failOn  int // 1-based call that fails; zero never fails
	calls   int
}

func (p *collectingProcessor) Process(_ context.Context, events []types.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.failOn != 0 && p.calls == p.failOn {
		return errors.New("sink unavailable")
	}
	p.batches = append(p.batches, events)
	return nil
}

func (p *collectingProcessor) batchSizes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	sizes := make([]int, len(p.batches))
	for i, b := range p.batches {
		sizes[i] = len(b)
	}
	return sizes
}

func (p *collectingProcessor) eventIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for _, b := range p.batches {
		for _, e := range b {
			ids = append(ids, e.Data.EventID)
		}
	}
	return ids
}

// --- Progress recorder ---

type recorder struct {
	mu       sync.Mutex
	starts   []progress.Status
	ends     []progress.Status
	failures []*progress.ProcessingError
}

func (r *recorder) ReportStart(status progress.Status) any {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, status)
	return len(r.starts)
}

func (r *recorder) ReportEnd(status progress.Status, _ any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ends = append(r.ends, status)
}

func (r *recorder) HandleException(err *progress.ProcessingError) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, err)
}

func (r *recorder) endPhases() []progress.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	phases := make([]progress.Phase, len(r.ends))
	for i, s := range r.ends {
		phases[i] = s.Phase
	}
	return phases
}

func (r *recorder) lastEnd(phase progress.Phase) (progress.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.ends) - 1; i >= 0; i-- {
		if r.ends[i].Phase == phase {
			return r.ends[i], true
		}
	}
	return progress.Status{}, false
}

func (r *recorder) failureKinds() []progress.ErrorKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]progress.ErrorKind, len(r.failures))
	for i, f := range r.failures {
		kinds[i] = f.Kind
	}
	return kinds
}

// --- Mock QueueManager ---

type fakeQueue struct {
	mu              sync.Mutex
	batches         [][]types.Source
	deleteOnFailure bool
	deleted         []types.MessageRef
	polls           int
}

func (q *fakeQueue) PollQueue(ctx context.Context) []types.Notification {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.polls++
	if ctx.Err() != nil || len(q.batches) == 0 {
		return nil
	}
	// Notifications are only a token here; ParseMessage hands out the queued sources.
	return []types.Notification{{ID: fmt.Sprintf("poll-%d", q.polls)}}
}

func (q *fakeQueue) ParseMessage(_ context.Context, _ []types.Notification) []types.Source {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.batches) == 0 {
		return nil
	}
	batch := q.batches[0]
	q.batches = q.batches[1:]
	return batch
}

func (q *fakeQueue) DeleteMessage(_ context.Context, ref types.MessageRef, _ progress.Phase) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, ref)
	return true
}

func (q *fakeQueue) ShouldDeleteUponFailure(success bool) bool {
	return !success && q.deleteOnFailure
}

func (q *fakeQueue) deletedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := make([]string, len(q.deleted))
	for i, ref := range q.deleted {
		ids[i] = ref.ID
	}
	return ids
}
