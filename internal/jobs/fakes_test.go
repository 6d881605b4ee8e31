package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"mapleads/internal/crawler"
	"mapleads/internal/model"
	"mapleads/internal/pkg/notify"
	"mapleads/internal/pkg/taskqueue"
	"mapleads/internal/store"
	"mapleads/internal/webhook"
)

// memJobs 内存版任务存储
type memJobs struct {
	mu        sync.Mutex
	jobs      map[string]*model.Job
	progress  []string
	createErr error
}

func newMemJobs(jobs ...*model.Job) *memJobs {
	m := &memJobs{jobs: make(map[string]*model.Job)}
	for _, j := range jobs {
		m.jobs[j.ID] = j
	}
	return m
}

func (m *memJobs) Create(ctx context.Context, job *model.Job) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *memJobs) Get(ctx context.Context, id string) (*model.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (m *memJobs) with(id string, fn func(j *model.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	fn(j)
	return nil
}

func (m *memJobs) MarkRunning(ctx context.Context, id string, attempt int) error {
	return m.with(id, func(j *model.Job) {
		j.Status = model.JobRunning
		j.Attempts = attempt
	})
}

func (m *memJobs) UpdateProgress(ctx context.Context, id string, percent int, message string) error {
	return m.with(id, func(j *model.Job) {
		if percent >= 0 {
			j.Progress = percent
		}
		j.Message = message
		m.progress = append(m.progress, message)
	})
}

func (m *memJobs) MarkSucceeded(ctx context.Context, id string, leads int, tier string) error {
	return m.with(id, func(j *model.Job) {
		j.Status = model.JobSucceeded
		j.Progress = 100
		j.LeadsCollected = leads
		j.EgressTier = tier
	})
}

func (m *memJobs) MarkRetrying(ctx context.Context, id string, errMsg string) error {
	return m.with(id, func(j *model.Job) {
		j.Status = model.JobPending
		j.LastError = errMsg
	})
}

func (m *memJobs) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return m.with(id, func(j *model.Job) {
		j.Status = model.JobFailed
		j.LastError = errMsg
	})
}

func (m *memJobs) status(id string) string {
	j, _ := m.Get(context.Background(), id)
	if j == nil {
		return ""
	}
	return j.Status
}

// memLeads 内存版线索仓库，按 租户/活动/号码 去重
type memLeads struct {
	mu        sync.Mutex
	rows      []model.Lead
	seen      map[string]bool
	campaigns map[string]int
	insertErr error
}

func newMemLeads() *memLeads {
	return &memLeads{seen: make(map[string]bool), campaigns: make(map[string]int)}
}

func (m *memLeads) BulkInsert(ctx context.Context, leads []model.Lead) (int64, error) {
	if m.insertErr != nil {
		return 0, m.insertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, l := range leads {
		key := l.TenantID + "|" + l.CampaignID + "|" + l.Phone
		if m.seen[key] {
			continue
		}
		m.seen[key] = true
		m.rows = append(m.rows, l)
		n++
	}
	return n, nil
}

func (m *memLeads) IncrementCampaignLeads(ctx context.Context, tenantID, campaignID string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.campaigns[tenantID+"/"+campaignID] += n
	return nil
}

// mockPublisher 函数字段式 mock
type mockPublisher struct {
	mu          sync.Mutex
	submitted   []string
	SubmitJobFn func(ctx context.Context, jobID, tenantID, source string) error
}

func (m *mockPublisher) SubmitJob(ctx context.Context, jobID, tenantID, source string) error {
	if m.SubmitJobFn != nil {
		if err := m.SubmitJobFn(ctx, jobID, tenantID, source); err != nil {
			return err
		}
	}
	m.mu.Lock()
	m.submitted = append(m.submitted, jobID)
	m.mu.Unlock()
	return nil
}

type mockDeduper struct {
	seen     map[string]bool
	released []string
	err      error
}

func (m *mockDeduper) IsDuplicate(ctx context.Context, fp string) (bool, error) {
	if m.err != nil {
		return false, m.err
	}
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[fp] {
		return true, nil
	}
	m.seen[fp] = true
	return false, nil
}

func (m *mockDeduper) Release(ctx context.Context, fp string) error {
	delete(m.seen, fp)
	m.released = append(m.released, fp)
	return nil
}

// fakeQueue 模拟消费者：按 maxAttempts 决定重试或死信
type fakeQueue struct {
	mu          sync.Mutex
	pending     chan *taskqueue.MessageWithID
	acked       []string
	retried     []*taskqueue.TaskMessage
	deadLetters []string
	maxAttempts int
}

func newFakeQueue(maxAttempts int) *fakeQueue {
	return &fakeQueue{pending: make(chan *taskqueue.MessageWithID, 16), maxAttempts: maxAttempts}
}

func (q *fakeQueue) push(id string, msg *taskqueue.TaskMessage) {
	q.pending <- &taskqueue.MessageWithID{ID: id, Message: msg}
}

func (q *fakeQueue) Read(ctx context.Context) ([]*taskqueue.MessageWithID, error) {
	select {
	case m := <-q.pending:
		return []*taskqueue.MessageWithID{m}, nil
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *fakeQueue) Ack(ctx context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, id)
	return nil
}

func (q *fakeQueue) HandleFailure(ctx context.Context, m *taskqueue.MessageWithID, cause error) (taskqueue.FailureAction, time.Duration, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, m.ID)
	if m.Message.Attempt >= q.maxAttempts {
		q.deadLetters = append(q.deadLetters, m.ID)
		return taskqueue.FailureActionDLQ, 0, nil
	}
	q.retried = append(q.retried, m.Message.NextAttempt())
	return taskqueue.FailureActionRetry, 10 * time.Second, nil
}

func (q *fakeQueue) ackedIDs() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...)
}

type extractFunc func(ctx context.Context, req crawler.Request, onProgress crawler.ProgressFunc) (*crawler.Result, error)

func (f extractFunc) Extract(ctx context.Context, req crawler.Request, onProgress crawler.ProgressFunc) (*crawler.Result, error) {
	return f(ctx, req, onProgress)
}

type sentEvent struct {
	url string
	ev  webhook.Event
}

type recordingHooks struct {
	mu     sync.Mutex
	events []sentEvent
}

func (h *recordingHooks) Notify(url string, ev webhook.Event) {
	if url == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, sentEvent{url: url, ev: ev})
}

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []notify.JobAlert
}

func (r *recordingAlerts) JobFailed(ctx context.Context, a notify.JobAlert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

var errExtraction = errors.New("zero leads after all egress tiers")
