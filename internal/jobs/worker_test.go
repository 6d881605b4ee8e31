package jobs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"mapleads/internal/config"
	"mapleads/internal/crawler"
	"mapleads/internal/model"
	"mapleads/internal/pkg/logger"
	"mapleads/internal/pkg/taskqueue"
	"mapleads/internal/webhook"
)

func testJobsConfig() config.JobsConfig {
	return config.JobsConfig{
		Concurrency: 2,
		MaxAttempts: 2,
		JobTimeout:  config.D(5 * time.Second),
	}
}

func pendingJob(id string) *model.Job {
	return &model.Job{
		ID:         id,
		TenantID:   "tenant-1",
		Phrase:     "dentista",
		City:       "São Paulo",
		Limit:      3,
		CampaignID: "camp-1",
		WebhookURL: "https://hooks.example.com/done",
		Status:     model.JobPending,
	}
}

func threeLeads(ctx context.Context, req crawler.Request, onProgress crawler.ProgressFunc) (*crawler.Result, error) {
	onProgress(crawler.Progress{Message: "window 1/3", Percent: 0})
	onProgress(crawler.Progress{Message: "collected 3 leads", Percent: 100, Count: 3})
	return &crawler.Result{
		Leads: []crawler.Lead{
			{Name: "Clínica A", Phone: "551134567890", Website: "https://a.example.com"},
			{Name: "Clínica B", Phone: "5511987654321"},
			{Name: "Clínica C", Phone: "551122334455", Origin: "gmaps_scraper"},
		},
		Tier:     "mobile",
		Attempts: 2,
	}, nil
}

type workerFixture struct {
	jobs   *memJobs
	leads  *memLeads
	queue  *fakeQueue
	hooks  *recordingHooks
	alerts *recordingAlerts
	worker *Worker
}

func newWorkerFixture(engine Extractor, jobs ...*model.Job) *workerFixture {
	f := &workerFixture{
		jobs:   newMemJobs(jobs...),
		leads:  newMemLeads(),
		queue:  newFakeQueue(2),
		hooks:  &recordingHooks{},
		alerts: &recordingAlerts{},
	}
	f.worker = NewWorker(testJobsConfig(), "gmaps_scraper", f.queue, f.jobs, f.leads, engine, f.hooks, f.alerts, logger.Discard())
	return f
}

func message(id, jobID string, attempt int) *taskqueue.MessageWithID {
	m := taskqueue.NewExtractMessage(jobID, "tenant-1", "api")
	m.Attempt = attempt
	return &taskqueue.MessageWithID{ID: id, Message: m}
}

func TestWorker_ProcessSuccess(t *testing.T) {
	f := newWorkerFixture(extractFunc(threeLeads), pendingJob("j1"))

	f.worker.Process(context.Background(), message("1-0", "j1", 1))

	job, _ := f.jobs.Get(context.Background(), "j1")
	if job.Status != model.JobSucceeded || job.LeadsCollected != 3 || job.EgressTier != "mobile" {
		t.Fatalf("unexpected job %+v", job)
	}
	if len(f.jobs.progress) != 2 {
		t.Fatalf("progress updates = %v", f.jobs.progress)
	}
	if len(f.leads.rows) != 3 {
		t.Fatalf("persisted %d leads", len(f.leads.rows))
	}
	if f.leads.campaigns["tenant-1/camp-1"] != 3 {
		t.Fatalf("campaign counter = %v", f.leads.campaigns)
	}

	var meta map[string]string
	if err := json.Unmarshal([]byte(f.leads.rows[0].Metadata), &meta); err != nil {
		t.Fatalf("metadata: %v", err)
	}
	if meta["niche"] != "dentista" || meta["city"] != "São Paulo" || meta["job_id"] != "j1" || meta["website"] != "https://a.example.com" {
		t.Fatalf("unexpected metadata %v", meta)
	}
	if f.leads.rows[1].Origin != "gmaps_scraper" {
		t.Fatalf("origin default not applied: %+v", f.leads.rows[1])
	}

	if len(f.hooks.events) != 1 || f.hooks.events[0].ev.Event != webhook.EventCompleted {
		t.Fatalf("events = %+v", f.hooks.events)
	}
	data := f.hooks.events[0].ev.Data.(webhook.CompletedData)
	if data.LeadsCollected != 3 || data.CampaignID == nil || *data.CampaignID != "camp-1" {
		t.Fatalf("completed data %+v", data)
	}
	if got := f.queue.ackedIDs(); len(got) != 1 || got[0] != "1-0" {
		t.Fatalf("acked %v", got)
	}
}

func TestWorker_ReprocessDoesNotDoubleCount(t *testing.T) {
	job := pendingJob("j1")
	f := newWorkerFixture(extractFunc(threeLeads), job)
	f.worker.Process(context.Background(), message("1-0", "j1", 1))

	// 另一个任务抓到了相同号码
	second := pendingJob("j2")
	f.jobs.jobs["j2"] = second
	f.worker.Process(context.Background(), message("2-0", "j2", 1))

	if len(f.leads.rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(f.leads.rows))
	}
	if f.leads.campaigns["tenant-1/camp-1"] != 3 {
		t.Fatalf("campaign counter = %v", f.leads.campaigns)
	}
}

func TestWorker_UnreachableWebhookStillSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	cfg := config.WebhookConfig{
		MaxRetries:    2,
		BaseDelay:     config.D(time.Second),
		Multiplier:    2,
		MaxDelay:      config.D(5 * time.Second),
		Timeout:       config.D(time.Second),
		BodyLogLimit:  100,
		Workers:       1,
		QueueCapacity: 4,
		SendRate:      100,
	}
	var attempts atomic.Int32
	client := webhook.NewClient(cfg, logger.Discard(), webhook.WithSleep(func(ctx context.Context, d time.Duration) error {
		attempts.Add(1)
		return nil
	}))
	dispatcher := webhook.NewDispatcher(cfg, client, logger.Discard())
	dispatcher.Start(context.Background())

	job := pendingJob("j1")
	job.WebhookURL = url
	f := newWorkerFixture(extractFunc(threeLeads), job)
	f.worker.hooks = dispatcher

	f.worker.Process(context.Background(), message("1-0", "j1", 1))
	if err := dispatcher.Shutdown(5 * time.Second); err != nil {
		t.Fatalf("dispatcher shutdown: %v", err)
	}

	if st := f.jobs.status("j1"); st != model.JobSucceeded {
		t.Fatalf("status = %q, want succeeded", st)
	}
	if attempts.Load() != 2 {
		t.Fatalf("webhook backoff waits = %d, want 2", attempts.Load())
	}
	if len(f.queue.deadLetters) != 0 || len(f.queue.retried) != 0 {
		t.Fatal("webhook failure must not fail the job")
	}
}

func TestWorker_RetryThenDeadLetter(t *testing.T) {
	var calls atomic.Int32
	engine := extractFunc(func(ctx context.Context, req crawler.Request, onProgress crawler.ProgressFunc) (*crawler.Result, error) {
		calls.Add(1)
		return &crawler.Result{}, errExtraction
	})
	f := newWorkerFixture(engine, pendingJob("j1"))

	f.worker.Process(context.Background(), message("1-0", "j1", 1))
	job, _ := f.jobs.Get(context.Background(), "j1")
	if job.Status != model.JobPending || !strings.Contains(job.LastError, "zero leads") {
		t.Fatalf("after first attempt: %+v", job)
	}
	if len(f.queue.retried) != 1 || f.queue.retried[0].Attempt != 2 {
		t.Fatalf("retried %+v", f.queue.retried)
	}
	if len(f.hooks.events) != 0 || len(f.alerts.alerts) != 0 {
		t.Fatal("no notifications before retries are exhausted")
	}

	f.worker.Process(context.Background(), &taskqueue.MessageWithID{ID: "2-0", Message: f.queue.retried[0]})
	if st := f.jobs.status("j1"); st != model.JobFailed {
		t.Fatalf("status = %q, want failed", st)
	}
	if len(f.queue.deadLetters) != 1 {
		t.Fatalf("dead letters %v", f.queue.deadLetters)
	}
	if len(f.hooks.events) != 1 || f.hooks.events[0].ev.Event != webhook.EventFailed {
		t.Fatalf("events = %+v", f.hooks.events)
	}
	if data := f.hooks.events[0].ev.Data.(webhook.FailedData); data.Status != "error" || data.Error == "" {
		t.Fatalf("failed data %+v", data)
	}
	if len(f.alerts.alerts) != 1 || f.alerts.alerts[0].Attempts != 2 || f.alerts.alerts[0].JobID != "j1" {
		t.Fatalf("alerts %+v", f.alerts.alerts)
	}
	if calls.Load() != 2 {
		t.Fatalf("extract calls = %d", calls.Load())
	}
}

func TestWorker_PanicIsRecovered(t *testing.T) {
	engine := extractFunc(func(ctx context.Context, req crawler.Request, onProgress crawler.ProgressFunc) (*crawler.Result, error) {
		panic("browser crashed")
	})
	f := newWorkerFixture(engine, pendingJob("j1"))

	f.worker.Process(context.Background(), message("1-0", "j1", 2))

	job, _ := f.jobs.Get(context.Background(), "j1")
	if job.Status != model.JobFailed || !strings.Contains(job.LastError, "browser crashed") {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestWorker_PersistFailureRetries(t *testing.T) {
	f := newWorkerFixture(extractFunc(threeLeads), pendingJob("j1"))
	f.leads.insertErr = context.DeadlineExceeded

	f.worker.Process(context.Background(), message("1-0", "j1", 1))
	if st := f.jobs.status("j1"); st != model.JobPending {
		t.Fatalf("status = %q, want pending", st)
	}
	if len(f.hooks.events) != 0 {
		t.Fatal("no completion event when persistence fails")
	}
}

func TestWorker_SkipsFinishedAndMissingJobs(t *testing.T) {
	done := pendingJob("j1")
	done.Status = model.JobSucceeded
	var calls atomic.Int32
	engine := extractFunc(func(ctx context.Context, req crawler.Request, onProgress crawler.ProgressFunc) (*crawler.Result, error) {
		calls.Add(1)
		return &crawler.Result{}, nil
	})
	f := newWorkerFixture(engine, done)

	f.worker.Process(context.Background(), message("1-0", "j1", 1))
	f.worker.Process(context.Background(), message("2-0", "missing", 1))

	if calls.Load() != 0 {
		t.Fatal("extraction ran for a finished job")
	}
	if got := f.queue.ackedIDs(); len(got) != 2 {
		t.Fatalf("acked %v", got)
	}
}

func TestWorker_ZeroLeadsWithoutCampaign(t *testing.T) {
	job := pendingJob("j1")
	job.CampaignID = ""
	job.WebhookURL = ""
	engine := extractFunc(func(ctx context.Context, req crawler.Request, onProgress crawler.ProgressFunc) (*crawler.Result, error) {
		return &crawler.Result{Tier: "direct"}, nil
	})
	f := newWorkerFixture(engine, job)

	f.worker.Process(context.Background(), message("1-0", "j1", 1))
	if st := f.jobs.status("j1"); st != model.JobSucceeded {
		t.Fatalf("status = %q", st)
	}
	if len(f.leads.campaigns) != 0 || len(f.hooks.events) != 0 {
		t.Fatal("no campaign update or webhook expected")
	}
}

func TestWorker_Run(t *testing.T) {
	f := newWorkerFixture(extractFunc(threeLeads), pendingJob("j1"), pendingJob("j2"))
	f.queue.push("1-0", taskqueue.NewExtractMessage("j1", "tenant-1", "api"))
	f.queue.push("2-0", taskqueue.NewExtractMessage("j2", "tenant-1", "api"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for len(f.queue.ackedIDs()) < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("acked %v before deadline", f.queue.ackedIDs())
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if f.jobs.status("j1") != model.JobSucceeded || f.jobs.status("j2") != model.JobSucceeded {
		t.Fatal("both jobs should succeed")
	}
}
