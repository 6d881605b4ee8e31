package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"

	"mapleads/internal/model"
	"mapleads/internal/pkg/logger"
	"mapleads/internal/pkg/taskqueue"
)

func newTestService(jobs *memJobs, pub *mockPublisher, opts ...ServiceOption) *Service {
	s := NewService(jobs, pub, 500, logger.Discard(), opts...)
	n := 0
	s.newID = func() string {
		n++
		return "job-" + strings.Repeat("x", n)
	}
	return s
}

func validRequest() SubmitRequest {
	return SubmitRequest{
		TenantID:   "tenant-1",
		Phrase:     "dentista",
		City:       "São Paulo",
		Limit:      5,
		CampaignID: "camp-9",
		WebhookURL: "https://hooks.example.com/leads",
	}
}

func TestService_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *SubmitRequest)
		wantErr bool
	}{
		{"valid", func(r *SubmitRequest) {}, false},
		{"no_webhook", func(r *SubmitRequest) { r.WebhookURL = "" }, false},
		{"limit_max", func(r *SubmitRequest) { r.Limit = 500 }, false},
		{"missing_tenant", func(r *SubmitRequest) { r.TenantID = "  " }, true},
		{"missing_phrase", func(r *SubmitRequest) { r.Phrase = "" }, true},
		{"missing_city", func(r *SubmitRequest) { r.City = "" }, true},
		{"zero_limit", func(r *SubmitRequest) { r.Limit = 0 }, true},
		{"limit_too_large", func(r *SubmitRequest) { r.Limit = 501 }, true},
		{"relative_webhook", func(r *SubmitRequest) { r.WebhookURL = "/hooks" }, true},
		{"ftp_webhook", func(r *SubmitRequest) { r.WebhookURL = "ftp://x.example.com" }, true},
	}

	s := newTestService(newMemJobs(), &mockPublisher{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validRequest()
			tt.mutate(&req)
			err := s.Validate(&req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("error %v does not wrap ErrInvalidRequest", err)
			}
		})
	}
}

func TestService_Submit(t *testing.T) {
	jobs := newMemJobs()
	pub := &mockPublisher{}
	s := newTestService(jobs, pub)

	req := validRequest()
	req.Phrase = "  dentista "
	id, err := s.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(pub.submitted) != 1 || pub.submitted[0] != id {
		t.Fatalf("published %v, want [%s]", pub.submitted, id)
	}
	job, err := jobs.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.Status != model.JobPending || job.Phrase != "dentista" || job.Limit != 5 || job.CampaignID != "camp-9" {
		t.Fatalf("unexpected job %+v", job)
	}
}

func TestService_SubmitDuplicate(t *testing.T) {
	dd := &mockDeduper{}
	s := newTestService(newMemJobs(), &mockPublisher{}, WithDeduper(dd))

	if _, err := s.Submit(context.Background(), validRequest()); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := s.Submit(context.Background(), validRequest())
	if !errors.Is(err, ErrDuplicateJob) {
		t.Fatalf("second submit error = %v, want ErrDuplicateJob", err)
	}

	other := validRequest()
	other.City = "Campinas"
	if _, err := s.Submit(context.Background(), other); err != nil {
		t.Fatalf("different city rejected: %v", err)
	}
}

func TestService_SubmitDedupUnavailable(t *testing.T) {
	dd := &mockDeduper{err: errors.New("redis down")}
	s := newTestService(newMemJobs(), &mockPublisher{}, WithDeduper(dd))
	for i := 0; i < 2; i++ {
		if _, err := s.Submit(context.Background(), validRequest()); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
}

func TestService_SubmitPublishFailure(t *testing.T) {
	jobs := newMemJobs()
	dd := &mockDeduper{}
	pub := &mockPublisher{SubmitJobFn: func(ctx context.Context, jobID, tenantID, source string) error {
		return errors.New("stream unavailable")
	}}
	s := newTestService(jobs, pub, WithDeduper(dd))

	if _, err := s.Submit(context.Background(), validRequest()); err == nil {
		t.Fatal("expected enqueue error")
	}
	if len(dd.released) != 1 {
		t.Fatalf("fingerprint not released: %v", dd.released)
	}
	for id := range jobs.jobs {
		if st := jobs.status(id); st != model.JobFailed {
			t.Fatalf("unqueued job status = %q, want failed", st)
		}
	}

	// 释放后可以重新提交
	pub.SubmitJobFn = nil
	if _, err := s.Submit(context.Background(), validRequest()); err != nil {
		t.Fatalf("resubmit after release: %v", err)
	}
}

func TestService_SubmitCreateFailure(t *testing.T) {
	jobs := newMemJobs()
	jobs.createErr = errors.New("db down")
	dd := &mockDeduper{}
	pub := &mockPublisher{}
	s := newTestService(jobs, pub, WithDeduper(dd))

	if _, err := s.Submit(context.Background(), validRequest()); err == nil {
		t.Fatal("expected create error")
	}
	if len(pub.submitted) != 0 || len(dd.released) != 1 {
		t.Fatalf("published %v, released %v", pub.submitted, dd.released)
	}
}

func TestService_Status(t *testing.T) {
	jobs := newMemJobs(&model.Job{ID: "j1", TenantID: "tenant-1", Status: model.JobRunning})
	s := newTestService(jobs, &mockPublisher{})

	tests := []struct {
		name    string
		tenant  string
		id      string
		wantErr error
	}{
		{"owner", "tenant-1", "j1", nil},
		{"unscoped", "", "j1", nil},
		{"other_tenant", "tenant-2", "j1", ErrJobNotFound},
		{"missing", "tenant-1", "nope", ErrJobNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := s.Status(context.Background(), tt.tenant, tt.id)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Status() error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && job.Status != model.JobRunning {
				t.Fatalf("unexpected job %+v", job)
			}
		})
	}
}

type inspectorFunc func(ctx context.Context) (taskqueue.Stats, error)

func (f inspectorFunc) Stats(ctx context.Context) (taskqueue.Stats, error) { return f(ctx) }

func TestService_QueueStats(t *testing.T) {
	s := newTestService(newMemJobs(), &mockPublisher{})
	if st, err := s.QueueStats(context.Background()); err != nil || st != (taskqueue.Stats{}) {
		t.Fatalf("no inspector: %+v, %v", st, err)
	}

	s = newTestService(newMemJobs(), &mockPublisher{}, WithInspector(inspectorFunc(func(ctx context.Context) (taskqueue.Stats, error) {
		return taskqueue.Stats{Length: 3, Pending: 1, Delayed: 2}, nil
	})))
	st, err := s.QueueStats(context.Background())
	if err != nil || st.Length != 3 || st.Delayed != 2 {
		t.Fatalf("stats %+v, %v", st, err)
	}
}
