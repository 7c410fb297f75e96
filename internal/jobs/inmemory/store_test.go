package inmemory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dvloznov/proforma/internal/jobs"
)

func TestStore(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	if err := s.SaveJob(ctx, &jobs.AnalysisJob{}); err == nil {
		t.Error("expected error for job without ID")
	}

	for i, name := range []string{"base", "downside", "base"} {
		job := &jobs.AnalysisJob{JobID: string(rune('a' + i)), Name: name, Status: jobs.JobStatusPending, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := s.SaveJob(ctx, job); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}
		job.Status = jobs.JobStatusRunning // the store keeps its own copy
	}

	tests := []struct {
		name   string
		filter jobs.JobFilter
		want   []string
	}{
		{"all", jobs.JobFilter{}, []string{"a", "b", "c"}},
		{"by name", jobs.JobFilter{Name: "base"}, []string{"a", "c"}},
		{"limit offset", jobs.JobFilter{Offset: 1, Limit: 1}, []string{"b"}},
		{"offset past end", jobs.JobFilter{Offset: 5}, nil},
		{"by status", jobs.JobFilter{Status: jobs.JobStatusFailed}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.ListJobs(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListJobs: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("ListJobs = %d jobs, want %d", len(got), len(tt.want))
			}
			for i, j := range got {
				if j.JobID != tt.want[i] || j.Status != jobs.JobStatusPending {
					t.Errorf("job %d = %+v, want %s pending", i, j, tt.want[i])
				}
			}
		})
	}

	if err := s.UpdateJobStatus(ctx, "b", jobs.JobStatusFailed, "boom"); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
	got, _ := s.GetJob(ctx, "b")
	if got.Status != jobs.JobStatusFailed || got.Error != "boom" {
		t.Errorf("GetJob(b) = %+v", got)
	}
	if _, err := s.GetJob(ctx, "zz"); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("GetJob(zz) = %v", err)
	}
	if err := s.UpdateJobStatus(ctx, "zz", jobs.JobStatusFailed, ""); !errors.Is(err, jobs.ErrJobNotFound) {
		t.Errorf("UpdateJobStatus(zz) = %v", err)
	}
}
