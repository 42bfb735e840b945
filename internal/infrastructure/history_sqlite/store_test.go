package history_sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/relforge/relforge/internal/domain"
)

func sampleRun(id, ref string, started time.Time) domain.Run {
	return domain.Run{
		ID:         id,
		Event:      domain.EventPush,
		Ref:        ref,
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Minute),
		Conclusion: domain.StatusSuccess,
		Results: []domain.JobResult{
			{JobID: "verify/check", Stage: domain.StageVerify, Status: domain.StatusSuccess, Duration: 40 * time.Second},
			{JobID: "test/linux-stable", Stage: domain.StageTest, Status: domain.StatusSuccess, Duration: 90 * time.Second},
			{JobID: "release/publish", Stage: domain.StageRelease, Status: domain.StatusSkipped},
		},
	}
}

func TestSaveAndListRuns(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	if err := store.SaveRun(ctx, sampleRun("run-1", "refs/heads/main", base)); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRun(ctx, sampleRun("run-2", "refs/tags/v1.2.3", base.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	runs, err := store.ListRuns(ctx, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "run-2" {
		t.Errorf("expected newest first, got %s", runs[0].ID)
	}
	if runs[0].Ref != "refs/tags/v1.2.3" {
		t.Errorf("ref = %q", runs[0].Ref)
	}
	if len(runs[0].Results) != 3 {
		t.Fatalf("expected 3 job results, got %d", len(runs[0].Results))
	}

	var skip domain.JobResult
	for _, res := range runs[0].Results {
		if res.JobID == "release/publish" {
			skip = res
		}
	}
	if skip.Status != domain.StatusSkipped || skip.Stage != domain.StageRelease {
		t.Errorf("skipped job not round-tripped: %+v", skip)
	}
}

func TestListRuns_Limit(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		if err := store.SaveRun(ctx, sampleRun(id, "refs/heads/main", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := store.ListRuns(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 {
		t.Errorf("limit ignored: got %d runs", len(runs))
	}
}

func TestSaveRun_DuplicateIDRejected(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	run := sampleRun("run-1", "refs/heads/main", time.Now().UTC())
	if err := store.SaveRun(ctx, run); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveRun(ctx, run); err == nil {
		t.Fatal("expected primary key violation for duplicate run id")
	}
}
