package history

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-nad/internal/bridges/nad"
	"github.com/nerrad567/gray-logic-nad/internal/infrastructure/database"
	_ "github.com/nerrad567/gray-logic-nad/migrations"
)

// openTestDB opens a migrated database in a temp directory.
func openTestDB(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "history.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return db
}

func TestRecordStateAndList(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	changes := []nad.StateChange{
		{Channel: "zone1#power", Value: true, Timestamp: base},
		{Channel: "zone1#volumeDB", Value: -40.0, Timestamp: base.Add(time.Second)},
		{Channel: "zone1#volumeDB", Value: -35.0, Timestamp: base.Add(2 * time.Second)},
		{Channel: "tuner#rdsText", Value: "Now playing", Timestamp: base.Add(3 * time.Second)},
	}
	for _, c := range changes {
		if err := repo.RecordState(ctx, c); err != nil {
			t.Fatalf("RecordState(%s) error = %v", c.Channel, err)
		}
	}

	volume, err := repo.List(ctx, "zone1#volumeDB", 10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(volume) != 2 {
		t.Fatalf("len = %d, want 2", len(volume))
	}
	if volume[0].Value != -35.0 || volume[1].Value != -40.0 {
		t.Errorf("values = %v, %v; want newest first", volume[0].Value, volume[1].Value)
	}
	if !volume[0].CreatedAt.Equal(base.Add(2*time.Second)) || volume[0].Source != SourceReceiver {
		t.Errorf("entry = %+v", volume[0])
	}

	all, err := repo.List(ctx, "", 0)
	if err != nil {
		t.Fatalf("List(all) error = %v", err)
	}
	if len(all) != 4 || all[0].Channel != "tuner#rdsText" || all[0].Value != "Now playing" {
		t.Errorf("all = %+v", all)
	}
	if all[3].Value != true {
		t.Errorf("power value = %v (%T), want true", all[3].Value, all[3].Value)
	}
}

func TestListLimit(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := repo.Record(ctx, "zone2#source", i+1, "", time.Time{}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := repo.List(ctx, "zone2#source", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
	// Same-millisecond rows fall back to insertion order.
	if got[0].Value != 5.0 {
		t.Errorf("newest = %v, want 5", got[0].Value)
	}
}

func TestRecordRequiresChannel(t *testing.T) {
	repo := NewSQLiteRepository(openTestDB(t).DB)
	if err := repo.Record(context.Background(), "", 1, "", time.Time{}); err == nil {
		t.Error("Record() without channel should fail")
	}
}

func TestPrune(t *testing.T) {
	db := openTestDB(t)
	repo := NewSQLiteRepository(db.DB)
	ctx := context.Background()
	now := time.Now()

	if err := repo.Record(ctx, "zone1#mute", true, "", now.Add(-72*time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := repo.Record(ctx, "zone1#mute", false, "", now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}

	n, err := repo.Prune(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}

	left, _ := repo.List(ctx, "zone1#mute", 10)
	if len(left) != 1 || left[0].Value != false {
		t.Errorf("remaining = %+v", left)
	}

	if _, err := repo.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) should fail")
	}
}

type countingPruner struct {
	mu    sync.Mutex
	calls int
	rows  int64
}

func (p *countingPruner) Prune(context.Context, time.Duration) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.rows, nil
}

func (p *countingPruner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type countingCheckpointer struct {
	mu    sync.Mutex
	calls int
}

func (c *countingCheckpointer) Checkpoint(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return nil
}

func (c *countingCheckpointer) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func TestRetentionRun(t *testing.T) {
	pruner := &countingPruner{rows: 3}
	cp := &countingCheckpointer{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- Retention{Pruner: pruner, Checkpoint: cp, Keep: time.Hour, Interval: 10 * time.Millisecond}.Run(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for pruner.count() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()

	if err := <-done; err != nil {
		t.Errorf("Run() = %v", err)
	}
	if pruner.count() < 3 {
		t.Errorf("prunes = %d, want >= 3", pruner.count())
	}
	if cp.count() == 0 {
		t.Error("no checkpoint after rows were pruned")
	}
}

func TestRetentionDisabled(t *testing.T) {
	pruner := &countingPruner{}
	if err := (Retention{Pruner: pruner}).Run(context.Background()); err != nil {
		t.Errorf("Run() = %v", err)
	}
	if pruner.count() != 0 {
		t.Error("Run() with Keep=0 should not prune")
	}
}
