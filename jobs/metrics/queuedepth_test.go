package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/n0rdy/tableq/common"
	"github.com/n0rdy/tableq/configs"
	"github.com/n0rdy/tableq/db"
	"github.com/n0rdy/tableq/metrics"
)

type depthMetrics struct {
	metrics.Service
	depths map[string]int64
}

func (dm *depthMetrics) SetQueueDepth(status string, depth int64) {
	dm.depths[status] = depth
}

func TestQueueDepthMetricsJob_Refresh(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tableq.db")
	if err := db.RunMigrations(configs.SQLiteDialect, dbPath); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	schema, err := configs.NewSchemaConfig()
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	repo, err := db.NewSQLiteRepo(context.Background(), dbPath, schema)
	if err != nil {
		t.Fatalf("open repo: %v", err)
	}
	defer repo.Close()

	for range 2 {
		if err := repo.PublishMessage(context.Background(), common.NewMessage("jobs", "x"), false); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	dm := &depthMetrics{Service: metrics.NewMetricsService(false), depths: make(map[string]int64)}
	j := NewQueueDepthMetricsJob(dm, repo, time.Hour)
	defer j.Close()
	j.refresh(context.Background())

	if len(dm.depths) != len(common.AllStatuses()) {
		t.Fatalf("depths=%v", dm.depths)
	}
	if dm.depths["in_queue"] != 2 || dm.depths["ack_pending"] != 0 {
		t.Fatalf("depths=%v", dm.depths)
	}
}
