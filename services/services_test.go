package services

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/n0rdy/tableq/common"
	"github.com/n0rdy/tableq/configs"
	"github.com/n0rdy/tableq/db"
)

func newRepoForTest(t *testing.T) *db.MessageRepo {
	t.Helper()

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
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newAppConfigsForTest() *configs.AppConfigs {
	appConfigs := configs.NewAppConfig()
	appConfigs.PollingInterval = 10 * time.Millisecond
	appConfigs.PollingDuration = 50 * time.Millisecond
	appConfigs.MessageContentMaxSizeBytes = 64
	appConfigs.MaxProcessAfterDelay = time.Hour
	return appConfigs
}

// recordingMetrics keeps the counters the services report, keyed by metric and label.
type recordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int64
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{counts: make(map[string]int64)}
}

func (rm *recordingMetrics) add(key string, count int64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.counts[key] += count
}

func (rm *recordingMetrics) get(key string) int64 {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.counts[key]
}

func (rm *recordingMetrics) IncMessagesPublishedTotalBy(count int64, topic string, mode string) {
	rm.add("published."+mode, count)
}

func (rm *recordingMetrics) IncMessagesClaimedTotalBy(count int64, topic string) {
	rm.add("claimed", count)
}

func (rm *recordingMetrics) IncMessagesAckedTotalBy(count int64) {
	rm.add("acked", count)
}

func (rm *recordingMetrics) IncMessagesNackedTotalBy(count int64, requeue bool) {
	rm.add("nacked", count)
}

func (rm *recordingMetrics) SetQueueDepth(status string, depth int64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.counts["depth."+status] = depth
}

func (rm *recordingMetrics) IncMessagesPendingRecoveredTotalBy(count int64, policy string) {
	rm.add("recovered."+policy, count)
}

func (rm *recordingMetrics) IncMessagesCleanupTotalBy(count int64) {
	rm.add("cleanup", count)
}

func mustProcess(t *testing.T, ms *MessagesService, req common.NewMessageRequest, topic string) *common.NewMessageResponse {
	t.Helper()

	resp, err := ms.ProcessNewMessage(context.Background(), req, topic)
	if err != nil {
		t.Fatalf("process new message: %v", err)
	}
	return resp
}
