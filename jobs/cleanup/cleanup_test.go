package cleanup

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

type countingMetrics struct {
	metrics.Service
	cleaned   int64
	recovered map[string]int64
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		Service:   metrics.NewMetricsService(false),
		recovered: make(map[string]int64),
	}
}

func (cm *countingMetrics) IncMessagesCleanupTotalBy(count int64) {
	cm.cleaned += count
}

func (cm *countingMetrics) IncMessagesPendingRecoveredTotalBy(count int64, policy string) {
	cm.recovered[policy] += count
}

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

// publishAndClaim publishes n messages on topic and claims them all.
func publishAndClaim(t *testing.T, repo *db.MessageRepo, topic string, n int) []*common.Message {
	t.Helper()
	ctx := context.Background()

	for range n {
		if err := repo.PublishMessage(ctx, common.NewMessage(topic, "x"), false); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	filter, err := common.NewFilter(common.WithTopic(topic), common.WithLimit(n))
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	claimed, err := repo.GetMessages(ctx, filter)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != n {
		t.Fatalf("claimed %d want %d", len(claimed), n)
	}
	return claimed
}

func countStatus(t *testing.T, repo *db.MessageRepo, status int) int64 {
	t.Helper()

	counts, err := repo.CountByStatus(context.Background())
	if err != nil {
		t.Fatalf("count by status: %v", err)
	}
	return counts[status]
}

func TestMessagesCleanupJob_Cleanup(t *testing.T) {
	repo := newRepoForTest(t)
	cm := newCountingMetrics()
	ctx := context.Background()

	claimed := publishAndClaim(t, repo, "jobs", 3)
	if err := repo.Ack(ctx, claimed[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := repo.Nack(ctx, claimed[1].ID, false); err != nil {
		t.Fatalf("nack: %v", err)
	}

	j := NewMessagesCleanupJob(repo, cm, time.Hour, 0, common.DeleteAckReceived)
	defer j.Close()
	j.cleanup(ctx)

	if cm.cleaned != 1 {
		t.Fatalf("cleaned=%d want 1", cm.cleaned)
	}
	if countStatus(t, repo, common.AckReceivedStatus) != 0 || countStatus(t, repo, common.NackReceivedStatus) != 1 {
		t.Fatalf("unexpected rows left after cleanup")
	}
	if countStatus(t, repo, common.AckPendingStatus) != 1 {
		t.Fatalf("pending message removed by cleanup")
	}
}

func TestPendingMessagesJob_Recover(t *testing.T) {
	tests := []struct {
		policy string
		want   int
	}{
		{common.RequeuePendingPolicy, common.InQueueStatus},
		{common.UndeliverablePendingPolicy, common.AckNotReceivedStatus},
	}

	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			repo := newRepoForTest(t)
			cm := newCountingMetrics()
			publishAndClaim(t, repo, "jobs", 2)

			j := NewPendingMessagesJob(repo, cm, time.Hour, 0, tt.policy)
			defer j.Close()
			j.recoverPending(context.Background())

			if got := countStatus(t, repo, tt.want); got != 2 {
				t.Fatalf("status %d count=%d want 2", tt.want, got)
			}
			if cm.recovered[tt.policy] != 2 {
				t.Fatalf("recovered=%v", cm.recovered)
			}
		})
	}
}

func TestPendingMessagesJob_KeepsRecentClaims(t *testing.T) {
	repo := newRepoForTest(t)
	cm := newCountingMetrics()
	publishAndClaim(t, repo, "jobs", 1)

	j := NewPendingMessagesJob(repo, cm, time.Hour, time.Hour, common.RequeuePendingPolicy)
	defer j.Close()
	j.recoverPending(context.Background())

	if countStatus(t, repo, common.AckPendingStatus) != 1 || len(cm.recovered) != 0 {
		t.Fatalf("recent claim recovered")
	}
}

func TestTickTimeout(t *testing.T) {
	tests := []struct {
		interval time.Duration
		want     time.Duration
	}{
		{time.Minute, 59 * time.Second},
		{time.Second, time.Second},
		{100 * time.Millisecond, 100 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := tickTimeout(tt.interval); got != tt.want {
			t.Fatalf("tickTimeout(%s)=%s want %s", tt.interval, got, tt.want)
		}
	}
}
