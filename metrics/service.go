package metrics

const (
	NewPublishMode     = "new"
	UpdatedPublishMode = "updated"
	SkippedPublishMode = "skipped"
)

type Service interface {
	IncMessagesPublishedTotalBy(count int64, topic string, mode string)
	IncMessagesClaimedTotalBy(count int64, topic string)
	IncMessagesAckedTotalBy(count int64)
	IncMessagesNackedTotalBy(count int64, requeue bool)
	SetQueueDepth(status string, depth int64)
	IncMessagesPendingRecoveredTotalBy(count int64, policy string)
	IncMessagesCleanupTotalBy(count int64)
}

func NewMetricsService(metricsEnabled bool) Service {
	if metricsEnabled {
		return newPrometheusMetricsService()
	}
	return newNoopMetricsService()
}
