package metrics

type NoopMetricsService struct {
}

func newNoopMetricsService() *NoopMetricsService {
	return &NoopMetricsService{}
}

func (nms *NoopMetricsService) IncMessagesPublishedTotalBy(count int64, topic string, mode string) {
	// no-op
}

func (nms *NoopMetricsService) IncMessagesClaimedTotalBy(count int64, topic string) {
	// no-op
}

func (nms *NoopMetricsService) IncMessagesAckedTotalBy(count int64) {
	// no-op
}

func (nms *NoopMetricsService) IncMessagesNackedTotalBy(count int64, requeue bool) {
	// no-op
}

func (nms *NoopMetricsService) SetQueueDepth(status string, depth int64) {
	// no-op
}

func (nms *NoopMetricsService) IncMessagesPendingRecoveredTotalBy(count int64, policy string) {
	// no-op
}

func (nms *NoopMetricsService) IncMessagesCleanupTotalBy(count int64) {
	// no-op
}
