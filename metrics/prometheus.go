package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

type PrometheusMetricsService struct {
	messagesPublishedTotal        *prometheus.CounterVec
	messagesClaimedTotal          *prometheus.CounterVec
	messagesAckedTotal            prometheus.Counter
	messagesNackedTotal           *prometheus.CounterVec
	queueDepth                    *prometheus.GaugeVec
	messagesPendingRecoveredTotal *prometheus.CounterVec
	messagesCleanupTotal          prometheus.Counter
}

func newPrometheusMetricsService() *PrometheusMetricsService {
	return NewPrometheusMetricsService(prometheus.DefaultRegisterer)
}

func NewPrometheusMetricsService(registerer prometheus.Registerer) *PrometheusMetricsService {
	srv := &PrometheusMetricsService{
		// mode is one of "new", "updated" (entity merge) and "skipped" (entity already queued)
		messagesPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tableq_messages_published_total",
				Help: "Total number of messages submitted by producers",
			},
			[]string{"topic", "mode"},
		),

		messagesClaimedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tableq_messages_claimed_total",
				Help: "Total number of messages claimed by consumers. Note, this doesn't mean ack-ed or nack-ed, just fetched for processing",
			},
			[]string{"topic"},
		),

		// no topic label here, as ack and nack only carry the message id
		messagesAckedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tableq_messages_acked_total",
				Help: "Total number of messages acknowledged",
			},
		),

		messagesNackedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tableq_messages_nacked_total",
				Help: "Total number of messages nacknowledged",
			},
			[]string{"requeue"},
		),

		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tableq_queue_depth",
				Help: "Current number of messages per status",
			},
			[]string{"status"},
		),

		// no topic label here, as the recovery is a single fire-and-forget UPDATE performed by the cronjob
		messagesPendingRecoveredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tableq_messages_pending_recovered_total",
				Help: "Total number of messages recovered from ACK_PENDING after the pending timeout",
			},
			[]string{"policy"},
		),

		messagesCleanupTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tableq_messages_cleanup_total",
				Help: "Total number of resolved messages deleted after the retention",
			},
		),
	}

	registerer.MustRegister(
		srv.messagesPublishedTotal,
		srv.messagesClaimedTotal,
		srv.messagesAckedTotal,
		srv.messagesNackedTotal,
		srv.queueDepth,
		srv.messagesPendingRecoveredTotal,
		srv.messagesCleanupTotal,
	)

	return srv
}

func (pms *PrometheusMetricsService) IncMessagesPublishedTotalBy(count int64, topic string, mode string) {
	pms.messagesPublishedTotal.WithLabelValues(topic, mode).Add(float64(count))
}

func (pms *PrometheusMetricsService) IncMessagesClaimedTotalBy(count int64, topic string) {
	pms.messagesClaimedTotal.WithLabelValues(topic).Add(float64(count))
}

func (pms *PrometheusMetricsService) IncMessagesAckedTotalBy(count int64) {
	pms.messagesAckedTotal.Add(float64(count))
}

func (pms *PrometheusMetricsService) IncMessagesNackedTotalBy(count int64, requeue bool) {
	pms.messagesNackedTotal.WithLabelValues(strconv.FormatBool(requeue)).Add(float64(count))
}

func (pms *PrometheusMetricsService) SetQueueDepth(status string, depth int64) {
	pms.queueDepth.WithLabelValues(status).Set(float64(depth))
}

func (pms *PrometheusMetricsService) IncMessagesPendingRecoveredTotalBy(count int64, policy string) {
	pms.messagesPendingRecoveredTotal.WithLabelValues(policy).Add(float64(count))
}

func (pms *PrometheusMetricsService) IncMessagesCleanupTotalBy(count int64) {
	pms.messagesCleanupTotal.Add(float64(count))
}
