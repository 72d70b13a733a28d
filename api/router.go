package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/n0rdy/tableq/common"
	"github.com/n0rdy/tableq/services"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type Router struct {
	messagesService   *services.MessagesService
	monitoringService *services.MonitoringService
	statsService      *services.StatsService
	authSecret        string
	metricsEnabled    bool
}

func NewRouter(
	messagesService *services.MessagesService,
	monitoringService *services.MonitoringService,
	statsService *services.StatsService,
	authSecret string,
	metricsEnabled bool,
) *Router {
	return &Router{
		messagesService:   messagesService,
		monitoringService: monitoringService,
		statsService:      statsService,
		authSecret:        authSecret,
		metricsEnabled:    metricsEnabled,
	}
}

func (ar *Router) NewRouter() *chi.Mux {
	router := chi.NewRouter()

	router.Get("/healthcheck", ar.healthcheck)
	if ar.metricsEnabled {
		router.Handle("/metrics", promhttp.Handler())
	}

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(apiKeyTokenAuth(ar.authSecret))

		r.Post("/topics/{topic}/messages", ar.sendMessage)

		r.Route("/messages", func(r chi.Router) {
			r.Get("/", ar.fetchMessages)
			r.Get("/count", ar.countMessages)

			r.Route("/{messageId}", func(r chi.Router) {
				r.Post("/ack", ar.ackMessage)
				r.Post("/nack", ar.nackMessage)
			})
		})

		r.Get("/stats", ar.stats)
	})

	return router
}

func (ar *Router) sendMessage(w http.ResponseWriter, req *http.Request) {
	var newMessage common.NewMessageRequest
	err := json.NewDecoder(req.Body).Decode(&newMessage)
	if err != nil {
		log.Error().Err(err).Msg("Failed to decode request body")
		ar.sendErrorResponse(w, http.StatusBadRequest, common.ErrCodeBadRequestInvalidBody)
		return
	}

	topic := chi.URLParam(req, "topic")

	resp, err := ar.messagesService.ProcessNewMessage(req.Context(), newMessage, topic)
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	if !resp.Published {
		// entity already queued in "skip" mode
		ar.sendJsonResponse(w, http.StatusOK, resp)
		return
	}
	ar.sendJsonResponse(w, http.StatusCreated, resp)
}

func (ar *Router) fetchMessages(w http.ResponseWriter, req *http.Request) {
	fetchReq, err := toFetchRequest(req)
	if err != nil {
		log.Error().Err(err).Msg("Invalid fetch query")
		ar.sendErrorResponse(w, http.StatusBadRequest, common.ErrCodeBadRequestInvalidQuery)
		return
	}

	messages, err := ar.messagesService.FetchMessages(req.Context(), fetchReq)
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	if len(messages) == 0 {
		ar.sendNoContentEmptyResponse(w)
		return
	}
	ar.sendJsonResponse(w, http.StatusOK, messages)
}

func (ar *Router) countMessages(w http.ResponseWriter, req *http.Request) {
	query := req.URL.Query()

	var statuses []int
	for _, raw := range splitValues(query["status"]) {
		status, err := common.ParseStatus(raw)
		if err != nil {
			log.Error().Err(err).Str("status", raw).Msg("Invalid status")
			ar.sendErrorResponse(w, http.StatusBadRequest, common.ErrCodeBadRequestInvalidQuery)
			return
		}
		statuses = append(statuses, status)
	}

	count, err := ar.messagesService.CountMessages(req.Context(), query.Get("topic"), statuses)
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	ar.sendJsonResponse(w, http.StatusOK, common.CountResponse{Count: count})
}

func (ar *Router) ackMessage(w http.ResponseWriter, req *http.Request) {
	messageId := chi.URLParam(req, "messageId")

	err := ar.messagesService.AckMessage(req.Context(), messageId)
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	ar.sendNoContentEmptyResponse(w)
}

func (ar *Router) nackMessage(w http.ResponseWriter, req *http.Request) {
	messageId := chi.URLParam(req, "messageId")

	var requeue bool
	if raw := req.URL.Query().Get("requeue"); raw != "" {
		var err error
		requeue, err = strconv.ParseBool(raw)
		if err != nil {
			log.Error().Err(err).Str("requeue", raw).Msg("Invalid requeue flag")
			ar.sendErrorResponse(w, http.StatusBadRequest, common.ErrCodeBadRequestInvalidQuery)
			return
		}
	}

	err := ar.messagesService.NackMessage(req.Context(), messageId, requeue)
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	ar.sendNoContentEmptyResponse(w)
}

func (ar *Router) stats(w http.ResponseWriter, req *http.Request) {
	stats, err := ar.statsService.GetStats(req.Context())
	if err != nil {
		ar.sendResponseFromError(w, err)
		return
	}
	ar.sendJsonResponse(w, http.StatusOK, stats)
}

func (ar *Router) healthcheck(w http.ResponseWriter, req *http.Request) {
	if !ar.monitoringService.IsHealthy(req.Context()) {
		ar.sendErrorResponse(w, http.StatusServiceUnavailable, common.ErrCodeInternal)
		return
	}
	ar.sendNoContentEmptyResponse(w)
}

func toFetchRequest(req *http.Request) (common.FetchRequest, error) {
	query := req.URL.Query()
	fetchReq := common.FetchRequest{
		Topic: query.Get("topic"),
	}

	if raw := query.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return fetchReq, err
		}
		fetchReq.Limit = limit
	}
	for _, raw := range splitValues(query["priority"]) {
		priority, err := strconv.Atoi(raw)
		if err != nil {
			return fetchReq, err
		}
		fetchReq.Priorities = append(fetchReq.Priorities, priority)
	}
	if query.Has("entityId") {
		fetchReq.EntityId = common.StringPtr(query.Get("entityId"))
	}
	if raw := query.Get("wait"); raw != "" {
		wait, err := strconv.ParseBool(raw)
		if err != nil {
			return fetchReq, err
		}
		fetchReq.Wait = wait
	}
	return fetchReq, nil
}

// splitValues accepts both repeated query params and comma-separated lists.
func splitValues(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (ar *Router) sendNoContentEmptyResponse(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

func (ar *Router) sendJsonResponse(w http.ResponseWriter, httpCode int, payload any) {
	respBody, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling response body")
		ar.sendErrorResponse(w, http.StatusInternalServerError, common.ErrCodeInternal)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpCode)
	w.Write(respBody)
}

func (ar *Router) sendErrorResponse(w http.ResponseWriter, httpCode int, errCode string) {
	ar.sendJsonResponse(w, httpCode, common.ErrorResponse{Code: errCode})
}

func (ar *Router) sendResponseFromError(w http.ResponseWriter, err error) {
	var qe *common.QueueError
	if !errors.As(err, &qe) {
		log.Error().Err(err).Msg("Unexpected error")
		ar.sendErrorResponse(w, http.StatusInternalServerError, common.ErrCodeInternal)
		return
	}

	switch {
	case strings.HasPrefix(qe.Code, "bad_request."),
		qe.Code == common.ErrCodeRange,
		qe.Code == common.ErrCodeConfiguration,
		qe.Code == common.ErrCodeLogic:
		ar.sendErrorResponse(w, http.StatusBadRequest, qe.Code)
	case qe.Code == common.ErrCodeNotFoundMessage:
		ar.sendErrorResponse(w, http.StatusNotFound, qe.Code)
	case qe.Code == common.ErrCodeTransientStorage:
		ar.sendErrorResponse(w, http.StatusServiceUnavailable, qe.Code)
	default:
		// storage failures: no details on the wire
		ar.sendErrorResponse(w, http.StatusInternalServerError, common.ErrCodeInternal)
	}
}
