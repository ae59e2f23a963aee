package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/iamgideonidoko/nudge/internal/enricher"
	"github.com/iamgideonidoko/nudge/internal/models"
	"github.com/iamgideonidoko/nudge/internal/services"
	"github.com/iamgideonidoko/nudge/pkg/logger"
	"github.com/iamgideonidoko/nudge/pkg/validator"
)

// MetricsReader reads the service counters for /metrics.
type MetricsReader interface {
	GetMetrics(ctx context.Context, metrics []string) (map[string]int64, error)
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type Handler struct {
	ingest   *services.IngestionService
	evaluate *services.EvaluationService
	enricher *enricher.Enricher
	metrics  MetricsReader
	health   HealthChecker
	cache    HealthChecker
}

func NewHandler(
	ingest *services.IngestionService,
	evaluate *services.EvaluationService,
	enr *enricher.Enricher,
	metrics MetricsReader,
	health HealthChecker,
	cache HealthChecker,
) *Handler {
	return &Handler{
		ingest:   ingest,
		evaluate: evaluate,
		enricher: enr,
		metrics:  metrics,
		health:   health,
		cache:    cache,
	}
}

// RegisterRoutes mounts the public API. limit, when non-nil, guards the
// agent-facing routes.
func RegisterRoutes(app *fiber.App, h *Handler, limit fiber.Handler) {
	app.Get("/health", h.Health)
	app.Get("/metrics", h.Metrics)

	v1 := app.Group("/v1")
	if limit != nil {
		v1.Use(limit)
	}
	v1.Get("/campaigns", h.Campaigns)
	v1.Post("/track", h.Track)
	v1.Post("/beacon", h.Beacon)
}

// Track handles POST /v1/track.
func (h *Handler) Track(c *fiber.Ctx) error {
	requestID := uuid.New().String()
	log := logger.WithField("request_id", requestID)

	req, err := h.parseTrack(c)
	if err != nil {
		log.Warn("Failed to parse request body", map[string]any{
			"error": err.Error(),
		})
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success":    false,
			"error":      "Invalid request body",
			"request_id": requestID,
		})
	}

	if err := validator.ValidateTrackRequest(req); err != nil {
		return h.fail(c, log, requestID, err)
	}

	result, err := h.ingest.Track(c.Context(), req)
	if err != nil {
		return h.fail(c, log, requestID, err)
	}

	log.Debug("Event ingested", map[string]any{
		"visitor_id":   result.VisitorID,
		"event_type":   req.EventType,
		"intent_score": result.IntentScore,
	})

	return c.Status(fiber.StatusOK).JSON(result)
}

// Beacon handles POST /v1/beacon. Browsers send it on unload and never read
// the answer, so every outcome is 202.
func (h *Handler) Beacon(c *fiber.Ctx) error {
	requestID := uuid.New().String()
	log := logger.WithField("request_id", requestID)

	req, err := h.parseTrack(c)
	if err == nil {
		err = validator.ValidateTrackRequest(req)
	}
	if err == nil {
		_, err = h.ingest.Track(c.Context(), req)
	}
	if err != nil {
		log.Warn("Beacon dropped", map[string]any{
			"error": err.Error(),
		})
	}

	return c.SendStatus(fiber.StatusAccepted)
}

// Campaigns handles GET /v1/campaigns.
func (h *Handler) Campaigns(c *fiber.Ctx) error {
	requestID := uuid.New().String()
	log := logger.WithField("request_id", requestID)

	var req models.EvaluationRequest
	if err := c.QueryParser(&req); err != nil {
		log.Warn("Failed to parse query", map[string]any{
			"error": err.Error(),
		})
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"success":    false,
			"error":      "Invalid query",
			"request_id": requestID,
		})
	}
	if err := validator.ValidateEvaluationRequest(&req); err != nil {
		return h.fail(c, log, requestID, err)
	}
	req.Origin = originOf(c)

	result, err := h.evaluate.Evaluate(c.Context(), &req)
	if err != nil {
		return h.fail(c, log, requestID, err)
	}

	return c.Status(fiber.StatusOK).JSON(result)
}

// Health handles GET /health.
func (h *Handler) Health(c *fiber.Ctx) error {
	if h.health != nil {
		if err := h.health.HealthCheck(c.Context()); err != nil {
			logger.Error("Health check failed", map[string]any{
				"error": err.Error(),
			})
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status":  "unhealthy",
				"service": "nudge-api",
			})
		}
	}

	// The API keeps serving without Redis, so a failed ping only degrades.
	if h.cache != nil {
		if err := h.cache.HealthCheck(c.Context()); err != nil {
			logger.Warn("Cache health check failed", map[string]any{
				"error": err.Error(),
			})
			return c.Status(fiber.StatusOK).JSON(fiber.Map{
				"status":  "degraded",
				"service": "nudge-api",
				"cache":   "unreachable",
			})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":  "healthy",
		"service": "nudge-api",
	})
}

// Metrics handles GET /metrics.
func (h *Handler) Metrics(c *fiber.Ctx) error {
	counters := make(map[string]int64, len(services.Metrics))
	for _, m := range services.Metrics {
		counters[m] = 0
	}

	if h.metrics != nil {
		values, err := h.metrics.GetMetrics(c.Context(), services.Metrics)
		if err != nil {
			logger.Warn("Failed to read metrics", map[string]any{
				"error": err.Error(),
			})
		}
		for k, v := range values {
			counters[k] = v
		}
	}

	return c.Status(fiber.StatusOK).JSON(counters)
}

func (h *Handler) parseTrack(c *fiber.Ctx) (*models.TrackRequest, error) {
	var req models.TrackRequest

	// sendBeacon and preflight-free fetches post JSON as text/plain.
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		if err := c.BodyParser(&req); err != nil {
			return nil, err
		}
	} else if err := json.Unmarshal(c.Body(), &req); err != nil {
		return nil, err
	}

	validator.SanitizeTrackRequest(&req)
	h.enricher.Apply(&req, enricher.FromHeaders(func(name string) string {
		return c.Get(name)
	}, c.Context().RemoteIP().String()))
	return &req, nil
}

// fail maps a service error to a response. Internal detail only reaches the
// log.
func (h *Handler) fail(c *fiber.Ctx, log *logger.Logger, requestID string, err error) error {
	status := fiber.StatusInternalServerError
	body := fiber.Map{
		"success":    false,
		"error":      "Internal server error",
		"request_id": requestID,
	}

	var fields validator.Errors
	var storeErr *services.StoreError
	switch {
	case errors.As(err, &fields):
		status = fiber.StatusBadRequest
		body["error"] = "Invalid request"
		body["fields"] = fields
	case errors.Is(err, services.ErrInvalidRequest):
		status = fiber.StatusBadRequest
		body["error"] = "Invalid request"
	case errors.Is(err, services.ErrUnknownWebsite):
		status = fiber.StatusUnauthorized
		body["error"] = "Unknown website key"
	case errors.Is(err, services.ErrOriginRejected):
		status = fiber.StatusForbidden
		body["error"] = "Origin not allowed"
	case errors.As(err, &storeErr):
		log.Error("Store operation failed", map[string]any{
			"op":    storeErr.Op,
			"error": storeErr.Err.Error(),
			"path":  c.Path(),
		})
	default:
		log.Error("Request failed", map[string]any{
			"error": err.Error(),
			"path":  c.Path(),
		})
	}

	if status < fiber.StatusInternalServerError {
		log.Warn("Request rejected", map[string]any{
			"status": status,
			"error":  err.Error(),
		})
	}
	return c.Status(status).JSON(body)
}

func originOf(c *fiber.Ctx) string {
	if origin := c.Get(fiber.HeaderOrigin); origin != "" {
		return origin
	}
	return c.Get(fiber.HeaderReferer)
}

// ErrorHandler is the app-level fallback for errors no handler mapped.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
		message = e.Message
	}
	if code >= fiber.StatusInternalServerError {
		logger.Error("Request error", map[string]any{
			"error": err.Error(),
			"path":  c.Path(),
			"code":  code,
		})
	}
	return c.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}
