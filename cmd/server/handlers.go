package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/yourorg/smartmenu-payments/internal/adapter"
	"github.com/yourorg/smartmenu-payments/internal/event"
	"github.com/yourorg/smartmenu-payments/internal/ingest"
	"github.com/yourorg/smartmenu-payments/internal/ledger"
	"github.com/yourorg/smartmenu-payments/internal/monitor"
	"github.com/yourorg/smartmenu-payments/internal/orchestrator"
	"github.com/yourorg/smartmenu-payments/internal/payment"
	"github.com/yourorg/smartmenu-payments/internal/planbuilder"
	"github.com/yourorg/smartmenu-payments/internal/reporting"
	"github.com/yourorg/smartmenu-payments/internal/telemetry"
)

const maxBodyBytes = 1 << 20

// Handlers serves the HTTP surface over the ingestor, orchestrator and ledger.
type Handlers struct {
	ingestor     *ingest.Ingestor
	orchestrator *orchestrator.Orchestrator
	registry     *adapter.Registry
	ledger       *ledger.Ledger
	reporter     *reporting.Reporter
	contracts    *monitor.Contracts
	log          *zap.Logger
}

// NewHandlers creates the HTTP handlers.
func NewHandlers(
	ingestor *ingest.Ingestor,
	orch *orchestrator.Orchestrator,
	registry *adapter.Registry,
	l *ledger.Ledger,
	reporter *reporting.Reporter,
	contracts *monitor.Contracts,
	log *zap.Logger,
) *Handlers {
	return &Handlers{
		ingestor:     ingestor,
		orchestrator: orch,
		registry:     registry,
		ledger:       l,
		reporter:     reporter,
		contracts:    contracts,
		log:          log.Named("http"),
	}
}

// setupRouter builds the gin engine with every route registered.
func setupRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(telemetry.ServiceName))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.POST("/webhooks/:provider", h.handleWebhook)
	r.POST("/orders/:order_id/payment_attempts", h.handleCreatePaymentAttempt)
	r.GET("/ledger/report", h.handleLedgerReport)
	r.GET("/ledger/:entity_type/:entity_id", h.handleLedgerExport)
	return r
}

func readBody(c *gin.Context) ([]byte, error) {
	return io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
}

func (h *Handlers) handleWebhook(c *gin.Context) {
	provider, err := event.ParseProvider(c.Param("provider"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	body, err := readBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	verifier, err := h.registry.Verifier(string(provider))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	env, err := verifier.VerifyWebhook(body, c.Request.Header)
	if err != nil {
		h.log.Warn("webhook verification failed", zap.String("provider", string(provider)), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	valid, violations, err := h.contracts.Webhook.Validate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": monitor.FormatErrors(violations)})
		return
	}

	res, err := h.ingestor.Ingest(c.Request.Context(), ingest.Delivery{
		Provider:          provider,
		ProviderEventID:   env.ID,
		ProviderEventType: env.Type,
		OccurredAt:        env.OccurredAt,
		Payload:           body,
	})
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrInvalidPayload), errors.Is(err, event.ErrInvalidEvent):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			// A 5xx makes the provider redeliver; the ledger absorbs the replay.
			h.log.Error("webhook ingest failed",
				zap.String("provider", string(provider)),
				zap.String("event_id", env.ID),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ingest failed"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": res.Outcome})
}

type createAttemptBody struct {
	RestaurantID string              `json:"restaurant_id"`
	Currency     string              `json:"currency"`
	GrossTotal   decimal.Decimal     `json:"gross_total"`
	Tip          decimal.Decimal     `json:"tip"`
	Items        []payment.OrderItem `json:"items"`
	SuccessURL   string              `json:"success_url"`
	CancelURL    string              `json:"cancel_url"`
	Provider     string              `json:"provider"`
}

func (h *Handlers) handleCreatePaymentAttempt(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}
	valid, violations, err := h.contracts.PaymentAttempt.Validate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": monitor.FormatErrors(violations)})
		return
	}

	var req createAttemptBody
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	res, err := h.orchestrator.CreatePaymentAttempt(c.Request.Context(), orchestrator.Request{
		Order: payment.Order{
			ID:           c.Param("order_id"),
			RestaurantID: req.RestaurantID,
			Currency:     req.Currency,
			GrossTotal:   req.GrossTotal,
			Tip:          req.Tip,
			Items:        req.Items,
		},
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
		Provider:   req.Provider,
	})
	if err != nil {
		c.JSON(attemptErrorStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, res)
}

func attemptErrorStatus(err error) int {
	switch {
	case errors.Is(err, adapter.ErrUnsupportedProvider),
		errors.Is(err, planbuilder.ErrInvalidAmount),
		errors.Is(err, orchestrator.ErrInvalidOrder),
		errors.Is(err, orchestrator.ErrNoConnectedAccount):
		return http.StatusUnprocessableEntity
	case errors.Is(err, adapter.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, orchestrator.ErrCheckoutFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handlers) handleLedgerExport(c *gin.Context) {
	entityType := event.EntityType(c.Param("entity_type"))
	if entityType != event.EntityPaymentAttempt && entityType != event.EntityRefund {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown entity type " + string(entityType)})
		return
	}
	rows, err := h.ledger.ListByEntity(c.Request.Context(), entityType, c.Param("entity_id"))
	if err != nil {
		h.log.Error("ledger export failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": rows})
}

func (h *Handlers) handleLedgerReport(c *gin.Context) {
	filter, err := reportFilter(c.Query("provider"), c.Query("since"), c.Query("until"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := h.reporter.GenerateFromLedger(c.Request.Context(), h.ledger, filter)
	if err != nil {
		h.log.Error("ledger report failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "ledger unavailable"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// reportFilter parses RFC 3339 bounds; empty strings leave a bound open.
func reportFilter(provider, since, until string) (ledger.ListFilter, error) {
	var filter ledger.ListFilter
	if provider != "" {
		p, err := event.ParseProvider(provider)
		if err != nil {
			return filter, err
		}
		filter.Provider = p
	}
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return filter, errors.New("since must be an RFC 3339 timestamp")
		}
		filter.Since = t
	}
	if until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return filter, errors.New("until must be an RFC 3339 timestamp")
		}
		filter.Until = t
	}
	return filter, nil
}
