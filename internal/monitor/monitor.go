// Package monitor validates inbound request bodies against JSON schemas
// before they reach the ingestor or the orchestrator.
package monitor

import (
	"embed"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/xeipuuv/gojsonschema"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	WebhookEventSchema         = "webhook_event"
	CreatePaymentAttemptSchema = "create_payment_attempt"
)

var contractViolationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "smartmenu_contract_violations_total",
		Help: "Request bodies rejected by schema validation.",
	},
	[]string{"schema"},
)

// GetContractViolationsTotal returns the violation counter.
func GetContractViolationsTotal() *prometheus.CounterVec {
	return contractViolationsTotal
}

// ContractMonitor validates documents against one compiled JSON schema.
type ContractMonitor struct {
	name   string
	schema *gojsonschema.Schema
}

// NewContractMonitorFromBytes compiles an in-memory schema.
func NewContractMonitorFromBytes(name string, schema []byte) (*ContractMonitor, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("error loading or compiling schema %s: %w", name, err)
	}
	return &ContractMonitor{name: name, schema: compiled}, nil
}

// NewEmbeddedContractMonitor loads one of the schemas shipped with the binary.
func NewEmbeddedContractMonitor(name string) (*ContractMonitor, error) {
	raw, err := schemaFS.ReadFile("schemas/" + name + ".json")
	if err != nil {
		return nil, fmt.Errorf("unknown schema %s: %w", name, err)
	}
	return NewContractMonitorFromBytes(name, raw)
}

// Name returns the schema name used in metrics.
func (cm *ContractMonitor) Name() string {
	return cm.name
}

// Validate validates the given request body against the loaded JSON schema.
// It returns true if valid, or false and a list of validation errors if invalid.
// Malformed JSON is reported through the error return.
func (cm *ContractMonitor) Validate(requestBody []byte) (bool, []string, error) {
	result, err := cm.schema.Validate(gojsonschema.NewBytesLoader(requestBody))
	if err != nil {
		contractViolationsTotal.WithLabelValues(cm.name).Inc()
		return false, nil, fmt.Errorf("error during validation: %w", err)
	}

	if result.Valid() {
		return true, nil, nil
	}

	contractViolationsTotal.WithLabelValues(cm.name).Inc()
	errs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return false, errs, nil
}

// Contracts groups the monitors for each inbound surface.
type Contracts struct {
	Webhook        *ContractMonitor
	PaymentAttempt *ContractMonitor
}

// LoadContracts compiles the embedded schemas.
func LoadContracts() (*Contracts, error) {
	webhook, err := NewEmbeddedContractMonitor(WebhookEventSchema)
	if err != nil {
		return nil, err
	}
	attempt, err := NewEmbeddedContractMonitor(CreatePaymentAttemptSchema)
	if err != nil {
		return nil, err
	}
	return &Contracts{Webhook: webhook, PaymentAttempt: attempt}, nil
}

// FormatErrors formats a slice of validation error strings into a single string.
func FormatErrors(validationErrors []string) string {
	if len(validationErrors) == 0 {
		return ""
	}
	return "Validation errors: " + strings.Join(validationErrors, "; ")
}
