// Package telemetry configures the OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

// ServiceName is reported as service.name on every span.
const ServiceName = "smartmenu-payments"

// Config controls span export.
type Config struct {
	Enabled bool
	// Writer receives exported spans; defaults to stdout.
	Writer io.Writer
}

// NewTracerProvider builds a tracer provider and installs it globally.
// With export disabled spans are still created (so trace ids propagate)
// but never leave the process.
func NewTracerProvider(cfg Config, log *zap.Logger) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(attribute.String("service.name", ServiceName)),
	)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.Enabled {
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	if log != nil {
		log.Info("telemetry initialized", zap.Bool("export_enabled", cfg.Enabled))
	}
	return tp, nil
}
