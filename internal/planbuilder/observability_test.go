package planbuilder_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/yourorg/smartmenu-payments/internal/payment"
	"github.com/yourorg/smartmenu-payments/internal/planbuilder"
)

func buildSampleCount(t *testing.T) uint64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, planbuilder.GetPlanBuildDurationSeconds().Write(&m))
	return m.GetHistogram().GetSampleCount()
}

func TestPlanBuilder_Metrics_SuccessfulBuild(t *testing.T) {
	// Metrics are global; measure the increment rather than absolute values.
	initialRequests := testutil.ToFloat64(planbuilder.GetPlanRequestsTotal())
	initialObservations := buildSampleCount(t)
	initialFallbacks := testutil.ToFloat64(planbuilder.GetAmountFallbacksTotal())

	pb := planbuilder.NewPlanBuilder(planbuilder.Config{}, planbuilder.NewPlatformFeePolicy(0))
	order := payment.Order{
		ID:    "order_metrics",
		Items: []payment.OrderItem{{Name: "tea", Price: decimal.RequireFromString("3.20")}},
	}
	_, err := pb.Build(context.Background(), planbuilder.Input{
		Order:   order,
		Profile: payment.Profile{MerchantModel: payment.MerchantModelRestaurantMOR, PrimaryProvider: "mock"},
	})
	require.NoError(t, err)

	assert.Equal(t, initialRequests+1, testutil.ToFloat64(planbuilder.GetPlanRequestsTotal()))
	assert.Equal(t, initialObservations+1, buildSampleCount(t))
	assert.Equal(t, initialFallbacks+1, testutil.ToFloat64(planbuilder.GetAmountFallbacksTotal()))
}

func TestPlanBuilder_Build_RecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	pb := planbuilder.NewPlanBuilder(planbuilder.Config{}, planbuilder.NewPlatformFeePolicy(100))
	_, err := pb.Build(context.Background(), planbuilder.Input{
		Order:   payment.Order{ID: "order_span", GrossTotal: decimal.NewFromInt(40)},
		Profile: payment.Profile{MerchantModel: payment.MerchantModelSmartmenuMOR, PrimaryProvider: "stripe"},
	})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "PlanBuilder.Build", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "destination", attrs["plan.charge_pattern"])
	assert.Equal(t, "4000", attrs["plan.amount_cents"])
}
