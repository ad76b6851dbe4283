// Package tracing 初始化 OpenTelemetry，未配置 OTLP 地址时不启用。
package tracing

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ShutdownFunc 刷新并关闭 exporter。
type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// Init 设置全局 TracerProvider 与传播器。
func Init(ctx context.Context, endpoint, service, env string) (ShutdownFunc, error) {
	if endpoint == "" {
		return noop, nil
	}
	exp, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return noop, fmt.Errorf("otel exporter: %w", err)
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", service),
			attribute.String("deployment.environment", env),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("otel resource: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}),
	)
	log.Info().Str("endpoint", endpoint).Str("service", service).Msg("tracing enabled")
	return tp.Shutdown, nil
}
