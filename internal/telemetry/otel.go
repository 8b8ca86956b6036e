package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "lockd"

// InitOtelSDK exports metrics, traces and logs to the collector at the given
// url and installs the providers globally. The returned func flushes and
// shuts them down.
func InitOtelSDK(
	ctx context.Context, collectorURL string, pushInterval time.Duration,
) (func(context.Context) error, error) {
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	shutdownFuncs := make([]func(context.Context) error, 0, 3)
	shutdown := func(ctx context.Context) error {
		var errs error
		for _, fn := range shutdownFuncs {
			errs = errors.Join(errs, fn(ctx))
		}
		return errs
	}

	metricExporter, err := otlpmetrichttp.New(ctx, otlpmetrichttp.WithEndpointURL(collectorURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}
	readerOpts := make([]sdkmetric.PeriodicReaderOption, 0, 1)
	if pushInterval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(pushInterval))
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)
	shutdownFuncs = append(shutdownFuncs, meterProvider.Shutdown)

	traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(collectorURL))
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("failed to create trace exporter: %w", err), shutdown(ctx),
		)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tracerProvider)
	shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)

	logExporter, err := otlploghttp.New(ctx, otlploghttp.WithEndpointURL(collectorURL))
	if err != nil {
		return nil, errors.Join(
			fmt.Errorf("failed to create log exporter: %w", err), shutdown(ctx),
		)
	}
	loggerProvider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExporter)),
		sdklog.WithResource(res),
	)
	log.AddHook(newLogHook(loggerProvider.Logger(serviceName)))
	shutdownFuncs = append(shutdownFuncs, loggerProvider.Shutdown)

	log.Infof("exporting telemetry to %s", collectorURL)
	return shutdown, nil
}
