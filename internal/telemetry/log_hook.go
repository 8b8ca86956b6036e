package telemetry

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"
	otellog "go.opentelemetry.io/otel/log"
)

var severities = map[log.Level]otellog.Severity{
	log.PanicLevel: otellog.SeverityFatal4,
	log.FatalLevel: otellog.SeverityFatal,
	log.ErrorLevel: otellog.SeverityError,
	log.WarnLevel:  otellog.SeverityWarn,
	log.InfoLevel:  otellog.SeverityInfo,
	log.DebugLevel: otellog.SeverityDebug,
	log.TraceLevel: otellog.SeverityTrace,
}

// logHook forwards logrus entries to an otel logger.
type logHook struct {
	logger otellog.Logger
}

func newLogHook(logger otellog.Logger) log.Hook {
	return &logHook{logger}
}

func (h *logHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *logHook) Fire(entry *log.Entry) error {
	var record otellog.Record
	record.SetTimestamp(entry.Time)
	record.SetObservedTimestamp(entry.Time)
	record.SetBody(otellog.StringValue(entry.Message))
	record.SetSeverity(severities[entry.Level])
	record.SetSeverityText(entry.Level.String())

	attrs := make([]otellog.KeyValue, 0, len(entry.Data))
	for key, value := range entry.Data {
		if err, ok := value.(error); ok {
			attrs = append(attrs, otellog.String(key, err.Error()))
			continue
		}
		attrs = append(attrs, otellog.String(key, fmt.Sprint(value)))
	}
	record.AddAttributes(attrs...)

	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}
	h.logger.Emit(ctx, record)
	return nil
}
