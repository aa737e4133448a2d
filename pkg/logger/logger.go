package logger

import (
	"context"
	"fmt"
	"fuzzrig/config"
	"fuzzrig/pkg/telemetry"
	"strings"

	"go.opentelemetry.io/otel/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerParams struct {
	fx.In
	Lc        fx.Lifecycle
	AppConfig *config.AppConfig
	Telemetry telemetry.Telemetry `optional:"true"`
}

// NewLogger builds the process logger. When an OTLP log exporter is available
// every record is mirrored to it as well.
func NewLogger(p LoggerParams) *zap.Logger {
	cfg := newConfig(ParseLevel(p.AppConfig.LogLevel))

	var opts []zap.Option
	if p.Telemetry != nil && p.Telemetry.GetLogger() != nil {
		ctx, cancel := context.WithCancel(context.Background())
		p.Lc.Append(fx.StopHook(cancel))
		otelLogger := p.Telemetry.GetLogger()
		service := p.AppConfig.ServiceName
		opts = append(opts, zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return &otelCore{Core: core, logger: otelLogger, ctx: ctx, service: service}
		}))
	}

	lg, err := cfg.Build(opts...)
	if err != nil {
		return zap.NewExample()
	}
	p.Lc.Append(fx.StopHook(func() { _ = lg.Sync() }))
	return lg
}

// ParseLevel maps LOG_LEVEL onto a zap level, info when unknown.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	}
	return zapcore.InfoLevel
}

// newConfig logs to stderr so stdout stays free for command results and the
// fuzz target's own output.
func newConfig(level zapcore.Level) zap.Config {
	var cfg zap.Config
	if level > zapcore.InfoLevel {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg
}

// otelCore writes through the wrapped core and emits the same record to the
// OTLP logger. Fields bound with With are carried along.
type otelCore struct {
	zapcore.Core
	logger  log.Logger
	ctx     context.Context
	service string
	bound   []zapcore.Field
}

func (c *otelCore) With(fields []zapcore.Field) zapcore.Core {
	return &otelCore{
		Core:    c.Core.With(fields),
		logger:  c.logger,
		ctx:     c.ctx,
		service: c.service,
		bound:   append(append([]zapcore.Field(nil), c.bound...), fields...),
	}
}

func (c *otelCore) Check(ent zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return checked.AddCore(ent, c)
	}
	return checked
}

func (c *otelCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	if err := c.Core.Write(ent, fields); err != nil {
		return err
	}

	var rec log.Record
	rec.SetTimestamp(ent.Time)
	rec.SetBody(log.StringValue(ent.Message))
	rec.SetSeverity(severity(ent.Level))
	rec.SetSeverityText(ent.Level.String())
	rec.AddAttributes(log.String("service.name", c.service))
	if ent.LoggerName != "" {
		rec.AddAttributes(log.String("logger", ent.LoggerName))
	}

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range c.bound {
		f.AddTo(enc)
	}
	for _, f := range fields {
		f.AddTo(enc)
	}
	for k, v := range enc.Fields {
		rec.AddAttributes(keyValue(k, v))
	}

	c.logger.Emit(c.ctx, rec)
	return nil
}

func severity(l zapcore.Level) log.Severity {
	switch l {
	case zapcore.DebugLevel:
		return log.SeverityDebug
	case zapcore.InfoLevel:
		return log.SeverityInfo
	case zapcore.WarnLevel:
		return log.SeverityWarn
	case zapcore.ErrorLevel:
		return log.SeverityError
	}
	return log.SeverityFatal
}

func keyValue(k string, v any) log.KeyValue {
	switch v := v.(type) {
	case string:
		return log.String(k, v)
	case bool:
		return log.Bool(k, v)
	case int:
		return log.Int(k, v)
	case int64:
		return log.Int64(k, v)
	case int32:
		return log.Int64(k, int64(v))
	case uint32:
		return log.Int64(k, int64(v))
	case float64:
		return log.Float64(k, v)
	case float32:
		return log.Float64(k, float64(v))
	}
	return log.String(k, fmt.Sprint(v))
}
