// Package tracing 初始化 OpenTelemetry 并提供审批操作的 span 辅助函数.
// 未调用 Setup 时使用全局 noop provider, span 不产生任何输出.
package tracing

import (
	"context"
	"io"
	"os"

	"github.com/hellobchain/limsflow/common/config"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const (
	ServiceName       = "limsflow"
	instrumentationID = "github.com/hellobchain/limsflow"
)

// Shutdown 刷新并关闭 provider
type Shutdown func(ctx context.Context) error

func noop(context.Context) error { return nil }

// Setup 按配置安装 stdout exporter, w 为空时输出到 os.Stdout
func Setup(cfg config.TracingConfig, w io.Writer) (Shutdown, error) {
	if !cfg.Enabled {
		return noop, nil
	}
	if w == nil {
		w = os.Stdout
	}
	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if cfg.PrettyPrint {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}
	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, errors.Wrap(err, "create trace exporter")
	}
	return Install(exporter)
}

// Install 以 exporter 注册全局 provider
func Install(exporter sdktrace.SpanExporter) (Shutdown, error) {
	res, err := resource.New(context.Background(),
		resource.WithAttributes(attribute.String("service.name", ServiceName)),
	)
	if err != nil {
		return nil, errors.Wrap(err, "build trace resource")
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// StartSpan 开启一个内部 span
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationID).Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan 按 err 设置状态并结束 span
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
