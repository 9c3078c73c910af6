// Package gateway is the single chokepoint for tenant-scoped reads and
// writes against the backend tenant-data function.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/metrics"
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// Transport delivers a serialized envelope to the tenant-data function and
// returns the raw response body.
type Transport interface {
	Invoke(ctx context.Context, body []byte) ([]byte, error)
}

// Client validates, serializes and classifies tenant-data calls.
type Client struct {
	transport Transport
	logger    Logger
	tracer    trace.Tracer
}

// New creates a Client over the given transport.
func New(transport Transport, logger Logger) *Client {
	return &Client{
		transport: transport,
		logger:    logger,
		tracer:    otel.Tracer("github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"),
	}
}

type response struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Code    string          `json:"code"`
}

// Call sends req for tenantID and returns the unwrapped data payload.
// Validation failures return *ValidationError without touching the
// transport; remote failures return a classified *Error.
func (c *Client) Call(ctx context.Context, tenantID string, req Request) (json.RawMessage, error) {
	if err := Validate(tenantID, req); err != nil {
		metrics.GatewayRequests.WithLabelValues(string(req.Operation), "validation").Inc()
		return nil, err
	}

	ctx, span := c.tracer.Start(ctx, "gateway."+string(req.Operation), trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.String("gateway.table", req.Table),
	))
	defer span.End()

	body, err := json.Marshal(Envelope{Request: req, TenantID: tenantID})
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", req.Operation, err)
	}

	start := time.Now()
	raw, err := c.transport.Invoke(ctx, body)
	metrics.GatewayDuration.WithLabelValues(string(req.Operation)).Observe(time.Since(start).Seconds())
	if err != nil {
		gerr := &Error{
			Op:      req.Operation,
			Table:   req.Table,
			Kind:    classify("", err.Error()),
			Message: err.Error(),
			Err:     err,
		}
		var coded interface{ ErrorCode() string }
		if errors.As(err, &coded) && coded.ErrorCode() != "" {
			gerr.Code = coded.ErrorCode()
			gerr.Kind = classify(gerr.Code, gerr.Message)
		}
		return nil, c.fail(span, tenantID, gerr)
	}

	var resp response
	if jsonErr := json.Unmarshal(raw, &resp); jsonErr != nil || resp.Success == nil {
		// Not an envelope: the body is the payload itself.
		metrics.GatewayRequests.WithLabelValues(string(req.Operation), "ok").Inc()
		return raw, nil
	}
	if !*resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = "tenant-data " + string(req.Operation) + " failed"
		}
		return nil, c.fail(span, tenantID, &Error{
			Op:      req.Operation,
			Table:   req.Table,
			Kind:    classify(resp.Code, msg),
			Code:    resp.Code,
			Message: msg,
		})
	}

	metrics.GatewayRequests.WithLabelValues(string(req.Operation), "ok").Inc()
	if len(resp.Data) == 0 {
		return json.RawMessage("null"), nil
	}
	return resp.Data, nil
}

func (c *Client) fail(span trace.Span, tenantID string, err *Error) error {
	metrics.GatewayRequests.WithLabelValues(string(err.Op), err.Kind.String()).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Message)
	if c.logger != nil {
		c.logger.Error("tenant-data call failed",
			"tenant_id", tenantID,
			"operation", err.Op,
			"table", err.Table,
			"kind", err.Kind.String(),
			"error", err.Message,
		)
	}
	return err
}

// Decode unmarshals a Call result into T. It passes a non-nil err through.
func Decode[T any](raw json.RawMessage, err error) (T, error) {
	var out T
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode tenant-data payload: %w", err)
	}
	return out, nil
}
