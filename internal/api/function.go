package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/auth"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/gateway"
	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/internal/repository"
)

// DefaultFunction is the tenant-data function name.
const DefaultFunction = "tenant-data"

// FunctionResponse is the tenant-data wire response.
type FunctionResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// execute decodes body, runs it and renders the wire response. callerTenant,
// when set, must match the envelope tenant.
func execute(ctx context.Context, d repository.Dispatcher, body []byte, callerTenant string) (int, FunctionResponse) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return http.StatusBadRequest, FunctionResponse{Error: "Request body is required", Code: repository.CodeBadRequest}
	}
	var env gateway.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return http.StatusBadRequest, FunctionResponse{Error: "Invalid request body: " + err.Error(), Code: repository.CodeBadRequest}
	}
	if callerTenant != "" && env.TenantID != "" && env.TenantID != callerTenant {
		return http.StatusForbidden, FunctionResponse{Error: "Tenant mismatch", Code: "forbidden"}
	}

	data, err := d.Dispatch(ctx, env)
	if err != nil {
		var reqErr *repository.RequestError
		if errors.As(err, &reqErr) {
			status := http.StatusBadRequest
			if reqErr.Code == repository.CodeNotFound {
				status = http.StatusNotFound
			}
			return status, FunctionResponse{Error: reqErr.Message, Code: reqErr.Code}
		}
		return http.StatusInternalServerError, FunctionResponse{Error: err.Error(), Code: "internal"}
	}
	return http.StatusOK, FunctionResponse{Success: true, Data: data}
}

// InvokeFunction serves POST /functions/v1/:function.
func (s *Server) InvokeFunction(c echo.Context) error {
	name := s.Function
	if name == "" {
		name = DefaultFunction
	}
	if c.Param("function") != name {
		return writeError(c, http.StatusNotFound, "unknown function "+c.Param("function"), "")
	}

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return writeError(c, http.StatusBadRequest, "failed to read body: "+err.Error(), "")
	}
	callerTenant, _ := auth.TenantIDFromContext(c.Request().Context())
	status, resp := execute(c.Request().Context(), s.Dispatcher, body, callerTenant)
	if status >= http.StatusInternalServerError && s.Logger != nil {
		s.Logger.Error("tenant-data function failed", "error", resp.Error)
	}
	return c.JSON(status, resp)
}

// LocalTransport is a gateway.Transport that runs envelopes in-process
// against a Dispatcher, producing the same wire responses as the function.
type LocalTransport struct {
	d repository.Dispatcher
}

// NewLocalTransport creates a LocalTransport over d.
func NewLocalTransport(d repository.Dispatcher) *LocalTransport {
	return &LocalTransport{d: d}
}

// Invoke implements gateway.Transport.
func (t *LocalTransport) Invoke(ctx context.Context, body []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	_, resp := execute(ctx, t.d, body, "")
	return json.Marshal(resp)
}
