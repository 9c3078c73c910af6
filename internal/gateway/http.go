package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kisanshaktiai/kisanshaktiai-tenant-dash-sub004/pkg/models"
)

// TokenSource supplies the bearer token attached to every call. The session
// manager implements it.
type TokenSource interface {
	AccessToken() string
}

// HTTPTransport is an HTTP implementation of the Transport interface that
// invokes the hosted tenant-data function.
type HTTPTransport struct {
	baseURL  string
	function string
	anonKey  string
	tokens   TokenSource
	client   *http.Client
}

// NewHTTPTransport creates a new HTTPTransport. tokens may be nil, in which
// case the anon key is sent as the bearer token.
func NewHTTPTransport(baseURL, function, anonKey string, tokens TokenSource, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL:  baseURL,
		function: function,
		anonKey:  anonKey,
		tokens:   tokens,
		client:   &http.Client{Timeout: timeout},
	}
}

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	StatusCode int
	Status     string
	Message    string
	Code       string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("Edge Function returned a non-2xx status code: %s", e.Status)
	}
	return fmt.Sprintf("Edge Function returned a non-2xx status code: %s: %s", e.Status, e.Message)
}

// ErrorCode exposes the backend error code to the gateway classifier.
func (e *StatusError) ErrorCode() string { return e.Code }

// Invoke posts the envelope to /functions/v1/<function>.
func (t *HTTPTransport) Invoke(ctx context.Context, body []byte) ([]byte, error) {
	return t.post(ctx, t.baseURL+"/functions/v1/"+t.function, body)
}

// JWTStatus asks the backend whether the current access token is present
// and unexpired from the database's point of view.
func (t *HTTPTransport) JWTStatus(ctx context.Context) (models.JWTStatus, error) {
	var status models.JWTStatus
	raw, err := t.post(ctx, t.baseURL+"/rest/v1/rpc/debug_jwt_status", []byte("{}"))
	if err != nil {
		return status, err
	}
	if err := json.Unmarshal(raw, &status); err != nil {
		return status, fmt.Errorf("failed to decode jwt status: %w", err)
	}
	return status, nil
}

func (t *HTTPTransport) post(ctx context.Context, url string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.anonKey != "" {
		req.Header.Set("apikey", t.anonKey)
	}
	if token := t.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
			Code    string `json:"code"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			serr.Message = payload.Error
			if serr.Message == "" {
				serr.Message = payload.Message
			}
			serr.Code = payload.Code
		}
		return nil, serr
	}
	return raw, nil
}

func (t *HTTPTransport) bearer() string {
	if t.tokens != nil {
		if token := t.tokens.AccessToken(); token != "" {
			return token
		}
	}
	return t.anonKey
}
