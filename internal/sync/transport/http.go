package transport

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	apperrors "github.com/stevedores/dashboard-sync/internal/errors"
)

// HTTPConfig configures an HTTPTransport.
type HTTPConfig struct {
	ServerURL string
	Timeout   time.Duration
	Client    *http.Client
}

// HTTPTransport posts records as JSON to the reconciliation endpoint.
type HTTPTransport struct {
	endpoint string
	client   *http.Client
}

// NewHTTP creates an HTTPTransport.
func NewHTTP(cfg HTTPConfig) (*HTTPTransport, error) {
	base := strings.TrimRight(cfg.ServerURL, "/")
	if base == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "server url is required")
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPTransport{
		endpoint: base + ReconcilePath,
		client:   client,
	}, nil
}

// Endpoint returns the full reconciliation URL.
func (t *HTTPTransport) Endpoint() string {
	return t.endpoint
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, apperrors.Permanent(apperrors.Wrap(apperrors.ErrValidation, "payload cannot be encoded", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, apperrors.Permanent(apperrors.Wrap(apperrors.ErrInvalid, "failed to build request", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ID)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if stderrors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, apperrors.Transient(apperrors.Wrap(apperrors.ErrSyncTimeout, "reconcile request timed out", err))
		}
		return nil, apperrors.Transient(apperrors.Wrap(apperrors.ErrSyncTransport, "reconcile request failed", err))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, apperrors.Transient(apperrors.Wrap(apperrors.ErrSyncTransport, "failed to read response", err))
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		var out Response
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, apperrors.Transient(apperrors.Wrap(apperrors.ErrSyncTransport, "malformed reconcile response", err))
		}
		if out.Result != ResultSuccess && out.Result != ResultConflict {
			return nil, apperrors.Transient(apperrors.Newf(apperrors.ErrSyncTransport, "unknown reconcile result %q", out.Result))
		}
		return &out, nil

	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return nil, apperrors.Permanent(apperrors.Newf(apperrors.ErrValidation,
			"server rejected record: %s", errorMessage(resp.StatusCode, data)))

	default:
		return nil, apperrors.Transient(apperrors.Newf(apperrors.ErrSyncTransport,
			"server error: %s", errorMessage(resp.StatusCode, data)))
	}
}

func errorMessage(status int, data []byte) string {
	var body ErrorBody
	if err := json.Unmarshal(data, &body); err == nil && body.Message != "" {
		return fmt.Sprintf("%d %s", status, body.Message)
	}
	return fmt.Sprintf("%d %s", status, http.StatusText(status))
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return stderrors.As(err, &te) && te.Timeout()
}
