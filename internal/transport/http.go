package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ilyakasyanov/walletsync/internal/common"
	"github.com/ilyakasyanov/walletsync/internal/logging"
	"github.com/ilyakasyanov/walletsync/internal/models"
)

// HTTPTransport implements Transport against a JSON-over-HTTP remote
// store. Every call carries a fixed timeout; hitting it is a retryable
// network failure, not a hang.
type HTTPTransport struct {
	baseURL string
	client  *http.Client
	log     logging.Logger
}

// NewHTTPTransport builds a transport for the given endpoint base URL,
// e.g. "https://cloud.example.com/api".
func NewHTTPTransport(baseURL string, timeout time.Duration, log logging.Logger) *HTTPTransport {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPTransport{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.With("component", "transport"),
	}
}

func (t *HTTPTransport) do(ctx context.Context, op, method, path string, creds *Credentials, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindValidation, Op: op, Err: err}
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, reader)
	if err != nil {
		return &Error{Kind: KindValidation, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if creds != nil {
		req.Header.Set(common.AccessTokenHeaderName, "Bearer "+creds.Token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return &Error{Kind: KindNetwork, Op: op, Err: fmt.Errorf("%w: %w", common.ErrUnavailable, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		cause := fmt.Errorf("%s: %s", resp.Status, string(raw))
		kind := classifyStatus(resp.StatusCode)
		switch kind {
		case KindAuth:
			cause = fmt.Errorf("%w: %w", common.ErrUnauthorized, cause)
		case KindServer:
			cause = fmt.Errorf("%w: %w", common.ErrUnavailable, cause)
		}
		return &Error{Kind: kind, Op: op, Err: cause}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &Error{Kind: KindServer, Op: op, Err: fmt.Errorf("decoding response: %w", err)}
		}
	}
	return nil
}

func classifyStatus(code int) ErrorKind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusConflict:
		return KindConflict
	case code >= 400 && code < 500:
		return KindValidation
	default:
		return KindServer
	}
}

func (t *HTTPTransport) Ping(ctx context.Context) error {
	return t.do(ctx, "ping", http.MethodGet, "/v1/ping", nil, nil, nil)
}

// pushRequest is the wire shape of one replayed mutation.
type pushRequest struct {
	Type       models.OperationType `json:"type"`
	EntityType models.EntityType    `json:"entityType"`
	EntityID   string               `json:"entityId"`
	Data       json.RawMessage      `json:"data,omitempty"`
	Timestamp  int64                `json:"timestamp"`
	// OperationID lets the remote de-duplicate retried deliveries.
	OperationID string `json:"operationId"`
}

func (t *HTTPTransport) Push(ctx context.Context, creds Credentials, op models.PendingOperation) (*PushResult, error) {
	body := pushRequest{
		Type:        op.Type,
		EntityType:  op.EntityType,
		EntityID:    op.EntityID,
		Data:        op.Data,
		Timestamp:   op.Timestamp,
		OperationID: op.ID,
	}
	var result PushResult
	if err := t.do(ctx, "push", http.MethodPost, "/v1/operations", &creds, body, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func (t *HTTPTransport) Pull(ctx context.Context, creds Credentials) (*models.Snapshot, error) {
	var snap models.Snapshot
	if err := t.do(ctx, "pull", http.MethodGet, "/v1/dataset", &creds, nil, &snap); err != nil {
		return nil, err
	}
	if snap.Entities == nil {
		snap.Entities = map[models.EntityType]map[string]models.LocalEntity{}
	}
	return &snap, nil
}

func (t *HTTPTransport) PullSince(ctx context.Context, creds Credentials, since int64) (*models.Snapshot, error) {
	path := "/v1/dataset?since=" + url.QueryEscape(strconv.FormatInt(since, 10))
	var snap models.Snapshot
	if err := t.do(ctx, "pull-since", http.MethodGet, path, &creds, nil, &snap); err != nil {
		return nil, err
	}
	if snap.Entities == nil {
		snap.Entities = map[models.EntityType]map[string]models.LocalEntity{}
	}
	return &snap, nil
}

func (t *HTTPTransport) PushSnapshot(ctx context.Context, creds Credentials, bundle *models.ExportBundle) error {
	return t.do(ctx, "push-snapshot", http.MethodPut, "/v1/dataset", &creds, bundle, nil)
}
