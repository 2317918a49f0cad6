package remoteapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPClient is the production remoteapi.Client, talking to the sync
// server over net/http with exponential-backoff retry for transient
// connection errors, grounded on the teacher's
// internal/storage/dolt.DoltStore.withRetry.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	maxElapsed time.Duration
}

func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxElapsed: 30 * time.Second,
	}
}

func (c *HTTPClient) newBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapsed
	return bo
}

func (c *HTTPClient) Push(ctx context.Context, req PushRequest) (PushResponse, error) {
	url := c.baseURL + req.Endpoint
	if req.Method == MethodDelete {
		url = c.baseURL + req.Endpoint + "/" + req.EntityID
	}

	var resp PushResponse
	err := backoff.Retry(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, string(req.Method), url, bytes.NewReader(req.Body))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)
		if req.Version != nil {
			httpReq.Header.Set("X-Entity-Version", strconv.FormatInt(*req.Version, 10))
		}

		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			// Network-level failure: retryable.
			return err
		}
		defer httpResp.Body.Close()

		body, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return backoff.Permanent(err)
		}

		resp = decodePushResponse(httpResp.StatusCode, body)
		return nil
	}, backoff.WithContext(c.newBackoff(), ctx))

	return resp, err
}

func (c *HTTPClient) PullSince(ctx context.Context, since time.Time) (PulledEntities, error) {
	url := fmt.Sprintf("%s/sync/pull?since=%s", c.baseURL, since.UTC().Format(time.RFC3339Nano))

	var out PulledEntities
	err := backoff.Retry(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode >= 400 {
			return fmt.Errorf("remoteapi: pull_since: server returned %d", httpResp.StatusCode)
		}
		return json.NewDecoder(httpResp.Body).Decode(&out)
	}, backoff.WithContext(c.newBackoff(), ctx))

	return out, err
}

func (c *HTTPClient) PostLock(ctx context.Context, req LockRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	return backoff.Retry(func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/locks", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpResp, err := c.httpClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer httpResp.Body.Close()
		if httpResp.StatusCode >= 500 {
			return fmt.Errorf("remoteapi: post_lock: server returned %d", httpResp.StatusCode)
		}
		return nil
	}, backoff.WithContext(c.newBackoff(), ctx))
}

// DeleteLock best-effort mirrors a lock release. A 404 means the server
// never tracked the lock — treated as success (spec §6: "lock remains
// local-only").
func (c *HTTPClient) DeleteLock(ctx context.Context, entity, entityID string) error {
	url := fmt.Sprintf("%s/locks/%s/%s", c.baseURL, entity, entityID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return err
	}
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer httpResp.Body.Close()
	if httpResp.StatusCode >= 500 {
		return fmt.Errorf("remoteapi: delete_lock: server returned %d", httpResp.StatusCode)
	}
	return nil
}

func decodePushResponse(statusCode int, body []byte) PushResponse {
	var payload struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		ServerVersion *int64 `json:"serverVersion"`
	}
	_ = json.Unmarshal(body, &payload)

	return PushResponse{
		StatusCode:    statusCode,
		Code:          payload.Code,
		Message:       payload.Message,
		ServerVersion: payload.ServerVersion,
	}
}
