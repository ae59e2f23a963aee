package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/iamgideonidoko/nudge/internal/models"
	"github.com/iamgideonidoko/nudge/pkg/logger"
)

// API is the server surface the tracker talks to.
type API interface {
	Campaigns(ctx context.Context, req *models.EvaluationRequest) (*models.EvaluationResponse, error)
	Track(ctx context.Context, req *models.TrackRequest) (*models.TrackResponse, error)
}

type Client struct {
	baseURL string
	client  *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// NewClientWithHTTP uses an existing http.Client, e.g. one pointed at a
// test server.
func NewClientWithHTTP(baseURL string, hc *http.Client) *Client {
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), client: hc}
}

func (c *Client) Campaigns(ctx context.Context, req *models.EvaluationRequest) (*models.EvaluationResponse, error) {
	q := url.Values{}
	q.Set("key", req.Key)
	q.Set("page", req.Page)
	q.Set("intentScore", strconv.Itoa(req.IntentScore))
	q.Set("intentLevel", req.IntentLevel)
	q.Set("visitCount", strconv.Itoa(req.VisitCount))
	for k, v := range map[string]string{"source": req.Source, "referrer": req.Referrer, "device": req.Device} {
		if v != "" {
			q.Set(k, v)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/campaigns?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	var response models.EvaluationResponse
	if err := c.do(httpReq, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) Track(ctx context.Context, req *models.TrackRequest) (*models.TrackResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/track", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	// text/plain keeps the browser request simple (no CORS preflight).
	httpReq.Header.Set("Content-Type", "text/plain;charset=UTF-8")

	var response models.TrackResponse
	if err := c.do(httpReq, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func (c *Client) do(req *http.Request, dst any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("server returned HTTP %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// quiet drops an API error after logging it. Nothing on the visitor side
// retries or surfaces a failed call.
func quiet(op string, err error) {
	if err != nil {
		logger.Debug("Agent call failed", map[string]any{
			"op":    op,
			"error": err.Error(),
		})
	}
}
