// Package weaviate implements store.Client over Weaviate's REST and
// GraphQL API.
package weaviate

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/becomeliminal/vectorwave-go/store"
)

// Config configures the connection.
type Config struct {
	Host string
	Port int
	// GRPCPort is carried for deployments that expose it. This client
	// only speaks REST.
	GRPCPort int
	Scheme   string
	Timeout  time.Duration
	APIKey   string
	// Headers are sent with every request, e.g. X-OpenAI-Api-Key for the
	// text2vec-openai module.
	Headers map[string]string
	// Vectorizer is the module used for collections created with
	// Vectorize set, e.g. "text2vec-openai". "none" disables it.
	Vectorizer string
	Logger     *zap.Logger
}

// Client is a Weaviate connection.
type Client struct {
	http       *resty.Client
	endpoint   string
	vectorizer string
	batch      *store.Buffer
	logger     *zap.Logger
	version    string
}

// Dial opens a connection and checks that the server answers. It does not
// check readiness and does not retry.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("store.weaviate")

	endpoint := (&url.URL{Scheme: scheme, Host: cfg.Host + ":" + strconv.Itoa(cfg.Port)}).String()
	httpClient := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "vectorwave-go/1.0")
	if cfg.APIKey != "" {
		httpClient.SetAuthToken(cfg.APIKey)
	}
	if len(cfg.Headers) > 0 {
		httpClient.SetHeaders(cfg.Headers)
	}

	resp, err := httpClient.R().SetContext(ctx).Get("/v1/meta")
	if err != nil {
		return nil, &store.ConnectionError{Err: fmt.Errorf("GET %s/v1/meta: %w", endpoint, err)}
	}

	c := &Client{
		http:       httpClient,
		endpoint:   endpoint,
		vectorizer: cfg.Vectorizer,
		logger:     logger,
		version:    gjson.GetBytes(resp.Body(), "version").String(),
	}
	c.batch = store.NewBuffer(c.sendBatch,
		store.WithBufferLogger(logger),
		store.WithBackgroundTimeout(timeout),
	)

	logger.Info("Weaviate client connected",
		zap.String("endpoint", endpoint),
		zap.String("version", c.version),
	)
	return c, nil
}

// Endpoint returns the base URL of the server.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// IsReady probes the readiness endpoint.
func (c *Client) IsReady(ctx context.Context) bool {
	resp, err := c.http.R().SetContext(ctx).Get("/v1/.well-known/ready")
	if err != nil {
		c.logger.Debug("Readiness probe failed", zap.Error(err))
		return false
	}
	return resp.StatusCode() == http.StatusOK
}

// Batch returns the client-side write buffer.
func (c *Client) Batch() store.Batch {
	return c.batch
}

// Close stops background sends. Pending objects are not flushed.
func (c *Client) Close() error {
	c.batch.Close()
	return nil
}

// sendBatch posts objects to /v1/batch/objects. Server errors and rate
// limiting fail the whole batch so it is retained; other client errors are
// reported on every object, since resending would fail the same way.
func (c *Client) sendBatch(ctx context.Context, objects []store.Object) ([]store.Result, error) {
	payload := make([]map[string]any, 0, len(objects))
	for _, obj := range objects {
		item := map[string]any{
			"class":      obj.Collection,
			"properties": obj.Properties,
		}
		if obj.ID != "" {
			item["id"] = obj.ID
		}
		payload = append(payload, item)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"objects": payload}).
		Post("/v1/batch/objects")
	if err != nil {
		return nil, fmt.Errorf("post batch: %w", err)
	}

	status := resp.StatusCode()
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return nil, fmt.Errorf("post batch: status %d: %s", status, resp.String())
	}
	if resp.IsError() {
		msg := errorMessages(resp.Body())
		if len(msg) == 0 {
			msg = []string{fmt.Sprintf("status %d: %s", status, resp.String())}
		}
		results := make([]store.Result, len(objects))
		for i, obj := range objects {
			results[i] = store.Result{Collection: obj.Collection, ID: obj.ID, Errors: msg}
		}
		return results, nil
	}

	items := gjson.ParseBytes(resp.Body()).Array()
	results := make([]store.Result, 0, len(objects))
	for i, obj := range objects {
		res := store.Result{Collection: obj.Collection, ID: obj.ID}
		if i < len(items) {
			if id := items[i].Get("id").String(); id != "" {
				res.ID = id
			}
			for _, m := range items[i].Get("result.errors.error.#.message").Array() {
				res.Errors = append(res.Errors, m.String())
			}
		}
		results = append(results, res)
	}

	c.logger.Debug("Batch sent", zap.Int("count", len(objects)))
	return results, nil
}

// Get fetches one object by ID.
func (c *Client) Get(ctx context.Context, collection, id string) (*store.Hit, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"class": collection, "id": id}).
		Get("/v1/objects/{class}/{id}")
	if err != nil {
		return nil, fmt.Errorf("get object: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil, store.ErrNotFound
	}
	if resp.IsError() {
		return nil, fmt.Errorf("get object: status %d: %s", resp.StatusCode(), resp.String())
	}

	body := gjson.ParseBytes(resp.Body())
	props, _ := body.Get("properties").Value().(map[string]any)
	return &store.Hit{ID: body.Get("id").String(), Properties: props}, nil
}

// errorMessages extracts {"error":[{"message":...}]} style messages.
func errorMessages(body []byte) []string {
	var msgs []string
	for _, m := range gjson.GetBytes(body, "error.#.message").Array() {
		msgs = append(msgs, m.String())
	}
	return msgs
}
