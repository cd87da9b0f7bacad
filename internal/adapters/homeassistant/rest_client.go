package homeassistant

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const restTransportName = "rest"

// RESTClient is the request/response transport. One HTTP call per
// operation; registry relations are not exposed by the hub's REST surface
// and report ErrInsufficient so the orchestrator falls back to WebSocket.
type RESTClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *logrus.Logger

	maxRetries    int
	retryDelay    time.Duration
	maxRetryDelay time.Duration
}

// RESTOptions carries construction parameters for the REST transport.
type RESTOptions struct {
	BaseURL   string
	Token     string
	VerifyTLS bool
	Timeout   time.Duration
}

// NewRESTClient creates a new REST transport.
func NewRESTClient(opts RESTOptions, logger *logrus.Logger) *RESTClient {
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !opts.VerifyTLS {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &RESTClient{
		baseURL: strings.TrimSuffix(opts.BaseURL, "/"),
		token:   opts.Token,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		logger:        logger,
		maxRetries:    3,
		retryDelay:    time.Second,
		maxRetryDelay: 10 * time.Second,
	}
}

func (c *RESTClient) Name() string { return restTransportName }

// Fetch executes one hub operation over HTTP.
func (c *RESTClient) Fetch(ctx context.Context, op Operation, params map[string]interface{}) (json.RawMessage, error) {
	switch op {
	case OpGetStates:
		return c.doRequest(ctx, op, http.MethodGet, "/api/states", nil)
	case OpGetState:
		entityID, _ := params["entity_id"].(string)
		if entityID == "" {
			return nil, newTransportError(restTransportName, op, KindProtocol, "entity_id parameter is required", nil)
		}
		return c.doRequest(ctx, op, http.MethodGet, "/api/states/"+entityID, nil)
	case OpGetConfig:
		return c.doRequest(ctx, op, http.MethodGet, "/api/config", nil)
	case OpCallService:
		domain, _ := params["domain"].(string)
		service, _ := params["service"].(string)
		if domain == "" || service == "" {
			return nil, newTransportError(restTransportName, op, KindProtocol, "domain and service parameters are required", nil)
		}
		body, _ := params["data"].(map[string]interface{})
		if body == nil {
			body = map[string]interface{}{}
		}
		path := fmt.Sprintf("/api/services/%s/%s", domain, service)
		return c.doRequest(ctx, op, http.MethodPost, path, body)
	case OpAreaRegistry, OpDeviceRegistry, OpEntityRegistry:
		// The hub exposes registries over the WebSocket command API only.
		return nil, ErrInsufficient
	default:
		return nil, newTransportError(restTransportName, op, KindProtocol, "unknown operation", nil)
	}
}

// doRequest performs an HTTP request with retry for transient failures.
func (c *RESTClient) doRequest(ctx context.Context, op Operation, method, path string, body interface{}) (json.RawMessage, error) {
	url := c.baseURL + path

	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, newTransportError(restTransportName, op, KindProtocol, "failed to marshal request body", err)
		}
	}

	var lastErr error
	retryDelay := c.retryDelay

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, newTransportError(restTransportName, op, KindTimeout, "context done during retry wait", ctx.Err())
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
			if retryDelay > c.maxRetryDelay {
				retryDelay = c.maxRetryDelay
			}
		}

		var bodyReader io.Reader
		if jsonBody != nil {
			bodyReader = bytes.NewReader(jsonBody)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return nil, newTransportError(restTransportName, op, KindProtocol, "failed to create request", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		c.logger.WithFields(logrus.Fields{
			"method":  method,
			"path":    path,
			"attempt": attempt + 1,
		}).Debug("Hub REST request")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = newTransportError(restTransportName, op, KindDisconnected, "HTTP request failed", err)
			if IsTimeout(lastErr) || ctx.Err() != nil {
				return nil, lastErr
			}
			c.logger.WithError(err).WithField("attempt", attempt+1).Warn("Hub REST request failed, will retry")
			continue
		}

		responseBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = newTransportError(restTransportName, op, KindProtocol, "failed to read response body", readErr)
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return responseBody, nil
		}

		httpErr := &TransportError{
			Kind:      KindHTTPError,
			Transport: restTransportName,
			Op:        op,
			Status:    resp.StatusCode,
			Message:   strings.TrimSpace(string(responseBody)),
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			// Rate limited: wait longer before the next attempt.
			retryDelay = 5 * time.Second
			lastErr = httpErr
			continue
		case resp.StatusCode >= 500:
			lastErr = httpErr
			continue
		default:
			// Client errors are not retryable.
			return nil, httpErr
		}
	}

	c.logger.WithError(lastErr).WithField("operation", string(op)).Error("All REST retry attempts failed")
	return nil, lastErr
}
