package bitrix

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/sliva-name/bitrix24-bridge/internal/domain"
)

// Transport performs one Bitrix24 REST call. Entity clients are built on a
// single transport chosen at construction time, so webhook and OAuth
// connections behave identically above this interface.
type Transport interface {
	Call(ctx context.Context, method string, params map[string]any) (Response, error)
}

// CredentialSource supplies OAuth credentials per call. Returning nil
// credentials means no valid token exists.
type CredentialSource func(ctx context.Context) (*domain.Credentials, error)

type transportOptions struct {
	httpClient *http.Client
	timeout    time.Duration
	attempts   int
	retryDelay time.Duration
}

func (o transportOptions) client() *http.Client {
	if o.httpClient != nil {
		return o.httpClient
	}
	timeout := o.timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// webhookTransport posts to a static incoming webhook URL.
type webhookTransport struct {
	webhookURL string
	httpClient *http.Client
	attempts   int
	retryDelay time.Duration
}

// NewWebhookTransport builds a transport for a webhook-mode connection.
func NewWebhookTransport(webhookURL string, opts transportOptions) Transport {
	return &webhookTransport{
		webhookURL: strings.TrimRight(webhookURL, "/") + "/",
		httpClient: opts.client(),
		attempts:   opts.attempts,
		retryDelay: opts.retryDelay,
	}
}

func (t *webhookTransport) Call(ctx context.Context, method string, params map[string]any) (Response, error) {
	return post(ctx, t.httpClient, t.webhookURL+method, method, params, t.attempts, t.retryDelay)
}

// oauthTransport posts to the portal REST endpoint with credentials
// resolved per call, so token refresh stays transparent to callers.
type oauthTransport struct {
	credentials CredentialSource
	httpClient  *http.Client
	attempts    int
	retryDelay  time.Duration
}

// NewOAuthTransport builds a transport for an oauth-mode connection.
func NewOAuthTransport(credentials CredentialSource, opts transportOptions) Transport {
	return &oauthTransport{
		credentials: credentials,
		httpClient:  opts.client(),
		attempts:    opts.attempts,
		retryDelay:  opts.retryDelay,
	}
}

func (t *oauthTransport) Call(ctx context.Context, method string, params map[string]any) (Response, error) {
	creds, err := t.credentials(ctx)
	if err != nil {
		return nil, err
	}
	if creds == nil {
		return nil, domain.ErrNotAuthenticated
	}

	merged := make(map[string]any, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	merged["auth"] = creds.AccessToken

	endpoint := "https://" + creds.Domain + "/rest/" + method
	return post(ctx, t.httpClient, endpoint, method, merged, t.attempts, t.retryDelay)
}

// throttledTransport applies a client-side rate limit in front of another
// transport.
type throttledTransport struct {
	next    Transport
	limiter *rate.Limiter
}

// NewThrottledTransport wraps next with a token-bucket limiter.
func NewThrottledTransport(next Transport, limiter *rate.Limiter) Transport {
	if limiter == nil {
		return next
	}
	return &throttledTransport{next: next, limiter: limiter}
}

func (t *throttledTransport) Call(ctx context.Context, method string, params map[string]any) (Response, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, &domain.TransportError{Method: method, Err: err}
	}
	return t.next.Call(ctx, method, params)
}

func post(ctx context.Context, client *http.Client, endpoint, method string, params map[string]any, attempts int, retryDelay time.Duration) (Response, error) {
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 && retryDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, &domain.TransportError{Method: method, Err: ctx.Err()}
			case <-time.After(retryDelay):
			}
		}

		resp, err := doPost(ctx, client, endpoint, method, params)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// API-level rejections are final; only transport failures retry.
		var transportErr *domain.TransportError
		if !errors.As(err, &transportErr) {
			return nil, err
		}
	}
	return nil, lastErr
}

func doPost(ctx context.Context, client *http.Client, endpoint, method string, params map[string]any) (Response, error) {
	if params == nil {
		params = map[string]any{}
	}
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, &domain.TransportError{Method: method, Err: err}
	}

	var decoded Response
	if err := json.Unmarshal(raw, &decoded); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &domain.APIError{
				Method:      method,
				Code:        fmt.Sprintf("http_%d", resp.StatusCode),
				Description: truncate(string(raw), 512),
			}
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if code, ok := decoded["error"].(string); ok && code != "" {
		description, _ := decoded["error_description"].(string)
		return nil, &domain.APIError{Method: method, Code: code, Description: description}
	}
	if resp.StatusCode >= 300 {
		return nil, &domain.APIError{
			Method:      method,
			Code:        fmt.Sprintf("http_%d", resp.StatusCode),
			Description: truncate(string(raw), 512),
		}
	}

	return decoded, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
