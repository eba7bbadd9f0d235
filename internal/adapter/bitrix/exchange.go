package bitrix

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sliva-name/bitrix24-bridge/internal/config"
	"github.com/sliva-name/bitrix24-bridge/internal/domain"
)

// Exchange encapsulates outbound HTTP calls to the Bitrix24 OAuth endpoint.
type Exchange interface {
	ExchangeCode(ctx context.Context, conn config.Connection, code string) (*domain.TokenData, error)
	Refresh(ctx context.Context, conn config.Connection, token *domain.Token) (*domain.TokenData, error)
}

// HTTPExchange is the default HTTP implementation.
type HTTPExchange struct {
	httpClient *http.Client
}

// NewHTTPExchange constructs the default Exchange with the configured
// timeout.
func NewHTTPExchange(client *http.Client, timeout time.Duration) *HTTPExchange {
	if client == nil {
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPExchange{httpClient: client}
}

var _ Exchange = (*HTTPExchange)(nil)

// ExchangeCode swaps an authorization code for an access/refresh pair.
func (e *HTTPExchange) ExchangeCode(ctx context.Context, conn config.Connection, code string) (*domain.TokenData, error) {
	data := url.Values{}
	data.Set("grant_type", "authorization_code")
	data.Set("client_id", conn.ClientID)
	data.Set("client_secret", conn.ClientSecret)
	data.Set("code", code)
	data.Set("redirect_uri", conn.RedirectURI)

	return e.tokenRequest(ctx, conn, data)
}

// Refresh exchanges the token's refresh token for a fresh pair.
func (e *HTTPExchange) Refresh(ctx context.Context, conn config.Connection, token *domain.Token) (*domain.TokenData, error) {
	data := url.Values{}
	data.Set("grant_type", "refresh_token")
	data.Set("client_id", conn.ClientID)
	data.Set("client_secret", conn.ClientSecret)
	data.Set("refresh_token", token.RefreshToken)

	return e.tokenRequest(ctx, conn, data)
}

func (e *HTTPExchange) tokenRequest(ctx context.Context, conn config.Connection, data url.Values) (*domain.TokenData, error) {
	endpoint := "https://" + conn.Domain + "/oauth/token/"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, &domain.TransportError{Method: "oauth.token", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &domain.TransportError{Method: "oauth.token", Err: err}
	}

	var raw map[string]any
	if err := json.Unmarshal(body, &raw); err != nil {
		if resp.StatusCode >= 300 {
			return nil, fmt.Errorf("%w: status=%d body=%s", domain.ErrExchangeFailed, resp.StatusCode, truncate(string(body), 256))
		}
		return nil, fmt.Errorf("decode token response: %w", err)
	}

	if errCode := stringValue(raw["error"]); errCode != "" {
		return nil, fmt.Errorf("%w: %s (%s)", domain.ErrExchangeFailed, stringValue(raw["error_description"]), errCode)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status=%d", domain.ErrExchangeFailed, resp.StatusCode)
	}

	token := &domain.TokenData{
		Domain:       conn.Domain,
		AccessToken:  stringValue(raw["access_token"]),
		RefreshToken: stringValue(raw["refresh_token"]),
		ExpiresIn:    int64Value(raw["expires_in"]),
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty access token", domain.ErrExchangeFailed)
	}
	if token.ExpiresIn == 0 {
		token.ExpiresIn = 3600
	}
	if scope := stringValue(raw["scope"]); scope != "" {
		token.Scope = strings.Split(scope, ",")
	}
	return token, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func stringValue(input any) string {
	switch v := input.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func int64Value(input any) int64 {
	switch v := input.(type) {
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
