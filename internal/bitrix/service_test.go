package bitrix

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sliva-name/bitrix24-bridge/internal/config"
	"github.com/sliva-name/bitrix24-bridge/internal/domain"
)

func serviceConfig() config.Config {
	return config.Config{
		DefaultConnection: "main",
		Connections: map[string]config.Connection{
			"main": {
				Type:         config.AuthTypeOAuth,
				Domain:       "portal.bitrix24.test",
				ClientID:     "client-id",
				ClientSecret: "client-secret",
				RedirectURI:  "https://app.test/bitrix24/auth/callback",
			},
			"hook": {
				Type:       config.AuthTypeWebhook,
				WebhookURL: "https://portal.bitrix24.test/rest/1/secret",
			},
		},
	}
}

func TestAuthorizationURL(t *testing.T) {
	svc := NewService(serviceConfig(), nil, zap.NewNop())

	authURL, state, err := svc.AuthorizationURL("", []string{"crm", "task"}, "")
	require.NoError(t, err)
	require.Len(t, state, 32)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	require.Equal(t, "portal.bitrix24.test", parsed.Host)
	require.Equal(t, "/oauth/authorize/", parsed.Path)

	query := parsed.Query()
	require.Equal(t, "client-id", query.Get("client_id"))
	require.Equal(t, "code", query.Get("response_type"))
	require.Equal(t, state, query.Get("state"))
	require.Equal(t, "crm,task", query.Get("scope"))

	// States are unique per call.
	_, other, err := svc.AuthorizationURL("main", nil, "")
	require.NoError(t, err)
	require.NotEqual(t, state, other)

	// A caller-supplied state passes through untouched.
	_, supplied, err := svc.AuthorizationURL("main", nil, "csrf-state")
	require.NoError(t, err)
	require.Equal(t, "csrf-state", supplied)
}

func TestAuthorizationURLRejectsWebhookConnection(t *testing.T) {
	svc := NewService(serviceConfig(), nil, zap.NewNop())

	_, _, err := svc.AuthorizationURL("hook", nil, "")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "webhook"))
}

func TestForChoosesTransportByConnectionType(t *testing.T) {
	svc := NewService(serviceConfig(), nil, zap.NewNop())

	scope, err := svc.For("hook", nil)
	require.NoError(t, err)
	require.IsType(t, &webhookTransport{}, scope.transport)

	scope, err = svc.For("main", nil)
	require.NoError(t, err)
	require.IsType(t, &oauthTransport{}, scope.transport)

	_, err = svc.For("missing", nil)
	require.ErrorIs(t, err, domain.ErrConnectionNotFound)
}

func TestForThrottlesWhenConfigured(t *testing.T) {
	cfg := serviceConfig()
	cfg.RateLimitRPM = 120
	svc := NewService(cfg, nil, zap.NewNop())

	scope, err := svc.For("hook", nil)
	require.NoError(t, err)
	require.IsType(t, &throttledTransport{}, scope.transport)
}

func TestHasValidTokenWebhookAlwaysReady(t *testing.T) {
	svc := NewService(serviceConfig(), nil, zap.NewNop())

	ok, err := svc.HasValidToken(context.Background(), "hook", nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestScopeCustomClientFactory(t *testing.T) {
	type smartProcessClient struct{ transport Transport }

	svc := NewService(serviceConfig(), nil, zap.NewNop(),
		WithClientFactory("smart_process", func(transport Transport, logger *zap.Logger) any {
			return &smartProcessClient{transport: transport}
		}),
	)

	scope, err := svc.For("hook", nil)
	require.NoError(t, err)

	client, err := scope.Client("smart_process")
	require.NoError(t, err)
	require.IsType(t, &smartProcessClient{}, client)

	_, err = scope.Client("unknown")
	require.Error(t, err)
}
