package bitrix

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sliva-name/bitrix24-bridge/internal/domain"
)

func TestWebhookTransportPostsToMethodURL(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":[{"ID":"1","TITLE":"Lead"}],"total":1}`))
	}))
	defer srv.Close()

	transport := NewWebhookTransport(srv.URL+"/rest/1/secret", transportOptions{timeout: time.Second})
	resp, err := transport.Call(context.Background(), "crm.lead.list", map[string]any{"start": 0})
	require.NoError(t, err)

	require.Equal(t, "/rest/1/secret/crm.lead.list", gotPath)
	require.EqualValues(t, 0, gotBody["start"])
	require.Len(t, resp.List(), 1)
	require.EqualValues(t, 1, resp.Total())
}

func TestWebhookTransportEmptyListIsNotNil(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":[],"total":0}`))
	}))
	defer srv.Close()

	transport := NewWebhookTransport(srv.URL, transportOptions{timeout: time.Second})
	resp, err := transport.Call(context.Background(), "crm.lead.list", nil)
	require.NoError(t, err)
	require.NotNil(t, resp.List())
	require.Empty(t, resp.List())
}

func TestAPIErrorIsFinal(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error":"INVALID_ARG","error_description":"Wrong filter"}`))
	}))
	defer srv.Close()

	transport := NewWebhookTransport(srv.URL, transportOptions{timeout: time.Second, attempts: 3})
	_, err := transport.Call(context.Background(), "crm.lead.list", nil)

	var apiErr *domain.APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "INVALID_ARG", apiErr.Code)
	require.Equal(t, "crm.lead.list", apiErr.Method)
	// API-level rejections must not be retried.
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestTransportErrorIsRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			_ = conn.Close()
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":true}`))
	}))
	defer srv.Close()

	transport := NewWebhookTransport(srv.URL, transportOptions{timeout: time.Second, attempts: 3, retryDelay: time.Millisecond})
	resp, err := transport.Call(context.Background(), "crm.lead.delete", map[string]any{"id": 1})
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestPostCarriesAuthParam(t *testing.T) {
	var gotBody map[string]any
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":42}`))
	}))
	defer srv.Close()

	resp, err := post(context.Background(), srv.Client(), srv.URL+"/rest/crm.lead.add", "crm.lead.add", map[string]any{
		"fields": map[string]any{"TITLE": "New"},
		"auth":   "access",
	}, 1, 0)
	require.NoError(t, err)
	id, ok := resp.ID()
	require.True(t, ok)
	require.EqualValues(t, 42, id)
	require.Equal(t, "/rest/crm.lead.add", gotPath)
	require.Equal(t, "access", gotBody["auth"])
}

func TestOAuthTransportWithoutCredentials(t *testing.T) {
	transport := NewOAuthTransport(func(ctx context.Context) (*domain.Credentials, error) {
		return nil, nil
	}, transportOptions{timeout: time.Second})

	_, err := transport.Call(context.Background(), "crm.lead.list", nil)
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)
}

func TestBaseClientLogsAndReturns(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"ID":"5"}}`))
	}))
	defer srv.Close()

	client := baseClient{
		transport: NewWebhookTransport(srv.URL, transportOptions{timeout: time.Second}),
		logger:    zap.NewNop(),
	}
	resp, err := client.call(context.Background(), "crm.lead.get", map[string]any{"id": 5})
	require.NoError(t, err)
	require.Equal(t, "5", resp.Item()["ID"])
}
