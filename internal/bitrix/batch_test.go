package bitrix

import (
	"context"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// scriptedTransport records calls and replays canned responses.
type scriptedTransport struct {
	calls    []scriptedCall
	response Response
	err      error
}

type scriptedCall struct {
	method string
	params map[string]any
}

func (s *scriptedTransport) Call(ctx context.Context, method string, params map[string]any) (Response, error) {
	s.calls = append(s.calls, scriptedCall{method: method, params: params})
	if s.err != nil {
		return nil, s.err
	}
	return s.response, nil
}

func TestBatchExecute(t *testing.T) {
	transport := &scriptedTransport{response: Response{
		"result": map[string]any{
			"result": map[string]any{
				"lead": map[string]any{"ID": "1"},
			},
			"result_error": map[string]any{
				"deal": "Access denied",
			},
		},
	}}

	batch := NewBatch(transport, zap.NewNop()).
		Add("lead", "crm.lead.get", map[string]any{"id": 1}).
		Add("deal", "crm.deal.get", map[string]any{"id": 2}).
		Halt(false)

	require.Equal(t, 2, batch.Count())

	result, err := batch.Execute(context.Background())
	require.NoError(t, err)
	require.Contains(t, result.Results, "lead")
	require.Equal(t, "Access denied", result.Errors["deal"])

	// The batch clears after execution.
	require.True(t, batch.IsEmpty())

	require.Len(t, transport.calls, 1)
	require.Equal(t, "batch", transport.calls[0].method)
	cmd := transport.calls[0].params["cmd"].(map[string]any)
	require.Equal(t, "crm.lead.get?id=1", cmd["lead"])
	require.Equal(t, "crm.deal.get?id=2", cmd["deal"])
	require.Equal(t, 0, transport.calls[0].params["halt"])
}

func TestBatchEmptyExecuteSkipsTransport(t *testing.T) {
	transport := &scriptedTransport{}
	result, err := NewBatch(transport, zap.NewNop()).Execute(context.Background())
	require.NoError(t, err)
	require.Empty(t, result.Results)
	require.Empty(t, transport.calls)
}

func TestBatchCommandLimit(t *testing.T) {
	batch := NewBatch(&scriptedTransport{}, zap.NewNop())
	for i := 0; i <= MaxBatchCommands; i++ {
		batch.Add(string(rune('a'+i%26))+string(rune('0'+i/26)), "crm.lead.get", map[string]any{"id": i})
	}
	_, err := batch.Execute(context.Background())
	require.Error(t, err)
}

func TestBatchCommandEncoding(t *testing.T) {
	transport := &scriptedTransport{response: Response{"result": map[string]any{}}}
	batch := NewBatch(transport, zap.NewNop()).
		Add("list", "crm.lead.list", map[string]any{
			"filter": map[string]any{"STATUS_ID": "NEW"},
			"select": []string{"ID", "TITLE"},
			"start":  50,
		})

	_, err := batch.Execute(context.Background())
	require.NoError(t, err)

	cmd := transport.calls[0].params["cmd"].(map[string]any)
	encoded := cmd["list"].(string)
	method, query, found := cutQuery(encoded)
	require.True(t, found)
	require.Equal(t, "crm.lead.list", method)

	values, err := url.ParseQuery(query)
	require.NoError(t, err)
	require.Equal(t, "NEW", values.Get("filter[STATUS_ID]"))
	require.Equal(t, "ID", values.Get("select[0]"))
	require.Equal(t, "TITLE", values.Get("select[1]"))
	require.Equal(t, "50", values.Get("start"))
}

func cutQuery(encoded string) (string, string, bool) {
	for i := 0; i < len(encoded); i++ {
		if encoded[i] == '?' {
			return encoded[:i], encoded[i+1:], true
		}
	}
	return encoded, "", false
}
