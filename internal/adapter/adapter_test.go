// ABOUTME: End-to-end tests of the Mercury resources and tools through MCP dispatch.
// ABOUTME: Uses a mocked Mercury upstream and counts outbound HTTP calls.

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mercury-mcp/internal/mcp"
	"github.com/2389/mercury-mcp/internal/mercury"
)

// harness wires a mocked Mercury upstream through the real client and MCP server.
type harness struct {
	srv   *mcp.Server
	calls *atomic.Int32
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newHarness(t *testing.T, handler http.HandlerFunc) *harness {
	t.Helper()

	calls := &atomic.Int32{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		handler(w, r)
	}))
	t.Cleanup(upstream.Close)

	client, err := mercury.NewClient(mercury.Config{
		APIKey:  "secret-token:test",
		BaseURL: upstream.URL,
		Logger:  discardLogger(),
	})
	require.NoError(t, err)

	return newHarnessWithClient(t, client, calls)
}

func newHarnessWithClient(t *testing.T, client Client, calls *atomic.Int32) *harness {
	t.Helper()

	srv, err := mcp.NewServer(mcp.Config{Name: "mercury", Version: "test", Logger: discardLogger()})
	require.NoError(t, err)

	a, err := New(client, discardLogger())
	require.NoError(t, err)
	require.NoError(t, a.Register(srv))

	return &harness{srv: srv, calls: calls}
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

// rpcReply is a JSON-decoded JSON-RPC response.
type rpcReply struct {
	Result json.RawMessage   `json:"result"`
	Error  *mcp.JSONRPCError `json:"error"`
}

func (h *harness) call(t *testing.T, method string, params any) rpcReply {
	t.Helper()
	return h.callCtx(t, context.Background(), method, params)
}

func (h *harness) callCtx(t *testing.T, ctx context.Context, method string, params any) rpcReply {
	t.Helper()

	rawParams, err := json.Marshal(params)
	require.NoError(t, err)

	resp := h.srv.Handle(ctx, &mcp.JSONRPCRequest{
		JSONRPC: "2.0",
		ID:      json.RawMessage(`1`),
		Method:  method,
		Params:  rawParams,
	})
	require.NotNil(t, resp)

	data, err := json.Marshal(resp)
	require.NoError(t, err)

	var reply rpcReply
	require.NoError(t, json.Unmarshal(data, &reply))
	return reply
}

func (h *harness) readResource(t *testing.T, uri string) rpcReply {
	t.Helper()
	return h.call(t, "resources/read", map[string]any{"uri": uri})
}

func (h *harness) callTool(t *testing.T, name string, args any) rpcReply {
	t.Helper()
	return h.call(t, "tools/call", map[string]any{"name": name, "arguments": args})
}

func decodeToolResult(t *testing.T, reply rpcReply) mcp.MCPCallToolResult {
	t.Helper()
	require.Nil(t, reply.Error, "unexpected JSON-RPC error: %+v", reply.Error)
	var result mcp.MCPCallToolResult
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	require.NotEmpty(t, result.Content)
	return result
}

const threeAccounts = `{"accounts":[
  {"id":"acc_1","name":"Checking","currentBalance":100.25,"status":"active","kind":"checking"},
  {"id":"acc_2","name":"Savings","currentBalance":5000,"nickname":"Rainy day"},
  {"id":"acc_3","name":"Treasury","currentBalance":0}
]}`

func TestAccountsResource_ReturnsEveryAccount(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK, threeAccounts))

	reply := h.readResource(t, AccountsURI)
	require.Nil(t, reply.Error)

	var result mcp.MCPReadResourceResult
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	require.Len(t, result.Contents, 1)
	assert.Equal(t, AccountsURI, result.Contents[0].URI)
	assert.Equal(t, "application/json", result.Contents[0].MIMEType)

	var accounts []map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Contents[0].Text), &accounts))
	require.Len(t, accounts, 3)

	assert.Equal(t, "acc_1", accounts[0]["id"])
	assert.Equal(t, "Checking", accounts[0]["name"])
	assert.Equal(t, "active", accounts[0]["status"])
	assert.Equal(t, map[string]any{"amount": 100.25, "currency": "USD"}, accounts[0]["balance"])
	assert.Equal(t, "Rainy day", accounts[1]["nickname"])
	assert.Equal(t, int32(1), h.calls.Load())
}

func TestAccountsResource_UpstreamFailure(t *testing.T) {
	h := newHarness(t, respond(http.StatusInternalServerError, `{"errors":{"message":"internal"}}`))

	reply := h.readResource(t, AccountsURI)
	require.NotNil(t, reply.Error)
	assert.Equal(t, mcp.JSONRPCInternalError, reply.Error.Code)
	assert.Contains(t, reply.Error.Message, "status 500")

	data, ok := reply.Error.Data.(map[string]any)
	require.True(t, ok, "error data should be an object")
	assert.Equal(t, "upstream", data["kind"])
	assert.Equal(t, float64(500), data["status"])
	assert.Contains(t, data["body"], "internal")

	assert.Equal(t, int32(1), h.calls.Load(), "exactly one HTTP call, no retries")
}

func TestResourceError_KeepsCause(t *testing.T) {
	cause := &mercury.UpstreamError{StatusCode: http.StatusInternalServerError, Body: "oops"}

	err := resourceError(cause)
	var rpcErr *mcp.Error
	require.True(t, errors.As(err, &rpcErr))
	assert.Equal(t, mcp.JSONRPCInternalError, rpcErr.Code)

	var upErr *mercury.UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusInternalServerError, upErr.StatusCode)

	assert.Equal(t, context.Canceled, resourceError(context.Canceled))
}

func TestAccountsResource_MalformedJSON(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK, `{"accounts":[{"id":"acc_1"`))

	reply := h.readResource(t, AccountsURI)
	require.NotNil(t, reply.Error)
	data, ok := reply.Error.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "decode", data["kind"])
}

func TestAccountTemplate_ReadsOneAccount(t *testing.T) {
	var path atomic.Value
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		path.Store(r.URL.Path)
		respond(http.StatusOK, `{"id":"acc_7","name":"Ops"}`)(w, r)
	})

	reply := h.readResource(t, "mercury://accounts/acc_7")
	require.Nil(t, reply.Error)
	assert.Equal(t, "/account/acc_7", path.Load())

	var result mcp.MCPReadResourceResult
	require.NoError(t, json.Unmarshal(reply.Result, &result))
	require.Len(t, result.Contents, 1)
	assert.Contains(t, result.Contents[0].Text, `"acc_7"`)
}

func TestGetAccountDetails_Success(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK, `{"id":"acc_123","name":"Ops","currentBalance":42.5,"routingNumber":"091311229"}`))

	result := decodeToolResult(t, h.callTool(t, "get_account_details", map[string]any{"account_id": "acc_123"}))
	assert.False(t, result.IsError)

	var acct map[string]any
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &acct))
	assert.Equal(t, "acc_123", acct["id"])
	assert.Equal(t, "091311229", acct["routingNumber"])

	structured, ok := result.StructuredContent.(map[string]any)
	require.True(t, ok, "structuredContent should carry the account object")
	assert.Equal(t, "acc_123", structured["id"])
}

func TestGetAccountDetails_InvalidArgument(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK, `{"id":"x"}`))

	for _, args := range []map[string]any{
		{"account_id": ""},
		{"account_id": "   "},
		{},
	} {
		reply := h.callTool(t, "get_account_details", args)
		require.NotNil(t, reply.Error, "args %v should fail validation", args)
		assert.Equal(t, mcp.JSONRPCInvalidParams, reply.Error.Code)
		assert.Contains(t, reply.Error.Message, "validation error")
	}

	reply := h.callTool(t, "get_account_details", map[string]any{"account_id": 12})
	require.NotNil(t, reply.Error)
	assert.Equal(t, mcp.JSONRPCInvalidParams, reply.Error.Code)

	assert.Equal(t, int32(0), h.calls.Load(), "validation failures must not reach Mercury")
}

func TestGetAccountDetails_NotFoundIsExecutionError(t *testing.T) {
	h := newHarness(t, respond(http.StatusNotFound, `{"errors":{"message":"Not found"}}`))

	result := decodeToolResult(t, h.callTool(t, "get_account_details", map[string]any{"account_id": "acc_missing"}))
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "status 404")
	assert.Contains(t, result.Content[0].Text, "Not found")
}

func TestGetAccountDetails_MalformedJSON(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK, `{"id":`))

	result := decodeToolResult(t, h.callTool(t, "get_account_details", map[string]any{"account_id": "acc_1"}))
	assert.True(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "decoding mercury response")
}

func TestListAccountsTool(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK, threeAccounts))

	result := decodeToolResult(t, h.callTool(t, "list_accounts", map[string]any{}))
	assert.False(t, result.IsError)

	var payload struct {
		Accounts []map[string]any `json:"accounts"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &payload))
	assert.Len(t, payload.Accounts, 3)
}

func TestGetAccountCards(t *testing.T) {
	t.Run("cards", func(t *testing.T) {
		h := newHarness(t, respond(http.StatusOK, `{"cards":[{"cardId":"card_1","lastFourDigits":"4242"}]}`))
		result := decodeToolResult(t, h.callTool(t, "get_account_cards", map[string]any{"account_id": "acc_1"}))
		assert.False(t, result.IsError)
		assert.Contains(t, result.Content[0].Text, "4242")
	})

	t.Run("no cards", func(t *testing.T) {
		h := newHarness(t, respond(http.StatusOK, `{"cards":[]}`))
		result := decodeToolResult(t, h.callTool(t, "get_account_cards", map[string]any{"account_id": "acc_1"}))
		assert.Equal(t, "No cards found for this account.", result.Content[0].Text)
	})
}

func TestListAccountTransactions(t *testing.T) {
	var query atomic.Value
	h := newHarness(t, func(w http.ResponseWriter, r *http.Request) {
		query.Store(r.URL.RawQuery)
		respond(http.StatusOK, `{"total":2,"transactions":[{"id":"tx_1","amount":-5},{"id":"tx_2","amount":10}]}`)(w, r)
	})

	result := decodeToolResult(t, h.callTool(t, "list_account_transactions", map[string]any{
		"account_id": "acc_1",
		"limit":      2,
		"order":      "asc",
	}))
	assert.False(t, result.IsError)
	assert.Equal(t, "limit=2&offset=0&order=asc", query.Load())

	var page struct {
		Total        int              `json:"total"`
		Transactions []map[string]any `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal([]byte(result.Content[0].Text), &page))
	assert.Equal(t, 2, page.Total)
	assert.Len(t, page.Transactions, 2)

	reply := h.callTool(t, "list_account_transactions", map[string]any{"account_id": "acc_1", "order": "sideways"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, mcp.JSONRPCInvalidParams, reply.Error.Code)
}

func TestGetTransaction(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK, `{"id":"tx_9","amount":12.5,"counterpartyName":"AWS"}`))

	result := decodeToolResult(t, h.callTool(t, "get_transaction", map[string]any{
		"account_id":     "acc_1",
		"transaction_id": "tx_9",
	}))
	assert.False(t, result.IsError)
	assert.Contains(t, result.Content[0].Text, "AWS")
}

func TestToolsList_ExposesMercuryTools(t *testing.T) {
	h := newHarness(t, respond(http.StatusOK, `{}`))

	reply := h.call(t, "tools/list", nil)
	require.Nil(t, reply.Error)

	var result mcp.MCPListToolsResult
	require.NoError(t, json.Unmarshal(reply.Result, &result))

	names := make([]string, len(result.Tools))
	for i, tool := range result.Tools {
		names[i] = tool.Name
	}
	assert.ElementsMatch(t, []string{
		"list_accounts",
		"get_account_details",
		"get_account_cards",
		"list_account_transactions",
		"get_transaction",
	}, names)
}

// blockingClient never answers until its context is cancelled.
type blockingClient struct {
	Client
	started chan struct{}
}

func (b *blockingClient) GetAccount(ctx context.Context, _ string) (*mercury.Account, error) {
	close(b.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGetAccountDetails_Cancellation(t *testing.T) {
	client := &blockingClient{started: make(chan struct{})}
	h := newHarnessWithClient(t, client, &atomic.Int32{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan rpcReply, 1)
	go func() {
		done <- h.callCtx(t, ctx, "tools/call", map[string]any{
			"name":      "get_account_details",
			"arguments": map[string]any{"account_id": "acc_1"},
		})
	}()

	<-client.started
	cancel()

	reply := <-done
	require.NotNil(t, reply.Error, "cancellation must fail the call, not complete it")
	assert.Equal(t, "request cancelled", reply.Error.Message)
}
