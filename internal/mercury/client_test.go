// ABOUTME: Tests for the Mercury client against a mocked upstream.
// ABOUTME: Covers field preservation, auth headers, and every error kind.

package mercury

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "secret-token:mercury_test"

// mockUpstream serves a fixed status and body and counts requests.
type mockUpstream struct {
	server *httptest.Server
	calls  atomic.Int32
	last   atomic.Pointer[http.Request]
}

func newMockUpstream(t *testing.T, status int, body string) *mockUpstream {
	t.Helper()
	m := &mockUpstream{}
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.calls.Add(1)
		m.last.Store(r.Clone(context.Background()))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(m.server.Close)
	return m
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{APIKey: testAPIKey, BaseURL: baseURL})
	require.NoError(t, err)
	return c
}

const accountsBody = `{
  "accounts": [
    {
      "id": "acc_1",
      "name": "Mercury Checking ••1234",
      "nickname": "Ops",
      "status": "active",
      "type": "mercury",
      "kind": "checking",
      "accountNumber": "1234",
      "routingNumber": "091311229",
      "currentBalance": 1234.56,
      "availableBalance": 1200.10,
      "createdAt": "2023-01-01T00:00:00Z",
      "canReceiveTransactions": true,
      "someFutureField": {"nested": [1, 2, 3]}
    },
    {
      "id": "acc_2",
      "name": "Mercury Savings",
      "currentBalance": 0.1,
      "currency": "EUR"
    },
    {
      "id": "acc_3",
      "name": "Treasury",
      "balance": {"amount": "99.99", "currency": "USD"}
    }
  ]
}`

func TestNewClient_RequiresAPIKey(t *testing.T) {
	for _, key := range []string{"", "   "} {
		_, err := NewClient(Config{APIKey: key})
		assert.ErrorIs(t, err, ErrMissingAPIKey)
	}
}

func TestListAccounts_PreservesFields(t *testing.T) {
	up := newMockUpstream(t, http.StatusOK, accountsBody)
	c := newTestClient(t, up.server.URL)

	accounts, err := c.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 3)
	assert.Equal(t, int32(1), up.calls.Load())

	first := accounts[0]
	assert.Equal(t, "acc_1", first.ID)
	assert.Equal(t, "Mercury Checking ••1234", first.Name)
	assert.True(t, decimal.RequireFromString("1234.56").Equal(first.Balance.Amount))
	assert.Equal(t, "USD", first.Balance.Currency)
	assert.Equal(t, "Ops", first.Fields["nickname"])
	assert.Equal(t, true, first.Fields["canReceiveTransactions"])
	assert.Contains(t, first.Fields, "someFutureField")

	assert.Equal(t, "EUR", accounts[1].Balance.Currency)
	assert.True(t, decimal.RequireFromString("0.1").Equal(accounts[1].Balance.Amount))
	assert.True(t, decimal.RequireFromString("99.99").Equal(accounts[2].Balance.Amount))

	// Order is as returned upstream.
	assert.Equal(t, []string{"acc_1", "acc_2", "acc_3"}, []string{accounts[0].ID, accounts[1].ID, accounts[2].ID})
}

func TestListAccounts_RoundTripJSON(t *testing.T) {
	up := newMockUpstream(t, http.StatusOK, accountsBody)
	c := newTestClient(t, up.server.URL)

	accounts, err := c.ListAccounts(context.Background())
	require.NoError(t, err)

	out, err := json.Marshal(accounts)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(out, &decoded))
	require.Len(t, decoded, 3)

	assert.Equal(t, "acc_1", decoded[0]["id"])
	assert.Equal(t, 1234.56, decoded[0]["currentBalance"])
	assert.Equal(t, "091311229", decoded[0]["routingNumber"])
	assert.Equal(t, map[string]any{"nested": []any{1.0, 2.0, 3.0}}, decoded[0]["someFutureField"])

	balance, ok := decoded[0]["balance"].(map[string]any)
	require.True(t, ok, "balance should be an object")
	assert.Equal(t, 1234.56, balance["amount"])
	assert.Equal(t, "USD", balance["currency"])
}

func TestListAccounts_RoundTripKeepsUpstreamValues(t *testing.T) {
	up := newMockUpstream(t, http.StatusOK, `{"accounts": [
		{"id": "acc_1", "name": "Ops", "balance": {"amount": "100.10", "currency": "USD", "asOf": "2024-01-01"}},
		{"id": "acc_2", "currentBalance": 5}
	]}`)
	c := newTestClient(t, up.server.URL)

	accounts, err := c.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.True(t, decimal.RequireFromString("100.10").Equal(accounts[0].Balance.Amount))

	first, err := json.Marshal(accounts[0])
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"id":"acc_1","name":"Ops","balance":{"amount":"100.10","currency":"USD","asOf":"2024-01-01"}}`,
		string(first), "upstream balance object is emitted untouched")

	second, err := json.Marshal(accounts[1])
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"id":"acc_2","currentBalance":5,"balance":{"amount":5,"currency":"USD"}}`,
		string(second), "no name is invented; balance is derived only when absent")
}

func TestListAccounts_EmptyList(t *testing.T) {
	up := newMockUpstream(t, http.StatusOK, `{"accounts": []}`)
	c := newTestClient(t, up.server.URL)

	accounts, err := c.ListAccounts(context.Background())
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestListAccounts_SendsAuthHeaders(t *testing.T) {
	up := newMockUpstream(t, http.StatusOK, `{"accounts": []}`)
	c := newTestClient(t, up.server.URL)

	_, err := c.ListAccounts(context.Background())
	require.NoError(t, err)

	req := up.last.Load()
	require.NotNil(t, req)
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/accounts", req.URL.Path)
	assert.Equal(t, "Bearer "+testAPIKey, req.Header.Get("Authorization"))
	assert.Equal(t, "application/json", req.Header.Get("Accept"))
	assert.Equal(t, DefaultUserAgent, req.Header.Get("User-Agent"))
}

func TestListAccounts_UpstreamError(t *testing.T) {
	up := newMockUpstream(t, http.StatusInternalServerError, `{"errors":{"message":"boom"}}`)
	c := newTestClient(t, up.server.URL)

	_, err := c.ListAccounts(context.Background())
	require.Error(t, err)

	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr), "expected UpstreamError, got %T", err)
	assert.Equal(t, http.StatusInternalServerError, upErr.StatusCode)
	assert.Contains(t, upErr.Body, "boom")
	assert.Equal(t, int32(1), up.calls.Load(), "no retries")
}

func TestListAccounts_DecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "truncated body", body: `{"accounts": [{"id": "acc_1"`},
		{name: "not json", body: `<html>oops</html>`},
		{name: "accounts not array", body: `{"accounts": "nope"}`},
		{name: "account missing id", body: `{"accounts": [{"name": "x"}]}`},
		{name: "bad balance", body: `{"accounts": [{"id": "a", "currentBalance": "lots"}]}`},
		{name: "trailing garbage", body: `{"accounts":[]} <html>garbage`},
		{name: "two objects", body: `{"accounts":[]}{"accounts":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := newMockUpstream(t, http.StatusOK, tt.body)
			c := newTestClient(t, up.server.URL)

			_, err := c.ListAccounts(context.Background())
			var decErr *DecodeError
			require.True(t, errors.As(err, &decErr), "expected DecodeError, got %v", err)
			assert.Equal(t, tt.body, string(decErr.RawBody))
		})
	}
}

func TestListAccounts_TransportError(t *testing.T) {
	up := newMockUpstream(t, http.StatusOK, `{}`)
	url := up.server.URL
	up.server.Close()

	c := newTestClient(t, url)
	_, err := c.ListAccounts(context.Background())

	var trErr *TransportError
	require.True(t, errors.As(err, &trErr), "expected TransportError, got %v", err)
	assert.NotNil(t, trErr.Cause)
}

func TestListAccounts_Cancelled(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	c := newTestClient(t, server.URL)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := c.ListAccounts(ctx)
		errCh <- err
	}()

	<-started
	cancel()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
		var trErr *TransportError
		assert.False(t, errors.As(err, &trErr), "cancellation is not a transport error")
	case <-time.After(5 * time.Second):
		t.Fatal("ListAccounts did not return after cancellation")
	}
}

func TestGetAccount_Success(t *testing.T) {
	up := newMockUpstream(t, http.StatusOK, `{"id":"acc_123","name":"Ops","currentBalance":10.5,"legalBusinessName":"Acme"}`)
	c := newTestClient(t, up.server.URL)

	acct, err := c.GetAccount(context.Background(), "acc_123")
	require.NoError(t, err)
	assert.Equal(t, "acc_123", acct.ID)
	assert.Equal(t, "Acme", acct.Fields["legalBusinessName"])
	assert.Equal(t, "/account/acc_123", up.last.Load().URL.Path)
}

func TestGetAccount_TrimsID(t *testing.T) {
	up := newMockUpstream(t, http.StatusOK, `{"id":"acc_123"}`)
	c := newTestClient(t, up.server.URL)

	_, err := c.GetAccount(context.Background(), "  acc_123 ")
	require.NoError(t, err)
	assert.Equal(t, "/account/acc_123", up.last.Load().URL.Path)
}

func TestGetAccount_InvalidArgument(t *testing.T) {
	up := newMockUpstream(t, http.StatusOK, `{"id":"x"}`)
	c := newTestClient(t, up.server.URL)

	for _, id := range []string{"", "   ", "\t\n"} {
		_, err := c.GetAccount(context.Background(), id)
		var argErr *InvalidArgumentError
		require.True(t, errors.As(err, &argErr), "expected InvalidArgumentError for %q", id)
		assert.Equal(t, "account_id", argErr.Argument)
	}
	assert.Equal(t, int32(0), up.calls.Load(), "validation must not reach the network")
}

func TestGetAccount_NotFoundIsUpstreamError(t *testing.T) {
	up := newMockUpstream(t, http.StatusNotFound, `{"errors":{"message":"Not found"}}`)
	c := newTestClient(t, up.server.URL)

	_, err := c.GetAccount(context.Background(), "acc_missing")
	var upErr *UpstreamError
	require.True(t, errors.As(err, &upErr))
	assert.Equal(t, http.StatusNotFound, upErr.StatusCode)
}

func TestGetAccount_MalformedJSON(t *testing.T) {
	up := newMockUpstream(t, http.StatusOK, `{"id":"acc_1",`)
	c := newTestClient(t, up.server.URL)

	_, err := c.GetAccount(context.Background(), "acc_1")
	var decErr *DecodeError
	assert.True(t, errors.As(err, &decErr))
}

func TestListCards(t *testing.T) {
	up := newMockUpstream(t, http.StatusOK, `{"cards":[{"cardId":"card_1","lastFourDigits":"4242","network":"visa"}]}`)
	c := newTestClient(t, up.server.URL)

	cards, err := c.ListCards(context.Background(), "acc_1")
	require.NoError(t, err)
	require.Len(t, cards, 1)
	assert.Equal(t, "card_1", cards[0].ID)
	assert.Equal(t, "4242", cards[0].Fields["lastFourDigits"])
	assert.Equal(t, "/account/acc_1/cards", up.last.Load().URL.Path)
}

func TestListTransactions(t *testing.T) {
	up := newMockUpstream(t, http.StatusOK, `{"total":42,"transactions":[{"id":"tx_1","amount":-12.34,"kind":"debitCardTransaction"}]}`)
	c := newTestClient(t, up.server.URL)

	page, err := c.ListTransactions(context.Background(), "acc_1", TransactionQuery{Limit: 10, Offset: 5, Order: "asc"})
	require.NoError(t, err)
	assert.Equal(t, 42, page.Total)
	require.Len(t, page.Transactions, 1)
	assert.True(t, decimal.RequireFromString("-12.34").Equal(page.Transactions[0].Amount))

	req := up.last.Load()
	assert.Equal(t, "/account/acc_1/transactions", req.URL.Path)
	assert.Equal(t, "10", req.URL.Query().Get("limit"))
	assert.Equal(t, "5", req.URL.Query().Get("offset"))
	assert.Equal(t, "asc", req.URL.Query().Get("order"))
}

func TestListTransactions_Defaults(t *testing.T) {
	up := newMockUpstream(t, http.StatusOK, `{"total":0,"transactions":[]}`)
	c := newTestClient(t, up.server.URL)

	_, err := c.ListTransactions(context.Background(), "acc_1", TransactionQuery{})
	require.NoError(t, err)

	q := up.last.Load().URL.Query()
	assert.Equal(t, "500", q.Get("limit"))
	assert.Equal(t, "0", q.Get("offset"))
	assert.Equal(t, "desc", q.Get("order"))
}

func TestListTransactions_InvalidQuery(t *testing.T) {
	up := newMockUpstream(t, http.StatusOK, `{}`)
	c := newTestClient(t, up.server.URL)

	tests := []struct {
		name string
		q    TransactionQuery
		arg  string
	}{
		{name: "limit too large", q: TransactionQuery{Limit: 501}, arg: "limit"},
		{name: "negative limit", q: TransactionQuery{Limit: -1}, arg: "limit"},
		{name: "negative offset", q: TransactionQuery{Offset: -3}, arg: "offset"},
		{name: "bad order", q: TransactionQuery{Order: "newest"}, arg: "order"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.ListTransactions(context.Background(), "acc_1", tt.q)
			var argErr *InvalidArgumentError
			require.True(t, errors.As(err, &argErr))
			assert.Equal(t, tt.arg, argErr.Argument)
		})
	}
	assert.Equal(t, int32(0), up.calls.Load())
}

func TestGetTransaction(t *testing.T) {
	up := newMockUpstream(t, http.StatusOK, `{"id":"tx_9","amount":"100.00","counterpartyName":"AWS"}`)
	c := newTestClient(t, up.server.URL)

	tx, err := c.GetTransaction(context.Background(), "acc_1", "tx_9")
	require.NoError(t, err)
	assert.Equal(t, "tx_9", tx.ID)
	assert.Equal(t, "AWS", tx.Fields["counterpartyName"])
	assert.Equal(t, "/account/acc_1/transaction/tx_9", up.last.Load().URL.Path)

	_, err = c.GetTransaction(context.Background(), "acc_1", " ")
	var argErr *InvalidArgumentError
	require.True(t, errors.As(err, &argErr))
	assert.Equal(t, "transaction_id", argErr.Argument)
}

func TestUpstreamError_TruncatesLongBody(t *testing.T) {
	long := make([]byte, 2000)
	for i := range long {
		long[i] = 'x'
	}
	err := &UpstreamError{StatusCode: 502, Body: string(long)}
	assert.Less(t, len(err.Error()), 600)
	assert.Contains(t, err.Error(), "status 502")
}
