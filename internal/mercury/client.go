// ABOUTME: Read-only HTTP client for the Mercury banking REST API.
// ABOUTME: One authenticated GET per call, decoded into open-schema models.

package mercury

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DefaultBaseURL is Mercury's production API root.
const DefaultBaseURL = "https://api.mercury.com/api/v1"

// DefaultTimeout bounds a single request when none is configured.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent identifies this adapter to Mercury.
const DefaultUserAgent = "mercury-mcp/1.0"

// MaxResponseBodySize is the largest response body the client will read (10MB).
const MaxResponseBodySize = 10 << 20

// Transaction listing bounds accepted by Mercury.
const (
	DefaultTransactionLimit = 500
	MaxTransactionLimit     = 500
)

// Config holds configuration for the Mercury client.
type Config struct {
	APIKey     string
	BaseURL    string        // defaults to DefaultBaseURL
	Timeout    time.Duration // ignored when HTTPClient is set
	UserAgent  string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client issues authenticated GET requests against the Mercury API.
// It holds no mutable state and is safe for concurrent use.
type Client struct {
	apiKey    string
	baseURL   string
	userAgent string
	http      *http.Client
	logger    *slog.Logger
}

// NewClient creates a client. It fails fast when no API key is configured.
func NewClient(cfg Config) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parsing base URL %q: %w", baseURL, err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		apiKey:    apiKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		http:      httpClient,
		logger:    logger,
	}, nil
}

// ListAccounts returns every account in the order Mercury returned them.
func (c *Client) ListAccounts(ctx context.Context) ([]Account, error) {
	body, err := c.get(ctx, "/accounts", nil)
	if err != nil {
		return nil, err
	}

	obj, err := decodeObject(body)
	if err != nil {
		return nil, &DecodeError{RawBody: body, Cause: err}
	}
	items, err := objectList(obj, "accounts")
	if err != nil {
		return nil, &DecodeError{RawBody: body, Cause: err}
	}

	accounts := make([]Account, 0, len(items))
	for i, item := range items {
		acct, err := accountFromFields(item)
		if err != nil {
			return nil, &DecodeError{RawBody: body, Cause: fmt.Errorf("accounts[%d]: %w", i, err)}
		}
		accounts = append(accounts, acct)
	}

	c.logger.Debug("listed mercury accounts", "count", len(accounts))
	return accounts, nil
}

// GetAccount returns the full details of one account. A well-formed id that
// Mercury does not know yields an UpstreamError with status 404.
func (c *Client) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	id, err := validateID("account_id", accountID)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, "/account/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	obj, err := decodeObject(body)
	if err != nil {
		return nil, &DecodeError{RawBody: body, Cause: err}
	}
	acct, err := accountFromFields(obj)
	if err != nil {
		return nil, &DecodeError{RawBody: body, Cause: err}
	}

	c.logger.Debug("fetched mercury account", "account_id", acct.ID)
	return &acct, nil
}

// ListCards returns the cards attached to an account.
func (c *Client) ListCards(ctx context.Context, accountID string) ([]Card, error) {
	id, err := validateID("account_id", accountID)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, "/account/"+url.PathEscape(id)+"/cards", nil)
	if err != nil {
		return nil, err
	}

	obj, err := decodeObject(body)
	if err != nil {
		return nil, &DecodeError{RawBody: body, Cause: err}
	}
	items, err := objectList(obj, "cards")
	if err != nil {
		return nil, &DecodeError{RawBody: body, Cause: err}
	}

	cards := make([]Card, 0, len(items))
	for i, item := range items {
		card, err := cardFromFields(item)
		if err != nil {
			return nil, &DecodeError{RawBody: body, Cause: fmt.Errorf("cards[%d]: %w", i, err)}
		}
		cards = append(cards, card)
	}

	c.logger.Debug("listed mercury cards", "account_id", id, "count", len(cards))
	return cards, nil
}

// TransactionQuery selects a single page of transactions. Zero values take
// Mercury's defaults (limit 500, offset 0, newest first).
type TransactionQuery struct {
	Limit  int
	Offset int
	Order  string // "asc" or "desc"
}

func (q TransactionQuery) normalize() (TransactionQuery, error) {
	if q.Limit == 0 {
		q.Limit = DefaultTransactionLimit
	}
	if q.Limit < 0 || q.Limit > MaxTransactionLimit {
		return q, &InvalidArgumentError{
			Argument: "limit",
			Reason:   fmt.Sprintf("must be between 1 and %d", MaxTransactionLimit),
		}
	}
	if q.Offset < 0 {
		return q, &InvalidArgumentError{Argument: "offset", Reason: "must not be negative"}
	}
	switch q.Order {
	case "":
		q.Order = "desc"
	case "asc", "desc":
	default:
		return q, &InvalidArgumentError{Argument: "order", Reason: `must be "asc" or "desc"`}
	}
	return q, nil
}

// ListTransactions returns one page of an account's transactions. It never
// follows further pages.
func (c *Client) ListTransactions(ctx context.Context, accountID string, q TransactionQuery) (*TransactionPage, error) {
	id, err := validateID("account_id", accountID)
	if err != nil {
		return nil, err
	}
	q, err = q.normalize()
	if err != nil {
		return nil, err
	}

	query := url.Values{}
	query.Set("limit", strconv.Itoa(q.Limit))
	query.Set("offset", strconv.Itoa(q.Offset))
	query.Set("order", q.Order)

	body, err := c.get(ctx, "/account/"+url.PathEscape(id)+"/transactions", query)
	if err != nil {
		return nil, err
	}

	obj, err := decodeObject(body)
	if err != nil {
		return nil, &DecodeError{RawBody: body, Cause: err}
	}
	items, err := objectList(obj, "transactions")
	if err != nil {
		return nil, &DecodeError{RawBody: body, Cause: err}
	}

	page := &TransactionPage{Transactions: make([]Transaction, 0, len(items))}
	if total, ok := obj["total"]; ok && total != nil {
		n, err := parseAmount(total)
		if err != nil {
			return nil, &DecodeError{RawBody: body, Cause: fmt.Errorf("total: %w", err)}
		}
		page.Total = int(n.IntPart())
	}
	for i, item := range items {
		tx, err := transactionFromFields(item)
		if err != nil {
			return nil, &DecodeError{RawBody: body, Cause: fmt.Errorf("transactions[%d]: %w", i, err)}
		}
		page.Transactions = append(page.Transactions, tx)
	}

	c.logger.Debug("listed mercury transactions",
		"account_id", id,
		"count", len(page.Transactions),
		"total", page.Total,
	)
	return page, nil
}

// GetTransaction returns a single transaction of an account.
func (c *Client) GetTransaction(ctx context.Context, accountID, transactionID string) (*Transaction, error) {
	acctID, err := validateID("account_id", accountID)
	if err != nil {
		return nil, err
	}
	txID, err := validateID("transaction_id", transactionID)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, "/account/"+url.PathEscape(acctID)+"/transaction/"+url.PathEscape(txID), nil)
	if err != nil {
		return nil, err
	}

	obj, err := decodeObject(body)
	if err != nil {
		return nil, &DecodeError{RawBody: body, Cause: err}
	}
	tx, err := transactionFromFields(obj)
	if err != nil {
		return nil, &DecodeError{RawBody: body, Cause: err}
	}
	return &tx, nil
}

// validateID trims an identifier and rejects empty values.
func validateID(name, value string) (string, error) {
	id := strings.TrimSpace(value)
	if id == "" {
		return "", &InvalidArgumentError{Argument: name, Reason: "must not be empty"}
	}
	return id, nil
}

// get performs one authenticated GET and returns the raw body of a 2xx response.
func (c *Client) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		// Cancellation by the caller is not a transport failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBodySize+1))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &TransportError{Cause: fmt.Errorf("reading response body: %w", err)}
	}

	c.logger.Debug("mercury request",
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	if int64(len(body)) > MaxResponseBodySize {
		return nil, &DecodeError{
			RawBody: body[:maxErrorBodyLen],
			Cause:   errors.New("response body too large"),
		}
	}
	return body, nil
}
