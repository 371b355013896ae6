// ABOUTME: Binds the Mercury client to the MCP server as resources and tools.
// ABOUTME: Validates tool arguments and maps Mercury errors onto MCP failures.

package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/mercury-mcp/internal/mcp"
	"github.com/2389/mercury-mcp/internal/mercury"
)

// Resource URIs
const (
	AccountsURI        = "mercury://accounts"
	AccountTemplateURI = "mercury://accounts/{account_id}"
)

const jsonMIMEType = "application/json"

// Client is the subset of the Mercury client the adapter needs.
type Client interface {
	ListAccounts(ctx context.Context) ([]mercury.Account, error)
	GetAccount(ctx context.Context, accountID string) (*mercury.Account, error)
	ListCards(ctx context.Context, accountID string) ([]mercury.Card, error)
	ListTransactions(ctx context.Context, accountID string, q mercury.TransactionQuery) (*mercury.TransactionPage, error)
	GetTransaction(ctx context.Context, accountID, transactionID string) (*mercury.Transaction, error)
}

// Adapter exposes Mercury operations as MCP handlers.
type Adapter struct {
	client Client
	logger *slog.Logger
}

// New creates an adapter over the given client.
func New(client Client, logger *slog.Logger) (*Adapter, error) {
	if client == nil {
		return nil, errors.New("mercury client is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{client: client, logger: logger}, nil
}

// Register adds every Mercury resource and tool to srv.
func (a *Adapter) Register(srv *mcp.Server) error {
	if err := srv.AddResource(mcp.Resource{
		URI:         AccountsURI,
		Name:        "Mercury accounts",
		Description: "All Mercury bank accounts with id, name and balance",
		MIMEType:    jsonMIMEType,
		Read:        a.readAccounts,
	}); err != nil {
		return fmt.Errorf("registering %s: %w", AccountsURI, err)
	}

	if err := srv.AddResourceTemplate(mcp.ResourceTemplate{
		URITemplate: AccountTemplateURI,
		Name:        "Mercury account",
		Description: "Details of a single Mercury bank account",
		MIMEType:    jsonMIMEType,
		Read:        a.readAccount,
	}); err != nil {
		return fmt.Errorf("registering %s: %w", AccountTemplateURI, err)
	}

	for _, tool := range a.tools() {
		if err := srv.AddTool(tool); err != nil {
			return fmt.Errorf("registering tool: %w", err)
		}
	}
	return nil
}

func (a *Adapter) tools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "list_accounts",
			Description: "List all Mercury bank accounts",
			InputSchema: json.RawMessage(`{"type":"object","properties":{}}`),
			Handler:     a.listAccounts,
		},
		{
			Name:        "get_account_details",
			Description: "Get the full details of a single Mercury bank account",
			InputSchema: json.RawMessage(accountIDSchema),
			Handler:     a.getAccountDetails,
		},
		{
			Name:        "get_account_cards",
			Description: "List the cards attached to a Mercury bank account",
			InputSchema: json.RawMessage(accountIDSchema),
			Handler:     a.getAccountCards,
		},
		{
			Name:        "list_account_transactions",
			Description: "List one page of transactions for a Mercury bank account",
			InputSchema: json.RawMessage(transactionsSchema),
			Handler:     a.listAccountTransactions,
		},
		{
			Name:        "get_transaction",
			Description: "Get a single transaction of a Mercury bank account",
			InputSchema: json.RawMessage(transactionSchema),
			Handler:     a.getTransaction,
		},
	}
}

const accountIDSchema = `{
  "type": "object",
  "properties": {
    "account_id": {"type": "string", "description": "Mercury account id"}
  },
  "required": ["account_id"]
}`

const transactionsSchema = `{
  "type": "object",
  "properties": {
    "account_id": {"type": "string", "description": "Mercury account id"},
    "limit": {"type": "integer", "minimum": 1, "maximum": 500, "default": 500},
    "offset": {"type": "integer", "minimum": 0, "default": 0},
    "order": {"type": "string", "enum": ["asc", "desc"], "default": "desc"}
  },
  "required": ["account_id"]
}`

const transactionSchema = `{
  "type": "object",
  "properties": {
    "account_id": {"type": "string", "description": "Mercury account id"},
    "transaction_id": {"type": "string", "description": "Mercury transaction id"}
  },
  "required": ["account_id", "transaction_id"]
}`

// Resources

func (a *Adapter) readAccounts(ctx context.Context, req mcp.ReadRequest) ([]mcp.MCPResourceContents, error) {
	start := time.Now()
	accounts, err := a.client.ListAccounts(ctx)
	if err != nil {
		return nil, resourceError(err)
	}

	a.logger.Info("read accounts resource", "count", len(accounts), "duration", time.Since(start))
	return jsonContents(req.URI, accounts)
}

func (a *Adapter) readAccount(ctx context.Context, req mcp.ReadRequest) ([]mcp.MCPResourceContents, error) {
	acct, err := a.client.GetAccount(ctx, req.Params["account_id"])
	if err != nil {
		return nil, resourceError(err)
	}
	return jsonContents(req.URI, acct)
}

func jsonContents(uri string, v any) ([]mcp.MCPResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding resource: %w", err)
	}
	return []mcp.MCPResourceContents{{URI: uri, MIMEType: jsonMIMEType, Text: string(data)}}, nil
}

// Tools

type accountArgs struct {
	AccountID string `json:"account_id"`
}

type transactionsArgs struct {
	AccountID string `json:"account_id"`
	Limit     int    `json:"limit"`
	Offset    int    `json:"offset"`
	Order     string `json:"order"`
}

type transactionArgs struct {
	AccountID     string `json:"account_id"`
	TransactionID string `json:"transaction_id"`
}

func (a *Adapter) listAccounts(ctx context.Context, _ json.RawMessage) (*mcp.MCPCallToolResult, error) {
	accounts, err := a.client.ListAccounts(ctx)
	if err != nil {
		return nil, toolError(err)
	}
	a.logger.Info("listed accounts", "count", len(accounts))
	return mcp.JSONResult(map[string]any{"accounts": accounts})
}

func (a *Adapter) getAccountDetails(ctx context.Context, raw json.RawMessage) (*mcp.MCPCallToolResult, error) {
	var args accountArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	acct, err := a.client.GetAccount(ctx, args.AccountID)
	if err != nil {
		return nil, toolError(err)
	}
	a.logger.Info("fetched account details", "account_id", acct.ID)
	return mcp.JSONResult(acct)
}

func (a *Adapter) getAccountCards(ctx context.Context, raw json.RawMessage) (*mcp.MCPCallToolResult, error) {
	var args accountArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	cards, err := a.client.ListCards(ctx, args.AccountID)
	if err != nil {
		return nil, toolError(err)
	}
	a.logger.Info("listed account cards", "account_id", args.AccountID, "count", len(cards))
	if len(cards) == 0 {
		return mcp.TextResult("No cards found for this account."), nil
	}
	return mcp.JSONResult(map[string]any{"cards": cards})
}

func (a *Adapter) listAccountTransactions(ctx context.Context, raw json.RawMessage) (*mcp.MCPCallToolResult, error) {
	var args transactionsArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	page, err := a.client.ListTransactions(ctx, args.AccountID, mercury.TransactionQuery{
		Limit:  args.Limit,
		Offset: args.Offset,
		Order:  args.Order,
	})
	if err != nil {
		return nil, toolError(err)
	}
	a.logger.Info("listed account transactions",
		"account_id", args.AccountID,
		"count", len(page.Transactions),
		"total", page.Total,
	)
	if len(page.Transactions) == 0 {
		return mcp.TextResult("No transactions found for this account."), nil
	}
	return mcp.JSONResult(page)
}

func (a *Adapter) getTransaction(ctx context.Context, raw json.RawMessage) (*mcp.MCPCallToolResult, error) {
	var args transactionArgs
	if err := decodeArgs(raw, &args); err != nil {
		return nil, err
	}

	tx, err := a.client.GetTransaction(ctx, args.AccountID, args.TransactionID)
	if err != nil {
		return nil, toolError(err)
	}
	return mcp.JSONResult(tx)
}

// decodeArgs unmarshals tool arguments; unknown fields are ignored.
func decodeArgs(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return mcp.InvalidParams("validation error: malformed arguments", err)
	}
	return nil
}

// Error mapping

// errorData describes a Mercury failure for JSON-RPC error data.
func errorData(err error) map[string]any {
	var (
		argErr *mercury.InvalidArgumentError
		upErr  *mercury.UpstreamError
		trErr  *mercury.TransportError
		decErr *mercury.DecodeError
	)
	switch {
	case errors.As(err, &argErr):
		return map[string]any{"kind": "invalid_argument", "argument": argErr.Argument}
	case errors.As(err, &upErr):
		return map[string]any{"kind": "upstream", "status": upErr.StatusCode, "body": upErr.Body}
	case errors.As(err, &trErr):
		return map[string]any{"kind": "transport"}
	case errors.As(err, &decErr):
		return map[string]any{"kind": "decode"}
	default:
		return nil
	}
}

// validationError turns local argument failures into JSON-RPC invalid params.
func validationError(err error) (*mcp.Error, bool) {
	var argErr *mercury.InvalidArgumentError
	if !errors.As(err, &argErr) {
		return nil, false
	}
	return &mcp.Error{
		Code:    mcp.JSONRPCInvalidParams,
		Message: "validation error: " + argErr.Error(),
		Data:    errorData(err),
		Err:     err,
	}, true
}

// toolError keeps execution failures as plain errors so the server reports
// them as isError results; validation failures fail the call itself.
func toolError(err error) error {
	if vErr, ok := validationError(err); ok {
		return vErr
	}
	return err
}

// resourceError fails the resources/read call, carrying upstream status and
// body in the error data. Context errors pass through untouched.
func resourceError(err error) error {
	if vErr, ok := validationError(err); ok {
		return vErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &mcp.Error{
		Code:    mcp.JSONRPCInternalError,
		Message: err.Error(),
		Data:    errorData(err),
		Err:     err,
	}
}
