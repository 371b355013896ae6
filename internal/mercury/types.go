// ABOUTME: Open-schema models for Mercury accounts, cards, and transactions.
// ABOUTME: Known fields are extracted; every upstream field is preserved verbatim.

package mercury

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"

	"github.com/shopspring/decimal"
)

// DefaultCurrency is assumed when an account carries no currency field.
const DefaultCurrency = "USD"

// Balance is an account balance in a single currency.
type Balance struct {
	Amount   decimal.Decimal
	Currency string
}

// MarshalJSON renders the amount as a JSON number rather than decimal's default string.
func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Amount   json.Number `json:"amount"`
		Currency string      `json:"currency"`
	}{
		Amount:   json.Number(b.Amount.String()),
		Currency: b.Currency,
	})
}

// Account is a read-only snapshot of one Mercury bank account.
// Fields holds the complete upstream object, including fields this package
// does not know about.
type Account struct {
	ID      string
	Name    string
	Balance Balance
	Fields  map[string]any
}

// MarshalJSON emits every upstream field exactly as received. The id, name
// and derived balance are only added when the upstream object lacks them.
func (a Account) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(a.Fields)+3)
	maps.Copy(out, a.Fields)
	if _, ok := out["id"]; !ok {
		out["id"] = a.ID
	}
	if _, ok := out["name"]; !ok && a.Name != "" {
		out["name"] = a.Name
	}
	if _, ok := out["balance"]; !ok {
		out["balance"] = a.Balance
	}
	return json.Marshal(out)
}

// Card is a debit or credit card attached to an account.
type Card struct {
	ID     string
	Fields map[string]any
}

func (c Card) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Fields)
}

// Transaction is a single account transaction.
type Transaction struct {
	ID     string
	Amount decimal.Decimal
	Fields map[string]any
}

func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Fields)
}

// TransactionPage is one page of an account's transactions as Mercury returned it.
type TransactionPage struct {
	Total        int           `json:"total"`
	Transactions []Transaction `json:"transactions"`
}

// errMissingField is wrapped when a required field is absent or mistyped.
var errMissingField = errors.New("missing required field")

// decodeObject parses a JSON object keeping numbers as json.Number so
// amounts survive the round trip without float rounding.
func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, errors.New("expected JSON object, got null")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON object")
	}
	return obj, nil
}

// objectList extracts the array stored under key as a list of objects.
// A missing key is treated as an empty list.
func objectList(obj map[string]any, key string) ([]map[string]any, error) {
	raw, ok := obj[key]
	if !ok || raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("field %q: expected array, got %T", key, raw)
	}

	out := make([]map[string]any, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%s[%d]: expected object, got %T", key, i, item)
		}
		out = append(out, m)
	}
	return out, nil
}

func stringField(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

func requiredString(obj map[string]any, key string) (string, error) {
	s := stringField(obj, key)
	if s == "" {
		return "", fmt.Errorf("%w: %s", errMissingField, key)
	}
	return s, nil
}

// parseAmount accepts JSON numbers and numeric strings. Absent amounts are zero.
func parseAmount(v any) (decimal.Decimal, error) {
	switch n := v.(type) {
	case nil:
		return decimal.Zero, nil
	case json.Number:
		return decimal.NewFromString(n.String())
	case string:
		return decimal.NewFromString(n)
	case float64:
		return decimal.NewFromFloat(n), nil
	default:
		return decimal.Zero, fmt.Errorf("unexpected amount type %T", v)
	}
}

func accountFromFields(fields map[string]any) (Account, error) {
	id, err := requiredString(fields, "id")
	if err != nil {
		return Account{}, err
	}

	bal, err := balanceFromFields(fields)
	if err != nil {
		return Account{}, fmt.Errorf("account %s: %w", id, err)
	}

	return Account{
		ID:      id,
		Name:    stringField(fields, "name"),
		Balance: bal,
		Fields:  fields,
	}, nil
}

// balanceFromFields prefers an explicit balance object and falls back to
// Mercury's currentBalance number.
func balanceFromFields(fields map[string]any) (Balance, error) {
	if b, ok := fields["balance"].(map[string]any); ok {
		amount, err := parseAmount(b["amount"])
		if err != nil {
			return Balance{}, fmt.Errorf("balance.amount: %w", err)
		}
		currency := stringField(b, "currency")
		if currency == "" {
			currency = DefaultCurrency
		}
		return Balance{Amount: amount, Currency: currency}, nil
	}

	amount, err := parseAmount(fields["currentBalance"])
	if err != nil {
		return Balance{}, fmt.Errorf("currentBalance: %w", err)
	}
	currency := stringField(fields, "currency")
	if currency == "" {
		currency = DefaultCurrency
	}
	return Balance{Amount: amount, Currency: currency}, nil
}

func cardFromFields(fields map[string]any) (Card, error) {
	id, err := requiredString(fields, "cardId")
	if err != nil {
		return Card{}, err
	}
	return Card{ID: id, Fields: fields}, nil
}

func transactionFromFields(fields map[string]any) (Transaction, error) {
	id, err := requiredString(fields, "id")
	if err != nil {
		return Transaction{}, err
	}
	amount, err := parseAmount(fields["amount"])
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction %s: amount: %w", id, err)
	}
	return Transaction{ID: id, Amount: amount, Fields: fields}, nil
}
