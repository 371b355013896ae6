// Package mercury is a read-only client for the Mercury banking REST API.
//
// # Overview
//
// Every operation issues exactly one authenticated GET request:
//
//	GET /accounts                                   ListAccounts
//	GET /account/{id}                               GetAccount
//	GET /account/{id}/cards                         ListCards
//	GET /account/{id}/transactions?limit&offset     ListTransactions
//	GET /account/{id}/transaction/{txID}            GetTransaction
//
// Requests carry the static API key as a bearer token:
//
//	Authorization: Bearer <MERCURY_API_KEY>
//
// There are no retries, no caching and no automatic pagination.
//
// # Open Schema
//
// Mercury owns the response schema and may add fields at any time. Models keep
// the complete upstream object in a Fields map and only extract what the
// adapter needs (account id, name and balance; card id; transaction id and
// amount). Numbers are decoded as json.Number and amounts as decimal.Decimal,
// so values round-trip without float rounding.
//
// # Errors
//
//   - *InvalidArgumentError: empty identifiers or out-of-range query values,
//     returned before any network call
//   - *TransportError: DNS, connect, reset and client timeout failures
//   - *UpstreamError: any non-2xx status, with the response body
//   - *DecodeError: malformed JSON or a missing required field
//
// Cancelling the request context aborts the call and returns the context
// error itself, so errors.Is(err, context.Canceled) holds.
package mercury
