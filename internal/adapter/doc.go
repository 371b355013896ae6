// Package adapter binds a Mercury client to an MCP server.
//
// Resources:
//   - mercury://accounts lists every account
//   - mercury://accounts/{account_id} reads one account
//
// Tools: list_accounts, get_account_details, get_account_cards,
// list_account_transactions and get_transaction.
//
// Argument validation failures fail the JSON-RPC call with invalid params
// before any request reaches Mercury. Upstream, transport and decode failures
// become isError tool results, or JSON-RPC errors carrying the status and
// body for resource reads.
package adapter
