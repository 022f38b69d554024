// Package common provides the data structures shared across the client:
// the wire protocol Message with its factory functions, client configuration
// with endpoint parsing, the error taxonomy, and logging utilities.
//
// The package focuses on:
//   - The Message protocol: a single structure used for both requests and
//     responses, with the Method enum identifying the operation
//   - Client configuration: plain structs with sensible defaults and
//     endpoint strings of the form scheme://host[:port][?retry=...&timeout=...]
//   - A typed error system (Error with ErrCode) that lets callers distinguish
//     validation failures, timeouts, connection loss, server errors and
//     local write failures without parsing messages
package common
