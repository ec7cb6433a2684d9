// Package api implements the HTTP transport for the Driftmail service:
// request execution with retry and error classification, the REST
// endpoints, and the server-sent event stream connection.
//
// All operations take the caller's context and pass it down to the
// network primitives unchanged; retries, backoff sleeps, and stream
// reads all observe it.
package api
