// Package dispatch executes single requests against the target and turns
// whatever happens into exactly one classified [metrics.Outcome].
//
// A dispatch picks an endpoint from the catalog, generates its payload,
// checks a connection handle out of the pool under the request timeout,
// sends the request, reads and checks the response body, returns or
// discards the handle and records the outcome. Failures never surface as Go
// errors; they become one of the outcome classes:
//
//   - timeout: the request or body read exceeded the timeout
//   - connection_error: no handle could be obtained or the transport failed
//   - protocol_error: the response body was unreadable or not valid JSON
//   - http_error_<code>: a non-2xx status
//   - application_error: a success_flag body without "success": true
package dispatch
