// Package transport builds HTTP requests for catalog endpoints and provides
// pooled connection handles.
//
// Each [Conn] owns a private [http.Transport] limited to a single connection
// to the target, so a pool of N handles bounds the run to N open sockets and
// discarding a handle really drops its connection.
//
//	builder, err := transport.NewRequestBuilder(cfg.Target, endpoint)
//	req, err := builder.Build(ctx, body)
//	resp, err := conn.Do(req)
package transport
