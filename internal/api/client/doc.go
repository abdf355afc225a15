// Package client is the single seam for talking to the Meridian platform API.
//
// # Overview
//
// Every remote call in the daemon goes through Sender.SendRequest. The
// production Client wraps resty with a retryable transport, a per-client
// rate limiter, and a circuit breaker. Non-2xx statuses come back as
// Response values so callers can inspect deferred (202) and not-found
// responses; only transport failures surface as Go errors.
//
// # Error bodies
//
// ErrorFromResponse converts a non-2xx Response into an *APIError carrying
// the platform's error code, message, and optional learn-more link. Gateways
// occasionally answer with HTML instead of the JSON envelope; ReadableText
// reduces those bodies to something fit for a log line or an error message.
//
// # Usage
//
//	c := client.New("https://api.meridian.dev/v1",
//		client.WithTokenSource(tokens),
//		client.WithLogger(log),
//	)
//	resp, err := c.SendRequest(ctx, client.Request{Method: "GET", Path: "/workspaces"})
//	if err != nil {
//		return err // transport failure
//	}
//	if !resp.IsSuccess() {
//		return client.ErrorFromResponse(resp)
//	}
package client
