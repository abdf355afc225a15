// Package lro completes deferred remote operations.
//
// The platform answers long-running mutations with 202 Accepted plus
// Location, Operation-Id, and Retry-After headers. Poller.Await drives the
// protocol: poll the location until the operation body reports a terminal
// status, then fetch {location}/result and hand that back verbatim. Callers
// judge success by the final response itself, never by the polling status.
//
// The poller carries no timeout and no transport retry policy of its own;
// cancel the context to bound it.
package lro
