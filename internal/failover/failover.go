// Package failover implements the per-operation failover executor of spec
// §4.8: walk the client manager's ordered client list, retrying on any
// failoverable error, reporting outcomes back into the manager's backoff
// state, and triggering replica rediscovery when every client has failed.
package failover

import (
	"context"
	"errors"
	"fmt"
	"net"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/remoteconf/provider/internal/clientmanager"
	"github.com/remoteconf/provider/internal/telemetry"
)

// HTTPStatusError carries the status code of a failed store request, used
// by IsFailoverable to decide whether the next client should be tried.
type HTTPStatusError struct {
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("store request failed with status %d", e.StatusCode)
}

// IsFailoverable reports whether err should cause the executor to try the
// next client rather than give up immediately (spec §4.8): network errors,
// and HTTP 401, 403, 408, 429 or any 5xx.
func IsFailoverable(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var statusErr *HTTPStatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case 401, 403, 408, 429:
			return true
		}
		return statusErr.StatusCode >= 500
	}
	return false
}

// AllClientsFailedError is returned when every client in the manager's
// order failed the operation.
type AllClientsFailedError struct {
	Last error
}

func (e *AllClientsFailedError) Error() string {
	return fmt.Sprintf("all configuration clients failed: %v", e.Last)
}

func (e *AllClientsFailedError) Unwrap() error { return e.Last }

// Discover looks up the current replica set, used to refresh the client
// manager after a total outage.
type Discover[T any] func(ctx context.Context) (map[string]T, error)

// Executor drives operations across a client manager's failover order.
type Executor[T any] struct {
	Manager  *clientmanager.Manager[T]
	Tracer   trace.Tracer
	Discover Discover[T]
	Metrics  *telemetry.Metrics // optional
}

// Execute runs op against each client in the manager's failover order
// until one succeeds, reporting the outcome of each attempt back into the
// manager. A non-failoverable error stops the walk immediately. If every
// client fails, Execute triggers replica rediscovery (when Discover is
// set) and returns an *AllClientsFailedError wrapping the last error.
//
// Execute is a package-level function, not a method, because Go methods
// cannot introduce type parameters beyond their receiver's — R varies per
// call site (a settings page, a secret value, ...) while T is fixed to the
// manager's client type.
func Execute[T any, R any](ctx context.Context, ex *Executor[T], op func(ctx context.Context, client T) (R, error)) (R, error) {
	var zero R
	var lastErr error

	for _, record := range ex.Manager.Clients() {
		attemptCtx := ctx
		var span trace.Span
		if ex.Tracer != nil {
			attemptCtx, span = ex.Tracer.Start(ctx, "configuration.client.attempt")
			span.SetAttributes(
				attribute.String("configuration.client.endpoint", record.Endpoint),
				attribute.Bool("configuration.client.is_primary", record.IsPrimary),
				attribute.Bool("configuration.client.is_failover_request", !record.IsPrimary),
			)
		}

		result, err := op(attemptCtx, record.Client)
		if span != nil {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}

		if err == nil {
			ex.Manager.ReportSuccess(record.Endpoint)
			if !record.IsPrimary && ex.Metrics != nil {
				ex.Metrics.ObserveFailover(record.Endpoint)
			}
			return result, nil
		}

		ex.Manager.ReportFailure(record.Endpoint)
		lastErr = err
		if !IsFailoverable(err) {
			return zero, err
		}
	}

	if ex.Discover != nil && ex.Manager.AllBackingOff() {
		if discovered, derr := ex.Discover(ctx); derr == nil {
			ex.Manager.Refresh(discovered)
		}
	}

	return zero, &AllClientsFailedError{Last: lastErr}
}
