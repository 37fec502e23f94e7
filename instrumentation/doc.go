// Package instrumentation provides OpenTelemetry (OTEL) instrumentation for the
// oauth2-grants library.
//
// # Quick Start
//
//	reader := sdkmetric.NewPeriodicReader(exporter)
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:    "my-auth-server",
//		ServiceVersion: "1.0.0",
//		Enabled:        true,
//		MetricReader:   reader,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	srv.SetInstrumentation(inst)
//	store.SetInstrumentation(inst)
//
// Without a MetricReader or SpanProcessor the corresponding provider is a no-op,
// so instrumentation can always be wired in and costs nothing until exported.
//
// # Available Metrics
//
// HTTP Layer:
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{endpoint}
//
// Grants:
//   - oauth.token.issued{grant_type, client_id, refresh_token}
//   - oauth.grant.failures{grant_type, error}
//   - oauth.authorization.issued{client_id, response_type}
//   - oauth.code.exchanged{client_id, pkce_method}
//   - oauth.token.refreshed{client_id, rotation}
//   - oauth.token.revoked{client_id}
//
// Security:
//   - oauth.rate_limit.exceeded{limiter_type}
//   - oauth.pkce.validation_failed{method}
//   - oauth.code.reuse_detected
//   - oauth.token.reuse_detected
//   - oauth.audit.events.total{event_type}
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.access_tokens.count, storage.refresh_tokens.count,
//     storage.codes.count, storage.sessions.count
//
// Credential values are never recorded as attributes.
package instrumentation
