// Package api provides the JSON REST API server for Converso.
//
// # Architecture
//
// The API server uses Go 1.22+ routing with a layered middleware stack:
//
//	Recovery → RequestID → Logging → CORS → RateLimit → Routes
//
// Health probes (/health, /ready) bypass the middleware stack via a
// top-level mux, ensuring they remain fast and unauthenticated.
//
// # Endpoints
//
// Health probes (no middleware):
//   - GET /health - liveness, returns {"status":"ok"}
//   - GET /ready  - readiness, pings the database pool
//
// Session lifecycle:
//   - GET    /api/v1/sessions               - list sessions, MRU first
//   - POST   /api/v1/sessions               - create session
//   - GET    /api/v1/sessions/{id}          - get session by ID
//   - PATCH  /api/v1/sessions/{id}          - rename session
//   - DELETE /api/v1/sessions/{id}          - delete session and messages
//   - GET    /api/v1/sessions/{id}/messages - paginated messages
//   - GET    /api/v1/sessions/{id}/export   - export as JSON or Markdown
//   - POST   /api/v1/sessions/{id}/title    - synthesize and persist title
//
// Chat:
//   - POST /api/v1/chat        - synchronous chat
//   - POST /api/v1/chat/stream - SSE endpoint for streaming responses
//
// # Error Handling
//
// Errors use an envelope format:
//
//	{"error": {"code": "...", "message": "..."}}
//
// Streaming errors are sent as SSE events (event: error), not HTTP error
// responses, since SSE headers are already committed.
//
// # SSE Streaming
//
// Chat responses stream via Server-Sent Events with typed events:
//
//   - chunk: incremental text content
//   - done:  final response with session metadata
//   - error: terminal failure; the stream closes with no done event
//
// # Security
//
// The middleware stack enforces:
//   - Per-IP rate limiting (token bucket, 60 req/min burst)
//   - CORS with explicit origin allowlist
package api
