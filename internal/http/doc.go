// Package http provides HTTP handlers and middleware for the assistant
// calendar API.
//
// The router exposes the following endpoints:
//   - POST /login: issues an access token. Body: {"email","password"}. Response:
//     {"token","expires_at","user"} with the token also surfaced via the
//     `X-Session-Token` header and a `session_token` cookie.
//   - POST /logout: revokes the token extracted from the Authorization header or
//     session cookie. Returns 204 No Content and clears the cookie.
//   - POST /password-reset/request, POST /password-reset/confirm: password reset
//     by a short lived code delivered through the notifier.
//   - POST /meetings: the scheduling endpoint exchanging `scheduleMeetingRequest`
//     and `scheduleMeetingResponse` defined in meeting_handler.go. Conflicts and
//     validation failures are reported with 400.
//   - GET /meetings/{id}, POST /meetings/{id}/cancel, PUT /meetings/{id}/time,
//     POST /meetings/{id}/start, POST /meetings/{id}/complete,
//     POST /meetings/{id}/respond: meeting lifecycle endpoints.
//   - GET|POST /meetings/available-slots: common free slots for participants on
//     a day.
//   - GET /users/{id}/schedule?days=N: the upcoming meetings of a user.
//   - GET /users, POST /users: administrator controlled account provisioning.
//   - GET /healthz, GET /metrics: liveness and Prometheus exposition.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
