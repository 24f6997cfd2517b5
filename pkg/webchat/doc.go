// Package webchat exposes the dialog service over HTTP and websockets.
//
// Routes:
//   - POST /ask answers one question; GET /ask only explains usage.
//   - GET /ask/ws streams answers as cumulative "partial" frames followed by a "final" frame.
//   - /clear_history, /delete_dialog, /show_dialog and /show_history manage sessions.
//   - GET / reports the backend model.
//
// Sessions are addressed by the uuid the service returns; a request without a
// known uuid starts a new session.
package webchat
