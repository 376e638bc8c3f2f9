// Package webchat serves the browser chat frontend.
//
// GET / returns an embedded single-page client and GET /ws upgrades to a
// websocket. Each socket is one orchestrator.Session with its own id. The
// session's thread is bootstrapped as soon as the socket opens; user messages
// are queued and handled one turn at a time.
//
// # Frames
//
// Client to server:
//
//	{"type": "user_message", "content": "hello"}
//
// Server to client:
//
//	{"type": "message", "id": "...", "author": "agent", "content": "thinking...", "html": "<p>thinking...</p>"}
//	{"type": "update",  "id": "...", "author": "agent", "content": "Hi!", "html": "<p>Hi!</p>"}
//
// An update always carries the id of an earlier message frame.
package webchat
