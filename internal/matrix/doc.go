// Package matrix serves the relay in Matrix rooms.
//
// Each room the bot sits in is one orchestrator session, created when the
// first message arrives. The bot joins rooms it is invited to. A turn posts a
// "thinking..." m.text event and then replaces it with an m.replace edit
// carrying the reply. Replies with markdown get an HTML formatted_body.
package matrix
