// Package ws streams bus events to WebSocket clients.
//
// The server is itself a bus subscriber: every event delivered to it is
// wrapped in a data envelope and fanned out to the connected clients whose
// subscription set contains the event's channel. Each client owns a growable
// send queue drained by a dedicated writer goroutine, so one slow client
// never blocks the broadcast path; a client whose queue fills or whose
// connection drops is removed immediately.
package ws
