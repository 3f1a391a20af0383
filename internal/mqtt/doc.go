// Package mqtt publishes a single message to an MQTT broker and waits
// for it to be confirmed.
//
// A [Session] wraps one broker connection. Opening a session starts an
// I/O driver goroutine and returns immediately; the driver performs the
// handshake, drains the outbound queue and reports everything that
// happens on the connection as a stream of [SessionEvent] values. The
// dialed connection is wrapped by a frame observer, so the stream
// includes one [EventOutgoing] for every MQTT control packet fully
// written to the transport.
//
// The [Publisher] drives the session through
// Connecting → Publishing → Confirmed → Terminated. In "sent" mode it
// stops at the first outgoing PUBLISH frame, which proves the message
// left the process but not that the broker stored it. In "acked" mode
// it waits for the PUBACK that completes the QoS 1 exchange. Any
// session error ends the run; nothing is retried.
//
// Two client libraries back the sessions: Eclipse Paho
// (paho.mqtt.golang) for MQTT 3.1.1 and Eclipse Paho v2 (paho.golang)
// for MQTT 5.
package mqtt
