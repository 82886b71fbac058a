// Package message is the message transport.
//
// Sending resolves the peer in the directory, ensures an outbound session
// key, records the message locally as sent, seals it with the session key and
// delivers it in one TCP exchange.
//
// Receiving is the TCP accept path: Service implements transport.Handler and
// handles session_key, secure_message and status_update packets. An inbound
// chat message is decrypted (failing closed), persisted as delivered,
// acknowledged to the sender with a delivered status update and handed to
// the dispatcher.
package message
