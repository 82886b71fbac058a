// Package transport moves packets between nodes.
//
// Two socket flavours are used:
//
//   - UDP datagrams for presence. DatagramSender writes to a broadcast (or
//     any) address; DatagramListener reads datagrams up to MaxDatagramBytes.
//   - One-shot TCP connections for everything else. Dialer.Exchange opens a
//     connection, writes one JSON packet, reads the textual ack and closes.
//     Server accepts connections, one goroutine each, decodes one packet and
//     answers "OK" or "ERR <reason>".
//
// All long-running loops stop when their context is cancelled: the
// underlying socket is closed and the loop returns nil.
package transport
