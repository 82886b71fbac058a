// Package presence announces this node on the LAN and feeds announcements
// from other nodes into the peer directory.
package presence
