// Package commands defines the peerchat CLI and wires dependencies for subcommands.
//
// Commands
//
//   - register      Create a local user
//   - run           Log in, join the LAN and chat interactively
//   - fingerprint   Print the fingerprints of stored node keys
//   - history       Show the conversation with a peer
//   - read          Mark a conversation as read
//
// # Implementation
//
// The root command loads the configuration and builds the logger and the
// shared app context before any subcommand runs. Only run builds the full
// node graph, after the credentials were verified.
package commands
