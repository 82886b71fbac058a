// Package app wires application dependencies for the CLI.
//
// Load builds a Config from defaults, a YAML file, PEERCHAT_* environment
// variables and flags. New opens the credential store; Login verifies a user
// and returns a Wire holding the full node graph (stores, services, node)
// for the run command.
package app
