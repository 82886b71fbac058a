// Package directory implements the peer directory: the set of remote nodes
// heard from within the staleness window.
//
// Records are keyed by node id and upserted by every announcement. Stale
// records are pruned lazily by ListActive and Resolve; there is no sweeper
// goroutine.
package directory
