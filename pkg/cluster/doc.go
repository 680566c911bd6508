// Package cluster describes the static shape of a lockstep cluster.
//
// This package handles:
//   - The node table and each node's role (primary or secondary)
//   - Operation modes (disabled, standalone, editor, cluster)
//   - Loading and validating the YAML cluster file
//   - The active participant set, which shrinks when failover drops a node
package cluster
