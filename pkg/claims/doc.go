// Package claims implements advisory leases used by discovery-style workers
// to prevent duplicate work on a resource. A claim is valid only while its
// lease window is open and the owning worker's heartbeat is recent.
package claims
