/*
Package health provides liveness checks over the health table.

Two signals exist: heartbeat recency (written by the component itself) and
OS-level process existence (observed via gopsutil). The supervisor requires
both; either one failing marks the component dead and triggers the restart
policy. Advisory claims borrow the heartbeat check for their validity rule.
*/
package health
