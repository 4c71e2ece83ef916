/*
Package storage provides the shared row store backing the scheduler core.

The Store interface covers six tables: jobs, health, worker_kv, claims,
restart_policy and calibration. The SQLite implementation runs in WAL mode so
that the parent process and every worker process can open their own connection
to the same file; the database is the only shared resource across the process
boundary.

# Atomicity

Status transitions are compare-and-swap updates: a guarded UPDATE whose WHERE
clause names the expected current state, with RowsAffected reporting whether
the swap applied. SQLite serializes writers, so exactly one of N concurrent
MarkJobRunning calls for the same job succeeds and the rest observe false.
This property is the correctness linchpin of the claim protocol.

# Connections

Each process opens its own Store via Open. Handles are never shared across a
spawn boundary; a worker inherits the database path, not the connection.
*/
package storage
