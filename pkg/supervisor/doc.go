/*
Package supervisor manages the fleet of worker processes.

	┌────────────────────── PARENT PROCESS ──────────────────────┐
	│                                                             │
	│  Supervisor ──spawn──▶ worker:tag:0  (own OS process)       │
	│      │       ──spawn──▶ worker:tag:1                        │
	│      │                                                      │
	│      ├── monitor tick: stale heartbeat ∨ dead PID → policy  │
	│      ├── restart policy: backoff ladder, rapid lockout      │
	│      ├── app heartbeat for component "app"                  │
	│      └── maintenance: retention cleanup, claim sweep        │
	│                                                             │
	└───────────────── IPC: database rows + OS signals ───────────┘

Workers are opaque OS processes; the supervisor communicates only through
the database (control flags, health rows) and signals. Restart counts cross
the spawn boundary in the child environment. A component that accumulates
the rapid-restart threshold within the window is marked failed and stays
down until ResetRestartCount.
*/
package supervisor
