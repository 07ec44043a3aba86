// Package agent contains the Hive, the orchestrator that owns the root
// agent. It provisions assistants on the hosted backend, places them in the
// agent directory and runs a human chat turn against the root agent.
package agent
