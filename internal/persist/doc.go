// Package persist runs the periodic persistence pipeline: a ticker,
// decoupled from the commit/rollback hot path, that sweeps dirty slots
// out to the backend on its own schedule. The actual sweep logic
// (including the lock-loss check) lives in lifecycle.Manager.SaveAll;
// this package only owns the scheduling loop.
package persist
