// Package adminapi exposes a shard's admin HTTP surface (/healthz, /info,
// /metrics, /flush) and a small client for querying it remotely.
package adminapi
