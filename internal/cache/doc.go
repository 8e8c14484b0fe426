// Package cache provides a session-scoped cache for synthesized audio.
// Entries live in memory only, zstd-compressed, with LRU eviction; nothing is
// persisted across sessions.
package cache
