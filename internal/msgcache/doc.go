// Package msgcache is the per-conversation, time-bounded local store of
// message history used for instant restore when a conversation is opened.
//
// # Freshness
//
// An entry written at time t is returned by Read for queries strictly before
// t + TTL and treated as absent from then on. Stale entries are not purged;
// the next Write overwrites them.
//
// # Backends
//
// Cache delegates persistence to a Store:
//
//   - MemoryStore: size-bounded in-process map, evicting the least recently written key
//   - SQLiteStore: durable file that survives a restart (drivers "sqlite" or "sqlite3")
//
// A nil Store disables caching. The cache is an optimization only; every
// store error is logged and treated as a miss.
package msgcache
