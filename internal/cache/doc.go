// Package cache stores synthesized PCM so that repeating a request replays
// locally instead of calling the synthesis API again. It has an in-memory LRU
// tier (L1) and a zstd-compressed disk tier (L2) with TTL cleanup.
package cache
