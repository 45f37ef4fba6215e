// Package storage provides invocation record storage implementations.
//
// Implementations:
//   - redis: Redis with a JSON or msgpack codec and a TTL
//   - memory: in-process map
package storage
