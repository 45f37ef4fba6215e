// Package events provides event bus implementations.
//
// Implementations:
//   - redis: Redis Streams, broadcast or consumer-group delivery
//   - memory: in-process, ordered per subscription
package events
