// Package transport owns the wearable<->companion message link.
//
// Ownership boundary:
// - message envelope and wire codec
// - delivery mode selection (immediate when reachable, queued otherwise)
// - coalescing outbox for queued delivery
// - channel implementations (in-memory loopback, framed TCP)
//
// Delivery is fire-and-forget and at-most-once. There are no application
// acks; live metrics are latest-wins and control commands rely on queued
// delivery as a best effort.
package transport
