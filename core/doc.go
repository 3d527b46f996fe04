// Package core holds the pieces every actor of the simulated network shares:
// unbounded mailboxes, control commands and events, packets, the actor loop
// and the implementation registry.
//
// Data mailboxes carry packets between neighbors. Each actor additionally
// owns one control pair with the supervisor: commands flow in, events flow
// out. Nothing in this package knows about a concrete relay or endpoint.
package core
