// Package mirror implements the UDP fan-out relay.
//
// A Relay binds one UDP socket on 0.0.0.0:<port> and forwards every datagram
// it receives, byte for byte, to each endpoint of a fixed destination Table.
// The same socket is used for receiving and for sending.
//
// # Lifecycle
//
//  1. ParseTable builds the destination table from host:port tokens
//  2. New validates the Config and allocates the datagram buffer
//  3. Bind creates and binds the receiver socket
//  4. Run receives and fans out until the context is cancelled, Close is
//     called, or the socket fails
//
// A send failure to one destination is logged and counted but never stops
// delivery to the remaining destinations or the next receive. A receive
// failure ends Run, except for ICMP-induced connection errors which the
// kernel reports on the shared socket after an earlier send.
//
// # Thread Safety
//
// Run must be called from a single goroutine. State, Stats, LocalAddr and
// Close are safe for concurrent use.
package mirror
