// Package rudt implements a lightweight reliable-datagram transport over
// UDP: per-peer multiplexing on a single socket, at-least-once delivery
// with acknowledgement and duplicate suppression, keep-alive liveness
// tracking with an RTT estimator, and a connection-oriented API (connect,
// send, receive, disconnect).
//
// Congestion control, payload fragmentation across datagrams, encryption,
// and ordering across distinct reliable messages are explicitly out of
// scope; only duplicate suppression and per-message acknowledgement are
// guaranteed.
package rudt
