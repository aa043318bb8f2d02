// Package session owns per-connection handshake state for the producer.
//
// Ownership boundary:
// - connection framing state and discrediting
// - hash verification and self-key assignment (Gate.Admit)
// - identification and consumer-error policies
// - transport security config and dial backoff
package session
