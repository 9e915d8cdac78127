// Package tgs implements the client-side TGS-exchange orchestration engine:
// turning an initial ticket-granting ticket into a service ticket for a
// named service principal.
//
// It handles same-realm requests, cross-realm traversal via a configured
// capath hierarchy, RFC 6806 cross-realm referrals, and the S4U2self /
// S4U2proxy protocol extensions used for constrained delegation.
//
// The package does not implement the ASN.1/DER wire codec, the TGS-REQ
// builder, network transport, or cryptographic primitives. Those are
// supplied by the host process through the KDCExchanger and RealmPather
// collaborator interfaces (see exchange.go and capath.go). This mirrors
// the split already used by pkg/auth/kerberos, which accepts Kerberos
// tickets but likewise never speaks the wire protocol itself - here the
// package instead acts as a Kerberos initiator, acquiring tickets rather
// than validating them.
package tgs
