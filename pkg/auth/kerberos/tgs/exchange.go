package tgs

import (
	"context"
	"time"

	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/marmos91/dittofs/internal/logger"
)

// ExchangeRequest bundles everything C1 needs to build and send one
// TGS-REQ. It is the typed request shape referenced by spec.md §4.1's
// send(...) operation.
type ExchangeRequest struct {
	// Options are the KDC-OPTIONS bits to set on the request.
	Options KDCOptions

	// AsTgt authenticates the request; its session key wraps the
	// authenticator.
	AsTgt Credential

	// ClientName is the principal the request is made as. It usually
	// equals AsTgt.Client, except in the S4U2self/proxy front-ends and
	// after a cross-realm TGT swap in the single-step resolver.
	ClientName Principal

	// ClientAlias, if non-nil, is a client-name alias the KDC returned
	// previously and which should be echoed back (carried through a
	// referral chain so later hops see the originally-authenticated
	// name).
	ClientAlias *Principal

	// RequestedServerName is the service principal the caller is asking
	// for in this specific request (may be a referral-rewritten realm).
	RequestedServerName Principal

	// CanonicalServerName is the original, caller-specified service
	// principal, preserved across referral hops purely for correct
	// naming of the request per spec.md §4.5.
	CanonicalServerName Principal

	// AdditionalTickets carries the evidence ticket for S4U2proxy.
	AdditionalTickets []messages.Ticket

	// ExtraPreauth carries additional PA-DATA, e.g. PA-FOR-USER for
	// S4U2self.
	ExtraPreauth []types.PAData
}

// KDCExchanger is the C1 collaborator: it builds one TGS-REQ with the
// given options and pre-auth data, authenticated by AsTgt, sends it, and
// parses the reply into a Credential.
//
// Implementations own the ASN.1 codec, the TGS-REQ builder, the network
// transport, and cryptographic key derivation - all explicitly out of
// scope for this package (spec.md §1). Exchange must not retry; callers
// (C3, C4) decide whether and how to retry.
//
// Exchange must return a *Error with:
//   - Kind == KindKdcError for a KDC error reply (Code set to the KDC's
//     error-code),
//   - Kind == KindIO for a transport failure (Cancelled set to true if
//     the failure was observed as ctx cancellation),
//   - Kind == KindProtocol for a reply that fails to decode or fails
//     basic validation (nonce, cname/sname echo, etc).
type KDCExchanger interface {
	Exchange(ctx context.Context, req ExchangeRequest) (Credential, error)
}

// send performs one exchange through exchanger, instrumenting it with the
// engine's Tracer and Metrics collaborators. realm is the realm the
// request is being sent to, used only for span attributes and metrics
// labels.
func send(ctx context.Context, exchanger KDCExchanger, tr Tracer, m Metrics, realm string, req ExchangeRequest) (Credential, error) {
	ctx, span := startExchangeSpan(ctx, tr, realm, req.RequestedServerName)
	defer span.End()

	start := time.Now()
	cred, err := exchanger.Exchange(ctx, req)
	observeExchange(m, realm, start, err)

	if err != nil {
		logger.DebugCtx(ctx, "kdc exchange failed",
			logger.KeyRealm, realm,
			"server_principal", req.RequestedServerName.String(),
			"error", err)
		return Credential{}, err
	}
	return cred, nil
}
