package tgs

import (
	"context"

	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
)

// singleStepResolver implements C3: one logical TGS acquisition, choosing
// between a same-realm direct request and a cross-realm TGT prefetch via
// the capath traverser (C4).
type singleStepResolver struct {
	exchanger KDCExchanger
	capath    *capathTraverser
	tracer    Tracer
	metrics   Metrics
}

// resolveOne performs one TGS request for refServerName, authenticated by
// asTgt, prefetching a cross-realm TGT through the capath traverser first
// if asTgt is not already valid in the service's realm.
//
// The aggregate ok-as-delegate flag accumulated by any capath prefetch is
// folded into the returned credential: if it is false, the delegate flag
// is cleared on the credential before it is returned, per spec.md
// invariant 4.
func (r *singleStepResolver) resolveOne(
	ctx context.Context,
	acquisitionID string,
	options KDCOptions,
	asTgt Credential,
	clientName Principal,
	clientAlias *Principal,
	refServerName, canonicalServerName Principal,
	additionalTickets []messages.Ticket,
	extraPreauth []types.PAData,
) (Credential, error) {
	tgtTargetRealm := asTgt.Server.TargetRealm()
	serviceRealm := refServerName.Realm

	okAsDelegate := true

	if serviceRealm != tgtTargetRealm {
		newTgt, aggregate := r.capath.tgtForRealm(ctx, acquisitionID, tgtTargetRealm, serviceRealm, asTgt)
		if newTgt == nil {
			return Credential{}, newNoServiceCreds(tgtTargetRealm, serviceRealm)
		}
		asTgt = *newTgt
		clientName = newTgt.Client
		okAsDelegate = aggregate
	}

	req := ExchangeRequest{
		Options:             options,
		AsTgt:               asTgt,
		ClientName:          clientName,
		ClientAlias:         clientAlias,
		RequestedServerName: refServerName,
		CanonicalServerName: canonicalServerName,
		AdditionalTickets:   additionalTickets,
		ExtraPreauth:        extraPreauth,
	}

	cred, err := send(ctx, r.exchanger, r.tracer, r.metrics, asTgt.Server.Realm, req)
	if err != nil {
		return Credential{}, err
	}

	if !okAsDelegate {
		if cred.Flags.Has(FlagOkAsDelegate) {
			observeDelegateCleared(r.metrics)
			traceDelegateCleared(ctx, r.tracer, asTgt.Server.Realm)
		}
		cred.Flags = cred.Flags.Set(FlagOkAsDelegate, false)
	}

	return cred, nil
}
