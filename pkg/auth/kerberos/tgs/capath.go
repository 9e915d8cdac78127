package tgs

import "context"

// RealmPather computes the ordered path of realms to traverse between
// two realms, including both endpoints, per the configured capath
// hierarchy. Realm-configuration parsing lives outside this package
// (spec.md §1); RealmPather is the narrow seam this package consumes.
//
// Callers must tolerate an empty or singleton result: it means no
// configured path exists, not an error.
type RealmPather interface {
	Path(from, to string) []string
}

// capathTraverser implements C4: walking the configured realm hierarchy
// to obtain a TGT in a target realm when referrals are disabled or have
// failed.
type capathTraverser struct {
	exchanger KDCExchanger
	realms    RealmPather
	tracer    Tracer
	metrics   Metrics
}

// tgtForRealm walks realmsList(localRealm, serviceRealm), hopping one
// configured realm at a time, until it either reaches a TGT valid in
// serviceRealm or runs out of configured hops. It never raises an error
// itself: a transport or KDC error from any individual probe is treated
// as "no route through this realm" so alternative paths can still be
// tried (spec.md §4.4, §4.7 failure semantics).
//
// okAsDelegate is the logical AND of every intermediate TGT's
// ok-as-delegate flag along the path actually taken; it starts true and
// is only ever cleared, never set back.
func (t *capathTraverser) tgtForRealm(ctx context.Context, acquisitionID, localRealm, serviceRealm string, startingTgt Credential) (theTgt *Credential, okAsDelegate bool) {
	okAsDelegate = true
	realmList := t.realms.Path(localRealm, serviceRealm)
	if len(realmList) < 2 {
		return nil, true
	}

	ctx, span := startCapathTraversalSpan(ctx, t.tracer, acquisitionID, localRealm, serviceRealm)
	defer span.End()

	cTgt := startingTgt
	i := 0

outer:
	for i < len(realmList) {
		newTgt, found := t.probe(ctx, realmList[i], serviceRealm, cTgt)
		if !found {
			// Inner fallback: scan forward for any realm reachable from
			// realmList[i], left to right, stop on first success.
			for k := i + 1; k < len(realmList); k++ {
				nt, ok := t.probe(ctx, realmList[i], realmList[k], cTgt)
				if ok {
					newTgt = nt
					found = true
					break
				}
			}
			if !found {
				return nil, okAsDelegate
			}
		}

		if okAsDelegate && !newTgt.OkAsDelegate() {
			okAsDelegate = false
			traceDelegateCleared(ctx, t.tracer, realmList[i])
		}

		newTgtTargetRealm := newTgt.Server.TargetRealm()
		if newTgtTargetRealm == serviceRealm {
			theTgt = &newTgt
			break outer
		}

		nextIdx := -1
		for k := i + 1; k < len(realmList); k++ {
			if realmList[k] == newTgtTargetRealm {
				nextIdx = k
				break
			}
		}
		if nextIdx == -1 {
			// Refuse to follow outside the configured hierarchy.
			return nil, okAsDelegate
		}
		i = nextIdx
		cTgt = newTgt
	}

	return theTgt, okAsDelegate
}

// probe attempts one TGS request for the krbtgt of toRealm, issued by
// fromRealm, authenticated with tgt. A transport or KDC error is
// swallowed here (returns ok=false) per spec.md §4.4/§4.7: C4 never
// raises, it only reports "no path here".
func (t *capathTraverser) probe(ctx context.Context, fromRealm, toRealm string, tgt Credential) (Credential, bool) {
	traceProbe(ctx, t.tracer, fromRealm, toRealm)

	serverName := KrbtgtPrincipal(fromRealm, toRealm)
	req := ExchangeRequest{
		Options:             0,
		AsTgt:               tgt,
		ClientName:          tgt.Client,
		RequestedServerName: serverName,
		CanonicalServerName: serverName,
	}

	cred, err := send(ctx, t.exchanger, t.tracer, t.metrics, fromRealm, req)
	if err != nil {
		observeCapathProbe(t.metrics, "failure")
		return Credential{}, false
	}
	observeCapathProbe(t.metrics, "success")
	return cred, true
}
