package tgs

import (
	"context"

	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/marmos91/dittofs/internal/logger"
)

// referralFollower implements C5: iteratively resolving through RFC 6806
// referrals, bounded by maxReferrals and loop-checked by realm.
type referralFollower struct {
	resolver     *singleStepResolver
	cache        *ReferralCache
	maxReferrals uint32
	tracer       Tracer
	metrics      Metrics
}

// resolveReferrals resolves serviceName starting from asTgt, following
// KDC referrals for up to maxReferrals+1 round-trips. If the bound is
// reached without resolving to a non-referral reply, it returns the last
// credential observed rather than an error (spec.md §4.5 exhaustion
// behaviour; see DESIGN.md's Open Question decision). All other failure
// conditions return a *Error.
func (f *referralFollower) resolveReferrals(
	ctx context.Context,
	acquisitionID string,
	options KDCOptions,
	asTgt Credential,
	clientName, serviceName Principal,
	additionalTickets []messages.Ticket,
	extraPreauth []types.PAData,
) (*Credential, error) {
	ctx, span := startReferralResolutionSpan(ctx, f.tracer, acquisitionID, serviceName)
	defer span.End()

	optionsWithCanon := options | OptCanonicalize
	currentRef := serviceName
	canonicalSvc := serviceName
	var referrals []string
	clientAlias := asTgt.ClientAlias
	currentAsTgt := asTgt

	maxIterations := int(f.maxReferrals) + 1
	var lastCreds Credential

	for iter := 0; iter < maxIterations; iter++ {
		var toRealm string

		key := ReferralKey{Client: clientName, OriginalService: serviceName, CurrentRealm: currentRef.Realm}
		if entry, hit := f.cache.Get(key); hit {
			observeReferralCache(f.metrics, "hit")
			toRealm = entry.ToRealm
			currentAsTgt = entry.Credential
		} else {
			observeReferralCache(f.metrics, "miss")

			creds, err := f.resolver.resolveOne(ctx, acquisitionID, optionsWithCanon, currentAsTgt, clientName, clientAlias, currentRef, canonicalSvc, additionalTickets, extraPreauth)
			if err != nil {
				return nil, err
			}

			if creds.Server.Equal(currentRef) {
				// Not a referral: this is the answer.
				return &creds, nil
			}

			if !creds.Server.IsKrbtgt() || creds.Server.TargetRealm() == currentRef.Realm {
				// Not a referral, not the requested target: return as-is.
				return &creds, nil
			}

			toRealm = creds.Server.TargetRealm()
			f.cache.Put(ReferralKey{Client: clientName, OriginalService: serviceName, CurrentRealm: creds.Server.Realm}, toRealm, creds)
			currentAsTgt = creds
		}

		for _, seen := range referrals {
			if seen == toRealm {
				return nil, newReferralLoop(toRealm)
			}
		}
		referrals = append(referrals, toRealm)
		traceReferral(ctx, f.tracer, toRealm)
		logger.DebugCtx(ctx, "kerberos tgs referral observed",
			logger.KeyAcquisitionID, acquisitionID,
			logger.KeyRealm, toRealm,
			logger.KeyReferralChain, referrals)

		currentRef = Principal{PrincipalName: currentRef.PrincipalName, Realm: toRealm}
		lastCreds = currentAsTgt
	}

	observeReferralCache(f.metrics, "exhausted")
	logger.WarnCtx(ctx, "referral depth exceeded, returning best-effort credential",
		logger.KeyAcquisitionID, acquisitionID,
		logger.KeyReferralChain, referrals)
	return &lastCreds, nil
}
