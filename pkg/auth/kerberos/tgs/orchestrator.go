package tgs

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jcmturner/gokrb5/v8/types"
	"github.com/marmos91/dittofs/internal/logger"
)

// Config supplies the two process-wide settings this engine needs:
// whether RFC 6806 referrals are attempted at all, and how many referral
// hops to follow before giving up.
type Config interface {
	ReferralsEnabled() bool
	MaxReferrals() uint32
}

// Engine is the top-level entry point: C6, the Service-Credentials
// Orchestrator, plus the S4U2self/S4U2proxy front-ends (C7). Construct
// one Engine per process (or per tenant, if isolation across tenants is
// desired) and reuse it across requests - its ReferralCache is only
// useful when shared.
type Engine struct {
	cfg      Config
	cache    *ReferralCache
	resolver *singleStepResolver
	follower *referralFollower
	tracer   Tracer
	metrics  Metrics
}

// NewEngine builds an Engine from its collaborators. exchanger and realms
// must be non-nil; tracer and metrics may be nil to disable observation.
func NewEngine(cfg Config, exchanger KDCExchanger, realms RealmPather, tracer Tracer, metrics Metrics) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("kerberos tgs: config is nil")
	}
	if exchanger == nil {
		return nil, fmt.Errorf("kerberos tgs: KDCExchanger is nil")
	}
	if realms == nil {
		return nil, fmt.Errorf("kerberos tgs: RealmPather is nil")
	}

	capath := &capathTraverser{exchanger: exchanger, realms: realms, tracer: tracer, metrics: metrics}
	resolver := &singleStepResolver{exchanger: exchanger, capath: capath, tracer: tracer, metrics: metrics}
	cache := NewReferralCache()
	follower := &referralFollower{resolver: resolver, cache: cache, maxReferrals: cfg.MaxReferrals(), tracer: tracer, metrics: metrics}

	return &Engine{
		cfg:      cfg,
		cache:    cache,
		resolver: resolver,
		follower: follower,
		tracer:   tracer,
		metrics:  metrics,
	}, nil
}

// AcquireService implements C6: it tries the referral path first (if
// enabled), and falls back to the capath path on a KDC error, to remain
// compatible with KDCs that reject CANONICALIZE.
func (e *Engine) AcquireService(ctx context.Context, serviceSpn string, initialTgt Credential) (Credential, error) {
	serviceName, err := ParsePrincipal(serviceSpn)
	if err != nil {
		return Credential{}, newProtocolError("invalid service principal name", err)
	}

	acquisitionID := uuid.New().String()
	logger.DebugCtx(ctx, "kerberos tgs acquisition started",
		logger.KeyAcquisitionID, acquisitionID,
		logger.KeyServicePrincipal, serviceSpn)

	if e.cfg.ReferralsEnabled() {
		cred, err := e.follower.resolveReferrals(ctx, acquisitionID, 0, initialTgt, initialTgt.Client, serviceName, nil, nil)
		if err == nil {
			return *cred, nil
		}

		if tgsErr, ok := asTgsError(err); !ok || tgsErr.Kind != KindKdcError {
			return Credential{}, err
		}

		logger.WarnCtx(ctx, "referral path rejected by KDC, falling back to capath",
			logger.KeyAcquisitionID, acquisitionID,
			logger.KeyServicePrincipal, serviceSpn)
	}

	cred, err := e.resolver.resolveOne(ctx, acquisitionID, 0, initialTgt, initialTgt.Client, initialTgt.ClientAlias, serviceName, serviceName, nil, nil)
	if err != nil {
		return Credential{}, err
	}
	return cred, nil
}

// ParsePrincipal parses a "name1/name2@REALM"-shaped SPN into a
// Principal. This is basic SPN parsing, not the referral-driven
// canonicalisation spec.md excludes from scope.
func ParsePrincipal(spn string) (Principal, error) {
	at := strings.LastIndex(spn, "@")
	if at < 0 {
		return Principal{}, fmt.Errorf("kerberos tgs: %q has no realm (expected name@REALM)", spn)
	}
	namePart, realm := spn[:at], spn[at+1:]
	if namePart == "" || realm == "" {
		return Principal{}, fmt.Errorf("kerberos tgs: %q is not a valid principal name", spn)
	}

	const nameTypePrincipal int32 = 1 // KRB_NT_PRINCIPAL, RFC 4120 §6.2
	return Principal{
		PrincipalName: types.PrincipalName{
			NameType:   nameTypePrincipal,
			NameString: strings.Split(namePart, "/"),
		},
		Realm: realm,
	}, nil
}
