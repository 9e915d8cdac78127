package tgs

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngineForS4U(t *testing.T, exchange func(ctx context.Context, req ExchangeRequest) (Credential, error)) (*Engine, *fakeExchanger) {
	t.Helper()
	exchanger := &fakeExchanger{exchange: exchange}
	engine, err := NewEngine(&fakeConfig{referralsEnabled: true, maxReferrals: 5}, exchanger, newFakeRealmPather(), nil, nil)
	require.NoError(t, err)
	return engine, exchanger
}

func TestAcquireS4U2Self_Success(t *testing.T) {
	middle := NewPrincipal(2, "EXAMPLE.COM", "http", "gateway.example.com")
	middleTgt := tgt(middle, "EXAMPLE.COM")
	impersonated := NewPrincipal(1, "EXAMPLE.COM", "alice")

	wantCred := Credential{Client: impersonated, Server: middle, Flags: FlagForwardable}
	engine, exchanger := newEngineForS4U(t, func(ctx context.Context, req ExchangeRequest) (Credential, error) {
		require.True(t, req.Options.Has(OptForwardable), "expected FORWARDABLE option on S4U2self request")
		require.Len(t, req.ExtraPreauth, 1, "expected a single PA-FOR-USER pre-auth entry")
		assert.Equal(t, PaTypeForUser, req.ExtraPreauth[0].PADataType)

		var payload forUserPayload
		require.NoError(t, json.Unmarshal(req.ExtraPreauth[0].PADataValue, &payload))
		assert.Equal(t, impersonated.Realm, payload.UserRealm)
		return wantCred, nil
	})

	cred, err := engine.AcquireS4U2Self(context.Background(), impersonated, middleTgt)
	require.NoError(t, err)
	assert.True(t, cred.Client.Equal(impersonated))
	assert.Len(t, exchanger.calls, 1)
}

func TestAcquireS4U2Self_CrossRealmRejected(t *testing.T) {
	middle := NewPrincipal(2, "EXAMPLE.COM", "http", "gateway.example.com")
	middleTgt := tgt(middle, "EXAMPLE.COM")
	impersonated := NewPrincipal(1, "OTHER.COM", "alice")

	engine, _ := newEngineForS4U(t, func(ctx context.Context, req ExchangeRequest) (Credential, error) {
		t.Fatal("expected no exchange when realms mismatch")
		return Credential{}, nil
	})

	_, err := engine.AcquireS4U2Self(context.Background(), impersonated, middleTgt)
	tgsErr, ok := asTgsError(err)
	require.True(t, ok)
	assert.Equal(t, KindUnsupportedCrossRealm, tgsErr.Kind)
}

func TestAcquireS4U2Self_RequiresForwardableTGT(t *testing.T) {
	middle := NewPrincipal(2, "EXAMPLE.COM", "http", "gateway.example.com")
	middleTgt := tgt(middle, "EXAMPLE.COM")
	middleTgt.Flags = middleTgt.Flags.Set(FlagForwardable, false)
	impersonated := NewPrincipal(1, "EXAMPLE.COM", "alice")

	engine, _ := newEngineForS4U(t, func(ctx context.Context, req ExchangeRequest) (Credential, error) {
		t.Fatal("expected no exchange when the middle TGT is not forwardable")
		return Credential{}, nil
	})

	_, err := engine.AcquireS4U2Self(context.Background(), impersonated, middleTgt)
	tgsErr, ok := asTgsError(err)
	require.True(t, ok)
	assert.Equal(t, KindPreconditionViolation, tgsErr.Kind)
}

func TestAcquireS4U2Self_KdcRefusedOnPostconditionViolation(t *testing.T) {
	middle := NewPrincipal(2, "EXAMPLE.COM", "http", "gateway.example.com")
	middleTgt := tgt(middle, "EXAMPLE.COM")
	impersonated := NewPrincipal(1, "EXAMPLE.COM", "alice")

	engine, _ := newEngineForS4U(t, func(ctx context.Context, req ExchangeRequest) (Credential, error) {
		// KDC returns a reply for the wrong client: violates the postcondition.
		return Credential{Client: middle, Server: middle, Flags: FlagForwardable}, nil
	})

	_, err := engine.AcquireS4U2Self(context.Background(), impersonated, middleTgt)
	tgsErr, ok := asTgsError(err)
	require.True(t, ok)
	assert.Equal(t, KindKdcRefused, tgsErr.Kind)
}

func TestAcquireS4U2Proxy_Success(t *testing.T) {
	middle := NewPrincipal(2, "EXAMPLE.COM", "http", "gateway.example.com")
	middleTgt := tgt(middle, "EXAMPLE.COM")
	impersonated := NewPrincipal(1, "EXAMPLE.COM", "alice")
	backend := NewPrincipal(2, "EXAMPLE.COM", "cifs", "backend.example.com")
	evidence := messages.Ticket{}

	wantCred := Credential{Client: impersonated, Server: backend, Flags: FlagForwardable}
	engine, exchanger := newEngineForS4U(t, func(ctx context.Context, req ExchangeRequest) (Credential, error) {
		assert.True(t, req.Options.Has(OptCnameInAddlTkt) && req.Options.Has(OptForwardable),
			"expected CNAME_IN_ADDL_TKT and FORWARDABLE options on S4U2proxy request")
		require.Len(t, req.AdditionalTickets, 1, "expected exactly one additional (evidence) ticket")
		return wantCred, nil
	})

	cred, err := engine.AcquireS4U2Proxy(context.Background(), "cifs/backend.example.com@EXAMPLE.COM", evidence, impersonated, middleTgt)
	require.NoError(t, err)
	assert.True(t, cred.Client.Equal(impersonated))
	assert.Len(t, exchanger.calls, 1)
}

func TestAcquireS4U2Proxy_KdcRefusedOnClientMismatch(t *testing.T) {
	middle := NewPrincipal(2, "EXAMPLE.COM", "http", "gateway.example.com")
	middleTgt := tgt(middle, "EXAMPLE.COM")
	impersonated := NewPrincipal(1, "EXAMPLE.COM", "alice")
	evidence := messages.Ticket{}

	engine, _ := newEngineForS4U(t, func(ctx context.Context, req ExchangeRequest) (Credential, error) {
		return Credential{Client: middle, Server: req.RequestedServerName, Flags: FlagForwardable}, nil
	})

	_, err := engine.AcquireS4U2Proxy(context.Background(), "cifs/backend.example.com@EXAMPLE.COM", evidence, impersonated, middleTgt)
	tgsErr, ok := asTgsError(err)
	require.True(t, ok)
	assert.Equal(t, KindKdcRefused, tgsErr.Kind)
}
