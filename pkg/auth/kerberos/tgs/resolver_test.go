package tgs

import (
	"context"
	"testing"
)

func TestSingleStepResolver_SameRealmNoCapath(t *testing.T) {
	client := NewPrincipal(1, "EXAMPLE.COM", "alice")
	asTgt := tgt(client, "EXAMPLE.COM")
	service := NewPrincipal(2, "EXAMPLE.COM", "nfs", "server.example.com")

	want := Credential{Client: client, Server: service, Flags: FlagForwardable | FlagOkAsDelegate}
	exchanger := &fakeExchanger{exchange: func(ctx context.Context, req ExchangeRequest) (Credential, error) {
		return want, nil
	}}
	capath := &capathTraverser{exchanger: exchanger, realms: newFakeRealmPather()}
	r := &singleStepResolver{exchanger: exchanger, capath: capath}

	cred, err := r.resolveOne(context.Background(), "test-acquisition", 0, asTgt, client, nil, service, service, nil, nil)
	if err != nil {
		t.Fatalf("resolveOne failed: %v", err)
	}
	if !cred.Server.Equal(service) {
		t.Fatalf("Server = %v, want %v", cred.Server, service)
	}
	if len(exchanger.calls) != 1 {
		t.Fatalf("expected exactly one exchange (no capath prefetch needed), got %d", len(exchanger.calls))
	}
}

func TestSingleStepResolver_CrossRealmPrefetchesTGT(t *testing.T) {
	client := NewPrincipal(1, "A.EXAMPLE.COM", "alice")
	asTgt := tgt(client, "A.EXAMPLE.COM")
	service := NewPrincipal(2, "B.EXAMPLE.COM", "nfs", "server.b.example.com")

	realms := newFakeRealmPather()
	realms.set("A.EXAMPLE.COM", "B.EXAMPLE.COM", []string{"A.EXAMPLE.COM", "B.EXAMPLE.COM"})

	crossTgt := tgt(client, "B.EXAMPLE.COM")
	crossTgt.Server = KrbtgtPrincipal("A.EXAMPLE.COM", "B.EXAMPLE.COM")
	final := Credential{Client: client, Server: service, Flags: FlagForwardable | FlagOkAsDelegate}

	calls := 0
	exchanger := &fakeExchanger{exchange: func(ctx context.Context, req ExchangeRequest) (Credential, error) {
		calls++
		if calls == 1 {
			return crossTgt, nil
		}
		return final, nil
	}}
	capath := &capathTraverser{exchanger: exchanger, realms: realms}
	r := &singleStepResolver{exchanger: exchanger, capath: capath}

	cred, err := r.resolveOne(context.Background(), "test-acquisition", 0, asTgt, client, nil, service, service, nil, nil)
	if err != nil {
		t.Fatalf("resolveOne failed: %v", err)
	}
	if !cred.Server.Equal(service) {
		t.Fatalf("Server = %v, want %v", cred.Server, service)
	}
	if calls != 2 {
		t.Fatalf("expected a capath prefetch plus the service request (2 calls), got %d", calls)
	}
}

func TestSingleStepResolver_ClearsDelegateWhenCapathNotDelegable(t *testing.T) {
	client := NewPrincipal(1, "A.EXAMPLE.COM", "alice")
	asTgt := tgt(client, "A.EXAMPLE.COM")
	service := NewPrincipal(2, "B.EXAMPLE.COM", "nfs", "server.b.example.com")

	realms := newFakeRealmPather()
	realms.set("A.EXAMPLE.COM", "B.EXAMPLE.COM", []string{"A.EXAMPLE.COM", "B.EXAMPLE.COM"})

	crossTgt := tgt(client, "B.EXAMPLE.COM")
	crossTgt.Server = KrbtgtPrincipal("A.EXAMPLE.COM", "B.EXAMPLE.COM")
	crossTgt.Flags = crossTgt.Flags.Set(FlagOkAsDelegate, false)

	final := Credential{Client: client, Server: service, Flags: FlagForwardable | FlagOkAsDelegate}

	calls := 0
	exchanger := &fakeExchanger{exchange: func(ctx context.Context, req ExchangeRequest) (Credential, error) {
		calls++
		if calls == 1 {
			return crossTgt, nil
		}
		return final, nil
	}}
	capath := &capathTraverser{exchanger: exchanger, realms: realms}
	r := &singleStepResolver{exchanger: exchanger, capath: capath}

	cred, err := r.resolveOne(context.Background(), "test-acquisition", 0, asTgt, client, nil, service, service, nil, nil)
	if err != nil {
		t.Fatalf("resolveOne failed: %v", err)
	}
	if cred.OkAsDelegate() {
		t.Fatal("expected delegate flag cleared on the final credential")
	}
}

func TestSingleStepResolver_NoRouteReturnsNoServiceCreds(t *testing.T) {
	client := NewPrincipal(1, "A.EXAMPLE.COM", "alice")
	asTgt := tgt(client, "A.EXAMPLE.COM")
	service := NewPrincipal(2, "B.EXAMPLE.COM", "nfs", "server.b.example.com")

	realms := newFakeRealmPather() // no configured path
	exchanger := &fakeExchanger{exchange: func(ctx context.Context, req ExchangeRequest) (Credential, error) {
		t.Fatal("expected no exchange with no configured capath route")
		return Credential{}, nil
	}}
	capath := &capathTraverser{exchanger: exchanger, realms: realms}
	r := &singleStepResolver{exchanger: exchanger, capath: capath}

	_, err := r.resolveOne(context.Background(), "test-acquisition", 0, asTgt, client, nil, service, service, nil, nil)
	tgsErr, ok := asTgsError(err)
	if !ok || tgsErr.Kind != KindNoServiceCreds {
		t.Fatalf("expected KindNoServiceCreds, got %v", err)
	}
}
