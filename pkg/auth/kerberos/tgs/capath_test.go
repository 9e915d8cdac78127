package tgs

import (
	"context"
	"errors"
	"testing"
)

func TestCapathTraverser_NoConfiguredPath(t *testing.T) {
	realms := newFakeRealmPather() // no path registered
	exchanger := &fakeExchanger{exchange: func(ctx context.Context, req ExchangeRequest) (Credential, error) {
		t.Fatal("expected no exchange when no capath is configured")
		return Credential{}, nil
	}}
	tr := &capathTraverser{exchanger: exchanger, realms: realms}

	client := NewPrincipal(1, "A.EXAMPLE.COM", "alice")
	start := tgt(client, "A.EXAMPLE.COM")

	cred, okAsDelegate := tr.tgtForRealm(context.Background(), "test-acquisition", "A.EXAMPLE.COM", "B.EXAMPLE.COM", start)
	if cred != nil {
		t.Fatal("expected nil credential with no configured path")
	}
	if !okAsDelegate {
		t.Fatal("expected okAsDelegate to remain true when no traversal happened")
	}
}

func TestCapathTraverser_DirectHop(t *testing.T) {
	realms := newFakeRealmPather()
	realms.set("A.EXAMPLE.COM", "B.EXAMPLE.COM", []string{"A.EXAMPLE.COM", "B.EXAMPLE.COM"})

	client := NewPrincipal(1, "A.EXAMPLE.COM", "alice")
	start := tgt(client, "A.EXAMPLE.COM")
	wantTgt := tgt(client, "B.EXAMPLE.COM")
	wantTgt.Server = KrbtgtPrincipal("A.EXAMPLE.COM", "B.EXAMPLE.COM")

	exchanger := &fakeExchanger{exchange: func(ctx context.Context, req ExchangeRequest) (Credential, error) {
		if req.RequestedServerName.String() != KrbtgtPrincipal("A.EXAMPLE.COM", "B.EXAMPLE.COM").String() {
			t.Fatalf("unexpected server name requested: %s", req.RequestedServerName)
		}
		return wantTgt, nil
	}}
	tr := &capathTraverser{exchanger: exchanger, realms: realms}

	cred, okAsDelegate := tr.tgtForRealm(context.Background(), "test-acquisition", "A.EXAMPLE.COM", "B.EXAMPLE.COM", start)
	if cred == nil {
		t.Fatal("expected a resolved TGT")
	}
	if cred.Server.TargetRealm() != "B.EXAMPLE.COM" {
		t.Fatalf("TargetRealm() = %q, want B.EXAMPLE.COM", cred.Server.TargetRealm())
	}
	if !okAsDelegate {
		t.Fatal("expected okAsDelegate true for a forwardable, ok-as-delegate hop")
	}
	if len(exchanger.calls) != 1 {
		t.Fatalf("expected exactly one exchange, got %d", len(exchanger.calls))
	}
}

func TestCapathTraverser_MultiHopClearsDelegate(t *testing.T) {
	realms := newFakeRealmPather()
	realms.set("A.EXAMPLE.COM", "C.EXAMPLE.COM", []string{"A.EXAMPLE.COM", "B.EXAMPLE.COM", "C.EXAMPLE.COM"})

	client := NewPrincipal(1, "A.EXAMPLE.COM", "alice")
	start := tgt(client, "A.EXAMPLE.COM")

	hopToB := tgt(client, "B.EXAMPLE.COM")
	hopToB.Server = KrbtgtPrincipal("A.EXAMPLE.COM", "B.EXAMPLE.COM")
	hopToB.Flags = hopToB.Flags.Set(FlagOkAsDelegate, false) // not delegate-capable

	hopToC := tgt(client, "C.EXAMPLE.COM")
	hopToC.Server = KrbtgtPrincipal("B.EXAMPLE.COM", "C.EXAMPLE.COM")

	calls := 0
	exchanger := &fakeExchanger{exchange: func(ctx context.Context, req ExchangeRequest) (Credential, error) {
		calls++
		switch calls {
		case 1:
			return hopToB, nil
		case 2:
			return hopToC, nil
		default:
			t.Fatal("unexpected third exchange")
			return Credential{}, nil
		}
	}}
	tr := &capathTraverser{exchanger: exchanger, realms: realms}

	cred, okAsDelegate := tr.tgtForRealm(context.Background(), "test-acquisition", "A.EXAMPLE.COM", "C.EXAMPLE.COM", start)
	if cred == nil {
		t.Fatal("expected a resolved TGT after two hops")
	}
	if cred.Server.TargetRealm() != "C.EXAMPLE.COM" {
		t.Fatalf("TargetRealm() = %q, want C.EXAMPLE.COM", cred.Server.TargetRealm())
	}
	if okAsDelegate {
		t.Fatal("expected okAsDelegate false: intermediate hop B was not ok-as-delegate")
	}
	if calls != 2 {
		t.Fatalf("expected exactly two exchanges, got %d", calls)
	}
}

func TestCapathTraverser_ProbeFailureStopsTraversal(t *testing.T) {
	realms := newFakeRealmPather()
	realms.set("A.EXAMPLE.COM", "B.EXAMPLE.COM", []string{"A.EXAMPLE.COM", "B.EXAMPLE.COM"})

	client := NewPrincipal(1, "A.EXAMPLE.COM", "alice")
	start := tgt(client, "A.EXAMPLE.COM")

	exchanger := &fakeExchanger{exchange: func(ctx context.Context, req ExchangeRequest) (Credential, error) {
		return Credential{}, newKdcError(7, errors.New("KRB5KDC_ERR_S_PRINCIPAL_UNKNOWN"))
	}}
	tr := &capathTraverser{exchanger: exchanger, realms: realms}

	cred, okAsDelegate := tr.tgtForRealm(context.Background(), "test-acquisition", "A.EXAMPLE.COM", "B.EXAMPLE.COM", start)
	if cred != nil {
		t.Fatal("expected nil credential when every probe fails")
	}
	if !okAsDelegate {
		t.Fatal("expected okAsDelegate to stay true: no hop was taken")
	}
}
