package tgs

import "context"

// fakeExchanger is a test double for KDCExchanger. exchange is called for
// every request; tests set it to script canned replies or errors.
type fakeExchanger struct {
	exchange func(ctx context.Context, req ExchangeRequest) (Credential, error)
	calls    []ExchangeRequest
}

func (f *fakeExchanger) Exchange(ctx context.Context, req ExchangeRequest) (Credential, error) {
	f.calls = append(f.calls, req)
	return f.exchange(ctx, req)
}

// fakeRealmPather is a test double for RealmPather, backed by a static
// map of (from, to) -> path.
type fakeRealmPather struct {
	paths map[[2]string][]string
}

func newFakeRealmPather() *fakeRealmPather {
	return &fakeRealmPather{paths: make(map[[2]string][]string)}
}

func (f *fakeRealmPather) set(from, to string, path []string) {
	f.paths[[2]string{from, to}] = path
}

func (f *fakeRealmPather) Path(from, to string) []string {
	return f.paths[[2]string{from, to}]
}

// fakeConfig is a test double for Config.
type fakeConfig struct {
	referralsEnabled bool
	maxReferrals     uint32
}

func (f *fakeConfig) ReferralsEnabled() bool { return f.referralsEnabled }
func (f *fakeConfig) MaxReferrals() uint32   { return f.maxReferrals }

// tgt builds a plain TGT credential for realm, owned by client.
func tgt(client Principal, realm string) Credential {
	return Credential{
		Client: client,
		Server: KrbtgtPrincipal(realm, realm),
		Flags:  FlagForwardable | FlagOkAsDelegate,
	}
}
