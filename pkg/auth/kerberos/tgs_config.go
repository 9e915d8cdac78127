package kerberos

import (
	"fmt"

	dconfig "github.com/marmos91/dittofs/pkg/config"
)

// tgsConfig adapts pkg/config.KerberosConfig to the tgs.Config
// collaborator interface, so the TGS-exchange engine never needs to know
// about viper/mapstructure tags or the rest of the server's config tree.
type tgsConfig struct {
	cfg *dconfig.KerberosConfig
}

// NewTGSConfig wraps cfg as a tgs.Config. cfg must outlive the returned
// value; it is read on every call, so config reloads are observed live.
func NewTGSConfig(cfg *dconfig.KerberosConfig) *tgsConfig {
	return &tgsConfig{cfg: cfg}
}

func (c *tgsConfig) ReferralsEnabled() bool {
	return c.cfg.ReferralsEnabled
}

func (c *tgsConfig) MaxReferrals() uint32 {
	if c.cfg.MaxReferrals == 0 {
		return 5
	}
	return c.cfg.MaxReferrals
}

// capathRealmPather implements tgs.RealmPather by walking a
// "fromRealm->toRealm" keyed capath configuration stanza, the same shape
// krb5.conf's [capaths] section describes.
type capathRealmPather struct {
	cfg *dconfig.KerberosConfig
}

// NewCapathRealmPather returns a tgs.RealmPather backed by cfg.Capath.
func NewCapathRealmPather(cfg *dconfig.KerberosConfig) *capathRealmPather {
	return &capathRealmPather{cfg: cfg}
}

// Path returns [from, hop1, ..., hopN, to] for a configured capath entry,
// or nil if none is configured for this (from, to) pair - meaning the
// caller should treat from and to as directly adjacent, or has no route.
func (p *capathRealmPather) Path(from, to string) []string {
	if p.cfg == nil || p.cfg.Capath == nil {
		return nil
	}
	hops, ok := p.cfg.Capath[capathKey(from, to)]
	if !ok {
		return nil
	}

	path := make([]string, 0, len(hops)+2)
	path = append(path, from)
	path = append(path, hops...)
	path = append(path, to)
	return path
}

func capathKey(from, to string) string {
	return fmt.Sprintf("%s->%s", from, to)
}
