package tgs

import (
	"time"

	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
)

// Principal is a Kerberos principal name together with the realm it
// belongs to. gokrb5's wire types keep name and realm as separate fields
// (CName/CRealm, SName/SRealm in a KRB-TGS-REP); Principal bundles them
// the way callers of this package actually need them.
type Principal struct {
	types.PrincipalName
	Realm string
}

// NewPrincipal builds a Principal from name components and a realm.
func NewPrincipal(nameType int32, realm string, nameStrings ...string) Principal {
	return Principal{
		PrincipalName: types.PrincipalName{
			NameType:   nameType,
			NameString: nameStrings,
		},
		Realm: realm,
	}
}

// Equal compares name-type, all name-strings, and realm.
func (p Principal) Equal(o Principal) bool {
	if p.NameType != o.NameType || p.Realm != o.Realm {
		return false
	}
	if len(p.NameString) != len(o.NameString) {
		return false
	}
	for i := range p.NameString {
		if p.NameString[i] != o.NameString[i] {
			return false
		}
	}
	return true
}

// String renders the principal as "name1/name2@REALM" for logging.
func (p Principal) String() string {
	s := ""
	for i, n := range p.NameString {
		if i > 0 {
			s += "/"
		}
		s += n
	}
	return s + "@" + p.Realm
}

// IsKrbtgt reports whether this principal is a TGT service principal,
// i.e. has exactly two name-strings ("krbtgt", target-realm).
func (p Principal) IsKrbtgt() bool {
	return len(p.NameString) == 2 && p.NameString[0] == "krbtgt"
}

// TargetRealm returns the realm a krbtgt principal grants access to, the
// second name-string. Only meaningful when IsKrbtgt() is true.
func (p Principal) TargetRealm() string {
	if !p.IsKrbtgt() {
		return ""
	}
	return p.NameString[1]
}

// NameTypeSrvInst is KRB_NT_SRV_INST (RFC 4120 §6.2): a service with an
// instance name, the shape krbtgt/REALM principals use. Kept as a local
// constant rather than importing gokrb5's nametype package, which this
// package otherwise has no need for.
const NameTypeSrvInst int32 = 2

// KrbtgtPrincipal builds the krbtgt/TARGET@ISSUING principal naming the
// TGS of targetRealm as issued by issuingRealm.
func KrbtgtPrincipal(issuingRealm, targetRealm string) Principal {
	return NewPrincipal(NameTypeSrvInst, issuingRealm, "krbtgt", targetRealm)
}

// TicketFlags is a small, Go-level bitmask for the ticket flags this
// package cares about. Translating to and from the wire KRB-TICKET-FLAGS
// bitstring is the KDCExchanger collaborator's job (see exchange.go);
// spec.md treats ticket flags as opaque outside the handful of bits
// named below, so only those get a bit here.
type TicketFlags uint32

const (
	FlagForwardable TicketFlags = 1 << iota
	FlagForwarded
	FlagOkAsDelegate
)

// Has reports whether all bits in mask are set.
func (f TicketFlags) Has(mask TicketFlags) bool { return f&mask == mask }

// Set returns f with mask set or cleared.
func (f TicketFlags) Set(mask TicketFlags, on bool) TicketFlags {
	if on {
		return f | mask
	}
	return f &^ mask
}

// KDCOptions is the Go-level counterpart of TicketFlags for outbound
// TGS-REQ options. Only the bits spec.md names are represented; anything
// else is opaque to this package.
type KDCOptions uint32

const (
	OptForwardable KDCOptions = 1 << iota
	OptCanonicalize
	OptCnameInAddlTkt
)

// Has reports whether all bits in mask are set.
func (o KDCOptions) Has(mask KDCOptions) bool { return o&mask == mask }

// Credential is the immutable result of a successful KDC exchange: a TGT
// or a service ticket, depending on what Server names.
type Credential struct {
	Client       Principal
	Server       Principal
	SessionKey   types.EncryptionKey
	Flags        TicketFlags
	StartTime    time.Time
	EndTime      time.Time
	Ticket       messages.Ticket
	SecondTicket *messages.Ticket
	ClientAlias  *Principal
}

// Forwardable reports whether the FORWARDABLE flag is set.
func (c Credential) Forwardable() bool { return c.Flags.Has(FlagForwardable) }

// OkAsDelegate reports whether the KDC marked this credential as
// authorising delegation.
func (c Credential) OkAsDelegate() bool { return c.Flags.Has(FlagOkAsDelegate) }

// IsTGT reports whether Server names a krbtgt service, i.e. this
// credential is a ticket-granting ticket rather than a service ticket.
func (c Credential) IsTGT() bool { return c.Server.IsKrbtgt() }

// ReferralKey identifies a referral cache entry: the client doing the
// lookup, the original (non-canonicalised) service it wants, and the
// realm it is currently trying to resolve that service in.
type ReferralKey struct {
	Client          Principal
	OriginalService Principal
	CurrentRealm    string
}

// ReferralCacheEntry records that, for some ReferralKey, the KDC referred
// the caller onward to ToRealm, handing back Credential as the TGT to use
// there.
type ReferralCacheEntry struct {
	ToRealm    string
	Credential Credential
}
