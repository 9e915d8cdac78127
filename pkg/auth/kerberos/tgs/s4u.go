package tgs

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jcmturner/gokrb5/v8/messages"
	"github.com/jcmturner/gokrb5/v8/types"
)

// PaTypeForUser is PA-FOR-USER, the MS-SFU2 pre-authentication data type
// carrying the impersonated principal in an S4U2self request. It is not
// part of the base RFC 4120 registry gokrb5/v8 ships constants for, so it
// is kept local to this package.
const PaTypeForUser int32 = 129

// forUserPayload is the semantic content this package needs to hand an
// S4U2self request: which principal to impersonate. Computing the keyed
// checksum MS-SFU2 requires over this payload (using the middle TGT's
// session key) is cryptographic key derivation, which belongs to the
// KDCExchanger implementation, not here (see exchange.go's scope note).
// This package encodes only the fields the exchanger needs as input to
// that computation; it is an internal contract between the two, not a
// wire format.
type forUserPayload struct {
	Username  []string
	UserRealm string
	NameType  int32
}

// newPaForUser builds the PA-DATA entry requesting S4U2self impersonation
// of impersonated. The exchanger is expected to recognise PaTypeForUser,
// decode the payload, and compute the MS-SFU2 checksum using asTgt's
// session key before sending.
func newPaForUser(impersonated Principal) types.PAData {
	payload, _ := json.Marshal(forUserPayload{
		Username:  impersonated.NameString,
		UserRealm: impersonated.Realm,
		NameType:  impersonated.NameType,
	})
	return types.PAData{PADataType: PaTypeForUser, PADataValue: payload}
}

// AcquireS4U2Self implements C7's S4U2self front-end: middleTgt's owner
// obtains a forwardable ticket to itself on behalf of impersonated,
// without possessing impersonated's secrets.
func (e *Engine) AcquireS4U2Self(ctx context.Context, impersonated Principal, middleTgt Credential) (Credential, error) {
	if impersonated.Realm != middleTgt.Client.Realm {
		return Credential{}, newUnsupportedCrossRealm(impersonated.String(), middleTgt.Client.Realm)
	}
	if !middleTgt.Forwardable() {
		return Credential{}, newPreconditionViolation("S4U2self needs FORWARDABLE")
	}

	sname := middleTgt.Client
	cred, err := e.resolver.resolveOne(
		ctx,
		uuid.New().String(),
		OptForwardable,
		middleTgt,
		middleTgt.Client,
		middleTgt.ClientAlias,
		sname,
		sname,
		nil,
		[]types.PAData{newPaForUser(impersonated)},
	)
	if err != nil {
		return Credential{}, err
	}

	if !cred.Client.Equal(impersonated) || !cred.Forwardable() {
		return Credential{}, newKdcRefused("S4U2self reply did not return the impersonated client as forwardable")
	}
	return cred, nil
}

// AcquireS4U2Proxy implements C7's S4U2proxy front-end: middleTgt's owner
// presents evidenceTicket (normally the result of a prior AcquireS4U2Self
// call) to obtain a further ticket to backendSpn on the impersonated
// user's behalf, implementing constrained delegation.
func (e *Engine) AcquireS4U2Proxy(ctx context.Context, backendSpn string, evidenceTicket messages.Ticket, expectedClient Principal, middleTgt Credential) (Credential, error) {
	backendName, err := ParsePrincipal(backendSpn)
	if err != nil {
		return Credential{}, newProtocolError("invalid backend service principal name", err)
	}

	cred, err := e.resolver.resolveOne(
		ctx,
		uuid.New().String(),
		OptCnameInAddlTkt|OptForwardable,
		middleTgt,
		middleTgt.Client,
		middleTgt.ClientAlias,
		backendName,
		backendName,
		[]messages.Ticket{evidenceTicket},
		nil,
	)
	if err != nil {
		return Credential{}, err
	}

	if !cred.Client.Equal(expectedClient) {
		return Credential{}, newKdcRefused("S4U2proxy reply client does not match the evidence ticket's client")
	}
	return cred, nil
}
