package gateway

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by FetchCharge when the gateway has no charge
// under the requested txid.
var ErrNotFound = errors.New("gateway: charge not found")

var errMissingToken = errors.New("response has no access_token")

// AuthError reports a failed credential exchange.
type AuthError struct {
	Status int
	Body   string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("gateway auth: %v", e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway auth: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("gateway auth: status %d: %s", e.Status, e.Body)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// GatewayError reports an upstream call that was rejected (Status/Body set
// verbatim) or never completed (Err set, Status zero). A zero Status means a
// transient failure such as a timeout.
type GatewayError struct {
	Op     string
	Status int
	Body   string
	Err    error
}

func (e *GatewayError) Error() string {
	switch {
	case e.Status == 0:
		return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("gateway %s: status %d: %v", e.Op, e.Status, e.Err)
	default:
		return fmt.Sprintf("gateway %s: status %d: %s", e.Op, e.Status, e.Body)
	}
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsGatewayFailure reports whether err came from the gateway or its
// authorization server.
func IsGatewayFailure(err error) bool {
	var ge *GatewayError
	var ae *AuthError
	return errors.As(err, &ge) || errors.As(err, &ae)
}
