// Package resolve turns what a user typed as a recipient into an address.
package resolve

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	trustroute "github.com/dhays4sports/usdc-bot"
)

// Resolver resolves literal addresses locally and delegates names to an
// optional remote resolver.
type Resolver struct {
	remote trustroute.NameResolver
}

// New creates a Resolver. remote may be nil, in which case only literal
// addresses resolve.
func New(remote trustroute.NameResolver) *Resolver {
	return &Resolver{remote: remote}
}

// Resolve implements trustroute.NameResolver.
func (r *Resolver) Resolve(ctx context.Context, input string) (trustroute.Resolution, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return trustroute.Resolution{OK: false, Message: "Missing input"}, nil
	}

	if trustroute.IsAddress(input) && common.IsHexAddress(input) {
		return trustroute.Resolution{OK: true, Address: input}, nil
	}

	if r.remote == nil {
		return trustroute.Resolution{OK: false, Message: "Unsupported name. Use a 0x address."}, nil
	}

	return r.remote.Resolve(ctx, input)
}

var (
	_ trustroute.NameResolver = (*Resolver)(nil)
	_ trustroute.NameResolver = (*Client)(nil)
)
