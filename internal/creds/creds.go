// Package creds resolves an opaque per-user, per-venue credential handle
// to the decrypted (api_key, secret, passphrase?) an adapter call needs.
// The storage format behind the handle is intentionally out of scope
// here — this provider treats the handle as the name of an environment
// variable holding a "key:secret:passphrase" triple, the same
// env-var-backed credential loading a single-account bot would do for
// its own exchange keys, generalized to one handle per user/venue.
package creds

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/web3guy0/whalecopy/internal/exchange"
)

// ErrNotConfigured is returned when a handle's backing env var is unset.
var ErrNotConfigured = fmt.Errorf("credential handle not configured")

// EnvProvider implements exchange.CredentialProvider by looking the
// handle up as an environment variable name.
type EnvProvider struct{}

func NewEnvProvider() EnvProvider { return EnvProvider{} }

// Resolve parses handle's backing env var as "apiKey:apiSecret[:passphrase]".
func (EnvProvider) Resolve(ctx context.Context, handle string) (exchange.Credentials, error) {
	if handle == "" {
		return exchange.Credentials{}, ErrNotConfigured
	}
	raw := os.Getenv(handle)
	if raw == "" {
		return exchange.Credentials{}, ErrNotConfigured
	}

	parts := strings.SplitN(raw, ":", 3)
	if len(parts) < 2 {
		return exchange.Credentials{}, fmt.Errorf("malformed credential value for handle %q", handle)
	}
	out := exchange.Credentials{APIKey: parts[0], APISecret: parts[1]}
	if len(parts) == 3 {
		out.Passphrase = parts[2]
	}
	return out, nil
}
