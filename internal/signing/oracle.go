// Package signing is the keystore boundary: every outbound transaction is
// signed through an Oracle rather than by handling private key material
// directly in the trading components (spec §5 Non-goals: "Keystore
// encryption... is an interface only").
package signing

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Oracle signs a message for a given public key. Implementations own
// whatever key material or remote-signing protocol backs them; callers
// never see the private key.
type Oracle interface {
	Sign(ctx context.Context, message []byte, pubkey solana.PublicKey) (solana.Signature, error)
	PublicKey() solana.PublicKey
}

// StaticKeyOracle signs in-process with a held private key. It exists for
// tests and local/dev operation, not as a production keystore.
type StaticKeyOracle struct {
	key solana.PrivateKey
}

// NewStaticKeyOracle wraps a private key directly.
func NewStaticKeyOracle(key solana.PrivateKey) *StaticKeyOracle {
	return &StaticKeyOracle{key: key}
}

func (o *StaticKeyOracle) Sign(_ context.Context, message []byte, pubkey solana.PublicKey) (solana.Signature, error) {
	if pubkey != o.key.PublicKey() {
		return solana.Signature{}, fmt.Errorf("signing: oracle holds key %s, asked to sign for %s", o.key.PublicKey(), pubkey)
	}
	return o.key.Sign(message)
}

func (o *StaticKeyOracle) PublicKey() solana.PublicKey {
	return o.key.PublicKey()
}
