package p2p

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mr-tron/base58"
)

const identityKeyFile = "identity.key"

// Identity is the node's persistent self-identifier, presented as the
// node_id field of a handshake (§4.10).
type Identity struct {
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// NodeID renders the identity's public key the same way internal/crypto
// renders an address: base58 over the raw key bytes.
func (id Identity) NodeID() string {
	return base58.Encode(id.Public)
}

// LoadOrCreateIdentity loads a persistent node identity key from dataDir,
// or generates and saves a new one if none exists. This keeps node_id
// stable across restarts.
func LoadOrCreateIdentity(dataDir string) (Identity, error) {
	keyPath := filepath.Join(dataDir, identityKeyFile)

	data, err := os.ReadFile(keyPath)
	if err == nil {
		if len(data) != ed25519.PrivateKeySize {
			return Identity{}, fmt.Errorf("identity key has wrong size %d", len(data))
		}
		priv := ed25519.PrivateKey(data)
		return Identity{Public: priv.Public().(ed25519.PublicKey), private: priv}, nil
	}
	if !os.IsNotExist(err) {
		return Identity{}, fmt.Errorf("read identity key: %w", err)
	}

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return Identity{}, fmt.Errorf("generate identity key: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return Identity{}, fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(keyPath, priv, 0600); err != nil {
		return Identity{}, fmt.Errorf("write identity key: %w", err)
	}

	return Identity{Public: pub, private: priv}, nil
}
