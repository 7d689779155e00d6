package wallet

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Signer is the exclusively-owned signing capability of one fee payer
type Signer struct {
	priv solana.PrivateKey
	pub  solana.PublicKey
}

// NewSigner parses a base58-encoded 64-byte key or a solana-keygen JSON array
func NewSigner(privateKey string) (*Signer, error) {
	if strings.TrimSpace(privateKey) == "" {
		return nil, fmt.Errorf("wallet: private key is required")
	}
	priv, err := parsePrivateKey(privateKey)
	if err != nil {
		return nil, err
	}
	return FromPrivateKey(priv), nil
}

// FromPrivateKey wraps an already-decoded key
func FromPrivateKey(priv solana.PrivateKey) *Signer {
	return &Signer{priv: priv, pub: priv.PublicKey()}
}

// ParsePrivateKeys parses a comma-separated list of keys.
// JSON-array keys contain commas themselves, so list entries are split on "]," first.
func ParsePrivateKeys(list string) ([]*Signer, error) {
	var entries []string
	s := strings.TrimSpace(list)
	for s != "" {
		var entry string
		if strings.HasPrefix(s, "[") {
			end := strings.Index(s, "]")
			if end < 0 {
				return nil, fmt.Errorf("wallet: unterminated JSON private key")
			}
			entry, s = s[:end+1], s[end+1:]
		} else if idx := strings.Index(s, ","); idx >= 0 {
			entry, s = s[:idx], s[idx:]
		} else {
			entry, s = s, ""
		}
		entries = append(entries, strings.TrimSpace(entry))
		s = strings.TrimLeft(strings.TrimSpace(s), ",")
		s = strings.TrimSpace(s)
	}

	if len(entries) == 0 {
		return nil, fmt.Errorf("wallet: no private keys configured")
	}

	signers := make([]*Signer, 0, len(entries))
	seen := make(map[solana.PublicKey]struct{}, len(entries))
	for i, e := range entries {
		sg, err := NewSigner(e)
		if err != nil {
			return nil, fmt.Errorf("wallet: key %d: %w", i, err)
		}
		if _, dup := seen[sg.pub]; dup {
			return nil, fmt.Errorf("wallet: key %d: duplicate fee payer %s", i, sg.pub)
		}
		seen[sg.pub] = struct{}{}
		signers = append(signers, sg)
	}
	return signers, nil
}

func (s *Signer) Address() string             { return s.pub.String() }
func (s *Signer) PublicKey() solana.PublicKey { return s.pub }

func parsePrivateKey(s string) (solana.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return nil, fmt.Errorf("wallet: invalid JSON private key: %w", err)
		}
		b := make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("wallet: invalid byte at %d: %d", i, v)
			}
			b[i] = byte(v)
		}
		if len(b) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("wallet: expected %d bytes, got %d", ed25519.PrivateKeySize, len(b))
		}
		return solana.PrivateKey(ed25519.PrivateKey(b)), nil
	}

	raw, err := base58.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("wallet: invalid base58 private key: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wallet: expected %d bytes, got %d", ed25519.PrivateKeySize, len(raw))
	}
	return solana.PrivateKey(ed25519.PrivateKey(raw)), nil
}
