package txvalidator

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// DurableNonce identifies the nonce account that replaces the recent blockhash
type DurableNonce struct {
	Account   solana.PublicKey `json:"account"`
	Authority solana.PublicKey `json:"authority"`
	Value     solana.Hash      `json:"value"`
}

// DetectDurableNonce reports a durable nonce when the first instruction is a System AdvanceNonceAccount.
// The nonce value is carried in the message's recent blockhash field.
func DetectDurableNonce(tx Transaction) (*DurableNonce, bool) {
	ixs := tx.Instructions()
	if len(ixs) == 0 {
		return nil, false
	}
	ix := ixs[0]
	keys := tx.AccountKeys()

	if int(ix.ProgramIDIndex) >= len(keys) || !keys[ix.ProgramIDIndex].Equals(SystemProgramID) {
		return nil, false
	}
	if len(ix.Data) < 4 || binary.LittleEndian.Uint32(ix.Data) != sysAdvanceNonceAccount {
		return nil, false
	}
	// accounts: nonce, RecentBlockhashes sysvar, authority
	if len(ix.Accounts) < 3 {
		return nil, false
	}
	nonceIdx, authIdx := int(ix.Accounts[0]), int(ix.Accounts[2])
	if nonceIdx >= len(keys) || authIdx >= len(keys) {
		return nil, false
	}

	return &DurableNonce{
		Account:   keys[nonceIdx],
		Authority: keys[authIdx],
		Value:     tx.RecentBlockhash(),
	}, true
}

// ReplayKey is "nonce:<account>:<value>" for durable-nonce transactions and "blockhash:<hash>" otherwise
func ReplayKey(tx Transaction) string {
	if n, ok := DetectDurableNonce(tx); ok {
		return fmt.Sprintf("nonce:%s:%s", n.Account, n.Value)
	}
	return fmt.Sprintf("blockhash:%s", tx.RecentBlockhash())
}

// MessageHash is the hex SHA-256 of the serialized message
func MessageHash(tx Transaction) string {
	sum := sha256.Sum256(tx.SerializedMessage())
	return hex.EncodeToString(sum[:])
}
