package wallet

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// ErrNotFeePayer is returned when asked to co-sign a transaction paid by another account
var ErrNotFeePayer = errors.New("signer is not the transaction fee payer")

// CoSign fills the fee-payer signature slot (index 0) of a user-signed transaction.
// Existing user signatures are left untouched.
func (s *Signer) CoSign(tx *solana.Transaction) error {
	if len(tx.Message.AccountKeys) == 0 || !tx.Message.AccountKeys[0].Equals(s.pub) {
		return ErrNotFeePayer
	}

	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to serialize message: %w", err)
	}

	sig, err := s.priv.Sign(msg)
	if err != nil {
		return fmt.Errorf("failed to sign message: %w", err)
	}

	required := int(tx.Message.Header.NumRequiredSignatures)
	for len(tx.Signatures) < required {
		tx.Signatures = append(tx.Signatures, solana.Signature{})
	}
	tx.Signatures[0] = sig
	return nil
}
