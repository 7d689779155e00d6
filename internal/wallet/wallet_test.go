package wallet

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonKey(t *testing.T, priv solana.PrivateKey) string {
	t.Helper()
	ints := make([]int, len(priv))
	for i, b := range priv {
		ints[i] = int(b)
	}
	out, err := json.Marshal(ints)
	require.NoError(t, err)
	return string(out)
}

func TestNewSigner_Base58AndJSON(t *testing.T) {
	w := solana.NewWallet()

	fromB58, err := NewSigner(base58.Encode(w.PrivateKey))
	require.NoError(t, err)
	assert.Equal(t, w.PublicKey(), fromB58.PublicKey())

	fromJSON, err := NewSigner(jsonKey(t, w.PrivateKey))
	require.NoError(t, err)
	assert.Equal(t, w.PublicKey().String(), fromJSON.Address())
}

func TestNewSigner_Invalid(t *testing.T) {
	for _, in := range []string{"", "   ", "not-base58-0OIl", "[1,2,3]", "[1,2,300]"} {
		_, err := NewSigner(in)
		assert.Error(t, err, in)
	}
}

func TestParsePrivateKeys(t *testing.T) {
	a, b, c := solana.NewWallet(), solana.NewWallet(), solana.NewWallet()
	list := strings.Join([]string{
		base58.Encode(a.PrivateKey),
		jsonKey(t, b.PrivateKey),
		" " + base58.Encode(c.PrivateKey) + " ",
	}, ",")

	signers, err := ParsePrivateKeys(list)
	require.NoError(t, err)
	require.Len(t, signers, 3)
	assert.Equal(t, a.PublicKey(), signers[0].PublicKey())
	assert.Equal(t, b.PublicKey(), signers[1].PublicKey())
	assert.Equal(t, c.PublicKey(), signers[2].PublicKey())
}

func TestParsePrivateKeys_RejectsDuplicatesAndEmpty(t *testing.T) {
	a := solana.NewWallet()
	_, err := ParsePrivateKeys(base58.Encode(a.PrivateKey) + "," + base58.Encode(a.PrivateKey))
	assert.ErrorContains(t, err, "duplicate")

	_, err = ParsePrivateKeys("")
	assert.Error(t, err)
}

func TestSigner_CoSign(t *testing.T) {
	payer := solana.NewWallet()
	user := solana.NewWallet()
	s := FromPrivateKey(payer.PrivateKey)

	ix := system.NewTransferInstruction(100, user.PublicKey(), solana.NewWallet().PublicKey()).Build()
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{7}, solana.TransactionPayer(payer.PublicKey()))
	require.NoError(t, err)

	// user signs first, leaving the fee payer slot empty
	msg, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	userSig, err := user.PrivateKey.Sign(msg)
	require.NoError(t, err)
	tx.Signatures = []solana.Signature{{}, userSig}

	require.NoError(t, s.CoSign(tx))
	require.Len(t, tx.Signatures, 2)
	assert.True(t, tx.Signatures[0].Verify(payer.PublicKey(), msg))
	assert.Equal(t, userSig, tx.Signatures[1])
	assert.NoError(t, tx.VerifySignatures())
}

func TestSigner_CoSignRejectsForeignPayer(t *testing.T) {
	other := solana.NewWallet()
	s := FromPrivateKey(solana.NewWallet().PrivateKey)

	ix := system.NewTransferInstruction(1, other.PublicKey(), solana.NewWallet().PublicKey()).Build()
	tx, err := solana.NewTransaction([]solana.Instruction{ix}, solana.Hash{1}, solana.TransactionPayer(other.PublicKey()))
	require.NoError(t, err)

	assert.ErrorIs(t, s.CoSign(tx), ErrNotFeePayer)
}
