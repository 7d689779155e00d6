package txvalidator

import (
	"bytes"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ErrMalformedTransaction is returned for input that cannot be decoded as a transaction
var ErrMalformedTransaction = errors.New("malformed transaction")

var errNotVersioned = errors.New("not a versioned message")

// Transaction is the view of a decoded transaction shared by the legacy and v0 formats
type Transaction interface {
	Version() string
	AccountKeys() []solana.PublicKey
	FeePayer() solana.PublicKey
	Instructions() []solana.CompiledInstruction
	Signatures() []solana.Signature
	NumRequiredSignatures() int
	RecentBlockhash() solana.Hash
	LookupAccountCount() int
	SerializedMessage() []byte
	Underlying() *solana.Transaction
}

type decoded struct {
	tx      *solana.Transaction
	message []byte
}

func (d *decoded) AccountKeys() []solana.PublicKey            { return d.tx.Message.AccountKeys }
func (d *decoded) Instructions() []solana.CompiledInstruction { return d.tx.Message.Instructions }
func (d *decoded) Signatures() []solana.Signature             { return d.tx.Signatures }
func (d *decoded) RecentBlockhash() solana.Hash               { return d.tx.Message.RecentBlockhash }
func (d *decoded) SerializedMessage() []byte                  { return d.message }
func (d *decoded) Underlying() *solana.Transaction            { return d.tx }

func (d *decoded) NumRequiredSignatures() int {
	return int(d.tx.Message.Header.NumRequiredSignatures)
}

func (d *decoded) FeePayer() solana.PublicKey {
	if len(d.tx.Message.AccountKeys) == 0 {
		return solana.PublicKey{}
	}
	return d.tx.Message.AccountKeys[0]
}

// legacyTransaction addresses every account through the message's key list
type legacyTransaction struct{ decoded }

func (t *legacyTransaction) Version() string         { return "legacy" }
func (t *legacyTransaction) LookupAccountCount() int { return 0 }

// versionedTransaction may load extra accounts from address lookup tables.
// Those accounts are indexed after the static keys and are not known offline.
type versionedTransaction struct{ decoded }

func (t *versionedTransaction) Version() string { return "v0" }

func (t *versionedTransaction) LookupAccountCount() int {
	n := 0
	for _, l := range t.tx.Message.AddressTableLookups {
		n += len(l.WritableIndexes) + len(l.ReadonlyIndexes)
	}
	return n
}

// Decode parses wire bytes, trying the versioned format first and falling back to legacy
func Decode(raw []byte) (Transaction, error) {
	tx, err := decodeVersioned(raw)
	if errors.Is(err, errNotVersioned) {
		tx, err = decodeLegacy(raw)
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func decodeVersioned(raw []byte) (Transaction, error) {
	msgStart, err := messageOffset(raw)
	if err != nil {
		return nil, err
	}
	prefix := raw[msgStart]
	if prefix&0x80 == 0 {
		return nil, errNotVersioned
	}
	if version := prefix & 0x7f; version != 0 {
		return nil, fmt.Errorf("%w: unsupported message version %d", ErrMalformedTransaction, version)
	}

	d, err := decodeWire(raw, msgStart)
	if err != nil {
		return nil, err
	}
	if !d.tx.Message.IsVersioned() {
		return nil, fmt.Errorf("%w: version prefix set on legacy message", ErrMalformedTransaction)
	}
	return &versionedTransaction{decoded: *d}, nil
}

func decodeLegacy(raw []byte) (Transaction, error) {
	msgStart, err := messageOffset(raw)
	if err != nil {
		return nil, err
	}
	d, err := decodeWire(raw, msgStart)
	if err != nil {
		return nil, err
	}
	return &legacyTransaction{decoded: *d}, nil
}

func decodeWire(raw []byte, msgStart int) (*decoded, error) {
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}

	// the bytes the user signed must be exactly what we re-serialize when co-signing
	msg := raw[msgStart:]
	canonical, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	if !bytes.Equal(canonical, msg) {
		return nil, fmt.Errorf("%w: non-canonical message encoding or trailing bytes", ErrMalformedTransaction)
	}

	if err := checkStructure(tx); err != nil {
		return nil, err
	}
	return &decoded{tx: tx, message: msg}, nil
}

// messageOffset returns where the message starts: after the short-vec of 64-byte signatures
func messageOffset(raw []byte) (int, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("%w: empty payload", ErrMalformedTransaction)
	}
	count, err := bin.NewBinDecoder(raw).ReadCompactU16()
	if err != nil {
		return 0, fmt.Errorf("%w: signature count: %v", ErrMalformedTransaction, err)
	}

	start := compactU16Len(count) + count*SignatureSize
	if start >= len(raw) {
		return 0, fmt.Errorf("%w: truncated after %d signatures", ErrMalformedTransaction, count)
	}
	return start, nil
}

func compactU16Len(v int) int {
	switch {
	case v < 0x80:
		return 1
	case v < 0x4000:
		return 2
	default:
		return 3
	}
}

func checkStructure(tx *solana.Transaction) error {
	h := tx.Message.Header
	keys := len(tx.Message.AccountKeys)

	if keys == 0 {
		return fmt.Errorf("%w: no account keys", ErrMalformedTransaction)
	}
	if h.NumRequiredSignatures == 0 {
		return fmt.Errorf("%w: no required signers", ErrMalformedTransaction)
	}
	if int(h.NumRequiredSignatures) > keys {
		return fmt.Errorf("%w: %d required signers but %d account keys",
			ErrMalformedTransaction, h.NumRequiredSignatures, keys)
	}
	if len(tx.Signatures) != int(h.NumRequiredSignatures) {
		return fmt.Errorf("%w: %d signatures for %d required signers",
			ErrMalformedTransaction, len(tx.Signatures), h.NumRequiredSignatures)
	}
	return nil
}
