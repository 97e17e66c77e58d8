package loan

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// loanSeedTag is the fixed tag prefixed to the loan address derivation input.
const loanSeedTag = "loan"

// LoanAccountSpace is the on-chain size of a loan record: an 8-byte anchor
// account discriminator followed by two 32-byte keys, three u64s, two i64s,
// and a bool.
const LoanAccountSpace = 8 + 32 + 32 + 8 + 8 + 8 + 8 + 8 + 1

// LoanAccount mirrors the on-chain loan record. Field order matters: it is
// decoded with borsh directly from account data.
type LoanAccount struct {
	Lender     solana.PublicKey
	Borrower   solana.PublicKey
	Amount     uint64
	APY        uint64
	PaidAmount uint64
	StartTime  int64
	Duration   int64
	IsActive   bool
}

// DeriveLoanAddress deterministically derives the loan account address for a
// (lender, borrower, timestamp) triple. The millisecond timestamp namespaces
// the derivation so repeated loans between the same pair do not collide.
//
// The derivation hashes tag || lender || borrower || timestamp and uses the
// first 16 bytes, hex-encoded, as a create-with-seed seed under the loan
// program. The seed is returned alongside the address because the
// create-account instruction needs it verbatim.
func DeriveLoanAddress(
	lender, borrower solana.PublicKey,
	timestampMillis int64,
	programID solana.PublicKey,
) (solana.PublicKey, string, error) {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestampMillis))

	h := sha256.New()
	h.Write([]byte(loanSeedTag))
	h.Write(lender[:])
	h.Write(borrower[:])
	h.Write(ts[:])
	digest := h.Sum(nil)

	// 16 bytes hex-encoded is 32 characters, the max seed length.
	seed := hex.EncodeToString(digest[:16])

	address, err := solana.CreateWithSeed(lender, seed, programID)
	if err != nil {
		return solana.PublicKey{}, "", fmt.Errorf("failed to derive loan address: %w", err)
	}
	return address, seed, nil
}

// DecodeLoanAccount decodes raw account data into a LoanAccount, verifying
// the anchor account discriminator first.
func DecodeLoanAccount(data []byte) (*LoanAccount, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("account data too short: %d bytes", len(data))
	}
	if !bytes.Equal(data[:8], loanAccountDiscriminator) {
		return nil, fmt.Errorf("account discriminator mismatch: not a loan account")
	}

	var account LoanAccount
	if err := bin.NewBorshDecoder(data[8:]).Decode(&account); err != nil {
		return nil, fmt.Errorf("failed to decode loan account: %w", err)
	}
	return &account, nil
}
