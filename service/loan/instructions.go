package loan

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Anchor instruction discriminators: sha256("global:<name>")[:8].
var (
	createLoanDiscriminator  = anchorDiscriminator("global:create_loan")
	makePaymentDiscriminator = anchorDiscriminator("global:make_payment")
	loanAccountDiscriminator = anchorDiscriminator("account:LoanAccount")
)

func anchorDiscriminator(preimage string) []byte {
	h := sha256.Sum256([]byte(preimage))
	return h[:8]
}

// createLoanArgs is the borsh-encoded argument block of the create_loan
// instruction. The timestamp is carried on-chain because the loan address
// derivation includes it; the program stores it as the loan start time.
type createLoanArgs struct {
	LoanAmount uint64
	APY        uint64
	Duration   int64
	Timestamp  int64
}

type makePaymentArgs struct {
	PaymentAmount uint64
}

// NewCreateLoanInstruction builds the loan program's create_loan instruction.
// Account order follows the program: loan account, lender (signer), borrower,
// system program.
func NewCreateLoanInstruction(
	programID solana.PublicKey,
	loanAccount solana.PublicKey,
	lender solana.PublicKey,
	borrower solana.PublicKey,
	amount, apy uint64,
	duration, timestampMillis int64,
) (solana.Instruction, error) {
	data, err := encodeAnchorData(createLoanDiscriminator, createLoanArgs{
		LoanAmount: amount,
		APY:        apy,
		Duration:   duration,
		Timestamp:  timestampMillis,
	})
	if err != nil {
		return nil, err
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(loanAccount, true, false),
		solana.NewAccountMeta(lender, true, true),
		solana.NewAccountMeta(borrower, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

// NewMakePaymentInstruction builds the loan program's make_payment
// instruction. The borrower signs and lamports flow to the lender, so both
// are writable.
func NewMakePaymentInstruction(
	programID solana.PublicKey,
	loanAccount solana.PublicKey,
	borrower solana.PublicKey,
	lender solana.PublicKey,
	amount uint64,
) (solana.Instruction, error) {
	data, err := encodeAnchorData(makePaymentDiscriminator, makePaymentArgs{
		PaymentAmount: amount,
	})
	if err != nil {
		return nil, err
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(loanAccount, true, false),
		solana.NewAccountMeta(borrower, true, true),
		solana.NewAccountMeta(lender, true, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
	}
	return solana.NewInstruction(programID, accounts, data), nil
}

func encodeAnchorData(discriminator []byte, args interface{}) ([]byte, error) {
	buf := new(bytes.Buffer)
	buf.Write(discriminator)
	if err := bin.NewBorshEncoder(buf).Encode(args); err != nil {
		return nil, fmt.Errorf("failed to encode instruction args: %w", err)
	}
	return buf.Bytes(), nil
}

// NewCreateAccountWithSeedInstruction builds a system-program
// CreateAccountWithSeed instruction. The funder is also the derivation base,
// so it is the only signer.
//
// Data layout (bincode): u32 instruction index (3), base key, seed as a
// u64-length-prefixed string, lamports u64, space u64, owner key.
func NewCreateAccountWithSeedInstruction(
	funder solana.PublicKey,
	newAccount solana.PublicKey,
	seed string,
	lamports, space uint64,
	owner solana.PublicKey,
) solana.Instruction {
	data := make([]byte, 0, 4+32+8+len(seed)+8+8+32)
	data = appendUint32(data, 3)
	data = append(data, funder[:]...)
	data = appendUint64(data, uint64(len(seed)))
	data = append(data, seed...)
	data = appendUint64(data, lamports)
	data = appendUint64(data, space)
	data = append(data, owner[:]...)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(funder, true, true),
		solana.NewAccountMeta(newAccount, true, false),
	}
	return solana.NewInstruction(solana.SystemProgramID, accounts, data)
}

func appendUint32(b []byte, v uint32) []byte {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return append(b, buf[:]...)
}

func appendUint64(b []byte, v uint64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return append(b, buf[:]...)
}
