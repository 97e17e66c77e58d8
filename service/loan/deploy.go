package loan

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	solclient "github.com/loanme/loanme/service/solana"
)

// BPF loader instruction indices (bincode u32 enum).
const (
	loaderWriteIndex    uint32 = 0
	loaderFinalizeIndex uint32 = 1
)

// Chunk is one transaction-sized slice of a program binary, carrying the
// byte offset it is written at.
type Chunk struct {
	Offset uint32
	Bytes  []byte
}

// SplitChunks splits a program binary into fixed-size chunks. A binary of
// size N with chunk size C yields exactly ceil(N/C) chunks in offset order;
// only the last chunk may be short.
func SplitChunks(binary []byte, chunkSize int) []Chunk {
	chunks := make([]Chunk, 0, (len(binary)+chunkSize-1)/chunkSize)
	for offset := 0; offset < len(binary); offset += chunkSize {
		end := offset + chunkSize
		if end > len(binary) {
			end = len(binary)
		}
		chunks = append(chunks, Chunk{
			Offset: uint32(offset),
			Bytes:  binary[offset:end],
		})
	}
	return chunks
}

// NewLoaderWriteInstruction builds a BPF loader Write instruction carrying
// one chunk. Data layout (bincode): u32 index, u32 offset, u64-length-prefixed
// bytes.
func NewLoaderWriteInstruction(programAccount solana.PublicKey, chunk Chunk) solana.Instruction {
	data := make([]byte, 0, 4+4+8+len(chunk.Bytes))
	data = appendUint32(data, loaderWriteIndex)
	data = appendUint32(data, chunk.Offset)
	data = appendUint64(data, uint64(len(chunk.Bytes)))
	data = append(data, chunk.Bytes...)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(programAccount, true, true),
	}
	return solana.NewInstruction(solana.BPFLoaderProgramID, accounts, data)
}

// NewLoaderFinalizeInstruction builds the BPF loader Finalize instruction
// that marks the written account executable.
func NewLoaderFinalizeInstruction(programAccount solana.PublicKey) solana.Instruction {
	data := appendUint32(nil, loaderFinalizeIndex)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(programAccount, true, true),
		solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
	}
	return solana.NewInstruction(solana.BPFLoaderProgramID, accounts, data)
}

// DeployParams are the inputs to DeployProgram.
type DeployParams struct {
	Payer      solana.PrivateKey
	Binary     []byte
	ChunkSize  int
	ChunkDelay time.Duration
}

// DeployResult reports the freshly deployed program and the finalize
// signature, which callers poll via GET /api/deploy/{signature}.
type DeployResult struct {
	ProgramID solana.PublicKey
	Signature solana.Signature
	Chunks    int
}

// DeployProgram deploys a program binary under a fresh keypair: it creates a
// rent-exempt loader-owned account sized to the binary, writes the binary in
// sequential fixed-size chunks with a fixed pause between them, then
// finalizes. Chunks are strictly serial; the only retry anywhere is a single
// fixed-delay re-attempt when a chunk write hits a rate limit. There is no
// checkpointing: a failure mid-sequence abandons the program account and the
// whole deployment starts over with a fresh address.
func (o *Orchestrator) DeployProgram(ctx context.Context, params DeployParams) (*DeployResult, error) {
	if len(params.Binary) == 0 {
		return nil, fmt.Errorf("program binary is empty")
	}
	if params.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", params.ChunkSize)
	}

	program := solana.NewWallet()
	payer := params.Payer.PublicKey()
	signers := []solana.PrivateKey{params.Payer, program.PrivateKey}

	rent, err := o.chain.RentExemptBalance(ctx, uint64(len(params.Binary)))
	if err != nil {
		o.recordDeployment(err)
		return nil, fmt.Errorf("failed to fetch rent-exempt balance: %w", err)
	}

	createIx := system.NewCreateAccountInstruction(
		rent,
		uint64(len(params.Binary)),
		solana.BPFLoaderProgramID,
		payer,
		program.PublicKey(),
	).Build()

	o.logger.InfoContext(ctx, "deploying program",
		"program_id", program.PublicKey().String(),
		"binary_size", len(params.Binary),
		"chunk_size", params.ChunkSize,
	)

	if _, err := o.chain.SignAndSubmit(ctx, []solana.Instruction{createIx}, payer, signers); err != nil {
		o.recordDeployment(err)
		return nil, fmt.Errorf("failed to create program account: %w", err)
	}

	chunks := SplitChunks(params.Binary, params.ChunkSize)
	for i, chunk := range chunks {
		ix := NewLoaderWriteInstruction(program.PublicKey(), chunk)

		_, err := o.chain.SignAndSubmit(ctx, []solana.Instruction{ix}, payer, signers)
		if err != nil && solclient.IsRateLimited(err) {
			o.logger.WarnContext(ctx, "rate limited during deploy, re-attempting chunk",
				"chunk", i,
				"offset", chunk.Offset,
			)
			if err = sleepCtx(ctx, params.ChunkDelay); err == nil {
				_, err = o.chain.SignAndSubmit(ctx, []solana.Instruction{ix}, payer, signers)
			}
		}
		if err != nil {
			o.recordDeployment(err)
			return nil, fmt.Errorf("failed to write chunk %d/%d at offset %d: %w", i+1, len(chunks), chunk.Offset, err)
		}

		if o.metrics != nil {
			o.metrics.RecordDeployChunks(1)
		}
		o.logger.DebugContext(ctx, "wrote program chunk",
			"chunk", i+1,
			"total", len(chunks),
			"offset", chunk.Offset,
			"bytes", len(chunk.Bytes),
		)

		if i < len(chunks)-1 {
			if err := sleepCtx(ctx, params.ChunkDelay); err != nil {
				o.recordDeployment(err)
				return nil, err
			}
		}
	}

	finalizeIx := NewLoaderFinalizeInstruction(program.PublicKey())
	sig, err := o.chain.SignAndSubmit(ctx, []solana.Instruction{finalizeIx}, payer, signers)
	o.recordDeployment(err)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize program: %w", err)
	}

	o.logger.InfoContext(ctx, "program deployed",
		"program_id", program.PublicKey().String(),
		"signature", sig.String(),
		"chunks", len(chunks),
	)

	return &DeployResult{
		ProgramID: program.PublicKey(),
		Signature: sig,
		Chunks:    len(chunks),
	}, nil
}

// DeployStatus returns the confirmation status of a deployment signature.
func (o *Orchestrator) DeployStatus(ctx context.Context, sig solana.Signature) (string, error) {
	return o.chain.ConfirmationStatus(ctx, sig)
}

func (o *Orchestrator) recordDeployment(err error) {
	if o.metrics == nil {
		return
	}
	if err != nil {
		o.metrics.RecordDeployment("error")
		return
	}
	o.metrics.RecordDeployment("success")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
	}
	return nil
}
