package pumpfun

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const defaultComputeUnitLimit = uint32(200_000)

// ComputeBudgetProgram is Solana's native compute-budget program.
var ComputeBudgetProgram = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

const (
	computeBudgetSetUnitLimitDiscriminator = byte(2)
	computeBudgetSetUnitPriceDiscriminator = byte(3)
)

func setComputeUnitLimitInstruction(units uint32) solana.Instruction {
	data := make([]byte, 1+4)
	data[0] = computeBudgetSetUnitLimitDiscriminator
	binary.LittleEndian.PutUint32(data[1:], units)
	return solana.NewInstruction(ComputeBudgetProgram, solana.AccountMetaSlice{}, data)
}

func setComputeUnitPriceInstruction(microLamports uint64) solana.Instruction {
	data := make([]byte, 1+8)
	data[0] = computeBudgetSetUnitPriceDiscriminator
	binary.LittleEndian.PutUint64(data[1:], microLamports)
	return solana.NewInstruction(ComputeBudgetProgram, solana.AccountMetaSlice{}, data)
}

// BuildBuyParams carries everything PumpfunBuilder.BuildBuy needs beyond the
// cached curve state (spec §4.5).
type BuildBuyParams struct {
	Mint                 solana.PublicKey
	Buyer                solana.PublicKey
	AmountSOLLamports    uint64
	MaxSlippageBps       int
	PriorityFeeMicroLamports uint64
	RecentBlockhash      solana.Hash
}

// Builder prices and builds unsigned Pump.fun buy transactions.
type Builder struct {
	curves *CurveCache
}

// NewBuilder wraps a CurveCache.
func NewBuilder(curves *CurveCache) *Builder {
	return &Builder{curves: curves}
}

// Quote returns the expected tokens out for an amount of SOL, without
// building a transaction. Returns ErrCurveComplete if the curve has
// graduated to Raydium.
func (b *Builder) Quote(ctx context.Context, mint solana.PublicKey, amountSOLLamports uint64) (uint64, error) {
	_, curve, err := b.curves.Get(ctx, mint)
	if err != nil {
		return 0, err
	}
	if curve.Complete {
		return 0, ErrCurveComplete{Mint: mint}
	}
	return curve.ComputeTokensOut(amountSOLLamports), nil
}

// BuildBuy builds an unsigned versioned transaction performing: set compute
// unit limit, set compute unit price, idempotently create the buyer's
// associated token account for mint, then the Pump.fun "buy" instruction
// (spec §4.5). The transaction is not signed; callers route it through the
// signing oracle boundary.
func (b *Builder) BuildBuy(ctx context.Context, p BuildBuyParams) (*solana.Transaction, error) {
	curveAddr, curve, err := b.curves.Get(ctx, p.Mint)
	if err != nil {
		return nil, err
	}
	if curve.Complete {
		return nil, ErrCurveComplete{Mint: p.Mint}
	}

	tokensOut := curve.ComputeTokensOut(p.AmountSOLLamports)
	if tokensOut == 0 {
		return nil, fmt.Errorf("pumpfun: quoted zero tokens out for %d lamports", p.AmountSOLLamports)
	}
	minTokensOut := applySlippageFloor(tokensOut, p.MaxSlippageBps)

	ata, _, err := solana.FindProgramAddress(
		[][]byte{p.Buyer.Bytes(), TokenProgram.Bytes(), p.Mint.Bytes()},
		AssociatedTokenProgram,
	)
	if err != nil {
		return nil, fmt.Errorf("pumpfun: derive associated token account: %w", err)
	}

	bondingCurveVault, _, err := solana.FindProgramAddress(
		[][]byte{curveAddr.Bytes(), TokenProgram.Bytes(), p.Mint.Bytes()},
		AssociatedTokenProgram,
	)
	if err != nil {
		return nil, fmt.Errorf("pumpfun: derive bonding curve vault: %w", err)
	}

	instrs := []solana.Instruction{
		setComputeUnitLimitInstruction(defaultComputeUnitLimit),
		setComputeUnitPriceInstruction(p.PriorityFeeMicroLamports),
		createIdempotentATAInstruction(p.Buyer, p.Buyer, p.Mint, ata),
		buyInstruction(p.Mint, curveAddr, bondingCurveVault, ata, p.Buyer, minTokensOut, p.AmountSOLLamports),
	}

	tx, err := solana.NewTransaction(instrs, p.RecentBlockhash, solana.TransactionPayer(p.Buyer))
	if err != nil {
		return nil, fmt.Errorf("pumpfun: build transaction: %w", err)
	}
	return tx, nil
}

// applySlippageFloor computes the minimum acceptable token amount given a
// max-slippage-bps tolerance on the quoted amount.
func applySlippageFloor(quoted uint64, maxSlippageBps int) uint64 {
	if maxSlippageBps <= 0 {
		return quoted
	}
	if maxSlippageBps >= 10_000 {
		return 0
	}
	reduction := uint128Div(uint128Mul(quoted, uint64(maxSlippageBps)), 10_000)
	if reduction >= quoted {
		return 0
	}
	return quoted - reduction
}

// buyInstruction encodes the 8-byte anchor discriminator, the minimum
// acceptable token amount, and the max_sol_cost spend cap, followed by the
// 12 documented accounts in order (spec §4.5).
func buyInstruction(mint, curve, curveVault, buyerATA, buyer solana.PublicKey, minTokensOut, maxSolCost uint64) solana.Instruction {
	data := make([]byte, 8+8+8)
	copy(data[0:8], buyDiscriminator[:])
	binary.LittleEndian.PutUint64(data[8:16], minTokensOut)
	binary.LittleEndian.PutUint64(data[16:24], maxSolCost)

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(GlobalAddr, false, false),
		solana.NewAccountMeta(FeeRecipient, true, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(curve, true, false),
		solana.NewAccountMeta(curveVault, true, false),
		solana.NewAccountMeta(buyerATA, true, false),
		solana.NewAccountMeta(buyer, true, true),
		solana.NewAccountMeta(SystemProgram, false, false),
		solana.NewAccountMeta(TokenProgram, false, false),
		solana.NewAccountMeta(RentSysvar, false, false),
		solana.NewAccountMeta(EventAuthority, false, false),
		solana.NewAccountMeta(ProgramID, false, false),
	}

	return solana.NewInstruction(ProgramID, accounts, data)
}

// ataCreateIdempotentDiscriminator is instruction index 1 of the SPL
// associated-token-account program ("CreateIdempotent").
const ataCreateIdempotentDiscriminator = byte(1)

func createIdempotentATAInstruction(payer, owner, mint, ata solana.PublicKey) solana.Instruction {
	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(payer, true, true),
		solana.NewAccountMeta(ata, true, false),
		solana.NewAccountMeta(owner, false, false),
		solana.NewAccountMeta(mint, false, false),
		solana.NewAccountMeta(SystemProgram, false, false),
		solana.NewAccountMeta(TokenProgram, false, false),
	}
	return solana.NewInstruction(AssociatedTokenProgram, accounts, []byte{ataCreateIdempotentDiscriminator})
}
