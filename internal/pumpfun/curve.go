// Package pumpfun builds Pump.fun bonding-curve buy transactions (spec
// §4.5): it derives the curve PDA for a mint, fetches and caches the curve
// account, and prices buys/sells off the constant-product invariant the
// same way other_examples' pump-fun-sniper-bot talks to the program.
package pumpfun

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Program and well-known accounts, grounded on
// other_examples/0b829f60_1fge-pump-fun-sniper-bot__structs.go.go's
// PublicKey constants.
var (
	ProgramID     = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")
	GlobalAddr    = solana.MustPublicKeyFromBase58("4wTV1YmiEkRvAtNtsSGPtUrqRYQMe5SKy2uB4Jjaxnjf")
	FeeRecipient  = solana.MustPublicKeyFromBase58("CebN5WGQ4jvEPvsVU4EoHEpgzq1VV7AbicfhtW4xC9iM")
	EventAuthority = solana.MustPublicKeyFromBase58("Ce6TQqeHC9p8KetsN6JsjHK7UTZk7nasjjnr7XxXp9F1")
	RentSysvar    = solana.MustPublicKeyFromBase58("SysvarRent111111111111111111111111111111111")
	SystemProgram = solana.MustPublicKeyFromBase58("11111111111111111111111111111111")
	TokenProgram  = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
	AssociatedTokenProgram = solana.MustPublicKeyFromBase58("ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL")
)

// buyDiscriminator is the 8-byte anchor discriminator for the
// "buy" instruction (spec §4.5).
var buyDiscriminator = [8]byte{0x66, 0x06, 0x3d, 0x12, 0x01, 0xda, 0xeb, 0xea}

// Curve is the decoded bonding-curve account. Only the fields the buy/sell
// math needs are parsed (spec §7: "the curve layout beyond the documented
// fields is left unparsed").
type Curve struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

// decodeCurve parses the fixed-offset layout: 8-byte anchor discriminator,
// then five little-endian u64 fields, then a 1-byte bool.
func decodeCurve(data []byte) (Curve, error) {
	const minLen = 8 + 5*8 + 1
	if len(data) < minLen {
		return Curve{}, fmt.Errorf("pumpfun: curve account too short: %d bytes", len(data))
	}
	body := data[8:]
	var c Curve
	for i, f := range []*uint64{&c.VirtualTokenReserves, &c.VirtualSolReserves, &c.RealTokenReserves, &c.RealSolReserves, &c.TokenTotalSupply} {
		*f = binary.LittleEndian.Uint64(body[i*8 : i*8+8])
	}
	c.Complete = body[5*8] != 0
	return c, nil
}

// ComputeTokensOut is the constant-product quote for a buy of solIn
// lamports: tokens_out = (sol_in * virtual_token_reserves) / (virtual_sol_reserves + sol_in).
func (c Curve) ComputeTokensOut(solIn uint64) uint64 {
	if c.VirtualSolReserves+solIn == 0 {
		return 0
	}
	num := uint128Mul(solIn, c.VirtualTokenReserves)
	den := c.VirtualSolReserves + solIn
	return uint128Div(num, den)
}

// ComputeSolForTokens is the inverse quote, rounded up, for a sell/buy-exact
// of tokensOut tokens: sol = ceil((tokens_out * virtual_sol_reserves) / (virtual_token_reserves - tokens_out)).
func (c Curve) ComputeSolForTokens(tokensOut uint64) (uint64, error) {
	if tokensOut >= c.VirtualTokenReserves {
		return 0, fmt.Errorf("pumpfun: tokensOut %d exceeds virtual token reserves %d", tokensOut, c.VirtualTokenReserves)
	}
	num := uint128Mul(tokensOut, c.VirtualSolReserves)
	den := c.VirtualTokenReserves - tokensOut
	return uint128DivCeil(num, den), nil
}

// uint128 is a minimal 128-bit unsigned value used only to keep the
// curve math above from overflowing a 64-bit multiply.
type uint128 struct{ hi, lo uint64 }

func uint128Mul(a, b uint64) uint128 {
	hi, lo := mul64(a, b)
	return uint128{hi: hi, lo: lo}
}

func mul64(a, b uint64) (hi, lo uint64) {
	const mask32 = 1<<32 - 1
	aLo, aHi := a&mask32, a>>32
	bLo, bHi := b&mask32, b>>32

	low := aLo * bLo
	mid1 := aHi * bLo
	mid2 := aLo * bHi
	high := aHi * bHi

	carry := (low>>32 + mid1&mask32 + mid2&mask32) >> 32
	lo = low + (mid1+mid2)<<32
	hi = high + mid1>>32 + mid2>>32 + carry
	return hi, lo
}

func uint128Div(n uint128, d uint64) uint64 {
	if n.hi == 0 {
		return n.lo / d
	}
	// d is always the (small, practical) sol reserve delta in this domain;
	// bit-by-bit long division keeps this correct even if hi is non-zero.
	var quotient, remainder uint64
	for i := 127; i >= 0; i-- {
		remainder <<= 1
		var bit uint64
		if i >= 64 {
			bit = (n.hi >> uint(i-64)) & 1
		} else {
			bit = (n.lo >> uint(i)) & 1
		}
		remainder |= bit
		if remainder >= d {
			remainder -= d
			quotient |= 1 << uint(i)
		}
	}
	return quotient
}

func uint128DivCeil(n uint128, d uint64) uint64 {
	q := uint128Div(n, d)
	// recover remainder to decide rounding
	prod := uint128Mul(q, d)
	if prod.hi != n.hi || prod.lo != n.lo {
		q++
	}
	return q
}

// DeriveCurveAddress finds the bonding-curve PDA for mint: seeds
// ["bonding-curve", mint] against ProgramID (spec §4.5).
func DeriveCurveAddress(mint solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{[]byte("bonding-curve"), mint.Bytes()}, ProgramID)
}

// AccountFetcher is the narrow RPC surface curve fetching needs.
type AccountFetcher interface {
	GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error)
}

// ErrCurveNotFound, ErrCurveComplete, ErrStateFetchFailed are CurveCache's
// typed failure modes (spec §4.5).
type (
	ErrCurveNotFound     struct{ Mint solana.PublicKey }
	ErrCurveComplete     struct{ Mint solana.PublicKey }
	ErrStateFetchFailed  struct {
		Mint solana.PublicKey
		Err  error
	}
)

func (e ErrCurveNotFound) Error() string { return fmt.Sprintf("pumpfun: no bonding curve for mint %s", e.Mint) }
func (e ErrCurveComplete) Error() string { return fmt.Sprintf("pumpfun: bonding curve for mint %s is complete", e.Mint) }
func (e ErrStateFetchFailed) Error() string {
	return fmt.Sprintf("pumpfun: fetch curve state for mint %s: %v", e.Mint, e.Err)
}
func (e ErrStateFetchFailed) Unwrap() error { return e.Err }

type cacheEntry struct {
	curve    Curve
	fetchedAt time.Time
}

// CurveCache fetches and caches bonding-curve state with a short TTL (spec
// §4.5: 2s), since every quote and buy needs a fresh read of the reserves.
type CurveCache struct {
	fetcher AccountFetcher
	ttl     time.Duration

	mu      sync.Mutex
	entries map[solana.PublicKey]cacheEntry
}

// NewCurveCache builds a cache with the given TTL (defaults to 2s if <= 0).
func NewCurveCache(fetcher AccountFetcher, ttl time.Duration) *CurveCache {
	if ttl <= 0 {
		ttl = 2 * time.Second
	}
	return &CurveCache{fetcher: fetcher, ttl: ttl, entries: make(map[solana.PublicKey]cacheEntry)}
}

// Get returns the cached curve for mint if fresh, else fetches and decodes
// it. Returns ErrCurveNotFound if the account does not exist (empty data).
func (c *CurveCache) Get(ctx context.Context, mint solana.PublicKey) (solana.PublicKey, Curve, error) {
	curveAddr, _, err := DeriveCurveAddress(mint)
	if err != nil {
		return solana.PublicKey{}, Curve{}, fmt.Errorf("pumpfun: derive curve address: %w", err)
	}

	c.mu.Lock()
	entry, ok := c.entries[curveAddr]
	c.mu.Unlock()
	if ok && time.Since(entry.fetchedAt) < c.ttl {
		return curveAddr, entry.curve, nil
	}

	data, err := c.fetcher.GetAccountData(ctx, curveAddr)
	if err != nil {
		return curveAddr, Curve{}, ErrStateFetchFailed{Mint: mint, Err: err}
	}
	if len(data) == 0 {
		return curveAddr, Curve{}, ErrCurveNotFound{Mint: mint}
	}

	curve, err := decodeCurve(data)
	if err != nil {
		return curveAddr, Curve{}, ErrStateFetchFailed{Mint: mint, Err: err}
	}

	c.mu.Lock()
	c.entries[curveAddr] = cacheEntry{curve: curve, fetchedAt: time.Now()}
	c.mu.Unlock()

	return curveAddr, curve, nil
}
