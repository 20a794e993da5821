// Package audit is the structured security log: TradeGuard rejections,
// including sniper and token-safety blocks, are recorded at WARNING via
// Rejected, and SigningFailure/SubmitFailure record signing and submission
// failures at ERROR for callers that hold a Log. Records go out on a
// dedicated logger name, the same way
// internal/events.Manager emits structured records rather than owning a
// transport.
package audit

import (
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"
)

// Log is the security audit sink.
type Log struct {
	log zerolog.Logger
}

// New builds a Log with its own "security" sub-logger.
func New(log zerolog.Logger) *Log {
	return &Log{log: log.With().Str("logger", "security").Logger()}
}

// Rejected records a TradeGuard or sniper-safety rejection at WARNING.
func (l *Log) Rejected(kind, message, mint, source string) {
	l.log.Warn().
		Str("kind", kind).
		Str("mint", mint).
		Str("source", source).
		Msg(message)
}

// SigningFailure records a failed signing attempt at ERROR, rendering the
// public key in base58 the way the rest of the Solana stack does.
func (l *Log) SigningFailure(pubkey []byte, err error) {
	l.log.Error().
		Str("pubkey", base58.Encode(pubkey)).
		Err(err).
		Msg("signing oracle failed")
}

// SubmitFailure records a transaction submission failure at ERROR.
func (l *Log) SubmitFailure(endpoint string, err error) {
	l.log.Error().
		Str("endpoint", endpoint).
		Err(err).
		Msg("transaction submission failed")
}
