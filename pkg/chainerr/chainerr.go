// Package chainerr defines the fixed, wire-visible error taxonomy shared by
// every TrustChain component: signer, Merkle engine, verifiable log, chain
// store, PKI, and tool certificate registry all fail with one of these
// codes so a caller can branch on failure kind without string matching.
package chainerr

import "fmt"

// Code is one of the fixed wire-visible error codes. New codes are added
// deliberately; existing values never change meaning.
type Code string

const (
	// CodeInvalidSignature marks a signature that does not verify against
	// the claimed public key and payload.
	CodeInvalidSignature Code = "INVALID_SIGNATURE"
	// CodeChainBroken marks a record whose parent_hash does not match the
	// preceding record's hash (or the log's recorded root at append time).
	CodeChainBroken Code = "CHAIN_BROKEN"
	// CodeNonceReplay marks a nonce that has already been consumed.
	CodeNonceReplay Code = "NONCE_REPLAY"
	// CodeExpired marks a certificate whose NotAfter has passed.
	CodeExpired Code = "EXPIRED"
	// CodeNotYetValid marks a certificate whose NotBefore has not arrived.
	CodeNotYetValid Code = "NOT_YET_VALID"
	// CodeRevoked marks a certificate directly present on a CRL.
	CodeRevoked Code = "REVOKED"
	// CodeParentRevoked marks a certificate whose parent-agent-serial
	// extension refers to a serial present on a CRL — the cascading
	// revocation signal, distinct from the cert's own direct revocation.
	CodeParentRevoked Code = "PARENT_REVOKED"
	// CodeNoCertificate marks a tool with no certificate in the registry.
	CodeNoCertificate Code = "NO_CERTIFICATE"
	// CodeCodeTampered marks a tool whose current source hash no longer
	// matches the hash bound into its certificate.
	CodeCodeTampered Code = "CODE_TAMPERED"
	// CodeNotFound marks a lookup (by id, serial, or ref) that found
	// nothing. Not part of the wire-visible verification taxonomy in
	// spec §6; used for internal lookup failures (diff, chain-of-CAs).
	CodeNotFound Code = "NOT_FOUND"
)

// Error wraps a Code with a human-readable message and optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New constructs an *Error with no underlying cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap constructs an *Error carrying an underlying cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Is reports whether err is a *Error with the given code, unwrapping as
// needed so wrapped chainerr.Errors still match.
func Is(err error, code Code) bool {
	for err != nil {
		if ce, ok := err.(*Error); ok {
			if ce.Code == code {
				return true
			}
			err = ce.Cause
			continue
		}
		type unwrapper interface{ Unwrap() error }
		u, ok := err.(unwrapper)
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// VerifyResult is the accumulated outcome of a multi-check verification
// (certificate validation, chain verification, consistency proof
// evaluation). Unlike a bool it records every violation found, matching the
// always-accumulate behaviour required of security-relevant verification.
type VerifyResult struct {
	Valid  bool     `json:"valid"`
	Codes  []Code   `json:"codes,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// Add records a violation and marks the result invalid.
func (r *VerifyResult) Add(code Code, message string) {
	r.Valid = false
	r.Codes = append(r.Codes, code)
	r.Errors = append(r.Errors, message)
}

// Has reports whether the given code was recorded.
func (r *VerifyResult) Has(code Code) bool {
	for _, c := range r.Codes {
		if c == code {
			return true
		}
	}
	return false
}

// OK constructs a valid, empty VerifyResult.
func OK() *VerifyResult {
	return &VerifyResult{Valid: true}
}
