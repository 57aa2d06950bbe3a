// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package webauthn

import (
	"errors"
	"fmt"

	"github.com/keygate/webauthn/cose"
)

// Reason classifies why a ceremony was rejected. Callers branch on the
// reason, via errors.Is against the Err* sentinels, to decide whether a
// failure is a client bug, a replay, or a credential that must be disabled.
type Reason uint8

const (
	ReasonMalformedEncoding Reason = iota + 1
	ReasonChallengeMismatch
	ReasonOriginMismatch
	ReasonCeremonyTypeMismatch
	ReasonRPIDHashMismatch
	ReasonUserPresenceMissing
	ReasonUserVerificationMissing
	ReasonUnsupportedAttestationFormat
	ReasonUnsupportedAlgorithm
	ReasonSignatureInvalid
	ReasonUntrustedAttestationChain
	ReasonCredentialNotUnique
	ReasonSignCountRegressed
	ReasonUserHandleMismatch
)

var reasonNames = map[Reason]string{
	ReasonMalformedEncoding:            "malformed encoding",
	ReasonChallengeMismatch:            "challenge mismatch",
	ReasonOriginMismatch:               "origin mismatch",
	ReasonCeremonyTypeMismatch:         "ceremony type mismatch",
	ReasonRPIDHashMismatch:             "rp id hash mismatch",
	ReasonUserPresenceMissing:          "user presence missing",
	ReasonUserVerificationMissing:      "user verification missing",
	ReasonUnsupportedAttestationFormat: "unsupported attestation format",
	ReasonUnsupportedAlgorithm:         "unsupported algorithm",
	ReasonSignatureInvalid:             "signature invalid",
	ReasonUntrustedAttestationChain:    "untrusted attestation chain",
	ReasonCredentialNotUnique:          "credential not unique",
	ReasonSignCountRegressed:           "signature counter regressed",
	ReasonUserHandleMismatch:           "user handle mismatch",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// CeremonyError is the error type returned by every parse and verify
// entry point. Two CeremonyErrors match under errors.Is when their
// Reasons are equal, so the Err* sentinels below select failure classes.
type CeremonyError struct {
	Reason Reason

	// Stage names the ceremony phase that failed, such as "registration"
	// or "client data".
	Stage string

	msg   string
	cause error
}

func (e *CeremonyError) Error() string {
	s := "webauthn"
	if e.Stage != "" {
		s += "/" + e.Stage
	}
	s += ": " + e.Reason.String()
	if e.msg != "" {
		s += ": " + e.msg
	}
	if e.cause != nil {
		s += ": " + e.cause.Error()
	}
	return s
}

func (e *CeremonyError) Unwrap() error { return e.cause }

func (e *CeremonyError) Is(target error) bool {
	t, ok := target.(*CeremonyError)
	return ok && t.Reason == e.Reason
}

// Sentinels for errors.Is. Each matches any CeremonyError carrying the
// same Reason.
var (
	ErrMalformedEncoding            = &CeremonyError{Reason: ReasonMalformedEncoding}
	ErrChallengeMismatch            = &CeremonyError{Reason: ReasonChallengeMismatch}
	ErrOriginMismatch               = &CeremonyError{Reason: ReasonOriginMismatch}
	ErrCeremonyTypeMismatch         = &CeremonyError{Reason: ReasonCeremonyTypeMismatch}
	ErrRPIDHashMismatch             = &CeremonyError{Reason: ReasonRPIDHashMismatch}
	ErrUserPresenceMissing          = &CeremonyError{Reason: ReasonUserPresenceMissing}
	ErrUserVerificationMissing      = &CeremonyError{Reason: ReasonUserVerificationMissing}
	ErrUnsupportedAttestationFormat = &CeremonyError{Reason: ReasonUnsupportedAttestationFormat}
	ErrUnsupportedAlgorithm         = &CeremonyError{Reason: ReasonUnsupportedAlgorithm}
	ErrSignatureInvalid             = &CeremonyError{Reason: ReasonSignatureInvalid}
	ErrUntrustedAttestationChain    = &CeremonyError{Reason: ReasonUntrustedAttestationChain}
	ErrCredentialNotUnique          = &CeremonyError{Reason: ReasonCredentialNotUnique}
	ErrSignCountRegressed           = &CeremonyError{Reason: ReasonSignCountRegressed}
	ErrUserHandleMismatch           = &CeremonyError{Reason: ReasonUserHandleMismatch}
)

func failf(reason Reason, stage, format string, args ...interface{}) *CeremonyError {
	return &CeremonyError{Reason: reason, Stage: stage, msg: fmt.Sprintf(format, args...)}
}

func fail(reason Reason, stage string, cause error) *CeremonyError {
	return &CeremonyError{Reason: reason, Stage: stage, cause: cause}
}

// wrapDecode classifies a decoder error. Unsupported key material keeps
// its own reason so callers can tell a bad authenticator from a broken
// payload.
func wrapDecode(stage string, err error) *CeremonyError {
	if errors.Is(err, cose.ErrUnsupportedAlgorithm) || errors.Is(err, cose.ErrUnsupportedKeyType) {
		return fail(ReasonUnsupportedAlgorithm, stage, err)
	}
	return fail(ReasonMalformedEncoding, stage, err)
}
