// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package webauthn

import (
	"net/url"

	"github.com/pkg/errors"

	"github.com/keygate/webauthn/cose"
)

const (
	challengeMinLength = 16
	challengeMaxLength = 64
)

// Config carries the relying party settings shared by every ceremony.
type Config struct {
	// RPID is the relying party identifier, a registrable domain suffix
	// of the origin it is used from.
	RPID string

	RPName string
	RPIcon string

	// Origin is the exact web origin responses must come from, including
	// scheme and any non-default port.
	Origin string

	// ChallengeLength is the size in bytes of generated challenges.
	// Anything under 16 bytes is rejected.
	ChallengeLength int

	// Timeout is the ceremony timeout hint in milliseconds, passed
	// through to the client.
	Timeout uint64

	AuthenticatorAttachment AuthenticatorAttachment
	ResidentKey             ResidentKeyRequirement
	UserVerification        UserVerificationRequirement
	Attestation             AttestationConveyance

	// CredentialAlgorithms lists the COSE algorithms offered during
	// registration, most preferred first.
	CredentialAlgorithms []cose.Algorithm
}

// Valid checks the configuration for use with an OptionsBuilder.
func (c *Config) Valid() error {
	if c.RPID == "" {
		return errors.New("webauthn: config has no RPID")
	}
	if c.RPName == "" {
		return errors.New("webauthn: config has no RPName")
	}
	if c.Origin == "" {
		return errors.New("webauthn: config has no Origin")
	}
	u, err := url.Parse(c.Origin)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Errorf("webauthn: config Origin %q is not an origin", c.Origin)
	}
	if c.ChallengeLength < challengeMinLength || c.ChallengeLength > challengeMaxLength {
		return errors.Errorf("webauthn: config ChallengeLength %d outside [%d, %d]", c.ChallengeLength, challengeMinLength, challengeMaxLength)
	}
	if c.AuthenticatorAttachment != "" && !c.AuthenticatorAttachment.valid() {
		return errors.Errorf("webauthn: config AuthenticatorAttachment %q", c.AuthenticatorAttachment)
	}
	if c.ResidentKey != "" && !c.ResidentKey.valid() {
		return errors.Errorf("webauthn: config ResidentKey %q", c.ResidentKey)
	}
	if c.UserVerification != "" && !c.UserVerification.valid() {
		return errors.Errorf("webauthn: config UserVerification %q", c.UserVerification)
	}
	if c.Attestation != "" && !c.Attestation.valid() {
		return errors.Errorf("webauthn: config Attestation %q", c.Attestation)
	}
	if len(c.CredentialAlgorithms) == 0 {
		return errors.New("webauthn: config has no CredentialAlgorithms")
	}
	for _, alg := range c.CredentialAlgorithms {
		if !alg.Supported() {
			return errors.Errorf("webauthn: config algorithm %d is not supported", int(alg))
		}
	}
	return nil
}
