// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package webauthn

import (
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
)

// User describes the account a ceremony is run for.
type User struct {
	ID          []byte
	Name        string
	DisplayName string
	Icon        string

	// CredentialIDs lists the user's registered credentials. They become
	// the exclude list during registration and the allow list during
	// authentication.
	CredentialIDs [][]byte
}

// OptionsBuilder produces creation and request options with fresh
// challenges. The zero value is not usable; call NewOptionsBuilder.
type OptionsBuilder struct {
	config *Config
	rand   io.Reader
}

// NewOptionsBuilder validates config and returns a builder drawing
// challenges from source. A nil source means crypto/rand.
func NewOptionsBuilder(config *Config, source io.Reader) (*OptionsBuilder, error) {
	if config == nil {
		return nil, errors.New("webauthn: nil config")
	}
	if err := config.Valid(); err != nil {
		return nil, err
	}
	if source == nil {
		source = rand.Reader
	}
	return &OptionsBuilder{config: config, rand: source}, nil
}

// NewChallenge draws a fresh challenge of the configured length.
func (b *OptionsBuilder) NewChallenge() ([]byte, error) {
	challenge := make([]byte, b.config.ChallengeLength)
	if _, err := io.ReadFull(b.rand, challenge); err != nil {
		return nil, errors.Wrap(err, "webauthn: generate challenge")
	}
	return challenge, nil
}

// Registration builds creation options for user. The caller stores the
// returned challenge against the session before relaying the options.
func (b *OptionsBuilder) Registration(user *User) (*CreationOptions, error) {
	if user == nil || len(user.ID) == 0 {
		return nil, errors.New("webauthn: user has no ID")
	}
	if user.Name == "" || user.DisplayName == "" {
		return nil, errors.New("webauthn: user has no name")
	}
	challenge, err := b.NewChallenge()
	if err != nil {
		return nil, err
	}

	options := &CreationOptions{
		RP: RelyingPartyEntity{
			ID:   b.config.RPID,
			Name: b.config.RPName,
			Icon: b.config.RPIcon,
		},
		User: UserEntity{
			ID:          user.ID,
			Name:        user.Name,
			DisplayName: user.DisplayName,
			Icon:        user.Icon,
		},
		Challenge:          challenge,
		Timeout:            b.config.Timeout,
		ExcludeCredentials: descriptors(user.CredentialIDs),
		Attestation:        b.config.Attestation,
	}
	for _, alg := range b.config.CredentialAlgorithms {
		options.CredentialParams = append(options.CredentialParams, CredentialParam{
			Type: CredentialTypePublicKey,
			Alg:  alg,
		})
	}
	if b.config.AuthenticatorAttachment != "" || b.config.ResidentKey != "" || b.config.UserVerification != "" {
		options.AuthenticatorSelection = &AuthenticatorSelection{
			AuthenticatorAttachment: b.config.AuthenticatorAttachment,
			ResidentKey:             b.config.ResidentKey,
			RequireResidentKey:      b.config.ResidentKey == ResidentKeyRequired,
			UserVerification:        b.config.UserVerification,
		}
	}
	return options, nil
}

// Authentication builds request options. A nil user, or one with no
// registered credentials, leaves the allow list empty for discoverable
// credential flows.
func (b *OptionsBuilder) Authentication(user *User) (*RequestOptions, error) {
	challenge, err := b.NewChallenge()
	if err != nil {
		return nil, err
	}
	options := &RequestOptions{
		Challenge:        challenge,
		Timeout:          b.config.Timeout,
		RPID:             b.config.RPID,
		UserVerification: b.config.UserVerification,
	}
	if user != nil {
		options.AllowCredentials = descriptors(user.CredentialIDs)
	}
	return options, nil
}

func descriptors(credentialIDs [][]byte) []CredentialDescriptor {
	var ds []CredentialDescriptor
	for _, id := range credentialIDs {
		ds = append(ds, CredentialDescriptor{Type: CredentialTypePublicKey, ID: id})
	}
	return ds
}
