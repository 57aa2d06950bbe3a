// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

// Package authdata parses the authenticator data structure produced during
// WebAuthn registration and authentication ceremonies.
package authdata

import (
	"bytes"
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/keygate/webauthn/cose"
)

// Flags is the bit field at offset 32 of authenticator data.
type Flags byte

const (
	FlagUserPresent            Flags = 1 << 0
	FlagUserVerified           Flags = 1 << 2
	FlagAttestedCredentialData Flags = 1 << 6
	FlagExtensionData          Flags = 1 << 7
)

func (f Flags) UserPresent() bool            { return f&FlagUserPresent != 0 }
func (f Flags) UserVerified() bool           { return f&FlagUserVerified != 0 }
func (f Flags) AttestedCredentialData() bool { return f&FlagAttestedCredentialData != 0 }
func (f Flags) ExtensionData() bool          { return f&FlagExtensionData != 0 }

// AttestedCredential is the attested credential data block, present when
// the AT flag is set.
type AttestedCredential struct {
	AAGUID       uuid.UUID
	CredentialID []byte
	PublicKey    *cose.Key
}

// Data is a parsed authenticator data structure.
type Data struct {
	// Raw is the full encoding Data was parsed from.
	Raw []byte

	RPIDHash  []byte
	Flags     Flags
	SignCount uint32

	// Attested is nil unless the AT flag is set.
	Attested *AttestedCredential

	// Extensions holds the undecoded values of the extension map, keyed by
	// extension identifier. Nil unless the ED flag is set.
	Extensions map[string]cbor.RawMessage
}

const (
	headerLength = 37 // rpIdHash (32) + flags (1) + signCount (4)
	aaguidLength = 16
)

// Parse decodes raw as authenticator data. Every byte of raw must be
// consumed; trailing data is an error.
func Parse(raw []byte) (*Data, error) {
	if len(raw) < headerLength {
		return nil, errors.Errorf("authdata: %d bytes, want at least %d", len(raw), headerLength)
	}

	d := &Data{
		Raw:       raw,
		RPIDHash:  raw[:32],
		Flags:     Flags(raw[32]),
		SignCount: binary.BigEndian.Uint32(raw[33:37]),
	}
	rest := raw[headerLength:]

	if d.Flags.AttestedCredentialData() {
		var err error
		if d.Attested, rest, err = parseAttestedCredential(rest); err != nil {
			return nil, err
		}
	}

	if d.Flags.ExtensionData() {
		decoder := cbor.NewDecoder(bytes.NewReader(rest))
		if err := decoder.Decode(&d.Extensions); err != nil {
			return nil, errors.Wrap(err, "authdata: decode extensions")
		}
		rest = rest[decoder.NumBytesRead():]
	}

	if len(rest) != 0 {
		return nil, errors.Errorf("authdata: %d trailing bytes", len(rest))
	}
	return d, nil
}

func parseAttestedCredential(data []byte) (*AttestedCredential, []byte, error) {
	if len(data) < aaguidLength+2 {
		return nil, nil, errors.New("authdata: attested credential data truncated")
	}
	attested := &AttestedCredential{
		AAGUID: uuid.UUID(data[:aaguidLength]),
	}
	idLength := int(binary.BigEndian.Uint16(data[aaguidLength : aaguidLength+2]))
	rest := data[aaguidLength+2:]
	if idLength > len(rest) {
		return nil, nil, errors.Errorf("authdata: credential id length %d exceeds remaining %d bytes", idLength, len(rest))
	}
	attested.CredentialID = rest[:idLength]
	rest = rest[idLength:]

	key, rest, err := cose.ParseKey(rest)
	if err != nil {
		return nil, nil, errors.Wrap(err, "authdata: credential public key")
	}
	attested.PublicKey = key
	return attested, rest, nil
}
