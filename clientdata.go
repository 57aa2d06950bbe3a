// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package webauthn

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
)

// CeremonyType is the "type" member of collected client data.
type CeremonyType string

const (
	CeremonyCreate CeremonyType = "webauthn.create"
	CeremonyGet    CeremonyType = "webauthn.get"
)

// TokenBindingStatus is the "status" member of a client data token binding.
type TokenBindingStatus string

const (
	TokenBindingSupported TokenBindingStatus = "supported"
	TokenBindingPresent   TokenBindingStatus = "present"
)

// TokenBinding mirrors the optional tokenBinding member of client data.
type TokenBinding struct {
	Status TokenBindingStatus `json:"status"`
	ID     string             `json:"id,omitempty"`
}

// ClientData is the collected client data a browser serializes into
// clientDataJSON.
type ClientData struct {
	// Raw is the exact JSON the client sent. Signatures cover a hash of
	// these bytes, never a re-serialization.
	Raw []byte

	Type         CeremonyType
	Challenge    string // base64url, as received
	Origin       string
	TokenBinding *TokenBinding
}

// parseClientData decodes raw as collected client data. The top-level
// value must be a JSON object and the type, challenge, and origin members
// must all be present and non-empty.
func parseClientData(raw []byte) (*ClientData, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, failf(ReasonMalformedEncoding, "client data", "not a JSON object")
	}

	var decoded struct {
		Type         string        `json:"type"`
		Challenge    string        `json:"challenge"`
		Origin       string        `json:"origin"`
		TokenBinding *TokenBinding `json:"tokenBinding"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fail(ReasonMalformedEncoding, "client data", err)
	}
	if decoded.Type == "" {
		return nil, failf(ReasonMalformedEncoding, "client data", "missing type")
	}
	if decoded.Challenge == "" {
		return nil, failf(ReasonMalformedEncoding, "client data", "missing challenge")
	}
	if decoded.Origin == "" {
		return nil, failf(ReasonMalformedEncoding, "client data", "missing origin")
	}
	if tb := decoded.TokenBinding; tb != nil {
		if tb.Status != TokenBindingSupported && tb.Status != TokenBindingPresent {
			return nil, failf(ReasonMalformedEncoding, "client data", "token binding status %q", tb.Status)
		}
	}

	return &ClientData{
		Raw:          raw,
		Type:         CeremonyType(decoded.Type),
		Challenge:    decoded.Challenge,
		Origin:       decoded.Origin,
		TokenBinding: decoded.TokenBinding,
	}, nil
}

// challengeEqual decodes the client's challenge and compares it byte for
// byte with the challenge the relying party issued. String comparison is
// not enough: distinct base64url encodings can name the same bytes.
func (c *ClientData) challengeEqual(expected []byte) bool {
	got, err := decodeBase64URL(c.Challenge)
	if err != nil {
		return false
	}
	return bytes.Equal(got, expected)
}

// decodeBase64URL accepts base64url input with or without padding, the
// way browsers and test fixtures disagree on serializing binary fields.
func decodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}
