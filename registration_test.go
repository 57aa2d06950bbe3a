// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package webauthn

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keygate/webauthn/cose"
)

var (
	// Test data from apowers313's fido2-helpers (2019) at https://github.com/apowers313/fido2-helpers/blob/master/fido2-helpers.js
	noneRegistration = `{
		"id":    "AAii3V6sGoaozW7TbNaYlJaJ5br8TrBfRXnofZO6l2suc3a5tt_XFuFkFA_5eabU80S1PW0m4IZ79BS2kQO7Zcuy2vf0ESg18GTLG1mo5YSkIdqL2J44egt-6rcj7NedSEwxa_uuxUYBtHNnSQqDmtoUAfM9LSWLl65BjKVZNGUp9ao33mMSdVfQQ0bHze69JVQvLBf8OTiZUqJsOuKmpqUc",
		"rawId": "AAii3V6sGoaozW7TbNaYlJaJ5br8TrBfRXnofZO6l2suc3a5tt_XFuFkFA_5eabU80S1PW0m4IZ79BS2kQO7Zcuy2vf0ESg18GTLG1mo5YSkIdqL2J44egt-6rcj7NedSEwxa_uuxUYBtHNnSQqDmtoUAfM9LSWLl65BjKVZNGUp9ao33mMSdVfQQ0bHze69JVQvLBf8OTiZUqJsOuKmpqUc",
		"response": {
			"attestationObject": "o2NmbXRkbm9uZWdhdHRTdG10oGhhdXRoRGF0YVkBJkmWDeWIDoxodDQXD2R2YFuP5K65ooYyx5lc87qDHZdjQQAAAAAAAAAAAAAAAAAAAAAAAAAAAKIACKLdXqwahqjNbtNs1piUlonluvxOsF9Feeh9k7qXay5zdrm239cW4WQUD_l5ptTzRLU9bSbghnv0FLaRA7tly7La9_QRKDXwZMsbWajlhKQh2ovYnjh6C37qtyPs151ITDFr-67FRgG0c2dJCoOa2hQB8z0tJYuXrkGMpVk0ZSn1qjfeYxJ1V9BDRsfN7r0lVC8sF_w5OJlSomw64qampRylAQIDJiABIVgguxHN3W6ehp0VWXKaMNie1J82MVJCFZYScau74o17cx8iWCDb1jkTLi7lYZZbgwUwpqAk8QmIiPMTVQUVkhGEyGrKww==",
			"clientDataJSON":    "eyJjaGFsbGVuZ2UiOiIzM0VIYXYtaloxdjlxd0g3ODNhVS1qMEFSeDZyNW8tWUhoLXdkN0M2alBiZDdXaDZ5dGJJWm9zSUlBQ2Vod2Y5LXM2aFhoeVNITy1ISFVqRXdaUzI5dyIsImNsaWVudEV4dGVuc2lvbnMiOnt9LCJoYXNoQWxnb3JpdGhtIjoiU0hBLTI1NiIsIm9yaWdpbiI6Imh0dHBzOi8vbG9jYWxob3N0Ojg0NDMiLCJ0eXBlIjoid2ViYXV0aG4uY3JlYXRlIn0="
		},
		"type": "public-key"
	}`
	noneRegistrationID        = "AAii3V6sGoaozW7TbNaYlJaJ5br8TrBfRXnofZO6l2suc3a5tt_XFuFkFA_5eabU80S1PW0m4IZ79BS2kQO7Zcuy2vf0ESg18GTLG1mo5YSkIdqL2J44egt-6rcj7NedSEwxa_uuxUYBtHNnSQqDmtoUAfM9LSWLl65BjKVZNGUp9ao33mMSdVfQQ0bHze69JVQvLBf8OTiZUqJsOuKmpqUc"
	noneRegistrationChallenge = "33EHav-jZ1v9qwH783aU-j0ARx6r5o-YHh-wd7C6jPbd7Wh6ytbIZosIIACehwf9-s6hXhySHO-HHUjEwZS29w"

	// Same response with the format rewritten to "mock", an unregistered
	// format name.
	mockFormatRegistration = `{
		"rawId": "AAii3V6sGoaozW7TbNaYlJaJ5br8TrBfRXnofZO6l2suc3a5tt_XFuFkFA_5eabU80S1PW0m4IZ79BS2kQO7Zcuy2vf0ESg18GTLG1mo5YSkIdqL2J44egt-6rcj7NedSEwxa_uuxUYBtHNnSQqDmtoUAfM9LSWLl65BjKVZNGUp9ao33mMSdVfQQ0bHze69JVQvLBf8OTiZUqJsOuKmpqUc",
		"response": {
			"attestationObject": "o2NmbXRkbW9ja2dhdHRTdG10oGhhdXRoRGF0YVkBJkmWDeWIDoxodDQXD2R2YFuP5K65ooYyx5lc87qDHZdjQQAAAAAAAAAAAAAAAAAAAAAAAAAAAKIACKLdXqwahqjNbtNs1piUlonluvxOsF9Feeh9k7qXay5zdrm239cW4WQUD_l5ptTzRLU9bSbghnv0FLaRA7tly7La9_QRKDXwZMsbWajlhKQh2ovYnjh6C37qtyPs151ITDFr-67FRgG0c2dJCoOa2hQB8z0tJYuXrkGMpVk0ZSn1qjfeYxJ1V9BDRsfN7r0lVC8sF_w5OJlSomw64qampRylAQIDJiABIVgguxHN3W6ehp0VWXKaMNie1J82MVJCFZYScau74o17cx8iWCDb1jkTLi7lYZZbgwUwpqAk8QmIiPMTVQUVkhGEyGrKww==",
			"clientDataJSON":    "eyJjaGFsbGVuZ2UiOiIzM0VIYXYtaloxdjlxd0g3ODNhVS1qMEFSeDZyNW8tWUhoLXdkN0M2alBiZDdXaDZ5dGJJWm9zSUlBQ2Vod2Y5LXM2aFhoeVNITy1ISFVqRXdaUzI5dyIsImNsaWVudEV4dGVuc2lvbnMiOnt9LCJoYXNoQWxnb3JpdGhtIjoiU0hBLTI1NiIsIm9yaWdpbiI6Imh0dHBzOi8vbG9jYWxob3N0Ojg0NDMiLCJ0eXBlIjoid2ViYXV0aG4uY3JlYXRlIn0="
		},
		"type": "public-key"
	}`
)

func noneRegistrationExpectations() *RegistrationExpectations {
	return &RegistrationExpectations{
		Challenge:        b64(noneRegistrationChallenge),
		Origin:           "https://localhost:8443",
		RPID:             "localhost",
		UserVerification: UserVerificationPreferred,
	}
}

func TestParseRegistration(t *testing.T) {
	resp, err := ParseRegistration(strings.NewReader(noneRegistration))
	require.NoError(t, err)

	assert.Equal(t, noneRegistrationID, resp.ID)
	assert.Equal(t, b64(noneRegistrationID), resp.RawID)
	assert.Equal(t, FormatNone, resp.Format)
	assert.Equal(t, CeremonyCreate, resp.ClientData.Type)
	assert.Equal(t, "https://localhost:8443", resp.ClientData.Origin)
	assert.Equal(t, noneRegistrationChallenge, resp.ClientData.Challenge)

	require.NotNil(t, resp.AuthData.Attested)
	assert.Equal(t, uuid.Nil, resp.AuthData.Attested.AAGUID)
	assert.Equal(t, b64(noneRegistrationID), resp.AuthData.Attested.CredentialID)
	assert.Equal(t, cose.AlgES256, resp.AuthData.Attested.PublicKey.Algorithm)
	assert.True(t, resp.AuthData.Flags.UserPresent())
	assert.False(t, resp.AuthData.Flags.UserVerified())
}

func TestParseRegistrationUnsupportedFormat(t *testing.T) {
	_, err := ParseRegistration(strings.NewReader(mockFormatRegistration))
	require.ErrorIs(t, err, ErrUnsupportedAttestationFormat)
}

func TestParseRegistrationErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty input", ``},
		{"not an object", `"public-key"`},
		{"wrong type", `{"id":"AQID","type":"public-keys","response":{}}`},
		{"missing id and rawId", `{"type":"public-key","response":{"clientDataJSON":"e30","attestationObject":"oA"}}`},
		{"id not base64", `{"id":"../..","type":"public-key","response":{}}`},
		{"id and rawId disagree", `{"id":"AQID","rawId":"BAUG","type":"public-key","response":{}}`},
		{"missing clientDataJSON", `{"id":"AQID","type":"public-key","response":{"attestationObject":"oA"}}`},
		{"missing attestationObject", `{"id":"AQID","type":"public-key","response":{"clientDataJSON":"eyJ0eXBlIjoid2ViYXV0aG4uY3JlYXRlIiwiY2hhbGxlbmdlIjoiQVFJRCIsIm9yaWdpbiI6Imh0dHBzOi8vZXhhbXBsZS5jb20ifQ"}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRegistration(strings.NewReader(tc.body))
			require.ErrorIs(t, err, ErrMalformedEncoding)
		})
	}
}

func TestVerifyRegistrationNone(t *testing.T) {
	resp, err := ParseRegistration(strings.NewReader(noneRegistration))
	require.NoError(t, err)

	expected := noneRegistrationExpectations()
	expected.UserHandle = []byte("user-1")
	expected.CredentialUniqueForUser = func(credentialID, userHandle []byte) bool {
		assert.Equal(t, b64(noneRegistrationID), credentialID)
		assert.Equal(t, []byte("user-1"), userHandle)
		return true
	}

	result, err := VerifyRegistration(resp, expected)
	require.NoError(t, err)

	assert.Equal(t, b64(noneRegistrationID), result.CredentialID)
	assert.Equal(t, uuid.Nil, result.AAGUID)
	assert.Equal(t, uint32(0), result.SignCount)
	assert.Equal(t, FormatNone, result.Format)
	assert.Equal(t, AttestationTypeNone, result.AttestationType)
	assert.Empty(t, result.TrustPath)
	assert.Equal(t, cose.AlgES256, result.PublicKey.Algorithm)
}

func TestVerifyRegistrationErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(e *RegistrationExpectations)
		wantErr error
	}{
		{
			"stale challenge",
			func(e *RegistrationExpectations) { e.Challenge = bytes.Repeat([]byte{0xaa}, 32) },
			ErrChallengeMismatch,
		},
		{
			"wrong origin",
			func(e *RegistrationExpectations) { e.Origin = "https://evil.example.com" },
			ErrOriginMismatch,
		},
		{
			"wrong rp id",
			func(e *RegistrationExpectations) { e.RPID = "acme.com" },
			ErrRPIDHashMismatch,
		},
		{
			"user verification required",
			func(e *RegistrationExpectations) { e.UserVerification = UserVerificationRequired },
			ErrUserVerificationMissing,
		},
		{
			"algorithm not offered",
			func(e *RegistrationExpectations) { e.Algorithms = []cose.Algorithm{cose.AlgRS256} },
			ErrUnsupportedAlgorithm,
		},
		{
			"credential already registered",
			func(e *RegistrationExpectations) {
				e.CredentialUniqueForUser = func(credentialID, userHandle []byte) bool { return false }
			},
			ErrCredentialNotUnique,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := ParseRegistration(strings.NewReader(noneRegistration))
			require.NoError(t, err)

			expected := noneRegistrationExpectations()
			tc.mutate(expected)
			_, err = VerifyRegistration(resp, expected)
			require.ErrorIs(t, err, tc.wantErr)

			var ceremonyErr *CeremonyError
			require.ErrorAs(t, err, &ceremonyErr)
		})
	}
}

func TestVerifyRegistrationNilArguments(t *testing.T) {
	resp, err := ParseRegistration(strings.NewReader(noneRegistration))
	require.NoError(t, err)

	_, err = VerifyRegistration(resp, nil)
	require.ErrorIs(t, err, ErrMalformedEncoding)

	_, err = VerifyRegistration(nil, noneRegistrationExpectations())
	require.ErrorIs(t, err, ErrMalformedEncoding)
}

func TestVerifyRegistrationCeremonyTypeMismatch(t *testing.T) {
	_, coseKey := newES256Key(t)
	challenge := bytes.Repeat([]byte{0x11}, 32)
	clientData := encodeClientData(t, CeremonyGet, challenge, "https://example.com")
	authData := encodeAuthData(t, "example.com", 0x41, 0, [16]byte{}, []byte{1, 2, 3, 4}, coseKey)
	attObj := encodeAttestationObject(t, "none", map[string]interface{}{}, authData)
	body := encodeRegistrationJSON(t, []byte{1, 2, 3, 4}, clientData, attObj)

	resp, err := ParseRegistration(bytes.NewReader(body))
	require.NoError(t, err)

	_, err = VerifyRegistration(resp, &RegistrationExpectations{
		Challenge: challenge,
		Origin:    "https://example.com",
		RPID:      "example.com",
	})
	require.ErrorIs(t, err, ErrCeremonyTypeMismatch)
}

func TestVerifyRegistrationPackedSelf(t *testing.T) {
	key, coseKey := newES256Key(t)
	challenge := bytes.Repeat([]byte{0x23}, 32)
	credID := []byte("self-attested-credential")
	clientData := encodeClientData(t, CeremonyCreate, challenge, "https://example.com")
	authData := encodeAuthData(t, "example.com", 0x45, 7, [16]byte{0xab}, credID, coseKey)

	clientDataHash := sha256.Sum256(clientData)
	sig := signES256(t, key, signedMessageHash(authData, clientDataHash[:]))
	attObj := encodeAttestationObject(t, "packed", map[string]interface{}{
		"alg": -7,
		"sig": sig,
	}, authData)
	body := encodeRegistrationJSON(t, credID, clientData, attObj)

	resp, err := ParseRegistration(bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, FormatPacked, resp.Format)

	result, err := VerifyRegistration(resp, &RegistrationExpectations{
		Challenge:        challenge,
		Origin:           "https://example.com",
		RPID:             "example.com",
		UserVerification: UserVerificationRequired,
		Algorithms:       []cose.Algorithm{cose.AlgES256},
	})
	require.NoError(t, err)
	assert.Equal(t, AttestationTypeSelf, result.AttestationType)
	assert.Empty(t, result.TrustPath)
	assert.Equal(t, uint32(7), result.SignCount)
}

func TestVerifyRegistrationPackedSelfBadSignature(t *testing.T) {
	key, coseKey := newES256Key(t)
	challenge := bytes.Repeat([]byte{0x23}, 32)
	credID := []byte("self-attested-credential")
	clientData := encodeClientData(t, CeremonyCreate, challenge, "https://example.com")
	authData := encodeAuthData(t, "example.com", 0x45, 7, [16]byte{}, credID, coseKey)

	sig := signES256(t, key, []byte("not the registration data"))
	attObj := encodeAttestationObject(t, "packed", map[string]interface{}{
		"alg": -7,
		"sig": sig,
	}, authData)
	body := encodeRegistrationJSON(t, credID, clientData, attObj)

	resp, err := ParseRegistration(bytes.NewReader(body))
	require.NoError(t, err)

	_, err = VerifyRegistration(resp, &RegistrationExpectations{
		Challenge: challenge,
		Origin:    "https://example.com",
		RPID:      "example.com",
	})
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyRegistrationFIDOU2F(t *testing.T) {
	credKey, coseKey := newES256Key(t)
	attKey, certDER := newAttestationCert(t, attestationSubject())

	challenge := bytes.Repeat([]byte{0x31}, 32)
	credID := []byte("u2f-key-handle")
	clientData := encodeClientData(t, CeremonyCreate, challenge, "https://example.com")
	authData := encodeAuthData(t, "example.com", 0x41, 0, [16]byte{}, credID, coseKey)

	rpIDHash := sha256.Sum256([]byte("example.com"))
	clientDataHash := sha256.Sum256(clientData)
	signed := u2fVerificationData(rpIDHash[:], clientDataHash[:], credID, &credKey.PublicKey)
	sig := signES256(t, attKey, signed)

	attObj := encodeAttestationObject(t, "fido-u2f", map[string]interface{}{
		"sig": sig,
		"x5c": [][]byte{certDER},
	}, authData)
	body := encodeRegistrationJSON(t, credID, clientData, attObj)

	resp, err := ParseRegistration(bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, FormatFIDOU2F, resp.Format)

	result, err := VerifyRegistration(resp, &RegistrationExpectations{
		Challenge: challenge,
		Origin:    "https://example.com",
		RPID:      "example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, AttestationTypeBasic, result.AttestationType)
	require.Len(t, result.TrustPath, 1)
}

func TestVerifyRegistrationFIDOU2FBadSignature(t *testing.T) {
	_, coseKey := newES256Key(t)
	attKey, certDER := newAttestationCert(t, attestationSubject())

	challenge := bytes.Repeat([]byte{0x31}, 32)
	credID := []byte("u2f-key-handle")
	clientData := encodeClientData(t, CeremonyCreate, challenge, "https://example.com")
	authData := encodeAuthData(t, "example.com", 0x41, 0, [16]byte{}, credID, coseKey)

	sig := signES256(t, attKey, []byte("unrelated message"))
	attObj := encodeAttestationObject(t, "fido-u2f", map[string]interface{}{
		"sig": sig,
		"x5c": [][]byte{certDER},
	}, authData)
	body := encodeRegistrationJSON(t, credID, clientData, attObj)

	resp, err := ParseRegistration(bytes.NewReader(body))
	require.NoError(t, err)

	_, err = VerifyRegistration(resp, &RegistrationExpectations{
		Challenge: challenge,
		Origin:    "https://example.com",
		RPID:      "example.com",
	})
	require.ErrorIs(t, err, ErrSignatureInvalid)
}

func TestVerifyRegistrationFIDOU2FNonzeroAAGUID(t *testing.T) {
	credKey, coseKey := newES256Key(t)
	attKey, certDER := newAttestationCert(t, attestationSubject())

	challenge := bytes.Repeat([]byte{0x31}, 32)
	credID := []byte("u2f-key-handle")
	clientData := encodeClientData(t, CeremonyCreate, challenge, "https://example.com")
	authData := encodeAuthData(t, "example.com", 0x41, 0, [16]byte{0x01}, credID, coseKey)

	rpIDHash := sha256.Sum256([]byte("example.com"))
	clientDataHash := sha256.Sum256(clientData)
	signed := u2fVerificationData(rpIDHash[:], clientDataHash[:], credID, &credKey.PublicKey)
	sig := signES256(t, attKey, signed)

	attObj := encodeAttestationObject(t, "fido-u2f", map[string]interface{}{
		"sig": sig,
		"x5c": [][]byte{certDER},
	}, authData)
	body := encodeRegistrationJSON(t, credID, clientData, attObj)

	resp, err := ParseRegistration(bytes.NewReader(body))
	require.NoError(t, err)

	_, err = VerifyRegistration(resp, &RegistrationExpectations{
		Challenge: challenge,
		Origin:    "https://example.com",
		RPID:      "example.com",
	})
	require.ErrorIs(t, err, ErrUntrustedAttestationChain)
}

func TestVerifyRegistrationEd25519Credential(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	coseKey := marshalCBOR(t, map[int]interface{}{
		1: 1, 3: -8, -1: 6, -2: []byte(pub),
	})

	challenge := bytes.Repeat([]byte{0x57}, 32)
	credID := []byte("ed25519-credential")
	clientData := encodeClientData(t, CeremonyCreate, challenge, "https://example.com")
	authData := encodeAuthData(t, "example.com", 0x41, 0, [16]byte{}, credID, coseKey)
	attObj := encodeAttestationObject(t, "none", map[string]interface{}{}, authData)
	body := encodeRegistrationJSON(t, credID, clientData, attObj)

	resp, err := ParseRegistration(bytes.NewReader(body))
	require.NoError(t, err)

	result, err := VerifyRegistration(resp, &RegistrationExpectations{
		Challenge:  challenge,
		Origin:     "https://example.com",
		RPID:       "example.com",
		Algorithms: []cose.Algorithm{cose.AlgEdDSA},
	})
	require.NoError(t, err)
	assert.Equal(t, cose.AlgEdDSA, result.PublicKey.Algorithm)
}

func TestVerifyRegistrationIdempotent(t *testing.T) {
	resp, err := ParseRegistration(strings.NewReader(noneRegistration))
	require.NoError(t, err)

	first, err := VerifyRegistration(resp, noneRegistrationExpectations())
	require.NoError(t, err)
	second, err := VerifyRegistration(resp, noneRegistrationExpectations())
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
