// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package webauthn

import (
	"bytes"
	"crypto/sha256"
	"io"

	"github.com/keygate/webauthn/authdata"
	"github.com/keygate/webauthn/cose"
)

// AuthenticationResponse is a parsed navigator.credentials.get result.
type AuthenticationResponse struct {
	ID         string
	RawID      []byte
	ClientData *ClientData
	AuthData   *authdata.Data
	Signature  []byte
	UserHandle []byte
}

// ParseAuthentication reads a JSON authentication response from r.
func ParseAuthentication(r io.Reader) (*AuthenticationResponse, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fail(ReasonMalformedEncoding, "authentication", err)
	}
	var resp AuthenticationResponse
	if err := resp.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UnmarshalJSON decodes the browser envelope. Assertion authenticator
// data must not carry attested credential data; that block only appears
// during registration.
func (resp *AuthenticationResponse) UnmarshalJSON(data []byte) error {
	var envelope struct {
		ID       string `json:"id"`
		RawID    string `json:"rawId"`
		Type     string `json:"type"`
		Response struct {
			AuthenticatorData string `json:"authenticatorData"`
			ClientDataJSON    string `json:"clientDataJSON"`
			Signature         string `json:"signature"`
			UserHandle        string `json:"userHandle"`
		} `json:"response"`
	}
	if err := unmarshalEnvelope(data, &envelope); err != nil {
		return err
	}
	if envelope.Type != string(CredentialTypePublicKey) {
		return failf(ReasonMalformedEncoding, "authentication", "credential type %q", envelope.Type)
	}

	id, rawID, err := credentialIDPair(envelope.ID, envelope.RawID)
	if err != nil {
		return err
	}
	resp.ID = id
	resp.RawID = rawID

	if envelope.Response.ClientDataJSON == "" {
		return failf(ReasonMalformedEncoding, "authentication", "missing clientDataJSON")
	}
	clientDataJSON, err := decodeBase64URL(envelope.Response.ClientDataJSON)
	if err != nil {
		return fail(ReasonMalformedEncoding, "authentication", err)
	}
	if resp.ClientData, err = parseClientData(clientDataJSON); err != nil {
		return err
	}

	if envelope.Response.AuthenticatorData == "" {
		return failf(ReasonMalformedEncoding, "authentication", "missing authenticatorData")
	}
	rawAuthData, err := decodeBase64URL(envelope.Response.AuthenticatorData)
	if err != nil {
		return fail(ReasonMalformedEncoding, "authentication", err)
	}
	if resp.AuthData, err = authdata.Parse(rawAuthData); err != nil {
		return wrapDecode("authentication", err)
	}
	if resp.AuthData.Attested != nil {
		return failf(ReasonMalformedEncoding, "authentication", "unexpected attested credential data")
	}

	if envelope.Response.Signature == "" {
		return failf(ReasonMalformedEncoding, "authentication", "missing signature")
	}
	if resp.Signature, err = decodeBase64URL(envelope.Response.Signature); err != nil {
		return fail(ReasonMalformedEncoding, "authentication", err)
	}

	if envelope.Response.UserHandle != "" {
		if resp.UserHandle, err = decodeBase64URL(envelope.Response.UserHandle); err != nil {
			return fail(ReasonMalformedEncoding, "authentication", err)
		}
	}
	return nil
}

// AuthenticationExpectations carries the stored credential state an
// authentication response is checked against.
type AuthenticationExpectations struct {
	// Challenge is the value issued with the request options, raw bytes.
	Challenge []byte

	// Origin is the exact web origin the response must come from.
	Origin string

	// RPID is the relying party identifier the credential was registered
	// under.
	RPID string

	// UserVerification set to UserVerificationRequired makes the UV flag
	// mandatory. UP is always mandatory.
	UserVerification UserVerificationRequirement

	// AllowedCredentialIDs, when non-empty, restricts which credential
	// may answer, mirroring the allow list sent with the request options.
	AllowedCredentialIDs [][]byte

	// PublicKey is the credential public key stored at registration.
	PublicKey *cose.Key

	// PrevSignCount is the stored signature counter. Zero means the
	// authenticator does not implement one.
	PrevSignCount uint32

	// UserHandleOwnsCredential reports whether userHandle owns
	// credentialID. Consulted only when the response carries a user
	// handle. Nil skips the check.
	UserHandleOwnsCredential func(credentialID, userHandle []byte) bool
}

// AuthenticationResult is returned on success. The caller persists
// SignCount as the credential's new stored counter.
type AuthenticationResult struct {
	CredentialID []byte
	UserHandle   []byte
	SignCount    uint32
}

// VerifyAuthentication checks resp against expected: ceremony bindings
// first, then the assertion signature, counter monotonicity, and user
// handle ownership. The
// check order is fixed so a response failing several ways reports the
// earliest failure deterministically.
func VerifyAuthentication(resp *AuthenticationResponse, expected *AuthenticationExpectations) (*AuthenticationResult, error) {
	if resp == nil || resp.ClientData == nil || resp.AuthData == nil {
		return nil, failf(ReasonMalformedEncoding, "authentication", "incomplete response")
	}
	if expected == nil || expected.PublicKey == nil {
		return nil, failf(ReasonMalformedEncoding, "authentication", "no credential public key")
	}

	if len(expected.AllowedCredentialIDs) > 0 && !credentialAllowed(expected.AllowedCredentialIDs, resp.RawID) {
		return nil, failf(ReasonMalformedEncoding, "authentication", "credential id not in allow list")
	}

	if resp.ClientData.Type != CeremonyGet {
		return nil, failf(ReasonCeremonyTypeMismatch, "authentication", "client data type %q", resp.ClientData.Type)
	}
	if !resp.ClientData.challengeEqual(expected.Challenge) {
		return nil, failf(ReasonChallengeMismatch, "authentication", "client data challenge does not match session")
	}
	if resp.ClientData.Origin != expected.Origin {
		return nil, failf(ReasonOriginMismatch, "authentication", "origin %q, want %q", resp.ClientData.Origin, expected.Origin)
	}

	rpIDHash := sha256.Sum256([]byte(expected.RPID))
	if !bytes.Equal(resp.AuthData.RPIDHash, rpIDHash[:]) {
		return nil, failf(ReasonRPIDHashMismatch, "authentication", "authenticator data rp id hash does not match %q", expected.RPID)
	}

	if !resp.AuthData.Flags.UserPresent() {
		return nil, failf(ReasonUserPresenceMissing, "authentication", "UP flag not set")
	}
	if expected.UserVerification == UserVerificationRequired && !resp.AuthData.Flags.UserVerified() {
		return nil, failf(ReasonUserVerificationMissing, "authentication", "UV flag not set")
	}

	if err := expected.PublicKey.Verify(signedMessage(resp.AuthData.Raw, resp.ClientData.Raw), resp.Signature); err != nil {
		return nil, fail(ReasonSignatureInvalid, "authentication", err)
	}

	// A counter pair of (0, 0) means the authenticator never increments;
	// any other non-increase is a regression and possibly a cloned key.
	if resp.AuthData.SignCount != 0 || expected.PrevSignCount != 0 {
		if resp.AuthData.SignCount <= expected.PrevSignCount {
			return nil, failf(ReasonSignCountRegressed, "authentication",
				"counter %d after %d", resp.AuthData.SignCount, expected.PrevSignCount)
		}
	}

	if len(resp.UserHandle) > 0 && expected.UserHandleOwnsCredential != nil &&
		!expected.UserHandleOwnsCredential(resp.RawID, resp.UserHandle) {
		return nil, failf(ReasonUserHandleMismatch, "authentication", "user handle does not own credential")
	}

	return &AuthenticationResult{
		CredentialID: resp.RawID,
		UserHandle:   resp.UserHandle,
		SignCount:    resp.AuthData.SignCount,
	}, nil
}

// signedMessage is what the authenticator signs: the raw authenticator
// data followed by the SHA-256 of the client data JSON.
func signedMessage(rawAuthData, rawClientData []byte) []byte {
	clientDataHash := sha256.Sum256(rawClientData)
	message := make([]byte, 0, len(rawAuthData)+len(clientDataHash))
	message = append(message, rawAuthData...)
	message = append(message, clientDataHash[:]...)
	return message
}

func credentialAllowed(allowed [][]byte, credentialID []byte) bool {
	for _, id := range allowed {
		if bytes.Equal(id, credentialID) {
			return true
		}
	}
	return false
}
