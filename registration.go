// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package webauthn

import (
	"bytes"
	"crypto/sha256"
	"crypto/x509"
	"encoding/json"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/keygate/webauthn/authdata"
	"github.com/keygate/webauthn/cose"
)

// RegistrationResponse is a parsed navigator.credentials.create result.
type RegistrationResponse struct {
	ID         string
	RawID      []byte
	ClientData *ClientData
	AuthData   *authdata.Data

	Format    Format
	statement statement
}

// ParseRegistration reads a JSON registration response from r.
func ParseRegistration(r io.Reader) (*RegistrationResponse, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fail(ReasonMalformedEncoding, "registration", err)
	}
	var resp RegistrationResponse
	if err := resp.UnmarshalJSON(raw); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UnmarshalJSON decodes the browser envelope: the credential id pair, the
// collected client data, and the CBOR attestation object.
func (resp *RegistrationResponse) UnmarshalJSON(data []byte) error {
	var envelope struct {
		ID       string `json:"id"`
		RawID    string `json:"rawId"`
		Type     string `json:"type"`
		Response struct {
			AttestationObject string `json:"attestationObject"`
			ClientDataJSON    string `json:"clientDataJSON"`
		} `json:"response"`
	}
	if err := unmarshalEnvelope(data, &envelope); err != nil {
		return err
	}
	if envelope.Type != string(CredentialTypePublicKey) {
		return failf(ReasonMalformedEncoding, "registration", "credential type %q", envelope.Type)
	}

	id, rawID, err := credentialIDPair(envelope.ID, envelope.RawID)
	if err != nil {
		return err
	}
	resp.ID = id
	resp.RawID = rawID

	if envelope.Response.ClientDataJSON == "" {
		return failf(ReasonMalformedEncoding, "registration", "missing clientDataJSON")
	}
	clientDataJSON, err := decodeBase64URL(envelope.Response.ClientDataJSON)
	if err != nil {
		return fail(ReasonMalformedEncoding, "registration", err)
	}
	if resp.ClientData, err = parseClientData(clientDataJSON); err != nil {
		return err
	}

	if envelope.Response.AttestationObject == "" {
		return failf(ReasonMalformedEncoding, "registration", "missing attestationObject")
	}
	attestationObject, err := decodeBase64URL(envelope.Response.AttestationObject)
	if err != nil {
		return fail(ReasonMalformedEncoding, "registration", err)
	}
	return resp.parseAttestationObject(attestationObject)
}

func (resp *RegistrationResponse) parseAttestationObject(data []byte) error {
	var obj struct {
		Format   string          `cbor:"fmt"`
		AttStmt  cbor.RawMessage `cbor:"attStmt"`
		AuthData []byte          `cbor:"authData"`
	}
	if err := cbor.Unmarshal(data, &obj); err != nil {
		return fail(ReasonMalformedEncoding, "attestation object", err)
	}
	if obj.Format == "" {
		return failf(ReasonMalformedEncoding, "attestation object", "missing fmt")
	}
	if len(obj.AttStmt) == 0 {
		return failf(ReasonMalformedEncoding, "attestation object", "missing attStmt")
	}
	if len(obj.AuthData) == 0 {
		return failf(ReasonMalformedEncoding, "attestation object", "missing authData")
	}

	parsed, err := authdata.Parse(obj.AuthData)
	if err != nil {
		return wrapDecode("attestation object", err)
	}
	if parsed.Attested == nil {
		return failf(ReasonMalformedEncoding, "attestation object", "no attested credential data")
	}
	if len(parsed.Attested.CredentialID) == 0 {
		return failf(ReasonMalformedEncoding, "attestation object", "empty credential id")
	}
	resp.AuthData = parsed

	resp.Format = Format(obj.Format)
	if resp.statement, err = parseStatement(resp.Format, obj.AttStmt); err != nil {
		return err
	}
	return nil
}

// RegistrationExpectations carries the server-side state a registration
// response is checked against.
type RegistrationExpectations struct {
	// Challenge is the value issued with the creation options, raw bytes.
	Challenge []byte

	// Origin is the exact web origin the response must come from.
	Origin string

	// RPID is the relying party identifier the credential is scoped to.
	RPID string

	// UserVerification set to UserVerificationRequired makes the UV flag
	// mandatory. UP is always mandatory.
	UserVerification UserVerificationRequirement

	// Algorithms, when non-empty, restricts the credential key to the
	// listed COSE algorithms.
	Algorithms []cose.Algorithm

	// UserHandle is the user the credential is being registered to,
	// passed to CredentialUniqueForUser.
	UserHandle []byte

	// CredentialUniqueForUser reports whether credentialID is not yet
	// registered, or is registered only to userHandle. Nil skips the
	// check.
	CredentialUniqueForUser func(credentialID, userHandle []byte) bool
}

// RegistrationResult is what the relying party stores after a successful
// registration.
type RegistrationResult struct {
	CredentialID []byte
	PublicKey    *cose.Key
	SignCount    uint32
	AAGUID       uuid.UUID

	Format          Format
	AttestationType AttestationType

	// TrustPath holds the attestation certificate chain, leaf first,
	// when the format conveyed one.
	TrustPath []*x509.Certificate
}

// VerifyRegistration checks resp against expected and the attestation
// statement against the authenticator data. On success the returned
// result carries everything the relying party persists for later
// authentication ceremonies.
func VerifyRegistration(resp *RegistrationResponse, expected *RegistrationExpectations) (*RegistrationResult, error) {
	if resp == nil || resp.ClientData == nil || resp.AuthData == nil || resp.statement == nil {
		return nil, failf(ReasonMalformedEncoding, "registration", "incomplete response")
	}
	if expected == nil {
		return nil, failf(ReasonMalformedEncoding, "registration", "no expectations")
	}

	if resp.ClientData.Type != CeremonyCreate {
		return nil, failf(ReasonCeremonyTypeMismatch, "registration", "client data type %q", resp.ClientData.Type)
	}
	if !resp.ClientData.challengeEqual(expected.Challenge) {
		return nil, failf(ReasonChallengeMismatch, "registration", "client data challenge does not match session")
	}
	if resp.ClientData.Origin != expected.Origin {
		return nil, failf(ReasonOriginMismatch, "registration", "origin %q, want %q", resp.ClientData.Origin, expected.Origin)
	}

	attested := resp.AuthData.Attested
	if !bytes.Equal(resp.RawID, attested.CredentialID) {
		return nil, failf(ReasonMalformedEncoding, "registration", "rawId does not match attested credential id")
	}

	rpIDHash := sha256.Sum256([]byte(expected.RPID))
	if !bytes.Equal(resp.AuthData.RPIDHash, rpIDHash[:]) {
		return nil, failf(ReasonRPIDHashMismatch, "registration", "authenticator data rp id hash does not match %q", expected.RPID)
	}

	if !resp.AuthData.Flags.UserPresent() {
		return nil, failf(ReasonUserPresenceMissing, "registration", "UP flag not set")
	}
	if expected.UserVerification == UserVerificationRequired && !resp.AuthData.Flags.UserVerified() {
		return nil, failf(ReasonUserVerificationMissing, "registration", "UV flag not set")
	}

	if len(expected.Algorithms) > 0 && !algorithmAllowed(expected.Algorithms, attested.PublicKey.Algorithm) {
		return nil, failf(ReasonUnsupportedAlgorithm, "registration", "credential algorithm %s not offered", attested.PublicKey.Algorithm)
	}

	clientDataHash := sha256.Sum256(resp.ClientData.Raw)
	attType, trustPath, err := resp.statement.verify(clientDataHash[:], resp.AuthData)
	if err != nil {
		return nil, err
	}

	if expected.CredentialUniqueForUser != nil &&
		!expected.CredentialUniqueForUser(attested.CredentialID, expected.UserHandle) {
		return nil, failf(ReasonCredentialNotUnique, "registration", "credential id already registered")
	}

	return &RegistrationResult{
		CredentialID:    attested.CredentialID,
		PublicKey:       attested.PublicKey,
		SignCount:       resp.AuthData.SignCount,
		AAGUID:          attested.AAGUID,
		Format:          resp.Format,
		AttestationType: attType,
		TrustPath:       trustPath,
	}, nil
}

func algorithmAllowed(allowed []cose.Algorithm, alg cose.Algorithm) bool {
	for _, a := range allowed {
		if a == alg {
			return true
		}
	}
	return false
}

// unmarshalEnvelope rejects non-object envelopes before handing off to
// encoding/json, which would otherwise accept a bare null.
func unmarshalEnvelope(data []byte, v interface{}) error {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return failf(ReasonMalformedEncoding, "envelope", "not a JSON object")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fail(ReasonMalformedEncoding, "envelope", err)
	}
	return nil
}

// credentialIDPair reconciles the envelope's id and rawId members. At
// least one must be present; when both are, they must name the same
// bytes.
func credentialIDPair(id, rawID string) (string, []byte, error) {
	if id == "" && rawID == "" {
		return "", nil, failf(ReasonMalformedEncoding, "envelope", "missing credential id")
	}
	if id == "" {
		id = rawID
	}
	if rawID == "" {
		rawID = id
	}
	decoded, err := decodeBase64URL(rawID)
	if err != nil {
		return "", nil, fail(ReasonMalformedEncoding, "envelope", err)
	}
	fromID, err := decodeBase64URL(id)
	if err != nil {
		return "", nil, fail(ReasonMalformedEncoding, "envelope", err)
	}
	if !bytes.Equal(decoded, fromID) {
		return "", nil, failf(ReasonMalformedEncoding, "envelope", "id and rawId disagree")
	}
	return id, decoded, nil
}
