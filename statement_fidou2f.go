// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package webauthn

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/x509"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/keygate/webauthn/authdata"
)

type fidoU2FStatement struct {
	attestnCert *x509.Certificate
	signature   []byte
}

func parseFIDOU2FStatement(data []byte) (statement, error) {
	var raw struct {
		Sig []byte   `cbor:"sig"`
		X5C [][]byte `cbor:"x5c"`
	}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fail(ReasonMalformedEncoding, "fido-u2f attestation", err)
	}
	if len(raw.Sig) == 0 {
		return nil, failf(ReasonMalformedEncoding, "fido-u2f attestation", "missing sig")
	}
	if len(raw.X5C) != 1 {
		return nil, failf(ReasonMalformedEncoding, "fido-u2f attestation", "x5c has %d certificates, want 1", len(raw.X5C))
	}
	cert, _, err := parseCertificateChain(raw.X5C)
	if err != nil {
		return nil, err
	}
	return &fidoU2FStatement{attestnCert: cert, signature: raw.Sig}, nil
}

func (st *fidoU2FStatement) verify(clientDataHash []byte, authData *authdata.Data) (AttestationType, []*x509.Certificate, error) {
	certKey, ok := st.attestnCert.PublicKey.(*ecdsa.PublicKey)
	if !ok || certKey.Curve != elliptic.P256() {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "fido-u2f attestation", "certificate key is not P-256")
	}

	attested := authData.Attested
	credentialKey, ok := attested.PublicKey.Public.(*ecdsa.PublicKey)
	if !ok || credentialKey.Curve != elliptic.P256() {
		return 0, nil, failf(ReasonSignatureInvalid, "fido-u2f attestation", "credential key is not P-256")
	}

	// U2F predates AAGUIDs; a nonzero one means the response was not
	// produced by a U2F authenticator.
	if attested.AAGUID != uuid.Nil {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "fido-u2f attestation", "nonzero aaguid")
	}

	signed := u2fVerificationData(authData.RPIDHash, clientDataHash, attested.CredentialID, credentialKey)
	if err := st.attestnCert.CheckSignature(x509.ECDSAWithSHA256, signed, st.signature); err != nil {
		return 0, nil, fail(ReasonSignatureInvalid, "fido-u2f attestation", err)
	}

	// The single certificate is the whole trust path. Chaining it to a
	// vendor root is a metadata decision left to the caller.
	return AttestationTypeBasic, []*x509.Certificate{st.attestnCert}, nil
}

// u2fVerificationData is the message a U2F device signs at registration:
// a zero byte, the application parameter, the challenge parameter, the
// key handle, then the credential key in X9.62 uncompressed form.
func u2fVerificationData(rpIDHash, clientDataHash, credentialID []byte, key *ecdsa.PublicKey) []byte {
	publicKey := make([]byte, 65)
	publicKey[0] = 0x04
	key.X.FillBytes(publicKey[1:33])
	key.Y.FillBytes(publicKey[33:65])

	signed := make([]byte, 0, 1+len(rpIDHash)+len(clientDataHash)+len(credentialID)+len(publicKey))
	signed = append(signed, 0x00)
	signed = append(signed, rpIDHash...)
	signed = append(signed, clientDataHash...)
	signed = append(signed, credentialID...)
	signed = append(signed, publicKey...)
	return signed
}
