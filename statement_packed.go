// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package webauthn

import (
	"bytes"
	"crypto/x509"
	"encoding/asn1"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/keygate/webauthn/authdata"
	"github.com/keygate/webauthn/cose"
)

// id-fido-gen-ce-aaguid
var oidFIDOGenCEAAGUID = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 45724, 1, 1, 4}

type packedStatement struct {
	algorithm cose.Algorithm
	signature []byte

	// attestnCert and caCerts are set for the full attestation variant;
	// both nil means self attestation.
	attestnCert *x509.Certificate
	caCerts     []*x509.Certificate
}

func parsePackedStatement(data []byte) (statement, error) {
	var raw struct {
		Alg        int      `cbor:"alg"`
		Sig        []byte   `cbor:"sig"`
		X5C        [][]byte `cbor:"x5c"`
		ECDAAKeyID []byte   `cbor:"ecdaaKeyId"`
	}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fail(ReasonMalformedEncoding, "packed attestation", err)
	}
	if raw.Alg == 0 {
		return nil, failf(ReasonMalformedEncoding, "packed attestation", "missing alg")
	}
	if len(raw.Sig) == 0 {
		return nil, failf(ReasonMalformedEncoding, "packed attestation", "missing sig")
	}
	if len(raw.ECDAAKeyID) > 0 {
		return nil, failf(ReasonUnsupportedAttestationFormat, "packed attestation", "ECDAA")
	}
	alg := cose.Algorithm(raw.Alg)
	if !alg.Supported() {
		return nil, failf(ReasonUnsupportedAlgorithm, "packed attestation", "algorithm %d", raw.Alg)
	}

	st := &packedStatement{algorithm: alg, signature: raw.Sig}
	if len(raw.X5C) > 0 {
		var err error
		if st.attestnCert, st.caCerts, err = parseCertificateChain(raw.X5C); err != nil {
			return nil, err
		}
	}
	return st, nil
}

func (st *packedStatement) verify(clientDataHash []byte, authData *authdata.Data) (AttestationType, []*x509.Certificate, error) {
	signed := signedMessageHash(authData.Raw, clientDataHash)

	if st.attestnCert == nil {
		// Self attestation: the credential key signs its own creation.
		if st.algorithm != authData.Attested.PublicKey.Algorithm {
			return 0, nil, failf(ReasonSignatureInvalid, "packed attestation", "alg %s does not match credential algorithm", st.algorithm)
		}
		if err := authData.Attested.PublicKey.Verify(signed, st.signature); err != nil {
			return 0, nil, fail(ReasonSignatureInvalid, "packed attestation", err)
		}
		return AttestationTypeSelf, nil, nil
	}

	if err := st.attestnCert.CheckSignature(st.algorithm.X509(), signed, st.signature); err != nil {
		return 0, nil, fail(ReasonSignatureInvalid, "packed attestation", err)
	}
	trustPath, err := buildTrustPath(st.attestnCert, st.caCerts, nil, time.Time{})
	if err != nil {
		return 0, nil, fail(ReasonUntrustedAttestationChain, "packed attestation", err)
	}
	if err := checkPackedAttestnCert(st.attestnCert); err != nil {
		return 0, nil, fail(ReasonUntrustedAttestationChain, "packed attestation", err)
	}
	if err := matchCertAAGUIDExtension(st.attestnCert, authData.Attested.AAGUID[:]); err != nil {
		return 0, nil, fail(ReasonUntrustedAttestationChain, "packed attestation", err)
	}
	return AttestationTypeBasic, trustPath, nil
}

// checkPackedAttestnCert enforces the packed attestation certificate
// requirements: version 3, a vendor subject with the literal
// "Authenticator Attestation" unit, and CA set to false.
func checkPackedAttestnCert(c *x509.Certificate) error {
	if c.Version != 3 {
		return errors.Errorf("certificate version %d, want 3", c.Version)
	}
	subject := c.Subject
	if country := subject.Country; len(country) == 0 || len(country[0]) != 2 {
		return errors.New("certificate country is not a two letter ISO 3166 code")
	}
	if len(subject.Organization) == 0 {
		return errors.New("certificate has no organization")
	}
	if ou := subject.OrganizationalUnit; len(ou) == 0 || ou[0] != "Authenticator Attestation" {
		return errors.New(`certificate organizational unit is not "Authenticator Attestation"`)
	}
	if subject.CommonName == "" {
		return errors.New("certificate has no common name")
	}
	if c.IsCA {
		return errors.New("certificate is a CA")
	}
	return nil
}

// matchCertAAGUIDExtension checks the id-fido-gen-ce-aaguid extension
// against the authenticator data AAGUID when the certificate carries it.
func matchCertAAGUIDExtension(c *x509.Certificate, aaguid []byte) error {
	for _, ext := range c.Extensions {
		if !ext.Id.Equal(oidFIDOGenCEAAGUID) {
			continue
		}
		if ext.Critical {
			return errors.New("aaguid extension marked critical")
		}
		var value asn1.RawValue
		rest, err := asn1.Unmarshal(ext.Value, &value)
		if err != nil {
			return err
		}
		if len(rest) != 0 {
			return errors.New("trailing data after aaguid extension")
		}
		if !bytes.Equal(value.Bytes, aaguid) {
			return errors.New("certificate aaguid does not match authenticator data")
		}
		return nil
	}
	return nil
}

// signedMessageHash is the attestation counterpart of signedMessage: the
// client data is already hashed by the caller.
func signedMessageHash(rawAuthData, clientDataHash []byte) []byte {
	signed := make([]byte, 0, len(rawAuthData)+len(clientDataHash))
	signed = append(signed, rawAuthData...)
	signed = append(signed, clientDataHash...)
	return signed
}
