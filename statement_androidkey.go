// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package webauthn

import (
	"bytes"
	"crypto"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/keygate/webauthn/authdata"
	"github.com/keygate/webauthn/cose"
)

// Android Keystore software attestation root, extracted from AOSP. The
// last certificate in x5c must be exactly this certificate.
const androidKeystoreRootPEM = `
-----BEGIN CERTIFICATE-----
MIICizCCAjKgAwIBAgIJAKIFntEOQ1tXMAoGCCqGSM49BAMCMIGYMQswCQYDVQQG
EwJVUzETMBEGA1UECAwKQ2FsaWZvcm5pYTEWMBQGA1UEBwwNTW91bnRhaW4gVmll
dzEVMBMGA1UECgwMR29vZ2xlLCBJbmMuMRAwDgYDVQQLDAdBbmRyb2lkMTMwMQYD
VQQDDCpBbmRyb2lkIEtleXN0b3JlIFNvZnR3YXJlIEF0dGVzdGF0aW9uIFJvb3Qw
HhcNMTYwMTExMDA0MzUwWhcNMzYwMTA2MDA0MzUwWjCBmDELMAkGA1UEBhMCVVMx
EzARBgNVBAgMCkNhbGlmb3JuaWExFjAUBgNVBAcMDU1vdW50YWluIFZpZXcxFTAT
BgNVBAoMDEdvb2dsZSwgSW5jLjEQMA4GA1UECwwHQW5kcm9pZDEzMDEGA1UEAwwq
QW5kcm9pZCBLZXlzdG9yZSBTb2Z0d2FyZSBBdHRlc3RhdGlvbiBSb290MFkwEwYH
KoZIzj0CAQYIKoZIzj0DAQcDQgAE7l1ex+HA220Dpn7mthvsTWpdamguD/9/SQ59
dx9EIm29sa/6FsvHrcV30lacqrewLVQBXT5DKyqO107sSHVBpKNjMGEwHQYDVR0O
BBYEFMit6XdMRcOjzw0WEOR5QzohWjDPMB8GA1UdIwQYMBaAFMit6XdMRcOjzw0W
EOR5QzohWjDPMA8GA1UdEwEB/wQFMAMBAf8wDgYDVR0PAQH/BAQDAgKEMAoGCCqG
SM49BAMCA0cAMEQCIDUho++LNEYenNVg8x1YiSBq3KNlQfYNns6KGYxmSGB7AiBN
C/NR2TB8fVvaNTQdqEcbY6WFZTytTySn502vQX3xvw==
-----END CERTIFICATE-----`

var (
	androidKeystoreRoot *x509.Certificate

	// Keymaster attestation extension.
	oidKeymasterAttestation = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 11129, 2, 1, 17}
)

func init() {
	block, _ := pem.Decode([]byte(androidKeystoreRootPEM))
	if block == nil {
		panic("webauthn: bad Android Keystore root PEM")
	}
	var err error
	if androidKeystoreRoot, err = x509.ParseCertificate(block.Bytes); err != nil {
		panic("webauthn: parse Android Keystore root: " + err.Error())
	}
}

const (
	kmOriginGenerated = 0
	kmPurposeSign     = 2
)

type androidKeyStatement struct {
	algorithm cose.Algorithm
	signature []byte
	credCert  *x509.Certificate
	caCerts   []*x509.Certificate
}

func parseAndroidKeyStatement(data []byte) (statement, error) {
	var raw struct {
		Alg int      `cbor:"alg"`
		Sig []byte   `cbor:"sig"`
		X5C [][]byte `cbor:"x5c"`
	}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fail(ReasonMalformedEncoding, "android-key attestation", err)
	}
	if raw.Alg == 0 {
		return nil, failf(ReasonMalformedEncoding, "android-key attestation", "missing alg")
	}
	if len(raw.Sig) == 0 {
		return nil, failf(ReasonMalformedEncoding, "android-key attestation", "missing sig")
	}
	alg := cose.Algorithm(raw.Alg)
	if !alg.Supported() {
		return nil, failf(ReasonUnsupportedAlgorithm, "android-key attestation", "algorithm %d", raw.Alg)
	}
	credCert, caCerts, err := parseCertificateChain(raw.X5C)
	if err != nil {
		return nil, err
	}
	return &androidKeyStatement{
		algorithm: alg,
		signature: raw.Sig,
		credCert:  credCert,
		caCerts:   caCerts,
	}, nil
}

func (st *androidKeyStatement) verify(clientDataHash []byte, authData *authdata.Data) (AttestationType, []*x509.Certificate, error) {
	// Pin the chain to the Android Keystore root before anything else.
	if len(st.caCerts) == 0 {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "android-key attestation", "no CA certificates")
	}
	if !st.caCerts[len(st.caCerts)-1].Equal(androidKeystoreRoot) {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "android-key attestation", "chain does not end at the Android Keystore root")
	}

	signed := signedMessageHash(authData.Raw, clientDataHash)
	if err := st.credCert.CheckSignature(st.algorithm.X509(), signed, st.signature); err != nil {
		return 0, nil, fail(ReasonSignatureInvalid, "android-key attestation", err)
	}

	// The certified key must be the credential key itself.
	certKey, ok := st.credCert.PublicKey.(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !certKey.Equal(authData.Attested.PublicKey.Public) {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "android-key attestation", "certificate key does not match credential key")
	}

	ext, err := parseKeymasterExtension(st.credCert)
	if err != nil {
		return 0, nil, fail(ReasonUntrustedAttestationChain, "android-key attestation", err)
	}
	if !bytes.Equal(ext.attestationChallenge, clientDataHash) {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "android-key attestation", "attestationChallenge does not match client data hash")
	}

	// The key must be RP scoped, freshly generated, and restricted to
	// signing.
	if ext.softwareEnforced.allApplications || ext.teeEnforced.allApplications {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "android-key attestation", "allApplications is set")
	}
	if ext.softwareEnforced.origin != kmOriginGenerated && ext.teeEnforced.origin != kmOriginGenerated {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "android-key attestation", "origin is not KM_ORIGIN_GENERATED")
	}
	if !ext.softwareEnforced.signOnly() && !ext.teeEnforced.signOnly() {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "android-key attestation", "purpose is not KM_PURPOSE_SIGN")
	}

	trustPath, err := buildTrustPath(st.credCert, st.caCerts, nil, time.Time{})
	if err != nil {
		return 0, nil, fail(ReasonUntrustedAttestationChain, "android-key attestation", err)
	}
	return AttestationTypeBasic, trustPath, nil
}

type authorizationList struct {
	purpose         []int
	origin          int
	allApplications bool
}

func (l *authorizationList) signOnly() bool {
	return len(l.purpose) == 1 && l.purpose[0] == kmPurposeSign
}

type keymasterExtension struct {
	attestationChallenge []byte
	softwareEnforced     authorizationList
	teeEnforced          authorizationList
}

// parseKeymasterExtension pulls the fields WebAuthn cares about out of
// the KeyDescription sequence: attestationChallenge at index 4 and the
// two authorization lists at indexes 6 and 7.
func parseKeymasterExtension(cert *x509.Certificate) (*keymasterExtension, error) {
	var extValue []byte
	for _, e := range cert.Extensions {
		if e.Id.Equal(oidKeymasterAttestation) {
			extValue = e.Value
			break
		}
	}
	if len(extValue) == 0 {
		return nil, errors.New("missing keymaster attestation extension")
	}

	var seq asn1.RawValue
	rest, err := asn1.Unmarshal(extValue, &seq)
	if err != nil {
		return nil, errors.Wrap(err, "keymaster extension")
	}
	if len(rest) != 0 {
		return nil, errors.New("trailing data after keymaster extension")
	}
	if !seq.IsCompound || seq.Tag != asn1.TagSequence || seq.Class != asn1.ClassUniversal {
		return nil, errors.New("keymaster extension is not a sequence")
	}

	ext := &keymasterExtension{}
	rest = seq.Bytes
	for i := 0; len(rest) > 0; i++ {
		var v asn1.RawValue
		if rest, err = asn1.Unmarshal(rest, &v); err != nil {
			return nil, errors.Wrap(err, "keymaster extension element")
		}
		switch i {
		case 4:
			ext.attestationChallenge = v.Bytes
		case 6:
			if err = parseAuthorizationList(v.Bytes, &ext.softwareEnforced); err != nil {
				return nil, err
			}
		case 7:
			if err = parseAuthorizationList(v.Bytes, &ext.teeEnforced); err != nil {
				return nil, err
			}
		}
	}
	return ext, nil
}

func parseAuthorizationList(data []byte, list *authorizationList) error {
	rest := data
	for len(rest) > 0 {
		var v asn1.RawValue
		var err error
		if rest, err = asn1.Unmarshal(rest, &v); err != nil {
			return errors.Wrap(err, "authorization list")
		}
		if v.Class != asn1.ClassContextSpecific {
			continue
		}
		switch v.Tag {
		case 1: // purpose, EXPLICIT SET OF INTEGER
			if _, err := asn1.UnmarshalWithParams(v.FullBytes, &list.purpose, "explicit,set,tag:1"); err != nil {
				return errors.Wrap(err, "authorization list purpose")
			}
		case 600: // allApplications, EXPLICIT NULL
			list.allApplications = true
		case 702: // origin, EXPLICIT INTEGER
			if _, err := asn1.UnmarshalWithParams(v.FullBytes, &list.origin, "explicit,tag:702"); err != nil {
				return errors.Wrap(err, "authorization list origin")
			}
		}
	}
	return nil
}
