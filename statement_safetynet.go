// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package webauthn

import (
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/keygate/webauthn/authdata"
)

// Google GlobalSign Root CA R2, the anchor SafetyNet attestation chains
// terminate at. The certificate expired in December 2021, so chains are
// evaluated at the attestation's own timestamp.
const globalSignRootR2PEM = `
-----BEGIN CERTIFICATE-----
MIIDujCCAqKgAwIBAgILBAAAAAABD4Ym5g0wDQYJKoZIhvcNAQEFBQAwTDEgMB4G
A1UECxMXR2xvYmFsU2lnbiBSb290IENBIC0gUjIxEzARBgNVBAoTCkdsb2JhbFNp
Z24xEzARBgNVBAMTCkdsb2JhbFNpZ24wHhcNMDYxMjE1MDgwMDAwWhcNMjExMjE1
MDgwMDAwWjBMMSAwHgYDVQQLExdHbG9iYWxTaWduIFJvb3QgQ0EgLSBSMjETMBEG
A1UEChMKR2xvYmFsU2lnbjETMBEGA1UEAxMKR2xvYmFsU2lnbjCCASIwDQYJKoZI
hvcNAQEBBQADggEPADCCAQoCggEBAKbPJA6+Lm8omUVCxKs+IVSbC9N/hHD6ErPL
v4dfxn+G07IwXNb9rfF73OX4YJYJkhD10FPe+3t+c4isUoh7SqbKSaZeqKeMWhG8
eoLrvozps6yWJQeXSpkqBy+0Hne/ig+1AnwblrjFuTosvNYSuetZfeLQBoZfXklq
tTleiDTsvHgMCJiEbKjNS7SgfQx5TfC4LcshytVsW33hoCmEofnTlEnLJGKRILzd
C9XZzPnqJworc5HGnRusyMvo4KD0L5CLTfuwNhv2GXqF4G3yYROIXJ/gkwpRl4pa
zq+r1feqCapgvdzZX99yqWATXgAByUr6P6TqBwMhAo6CygPCm48CAwEAAaOBnDCB
mTAOBgNVHQ8BAf8EBAMCAQYwDwYDVR0TAQH/BAUwAwEB/zAdBgNVHQ4EFgQUm+IH
V2ccHsBqBt5ZtJot39wZhi4wNgYDVR0fBC8wLTAroCmgJ4YlaHR0cDovL2NybC5n
bG9iYWxzaWduLm5ldC9yb290LXIyLmNybDAfBgNVHSMEGDAWgBSb4gdXZxwewGoG
3lm0mi3f3BmGLjANBgkqhkiG9w0BAQUFAAOCAQEAmYFThxxol4aR7OBKuEQLq4Gs
J0/WwbgcQ3izDJr86iw8bmEbTUsp9Z8FHSbBuOmDAGJFtqkIk7mpM0sYmsL4h4hO
291xNBrBVNpGP+DTKqttVCL1OmLNIG+6KYnX3ZHu01yiPqFbQfXf5WRDLenVOavS
ot+3i9DAgBkcRcAtjOj4LaR0VknFBbVPFd5uRHg5h6h+u/N5GJG79G+dwfCMNYxd
AfvDbbnvRG15RjF+Cv6pgsH/76tuIMRQyV+dTZsXjAzlAcmgQWpzU/qlULRuJQ/7
TBj0/VLZjmmx6BEP3ojY+x1J96relc8geMJgEtslQIxq/H5COEBkEveegeGTLg==
-----END CERTIFICATE-----`

const safetyNetHostname = "attest.android.com"

var (
	globalSignRootR2 *x509.Certificate

	safetyNetJWSAlgorithms = []string{
		"RS256", "RS384", "RS512",
		"PS256", "PS384", "PS512",
		"ES256", "ES384", "ES512",
	}
)

func init() {
	block, _ := pem.Decode([]byte(globalSignRootR2PEM))
	if block == nil {
		panic("webauthn: bad GlobalSign Root R2 PEM")
	}
	var err error
	if globalSignRootR2, err = x509.ParseCertificate(block.Bytes); err != nil {
		panic("webauthn: parse GlobalSign Root R2: " + err.Error())
	}
}

type safetyNetStatement struct {
	version  string
	response []byte
}

type safetyNetClaims struct {
	jwt.RegisteredClaims

	Nonce           string `json:"nonce"`
	TimestampMS     int64  `json:"timestampMs"`
	APKPackageName  string `json:"apkPackageName"`
	CTSProfileMatch bool   `json:"ctsProfileMatch"`
	BasicIntegrity  bool   `json:"basicIntegrity"`
}

func parseSafetyNetStatement(data []byte) (statement, error) {
	var raw struct {
		Ver      string `cbor:"ver"`
		Response []byte `cbor:"response"`
	}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fail(ReasonMalformedEncoding, "android-safetynet attestation", err)
	}
	if raw.Ver == "" {
		return nil, failf(ReasonMalformedEncoding, "android-safetynet attestation", "missing ver")
	}
	if len(raw.Response) == 0 {
		return nil, failf(ReasonMalformedEncoding, "android-safetynet attestation", "missing response")
	}
	return &safetyNetStatement{version: raw.Ver, response: raw.Response}, nil
}

func (st *safetyNetStatement) verify(clientDataHash []byte, authData *authdata.Data) (AttestationType, []*x509.Certificate, error) {
	var claims safetyNetClaims
	var chain []*x509.Certificate

	parser := jwt.NewParser(jwt.WithValidMethods(safetyNetJWSAlgorithms))
	_, err := parser.ParseWithClaims(string(st.response), &claims, func(token *jwt.Token) (interface{}, error) {
		var err error
		if chain, err = jwsCertificateChain(token.Header); err != nil {
			return nil, err
		}
		return chain[0].PublicKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return 0, nil, fail(ReasonSignatureInvalid, "android-safetynet attestation", err)
		}
		return 0, nil, fail(ReasonMalformedEncoding, "android-safetynet attestation", err)
	}

	// The nonce commits the SafetyNet verdict to this ceremony.
	nonceBase := signedMessageHash(authData.Raw, clientDataHash)
	nonceHash := sha256.Sum256(nonceBase)
	if claims.Nonce != base64.StdEncoding.EncodeToString(nonceHash[:]) {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "android-safetynet attestation", "nonce does not match ceremony")
	}

	if err := chain[0].VerifyHostname(safetyNetHostname); err != nil {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "android-safetynet attestation", "certificate is not issued to %q", safetyNetHostname)
	}
	if !claims.CTSProfileMatch {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "android-safetynet attestation", "ctsProfileMatch is false")
	}

	roots := x509.NewCertPool()
	roots.AddCert(globalSignRootR2)
	at := time.Time{}
	if claims.TimestampMS > 0 {
		at = time.UnixMilli(claims.TimestampMS)
	}
	trustPath, err := buildTrustPath(chain[0], chain[1:], roots, at)
	if err != nil {
		return 0, nil, fail(ReasonUntrustedAttestationChain, "android-safetynet attestation", err)
	}
	return AttestationTypeBasic, trustPath, nil
}

// jwsCertificateChain decodes the x5c member of a JWS header: standard
// base64, leaf first.
func jwsCertificateChain(header map[string]interface{}) ([]*x509.Certificate, error) {
	rawChain, ok := header["x5c"].([]interface{})
	if !ok || len(rawChain) == 0 {
		return nil, errors.New("JWS header has no x5c")
	}
	chain := make([]*x509.Certificate, 0, len(rawChain))
	for _, entry := range rawChain {
		s, ok := entry.(string)
		if !ok {
			return nil, errors.New("JWS x5c entry is not a string")
		}
		der, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, errors.Wrap(err, "JWS x5c")
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, errors.Wrap(err, "JWS x5c")
		}
		chain = append(chain, cert)
	}
	return chain, nil
}
