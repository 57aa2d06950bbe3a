// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package webauthn

import (
	"bytes"
	"crypto/x509"
	"time"

	"github.com/pkg/errors"

	"github.com/keygate/webauthn/authdata"
)

// Format identifies an attestation statement format. The set is closed:
// dispatch is an exhaustive switch, and an unlisted format is rejected
// with ReasonUnsupportedAttestationFormat.
type Format string

const (
	FormatNone             Format = "none"
	FormatPacked           Format = "packed"
	FormatFIDOU2F          Format = "fido-u2f"
	FormatAndroidKey       Format = "android-key"
	FormatAndroidSafetyNet Format = "android-safetynet"
	FormatTPM              Format = "tpm"
)

// AttestationType is the trust outcome of attestation statement
// verification.
type AttestationType int

const (
	// AttestationTypeNone means the authenticator conveyed no
	// attestation. The credential is usable but unattested.
	AttestationTypeNone AttestationType = iota + 1

	// AttestationTypeSelf means the statement was signed with the
	// credential key itself. It ties the response together but proves
	// nothing about the authenticator.
	AttestationTypeSelf

	// AttestationTypeBasic means the statement chains to an attestation
	// certificate burned into the authenticator model.
	AttestationTypeBasic

	// AttestationTypeAttCA means the statement chains through an
	// attestation CA, as TPM-backed authenticators do.
	AttestationTypeAttCA
)

func (t AttestationType) String() string {
	switch t {
	case AttestationTypeNone:
		return "None"
	case AttestationTypeSelf:
		return "Self"
	case AttestationTypeBasic:
		return "Basic"
	case AttestationTypeAttCA:
		return "AttCA"
	default:
		return "unknown attestation type"
	}
}

// statement is a parsed attestation statement. verify checks it against
// the authenticator data and the client data hash and reports the trust
// outcome with the certificate chain that supports it, leaf first.
type statement interface {
	verify(clientDataHash []byte, authData *authdata.Data) (AttestationType, []*x509.Certificate, error)
}

func parseStatement(format Format, data []byte) (statement, error) {
	switch format {
	case FormatNone:
		return parseNoneStatement(data)
	case FormatPacked:
		return parsePackedStatement(data)
	case FormatFIDOU2F:
		return parseFIDOU2FStatement(data)
	case FormatAndroidKey:
		return parseAndroidKeyStatement(data)
	case FormatAndroidSafetyNet:
		return parseSafetyNetStatement(data)
	case FormatTPM:
		return parseTPMStatement(data)
	default:
		return nil, failf(ReasonUnsupportedAttestationFormat, "attestation", "format %q", format)
	}
}

// parseCertificateChain decodes an x5c array: the attestation certificate
// followed by its chain, each DER encoded.
func parseCertificateChain(x5c [][]byte) (leaf *x509.Certificate, caCerts []*x509.Certificate, err error) {
	if len(x5c) == 0 {
		return nil, nil, failf(ReasonMalformedEncoding, "attestation", "empty x5c")
	}
	for i, der := range x5c {
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, nil, fail(ReasonMalformedEncoding, "attestation", err)
		}
		if i == 0 {
			leaf = cert
		} else {
			caCerts = append(caCerts, cert)
		}
	}
	return leaf, caCerts, nil
}

// buildTrustPath chains leaf through caCerts. When the chain carries its
// own self-signed root, that root anchors verification; otherwise roots
// must hold the expected anchor. A chain with no anchor at all is
// rejected rather than handed to the system trust store. A zero at means
// the current time.
func buildTrustPath(leaf *x509.Certificate, caCerts []*x509.Certificate, roots *x509.CertPool, at time.Time) ([]*x509.Certificate, error) {
	options := x509.VerifyOptions{
		Roots:       roots,
		CurrentTime: at,

		// Attestation certificates are not TLS certificates; their
		// extended key usages are format-specific.
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}

	if len(caCerts) > 0 {
		last := caCerts[len(caCerts)-1]
		if options.Roots == nil && selfSigned(last) && last.IsCA {
			caCerts = caCerts[:len(caCerts)-1]
			options.Roots = x509.NewCertPool()
			options.Roots.AddCert(last)
		}
		if len(caCerts) > 0 {
			options.Intermediates = x509.NewCertPool()
			for _, c := range caCerts {
				options.Intermediates.AddCert(c)
			}
		}
	} else if options.Roots == nil && selfSigned(leaf) {
		options.Roots = x509.NewCertPool()
		options.Roots.AddCert(leaf)
	}
	if options.Roots == nil {
		return nil, errors.New("no trust anchor for attestation chain")
	}

	chains, err := leaf.Verify(options)
	if err != nil {
		return nil, err
	}
	return chains[0], nil
}

func selfSigned(c *x509.Certificate) bool {
	return bytes.Equal(c.RawIssuer, c.RawSubject)
}
