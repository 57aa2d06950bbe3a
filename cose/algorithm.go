// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package cose

import (
	"crypto"
	"crypto/x509"
	"strconv"

	"github.com/ldclabs/cose/iana"
)

// Algorithm is a COSE algorithm identifier from the IANA COSE Algorithms
// registry. Only the subset used for WebAuthn credential signatures is
// supported.
type Algorithm int

const (
	AlgES256 = Algorithm(iana.AlgorithmES256) // ECDSA w/ SHA-256
	AlgES384 = Algorithm(iana.AlgorithmES384) // ECDSA w/ SHA-384
	AlgES512 = Algorithm(iana.AlgorithmES512) // ECDSA w/ SHA-512
	AlgEdDSA = Algorithm(iana.AlgorithmEdDSA) // Ed25519
	AlgPS256 = Algorithm(iana.AlgorithmPS256) // RSASSA-PSS w/ SHA-256
	AlgPS384 = Algorithm(iana.AlgorithmPS384) // RSASSA-PSS w/ SHA-384
	AlgPS512 = Algorithm(iana.AlgorithmPS512) // RSASSA-PSS w/ SHA-512
	AlgRS256 = Algorithm(iana.AlgorithmRS256) // RSASSA-PKCS1-v1_5 w/ SHA-256
	AlgRS384 = Algorithm(iana.AlgorithmRS384) // RSASSA-PKCS1-v1_5 w/ SHA-384
	AlgRS512 = Algorithm(iana.AlgorithmRS512) // RSASSA-PKCS1-v1_5 w/ SHA-512
	AlgRS1   = Algorithm(iana.AlgorithmRS1)   // RSASSA-PKCS1-v1_5 w/ SHA-1, legacy TPM attestation only
)

type algorithmInfo struct {
	name    string
	hash    crypto.Hash
	x509Alg x509.SignatureAlgorithm
	rsaPSS  bool
}

var algorithms = map[Algorithm]algorithmInfo{
	AlgES256: {"ES256", crypto.SHA256, x509.ECDSAWithSHA256, false},
	AlgES384: {"ES384", crypto.SHA384, x509.ECDSAWithSHA384, false},
	AlgES512: {"ES512", crypto.SHA512, x509.ECDSAWithSHA512, false},
	AlgEdDSA: {"EdDSA", crypto.Hash(0), x509.PureEd25519, false},
	AlgPS256: {"PS256", crypto.SHA256, x509.SHA256WithRSAPSS, true},
	AlgPS384: {"PS384", crypto.SHA384, x509.SHA384WithRSAPSS, true},
	AlgPS512: {"PS512", crypto.SHA512, x509.SHA512WithRSAPSS, true},
	AlgRS256: {"RS256", crypto.SHA256, x509.SHA256WithRSA, false},
	AlgRS384: {"RS384", crypto.SHA384, x509.SHA384WithRSA, false},
	AlgRS512: {"RS512", crypto.SHA512, x509.SHA512WithRSA, false},
	AlgRS1:   {"RS1", crypto.SHA1, x509.SHA1WithRSA, false},
}

// Supported reports whether a is one of the registered signature algorithms.
func (a Algorithm) Supported() bool {
	_, ok := algorithms[a]
	return ok
}

// Hash returns the digest algorithm paired with a. Zero for EdDSA, which
// signs the message directly.
func (a Algorithm) Hash() crypto.Hash {
	return algorithms[a].hash
}

// X509 returns the x509 signature algorithm that corresponds to a, for
// verifying attestation certificate signatures.
func (a Algorithm) X509() x509.SignatureAlgorithm {
	return algorithms[a].x509Alg
}

func (a Algorithm) String() string {
	if info, ok := algorithms[a]; ok {
		return info.name
	}
	return "COSE algorithm " + strconv.Itoa(int(a))
}

func (a Algorithm) isRSAPSS() bool {
	return algorithms[a].rsaPSS
}
