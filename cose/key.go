// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

// Package cose decodes COSE_Key structures carried in authenticator data
// and verifies WebAuthn signatures against the decoded public keys.
package cose

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rsa"
	"math/big"

	"github.com/fxamacker/cbor/v2"
	"github.com/ldclabs/cose/iana"
	"github.com/pkg/errors"
	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

// KeyType is a COSE key type (kty) from the IANA COSE Key Types registry.
type KeyType int

const (
	KeyTypeOKP = KeyType(iana.KeyTypeOKP)
	KeyTypeEC2 = KeyType(iana.KeyTypeEC2)
	KeyTypeRSA = KeyType(iana.KeyTypeRSA)
)

func (t KeyType) String() string {
	switch t {
	case KeyTypeOKP:
		return "OKP"
	case KeyTypeEC2:
		return "EC2"
	case KeyTypeRSA:
		return "RSA"
	default:
		return "unknown key type"
	}
}

var (
	ErrUnsupportedKeyType   = errors.New("cose: unsupported key type")
	ErrUnsupportedAlgorithm = errors.New("cose: unsupported algorithm")
	ErrVerification         = errors.New("cose: signature verification failed")
)

// Key is a decoded credential public key.
type Key struct {
	// Raw is the CBOR encoding the key was decoded from.
	Raw []byte

	Type      KeyType
	Algorithm Algorithm

	// Public is *ecdsa.PublicKey, *rsa.PublicKey, or ed25519.PublicKey
	// depending on Type.
	Public crypto.PublicKey
}

type rawKey struct {
	Kty    int             `cbor:"1,keyasint"`
	Alg    int             `cbor:"3,keyasint"`
	CrvOrN cbor.RawMessage `cbor:"-1,keyasint,omitempty"`
	XOrE   cbor.RawMessage `cbor:"-2,keyasint,omitempty"`
	Y      cbor.RawMessage `cbor:"-3,keyasint,omitempty"`
}

// ParseKey decodes one COSE_Key from the front of data and returns the key
// together with the bytes that follow it. A key using a kty, crv, or alg
// outside the supported set is rejected.
func ParseKey(data []byte) (*Key, []byte, error) {
	var raw rawKey
	decoder := cbor.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&raw); err != nil {
		return nil, nil, errors.Wrap(err, "cose: decode key")
	}
	consumed := decoder.NumBytesRead()

	if raw.Kty == 0 {
		return nil, nil, errors.New("cose: key has no kty")
	}
	if raw.Alg == 0 {
		return nil, nil, errors.New("cose: key has no alg")
	}
	alg := Algorithm(raw.Alg)
	if !alg.Supported() {
		return nil, nil, errors.Wrapf(ErrUnsupportedAlgorithm, "cose: algorithm %d", raw.Alg)
	}

	key := &Key{
		Raw:       data[:consumed:consumed],
		Type:      KeyType(raw.Kty),
		Algorithm: alg,
	}

	var err error
	switch key.Type {
	case KeyTypeEC2:
		key.Public, err = raw.ec2Key()
	case KeyTypeRSA:
		key.Public, err = raw.rsaKey()
	case KeyTypeOKP:
		key.Public, err = raw.okpKey()
	default:
		return nil, nil, errors.Wrapf(ErrUnsupportedKeyType, "cose: kty %d", raw.Kty)
	}
	if err != nil {
		return nil, nil, err
	}
	return key, data[consumed:], nil
}

func (raw *rawKey) ec2Key() (*ecdsa.PublicKey, error) {
	var crv int
	var x, y []byte
	if err := cbor.Unmarshal(raw.CrvOrN, &crv); err != nil {
		return nil, errors.Wrap(err, "cose: decode EC2 crv")
	}
	if err := cbor.Unmarshal(raw.XOrE, &x); err != nil {
		return nil, errors.Wrap(err, "cose: decode EC2 x")
	}
	if err := cbor.Unmarshal(raw.Y, &y); err != nil {
		return nil, errors.Wrap(err, "cose: decode EC2 y")
	}

	var curve elliptic.Curve
	switch crv {
	case iana.EllipticCurveP_256:
		curve = elliptic.P256()
	case iana.EllipticCurveP_384:
		curve = elliptic.P384()
	case iana.EllipticCurveP_521:
		curve = elliptic.P521()
	default:
		return nil, errors.Wrapf(ErrUnsupportedAlgorithm, "cose: EC2 curve %d", crv)
	}
	if len(x) == 0 || len(y) == 0 {
		return nil, errors.New("cose: EC2 key has empty coordinate")
	}
	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(x),
		Y:     new(big.Int).SetBytes(y),
	}, nil
}

func (raw *rawKey) rsaKey() (*rsa.PublicKey, error) {
	var n, e []byte
	if err := cbor.Unmarshal(raw.CrvOrN, &n); err != nil {
		return nil, errors.Wrap(err, "cose: decode RSA n")
	}
	if err := cbor.Unmarshal(raw.XOrE, &e); err != nil {
		return nil, errors.Wrap(err, "cose: decode RSA e")
	}
	if len(n) == 0 || len(e) == 0 || len(e) > 8 {
		return nil, errors.New("cose: RSA key has invalid modulus or exponent")
	}
	exponent := 0
	for _, b := range e {
		exponent = exponent<<8 | int(b)
	}
	if exponent <= 1 {
		return nil, errors.New("cose: RSA key has invalid exponent")
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(n),
		E: exponent,
	}, nil
}

func (raw *rawKey) okpKey() (ed25519.PublicKey, error) {
	var crv int
	var x []byte
	if err := cbor.Unmarshal(raw.CrvOrN, &crv); err != nil {
		return nil, errors.Wrap(err, "cose: decode OKP crv")
	}
	if err := cbor.Unmarshal(raw.XOrE, &x); err != nil {
		return nil, errors.Wrap(err, "cose: decode OKP x")
	}
	if crv != iana.EllipticCurveEd25519 {
		return nil, errors.Wrapf(ErrUnsupportedAlgorithm, "cose: OKP curve %d", crv)
	}
	if len(x) != ed25519.PublicKeySize {
		return nil, errors.Errorf("cose: Ed25519 key is %d bytes", len(x))
	}
	return ed25519.PublicKey(x), nil
}

// Verify checks signature over message using the key's algorithm. The
// message is hashed with the algorithm's paired digest before verification,
// except for EdDSA which signs the message directly.
func (k *Key) Verify(message, signature []byte) error {
	var digest []byte
	if h := k.Algorithm.Hash(); h != 0 {
		hasher := h.New()
		hasher.Write(message)
		digest = hasher.Sum(nil)
	}

	switch pub := k.Public.(type) {
	case *ecdsa.PublicKey:
		r, s, err := parseECDSASignature(signature)
		if err != nil {
			return err
		}
		if !ecdsa.Verify(pub, digest, r, s) {
			return ErrVerification
		}
	case *rsa.PublicKey:
		var err error
		if k.Algorithm.isRSAPSS() {
			err = rsa.VerifyPSS(pub, k.Algorithm.Hash(), digest, signature, nil)
		} else {
			err = rsa.VerifyPKCS1v15(pub, k.Algorithm.Hash(), digest, signature)
		}
		if err != nil {
			return ErrVerification
		}
	case ed25519.PublicKey:
		if !ed25519.Verify(pub, message, signature) {
			return ErrVerification
		}
	default:
		return errors.Wrapf(ErrUnsupportedKeyType, "cose: %T", k.Public)
	}
	return nil
}

// parseECDSASignature decodes an ASN.1 DER Ecdsa-Sig-Value. Zero and
// negative components are rejected here rather than left to ecdsa.Verify.
func parseECDSASignature(signature []byte) (r, s *big.Int, err error) {
	r, s = new(big.Int), new(big.Int)
	input := cryptobyte.String(signature)
	var inner cryptobyte.String
	if !input.ReadASN1(&inner, cryptobyte_asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return nil, nil, errors.New("cose: malformed ECDSA signature")
	}
	if r.Sign() <= 0 || s.Sign() <= 0 {
		return nil, nil, errors.New("cose: ECDSA signature component out of range")
	}
	return r, s, nil
}
