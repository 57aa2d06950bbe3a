// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package webauthn

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/require"
)

func b64(s string) []byte {
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		panic(err.Error())
	}
	return b
}

func marshalCBOR(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := cbor.Marshal(v)
	require.NoError(t, err)
	return data
}

// encodeAuthData assembles authenticator data from its parts. A nil
// coseKey omits the attested credential data block.
func encodeAuthData(t *testing.T, rpID string, flags byte, count uint32, aaguid [16]byte, credID, coseKey []byte) []byte {
	t.Helper()
	rpIDHash := sha256.Sum256([]byte(rpID))
	data := append([]byte{}, rpIDHash[:]...)
	data = append(data, flags)
	data = binary.BigEndian.AppendUint32(data, count)
	if coseKey != nil {
		data = append(data, aaguid[:]...)
		data = binary.BigEndian.AppendUint16(data, uint16(len(credID)))
		data = append(data, credID...)
		data = append(data, coseKey...)
	}
	return data
}

func encodeClientData(t *testing.T, ceremony CeremonyType, challenge []byte, origin string) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"type":      string(ceremony),
		"challenge": base64.RawURLEncoding.EncodeToString(challenge),
		"origin":    origin,
	})
	require.NoError(t, err)
	return data
}

func encodeRegistrationJSON(t *testing.T, credID, clientDataJSON, attestationObject []byte) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"id":    base64.RawURLEncoding.EncodeToString(credID),
		"rawId": base64.RawURLEncoding.EncodeToString(credID),
		"type":  "public-key",
		"response": map[string]string{
			"clientDataJSON":    base64.RawURLEncoding.EncodeToString(clientDataJSON),
			"attestationObject": base64.RawURLEncoding.EncodeToString(attestationObject),
		},
	})
	require.NoError(t, err)
	return data
}

func encodeAttestationObject(t *testing.T, format string, attStmt interface{}, authData []byte) []byte {
	t.Helper()
	return marshalCBOR(t, map[string]interface{}{
		"fmt":      format,
		"attStmt":  attStmt,
		"authData": authData,
	})
}

// newES256Key generates a P-256 key pair and the COSE encoding of its
// public half.
func newES256Key(t *testing.T) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	x := make([]byte, 32)
	y := make([]byte, 32)
	key.X.FillBytes(x)
	key.Y.FillBytes(y)
	coseKey := marshalCBOR(t, map[int]interface{}{
		1: 2, 3: -7, -1: 1, -2: x, -3: y,
	})
	return key, coseKey
}

func signES256(t *testing.T, key *ecdsa.PrivateKey, message []byte) []byte {
	t.Helper()
	digest := sha256.Sum256(message)
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	require.NoError(t, err)
	return sig
}

// newAttestationCert self-signs a minimal P-256 attestation certificate
// with the given subject.
func newAttestationCert(t *testing.T, subject pkix.Name) (*ecdsa.PrivateKey, []byte) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      subject,
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	return key, der
}

// attestationSubject is a subject that satisfies the packed attestation
// certificate requirements.
func attestationSubject() pkix.Name {
	return pkix.Name{
		Country:            []string{"US"},
		Organization:       []string{"Keygate Test"},
		OrganizationalUnit: []string{"Authenticator Attestation"},
		CommonName:         "Keygate Test Attestation",
	}
}
