// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package webauthn

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/binary"
	"io"
	"math/big"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"

	"github.com/keygate/webauthn/authdata"
	"github.com/keygate/webauthn/cose"
)

// TPM 2.0 structure constants, from the TCG TPM 2.0 Library Part 2.
const (
	tpmGeneratedValue  = 0xff544347
	tpmStAttestCertify = 0x8017

	tpmAlgRSA    = 0x0001
	tpmAlgSHA256 = 0x000b
	tpmAlgSHA384 = 0x000c
	tpmAlgSHA512 = 0x000d
	tpmAlgECC    = 0x0023

	tpmEccNistP256 = 0x0003
	tpmEccNistP384 = 0x0004
	tpmEccNistP521 = 0x0005
)

var (
	oidSubjectAltName     = asn1.ObjectIdentifier{2, 5, 29, 17}
	oidTCGKpAIKCert       = asn1.ObjectIdentifier{2, 23, 133, 8, 3}
	oidTPMManufacturer    = asn1.ObjectIdentifier{2, 23, 133, 2, 1}
	oidTPMModel           = asn1.ObjectIdentifier{2, 23, 133, 2, 2}
	oidTPMFirmwareVersion = asn1.ObjectIdentifier{2, 23, 133, 2, 3}
)

// TCG Vendor ID Registry, manufacturer id to name.
var tpmManufacturers = map[string]string{
	"id:414D4400": "AMD",
	"id:41544D4C": "Atmel",
	"id:4252434D": "Broadcom",
	"id:48504500": "HPE",
	"id:49424d00": "IBM",
	"id:49465800": "Infineon",
	"id:494E5443": "Intel",
	"id:4C454E00": "Lenovo",
	"id:4D534654": "Microsoft",
	"id:4E534D20": "National Semiconductor",
	"id:4E545A00": "Nationz",
	"id:4E544300": "Nuvoton Technology",
	"id:51434F4D": "Qualcomm",
	"id:534D5343": "SMSC",
	"id:53544D20": "ST Microelectronics",
	"id:534D534E": "Samsung",
	"id:534E5300": "Sinosun",
	"id:54584E00": "Texas Instruments",
	"id:57454300": "Winbond",
	"id:524F4343": "Fuzhou Rockchip",
	"id:474F4F47": "Google",
}

// tpmCertifyInfo is the subset of TPMS_ATTEST a WebAuthn verifier needs.
type tpmCertifyInfo struct {
	magic     uint32
	tag       uint16
	extraData []byte

	// attestedName is the certified object's name with its two byte
	// hash algorithm prefix stripped.
	attestedName []byte
}

// tpmPublicArea is the subset of TPMT_PUBLIC a WebAuthn verifier needs.
type tpmPublicArea struct {
	keyType uint16
	nameAlg uint16

	// RSA
	exponent uint32
	modulus  []byte

	// ECC
	curve  uint16
	x, y   []byte
}

type tpmStatement struct {
	version   string
	algorithm cose.Algorithm
	signature []byte

	rawCertInfo []byte
	rawPubArea  []byte
	certInfo    *tpmCertifyInfo
	pubArea     *tpmPublicArea

	aikCert *x509.Certificate
	caCerts []*x509.Certificate
}

func parseTPMStatement(data []byte) (statement, error) {
	var raw struct {
		Ver        string   `cbor:"ver"`
		Alg        int      `cbor:"alg"`
		X5C        [][]byte `cbor:"x5c"`
		ECDAAKeyID []byte   `cbor:"ecdaaKeyId"`
		Sig        []byte   `cbor:"sig"`
		CertInfo   []byte   `cbor:"certInfo"`
		PubArea    []byte   `cbor:"pubArea"`
	}
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return nil, fail(ReasonMalformedEncoding, "tpm attestation", err)
	}
	if len(raw.ECDAAKeyID) > 0 {
		return nil, failf(ReasonUnsupportedAttestationFormat, "tpm attestation", "ECDAA")
	}
	if len(raw.X5C) == 0 {
		return nil, failf(ReasonMalformedEncoding, "tpm attestation", "missing x5c")
	}
	if len(raw.Sig) == 0 {
		return nil, failf(ReasonMalformedEncoding, "tpm attestation", "missing sig")
	}
	alg := cose.Algorithm(raw.Alg)
	if !alg.Supported() || alg.Hash() == 0 {
		return nil, failf(ReasonUnsupportedAlgorithm, "tpm attestation", "algorithm %d", raw.Alg)
	}

	st := &tpmStatement{
		version:     raw.Ver,
		algorithm:   alg,
		signature:   raw.Sig,
		rawCertInfo: raw.CertInfo,
		rawPubArea:  raw.PubArea,
	}
	var err error
	if st.aikCert, st.caCerts, err = parseCertificateChain(raw.X5C); err != nil {
		return nil, err
	}
	if st.certInfo, err = parseTPMCertifyInfo(raw.CertInfo); err != nil {
		return nil, fail(ReasonMalformedEncoding, "tpm attestation", err)
	}
	if st.pubArea, err = parseTPMPublicArea(raw.PubArea); err != nil {
		return nil, fail(ReasonMalformedEncoding, "tpm attestation", err)
	}
	return st, nil
}

func (st *tpmStatement) verify(clientDataHash []byte, authData *authdata.Data) (AttestationType, []*x509.Certificate, error) {
	if st.version != "2.0" {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "tpm attestation", "version %q, want 2.0", st.version)
	}

	// pubArea must describe exactly the credential key.
	if err := st.pubArea.matchesKey(authData.Attested.PublicKey.Public); err != nil {
		return 0, nil, fail(ReasonUntrustedAttestationChain, "tpm attestation", err)
	}

	if st.certInfo.magic != tpmGeneratedValue {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "tpm attestation", "certInfo magic %#x", st.certInfo.magic)
	}
	if st.certInfo.tag != tpmStAttestCertify {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "tpm attestation", "certInfo tag %#x, want TPM_ST_ATTEST_CERTIFY", st.certInfo.tag)
	}

	// extraData commits the TPM attestation to this ceremony.
	attToBeSigned := signedMessageHash(authData.Raw, clientDataHash)
	hasher := st.algorithm.Hash().New()
	hasher.Write(attToBeSigned)
	if !bytes.Equal(hasher.Sum(nil), st.certInfo.extraData) {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "tpm attestation", "certInfo extraData does not match ceremony")
	}

	// The certified name must be the name of pubArea under its nameAlg.
	nameHash, err := tpmHash(st.pubArea.nameAlg)
	if err != nil {
		return 0, nil, fail(ReasonUntrustedAttestationChain, "tpm attestation", err)
	}
	nameHasher := nameHash.New()
	nameHasher.Write(st.rawPubArea)
	if !bytes.Equal(nameHasher.Sum(nil), st.certInfo.attestedName) {
		return 0, nil, failf(ReasonUntrustedAttestationChain, "tpm attestation", "certInfo name does not match pubArea")
	}

	if err := st.aikCert.CheckSignature(st.algorithm.X509(), st.rawCertInfo, st.signature); err != nil {
		return 0, nil, fail(ReasonSignatureInvalid, "tpm attestation", err)
	}

	if err := checkAIKCert(st.aikCert); err != nil {
		return 0, nil, fail(ReasonUntrustedAttestationChain, "tpm attestation", err)
	}
	if err := matchCertAAGUIDExtension(st.aikCert, authData.Attested.AAGUID[:]); err != nil {
		return 0, nil, fail(ReasonUntrustedAttestationChain, "tpm attestation", err)
	}

	// The SAN extension is critical and deliberately handled above;
	// chain building rejects any certificate with unhandled critical
	// extensions left in place.
	for i, oid := range st.aikCert.UnhandledCriticalExtensions {
		if oid.Equal(oidSubjectAltName) {
			st.aikCert.UnhandledCriticalExtensions = append(
				st.aikCert.UnhandledCriticalExtensions[:i],
				st.aikCert.UnhandledCriticalExtensions[i+1:]...)
			break
		}
	}

	trustPath, err := buildTrustPath(st.aikCert, st.caCerts, nil, time.Time{})
	if err != nil {
		return 0, nil, fail(ReasonUntrustedAttestationChain, "tpm attestation", err)
	}
	return AttestationTypeAttCA, trustPath, nil
}

func (p *tpmPublicArea) matchesKey(key crypto.PublicKey) error {
	switch p.keyType {
	case tpmAlgRSA:
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return errors.New("pubArea is RSA but credential key is not")
		}
		if new(big.Int).SetBytes(p.modulus).Cmp(rsaKey.N) != 0 {
			return errors.New("pubArea modulus does not match credential key")
		}
		if p.exponent != uint32(rsaKey.E) {
			return errors.New("pubArea exponent does not match credential key")
		}
	case tpmAlgECC:
		ecdsaKey, ok := key.(*ecdsa.PublicKey)
		if !ok {
			return errors.New("pubArea is ECC but credential key is not")
		}
		var bits int
		switch p.curve {
		case tpmEccNistP256:
			bits = 256
		case tpmEccNistP384:
			bits = 384
		case tpmEccNistP521:
			bits = 521
		default:
			return errors.Errorf("pubArea curve %#x is not supported", p.curve)
		}
		if ecdsaKey.Curve.Params().BitSize != bits {
			return errors.New("pubArea curve does not match credential key")
		}
		if new(big.Int).SetBytes(p.x).Cmp(ecdsaKey.X) != 0 ||
			new(big.Int).SetBytes(p.y).Cmp(ecdsaKey.Y) != 0 {
			return errors.New("pubArea point does not match credential key")
		}
	default:
		return errors.Errorf("pubArea key type %#x is not supported", p.keyType)
	}
	return nil
}

func tpmHash(alg uint16) (crypto.Hash, error) {
	switch alg {
	case tpmAlgSHA256:
		return crypto.SHA256, nil
	case tpmAlgSHA384:
		return crypto.SHA384, nil
	case tpmAlgSHA512:
		return crypto.SHA512, nil
	default:
		return 0, errors.Errorf("TPM hash algorithm %#x is not supported", alg)
	}
}

// tpmReader is a big-endian cursor over a TPM structure.
type tpmReader struct {
	buf []byte
}

func (r *tpmReader) take(n int) ([]byte, error) {
	if n > len(r.buf) {
		return nil, io.ErrUnexpectedEOF
	}
	out := r.buf[:n]
	r.buf = r.buf[n:]
	return out, nil
}

func (r *tpmReader) uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (r *tpmReader) uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// sized reads a TPM2B field: a two byte length prefix then that many
// bytes.
func (r *tpmReader) sized() ([]byte, error) {
	n, err := r.uint16()
	if err != nil {
		return nil, err
	}
	return r.take(int(n))
}

// name reads a TPM2B_NAME and strips the two byte hash algorithm prefix.
func (r *tpmReader) name() ([]byte, error) {
	buf, err := r.sized()
	if err != nil {
		return nil, err
	}
	if len(buf) < 2 {
		return nil, io.ErrUnexpectedEOF
	}
	return buf[2:], nil
}

func (r *tpmReader) empty() bool { return len(r.buf) == 0 }

func parseTPMCertifyInfo(data []byte) (*tpmCertifyInfo, error) {
	r := &tpmReader{buf: data}
	info := &tpmCertifyInfo{}
	var err error

	if info.magic, err = r.uint32(); err != nil {
		return nil, errors.Wrap(err, "certInfo")
	}
	if info.tag, err = r.uint16(); err != nil {
		return nil, errors.Wrap(err, "certInfo")
	}
	if _, err = r.sized(); err != nil { // qualifiedSigner
		return nil, errors.Wrap(err, "certInfo qualifiedSigner")
	}
	if info.extraData, err = r.sized(); err != nil {
		return nil, errors.Wrap(err, "certInfo extraData")
	}
	if _, err = r.take(17); err != nil { // clockInfo
		return nil, errors.Wrap(err, "certInfo clockInfo")
	}
	if _, err = r.take(8); err != nil { // firmwareVersion
		return nil, errors.Wrap(err, "certInfo firmwareVersion")
	}
	if info.attestedName, err = r.name(); err != nil {
		return nil, errors.Wrap(err, "certInfo name")
	}
	if _, err = r.name(); err != nil { // qualifiedName
		return nil, errors.Wrap(err, "certInfo qualifiedName")
	}
	if !r.empty() {
		return nil, errors.New("trailing data after certInfo")
	}
	return info, nil
}

func parseTPMPublicArea(data []byte) (*tpmPublicArea, error) {
	r := &tpmReader{buf: data}
	area := &tpmPublicArea{}
	var err error

	if area.keyType, err = r.uint16(); err != nil {
		return nil, errors.Wrap(err, "pubArea")
	}
	if area.nameAlg, err = r.uint16(); err != nil {
		return nil, errors.Wrap(err, "pubArea")
	}
	if _, err = r.uint32(); err != nil { // objectAttributes
		return nil, errors.Wrap(err, "pubArea")
	}
	if _, err = r.sized(); err != nil { // authPolicy
		return nil, errors.Wrap(err, "pubArea authPolicy")
	}

	switch area.keyType {
	case tpmAlgRSA:
		if _, err = r.uint16(); err != nil { // symmetric
			return nil, errors.Wrap(err, "pubArea")
		}
		if _, err = r.uint16(); err != nil { // scheme
			return nil, errors.Wrap(err, "pubArea")
		}
		if _, err = r.uint16(); err != nil { // keyBits
			return nil, errors.Wrap(err, "pubArea")
		}
		if area.exponent, err = r.uint32(); err != nil {
			return nil, errors.Wrap(err, "pubArea")
		}
		if area.exponent == 0 {
			area.exponent = 65537
		}
		if area.modulus, err = r.sized(); err != nil {
			return nil, errors.Wrap(err, "pubArea modulus")
		}
	case tpmAlgECC:
		if _, err = r.uint16(); err != nil { // symmetric
			return nil, errors.Wrap(err, "pubArea")
		}
		if _, err = r.uint16(); err != nil { // scheme
			return nil, errors.Wrap(err, "pubArea")
		}
		if area.curve, err = r.uint16(); err != nil {
			return nil, errors.Wrap(err, "pubArea")
		}
		if _, err = r.uint16(); err != nil { // kdf
			return nil, errors.Wrap(err, "pubArea")
		}
		if area.x, err = r.sized(); err != nil {
			return nil, errors.Wrap(err, "pubArea x")
		}
		if area.y, err = r.sized(); err != nil {
			return nil, errors.Wrap(err, "pubArea y")
		}
	default:
		return nil, errors.Errorf("pubArea key type %#x is not supported", area.keyType)
	}

	if !r.empty() {
		return nil, errors.New("trailing data after pubArea")
	}
	return area, nil
}

// checkAIKCert enforces the TPM attestation certificate requirements: an
// empty subject, a SAN extension naming a registered TPM manufacturer,
// the AIK certificate extended key usage, and CA set to false.
func checkAIKCert(c *x509.Certificate) error {
	if c.Version != 3 {
		return errors.Errorf("certificate version %d, want 3", c.Version)
	}

	var subject asn1.RawValue
	if _, err := asn1.Unmarshal(c.RawSubject, &subject); err != nil {
		return errors.Wrap(err, "certificate subject")
	}
	if len(subject.Bytes) != 0 {
		return errors.New("certificate subject is not empty")
	}

	manufacturer, model, firmware, err := parseTPMSANExtension(c)
	if err != nil {
		return err
	}
	if _, ok := tpmManufacturers[manufacturer]; !ok {
		return errors.Errorf("TPM manufacturer %q is not in the TCG registry", manufacturer)
	}
	if model == "" {
		return errors.New("certificate SAN has no TPM model")
	}
	if firmware == "" {
		return errors.New("certificate SAN has no TPM firmware version")
	}

	aikUsage := false
	for _, oid := range c.UnknownExtKeyUsage {
		if oid.Equal(oidTCGKpAIKCert) {
			aikUsage = true
			break
		}
	}
	if !aikUsage {
		return errors.New("certificate extended key usage lacks tcg-kp-AIKCertificate")
	}

	if c.IsCA {
		return errors.New("certificate is a CA")
	}
	return nil
}

// parseTPMSANExtension pulls the TPM device attributes out of the
// certificate's SubjectAltName directoryName.
func parseTPMSANExtension(c *x509.Certificate) (manufacturer, model, firmware string, err error) {
	var sanValue []byte
	for _, ext := range c.Extensions {
		if ext.Id.Equal(oidSubjectAltName) {
			sanValue = ext.Value
			break
		}
	}
	if len(sanValue) == 0 {
		return "", "", "", errors.New("certificate has no SAN extension")
	}

	var seq asn1.RawValue
	rest, err := asn1.Unmarshal(sanValue, &seq)
	if err != nil {
		return "", "", "", errors.Wrap(err, "SAN extension")
	}
	if len(rest) != 0 {
		return "", "", "", errors.New("trailing data after SAN extension")
	}
	if !seq.IsCompound || seq.Tag != asn1.TagSequence || seq.Class != asn1.ClassUniversal {
		return "", "", "", errors.New("SAN extension is not a sequence")
	}

	rest = seq.Bytes
	for len(rest) > 0 {
		var v asn1.RawValue
		if rest, err = asn1.Unmarshal(rest, &v); err != nil {
			return "", "", "", errors.Wrap(err, "SAN extension element")
		}
		if v.Tag != 4 { // directoryName
			continue
		}
		var rdns pkix.RDNSequence
		trailing, err := asn1.Unmarshal(v.Bytes, &rdns)
		if err != nil {
			return "", "", "", errors.Wrap(err, "SAN directoryName")
		}
		if len(trailing) != 0 {
			return "", "", "", errors.New("trailing data after SAN directoryName")
		}
		for _, rdn := range rdns {
			for _, atv := range rdn {
				value, ok := atv.Value.(string)
				if !ok {
					continue
				}
				switch {
				case atv.Type.Equal(oidTPMManufacturer):
					manufacturer = value
				case atv.Type.Equal(oidTPMModel):
					model = value
				case atv.Type.Equal(oidTPMFirmwareVersion):
					firmware = value
				}
			}
		}
		return manufacturer, model, firmware, nil
	}
	return "", "", "", errors.New("SAN extension has no directoryName")
}
