// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package webauthn

import (
	"bytes"
	"crypto/x509"

	"github.com/keygate/webauthn/authdata"
)

// emptyCBORMap is the only legal "none" attestation statement.
var emptyCBORMap = []byte{0xa0}

type noneStatement struct{}

func parseNoneStatement(data []byte) (statement, error) {
	if !bytes.Equal(data, emptyCBORMap) {
		return nil, failf(ReasonMalformedEncoding, "none attestation", "statement is not an empty map")
	}
	return &noneStatement{}, nil
}

func (*noneStatement) verify([]byte, *authdata.Data) (AttestationType, []*x509.Certificate, error) {
	return AttestationTypeNone, nil, nil
}
