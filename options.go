// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

package webauthn

import (
	"encoding/base64"
	"encoding/json"

	"github.com/keygate/webauthn/cose"
)

// base64Bytes is a byte slice that serializes to unpadded base64url in
// JSON, the encoding browsers expect for binary option members.
type base64Bytes []byte

func (b base64Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.RawURLEncoding.EncodeToString(b))
}

func (b *base64Bytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	decoded, err := decodeBase64URL(s)
	if err != nil {
		return err
	}
	*b = decoded
	return nil
}

// PublicKeyCredentialType has a single defined value.
type PublicKeyCredentialType string

const CredentialTypePublicKey PublicKeyCredentialType = "public-key"

// AuthenticatorAttachment restricts the attachment modality offered
// during registration.
type AuthenticatorAttachment string

const (
	AttachmentPlatform      AuthenticatorAttachment = "platform"
	AttachmentCrossPlatform AuthenticatorAttachment = "cross-platform"
)

func (a AuthenticatorAttachment) valid() bool {
	return a == AttachmentPlatform || a == AttachmentCrossPlatform
}

// ResidentKeyRequirement asks the authenticator for a client-side
// discoverable credential.
type ResidentKeyRequirement string

const (
	ResidentKeyDiscouraged ResidentKeyRequirement = "discouraged"
	ResidentKeyPreferred   ResidentKeyRequirement = "preferred"
	ResidentKeyRequired    ResidentKeyRequirement = "required"
)

func (r ResidentKeyRequirement) valid() bool {
	return r == ResidentKeyDiscouraged || r == ResidentKeyPreferred || r == ResidentKeyRequired
}

// UserVerificationRequirement states whether the authenticator must
// verify the user, beyond testing presence.
type UserVerificationRequirement string

const (
	UserVerificationDiscouraged UserVerificationRequirement = "discouraged"
	UserVerificationPreferred   UserVerificationRequirement = "preferred"
	UserVerificationRequired    UserVerificationRequirement = "required"
)

func (u UserVerificationRequirement) valid() bool {
	return u == UserVerificationDiscouraged || u == UserVerificationPreferred || u == UserVerificationRequired
}

// AttestationConveyance states how much attestation the relying party
// wants back from registration.
type AttestationConveyance string

const (
	AttestationNone     AttestationConveyance = "none"
	AttestationIndirect AttestationConveyance = "indirect"
	AttestationDirect   AttestationConveyance = "direct"
)

func (a AttestationConveyance) valid() bool {
	return a == AttestationNone || a == AttestationIndirect || a == AttestationDirect
}

// AuthenticatorTransport hints how the client may reach an authenticator.
type AuthenticatorTransport string

const (
	TransportUSB      AuthenticatorTransport = "usb"
	TransportNFC      AuthenticatorTransport = "nfc"
	TransportBLE      AuthenticatorTransport = "ble"
	TransportInternal AuthenticatorTransport = "internal"
)

// RelyingPartyEntity identifies the relying party in creation options.
type RelyingPartyEntity struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// UserEntity identifies the account a credential is being created for.
type UserEntity struct {
	ID          base64Bytes `json:"id"`
	Name        string      `json:"name"`
	DisplayName string      `json:"displayName"`
	Icon        string      `json:"icon,omitempty"`
}

// CredentialParam pairs the credential type with a COSE algorithm.
type CredentialParam struct {
	Type PublicKeyCredentialType `json:"type"`
	Alg  cose.Algorithm          `json:"alg"`
}

// CredentialDescriptor names an existing credential, for exclude and
// allow lists.
type CredentialDescriptor struct {
	Type       PublicKeyCredentialType  `json:"type"`
	ID         base64Bytes              `json:"id"`
	Transports []AuthenticatorTransport `json:"transports,omitempty"`
}

// AuthenticatorSelection filters which authenticators may take part in
// registration.
type AuthenticatorSelection struct {
	AuthenticatorAttachment AuthenticatorAttachment     `json:"authenticatorAttachment,omitempty"`
	ResidentKey             ResidentKeyRequirement      `json:"residentKey,omitempty"`
	RequireResidentKey      bool                        `json:"requireResidentKey,omitempty"`
	UserVerification        UserVerificationRequirement `json:"userVerification,omitempty"`
}

// CreationOptions is the PublicKeyCredentialCreationOptions payload sent
// to navigator.credentials.create.
type CreationOptions struct {
	RP                     RelyingPartyEntity      `json:"rp"`
	User                   UserEntity              `json:"user"`
	Challenge              base64Bytes             `json:"challenge"`
	CredentialParams       []CredentialParam       `json:"pubKeyCredParams"`
	Timeout                uint64                  `json:"timeout,omitempty"`
	ExcludeCredentials     []CredentialDescriptor  `json:"excludeCredentials,omitempty"`
	AuthenticatorSelection *AuthenticatorSelection `json:"authenticatorSelection,omitempty"`
	Attestation            AttestationConveyance   `json:"attestation,omitempty"`
}

// RequestOptions is the PublicKeyCredentialRequestOptions payload sent to
// navigator.credentials.get.
type RequestOptions struct {
	Challenge        base64Bytes                 `json:"challenge"`
	Timeout          uint64                      `json:"timeout,omitempty"`
	RPID             string                      `json:"rpId,omitempty"`
	AllowCredentials []CredentialDescriptor      `json:"allowCredentials,omitempty"`
	UserVerification UserVerificationRequirement `json:"userVerification,omitempty"`
}
