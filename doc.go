// Copyright (c) 2026 Keygate Contributors. All rights reserved.
// Use of this source code is governed by Apache License 2.0 found in the LICENSE file.

/*
Package webauthn implements the relying party side of WebAuthn: building
ceremony options, parsing authenticator responses, and verifying
registration and authentication ceremonies.

The package is transport and storage agnostic. The caller relays options
to the browser, stores issued challenges and registered credentials, and
supplies both back through RegistrationExpectations and
AuthenticationExpectations:

	builder, err := webauthn.NewOptionsBuilder(config, nil)
	options, err := builder.Registration(user)
	// relay options, store options.Challenge against the session

	resp, err := webauthn.ParseRegistration(r.Body)
	result, err := webauthn.VerifyRegistration(resp, &webauthn.RegistrationExpectations{
		Challenge: storedChallenge,
		Origin:    config.Origin,
		RPID:      config.RPID,
	})
	// persist result.CredentialID, result.PublicKey, result.SignCount

Every failure is a *CeremonyError; errors.Is against the Err* sentinels
classifies it, so callers can distinguish a malformed payload from a
replayed challenge or a regressed signature counter.
*/
package webauthn
