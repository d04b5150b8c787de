// Package siop defines the boundary types shared with the external verification engine
// and the state token threaded through the wallet round trip.
package siop

// VerifiedCredential is a single credential from a verified presentation: its declared
// type array and its JSON body.
type VerifiedCredential struct {
	Types []string       `json:"types"`
	Body  map[string]any `json:"body"`
}

func (vc VerifiedCredential) HasType(credentialType string) bool {
	for _, t := range vc.Types {
		if t == credentialType {
			return true
		}
	}
	return false
}

// PresentationVerification is the verification engine's judgement of the presentation itself.
type PresentationVerification struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// VerificationResult is produced by the external verification engine once a wallet has
// submitted a presentation. The bridge treats it as opaque evidence; only the fields
// below are inspected.
type VerificationResult struct {
	IsValid bool `json:"isValid"`
	// Subject is the proven subject identifier of the presentation holder.
	Subject string `json:"subject,omitempty"`
	// Request references the originating SIOP request, when the engine still knows it.
	Request string `json:"request,omitempty"`
	// IDTokenValid reports whether the wallet's self-issued id_token checked out.
	IDTokenValid bool `json:"idTokenValid"`
	// Presentation is nil when the presentation was never verified.
	Presentation        *PresentationVerification `json:"presentation,omitempty"`
	VerifiedCredentials []VerifiedCredential      `json:"verifiedCredentials,omitempty"`
	// RawPresentation is the encoded vp_token as submitted by the wallet.
	RawPresentation string `json:"rawPresentation,omitempty"`
	// State echoes the state token of the SIOP request, used to route the callback.
	State string `json:"state,omitempty"`
}

// FindCredentialByType returns the first verified credential whose type set contains the
// given credential type, or nil.
func (vr VerificationResult) FindCredentialByType(credentialType string) *VerifiedCredential {
	for i := range vr.VerifiedCredentials {
		if vr.VerifiedCredentials[i].HasType(credentialType) {
			return &vr.VerifiedCredentials[i]
		}
	}
	return nil
}
