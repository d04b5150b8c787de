package siop

import (
	"encoding/base64"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// IDPType tags which provider flavor originated a session. The set is closed and mapped
// to callback handlers at startup; there is no dynamic registration after that.
type IDPType string

const IDPTypeOIDC IDPType = "OIDC"

// State is the correlation token carried as the SIOP request's `state` parameter. It
// lets the verification engine's callback find its way back to the originating session
// without a server-side correlation table.
type State struct {
	IDPType   IDPType `json:"idpType"`
	SessionID string  `json:"idpSessionId"`
}

// Encode serializes the state into a single opaque URL-safe string.
func (s State) Encode() (string, error) {
	if s.IDPType == "" {
		return "", errors.New("idp type cannot be empty")
	}
	if s.SessionID == "" {
		return "", errors.New("session id cannot be empty")
	}
	stateBytes, err := json.Marshal(s)
	if err != nil {
		return "", errors.Wrap(err, "marshalling state")
	}
	return base64.RawURLEncoding.EncodeToString(stateBytes), nil
}

// DecodeState reverses Encode.
func DecodeState(encoded string) (*State, error) {
	if encoded == "" {
		return nil, errors.New("state cannot be empty")
	}
	stateBytes, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Wrap(err, "decoding state")
	}
	var s State
	if err = json.Unmarshal(stateBytes, &s); err != nil {
		return nil, errors.Wrap(err, "unmarshalling state")
	}
	if s.IDPType == "" || s.SessionID == "" {
		return nil, errors.New("state is missing idp type or session id")
	}
	return &s, nil
}

// CallbackHandler continues an IDP session once the verification engine reports a result
// for it, returning the redirect URI the end user's agent should be sent to.
type CallbackHandler interface {
	IDPType() IDPType
	ContinueIDPSession(sessionID string, result VerificationResult) (string, error)
}

// Registry maps each IDPType to its callback handler. It is populated once at startup
// and read-only afterwards.
type Registry struct {
	handlers map[IDPType]CallbackHandler
}

func NewRegistry(handlers ...CallbackHandler) *Registry {
	r := &Registry{handlers: make(map[IDPType]CallbackHandler, len(handlers))}
	for _, h := range handlers {
		r.handlers[h.IDPType()] = h
	}
	return r
}

// HandlerFor resolves the callback handler for the given IDP type.
func (r *Registry) HandlerFor(idpType IDPType) (CallbackHandler, error) {
	handler, ok := r.handlers[idpType]
	if !ok {
		return nil, errors.Errorf("no handler registered for idp type: %s", idpType)
	}
	return handler, nil
}

// DispatchCallback decodes the state token and routes the verification result to the
// session it correlates with.
func (r *Registry) DispatchCallback(encodedState string, result VerificationResult) (string, error) {
	state, err := DecodeState(encodedState)
	if err != nil {
		return "", errors.Wrap(err, "invalid state")
	}
	handler, err := r.HandlerFor(state.IDPType)
	if err != nil {
		return "", err
	}
	return handler.ContinueIDPSession(state.SessionID, result)
}
