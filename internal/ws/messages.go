package ws

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/prof-schacht/academic-citation-assistant-sub000/internal/model"
)

// inboundEnvelope is the wire shape of every message a client sends (spec
// §6): a type discriminator plus the fields relevant to that type. Decoded
// with DisallowUnknownFields so a malformed or forward-incompatible client
// message is rejected rather than silently partially applied (spec §9).
type inboundEnvelope struct {
	Type        string             `json:"type"`
	Text        string             `json:"text,omitempty"`
	Context     model.QueryContext `json:"context,omitempty"`
	Preferences *wirePreferences   `json:"preferences,omitempty"`
}

// wirePreferences mirrors the optional, partial preferences update a client
// sends; unset fields leave the session's current preference unchanged.
type wirePreferences struct {
	UseEnhanced    *bool                 `json:"useEnhanced,omitempty"`
	UseReranking   *bool                 `json:"useReranking,omitempty"`
	SearchStrategy *model.SearchStrategy `json:"searchStrategy,omitempty"`
}

func decodeInbound(raw []byte) (*inboundEnvelope, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var env inboundEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("ws.decodeInbound: %w", err)
	}
	return &env, nil
}

// applyTo merges a partial wirePreferences onto the session's current
// preferences, leaving fields the client did not send untouched.
func (p *wirePreferences) applyTo(cur model.Preferences) model.Preferences {
	if p == nil {
		return cur
	}
	if p.UseEnhanced != nil {
		cur.UseEnhanced = *p.UseEnhanced
	}
	if p.UseReranking != nil {
		cur.UseReranking = *p.UseReranking
	}
	if p.SearchStrategy != nil {
		cur.SearchStrategy = *p.SearchStrategy
	}
	return cur
}

type outboundSuggestions struct {
	Type        string             `json:"type"`
	Results     []model.Suggestion `json:"results"`
	Diagnostics model.Diagnostics  `json:"diagnostics"`
}

type outboundError struct {
	Type    string          `json:"type"`
	Code    model.ErrorCode `json:"code"`
	Message string          `json:"message"`
}

type outboundPong struct {
	Type string `json:"type"`
}

func encodeSuggestions(set *model.SuggestionSet) ([]byte, error) {
	results := set.Results
	if results == nil {
		results = []model.Suggestion{}
	}
	return json.Marshal(outboundSuggestions{Type: "suggestions", Results: results, Diagnostics: set.Diagnostics})
}

func encodeError(code model.ErrorCode, message string) ([]byte, error) {
	return json.Marshal(outboundError{Type: "error", Code: code, Message: message})
}

func encodePong() ([]byte, error) {
	return json.Marshal(outboundPong{Type: "pong"})
}
