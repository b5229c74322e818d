// Package decode turns untrusted reasoner text into typed values. Only the
// first well-formed JSON array or object found in the text is considered;
// everything else is a decode failure the caller answers with its fallback.
package decode

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	hive "github.com/ZanzyTHEbar/dragonscale-hive"
)

var (
	// ErrNoJSON is returned when the text holds no well-formed JSON array or object.
	ErrNoJSON = errors.New("no JSON value in reasoner output")
	// ErrShape is returned when JSON was found but does not have a usable shape.
	ErrShape = errors.New("reasoner output has an unexpected shape")
)

// FirstJSON returns the first well-formed JSON array or object in text.
// Leading prose, markdown fences and trailing commentary are ignored.
func FirstJSON(text string) (json.RawMessage, bool) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text[i:]))
		dec.UseNumber()
		var raw json.RawMessage
		if err := dec.Decode(&raw); err == nil {
			return raw, true
		}
	}
	return nil, false
}

// Selection is one item the reasoner chose, with its stated reason.
type Selection struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// Selections decodes a list of chosen ids. Accepted shapes:
//
//	["a", "b"]
//	[{"id": "a", "reason": "..."}]
//	{"keep": [...]}, {"selected": [...]}, {"ids": [...]}
func Selections(text string) ([]Selection, error) {
	raw, ok := FirstJSON(text)
	if !ok {
		return nil, ErrNoJSON
	}
	list, err := unwrapList(raw, "keep", "selected", "ids", "capabilities")
	if err != nil {
		return nil, err
	}

	var out []Selection
	for _, item := range list {
		item = bytes.TrimSpace(item)
		if len(item) == 0 {
			continue
		}
		switch item[0] {
		case '"':
			var id string
			if json.Unmarshal(item, &id) == nil && strings.TrimSpace(id) != "" {
				out = append(out, Selection{ID: strings.TrimSpace(id)})
			}
		case '{':
			var s Selection
			if json.Unmarshal(item, &s) == nil && strings.TrimSpace(s.ID) != "" {
				s.ID = strings.TrimSpace(s.ID)
				out = append(out, s)
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrShape
	}
	return out, nil
}

// IDList is Selections without the reasons.
func IDList(text string) ([]string, error) {
	sel, err := Selections(text)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(sel))
	for i, s := range sel {
		ids[i] = s.ID
	}
	return ids, nil
}

// PlanSteps decodes a dependency plan: either a bare array of steps or an
// object with a "plan" or "steps" array. Steps without an id or capability id
// make the whole plan unusable.
func PlanSteps(text string) ([]hive.PlanStep, error) {
	raw, ok := FirstJSON(text)
	if !ok {
		return nil, ErrNoJSON
	}
	list, err := unwrapList(raw, "plan", "steps")
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrShape
	}

	steps := make([]hive.PlanStep, 0, len(list))
	for _, item := range list {
		var s hive.PlanStep
		if err := json.Unmarshal(item, &s); err != nil {
			return nil, ErrShape
		}
		if s.ID == "" || s.CapabilityID == "" {
			return nil, ErrShape
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func unwrapList(raw json.RawMessage, keys ...string) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, ErrShape
	}
	if raw[0] == '[' {
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, ErrShape
		}
		return list, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, ErrShape
	}
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			var list []json.RawMessage
			if err := json.Unmarshal(v, &list); err != nil {
				return nil, ErrShape
			}
			return list, nil
		}
	}
	return nil, ErrShape
}
