package policy

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Audience is the aud claim, which a provider may publish either as a
// single string or as a list of strings.
type Audience struct {
	single string
	list   []string
	isList bool
}

func SingleAudience(v string) Audience { return Audience{single: v} }

func ListAudience(v ...string) Audience {
	return Audience{list: append([]string(nil), v...), isList: true}
}

// ParseAudience reads a decoded claim value.
func ParseAudience(v any) (Audience, error) {
	switch a := v.(type) {
	case string:
		return SingleAudience(a), nil
	case []string:
		return ListAudience(a...), nil
	case []any:
		out := make([]string, 0, len(a))
		for i, item := range a {
			s, ok := item.(string)
			if !ok {
				return Audience{}, fmt.Errorf("aud[%d] is %T, not a string", i, item)
			}
			out = append(out, s)
		}
		return ListAudience(out...), nil
	case nil:
		return Audience{}, errors.New("aud is null")
	default:
		return Audience{}, fmt.Errorf("aud is %T", v)
	}
}

func (a *Audience) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	parsed, err := ParseAudience(v)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (a Audience) MarshalJSON() ([]byte, error) {
	if a.isList {
		if a.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(a.list)
	}
	return json.Marshal(a.single)
}

func (a Audience) IsList() bool { return a.isList }

// Values returns the audience as a list in either form.
func (a Audience) Values() []string {
	if a.isList {
		return append([]string(nil), a.list...)
	}
	if a.single == "" {
		return nil
	}
	return []string{a.single}
}

// Contains reports exact membership. An empty id never matches.
func (a Audience) Contains(id string) bool {
	if id == "" {
		return false
	}
	if !a.isList {
		return a.single == id
	}
	for _, v := range a.list {
		if v == id {
			return true
		}
	}
	return false
}
