package participant

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Kind disambiguates the two overlapping ID spaces (homeowners and tradies).
type Kind string

const (
	Homeowner Kind = "homeowner"
	Tradie    Kind = "tradie"
)

func (k Kind) Valid() bool {
	return k == Homeowner || k == Tradie
}

// prefix is the one-letter tag used in canonical keys ("h12", "t5").
func (k Kind) prefix() string {
	switch k {
	case Homeowner:
		return "h"
	case Tradie:
		return "t"
	}
	return ""
}

// Participant is a tagged reference to a homeowner or a tradie.
// It is never passed around as a bare integer.
type Participant struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

func NewHomeowner(id int64) Participant { return Participant{Kind: Homeowner, ID: id} }
func NewTradie(id int64) Participant    { return Participant{Kind: Tradie, ID: id} }

func (p Participant) Validate() error {
	if !p.Kind.Valid() {
		return fmt.Errorf("invalid participant kind %q", p.Kind)
	}
	if p.ID <= 0 {
		return fmt.Errorf("invalid %s id %d", p.Kind, p.ID)
	}
	return nil
}

func (p Participant) IsZero() bool { return p.Kind == "" && p.ID == 0 }

// Key is the canonical string form used in store paths and thread ids.
func (p Participant) Key() string {
	return p.Kind.prefix() + strconv.FormatInt(p.ID, 10)
}

func (p Participant) String() string {
	return fmt.Sprintf("%s:%d", p.Kind, p.ID)
}

// Less orders participants homeowner-first, then by ascending id.
func (p Participant) Less(o Participant) bool {
	if p.Kind != o.Kind {
		return p.Kind == Homeowner
	}
	return p.ID < o.ID
}

// Ordered returns the pair in canonical order so that (a, b) and (b, a)
// always produce the same result.
func Ordered(a, b Participant) (Participant, Participant) {
	if b.Less(a) {
		return b, a
	}
	return a, b
}

// ParseKey parses the canonical key produced by Key.
func ParseKey(key string) (Participant, error) {
	if len(key) < 2 {
		return Participant{}, fmt.Errorf("invalid participant key %q", key)
	}
	var kind Kind
	switch key[0] {
	case 'h':
		kind = Homeowner
	case 't':
		kind = Tradie
	default:
		return Participant{}, fmt.Errorf("invalid participant key %q", key)
	}
	id, err := strconv.ParseInt(key[1:], 10, 64)
	if err != nil {
		return Participant{}, fmt.Errorf("invalid participant key %q: %w", key, err)
	}
	p := Participant{Kind: kind, ID: id}
	return p, p.Validate()
}

// Parse accepts "tradie:5" / "homeowner:12" as well as canonical keys.
func Parse(s string) (Participant, error) {
	kind, id, ok := strings.Cut(s, ":")
	if !ok {
		return ParseKey(s)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return Participant{}, fmt.Errorf("invalid participant %q: %w", s, err)
	}
	p := Participant{Kind: Kind(strings.ToLower(kind)), ID: n}
	return p, p.Validate()
}

func (p *Participant) UnmarshalJSON(data []byte) error {
	type raw Participant
	var r raw
	if err := json.Unmarshal(data, &r); err != nil {
		return err
	}
	r.Kind = Kind(strings.ToLower(string(r.Kind)))
	*p = Participant(r)
	return nil
}
