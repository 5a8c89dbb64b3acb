// Package qrtoken maps student and family identities to the strings printed
// in QR credentials and back.
//
// Two token layouts are in circulation. The compact layout,
// "student_<id>" or "family_<id>", is what this package issues. The rich
// layout is a JSON object {"type":"student"|"family","id":"...","name":"..."}
// found on older printed cards; it is accepted on decode.
package qrtoken

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Kind tells which identity a token refers to.
type Kind int

const (
	KindUnknown Kind = iota
	KindStudent
	KindFamily
)

const (
	studentPrefix = "student_"
	familyPrefix  = "family_"
)

func (k Kind) String() string {
	switch k {
	case KindStudent:
		return "student"
	case KindFamily:
		return "family"
	default:
		return "unknown"
	}
}

// MarshalText lets Kind travel as "student"/"family" in JSON.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func parseKind(s string) Kind {
	switch s {
	case "student":
		return KindStudent
	case "family":
		return KindFamily
	default:
		return KindUnknown
	}
}

// Identity is the normalized result of decoding a token.
type Identity struct {
	Kind        Kind   `json:"kind"`
	ReferenceID string `json:"reference_id"`
	// Name is only known for rich tokens.
	Name string `json:"name,omitempty"`
}

// ErrEmptyID is returned when encoding an identity without an id.
var ErrEmptyID = errors.New("qrtoken: empty id")

// EncodeStudent returns the compact token for an existing student. The token
// depends only on the id.
func EncodeStudent(studentID string) (string, error) {
	studentID = strings.TrimSpace(studentID)
	if !validID(studentID) {
		return "", ErrEmptyID
	}
	return studentPrefix + studentID, nil
}

// EncodeFamily returns the compact token for a family credential. Credentials
// stored with the prefix already attached are returned unchanged.
func EncodeFamily(credential string) (string, error) {
	credential = strings.TrimPrefix(strings.TrimSpace(credential), familyPrefix)
	if !validID(credential) {
		return "", ErrEmptyID
	}
	return familyPrefix + credential, nil
}

// Encode dispatches on the identity kind.
func Encode(id Identity) (string, error) {
	switch id.Kind {
	case KindStudent:
		return EncodeStudent(id.ReferenceID)
	case KindFamily:
		return EncodeFamily(id.ReferenceID)
	default:
		return "", errors.Errorf("qrtoken: cannot encode kind %s", id.Kind)
	}
}

type richToken struct {
	Type *string `json:"type"`
	ID   *string `json:"id"`
	Name *string `json:"name,omitempty"`
}

// EncodeRich returns the JSON layout used by older cards.
func EncodeRich(id Identity) (string, error) {
	if id.Kind != KindStudent && id.Kind != KindFamily {
		return "", errors.Errorf("qrtoken: cannot encode kind %s", id.Kind)
	}
	if !validID(id.ReferenceID) {
		return "", ErrEmptyID
	}
	kind := id.Kind.String()
	rt := richToken{Type: &kind, ID: &id.ReferenceID}
	if id.Name != "" {
		rt.Name = &id.Name
	}
	b, err := json.Marshal(rt)
	if err != nil {
		return "", errors.Wrap(err, "qrtoken: marshal")
	}
	return string(b), nil
}

// Decode parses a scanned string. It reports false for anything that is not
// a well-formed token; scan noise is expected and never an error.
func Decode(s string) (Identity, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Identity{}, false
	}
	if strings.HasPrefix(s, "{") {
		return decodeRich(s)
	}
	return decodeCompact(s)
}

func decodeCompact(s string) (Identity, bool) {
	var kind Kind
	switch {
	case strings.HasPrefix(s, studentPrefix):
		kind = KindStudent
		s = s[len(studentPrefix):]
	case strings.HasPrefix(s, familyPrefix):
		kind = KindFamily
		s = s[len(familyPrefix):]
	default:
		return Identity{}, false
	}
	if !validID(s) {
		return Identity{}, false
	}
	return Identity{Kind: kind, ReferenceID: s}, true
}

func decodeRich(s string) (Identity, bool) {
	var rt richToken
	if err := json.Unmarshal([]byte(s), &rt); err != nil {
		return Identity{}, false
	}
	if rt.Type == nil || rt.ID == nil {
		return Identity{}, false
	}
	kind := parseKind(*rt.Type)
	if kind == KindUnknown || !validID(*rt.ID) {
		return Identity{}, false
	}
	id := Identity{Kind: kind, ReferenceID: *rt.ID}
	if rt.Name != nil {
		id.Name = *rt.Name
	}
	return id, true
}

// validID rejects empty ids and ids carrying whitespace or control characters,
// which only show up in misreads.
func validID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// NewStudentID returns a fresh id for a student credential.
func NewStudentID() string { return uuid.NewString() }

// NewFamilyCredential returns a fresh family credential. It is generated once
// when the family account is created and stored on the parent row.
func NewFamilyCredential() string { return uuid.NewString() }
