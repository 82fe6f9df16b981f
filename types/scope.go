package types

import (
	"fmt"
	"strings"
	"time"
)

// ScopeKind selects which database objects a run covers
type ScopeKind string

const (
	ScopeUser      ScopeKind = "USER"
	ScopePackage   ScopeKind = "PACKAGE"
	ScopeProcedure ScopeKind = "PROCEDURE"
	ScopeOther     ScopeKind = "OTHER"
)

// ParseScopeKind parses a scope kind case-insensitively.
// Unrecognised values map to ScopeOther, which runs everything owned by the owner.
func ParseScopeKind(s string) ScopeKind {
	switch ScopeKind(strings.ToUpper(strings.TrimSpace(s))) {
	case ScopeUser:
		return ScopeUser
	case ScopePackage:
		return ScopePackage
	case ScopeProcedure:
		return ScopeProcedure
	default:
		return ScopeOther
	}
}

// UnmarshalText normalises the kind the same way ParseScopeKind does, so JSON,
// YAML and TOML input all accept any letter case.
func (k *ScopeKind) UnmarshalText(text []byte) error {
	*k = ParseScopeKind(string(text))
	return nil
}

// Scope identifies the tests to execute
type Scope struct {
	Kind      ScopeKind `yaml:"type" json:"type"`
	Owner     string    `yaml:"owner,omitempty" json:"owner,omitempty"`
	Name      string    `yaml:"name,omitempty" json:"name,omitempty"`
	Procedure string    `yaml:"procedure,omitempty" json:"procedure,omitempty"`
}

// ScopePath produces the canonical dotted path used both as the execution scope
// and as the display title of a run.
func ScopePath(kind ScopeKind, owner, name, procedure string) string {
	switch kind {
	case ScopeUser:
		return name
	case ScopePackage:
		return fmt.Sprintf("%s.%s", owner, name)
	case ScopeProcedure:
		return fmt.Sprintf("%s.%s.%s", owner, name, procedure)
	default:
		return owner
	}
}

// Path returns the canonical dotted path of the scope
func (s Scope) Path() string {
	return ScopePath(s.Kind, s.Owner, s.Name, s.Procedure)
}

// Title returns the display title of a run of this scope started at the given time
func (s Scope) Title(start time.Time) string {
	return fmt.Sprintf("%s %s", s.Path(), start.Format(time.DateTime))
}

// Validate checks that the fields required by the scope kind are present
func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeUser:
		if s.Name == "" {
			return fmt.Errorf("scope %s requires a name", s.Kind)
		}
	case ScopePackage:
		if s.Owner == "" || s.Name == "" {
			return fmt.Errorf("scope %s requires an owner and a name", s.Kind)
		}
	case ScopeProcedure:
		if s.Owner == "" || s.Name == "" || s.Procedure == "" {
			return fmt.Errorf("scope %s requires an owner, a name and a procedure", s.Kind)
		}
	default:
		if s.Owner == "" {
			return fmt.Errorf("scope %s requires an owner", s.Kind)
		}
	}
	return nil
}

// SplitList parses a free-text list of schema or object names.
// Items are separated by spaces, otherwise by commas, otherwise by newlines.
// A blank value yields nil.
func SplitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	var parts []string
	switch {
	case strings.Contains(value, " "):
		parts = strings.Split(value, " ")
	case strings.Contains(value, ","):
		parts = strings.Split(value, ",")
	case strings.Contains(value, "\n"):
		parts = strings.Split(value, "\n")
	default:
		return []string{value}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
