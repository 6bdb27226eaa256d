package domain

import (
	"fmt"
	"strings"

	"go.trai.ch/zerr"
)

// ConstraintOp is a version comparison operator inside a MatchSpec.
type ConstraintOp string

const (
	// OpEqual matches the exact version ("==").
	OpEqual ConstraintOp = "=="
	// OpPrefix matches versions starting with the given segments
	// ("=1.2" or "==1.2.*").
	OpPrefix ConstraintOp = "="
	// OpNotEqual excludes the exact version ("!=").
	OpNotEqual ConstraintOp = "!="
	// OpGreater matches strictly newer versions (">").
	OpGreater ConstraintOp = ">"
	// OpGreaterEqual matches the version or newer (">=").
	OpGreaterEqual ConstraintOp = ">="
	// OpLess matches strictly older versions ("<").
	OpLess ConstraintOp = "<"
	// OpLessEqual matches the version or older ("<=").
	OpLessEqual ConstraintOp = "<="
)

// VersionConstraint is one operator/version clause of a MatchSpec.
type VersionConstraint struct {
	Op      ConstraintOp
	Version Version
}

// Matches reports whether the constraint accepts the given version.
func (c VersionConstraint) Matches(v Version) bool {
	switch c.Op {
	case OpEqual:
		return v.Compare(c.Version) == 0
	case OpPrefix:
		return v.StartsWith(c.Version)
	case OpNotEqual:
		return v.Compare(c.Version) != 0
	case OpGreater:
		return v.Compare(c.Version) > 0
	case OpGreaterEqual:
		return v.Compare(c.Version) >= 0
	case OpLess:
		return v.Compare(c.Version) < 0
	case OpLessEqual:
		return v.Compare(c.Version) <= 0
	}
	return false
}

// MatchSpec is a parsed package request: a name plus optional ANDed version
// constraints and an optional build string predicate.
//
// Supported forms:
//
//	foo
//	foo==1.0            exact version
//	foo=1.0             version prefix (1.0, 1.0.2, ...)
//	foo==1.0.*          trailing wildcard, same as prefix
//	foo>=2.0,<3.0       ANDed comparison clauses
//	foo==1.0=py37_0     exact version and build (build may end in *)
//	foo 1.0             bare version, same as foo=1.0
//	foo 1.0.*           bare version with trailing wildcard
//	foo 1.0 py37_0      bare version plus build string
//	foo *               any version
//
// The space-separated bare forms are how channel metadata spells most of
// its dependencies.
type MatchSpec struct {
	Name        string
	Constraints []VersionConstraint
	Build       string
}

// ParseMatchSpec parses a spec string.
func ParseMatchSpec(s string) (MatchSpec, error) {
	spec := MatchSpec{}
	raw := strings.TrimSpace(s)
	if raw == "" {
		return spec, zerr.With(zerr.Wrap(ErrInvalidSpec, ""), "spec", s)
	}

	// Split off the name: everything up to the first operator character.
	// A space also separates name from constraints ("foo >=1.0").
	nameEnd := strings.IndexAny(raw, "=<>! ")
	if nameEnd < 0 {
		spec.Name = normalizeName(raw)
		if spec.Name == "" {
			return spec, zerr.With(zerr.Wrap(ErrInvalidSpec, ""), "spec", s)
		}
		return spec, nil
	}

	spec.Name = normalizeName(raw[:nameEnd])
	if spec.Name == "" {
		return spec, zerr.With(zerr.Wrap(ErrInvalidSpec, ""), "spec", s)
	}

	rest := strings.TrimSpace(raw[nameEnd:])
	if rest == "" {
		return spec, zerr.With(zerr.Wrap(ErrInvalidSpec, ""), "spec", s)
	}

	// A bare token after the name carries no operator: "foo 1.0",
	// "foo 1.0.*" or "foo 1.0 py37_0".
	if !strings.ContainsAny(rest[:1], "=<>!") {
		if err := spec.parseBare(rest, s); err != nil {
			return spec, err
		}
		return spec, nil
	}

	for i, clause := range strings.Split(rest, ",") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			return spec, zerr.With(zerr.Wrap(ErrInvalidSpec, ""), "spec", s)
		}
		if err := spec.parseClause(clause, i == 0, s); err != nil {
			return spec, err
		}
	}
	return spec, nil
}

// MustParseMatchSpec is ParseMatchSpec for statically known inputs.
func MustParseMatchSpec(s string) MatchSpec {
	spec, err := ParseMatchSpec(s)
	if err != nil {
		panic(err)
	}
	return spec
}

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, r := range name {
		valid := r == '-' || r == '_' || r == '.' ||
			(r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !valid {
			return ""
		}
	}
	return name
}

func (m *MatchSpec) parseClause(clause string, first bool, full string) error {
	op, rest := splitOp(clause)
	if op == "" || rest == "" {
		return zerr.With(zerr.Wrap(ErrInvalidSpec, ""), "spec", full)
	}

	// A second "=" after an exact version carries the build string,
	// e.g. "==1.0=py37_0". Only meaningful on the first clause.
	if first && (op == string(OpEqual) || op == string(OpPrefix)) {
		if eq := strings.IndexByte(rest, '='); eq >= 0 {
			m.Build = rest[eq+1:]
			rest = rest[:eq]
			if m.Build == "" || rest == "" {
				return zerr.With(zerr.Wrap(ErrInvalidSpec, ""), "spec", full)
			}
		}
	}

	cop := ConstraintOp(op)
	if strings.HasSuffix(rest, ".*") {
		// "==1.2.*" and "=1.2.*" both mean prefix match
		if cop != OpEqual && cop != OpPrefix {
			return zerr.With(zerr.Wrap(ErrInvalidSpec, ""), "spec", full)
		}
		cop = OpPrefix
		rest = strings.TrimSuffix(rest, ".*")
	}

	v, err := ParseVersion(rest)
	if err != nil {
		return zerr.With(fmt.Errorf("%w: %w", ErrInvalidSpec, err), "spec", full)
	}
	m.Constraints = append(m.Constraints, VersionConstraint{Op: cop, Version: v})
	return nil
}

// parseBare handles the operator-less "version [build]" tail. The version
// is a prefix match, a trailing "*" is a wildcard and a lone "*" matches
// every version.
func (m *MatchSpec) parseBare(rest, full string) error {
	fields := strings.Fields(rest)
	if len(fields) > 2 {
		return zerr.With(zerr.Wrap(ErrInvalidSpec, ""), "spec", full)
	}
	if len(fields) == 2 {
		m.Build = fields[1]
	}

	ver := fields[0]
	if ver == "*" {
		return nil
	}
	ver = strings.TrimSuffix(ver, "*")
	ver = strings.TrimSuffix(ver, ".")

	v, err := ParseVersion(ver)
	if err != nil {
		return zerr.With(fmt.Errorf("%w: %w", ErrInvalidSpec, err), "spec", full)
	}
	m.Constraints = append(m.Constraints, VersionConstraint{Op: OpPrefix, Version: v})
	return nil
}

func splitOp(clause string) (op, rest string) {
	for _, candidate := range []string{"==", ">=", "<=", "!=", ">", "<", "="} {
		if strings.HasPrefix(clause, candidate) {
			return candidate, strings.TrimSpace(clause[len(candidate):])
		}
	}
	return "", clause
}

// IsExact reports whether the spec pins one exact version (and optionally
// one exact build).
func (m MatchSpec) IsExact() bool {
	return len(m.Constraints) == 1 && m.Constraints[0].Op == OpEqual
}

// Matches reports whether the record satisfies the spec.
func (m MatchSpec) Matches(r *Record) bool {
	if r.Name != m.Name {
		return false
	}
	if len(m.Constraints) > 0 {
		v, err := ParseVersion(r.Version)
		if err != nil {
			return false
		}
		for _, c := range m.Constraints {
			if !c.Matches(v) {
				return false
			}
		}
	}
	if m.Build != "" {
		if pre, ok := strings.CutSuffix(m.Build, "*"); ok {
			return strings.HasPrefix(r.Build, pre)
		}
		return r.Build == m.Build
	}
	return true
}

// String renders the spec back to its canonical textual form.
func (m MatchSpec) String() string {
	var sb strings.Builder
	sb.WriteString(m.Name)
	for i, c := range m.Constraints {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(string(c.Op))
		sb.WriteString(c.Version.String())
		if i == 0 && m.Build != "" {
			sb.WriteByte('=')
			sb.WriteString(m.Build)
		}
	}
	if len(m.Constraints) == 0 && m.Build != "" {
		sb.WriteString("==*=" + m.Build)
	}
	return sb.String()
}
