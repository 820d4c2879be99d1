// Package query implements the Segment Store's in-memory query language as
// a closed set of tagged-variant predicates over a fixed field enum, rather
// than the untyped "$ne"/"$regex"/"$or" maps the system this was modeled on
// used — eliminating silent key typos while preserving exact semantics
// (Design Notes, "Untyped mapping-based queries").
package query

import (
	"regexp"
	"strings"

	"github.com/orhaniscoding/vlanctl/internal/domain"
)

// Field enumerates the Segment attributes the in-memory evaluator knows how
// to compare. It is deliberately closed: adding a new queryable attribute
// means adding a Field constant and a case in fieldValue, not a new string.
type Field int

const (
	FieldID Field = iota
	FieldSite
	FieldVRF
	FieldVLANID
	FieldEPGName
	FieldClusterName
	FieldReleased
)

// Predicate is the closed tagged-variant query AST: exactly one of Eq, Ne,
// Regex, or Or is populated.
type Predicate struct {
	kind  predicateKind
	field Field
	value interface{}
	regex *regexp.Regexp
	or    []Predicate
}

type predicateKind int

const (
	kindEq predicateKind = iota
	kindNe
	kindRegex
	kindOr
	kindAnd
)

// Eq builds an equality predicate: field == value.
func Eq(field Field, value interface{}) Predicate {
	return Predicate{kind: kindEq, field: field, value: value}
}

// Ne builds a "not equal or absent" predicate per the spec's evaluator
// semantics: $ne matches when the segment's value is different OR absent.
func Ne(field Field, value interface{}) Predicate {
	return Predicate{kind: kindNe, field: field, value: value}
}

// Regex builds a case-sensitive regex predicate. The field must be
// non-null for a regex predicate to match; a nil/absent field never
// matches a $regex clause.
func Regex(field Field, pattern string) (Predicate, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Predicate{}, err
	}
	return Predicate{kind: kindRegex, field: field, regex: re}, nil
}

// RegexInsensitive is Regex with the documented case-insensitive option
// flag applied ("$options": "i" in the source this evaluator is modeled on).
func RegexInsensitive(field Field, pattern string) (Predicate, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return Predicate{}, err
	}
	return Predicate{kind: kindRegex, field: field, regex: re}, nil
}

// Or builds a short-circuit disjunction of conjunctions. Each element of
// clauses is itself matched as a conjunction (And) of its sub-predicates.
func Or(clauses ...Predicate) Predicate {
	return Predicate{kind: kindOr, or: clauses}
}

// And builds a conjunction of predicates, used to build the "conjunction"
// clauses that $or disjoins.
func And(predicates ...Predicate) Predicate {
	return Predicate{kind: kindAnd, or: predicates}
}

// SearchText builds an $or-across-fields predicate matching term
// case-insensitively against epg_name and cluster_name — the convenience
// constructor backing admin free-text segment search. description is not
// searched: it has no Field constant.
func SearchText(term string) Predicate {
	epg, _ := RegexInsensitive(FieldEPGName, regexp.QuoteMeta(term))
	cluster, _ := RegexInsensitive(FieldClusterName, regexp.QuoteMeta(term))
	return Or(epg, cluster)
}

// Match evaluates the predicate against a segment. Missing/nil field values
// compare as "absent" and match only Ne, per the documented evaluator rule.
func (p Predicate) Match(s *domain.Segment) bool {
	switch p.kind {
	case kindEq:
		val, present := fieldValue(s, p.field)
		return present && equalValues(val, p.value)
	case kindNe:
		val, present := fieldValue(s, p.field)
		if !present {
			return true
		}
		return !equalValues(val, p.value)
	case kindRegex:
		val, present := fieldValue(s, p.field)
		if !present {
			return false
		}
		str, ok := val.(string)
		if !ok {
			return false
		}
		return p.regex.MatchString(str)
	case kindAnd:
		for _, sub := range p.or {
			if !sub.Match(s) {
				return false
			}
		}
		return true
	case kindOr:
		for _, clause := range p.or {
			if clause.Match(s) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func equalValues(a, b interface{}) bool {
	// _id comparisons are string-normalized on both sides per the spec.
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return as == bs
		}
	}
	return a == b
}

func fieldValue(s *domain.Segment, f Field) (interface{}, bool) {
	switch f {
	case FieldID:
		if s.ID == "" {
			return nil, false
		}
		return s.ID, true
	case FieldSite:
		if s.Site == "" {
			return nil, false
		}
		return strings.ToLower(s.Site), true
	case FieldVRF:
		if s.VRF == "" {
			return nil, false
		}
		return s.VRF, true
	case FieldVLANID:
		return s.VLANID, true
	case FieldEPGName:
		if s.EPGName == "" {
			return nil, false
		}
		return s.EPGName, true
	case FieldClusterName:
		if s.ClusterName == nil {
			return nil, false
		}
		return *s.ClusterName, true
	case FieldReleased:
		return s.Released, true
	default:
		return nil, false
	}
}

// IDEq is the special `_id` comparator: both sides are string-normalized.
func IDEq(id string) Predicate { return Eq(FieldID, id) }

// IDNe builds the "exclude this id" predicate used by update_one/delete_one
// guards when scanning candidates other than the current record.
func IDNe(id string) Predicate { return Ne(FieldID, id) }
