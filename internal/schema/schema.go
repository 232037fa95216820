// Package schema implements logship's per-stream schema lattice: the set
// of logical types a field may hold, the rules for merging two schemas
// observed from different record batches, and the fingerprint used to
// key staging files and conversion groups by shape.
package schema

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cuemby/logship/pkg/apperror"
)

// Type is a logical type drawn from the fixed lattice logship records
// support. Physical encoding (columnar layout, compression) is decided
// downstream in the conversion engine, not here.
type Type int

const (
	TypeNull Type = iota
	TypeBool
	TypeInt64
	TypeFloat64
	TypeUtf8
	TypeTimestamp
	TypeList
	TypeStruct
)

func (t Type) String() string {
	switch t {
	case TypeNull:
		return "null"
	case TypeBool:
		return "bool"
	case TypeInt64:
		return "int64"
	case TypeFloat64:
		return "float64"
	case TypeUtf8:
		return "utf8"
	case TypeTimestamp:
		return "timestamp"
	case TypeList:
		return "list"
	case TypeStruct:
		return "struct"
	default:
		return "unknown"
	}
}

// Field describes a single schema column. Elem is set when Type ==
// TypeList (the list's element type); Children is set when Type ==
// TypeStruct (the struct's member fields, themselves a Schema).
type Field struct {
	Name     string
	Type     Type
	Nullable bool
	Elem     *Field
	Children Schema
}

// Schema is an ordered set of fields. Order matters for merge (A's
// order is preserved, B-only fields are appended in B's order) but not
// for fingerprinting, which canonicalizes by name.
type Schema []Field

// FieldByName returns the field with the given name, if present.
func (s Schema) FieldByName(name string) (Field, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Fingerprint computes a 64-bit digest over the canonical (name-sorted)
// field sequence. Two schemas that are semantically equal — same
// fields, same types, same nullability, regardless of declaration
// order — always produce the same fingerprint.
func (s Schema) Fingerprint() uint64 {
	h := xxhash.New()
	writeCanonical(h, s)
	return h.Sum64()
}

func writeCanonical(h *xxhash.Digest, s Schema) {
	sorted := make(Schema, len(s))
	copy(sorted, s)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for _, f := range sorted {
		h.WriteString(f.Name)
		h.WriteString("\x00")
		fmt.Fprintf(h, "%d", f.Type)
		h.WriteString("\x00")
		if f.Nullable {
			h.WriteString("1")
		} else {
			h.WriteString("0")
		}
		h.WriteString("\x00")
		if f.Type == TypeList && f.Elem != nil {
			writeCanonical(h, Schema{*f.Elem})
		}
		if f.Type == TypeStruct {
			writeCanonical(h, f.Children)
		}
		h.WriteString("\x1e")
	}
}

// unify decides whether type b can be reconciled into type a, and
// returns the resulting (possibly widened) type. Identical types unify
// trivially; Null on either side defers to the other; nested list and
// struct types unify recursively, requiring structural compatibility of
// their children.
func unify(a, b Field) (Field, bool) {
	if a.Type == TypeNull {
		return b, true
	}
	if b.Type == TypeNull {
		return a, true
	}
	if a.Type != b.Type {
		return Field{}, false
	}

	out := a
	out.Nullable = a.Nullable || b.Nullable

	switch a.Type {
	case TypeList:
		if a.Elem == nil || b.Elem == nil {
			return Field{}, false
		}
		elem, ok := unify(*a.Elem, *b.Elem)
		if !ok {
			return Field{}, false
		}
		out.Elem = &elem
	case TypeStruct:
		merged, err := Merge(a.Children, b.Children)
		if err != nil {
			return Field{}, false
		}
		out.Children = merged
	}
	return out, true
}

// Merge combines two schemas into their union. For every field present
// in both, the types must unify (see unify); a mismatch returns
// SchemaIncompatible. The result preserves a's field order, with
// b-only fields appended in b's order.
func Merge(a, b Schema) (Schema, error) {
	byName := make(map[string]Field, len(a))
	order := make([]string, 0, len(a)+len(b))

	for _, f := range a {
		byName[f.Name] = f
		order = append(order, f.Name)
	}

	for _, bf := range b {
		af, ok := byName[bf.Name]
		if !ok {
			byName[bf.Name] = bf
			order = append(order, bf.Name)
			continue
		}
		merged, ok := unify(af, bf)
		if !ok {
			return nil, apperror.New(apperror.KindSchemaIncompatible,
				fmt.Sprintf("field %q: %s does not unify with %s", bf.Name, af.Type, bf.Type))
		}
		merged.Name = af.Name
		byName[bf.Name] = merged
	}

	out := make(Schema, len(order))
	for i, name := range order {
		out[i] = byName[name]
	}
	return out, nil
}

// IsSubsetOf reports whether every field of s also appears in other
// with a unifiable type. Used to validate records against a stream
// whose static_schema_flag is set: once frozen, incoming data may only
// narrow, never extend, the schema.
func (s Schema) IsSubsetOf(other Schema) bool {
	for _, f := range s {
		of, ok := other.FieldByName(f.Name)
		if !ok {
			return false
		}
		if _, ok := unify(of, f); !ok {
			return false
		}
	}
	return true
}

// String renders a compact, deterministic textual form, mostly useful
// for logging and test failure messages.
func (s Schema) String() string {
	parts := make([]string, len(s))
	for i, f := range s {
		n := "!"
		if f.Nullable {
			n = "?"
		}
		parts[i] = fmt.Sprintf("%s%s:%s", f.Name, n, f.Type)
	}
	return strings.Join(parts, ", ")
}
