package xmlrpc

import (
	"github.com/shopspring/decimal"
)

// Kind identifies the variant of a Value.
type Kind uint8

// Value kinds.
const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindDouble
	KindString
	KindList
	KindRecord
)

var kindNames = [...]string{
	KindNull:   "null",
	KindBool:   "bool",
	KindInt:    "int",
	KindDouble: "double",
	KindString: "string",
	KindList:   "list",
	KindRecord: "record",
}

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Value is anything the wire format can carry. The set of implementations
// is closed: Null, Bool, Int, Double, Str, List and Record. Consumers are
// expected to type-switch on the variant they need.
type Value interface {
	Kind() Kind
	isValue()
}

// Null is the protocol's absence marker.
type Null struct{}

// Bool is a wire boolean.
type Bool bool

// Int is a wire integer.
type Int int64

// Double is a wire double. The decimal representation keeps the textual
// value exact across a round trip.
type Double decimal.Decimal

// Str is a wire string.
type Str string

// List is an ordered, possibly heterogeneous sequence of values.
type List []Value

// Field is one name/value member of a Record.
type Field struct {
	Name  string
	Value Value
}

// Record is an ordered sequence of members. Names may repeat; the first
// occurrence is authoritative for Get, later duplicates are retained.
type Record []Field

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (Int) Kind() Kind    { return KindInt }
func (Double) Kind() Kind { return KindDouble }
func (Str) Kind() Kind    { return KindString }
func (List) Kind() Kind   { return KindList }
func (Record) Kind() Kind { return KindRecord }

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (Int) isValue()    {}
func (Double) isValue() {}
func (Str) isValue()    {}
func (List) isValue()   {}
func (Record) isValue() {}

// NewDouble returns a Double holding f. Callers must not pass NaN or
// infinities; use FromNative when the input is untrusted.
func NewDouble(f float64) Double {
	return Double(decimal.NewFromFloat(f))
}

// Decimal returns the underlying decimal.
func (d Double) Decimal() decimal.Decimal {
	return decimal.Decimal(d)
}

// String returns the plain decimal text used on the wire.
func (d Double) String() string {
	return decimal.Decimal(d).String()
}

// Get returns the value of the first member called name.
func (r Record) Get(name string) (Value, bool) {
	for _, f := range r {
		if f.Name == name {
			return f.Value, true
		}
	}
	return nil, false
}

// Keys returns member names in source order, duplicates included.
func (r Record) Keys() []string {
	keys := make([]string, len(r))
	for i, f := range r {
		keys[i] = f.Name
	}
	return keys
}

// Equal reports whether a and b are structurally equal. Doubles compare by
// numeric value and a nil List or Record equals an empty one.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Null:
		return true
	case Bool:
		return av == b.(Bool)
	case Int:
		return av == b.(Int)
	case Str:
		return av == b.(Str)
	case Double:
		return av.Decimal().Equal(b.(Double).Decimal())
	case List:
		bv := b.(List)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Record:
		bv := b.(Record)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i].Name != bv[i].Name || !Equal(av[i].Value, bv[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}
