package xmlrpc

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type partnerFields struct {
	ID        int64  `xmlrpc:"id"`
	Name      string `xmlrpc:"name"`
	Email     string `xmlrpc:"email,omitempty"`
	IsCompany bool   `xmlrpc:"is_company"`
	Internal  string `xmlrpc:"-"`
	Tags      []string
	private   int
}

func TestFromNative(t *testing.T) {
	name := "Acme"
	var nilPtr *string

	tests := []struct {
		name     string
		input    any
		expected Value
	}{
		{"nil", nil, Null{}},
		{"nil pointer", nilPtr, Null{}},
		{"pointer", &name, Str("Acme")},
		{"bool", true, Bool(true)},
		{"int", 42, Int(42)},
		{"int8", int8(-3), Int(-3)},
		{"uint32", uint32(7), Int(7)},
		{"int64 min", int64(math.MinInt64), Int(math.MinInt64)},
		{"string", "x", Str("x")},
		{"float", 1.5, Double(decimal.NewFromFloat(1.5))},
		{"decimal", decimal.RequireFromString("19.99"), Double(decimal.RequireFromString("19.99"))},
		{"nil slice", []int(nil), List{}},
		{"empty slice", []string{}, List{}},
		{"mixed slice", []any{1, "a", nil, false}, List{Int(1), Str("a"), Null{}, Bool(false)}},
		{"array", [2]int{1, 2}, List{Int(1), Int(2)}},
		{"nested slice", [][]int{{1}, {}}, List{List{Int(1)}, List{}}},
		{
			name:     "map keys sorted",
			input:    map[string]any{"name": "Acme", "id": 3, "active": true},
			expected: Record{{Name: "active", Value: Bool(true)}, {Name: "id", Value: Int(3)}, {Name: "name", Value: Str("Acme")}},
		},
		{"nil map", map[string]int(nil), Record{}},
		{
			name:  "struct",
			input: partnerFields{ID: 1, Name: "Acme", IsCompany: true, Internal: "x", Tags: []string{"vip"}},
			expected: Record{
				{Name: "id", Value: Int(1)},
				{Name: "name", Value: Str("Acme")},
				{Name: "is_company", Value: Bool(true)},
				{Name: "Tags", Value: List{Str("vip")}},
			},
		},
		{"value passthrough", Int(5), Int(5)},
		{"value list passthrough", List{Str("id")}, List{Str("id")}},
		{"record keeps order", Record{{Name: "b", Value: Int(1)}, {Name: "a", Value: Int(2)}}, Record{{Name: "b", Value: Int(1)}, {Name: "a", Value: Int(2)}}},
		{"nil value inside record", Record{{Name: "a", Value: nil}}, Record{{Name: "a", Value: Null{}}}},
		{"values inside native slice", []any{Str("a"), List{Int(1)}}, List{Str("a"), List{Int(1)}}},
		{"domain triple", []any{[]any{"is_company", "=", true}}, List{List{Str("is_company"), Str("="), Bool(true)}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := FromNative(tt.input)
			require.NoError(t, err)
			assert.True(t, Equal(tt.expected, v), "want %s\ngot  %s", render(tt.expected), render(v))
		})
	}
}

func TestFromNative_Rejects(t *testing.T) {
	type node struct {
		Next *node
	}
	loop := &node{}
	loop.Next = loop

	cyclicSlice := make([]any, 1)
	cyclicSlice[0] = cyclicSlice

	cyclicMap := map[string]any{}
	cyclicMap["self"] = cyclicMap

	cyclicList := List{nil}
	cyclicList[0] = cyclicList

	tests := []struct {
		name  string
		input any
	}{
		{"NaN", math.NaN()},
		{"positive infinity", math.Inf(1)},
		{"negative infinity float32", float32(math.Inf(-1))},
		{"uint64 overflow", uint64(math.MaxUint64)},
		{"channel", make(chan int)},
		{"function", func() {}},
		{"complex", complex(1, 2)},
		{"int map keys", map[int]string{1: "a"}},
		{"NaN nested", map[string]any{"a": []any{1, math.NaN()}}},
		{"cyclic pointer", loop},
		{"cyclic slice", cyclicSlice},
		{"cyclic map", cyclicMap},
		{"cyclic list", cyclicList},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := FromNative(tt.input)
			assert.Nil(t, v)
			assert.ErrorIs(t, err, ErrUnsupportedValue)
		})
	}
}

func TestFromNative_SharedButAcyclic(t *testing.T) {
	shared := []int{1, 2}
	v, err := FromNative(map[string]any{"a": shared, "b": shared})
	require.NoError(t, err)
	assert.Equal(t, Record{
		{Name: "a", Value: List{Int(1), Int(2)}},
		{Name: "b", Value: List{Int(1), Int(2)}},
	}, v)
}

func TestMustFromNative(t *testing.T) {
	assert.Equal(t, Str("a"), MustFromNative("a"))
	assert.Panics(t, func() { MustFromNative(math.NaN()) })
}
