package xmlrpc

import (
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// response wraps a <value> element in a methodResponse envelope.
func response(value string) []byte {
	return []byte(`<?xml version="1.0"?>` + "\n" +
		"<methodResponse>\n<params>\n<param>\n" + value + "\n</param>\n</params>\n</methodResponse>\n")
}

func TestDecodeResponse_Scalars(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected Value
	}{
		{"int", "<value><int>42</int></value>", Int(42)},
		{"i4", "<value><i4>-7</i4></value>", Int(-7)},
		{"i8", "<value><i8>9007199254740993</i8></value>", Int(9007199254740993)},
		{"int with whitespace", "<value><int> 3 </int></value>", Int(3)},
		{"boolean true", "<value><boolean>1</boolean></value>", Bool(true)},
		{"boolean false", "<value><boolean>0</boolean></value>", Bool(false)},
		{"string", "<value><string>Acme</string></value>", Str("Acme")},
		{"string keeps whitespace", "<value><string>  a b  </string></value>", Str("  a b  ")},
		{"empty string", "<value><string></string></value>", Str("")},
		{"self-closing string", "<value><string/></value>", Str("")},
		{"untyped string", "<value>plain text</value>", Str("plain text")},
		{"empty value", "<value></value>", Str("")},
		{"nil", "<value><nil/></value>", Null{}},
		{"escaped entities", "<value><string>a &amp; b &lt;c&gt; &quot;d&quot; &apos;e&apos;</string></value>", Str(`a & b <c> "d" 'e'`)},
		{"numeric character reference", "<value><string>line&#xD;break &#233;</string></value>", Str("line\rbreak é")},
		{"cdata", "<value><string><![CDATA[<raw> & text]]></string></value>", Str("<raw> & text")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := DecodeResponse(response(tt.value))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestDecodeResponse_Double(t *testing.T) {
	v, err := DecodeResponse(response("<value><double>12.50</double></value>"))
	require.NoError(t, err)

	d, ok := v.(Double)
	require.True(t, ok, "expected Double, got %T", v)
	assert.True(t, d.Decimal().Equal(decimal.RequireFromString("12.5")))
}

func TestDecodeResponse_BooleanNeverInt(t *testing.T) {
	v, err := DecodeResponse(response("<value><boolean>1</boolean></value>"))
	require.NoError(t, err)
	assert.Equal(t, KindBool, v.Kind())
	_, isInt := v.(Int)
	assert.False(t, isInt)
}

// Scenario B: a list of records keeps record key order.
func TestDecodeResponse_ListOfRecords(t *testing.T) {
	doc := response(`<value><array><data>
  <value><struct>
    <member><name>id</name><value><int>3</int></value></member>
    <member><name>name</name><value><string>Acme</string></value></member>
  </struct></value>
  <value><struct>
    <member><name>id</name><value><int>4</int></value></member>
    <member><name>name</name><value><string>Beta</string></value></member>
  </struct></value>
</data></array></value>`)

	v, err := DecodeResponse(doc)
	require.NoError(t, err)

	rows, ok := v.(List)
	require.True(t, ok)
	require.Len(t, rows, 2)
	for _, row := range rows {
		rec, ok := row.(Record)
		require.True(t, ok)
		assert.Equal(t, []string{"id", "name"}, rec.Keys())
	}
	assert.Equal(t, List{
		Record{{Name: "id", Value: Int(3)}, {Name: "name", Value: Str("Acme")}},
		Record{{Name: "id", Value: Int(4)}, {Name: "name", Value: Str("Beta")}},
	}, v)
}

// Scenario C: an empty array is an empty List.
func TestDecodeResponse_EmptyContainers(t *testing.T) {
	t.Run("empty array", func(t *testing.T) {
		v, err := DecodeResponse(response("<value><array><data></data></array></value>"))
		require.NoError(t, err)
		assert.Equal(t, List{}, v)
	})

	t.Run("self-closing data", func(t *testing.T) {
		v, err := DecodeResponse(response("<value><array><data/></array></value>"))
		require.NoError(t, err)
		assert.Equal(t, List{}, v)
	})

	t.Run("empty struct", func(t *testing.T) {
		v, err := DecodeResponse(response("<value><struct></struct></value>"))
		require.NoError(t, err)
		assert.Equal(t, Record{}, v)
	})
}

func TestDecodeResponse_ShapeUniformity(t *testing.T) {
	tests := []struct {
		name  string
		elems string
		count int
	}{
		{
			name:  "scalars only",
			elems: "<value><int>1</int></value><value><string>x</string></value><value><boolean>0</boolean></value>",
			count: 3,
		},
		{
			name: "records only",
			elems: "<value><struct><member><name>a</name><value><int>1</int></value></member></struct></value>" +
				"<value><struct></struct></value>",
			count: 2,
		},
		{
			name: "mixed",
			elems: "<value><int>1</int></value>" +
				"<value><struct><member><name>a</name><value><int>1</int></value></member></struct></value>" +
				"<value><array><data><value><nil/></value></data></array></value>" +
				"<value>bare</value>",
			count: 4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := DecodeResponse(response("<value><array><data>" + tt.elems + "</data></array></value>"))
			require.NoError(t, err)
			list, ok := v.(List)
			require.True(t, ok)
			assert.Len(t, list, tt.count)
		})
	}
}

func TestDecodeResponse_NestedRecordLists(t *testing.T) {
	doc := response(`<value><struct>
  <member><name>partner</name><value><struct>
    <member><name>child_ids</name><value><array><data>
      <value><struct><member><name>id</name><value><int>10</int></value></member></struct></value>
      <value><struct><member><name>id</name><value><int>11</int></value></member></struct></value>
    </data></array></value></member>
  </struct></value></member>
</struct></value>`)

	v, err := DecodeResponse(doc)
	require.NoError(t, err)

	expected := Record{{Name: "partner", Value: Record{{Name: "child_ids", Value: List{
		Record{{Name: "id", Value: Int(10)}},
		Record{{Name: "id", Value: Int(11)}},
	}}}}}
	assert.Equal(t, expected, v)
}

func TestDecodeResponse_DeepNesting(t *testing.T) {
	const depth = 500
	var sb strings.Builder
	for i := 0; i < depth; i++ {
		sb.WriteString("<value><array><data>")
	}
	sb.WriteString("<value><int>1</int></value>")
	for i := 0; i < depth; i++ {
		sb.WriteString("</data></array></value>")
	}

	v, err := DecodeResponse(response(sb.String()))
	require.NoError(t, err)

	for i := 0; i < depth; i++ {
		list, ok := v.(List)
		require.True(t, ok, "depth %d", i)
		require.Len(t, list, 1)
		v = list[0]
	}
	assert.Equal(t, Int(1), v)
}

func TestDecodeResponse_DuplicateMembers(t *testing.T) {
	doc := response(`<value><struct>
  <member><name>id</name><value><int>1</int></value></member>
  <member><name>id</name><value><int>2</int></value></member>
</struct></value>`)

	v, err := DecodeResponse(doc)
	require.NoError(t, err)

	rec := v.(Record)
	assert.Len(t, rec, 2)
	first, ok := rec.Get("id")
	require.True(t, ok)
	assert.Equal(t, Int(1), first)
}

func TestDecodeResponse_Fault(t *testing.T) {
	doc := []byte(`<?xml version="1.0"?>
<methodResponse><fault><value><struct>
  <member><name>faultCode</name><value><int>3</int></value></member>
  <member><name>faultString</name><value><string>Access Denied
Traceback (most recent call last): ...</string></value></member>
</struct></value></fault></methodResponse>`)

	v, err := DecodeResponse(doc)
	assert.Nil(t, v)
	require.Error(t, err)

	var fault *Fault
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, int64(3), fault.Code)
	assert.True(t, strings.HasPrefix(fault.Message, "Access Denied"))
	assert.Equal(t, []string{"faultCode", "faultString"}, fault.Detail.Keys())
	assert.Equal(t, "xmlrpc: remote fault 3: Access Denied", fault.Error())
	assert.False(t, errors.Is(err, ErrMalformedDocument))
}

func TestDecodeResponse_FaultWithStringCode(t *testing.T) {
	doc := []byte(`<methodResponse><fault><value><struct>
<member><name>faultCode</name><value><string>2</string></value></member>
<member><name>faultString</name><value><string>boom</string></value></member>
</struct></value></fault></methodResponse>`)

	_, err := DecodeResponse(doc)
	var fault *Fault
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, int64(2), fault.Code)
	assert.Equal(t, "boom", fault.Message)
}

// Scenario D and friends: structural problems never yield a partial value.
func TestDecodeResponse_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"array without close tag", string(response("<value><array><data><value><int>1</int></value>"))},
		{"truncated document", `<methodResponse><params><param><value><array><data><value><int>1</int></value>`},
		{"mismatched close tag", string(response("<value><array><data></struct></array></value>"))},
		{"unknown value tag", string(response("<value><float>1.5</float></value>"))},
		{"unsupported dateTime", string(response("<value><dateTime.iso8601>20240101T00:00:00</dateTime.iso8601></value>"))},
		{"array without data", string(response("<value><array><value><int>1</int></value></array></value>"))},
		{"stray element in data", string(response("<value><array><data><int>1</int></data></array></value>"))},
		{"stray element in struct", string(response("<value><struct><value><int>1</int></value></struct></value>"))},
		{"member without name", string(response("<value><struct><member><value><int>1</int></value></member></struct></value>"))},
		{"bad int", string(response("<value><int>abc</int></value>"))},
		{"int overflow", string(response("<value><i8>99999999999999999999</i8></value>"))},
		{"bad boolean", string(response("<value><boolean>2</boolean></value>"))},
		{"bad double", string(response("<value><double>one</double></value>"))},
		{"non-empty nil", string(response("<value><nil>x</nil></value>"))},
		{"text mixed with element", string(response("<value>abc<int>1</int></value>"))},
		{"element inside string", string(response("<value><string>a<b/></string></value>"))},
		{"two values in value", string(response("<value><int>1</int><int>2</int></value>"))},
		{"empty params", `<methodResponse><params></params></methodResponse>`},
		{"two params", `<methodResponse><params><param><value><int>1</int></value></param><param><value><int>2</int></value></param></params></methodResponse>`},
		{"wrong root", `<methodCall><params/></methodCall>`},
		{"trailing element", string(response("<value><int>1</int></value>")) + "<extra/>"},
		{"trailing text", string(response("<value><int>1</int></value>")) + "garbage"},
		{"fault is not a struct", `<methodResponse><fault><value><int>1</int></value></fault></methodResponse>`},
		{"empty document", ``},
		{"not xml", `{"result": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := DecodeResponse([]byte(tt.doc))
			assert.Nil(t, v)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrMalformedDocument)

			var decErr *DecodeError
			assert.ErrorAs(t, err, &decErr)
		})
	}
}

func TestDecode_LeadingByteOrderMark(t *testing.T) {
	bom := "\xEF\xBB\xBF"

	v, err := DecodeResponse([]byte(bom + string(response("<value><string>ok</string></value>"))))
	require.NoError(t, err)
	assert.Equal(t, Str("ok"), v)

	method, params, err := DecodeCall([]byte(bom + `<methodCall><methodName>version</methodName></methodCall>`))
	require.NoError(t, err)
	assert.Equal(t, "version", method)
	assert.Empty(t, params)

	tests := []struct {
		name string
		doc  string
	}{
		{"two marks", bom + bom + string(response("<value><int>1</int></value>"))},
		{"mark after whitespace", " " + bom + string(response("<value><int>1</int></value>"))},
		{"mark alone", bom},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeResponse([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrMalformedDocument)
		})
	}

	t.Run("offsets count the mark", func(t *testing.T) {
		doc := string(response("<value><int>abc</int></value>"))
		_, plainErr := DecodeResponse([]byte(doc))
		_, bomErr := DecodeResponse([]byte(bom + doc))

		var plain, marked *DecodeError
		require.ErrorAs(t, plainErr, &plain)
		require.ErrorAs(t, bomErr, &marked)
		assert.Equal(t, plain.Offset+3, marked.Offset)
	})
}

func TestDecodeCall(t *testing.T) {
	doc := []byte(`<?xml version="1.0"?>
<!-- generated -->
<methodCall>
  <methodName>execute_kw</methodName>
  <params>
    <param><value><string>mydb</string></value></param>
    <param><value><int>7</int></value></param>
    <param><value><array><data/></array></value></param>
  </params>
</methodCall>`)

	method, params, err := DecodeCall(doc)
	require.NoError(t, err)
	assert.Equal(t, "execute_kw", method)
	assert.Equal(t, List{Str("mydb"), Int(7), List{}}, params)
}

func TestDecodeCall_NoParams(t *testing.T) {
	method, params, err := DecodeCall([]byte(`<methodCall><methodName>version</methodName></methodCall>`))
	require.NoError(t, err)
	assert.Equal(t, "version", method)
	assert.Equal(t, List{}, params)
}

func TestDecodeCall_Malformed(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"missing method name", `<methodCall><params/></methodCall>`},
		{"empty method name", `<methodCall><methodName> </methodName></methodCall>`},
		{"param without value", `<methodCall><methodName>m</methodName><params><param></param></params></methodCall>`},
		{"unterminated", `<methodCall><methodName>m</methodName><params>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := DecodeCall([]byte(tt.doc))
			assert.ErrorIs(t, err, ErrMalformedDocument)
		})
	}
}

func TestDecodeValue(t *testing.T) {
	v, err := DecodeValue([]byte(`<value><array><data><value><boolean>1</boolean></value></data></array></value>`))
	require.NoError(t, err)
	assert.Equal(t, List{Bool(true)}, v)

	_, err = DecodeValue([]byte(`<value><int>1</int></value><value/>`))
	assert.ErrorIs(t, err, ErrMalformedDocument)
}
