// Package xmlrpc implements the ERP backend's XML-RPC wire codec.
//
// Everything the wire format can carry is represented by the closed Value
// sum type: Null, Bool, Int, Double, Str, List and Record. Values nest
// arbitrarily. The Encoder turns a method name and a list of Values into a
// <methodCall> document; the Decoder recovers a Value from a
// <methodResponse> document by tag nesting alone, with no schema.
//
// Decoding is strict. Unknown tags, unterminated or mismatched elements,
// stray text and malformed scalars produce a *DecodeError rather than a
// partial or empty value. A <fault> response is returned as a *Fault error
// carrying the remote payload.
//
// Example:
//
//	doc, err := xmlrpc.EncodeCall("execute_kw",
//	    xmlrpc.Str("mydb"), xmlrpc.Int(7), xmlrpc.Str("secret"),
//	    xmlrpc.Str("res.partner"), xmlrpc.Str("search_read"),
//	    xmlrpc.List{},
//	    xmlrpc.Record{{Name: "fields", Value: xmlrpc.List{xmlrpc.Str("id"), xmlrpc.Str("name")}}},
//	)
//	...
//	v, err := xmlrpc.DecodeResponse(body)
//	switch rows := v.(type) {
//	case xmlrpc.List:
//	    ...
//	}
package xmlrpc
