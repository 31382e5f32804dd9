// Package callspec reads a remote call description from YAML.
//
// Mapping key order is kept, so kwargs reach the server in the order they were written:
//
//	model: res.partner
//	method: search_read
//	args:
//	  - [[is_company, "=", true]]
//	kwargs:
//	  fields: [id, name]
//	  limit: 5
package callspec

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/teo-lapa/app-hub-platform-sub019/internal/xmlrpc"
)

// ErrInvalidCall is returned for documents that do not describe a call
var ErrInvalidCall = errors.New("callspec: invalid call")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Call is one execute_kw invocation.
type Call struct {
	Model  string `validate:"required"`
	Method string `validate:"required"`
	Args   xmlrpc.List
	Kwargs xmlrpc.Record
}

// Load reads and parses the call file at path.
func Load(path string) (*Call, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read call file: %w", err)
	}
	return Parse(data)
}

// Parse parses a YAML call document.
func Parse(data []byte) (*Call, error) {
	v, err := ValueFromYAML(data)
	if err != nil {
		return nil, err
	}
	doc, ok := v.(xmlrpc.Record)
	if !ok {
		return nil, fmt.Errorf("%w: top level must be a mapping, got %s", ErrInvalidCall, v.Kind())
	}

	c := &Call{Args: xmlrpc.List{}, Kwargs: xmlrpc.Record{}}
	for _, f := range doc {
		switch f.Name {
		case "model":
			s, ok := f.Value.(xmlrpc.Str)
			if !ok {
				return nil, fmt.Errorf("%w: model must be a string", ErrInvalidCall)
			}
			c.Model = string(s)
		case "method":
			s, ok := f.Value.(xmlrpc.Str)
			if !ok {
				return nil, fmt.Errorf("%w: method must be a string", ErrInvalidCall)
			}
			c.Method = string(s)
		case "args":
			switch a := f.Value.(type) {
			case xmlrpc.List:
				c.Args = a
			case xmlrpc.Null:
			default:
				return nil, fmt.Errorf("%w: args must be a sequence", ErrInvalidCall)
			}
		case "kwargs":
			switch k := f.Value.(type) {
			case xmlrpc.Record:
				c.Kwargs = k
			case xmlrpc.Null:
			default:
				return nil, fmt.Errorf("%w: kwargs must be a mapping", ErrInvalidCall)
			}
		default:
			return nil, fmt.Errorf("%w: unknown key %q", ErrInvalidCall, f.Name)
		}
	}

	if err := validate.Struct(c); err != nil {
		return nil, fmt.Errorf("%w: model and method are required", ErrInvalidCall)
	}
	return c, nil
}

// ValueFromYAML converts a YAML document into a Value, keeping mapping order.
// An empty document is Null.
func ValueFromYAML(data []byte) (xmlrpc.Value, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCall, err)
	}
	if root.Kind == 0 {
		return xmlrpc.Null{}, nil
	}
	c := converter{aliases: make(map[*yaml.Node]bool)}
	return c.convert(&root)
}

type converter struct {
	aliases map[*yaml.Node]bool
}

func (c *converter) convert(n *yaml.Node) (xmlrpc.Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return xmlrpc.Null{}, nil
		}
		return c.convert(n.Content[0])

	case yaml.SequenceNode:
		l := make(xmlrpc.List, 0, len(n.Content))
		for _, item := range n.Content {
			v, err := c.convert(item)
			if err != nil {
				return nil, err
			}
			l = append(l, v)
		}
		return l, nil

	case yaml.MappingNode:
		r := make(xmlrpc.Record, 0, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i]
			if key.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("%w: line %d: mapping keys must be scalars", ErrInvalidCall, key.Line)
			}
			if key.ShortTag() == "!!merge" {
				return nil, fmt.Errorf("%w: line %d: merge keys are not supported", ErrInvalidCall, key.Line)
			}
			v, err := c.convert(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			r = append(r, xmlrpc.Field{Name: key.Value, Value: v})
		}
		return r, nil

	case yaml.AliasNode:
		if c.aliases[n] {
			return nil, fmt.Errorf("%w: line %d: recursive alias", ErrInvalidCall, n.Line)
		}
		c.aliases[n] = true
		defer delete(c.aliases, n)
		return c.convert(n.Alias)

	case yaml.ScalarNode:
		return scalar(n)
	}

	return nil, fmt.Errorf("%w: line %d: unsupported node", ErrInvalidCall, n.Line)
}

// scalar converts a resolved YAML scalar.
// Timestamps stay strings, which is how the ERP exchanges dates.
func scalar(n *yaml.Node) (xmlrpc.Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return xmlrpc.Null{}, nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidCall, n.Line, err)
		}
		return xmlrpc.Bool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrInvalidCall, n.Line, err)
		}
		return xmlrpc.Int(i), nil
	case "!!float":
		d, err := decimal.NewFromString(n.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: float %q has no wire form", ErrInvalidCall, n.Line, n.Value)
		}
		return xmlrpc.Double(d), nil
	case "!!str", "!!timestamp":
		return xmlrpc.Str(n.Value), nil
	}
	return nil, fmt.Errorf("%w: line %d: unsupported tag %s", ErrInvalidCall, n.Line, n.ShortTag())
}
