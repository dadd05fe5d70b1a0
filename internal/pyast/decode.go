package pyast

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// The helper's output is read token by token. Trees can nest thousands
// of levels deep (long attribute or operator chains), and decoding them
// through nested UnmarshalJSON calls rescans every subtree once per level.

func newDecoder(r io.Reader) *json.Decoder {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	return dec
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("pyast: expected %q, got %v", want, tok)
	}
	return nil
}

func decodeKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("pyast: expected object key, got %v", tok)
	}
	return key, nil
}

// decodeValue reads one field value.
func decodeValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			node, err := decodeNode(dec)
			if err != nil {
				return Value{}, err
			}
			return Value{Kind: KindNode, Node: node}, nil
		case '[':
			var list []Value
			for dec.More() {
				item, err := decodeValue(dec)
				if err != nil {
					return Value{}, err
				}
				list = append(list, item)
			}
			if err := expectDelim(dec, ']'); err != nil {
				return Value{}, err
			}
			return Value{Kind: KindList, List: list}, nil
		}
		return Value{}, fmt.Errorf("pyast: unexpected %q", t)
	case nil:
		return Value{}, nil
	default:
		return Value{Kind: KindScalar, Scalar: t}, nil
	}
}

// decodeNode reads the rest of a node whose opening brace has been
// consumed.
func decodeNode(dec *json.Decoder) (*Node, error) {
	n := new(Node)
	for dec.More() {
		key, err := decodeKey(dec)
		if err != nil {
			return nil, err
		}
		switch key {
		case "_t":
			if err := dec.Decode(&n.Type); err != nil {
				return nil, fmt.Errorf("pyast: node type: %w", err)
			}
		case "_p":
			var pos []int
			if err := dec.Decode(&pos); err != nil {
				return nil, fmt.Errorf("pyast: %s position: %w", n.Type, err)
			}
			if len(pos) == 4 {
				n.Pos = &Pos{Line: pos[0], Col: pos[1], EndLine: pos[2], EndCol: pos[3]}
			}
		default:
			v, err := decodeValue(dec)
			if err != nil {
				return nil, fmt.Errorf("pyast: %s.%s: %w", n.Type, key, err)
			}
			n.Fields = append(n.Fields, Field{Name: key, Value: v})
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if n.Type == "" {
		return nil, errors.New("pyast: node without type")
	}
	return n, nil
}

// decodeResults reads the helper's reply:
//
//	{"results": [{"tree": {...}}, {"error": "...", "line": 1, "offset": 5}]}
func decodeResults(r io.Reader) ([]Result, error) {
	dec := newDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}
	var out []Result
	for dec.More() {
		key, err := decodeKey(dec)
		if err != nil {
			return nil, err
		}
		if key != "results" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
			continue
		}
		if err := expectDelim(dec, '['); err != nil {
			return nil, err
		}
		for dec.More() {
			res, err := decodeResult(dec, len(out))
			if err != nil {
				return nil, err
			}
			out = append(out, res)
		}
		if err := expectDelim(dec, ']'); err != nil {
			return nil, err
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeResult(dec *json.Decoder, i int) (Result, error) {
	if err := expectDelim(dec, '{'); err != nil {
		return Result{}, err
	}
	var (
		res Result
		se  SyntaxError
		bad bool
	)
	for dec.More() {
		key, err := decodeKey(dec)
		if err != nil {
			return Result{}, err
		}
		switch key {
		case "tree":
			if err := expectDelim(dec, '{'); err != nil {
				return Result{}, err
			}
			if res.Tree, err = decodeNode(dec); err != nil {
				return Result{}, err
			}
		case "error":
			bad = true
			err = dec.Decode(&se.Msg)
		case "line":
			err = dec.Decode(&se.Line)
		case "offset":
			err = dec.Decode(&se.Offset)
		default:
			var skip json.RawMessage
			err = dec.Decode(&skip)
		}
		if err != nil {
			return Result{}, fmt.Errorf("parser result %d: %s: %w", i, key, err)
		}
	}
	if err := expectDelim(dec, '}'); err != nil {
		return Result{}, err
	}

	switch {
	case bad:
		return Result{Err: &se}, nil
	case res.Tree != nil:
		return res, nil
	}
	return Result{}, fmt.Errorf("parser result %d has neither tree nor error", i)
}
