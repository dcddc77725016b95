package taxonomy

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Node is one node of an ASN-style taxonomy tree.
type Node struct {
	Children          []Node `json:"children,omitempty"`
	Leaf              Flag   `json:"leaf,omitempty"`
	StatementNotation Text   `json:"asn_statementNotation,omitempty"`
	Identifier        Text   `json:"asn_identifier,omitempty"`
}

// Flag is a boolean which may be encoded as a JSON bool or as a string such
// as "true".
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*f = false
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if strings.TrimSpace(s) == "" {
			*f = false
			return nil
		}
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return errors.Wrapf(err, "parsing leaf flag %s", data)
		}
		*f = Flag(b)
		return nil
	default:
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return errors.Wrapf(err, "parsing leaf flag %s", data)
		}
		*f = Flag(b)
		return nil
	}
}

// Text is a string which may be encoded as a JSON string or number.
type Text string

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*t = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return errors.Wrapf(err, "expected string or number, got %s", data)
		}
		*t = Text(n.String())
	}
	return nil
}

// Pair maps a taxonomy identifier onto a dot-notation code.
type Pair struct {
	Identifier  string
	DotNotation string
}

// match reports the pair for n if it is a leaf carrying both a statement
// notation and an identifier, and prefix.notation is a valid code.
func (n *Node) match(prefix string, valid ValidIDs) (Pair, bool) {
	if !n.Leaf {
		return Pair{}, false
	}
	notation := strings.TrimSpace(string(n.StatementNotation))
	id := strings.TrimSpace(string(n.Identifier))
	if notation == "" || id == "" {
		return Pair{}, false
	}
	dot := prefix + "." + notation
	if !valid.Has(dot) {
		return Pair{}, false
	}
	return Pair{Identifier: id, DotNotation: dot}, true
}

// Search walks the children of each top-level node depth first, looking for
// nodes that match a valid code under prefix. Normally the first match
// under a top-level node is the only one used for it; later siblings are
// searched only while nothing has matched. A node with children but no match
// beneath it does not end the search of its top-level node; the older
// harvester stopped at the first node with children either way. With all set
// every match is returned.
func Search(roots []Node, prefix string, valid ValidIDs, all bool) []Pair {
	var pairs []Pair
	for i := range roots {
		search(roots[i].Children, prefix, valid, all, &pairs)
	}
	return pairs
}

func search(nodes []Node, prefix string, valid ValidIDs, all bool, pairs *[]Pair) (found bool) {
	for i := range nodes {
		n := &nodes[i]
		if p, ok := n.match(prefix, valid); ok {
			*pairs = append(*pairs, p)
			if !all {
				return true
			}
			found = true
		}
		if len(n.Children) > 0 && search(n.Children, prefix, valid, all, pairs) {
			if !all {
				return true
			}
			found = true
		}
	}
	return found
}
