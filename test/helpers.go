package test

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/learningregistry/lrgraph"
)

// MustBe uses reflect.DeepEqual to assert that thing1 and thing2 are equal, and
// fails otherwise.
func MustBe(t *testing.T, thing1, thing2 interface{}, context ...string) {
	t.Helper()
	var ctx string
	if len(context) == 0 {
		ctx = ""
	} else {
		ctx = context[0] + ": "
	}
	if !reflect.DeepEqual(thing1, thing2) {
		t.Fatalf("%v'%#v' != '%#v'", ctx, thing1, thing2)
	}
}

// ErrNil asserts that the err is nil and fails otherwise.
func ErrNil(t *testing.T, err error, ctx string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%v: %v", ctx, err)
	}
}

// NSDLRecord builds an nsdl_dc XML record with the given conformsTo
// references, creators and publishers.
func NSDLRecord(conformsTo, creators, publishers []string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<nsdl_dc:nsdl_dc xmlns:nsdl_dc="http://ns.nsdl.org/nsdl_dc_v1.02/" xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:dct="http://purl.org/dc/terms/">`)
	b.WriteString(`<dc:title>A resource</dc:title>`)
	for _, c := range creators {
		fmt.Fprintf(&b, "<dc:creator>%s</dc:creator>", c)
	}
	for _, p := range publishers {
		fmt.Fprintf(&b, "<dc:publisher>%s</dc:publisher>", p)
	}
	for _, c := range conformsTo {
		fmt.Fprintf(&b, `<dct:conformsTo xsi:type="dct:URI" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance">%s</dct:conformsTo>`, c)
	}
	b.WriteString(`</nsdl_dc:nsdl_dc>`)
	return b.String()
}

// ConformanceEnvelope wraps an XML record in an envelope for locator.
func ConformanceEnvelope(locator, record string) lrgraph.Envelope {
	data, err := json.Marshal(record)
	if err != nil {
		panic(err)
	}
	return lrgraph.Envelope{ResourceLocator: locator, ResourceData: data}
}

// Related is one entry of an activity's related list.
type Related struct {
	ObjectType string `json:"objectType"`
	ID         string `json:"id"`
}

// ParadataEnvelope builds an envelope holding an activity with the given
// actor (omitted when empty), action and related entries.
func ParadataEnvelope(locator, actor, action string, related ...Related) lrgraph.Envelope {
	act := map[string]interface{}{
		"verb":    map[string]interface{}{"action": action},
		"object":  locator,
		"related": related,
	}
	if actor != "" {
		act["actor"] = map[string]interface{}{"objectType": "educator", "displayName": actor}
	}
	data, err := json.Marshal(map[string]interface{}{"activity": act})
	if err != nil {
		panic(err)
	}
	return lrgraph.Envelope{ResourceLocator: locator, ResourceData: data}
}
