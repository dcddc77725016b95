package lrgraph

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// XML namespaces used by nsdl_dc records.
const (
	NamespaceDC  = "http://purl.org/dc/elements/1.1/"
	NamespaceDCT = "http://purl.org/dc/terms/"
)

// Extractor pulls relationships and the submitter out of one envelope. The
// Ingester only ever sees this interface, so adding a payload shape means
// adding an Extractor.
type Extractor interface {
	Extract(env Envelope) (Extraction, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(env Envelope) (Extraction, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(env Envelope) (Extraction, error) { return f(env) }

// ConformanceExtractor handles envelopes whose resource_data is an nsdl_dc
// XML record. Every dct:conformsTo directly under the root element becomes a
// conformsTo relationship. The submitter is the first dc:creator, or failing
// that the first dc:publisher.
type ConformanceExtractor struct{}

// Extract implements Extractor.
func (ConformanceExtractor) Extract(env Envelope) (Extraction, error) {
	var doc string
	if err := json.Unmarshal(env.ResourceData, &doc); err != nil {
		return Extraction{}, errors.Wrap(err, "resource_data is not an XML string")
	}
	dec := xml.NewDecoder(strings.NewReader(doc))
	// the record came out of a JSON string, so it is UTF-8 whatever its
	// prolog declares.
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) { return input, nil }

	var (
		ext                Extraction
		creator, publisher Optional
		depth              int
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		} else if err != nil {
			return Extraction{}, errors.Wrap(err, "parsing XML record")
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth != 2 {
				continue
			}
			var field string
			switch {
			case t.Name.Space == NamespaceDCT && t.Name.Local == "conformsTo":
				field = "conformsTo"
			case t.Name.Space == NamespaceDC && t.Name.Local == "creator" && !creator.Present():
				field = "creator"
			case t.Name.Space == NamespaceDC && t.Name.Local == "publisher" && !publisher.Present():
				field = "publisher"
			default:
				continue
			}
			var el struct {
				Text string `xml:",chardata"`
			}
			if err := dec.DecodeElement(&el, &t); err != nil {
				return Extraction{}, errors.Wrapf(err, "decoding %s", t.Name.Local)
			}
			depth-- // DecodeElement consumed the end tag
			text := strings.TrimSpace(el.Text)
			if text == "" {
				continue
			}
			switch field {
			case "conformsTo":
				ext.Relationships = append(ext.Relationships, Relationship{Type: RelConformsTo, Standard: text})
			case "creator":
				creator = Some(text)
			case "publisher":
				publisher = Some(text)
			}
		case xml.EndElement:
			depth--
		}
	}
	if depth != 0 {
		return Extraction{}, errors.New("XML record ended inside an element")
	}

	switch {
	case creator.Present():
		ext.Submitter = creator
	case publisher.Present():
		ext.Submitter = publisher
	}
	return ext, nil
}

// ParadataExtractor handles envelopes whose resource_data is an activity
// stream record. Related entries of object type "academic standard" become
// relationships typed by the activity's action. The submitter is the actor's
// display name.
type ParadataExtractor struct{}

// Extract implements Extractor.
func (ParadataExtractor) Extract(env Envelope) (Extraction, error) {
	act, err := decodeActivity(env.ResourceData)
	if err != nil {
		return Extraction{}, err
	}
	var ext Extraction
	if act.Actor != nil {
		if name := strings.TrimSpace(act.Actor.DisplayName); name != "" {
			ext.Submitter = Some(name)
		}
	}
	relType := Normalize(strings.ToLower(strings.TrimSpace(act.Verb.Action)))
	for _, rel := range act.Related {
		if !strings.EqualFold(strings.TrimSpace(rel.ObjectType), "academic standard") {
			continue
		}
		id := strings.TrimSpace(rel.ID)
		if id == "" {
			continue
		}
		if relType == "" {
			return Extraction{}, errors.Errorf("activity relates standard '%s' but has no verb action", id)
		}
		ext.Relationships = append(ext.Relationships, Relationship{Type: relType, Standard: id})
	}
	return ext, nil
}

type activity struct {
	Actor *struct {
		ObjectType  string `json:"objectType"`
		DisplayName string `json:"displayName"`
	} `json:"actor"`
	Verb struct {
		Action string `json:"action"`
	} `json:"verb"`
	Related []struct {
		ObjectType string `json:"objectType"`
		ID         string `json:"id"`
	} `json:"related"`
}

// decodeActivity reads the activity out of paradata resource_data. Some
// publishers send the JSON document as a string, so one level of string
// encoding is unwrapped.
func decodeActivity(data json.RawMessage) (*activity, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return nil, errors.Wrap(err, "unwrapping string resource_data")
		}
		data = []byte(inner)
	}
	var doc struct {
		Activity *activity `json:"activity"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding paradata")
	}
	if doc.Activity == nil {
		return nil, errors.New("paradata has no activity")
	}
	return doc.Activity, nil
}
