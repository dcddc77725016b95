package lrgraph

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Envelope is one harvested record. ResourceData is left undecoded - its
// shape depends on the feed (a JSON string holding XML for conformance data,
// a JSON object for paradata) and is the Extractor's business.
type Envelope struct {
	DocID           string          `json:"doc_ID,omitempty"`
	ResourceLocator string          `json:"resource_locator"`
	PayloadSchema   []string        `json:"payload_schema,omitempty"`
	ResourceData    json.RawMessage `json:"resource_data"`
}

// Batch is the set of envelopes delivered together, i.e. one data-service
// document. BatchFilters judge a Batch as a unit. It marshals to the data
// service's document form.
type Batch struct {
	ID        string     `json:"doc_ID"`
	Envelopes []Envelope `json:"resource_data"`
}

// Relationship is one (relation type, standard) pair produced by an
// Extractor. Standard is the identifier as it appeared in the payload.
type Relationship struct {
	Type     string
	Standard string
}

// Optional is a string which may be absent. The zero value is absent.
type Optional struct {
	val string
	ok  bool
}

// Some returns a present Optional.
func Some(s string) Optional { return Optional{val: s, ok: true} }

// None returns an absent Optional.
func None() Optional { return Optional{} }

// Get returns the value and whether it is present.
func (o Optional) Get() (string, bool) { return o.val, o.ok }

// Present reports whether o holds a value.
func (o Optional) Present() bool { return o.ok }

func (o Optional) String() string {
	if !o.ok {
		return "<none>"
	}
	return o.val
}

// Extraction is what an Extractor finds in one envelope.
type Extraction struct {
	Relationships []Relationship
	Submitter     Optional
}

// DecodeBatch reads a JSON value which is either a document holding a list of
// envelopes or a lone envelope. A lone envelope becomes a batch of one.
func DecodeBatch(value []byte) (Batch, error) {
	var probe struct {
		ResourceLocator *string `json:"resource_locator"`
	}
	if err := json.Unmarshal(value, &probe); err != nil {
		return Batch{}, errors.Wrap(err, "unmarshaling json")
	}
	if probe.ResourceLocator != nil {
		var env Envelope
		if err := json.Unmarshal(value, &env); err != nil {
			return Batch{}, errors.Wrap(err, "unmarshaling envelope")
		}
		return Batch{ID: env.DocID, Envelopes: []Envelope{env}}, nil
	}
	var batch Batch
	if err := json.Unmarshal(value, &batch); err != nil {
		return Batch{}, errors.Wrap(err, "unmarshaling document")
	}
	if len(batch.Envelopes) == 0 {
		return Batch{}, errors.New("value holds neither an envelope nor a document")
	}
	for i := range batch.Envelopes {
		if batch.Envelopes[i].DocID == "" {
			batch.Envelopes[i].DocID = batch.ID
		}
	}
	return batch, nil
}
