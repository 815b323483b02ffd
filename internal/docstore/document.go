package docstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Fields is the schema-less content of a document: top-level field name to
// raw JSON value. A JSON null clears a field's value but keeps the key.
type Fields map[string]json.RawMessage

// FieldsOf flattens a JSON-encodable struct into Fields.
func FieldsOf(v any) (Fields, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var f Fields
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("value is not a JSON object: %w", err)
	}
	return f, nil
}

// Value encodes a single field value. It panics only for values that
// encoding/json cannot represent, which is a programming error.
func Value(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("docstore: unencodable field value %T: %v", v, err))
	}
	return b
}

func (f Fields) clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Document is one snapshot of a stored document.
type Document struct {
	Path   Path
	Fields Fields
}

func (d Document) ID() string { return d.Path.ID() }

// Decode unmarshals the document's fields into v.
func (d Document) Decode(v any) error {
	b, err := json.Marshal(d.Fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// sortDocuments orders by the given field (ascending) and then by id.
// Values that parse as timestamps compare chronologically, numbers
// numerically, anything else by raw bytes. Missing fields sort first.
func sortDocuments(docs []Document, orderBy string) {
	sort.SliceStable(docs, func(i, j int) bool {
		if orderBy != "" {
			if c := compareValues(docs[i].Fields[orderBy], docs[j].Fields[orderBy]); c != 0 {
				return c < 0
			}
		}
		return docs[i].ID() < docs[j].ID()
	})
}

func compareValues(a, b json.RawMessage) int {
	switch {
	case len(a) == 0 && len(b) == 0:
		return 0
	case len(a) == 0:
		return -1
	case len(b) == 0:
		return 1
	}
	var ta, tb time.Time
	if json.Unmarshal(a, &ta) == nil && json.Unmarshal(b, &tb) == nil {
		return ta.Compare(tb)
	}
	var fa, fb float64
	if json.Unmarshal(a, &fa) == nil && json.Unmarshal(b, &fb) == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return bytes.Compare(a, b)
}
