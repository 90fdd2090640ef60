package snapshot

import "encoding/json"

// machineFields carries the indexed scalar columns derived from a machine
// document. String fields default to the empty string when absent or
// non-string so filter predicates never deal with NULL.
type machineFields struct {
	ID           string
	Serial       string
	Model        string
	Type         string
	Salesman     string
	ContactID    string
	LastModified string
}

type contactFields struct {
	ID           string
	Name         string
	Company      string
	LastModified string
}

func stringField(doc map[string]any, key string) string {
	value, ok := doc[key].(string)
	if !ok {
		return ""
	}
	return value
}

// extractMachine derives the indexed columns for one machine document.
// Archived and sold documents keep machine attributes under a nested
// "machine" object while the identity stays at the top level. Extraction
// succeeds only when the identity field is present and non-empty; every
// other field is optional.
func extractMachine(kind Kind, doc map[string]any) (machineFields, bool) {
	identity := stringField(doc, kind.identityKey())
	if identity == "" {
		return machineFields{}, false
	}

	root := doc
	if kind.envelopeWrapped() {
		nested, _ := doc["machine"].(map[string]any)
		root = nested
	}

	fields := machineFields{ID: identity}
	if root != nil {
		fields.Serial = stringField(root, "serialNumber")
		fields.Model = stringField(root, "model")
		fields.Type = stringField(root, "type")
		fields.Salesman = stringField(root, "salesman")
		fields.ContactID = stringField(root, "contactId")
		fields.LastModified = stringField(root, "lastModDate")
	}
	return fields, true
}

func extractContact(doc map[string]any) (contactFields, bool) {
	identity := stringField(doc, "c_id")
	if identity == "" {
		return contactFields{}, false
	}
	return contactFields{
		ID:           identity,
		Name:         stringField(doc, "name"),
		Company:      stringField(doc, "company"),
		LastModified: stringField(doc, "lastModDate"),
	}, true
}

// decodeDocument parses one raw document, rejecting anything that is not a
// JSON object.
func decodeDocument(raw json.RawMessage) (map[string]any, bool) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}
	return doc, true
}
