package postgres

import "encoding/json"

func marshalStrings(v []string) string {
	if v == nil {
		v = []string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalStrings(raw []byte) []string {
	var v []string
	if len(raw) == 0 {
		return nil
	}
	_ = json.Unmarshal(raw, &v)
	return v
}

func marshalStringMap(v map[string]string) string {
	if v == nil {
		v = map[string]string{}
	}
	b, _ := json.Marshal(v)
	return string(b)
}

func unmarshalStringMap(raw []byte) map[string]string {
	var v map[string]string
	if len(raw) == 0 {
		return nil
	}
	_ = json.Unmarshal(raw, &v)
	return v
}

// marshalParameters returns nil (SQL NULL) for an empty/nil parameter set —
// the parameters column has no NOT NULL default, unlike labels/annotations —
// and a marshaled JSONB blob otherwise, for a StackTemplate instantiation's
// provenance values (spec §4.2).
func marshalParameters(v map[string]any) any {
	if len(v) == 0 {
		return nil
	}
	b, _ := json.Marshal(v)
	return string(b)
}
