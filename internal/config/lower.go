package config

// lowerV1 rewrites the legacy flat config shorthand into v2 shape before the
// rest of the pipeline runs, grounded on
// original_source's lib/config/src/configv1/from_yaml.rs lowering pass. That
// pass covers a much larger legacy grammar (its own hand-rolled YAML event
// walker); this port carries the two structural renames an operator's
// hand-written v1 file realistically needs:
//
//   - the singular `provider:` top-level key instead of `providers:`.
//   - a bare `load_pattern: {to: ..., over: ...}` single segment (a map)
//     instead of the v2 list-of-segments form.
//
// Anything else in a v1 document is expected to already match v2 field
// names, since the rest of configv1/from_yaml.rs is generic YAML-decoding
// machinery (alias/anchor tracking) rather than domain-specific renames.
func lowerV1(doc map[string]interface{}) {
	if _, hasPlural := doc["providers"]; !hasPlural {
		if singular, ok := doc["provider"]; ok {
			doc["providers"] = singular
			delete(doc, "provider")
		}
	}

	lowerLoadPattern(doc)
	if endpoints, ok := doc["endpoints"].([]interface{}); ok {
		for _, e := range endpoints {
			if em, ok := e.(map[string]interface{}); ok {
				lowerLoadPattern(em)
			}
		}
	}
}

// lowerLoadPattern rewrites a bare single-segment `load_pattern` map into
// the one-element list form the rest of the loader expects.
func lowerLoadPattern(doc map[string]interface{}) {
	lp, ok := doc["load_pattern"]
	if !ok {
		return
	}
	if _, isList := lp.([]interface{}); isList {
		return
	}
	if segMap, ok := lp.(map[string]interface{}); ok {
		doc["load_pattern"] = []interface{}{segMap}
	}
}
