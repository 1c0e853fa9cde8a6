package merge

import (
	"bytes"
	"encoding/json"
	"io"
	"sort"
	"strings"

	"github.com/ghodss/yaml"
	"github.com/imdario/mergo"

	"github.com/underlay-tools/underlay/pkg/merge/status"
)

// overrideMarker on an overlay key suppresses deep merging for that
// subtree: the overlay value is planted verbatim, replacing whatever the
// base holds. "env!: {...}" replaces "env" wholesale.
const overrideMarker = "!"

type override struct {
	path  []string
	value interface{}
}

// mergeStructured deep merges two structured documents of the same
// format. Overlay scalars win, maps merge recursively, lists concatenate
// base first. Keys carrying the override marker replace instead of merge.
func mergeStructured(filePath string, base, overlay []byte, format structuredFormat) ([]byte, error) {
	baseDoc, baseIsObject, err := decodeDocument(filePath, base, format)
	if err != nil {
		return nil, err
	}
	overlayDoc, overlayIsObject, err := decodeDocument(filePath, overlay, format)
	if err != nil {
		return nil, err
	}
	// deep merging is defined over objects, anything else the overlay
	// replaces wholesale
	if !baseIsObject || !overlayIsObject {
		return append([]byte(nil), overlay...), nil
	}

	cleaned, overrides := liftOverrides(overlayDoc, nil)
	if err := mergo.Merge(&baseDoc, cleaned, mergo.WithOverride, mergo.WithAppendSlice); err != nil {
		return nil, status.ErrInvalidDocument.WrapMessage("%s: %v", filePath, err)
	}
	for _, o := range overrides {
		plant(baseDoc, o.path, o.value)
	}
	return encodeDocument(filePath, baseDoc, format)
}

// decodeDocument parses a structured document into json typed values.
// The second return reports whether the top level is an object.
func decodeDocument(filePath string, doc []byte, format structuredFormat) (map[string]interface{}, bool, error) {
	if strings.TrimSpace(string(doc)) == "" {
		return map[string]interface{}{}, true, nil
	}
	var top interface{}
	switch format {
	case formatJSON:
		dec := json.NewDecoder(bytes.NewReader(doc))
		dec.UseNumber()
		if err := dec.Decode(&top); err != nil {
			return nil, false, status.ErrInvalidDocument.WrapMessage("%s: %v", filePath, err)
		}
		if err := dec.Decode(new(interface{})); err != io.EOF {
			return nil, false, status.ErrInvalidDocument.WrapMessage("%s: trailing content after document", filePath)
		}
	default:
		if err := yaml.Unmarshal(doc, &top); err != nil {
			return nil, false, status.ErrInvalidDocument.WrapMessage("%s: %v", filePath, err)
		}
	}
	obj, ok := top.(map[string]interface{})
	if !ok {
		return nil, false, nil
	}
	return obj, true, nil
}

func encodeDocument(filePath string, doc map[string]interface{}, format structuredFormat) ([]byte, error) {
	switch format {
	case formatJSON:
		buf, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, status.ErrInvalidDocument.WrapMessage("%s: %v", filePath, err)
		}
		return append(buf, '\n'), nil
	default:
		buf, err := yaml.Marshal(doc)
		if err != nil {
			return nil, status.ErrInvalidDocument.WrapMessage("%s: %v", filePath, err)
		}
		return buf, nil
	}
}

// liftOverrides strips override markers from an overlay document and
// collects the paths to plant after the merge. When a plain key and a
// marked key collide the marked one wins. Markers are only interpreted
// on object keys reachable through objects from the root, keys inside
// arrays are kept literal.
func liftOverrides(doc map[string]interface{}, prefix []string) (map[string]interface{}, []override) {
	clean := make(map[string]interface{}, len(doc))
	overrides := make([]override, 0)

	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	// plain keys sort before their marked twins, so marked wins on collision
	sort.Strings(keys)

	for _, k := range keys {
		v := doc[k]
		name := k
		marked := false
		if strings.HasSuffix(k, overrideMarker) && len(k) > len(overrideMarker) {
			name = strings.TrimSuffix(k, overrideMarker)
			marked = true
		}
		childPrefix := append(append([]string(nil), prefix...), name)

		var cleanedValue interface{} = v
		var childOverrides []override
		if childMap, ok := v.(map[string]interface{}); ok {
			cleanedValue, childOverrides = liftOverrides(childMap, childPrefix)
		}

		clean[name] = cleanedValue
		if marked {
			// the whole subtree is planted verbatim, nested markers
			// inside it are already stripped and need no own entry
			overrides = append(overrides, override{path: childPrefix, value: cleanedValue})
		} else {
			overrides = append(overrides, childOverrides...)
		}
	}
	return clean, overrides
}

// plant sets a value at a path, materializing intermediate objects when
// the merge replaced them with scalars.
func plant(doc map[string]interface{}, path []string, value interface{}) {
	cursor := doc
	for _, segment := range path[:len(path)-1] {
		next, ok := cursor[segment].(map[string]interface{})
		if !ok {
			next = map[string]interface{}{}
			cursor[segment] = next
		}
		cursor = next
	}
	cursor[path[len(path)-1]] = value
}
