// Package preamble merges the run-level metadata envelope into task bodies.
//
// Every task sent to the work queue carries a preamble: routing metadata
// (the result queue) plus the list of files pushed to blob storage during
// the run. A task may embed its own preamble under the reserved key; embedded
// values win over run-level values on conflict.
package preamble

import (
	"encoding/json"
	"fmt"
)

// ReservedKey is the task key holding an embedded preamble.
const ReservedKey = "preamble"

// Merge parses taskBody as JSON, strips any embedded preamble and deep-merges
// it over the run preamble. It returns the cleaned task body and the merged
// preamble. The run preamble is never mutated; each call starts from a deep
// copy so no task-supplied value leaks into the next task.
func Merge(run map[string]any, taskBody []byte) ([]byte, map[string]any, error) {
	var doc any
	if err := json.Unmarshal(taskBody, &doc); err != nil {
		return nil, nil, fmt.Errorf("parse task body: %w", err)
	}

	merged := deepCopy(run)

	obj, ok := doc.(map[string]any)
	if !ok {
		// Not an object, nothing to strip.
		return taskBody, merged, nil
	}

	embedded, present := obj[ReservedKey]
	if !present {
		return taskBody, merged, nil
	}

	embeddedMap, ok := embedded.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("embedded %s must be an object, got %T", ReservedKey, embedded)
	}

	deepMerge(merged, embeddedMap)
	delete(obj, ReservedKey)

	cleaned, err := json.Marshal(obj)
	if err != nil {
		return nil, nil, fmt.Errorf("serialize cleaned task: %w", err)
	}
	return cleaned, merged, nil
}

// deepMerge merges src into dst. Map values merge recursively, everything
// else overwrites.
func deepMerge(dst, src map[string]any) {
	for k, v := range src {
		srcMap, srcIsMap := v.(map[string]any)
		dstMap, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			deepMerge(dstMap, srcMap)
			continue
		}
		dst[k] = v
	}
}

func deepCopy(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]any); ok {
			out[k] = deepCopy(nested)
			continue
		}
		if list, ok := v.([]any); ok {
			copied := make([]any, len(list))
			copy(copied, list)
			out[k] = copied
			continue
		}
		out[k] = v
	}
	return out
}
