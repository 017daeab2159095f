package identity

import "sort"

// MergeAttributes combines attribute maps under a first-writer-wins policy.
// Maps earlier in the precedence list win conflicting keys; within a single
// map, keys are visited in sorted order. Callers pass an explicit
// precedence order (canonical entity first, then absorbed entities sorted
// by id), so merge outcomes never depend on container iteration order.
func MergeAttributes(precedence ...map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{})
	for _, attrs := range precedence {
		if len(attrs) == 0 {
			continue
		}
		keys := make([]string, 0, len(attrs))
		for key := range attrs {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			if _, taken := merged[key]; !taken {
				merged[key] = attrs[key]
			}
		}
	}
	return merged
}
