package vars

// HashBehaviour controls how two mapping values at different precedence
// levels are combined when both define the same key.
type HashBehaviour int

const (
	// Replace means the higher-precedence mapping entirely replaces the
	// lower one for that key. This is the default, matching the source
	// tool's historic behaviour.
	Replace HashBehaviour = iota
	// Merge means mappings are combined key-by-key, recursively.
	Merge
)

// deepMerge combines overlay onto base according to behaviour. Mapping
// values are merged key-by-key when behaviour is Merge; any other value
// type, or Replace behaviour, means overlay wins outright.
func deepMerge(base, overlay interface{}, behaviour HashBehaviour) interface{} {
	if behaviour == Replace {
		return overlay
	}

	baseMap, baseOK := base.(map[string]interface{})
	overlayMap, overlayOK := overlay.(map[string]interface{})
	if !baseOK || !overlayOK {
		return overlay
	}

	merged := make(map[string]interface{}, len(baseMap)+len(overlayMap))
	for k, v := range baseMap {
		merged[k] = v
	}
	for k, v := range overlayMap {
		if existing, ok := merged[k]; ok {
			merged[k] = deepMerge(existing, v, behaviour)
		} else {
			merged[k] = v
		}
	}
	return merged
}

// DeepMerge is the exported form used outside the store, e.g. by the
// executor when folding block_vars/task_vars onto a rendered context.
func DeepMerge(base, overlay interface{}, behaviour HashBehaviour) interface{} {
	return deepMerge(base, overlay, behaviour)
}
