package vars

import (
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/liliang-cn/gosinble/pkg/vault"
)

// Variable is one value recorded at a single precedence level, carrying
// enough provenance to explain itself in --verbose output.
type Variable struct {
	Value     interface{}
	Precedence Precedence
	Source    string
	Encrypted bool
}

// New creates a Variable at the given precedence with no source note.
func New(value interface{}, precedence Precedence) Variable {
	return Variable{Value: value, Precedence: precedence}
}

// WithSource attaches a human-readable origin (file path, "extra-vars", ...).
func (v Variable) WithSource(source string) Variable {
	v.Source = source
	return v
}

// AsEncrypted marks the variable as having come from a vault-decrypted value.
func (v Variable) AsEncrypted() Variable {
	v.Encrypted = true
	return v
}

// Store is the layered variable table: one ordered map per precedence
// level, flattened into a read-through merged cache that is invalidated
// on every write.
type Store struct {
	mu            sync.RWMutex
	layers        map[Precedence]map[string]Variable
	mergedCache   map[string]interface{}
	cacheValid    bool
	hashBehaviour HashBehaviour
	vaultPassword string
}

// NewStore creates an empty store with Replace hash behaviour, matching
// the historic default.
func NewStore() *Store {
	return &Store{
		layers:        make(map[Precedence]map[string]Variable),
		hashBehaviour: Replace,
	}
}

// SetHashBehaviour switches between Replace and Merge for mapping values.
func (s *Store) SetHashBehaviour(b HashBehaviour) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashBehaviour = b
	s.cacheValid = false
}

// SetVaultPassword enables vault-aware LoadFile calls.
func (s *Store) SetVaultPassword(password string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaultPassword = password
}

// Set records a raw value at a precedence level, wrapping it in a Variable.
func (s *Store) Set(key string, value interface{}, precedence Precedence) {
	s.SetVariable(key, New(value, precedence))
}

// SetVariable records a fully-formed Variable, keyed by its own precedence.
func (s *Store) SetVariable(key string, v Variable) {
	s.mu.Lock()
	defer s.mu.Unlock()
	layer, ok := s.layers[v.Precedence]
	if !ok {
		layer = make(map[string]Variable)
		s.layers[v.Precedence] = layer
	}
	layer[key] = v
	s.cacheValid = false
}

// SetMany records every entry of values at the given precedence.
func (s *Store) SetMany(values map[string]interface{}, precedence Precedence) {
	for k, val := range values {
		s.Set(k, val, precedence)
	}
}

// SetManyFromFile loads a YAML mapping from raw bytes and records it at
// precedence, transparently decrypting the file first if it is a vault
// envelope and a vault password has been configured.
func (s *Store) SetManyFromFile(data []byte, precedence Precedence, source string) error {
	s.mu.RLock()
	password := s.vaultPassword
	s.mu.RUnlock()

	if vault.IsEncrypted(data) {
		if password == "" {
			return fmt.Errorf("vars: %s is vault-encrypted but no vault password is configured", source)
		}
		plain, err := vault.New(password).DecryptFile(data)
		if err != nil {
			return fmt.Errorf("vars: decrypt %s: %w", source, err)
		}
		data = plain
	}

	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("vars: parse %s: %w", source, err)
	}

	resolved, err := parseInlineVault(raw, password)
	if err != nil {
		return fmt.Errorf("vars: resolve inline vault values in %s: %w", source, err)
	}
	resolvedMap, _ := resolved.(map[string]interface{})

	for k, v := range resolvedMap {
		s.SetVariable(k, New(v, precedence).WithSource(source))
	}
	return nil
}

// parseInlineVault walks a decoded YAML value recursively, decrypting any
// "!vault |" scalar blocks it finds.
func parseInlineVault(value interface{}, password string) (interface{}, error) {
	switch v := value.(type) {
	case string:
		if vault.IsEncryptedString(v) {
			if password == "" {
				return nil, fmt.Errorf("inline vault value present but no vault password configured")
			}
			return vault.New(password).DecryptInline(v)
		}
		return v, nil
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			resolved, err := parseInlineVault(val, password)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			resolved, err := parseInlineVault(val, password)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// ensureMerged rebuilds the flattened view by walking precedence levels
// ascending and folding each layer's values on top of the accumulator
// according to hashBehaviour. Must be called with the lock held.
func (s *Store) ensureMerged() {
	if s.cacheValid {
		return
	}
	merged := make(map[string]interface{})
	for _, p := range All() {
		layer, ok := s.layers[p]
		if !ok {
			continue
		}
		keys := make([]string, 0, len(layer))
		for k := range layer {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if existing, ok := merged[k]; ok {
				merged[k] = deepMerge(existing, layer[k].Value, s.hashBehaviour)
			} else {
				merged[k] = layer[k].Value
			}
		}
	}
	s.mergedCache = merged
	s.cacheValid = true
}

// Get returns the merged, highest-precedence-resolved value for key.
func (s *Store) Get(key string) (interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureMerged()
	v, ok := s.mergedCache[key]
	return v, ok
}

// GetVariable returns the Variable recorded at the highest precedence
// level that defines key, without merging mapping values from lower
// levels — useful for provenance/debug output.
func (s *Store) GetVariable(key string) (Variable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	levels := All()
	for i := len(levels) - 1; i >= 0; i-- {
		if layer, ok := s.layers[levels[i]]; ok {
			if v, ok := layer[key]; ok {
				return v, true
			}
		}
	}
	return Variable{}, false
}

// Contains reports whether key is defined at any precedence.
func (s *Store) Contains(key string) bool {
	_, ok := s.GetVariable(key)
	return ok
}

// Remove deletes key from a specific precedence level.
func (s *Store) Remove(key string, precedence Precedence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if layer, ok := s.layers[precedence]; ok {
		delete(layer, key)
		s.cacheValid = false
	}
}

// ClearPrecedence empties an entire precedence level, e.g. when a new
// task's TaskVars replace the previous task's.
func (s *Store) ClearPrecedence(precedence Precedence) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.layers, precedence)
	s.cacheValid = false
}

// Clear empties the whole store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layers = make(map[Precedence]map[string]Variable)
	s.cacheValid = false
}

// All returns a flattened snapshot of every merged variable.
func (s *Store) All() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureMerged()
	out := make(map[string]interface{}, len(s.mergedCache))
	for k, v := range s.mergedCache {
		out[k] = v
	}
	return out
}

// Keys returns every variable name defined at any precedence, sorted.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureMerged()
	keys := make([]string, 0, len(s.mergedCache))
	for k := range s.mergedCache {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Scope opens a Scope overlay backed by this store's merged view.
func (s *Store) Scope() *Scope {
	return &Scope{parent: s, local: make(map[string]interface{})}
}
