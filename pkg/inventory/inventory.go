// Package inventory provides host and group management, loaded from
// Ansible-style YAML inventory files and resolved against the
// types.Inventory contract the scheduler consumes.
package inventory

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// group is the internal representation of one inventory group.
type group struct {
	Name     string
	Hosts    []string
	Children []string
	Vars     map[string]interface{}
}

// StaticInventory implements types.Inventory against statically loaded
// host and group data.
type StaticInventory struct {
	mu     sync.RWMutex
	hosts  map[string]types.Host
	groups map[string]*group
}

// fileGroup mirrors one "children" entry in an Ansible-style inventory file.
type fileGroup struct {
	Hosts    map[string]map[string]interface{} `yaml:"hosts,omitempty"`
	Vars     map[string]interface{}            `yaml:"vars,omitempty"`
	Children map[string]fileGroup              `yaml:"children,omitempty"`
}

type inventoryFile struct {
	All struct {
		Hosts    map[string]map[string]interface{} `yaml:"hosts,omitempty"`
		Vars     map[string]interface{}            `yaml:"vars,omitempty"`
		Children map[string]fileGroup              `yaml:"children,omitempty"`
	} `yaml:"all"`
}

// New returns an empty inventory.
func New() *StaticInventory {
	return &StaticInventory{
		hosts:  make(map[string]types.Host),
		groups: make(map[string]*group),
	}
}

// LoadFile parses an Ansible-style YAML inventory file.
func LoadFile(path string) (*StaticInventory, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &types.ConfigError{Key: path, Message: "open inventory file: " + err.Error()}
	}
	defer f.Close()
	return LoadReader(f)
}

// LoadReader parses an Ansible-style YAML inventory document from r.
func LoadReader(r io.Reader) (*StaticInventory, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &types.ConfigError{Key: "inventory", Message: "read inventory: " + err.Error()}
	}
	return LoadYAML(data)
}

// LoadYAML parses an Ansible-style YAML inventory document.
func LoadYAML(data []byte) (*StaticInventory, error) {
	var doc inventoryFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &types.ConfigError{Key: "inventory", Message: "parse yaml: " + err.Error()}
	}

	inv := New()
	inv.addHostsAndGroup("all", doc.All.Hosts, doc.All.Vars)
	for name, g := range doc.All.Children {
		inv.loadGroup(name, g, "all")
	}
	return inv, nil
}

func (inv *StaticInventory) loadGroup(name string, g fileGroup, parent string) {
	inv.addHostsAndGroup(name, g.Hosts, g.Vars)
	inv.mu.Lock()
	if parent != "" {
		if pg, ok := inv.groups[parent]; ok && !contains(pg.Children, name) {
			pg.Children = append(pg.Children, name)
		}
	}
	inv.mu.Unlock()
	for childName, child := range g.Children {
		inv.loadGroup(childName, child, name)
	}
}

func (inv *StaticInventory) addHostsAndGroup(name string, hostVars map[string]map[string]interface{}, vars map[string]interface{}) {
	inv.mu.Lock()
	g, ok := inv.groups[name]
	if !ok {
		g = &group{Name: name, Vars: make(map[string]interface{})}
		inv.groups[name] = g
	}
	for k, v := range vars {
		g.Vars[k] = v
	}
	inv.mu.Unlock()

	for hostName, vars := range hostVars {
		host := types.Host{Name: hostName, Vars: vars}
		if host.Vars == nil {
			host.Vars = make(map[string]interface{})
		}
		inv.AddHost(host)
		inv.mu.Lock()
		if !contains(g.Hosts, hostName) {
			g.Hosts = append(g.Hosts, hostName)
		}
		h := inv.hosts[hostName]
		if !contains(h.Groups, name) {
			h.Groups = append(h.Groups, name)
			inv.hosts[hostName] = h
		}
		inv.mu.Unlock()
	}
}

// AddHost registers or replaces a host.
func (inv *StaticInventory) AddHost(host types.Host) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if host.Vars == nil {
		host.Vars = make(map[string]interface{})
	}
	if host.Groups == nil {
		host.Groups = make([]string, 0)
	}
	inv.hosts[host.Name] = host
}

// AddGroup registers or replaces a group's host/var membership.
func (inv *StaticInventory) AddGroup(name string, hosts []string, vars map[string]interface{}) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	g, ok := inv.groups[name]
	if !ok {
		g = &group{Name: name}
		inv.groups[name] = g
	}
	g.Hosts = hosts
	g.Vars = vars
}

// ResolvePattern implements types.Inventory: an Ansible-style host
// pattern (comma-separated host names, group names, globs, and ranges)
// resolves to the union of every matching host, minus the hosts matched
// by a "!"-prefixed term, deduplicated and sorted by host name.
func (inv *StaticInventory) ResolvePattern(pattern string) ([]types.Host, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	if pattern == "" || pattern == "all" || pattern == "*" {
		names := make([]string, 0, len(inv.hosts))
		for n := range inv.hosts {
			names = append(names, n)
		}
		sort.Strings(names)
		out := make([]types.Host, 0, len(names))
		for _, n := range names {
			out = append(out, inv.hosts[n])
		}
		return out, nil
	}

	seen := make(map[string]struct{})
	var out []types.Host
	for _, term := range strings.Split(pattern, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		negate := strings.HasPrefix(term, "!")
		if negate {
			term = strings.TrimPrefix(term, "!")
		}

		expanded, err := ExpandPattern(term)
		if err != nil {
			return nil, err
		}
		for _, candidate := range expanded {
			for name, host := range inv.hosts {
				if !matchName(candidate, name) && !inv.inGroup(name, candidate) {
					continue
				}
				if negate {
					delete(seen, name)
					continue
				}
				if _, dup := seen[name]; dup {
					continue
				}
				seen[name] = struct{}{}
				out = append(out, host)
			}
		}
	}
	kept := make([]types.Host, 0, len(seen))
	for _, h := range out {
		if _, ok := seen[h.Name]; ok {
			kept = append(kept, h)
			delete(seen, h.Name)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Name < kept[j].Name })
	return kept, nil
}

func (inv *StaticInventory) inGroup(host, groupPattern string) bool {
	var walk func(name string) bool
	visited := make(map[string]struct{})
	walk = func(name string) bool {
		if _, ok := visited[name]; ok {
			return false
		}
		visited[name] = struct{}{}
		g, ok := inv.groups[name]
		if !ok {
			return false
		}
		if contains(g.Hosts, host) {
			return true
		}
		for _, child := range g.Children {
			if walk(child) {
				return true
			}
		}
		return false
	}
	for name := range inv.groups {
		if matchName(groupPattern, name) && walk(name) {
			return true
		}
	}
	return false
}

func matchName(pattern, name string) bool {
	if pattern == name {
		return true
	}
	re, err := globToRegexp(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(name)
}

func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '.', '+', '(', ')', '[', ']', '{', '}', '^', '$', '|', '\\':
			b.WriteString(regexp.QuoteMeta(string(r)))
		default:
			b.WriteRune(r)
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// HostVars implements types.Inventory: the vars of each group named in
// the host's Groups, applied in that order, then the host's own vars.
// Keys are overwritten whole, not deep-merged: a later group wins over an
// earlier one and host vars win over every group. inventory_hostname and
// inventory_hostname_short are always set.
func (inv *StaticInventory) HostVars(hostName string) map[string]interface{} {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	result := make(map[string]interface{})
	host, ok := inv.hosts[hostName]
	if !ok {
		return result
	}
	for _, groupName := range host.Groups {
		if g, ok := inv.groups[groupName]; ok {
			for k, v := range g.Vars {
				result[k] = v
			}
		}
	}
	for k, v := range host.Vars {
		result[k] = v
	}
	result["inventory_hostname"] = host.Name
	result["inventory_hostname_short"] = strings.SplitN(host.Name, ".", 2)[0]
	return result
}

// GroupVars implements types.Inventory.
func (inv *StaticInventory) GroupVars(groupName string) map[string]interface{} {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	result := make(map[string]interface{})
	if g, ok := inv.groups[groupName]; ok {
		for k, v := range g.Vars {
			result[k] = v
		}
	}
	return result
}

// GroupsOf implements types.Inventory.
func (inv *StaticInventory) GroupsOf(hostName string) []string {
	inv.mu.RLock()
	defer inv.mu.RUnlock()
	host, ok := inv.hosts[hostName]
	if !ok {
		return nil
	}
	out := make([]string, len(host.Groups))
	copy(out, host.Groups)
	return out
}

func contains(slice []string, value string) bool {
	for _, v := range slice {
		if v == value {
			return true
		}
	}
	return false
}

// ExpandPattern expands a single pattern term like "web[1:5].example.com"
// or "web{a,b,c}.example.com" into the literal names it denotes. A term
// with no range/list syntax expands to itself.
func ExpandPattern(pattern string) ([]string, error) {
	rangeRegex := regexp.MustCompile(`^(.*)\[(\d+):(\d+)\](.*)$`)
	if m := rangeRegex.FindStringSubmatch(pattern); m != nil {
		prefix, startStr, endStr, suffix := m[1], m[2], m[3], m[4]
		var start, end int
		if _, err := fmt.Sscanf(startStr, "%d", &start); err != nil {
			return nil, &types.ConfigError{Key: pattern, Message: "invalid range start"}
		}
		if _, err := fmt.Sscanf(endStr, "%d", &end); err != nil {
			return nil, &types.ConfigError{Key: pattern, Message: "invalid range end"}
		}
		if start > end {
			return nil, &types.ConfigError{Key: pattern, Message: "range start greater than end"}
		}
		width := len(startStr)
		leadingZero := width > 1 && startStr[0] == '0'
		var out []string
		for i := start; i <= end; i++ {
			if leadingZero {
				out = append(out, fmt.Sprintf("%s%0*d%s", prefix, width, i, suffix))
			} else {
				out = append(out, fmt.Sprintf("%s%d%s", prefix, i, suffix))
			}
		}
		return out, nil
	}

	listRegex := regexp.MustCompile(`^(.*)\{([^}]+)\}(.*)$`)
	if m := listRegex.FindStringSubmatch(pattern); m != nil {
		prefix, list, suffix := m[1], m[2], m[3]
		var out []string
		for _, item := range strings.Split(list, ",") {
			out = append(out, prefix+strings.TrimSpace(item)+suffix)
		}
		return out, nil
	}

	return []string{pattern}, nil
}

// ToYAML serializes the inventory to Ansible-style YAML for inspection.
// Every host is written under all.hosts and every group under
// all.children with its vars only; a group's hosts and children are not
// written, so loading the output does not restore group membership.
func (inv *StaticInventory) ToYAML() ([]byte, error) {
	inv.mu.RLock()
	defer inv.mu.RUnlock()

	var doc inventoryFile
	doc.All.Hosts = make(map[string]map[string]interface{})
	for name, h := range inv.hosts {
		doc.All.Hosts[name] = h.Vars
	}
	doc.All.Children = make(map[string]fileGroup)
	for name, g := range inv.groups {
		if name == "all" {
			continue
		}
		doc.All.Children[name] = fileGroup{Vars: g.Vars}
	}
	return yaml.Marshal(doc)
}
