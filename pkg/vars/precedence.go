// Package vars implements the layered variable store: twenty ordered
// precedence levels merged on read, deep-merge semantics for mapping
// values, and an immutable-overlay Scope for per-task local bindings.
package vars

// Precedence orders the sources a variable can come from, lowest first.
// Values set at a higher precedence always win on read, regardless of
// the order calls were made in.
type Precedence int

const (
	RoleDefaults Precedence = iota + 1
	InventoryGroupVars
	InventoryFileGroupVars
	PlaybookGroupVarsAll
	PlaybookGroupVars
	InventoryHostVars
	InventoryFileHostVars
	PlaybookHostVars
	HostFacts
	PlayVars
	PlayVarsPrompt
	PlayVarsFiles
	RoleVars
	BlockVars
	TaskVars
	IncludeVars
	SetFacts
	RoleParams
	IncludeParams
	ExtraVars
)

// All returns every precedence level in ascending (lowest-wins-first) order.
func All() []Precedence {
	return []Precedence{
		RoleDefaults,
		InventoryGroupVars,
		InventoryFileGroupVars,
		PlaybookGroupVarsAll,
		PlaybookGroupVars,
		InventoryHostVars,
		InventoryFileHostVars,
		PlaybookHostVars,
		HostFacts,
		PlayVars,
		PlayVarsPrompt,
		PlayVarsFiles,
		RoleVars,
		BlockVars,
		TaskVars,
		IncludeVars,
		SetFacts,
		RoleParams,
		IncludeParams,
		ExtraVars,
	}
}

// Level returns the numeric rank of the precedence, matching its position
// in All() (1-indexed so zero value never collides with a real level).
func (p Precedence) Level() int { return int(p) }

func (p Precedence) String() string {
	switch p {
	case RoleDefaults:
		return "role_defaults"
	case InventoryGroupVars:
		return "inventory_group_vars"
	case InventoryFileGroupVars:
		return "inventory_file_group_vars"
	case PlaybookGroupVarsAll:
		return "playbook_group_vars_all"
	case PlaybookGroupVars:
		return "playbook_group_vars"
	case InventoryHostVars:
		return "inventory_host_vars"
	case InventoryFileHostVars:
		return "inventory_file_host_vars"
	case PlaybookHostVars:
		return "playbook_host_vars"
	case HostFacts:
		return "host_facts"
	case PlayVars:
		return "play_vars"
	case PlayVarsPrompt:
		return "play_vars_prompt"
	case PlayVarsFiles:
		return "play_vars_files"
	case RoleVars:
		return "role_vars"
	case BlockVars:
		return "block_vars"
	case TaskVars:
		return "task_vars"
	case IncludeVars:
		return "include_vars"
	case SetFacts:
		return "set_facts"
	case RoleParams:
		return "role_params"
	case IncludeParams:
		return "include_params"
	case ExtraVars:
		return "extra_vars"
	default:
		return "unknown"
	}
}
