package vars

import (
	"context"
	"strings"

	"github.com/liliang-cn/gosinble/pkg/types"
)

// GatherFacts runs a small set of portable commands over conn and returns
// them as a flat fact map suitable for recording at the HostFacts
// precedence level. It never fails hard: a command that errors simply
// omits that fact, since fact gathering is best-effort by design.
func GatherFacts(ctx context.Context, conn types.Connection) map[string]interface{} {
	facts := make(map[string]interface{})

	run := func(cmd string) (string, bool) {
		res, err := conn.Execute(ctx, cmd, types.ExecOptions{})
		if err != nil || !res.Success() {
			return "", false
		}
		return strings.TrimSpace(res.Stdout), true
	}

	if hostname, ok := run("hostname"); ok {
		facts["ansible_hostname"] = hostname
	}
	if kernel, ok := run("uname -s"); ok {
		facts["ansible_system"] = kernel
	}
	if arch, ok := run("uname -m"); ok {
		facts["ansible_architecture"] = arch
	}
	if kernelRelease, ok := run("uname -r"); ok {
		facts["ansible_kernel"] = kernelRelease
	}
	if user, ok := run("whoami"); ok {
		facts["ansible_user_id"] = user
	}
	if home, ok := run("sh -c 'echo $HOME'"); ok {
		facts["ansible_env_home"] = home
	}

	facts["ansible_connection_gathered"] = len(facts) > 0
	return facts
}
