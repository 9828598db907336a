package sandbox

import (
	"context"
	"os"
	"os/exec"
	"syscall"
)

// Sandbox runs the pre-flight checks on every spawn and spawns
// authorised executables under its profile. Canonicalisation is memoised across
// spawns sharing the same Sandbox instance.
type Sandbox struct {
	profile Profile
	cache   *canonCache

	// UnshareNetwork opts into a real network-namespace isolation
	// primitive when NetworkPolicy denies networking. Off by default:
	// it requires CAP_SYS_ADMIN, which most daemon deployments lack.
	UnshareNetwork bool
}

// New returns a Sandbox bound to profile.
func New(profile Profile) *Sandbox {
	return &Sandbox{profile: profile, cache: newCanonCache()}
}

// Command builds an *exec.Cmd for program+args after running the
// pre-flight checks, with stdio left for the caller to wire, and with
// the environment filtered per the profile's EnvironmentPolicy.
func (s *Sandbox) Command(ctx context.Context, program string, args ...string) (*exec.Cmd, error) {
	canon, err := Preflight(s.profile, s.cache, program)
	if err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, canon, args...)
	cmd.Env = s.filteredEnv()
	if s.profile.NetworkPolicy == NetworkDeny && s.UnshareNetwork {
		// Requires CAP_SYS_ADMIN; left opt-in since most daemon
		// deployments run unprivileged and the preflight authorisation
		// check is the hard gate regardless.
		cmd.SysProcAttr = &syscall.SysProcAttr{Cloneflags: syscall.CLONE_NEWNET}
	}
	return cmd, nil
}

func (s *Sandbox) filteredEnv() []string {
	switch s.profile.EnvironmentPolicy {
	case EnvInheritAll:
		return os.Environ()
	case EnvAllowList:
		allow := make(map[string]struct{}, len(s.profile.AllowListKeys))
		for _, k := range s.profile.AllowListKeys {
			allow[k] = struct{}{}
		}
		// Non-nil even when empty: a nil Env makes exec inherit the
		// parent's whole environment.
		filtered := []string{}
		for _, kv := range os.Environ() {
			for k := range allow {
				if len(kv) > len(k) && kv[:len(k)] == k && kv[len(k)] == '=' {
					filtered = append(filtered, kv)
					break
				}
			}
		}
		return filtered
	default: // EnvIsolated
		return []string{}
	}
}
