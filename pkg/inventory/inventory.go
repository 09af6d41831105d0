// Package inventory builds the ephemeral target mapping for one run and
// guarantees it is destroyed with the run. The on-disk form is a plain
// ansible INI host file, so the artifact is inspectable with standard
// tooling during the minutes it exists.
package inventory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fleetpatch/fleetpatch/pkg/types"
)

// Inventory is the addressable target set for one run. It must never
// outlive the run that created it.
type Inventory struct {
	Hosts []types.Host

	// Path of the ephemeral host file, empty after Teardown.
	Path string
}

// Build writes the run's host file under the system temp directory,
// readable by owner only, named after the run id.
func Build(runID string, hosts []types.Host, keyPath string) (*Inventory, error) {
	if len(hosts) == 0 {
		return nil, fmt.Errorf("no hosts to build inventory from")
	}

	path := filepath.Join(os.TempDir(), "fleetpatch-"+runID+".ini")

	var b strings.Builder
	b.WriteString("[all]\n")
	for _, host := range hosts {
		fmt.Fprintf(&b, "%s ansible_host=%s ansible_port=%d ansible_user=%s ansible_ssh_private_key_file=%s\n",
			host.Label(), host.Address, portOrDefault(host), host.Username, keyPath)
	}

	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return nil, fmt.Errorf("failed to write inventory file: %w", err)
	}

	return &Inventory{Hosts: hosts, Path: path}, nil
}

// Teardown makes the on-disk representation unreadable: the file is
// overwritten with zeros before being unlinked. Idempotent.
func (inv *Inventory) Teardown() error {
	if inv.Path == "" {
		return nil
	}
	info, err := os.Stat(inv.Path)
	if err != nil {
		if os.IsNotExist(err) {
			inv.Path = ""
			return nil
		}
		return err
	}
	if err := os.WriteFile(inv.Path, make([]byte, info.Size()), 0o600); err != nil {
		return fmt.Errorf("failed to overwrite inventory file: %w", err)
	}
	if err := os.Remove(inv.Path); err != nil {
		return err
	}
	inv.Path = ""
	return nil
}

func portOrDefault(h types.Host) int {
	if h.Port == 0 {
		return types.DefaultSSHPort
	}
	return h.Port
}
