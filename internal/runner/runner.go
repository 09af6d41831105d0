package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fleetpatch/fleetpatch/internal/orchestrator"
	"github.com/fleetpatch/fleetpatch/pkg/executor"
	"github.com/fleetpatch/fleetpatch/pkg/inventory"
	"github.com/fleetpatch/fleetpatch/pkg/retention"
	"github.com/fleetpatch/fleetpatch/pkg/sshkey"
	"github.com/fleetpatch/fleetpatch/pkg/types"
	"github.com/projectdiscovery/gologger"
	errorutil "github.com/projectdiscovery/utils/errors"
	fileutil "github.com/projectdiscovery/utils/file"
	sliceutil "github.com/projectdiscovery/utils/slice"
	"github.com/rs/xid"
	"golang.org/x/crypto/ssh"
)

// Runner contains the internal logic of the program
type Runner struct {
	options *Options
}

// NewRunner instance
func NewRunner(options *Options) (*Runner, error) {
	return &Runner{options: options}, nil
}

// Run executes one full patch run: ephemeral trust, prechecks, patching,
// reboot verification and teardown. It returns an error when any host
// ended failed or with residual access, so the process exits non-zero.
func (r *Runner) Run(ctx context.Context) error {
	hosts, err := r.targets()
	if err != nil {
		return errorutil.NewWithErr(err).Msgf("failed to build target list")
	}

	keep, err := retention.NewSelection(r.options.KeepKernels[0], r.options.KeepKernels[1])
	if err != nil {
		return err
	}
	gologger.Info().Msgf("keeping kernels %s and %s, booting %s", keep.First, keep.Second, keep.Newer())

	material, err := r.keyMaterial()
	if err != nil {
		return err
	}
	bootstrapSigner, err := sshkey.LoadPrivateKey(material)
	if err != nil {
		return err
	}
	bootstrapPath, err := sshkey.WriteEphemeralKey(material)
	if err != nil {
		return err
	}

	cred, err := sshkey.EnsureControlKey(r.options.KeyDir)
	if err != nil {
		return err
	}

	exec := executor.NewSSH([]ssh.Signer{cred.Signer, bootstrapSigner})
	keys := sshkey.NewManager(exec, cred, bootstrapPath, time.Duration(r.options.CommandTimeout)*time.Second)
	// backstop: the orchestrator shreds the bootstrap key at its terminal
	// barrier, this covers early returns
	defer func() {
		if err := keys.Destroy(); err != nil {
			gologger.Error().Msgf("failed to shred bootstrap key: %s", err)
		}
	}()

	runID := xid.New().String()
	inv, err := inventory.Build(runID, hosts, bootstrapPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := inv.Teardown(); err != nil {
			gologger.Error().Msgf("failed to tear down inventory: %s", err)
		}
	}()

	gologger.Info().Msgf("run %s: patching %d hosts with concurrency %d", runID, len(inv.Hosts), r.options.Concurrency)

	orch := orchestrator.New(exec, keys, orchestrator.Options{
		Keep:           keep,
		Concurrency:    r.options.Concurrency,
		CommandTimeout: time.Duration(r.options.CommandTimeout) * time.Second,
		PatchTimeout:   time.Duration(r.options.PatchTimeout) * time.Second,
		RebootGrace:    time.Duration(r.options.RebootGrace) * time.Second,
		RebootBudget:   time.Duration(r.options.RebootWait) * time.Second,
	})

	result, err := orch.Run(ctx, runID, inv.Hosts)
	if err != nil {
		return err
	}

	r.printReport(result)

	if result.ResidualAccess() {
		return fmt.Errorf("control key still authorized on one or more hosts, remove it manually")
	}
	if result.Failed() {
		return fmt.Errorf("%d of %d hosts failed", len(result.Hosts)-result.Succeeded(), len(result.Hosts))
	}
	return nil
}

// Close the runner instance
func (r *Runner) Close() {}

// targets assembles the host list from flags or an inventory file.
func (r *Runner) targets() ([]types.Host, error) {
	if r.options.InventoryFile != "" {
		f, err := os.Open(r.options.InventoryFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return inventory.Parse(f, r.options.Username)
	}

	addrs := sliceutil.Dedupe([]string(r.options.Hosts))
	hosts := make([]types.Host, 0, len(addrs))
	for _, addr := range addrs {
		hosts = append(hosts, types.Host{
			Name:     addr,
			Address:  addr,
			Port:     types.DefaultSSHPort,
			Username: r.options.Username,
		})
	}
	return hosts, nil
}

// keyMaterial reads the operator-provided private key from the key file
// or stdin, terminated by end-of-input.
func (r *Runner) keyMaterial() ([]byte, error) {
	if r.options.KeyFile != "" {
		return os.ReadFile(r.options.KeyFile)
	}
	if !fileutil.HasStdin() {
		return nil, fmt.Errorf("no private key: pass -key-file or pipe the key on stdin")
	}
	gologger.Info().Msgf("reading private key from stdin")
	return io.ReadAll(os.Stdin)
}
