package plugin

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leynos/weaverd/internal/obslog"
	"github.com/leynos/weaverd/internal/sandbox"
)

// Broker resolves manifests by name and runs their one-shot stdio
// invocation through a sandbox.
type Broker struct {
	registry  *Registry
	sandbox   *sandbox.Sandbox
	contracts map[CapabilityID]*Contract
}

// NewBroker binds a registry and sandbox together. RegisterContract
// adds capability contracts after construction.
func NewBroker(registry *Registry, sb *sandbox.Sandbox) *Broker {
	return &Broker{registry: registry, sandbox: sb, contracts: make(map[CapabilityID]*Contract)}
}

// RegisterContract binds a contract to its capability.
func (b *Broker) RegisterContract(c *Contract) {
	b.contracts[c.Capability] = c
}

// ErrorKind enumerates broker failure modes, each attaching the
// plugin's name.
type ErrorKind string

const (
	ErrNotFound      ErrorKind = "not_found"
	ErrInvalidOutput ErrorKind = "invalid_output"
	ErrTimeout       ErrorKind = "timeout"
	ErrNonZeroExit   ErrorKind = "non_zero_exit"
	ErrSpawnFailed   ErrorKind = "spawn_failed"
)

// Error is a typed broker failure, always naming the plugin.
type Error struct {
	Kind       ErrorKind
	Plugin     string
	TimeoutSec int
	ExitStatus int
	Cause      error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrNotFound:
		return fmt.Sprintf("plugin %q: not found", e.Plugin)
	case ErrTimeout:
		return fmt.Sprintf("plugin %q: timed out after %ds", e.Plugin, e.TimeoutSec)
	case ErrNonZeroExit:
		return fmt.Sprintf("plugin %q: exited %d without a response", e.Plugin, e.ExitStatus)
	case ErrSpawnFailed:
		return fmt.Sprintf("plugin %q: spawn failed: %v", e.Plugin, e.Cause)
	default:
		return fmt.Sprintf("plugin %q: invalid output: %v", e.Plugin, e.Cause)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Invoke runs one plugin request-response round-trip: resolve the
// manifest, validate the request against any registered contract, spawn
// the executable under the sandbox, write one JSONL request line, and
// read one JSONL response line within the manifest's timeout.
func (b *Broker) Invoke(ctx context.Context, name, capability string, req *Request) (*Response, error) {
	m, ok := b.registry.ByName(name)
	if !ok {
		return nil, &Error{Kind: ErrNotFound, Plugin: name}
	}

	if contract, ok := b.contracts[CapabilityID(capability)]; ok {
		if err := contract.ValidateRequest(req); err != nil {
			return nil, &Error{Kind: ErrInvalidOutput, Plugin: name, Cause: err}
		}
	}

	timeout := time.Duration(m.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd, err := b.sandbox.Command(runCtx, m.Executable, m.Args...)
	if err != nil {
		return nil, &Error{Kind: ErrSpawnFailed, Plugin: name, Cause: err}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &Error{Kind: ErrSpawnFailed, Plugin: name, Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &Error{Kind: ErrSpawnFailed, Plugin: name, Cause: err}
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, &Error{Kind: ErrSpawnFailed, Plugin: name, Cause: err}
	}

	data, err := json.Marshal(req)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, &Error{Kind: ErrInvalidOutput, Plugin: name, Cause: err}
	}
	if _, err := stdin.Write(append(data, '\n')); err != nil {
		_ = cmd.Process.Kill()
		return nil, &Error{Kind: ErrSpawnFailed, Plugin: name, Cause: err}
	}
	_ = stdin.Close()

	type lineResult struct {
		line []byte
		err  error
	}
	lineCh := make(chan lineResult, 1)
	go func() {
		scanner := bufio.NewScanner(stdout)
		if scanner.Scan() {
			lineCh <- lineResult{line: scanner.Bytes()}
			return
		}
		lineCh <- lineResult{err: scanner.Err()}
	}()

	var respLine []byte
	select {
	case res := <-lineCh:
		respLine = res.line
	case <-runCtx.Done():
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return nil, &Error{Kind: ErrTimeout, Plugin: name, TimeoutSec: m.TimeoutSecs}
	}

	waitErr := cmd.Wait()
	if stderr.Len() > 0 {
		obslog.Get(obslog.CategoryPlugin).Warn("plugin %s stderr: %s", name, stderr.String())
	}

	if len(respLine) == 0 {
		if waitErr != nil {
			return nil, &Error{Kind: ErrNonZeroExit, Plugin: name, ExitStatus: cmd.ProcessState.ExitCode()}
		}
		// Clean exit but nothing on stdout: an empty line is not a valid
		// response, so this is a protocol violation, not a process failure.
		return nil, &Error{Kind: ErrInvalidOutput, Plugin: name, Cause: fmt.Errorf("empty response with clean exit")}
	}

	var resp Response
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return nil, &Error{Kind: ErrInvalidOutput, Plugin: name, Cause: err}
	}

	if contract, ok := b.contracts[CapabilityID(capability)]; ok && resp.Success {
		if err := contract.ValidateResponse(&resp); err != nil {
			return nil, &Error{Kind: ErrInvalidOutput, Plugin: name, Cause: err}
		}
	}

	return &resp, nil
}
