package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/najoast/netsim/topology"
)

const validTopology = `
[[relay]]
id = 1
connected_node_ids = [2, 10, 20]
pdr = 0.0

[[relay]]
id = 2
connected_node_ids = [1, 10]
pdr = 0.2

[[responder]]
id = 10
connected_relay_ids = [1, 2]

[[originator]]
id = 20
connected_relay_ids = [1]
`

// syncBuffer is written by the watch loop and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func execute(ctx context.Context, args ...string) (string, error) {
	out := &syncBuffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return out.String(), err
}

func writeTopology(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(context.Background(), "version")
	require.NoError(t, err)
	assert.Equal(t, "netsim version "+version+"\n", out)

	out, err = execute(context.Background(), "version", "--json")
	require.NoError(t, err)
	var v map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &v))
	assert.Equal(t, version, v["version"])
}

func TestValidateCmd(t *testing.T) {
	path := writeTopology(t, validTopology)

	out, err := execute(context.Background(), "validate", "--topology", path)
	require.NoError(t, err)
	assert.Contains(t, out, "valid (2 relays, 1 originators, 1 responders)")

	out, err = execute(context.Background(), "validate", "--topology", path, "--json")
	require.NoError(t, err)
	var r validationReport
	require.NoError(t, json.Unmarshal([]byte(out), &r))
	assert.True(t, r.Valid)
	assert.Equal(t, 2, r.Relays)
}

func TestValidateCmdRejects(t *testing.T) {
	broken := strings.Replace(validTopology, "connected_node_ids = [1, 10]", "connected_node_ids = [10]", 1)
	path := writeTopology(t, broken)

	_, err := execute(context.Background(), "validate", "--topology", path)
	require.Error(t, err)
	assert.ErrorIs(t, err, topology.ErrAsymmetricEdge)
	assert.Contains(t, err.Error(), "one-sided connection")
	assert.NotContains(t, err.Error(), "\n")

	_, err = execute(context.Background(), "validate", "--topology", filepath.Join(t.TempDir(), "none.toml"))
	assert.Error(t, err)
}

func TestValidateCmdWatch(t *testing.T) {
	path := writeTopology(t, validTopology)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	cmd := newRootCmd()
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})
	cmd.SetArgs([]string{"validate", "--topology", path, "--watch"})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	require.Eventually(t, func() bool { return strings.Contains(out.String(), "valid (2 relays") }, 3*time.Second, 10*time.Millisecond)

	broken := strings.Replace(validTopology, "pdr = 0.2", "pdr = 2.0", 1)
	require.NoError(t, os.WriteFile(path, []byte(broken), 0o644))
	require.Eventually(t, func() bool { return strings.Contains(out.String(), "invalid") }, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("watch did not stop")
	}
}

func TestRunCmdRejectsInvalidTopology(t *testing.T) {
	path := writeTopology(t, strings.Replace(validTopology, "connected_relay_ids = [1, 2]", "connected_relay_ids = [1]", 1))
	cfgPath := filepath.Join(t.TempDir(), "netsim.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("frontend:\n  enabled: false\n  host: 127.0.0.1\nlog:\n  level: error\n"), 0o644))

	_, err := execute(context.Background(), "run", "--config", cfgPath, "--topology", path)
	assert.ErrorIs(t, err, topology.ErrDegreeViolation)
}

func TestRunCmdUntilCancelled(t *testing.T) {
	path := writeTopology(t, validTopology)
	cfgPath := filepath.Join(t.TempDir(), "netsim.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("frontend:\n  enabled: false\n  host: 127.0.0.1\nlog:\n  level: error\n"), 0o644))

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	_, err := execute(ctx, "run", "--config", cfgPath, "--topology", path, "--heterogeneous")
	assert.NoError(t, err)
}

func TestLogOutputFileIsReleased(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netsim.log")

	w, release := logOutput(path, newRootCmd())
	_, err := w.Write([]byte("line\n"))
	require.NoError(t, err)
	release()

	_, err = w.Write([]byte("late\n"))
	assert.ErrorIs(t, err, os.ErrClosed)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "line\n", string(data))

	w, release = logOutput("stdout", newRootCmd())
	assert.NotNil(t, w)
	assert.NotPanics(t, release)
}
