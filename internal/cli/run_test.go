package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type runHandle struct {
	addr   string
	out    *bytes.Buffer
	cancel context.CancelFunc
	done   chan error
}

// startService runs the sync service in the background until the test ends.
func startService(t *testing.T, opts *RunOptions) *runHandle {
	t.Helper()

	ready := make(chan string, 1)
	opts.Ready = ready
	if opts.HTTPAddr == "" {
		opts.HTTPAddr = "127.0.0.1:0"
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := &cobra.Command{}
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(ctx)

	h := &runHandle{out: out, cancel: cancel, done: make(chan error, 1)}
	go func() {
		h.done <- runService(opts, cmd)
	}()

	select {
	case h.addr = <-ready:
	case err := <-h.done:
		cancel()
		t.Fatalf("service exited before listening: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("service did not start")
	}

	t.Cleanup(func() {
		h.stop(t)
	})
	return h
}

func (h *runHandle) stop(t *testing.T) error {
	t.Helper()
	h.cancel()
	select {
	case err, ok := <-h.done:
		if ok {
			close(h.done)
		}
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
		return nil
	}
}

func getStatus(t *testing.T, addr string) map[string]any {
	t.Helper()
	resp, err := http.Get("http://" + addr + "/v1/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestRun_ServesAndSyncs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	h := startService(t, &RunOptions{RootOptions: &RootOptions{Format: "text", Database: dbPath}})

	status := getStatus(t, h.addr)
	assert.Equal(t, true, status["online"])

	// The startup cycle runs against the empty queue.
	require.Eventually(t, func() bool {
		_, ok := getStatus(t, h.addr)["last_cycle"]
		return ok
	}, 5*time.Second, 20*time.Millisecond)

	resp, err := http.Post("http://"+h.addr+"/v1/tasks", "application/json",
		strings.NewReader(`{"operation":"delete_entity","scope_id":"h1","entity_id":"d1"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Post("http://"+h.addr+"/v1/sync", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		s := getStatus(t, h.addr)
		last, _ := s["last_cycle"].(map[string]any)
		return s["pending"] == 0.0 && last["removed"] == 1.0
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, h.stop(t))
	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "database should be created")
	assert.Contains(t, h.out.String(), "Sync service started")
	assert.Contains(t, h.out.String(), "Control surface listening on http://"+h.addr)
}

func TestRun_OfflineKeepsTasksQueued(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")
	h := startService(t, &RunOptions{
		RootOptions: &RootOptions{Format: "text", Database: dbPath},
		Offline:     true,
	})

	resp, err := http.Post("http://"+h.addr+"/v1/tasks", "application/json",
		strings.NewReader(`{"operation":"delete_entity","scope_id":"h1","entity_id":"d1"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Post("http://"+h.addr+"/v1/sync", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()

	time.Sleep(100 * time.Millisecond)
	status := getStatus(t, h.addr)
	assert.Equal(t, false, status["online"])
	assert.Equal(t, 1.0, status["pending"])
	assert.NotContains(t, status, "last_cycle", "no cycle runs while offline")
}

func TestRun_NoHTTP(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	out := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetContext(ctx)

	opts := &RunOptions{
		RootOptions: &RootOptions{Format: "text", Database: filepath.Join(t.TempDir(), "queue.db")},
		NoHTTP:      true,
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- runService(opts, cmd)
	}()

	select {
	case err := <-errChan:
		// Context expiry is a clean stop.
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("command did not respect context timeout")
	}

	assert.Contains(t, out.String(), "Sync service started")
	assert.NotContains(t, out.String(), "Control surface")
}

func TestRun_InvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "hearth.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("sync:\n  refreshRate: -1\n"), 0o600))

	out, err := execute(t, "run", "--config", cfgPath, "--format", "json")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeConfig)
}

func TestRun_AddressInUse(t *testing.T) {
	h := startService(t, &RunOptions{RootOptions: &RootOptions{
		Format:   "text",
		Database: filepath.Join(t.TempDir(), "a.db"),
	}})

	out, err := execute(t, "run",
		"--db", filepath.Join(t.TempDir(), "b.db"),
		"--http", h.addr,
		"--format", "json",
	)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "failed to start control surface")
}

func TestRunHelpText(t *testing.T) {
	out, err := execute(t, "run", "--help")
	require.NoError(t, err)

	assert.Contains(t, out, "Start the long-running sync service")
	assert.Contains(t, out, "--http")
	assert.Contains(t, out, "--offline")
	assert.Contains(t, out, "--db")
}
