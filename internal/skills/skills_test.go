package skills

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/saorsa-labs/fae/internal/wire"
)

// echoScript speaks just enough of the skill wire for the tests. It answers
// handshake/health/shutdown and replies to anything else with one
// notification followed by a result.
const echoScript = `#!/bin/sh
while read line; do
  id=$(printf '%s' "$line" | sed -n 's/.*"id":\([0-9]*\).*/\1/p')
  case "$line" in
    *skill.handshake*) printf '{"jsonrpc":"2.0","result":{"name":"echo","version":"1.0","protocol":1},"id":%s}\n' "$id";;
    *skill.health*)    printf '{"jsonrpc":"2.0","result":{"status":"ok"},"id":%s}\n' "$id";;
    *skill.shutdown*)  printf '{"jsonrpc":"2.0","result":{"status":"bye"},"id":%s}\n' "$id"; exit 0;;
    *skill.slow*)      sleep 30;;
    *) printf '{"jsonrpc":"2.0","method":"progress","params":{"pct":50}}\n'
       printf '{"jsonrpc":"2.0","result":{"ok":true},"id":%s}\n' "$id";;
  esac
done
`

const crashScript = "#!/bin/sh\nexit 1\n"

func writeSkill(t *testing.T, root, id, script string) string {
	t.Helper()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := `{"id":"` + id + `","version":"1.0.0","entry_file":"main.sh"}`
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.sh"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func echoSkill(t *testing.T) *ManagedSkill {
	t.Helper()
	dir := writeSkill(t, t.TempDir(), "echo", echoScript)
	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	return &ManagedSkill{Manifest: m, Dir: dir, State: StateActive}
}

func TestLoadManifestMissingEntryFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "broken")
	os.MkdirAll(dir, 0o755)
	os.WriteFile(filepath.Join(dir, ManifestFile), []byte(`{"id":"x","entry_file":"gone.sh"}`), 0o644)
	if _, err := LoadManifest(dir); err == nil {
		t.Fatal("expected error for missing entry file")
	}
}

func TestLibraryScanPreservesQuarantine(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "alpha", echoScript)
	lib := NewLibrary(root)
	if err := lib.Scan(); err != nil {
		t.Fatal(err)
	}
	lib.Quarantine("alpha", "boom")
	if err := lib.Scan(); err != nil {
		t.Fatal(err)
	}
	sk, ok := lib.Get("alpha")
	if !ok {
		t.Fatal("alpha missing after rescan")
	}
	if sk.State != StateQuarantined || sk.LastError != "boom" {
		t.Errorf("state = %s, err = %q", sk.State, sk.LastError)
	}
}

func TestProcessLifecycle(t *testing.T) {
	p := NewProcess(echoSkill(t), "/bin/sh", nil)
	ctx := context.Background()

	if err := p.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if p.State() != ProcRunning {
		t.Fatalf("state = %s", p.State())
	}

	result, notes, err := p.Invoke(ctx, "skill.invoke", map[string]any{"x": 1}, 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	var out map[string]bool
	if err := json.Unmarshal(result, &out); err != nil || !out["ok"] {
		t.Errorf("result = %s (%v)", result, err)
	}
	if len(notes) != 1 || notes[0].Method != "progress" {
		t.Errorf("notifications = %+v", notes)
	}

	h, err := p.Health(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if h.Status != "ok" {
		t.Errorf("health = %+v", h)
	}

	p.Shutdown(ctx)
	if p.State() != ProcStopped {
		t.Errorf("state after shutdown = %s", p.State())
	}
}

func TestProcessInvokeTimeoutKillsProcess(t *testing.T) {
	p := NewProcess(echoSkill(t), "/bin/sh", nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	_, _, err := p.Invoke(context.Background(), "skill.slow", nil, 100*time.Millisecond)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if p.State() != ProcFailed {
		t.Errorf("state = %s", p.State())
	}
}

// A timeout failure must land in Failed, not Stopped, so the restart budget
// sees it and Reset can relaunch.
func TestProcessTimeoutFailureIsResettable(t *testing.T) {
	p := NewProcess(echoSkill(t), "/bin/sh", nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	_, _, err := p.Invoke(context.Background(), "skill.slow", nil, 100*time.Millisecond)
	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if err := p.Reset(); err != nil {
		t.Fatalf("reset after timeout: %v", err)
	}
	if p.State() != ProcPending {
		t.Errorf("state after reset = %s", p.State())
	}
}

// Once a process is Stopped, a straggling failure report must not move it.
func TestProcessLateFailureAfterCloseKeepsStopped(t *testing.T) {
	p := NewProcess(echoSkill(t), "/bin/sh", nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	p.Close()
	if p.State() != ProcStopped {
		t.Fatalf("state after close = %s", p.State())
	}
	p.markFailed(errors.New("late read error"))
	if p.State() != ProcStopped {
		t.Errorf("stopped process moved to %s", p.State())
	}
}

func TestProcessCloseReapsChild(t *testing.T) {
	p := NewProcess(echoSkill(t), "/bin/sh", nil)
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	cmd := p.cmd
	p.Close()
	if cmd.ProcessState == nil {
		t.Error("child not reaped after Close")
	}
}

func TestProcessHandshakeFailureOnCrash(t *testing.T) {
	dir := writeSkill(t, t.TempDir(), "crash", crashScript)
	m, err := LoadManifest(dir)
	if err != nil {
		t.Fatal(err)
	}
	p := NewProcess(&ManagedSkill{Manifest: m, Dir: dir, State: StateActive}, "/bin/sh", nil)
	if err := p.Start(context.Background()); err == nil {
		t.Fatal("expected handshake failure")
	}
	if p.State() != ProcFailed {
		t.Errorf("state = %s", p.State())
	}
}

func TestIllegalTransitionRejected(t *testing.T) {
	p := NewProcess(echoSkill(t), "/bin/sh", nil)
	// Pending -> Pending is not in the table.
	if err := p.Reset(); err == nil || !strings.Contains(err.Error(), "illegal transition") {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(p.Reset(), wire.ErrProtocol) {
		t.Error("transition error should wrap the protocol error")
	}
}

func TestSupervisorQuarantinesAfterBudget(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "flaky", crashScript)
	lib := NewLibrary(root)
	if err := lib.Scan(); err != nil {
		t.Fatal(err)
	}

	sup := NewSupervisor(lib, nil, "/bin/sh", nil)
	sup.SetBudget(RestartBudget{Max: 2, Window: time.Hour})

	ctx := context.Background()
	// Initial start plus two budgeted restarts all fail.
	for i := 0; i < 3; i++ {
		if _, _, err := sup.Invoke(ctx, "flaky", "skill.invoke", nil, time.Second); err == nil {
			t.Fatalf("attempt %d unexpectedly succeeded", i)
		}
	}
	// The next attempt exceeds the budget and quarantines.
	_, _, err := sup.Invoke(ctx, "flaky", "skill.invoke", nil, time.Second)
	if err == nil || !strings.Contains(err.Error(), "quarantined") {
		t.Fatalf("err = %v", err)
	}
	sk, _ := lib.Get("flaky")
	if sk.State != StateQuarantined {
		t.Errorf("state = %s", sk.State)
	}

	// Quarantined skills never auto-start.
	if _, _, err := sup.Invoke(ctx, "flaky", "skill.invoke", nil, time.Second); err == nil {
		t.Error("quarantined skill was started")
	}
}

func TestSupervisorRestartWindowSlides(t *testing.T) {
	root := t.TempDir()
	writeSkill(t, root, "flaky", crashScript)
	lib := NewLibrary(root)
	if err := lib.Scan(); err != nil {
		t.Fatal(err)
	}

	sup := NewSupervisor(lib, nil, "/bin/sh", nil)
	sup.SetBudget(RestartBudget{Max: 1, Window: time.Minute})
	clock := time.Now()
	sup.now = func() time.Time { return clock }

	ctx := context.Background()
	sup.Invoke(ctx, "flaky", "skill.invoke", nil, time.Second) // initial start
	sup.Invoke(ctx, "flaky", "skill.invoke", nil, time.Second) // restart 1/1

	// Outside the window the budget is fresh again.
	clock = clock.Add(2 * time.Minute)
	if _, _, err := sup.Invoke(ctx, "flaky", "skill.invoke", nil, time.Second); err != nil && strings.Contains(err.Error(), "quarantined") {
		t.Fatalf("budget did not slide: %v", err)
	}
	sk, _ := lib.Get("flaky")
	if sk.State == StateQuarantined {
		t.Error("skill quarantined despite fresh window")
	}
}

func TestLibraryWatchRescans(t *testing.T) {
	root := t.TempDir()
	lib := NewLibrary(root)
	if err := lib.Scan(); err != nil {
		t.Fatal(err)
	}

	changed := make(chan struct{}, 4)
	lib.OnChange = func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	stop := make(chan struct{})
	defer close(stop)
	if err := lib.Watch(stop); err != nil {
		t.Fatal(err)
	}

	writeSkill(t, root, "fresh", echoScript)

	deadline := time.After(3 * time.Second)
	for {
		if _, ok := lib.Get("fresh"); ok {
			return
		}
		select {
		case <-changed:
		case <-deadline:
			t.Fatal("watcher never picked up the new skill")
		case <-time.After(50 * time.Millisecond):
		}
	}
}
