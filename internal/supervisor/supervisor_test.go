package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/randomizedcoder/go-chainsim-supervisor/internal/logging"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/process"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/relay"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/rpc"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/simulator"
	"github.com/randomizedcoder/go-chainsim-supervisor/internal/workspace"
)

// =============================================================================
// Test Helpers
// =============================================================================

// fakeSimulator answers the control-plane API and records request paths.
type fakeSimulator struct {
	mu    sync.Mutex
	paths []string
	code  string
}

func (f *fakeSimulator) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	io.Copy(io.Discard, r.Body)

	f.mu.Lock()
	f.paths = append(f.paths, r.URL.Path)
	code := f.code
	f.mu.Unlock()
	if code == "" {
		code = rpc.CodeSuccessful
	}

	switch {
	case r.URL.Path == "/about":
		io.WriteString(w, `{"version":"test"}`)
	case r.URL.Path == "/simulator/initial-wallets":
		io.WriteString(w, `{"data":{"initialWalletWithStake":{"address":"erd1stake","privateKeyHex":"00"},"shardWallets":{"0":{"address":"erd1a","privateKeyHex":"01"}}},"error":"","code":"`+code+`"}`)
	case strings.HasPrefix(r.URL.Path, "/simulator/"):
		io.WriteString(w, `{"data":{},"error":"","code":"`+code+`"}`)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeSimulator) setCode(code string) {
	f.mu.Lock()
	f.code = code
	f.mu.Unlock()
}

// count returns the number of recorded requests whose path has prefix.
func (f *fakeSimulator) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, p := range f.paths {
		if strings.HasPrefix(p, prefix) {
			n++
		}
	}
	return n
}

func (f *fakeSimulator) has(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.paths {
		if p == path {
			return true
		}
	}
	return false
}

// newFakeServer starts a fake simulator API and returns its port.
func newFakeServer(t *testing.T) (*fakeSimulator, uint16) {
	t.Helper()
	fake := &fakeSimulator{}
	return fake, startServer(t, fake)
}

// startServer serves h on a local port until the test ends.
func startServer(t *testing.T, h http.Handler) uint16 {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	_, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return uint16(port)
}

// closedPort returns a local port nothing listens on.
func closedPort(t *testing.T) uint16 {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	port := uint16(l.Addr().(*net.TCPAddr).Port)
	l.Close()
	return port
}

// sleepScript records its arguments, prints a log line and sleeps.
const sleepScript = `#!/bin/sh
echo "$@" > args.txt
echo "INFO [2024-01-01 00:00:00.000]   [chainSimulator]   simulator started"
exec sleep 30
`

// tickScript writes to stdout until killed, so a stdout nobody reads
// blocks it and a closed stdout kills it with SIGPIPE.
const tickScript = `#!/bin/sh
echo "INFO [2024-01-01 00:00:00.000]   [chainSimulator]   simulator started"
while true; do
  echo "INFO [2024-01-01 00:00:00.000]   [node]   tick"
  sleep 0.05
done
`

// exitScript prints a line, stays up long enough for Start, then exits with code.
func exitScript(code int) string {
	return "#!/bin/sh\necho \"WARN [2024-01-01 00:00:00.000]   [node]   shutting down\"\nsleep 1\nexit " + strconv.Itoa(code) + "\n"
}

// lineCollector is a relay.LineParser keeping every line.
type lineCollector struct {
	mu    sync.Mutex
	lines []string
}

func (c *lineCollector) ParseLine(line string) {
	c.mu.Lock()
	c.lines = append(c.lines, line)
	c.mu.Unlock()
}

func (c *lineCollector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lines)
}

func (c *lineCollector) contains(sub string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, l := range c.lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

// newTestSupervisor stages script as the simulator executable.
func newTestSupervisor(t *testing.T, script string, mutate func(*Config)) *Supervisor {
	t.Helper()

	assets := workspace.FileStager{}
	assets[workspace.ExecutableName] = []byte(script)

	cfg := Config{
		Stager:          assets,
		WorkspaceParent: t.TempDir(),
		Client:          rpc.New(rpc.WithHost("127.0.0.1"), rpc.WithTimeout(2*time.Second)),
		Logger:          logging.Discard(),
		ReadyTimeout:    3 * time.Second,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	sup, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() {
		sup.Kill()
		sup.Close()
	})
	return sup
}

// waitFor polls cond until it holds or fails the test.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func defaultOpts(port uint16) simulator.Options {
	return simulator.DefaultOptions().WithServerPort(port)
}

// =============================================================================
// Not started / already finished
// =============================================================================

func TestSupervisor_NotStarted(t *testing.T) {
	fake, _ := newFakeServer(t)
	sup := newTestSupervisor(t, sleepScript, nil)
	ctx := context.Background()

	checks := map[string]error{
		"GenerateBlocks": sup.GenerateBlocks(ctx, 1),
		"GenerateEpochs": sup.GenerateEpochs(ctx, 1),
		"SetAddressKeys": sup.SetAddressKeys(ctx, "erd1", map[string]string{"a": "b"}),
		"SetState":       sup.SetState(ctx, []rpc.AccountState{{Address: rpc.String("erd1")}}),
		"Autogenerate":   sup.Autogenerate(ctx, time.Millisecond),
		"Kill":           sup.Kill(),
	}
	_, err := sup.InitialWallets(ctx)
	checks["InitialWallets"] = err

	for name, err := range checks {
		if !errors.Is(err, ErrProcessNotStarted) {
			t.Errorf("%s error = %v, want ErrProcessNotStarted", name, err)
		}
	}
	if n := fake.count("/"); n != 0 {
		t.Errorf("requests = %d, want none", n)
	}
	if sup.State() != StateIdle {
		t.Errorf("State() = %v, want idle", sup.State())
	}
}

func TestSupervisor_AlreadyFinished(t *testing.T) {
	fake, port := newFakeServer(t)
	sup := newTestSupervisor(t, sleepScript, nil)
	ctx := context.Background()

	h, err := sup.Start(ctx, defaultOpts(port))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if err := syscall.Kill(h.PID(), syscall.SIGKILL); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "process to be reaped", func() bool { return !process.IsAlive(h.PID()) })

	before := fake.count("/")
	if err := sup.GenerateBlocks(ctx, 1); !errors.Is(err, ErrProcessAlreadyFinished) {
		t.Errorf("GenerateBlocks error = %v, want ErrProcessAlreadyFinished", err)
	}
	if _, err := sup.InitialWallets(ctx); !errors.Is(err, ErrProcessAlreadyFinished) {
		t.Errorf("InitialWallets error = %v, want ErrProcessAlreadyFinished", err)
	}
	if err := sup.SetState(ctx, nil); !errors.Is(err, ErrProcessAlreadyFinished) {
		t.Errorf("SetState error = %v, want ErrProcessAlreadyFinished", err)
	}
	if err := sup.Kill(); !errors.Is(err, ErrProcessAlreadyFinished) {
		t.Errorf("Kill error = %v, want ErrProcessAlreadyFinished", err)
	}
	if after := fake.count("/"); after != before {
		t.Errorf("requests went from %d to %d, want no network calls", before, after)
	}
	if sup.Status().Running {
		t.Error("Status().Running = true for a dead process")
	}
}

// =============================================================================
// Start
// =============================================================================

func TestSupervisor_StartDefaults(t *testing.T) {
	fake, port := newFakeServer(t)
	sup := newTestSupervisor(t, sleepScript, nil)
	ctx := context.Background()

	h, err := sup.Start(ctx, defaultOpts(port))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if !fake.has("/about") {
		t.Error("readiness gate never called /about")
	}
	if !fake.has("/simulator/generate-blocks/21") {
		t.Errorf("initial epoch not generated as 21 blocks: %v", fake.paths)
	}

	st := sup.Status()
	if !st.Running || st.PID != h.PID() || st.State != StateRunning {
		t.Errorf("Status() = %+v", st)
	}
	if st.Options.NumShards() != 3 || st.Options.ServerPort() != port {
		t.Errorf("owned options = %+v", st.Options)
	}
	if st.BlocksGenerated != 21 {
		t.Errorf("BlocksGenerated = %d, want 21", st.BlocksGenerated)
	}

	doc, err := os.ReadFile(filepath.Join(sup.Dir(), "config", "config.toml"))
	if err != nil {
		t.Fatalf("config document not written: %v", err)
	}
	for _, want := range []string{"server-port = " + strconv.Itoa(int(port)), "num-of-shards = 3", "rounds-per-epoch = 20"} {
		if !strings.Contains(string(doc), want) {
			t.Errorf("config.toml missing %q", want)
		}
	}

	argsPath := filepath.Join(sup.Dir(), "args.txt")
	waitFor(t, "args.txt", func() bool {
		b, err := os.ReadFile(argsPath)
		return err == nil && len(b) > 0
	})
	args, _ := os.ReadFile(argsPath)
	want := "--server-port " + strconv.Itoa(int(port)) + " --num-of-shards 3 --rounds-per-epoch 20 --bypass-txs-signature false"
	if strings.TrimSpace(string(args)) != want {
		t.Errorf("simulator args = %q, want %q", strings.TrimSpace(string(args)), want)
	}

	if err := sup.GenerateEpochs(ctx, 2); err != nil {
		t.Fatalf("GenerateEpochs() error: %v", err)
	}
	if !fake.has("/simulator/generate-blocks/42") {
		t.Error("GenerateEpochs(2) did not request 42 blocks")
	}

	wallets, err := sup.InitialWallets(ctx)
	if err != nil {
		t.Fatalf("InitialWallets() error: %v", err)
	}
	if wallets.InitialWalletWithStake.Address != "erd1stake" {
		t.Errorf("wallets = %+v", wallets)
	}
	if err := sup.SetAddressKeys(ctx, "erd1abc", map[string]string{"k": "v"}); err != nil {
		t.Errorf("SetAddressKeys() error: %v", err)
	}
	if !fake.has("/simulator/address/erd1abc/set-state") {
		t.Error("SetAddressKeys used the wrong path")
	}
	if err := sup.SetState(ctx, []rpc.AccountState{{Address: rpc.String("erd1abc"), Balance: rpc.String("10")}}); err != nil {
		t.Errorf("SetState() error: %v", err)
	}
	if !fake.has("/simulator/set-state") {
		t.Error("SetState used the wrong path")
	}
}

func TestSupervisor_RestartKillsPrevious(t *testing.T) {
	_, port := newFakeServer(t)
	sup := newTestSupervisor(t, sleepScript, nil)
	ctx := context.Background()

	first, err := sup.Start(ctx, defaultOpts(port))
	if err != nil {
		t.Fatalf("first Start() error: %v", err)
	}
	second, err := sup.Start(ctx, defaultOpts(port).WithNumShards(2))
	if err != nil {
		t.Fatalf("second Start() error: %v", err)
	}

	waitFor(t, "first process to die", func() bool { return !process.IsAlive(first.PID()) })

	st := sup.Status()
	if st.PID != second.PID() || !st.Running {
		t.Errorf("Status() = %+v, want second process owned", st)
	}
	if st.Options.NumShards() != 2 {
		t.Errorf("owned options not replaced: %+v", st.Options)
	}
}

func TestSupervisor_ReadyTimeout(t *testing.T) {
	var launched int
	sup := newTestSupervisor(t, sleepScript, func(cfg *Config) {
		cfg.ReadyTimeout = 150 * time.Millisecond
		cfg.Callbacks.OnStart = func(pid int, _ simulator.Options) { launched = pid }
	})

	start := time.Now()
	_, err := sup.Start(context.Background(), defaultOpts(closedPort(t)))
	if !errors.Is(err, ErrReadyTimeout) {
		t.Fatalf("Start() error = %v, want ErrReadyTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("readiness gate took %v", elapsed)
	}

	if st := sup.Status(); st.Running || st.PID != 0 {
		t.Errorf("Status() = %+v, want nothing owned", st)
	}
	if err := sup.GenerateBlocks(context.Background(), 1); !errors.Is(err, ErrProcessNotStarted) {
		t.Errorf("GenerateBlocks error = %v, want ErrProcessNotStarted", err)
	}
	if launched == 0 {
		t.Fatal("OnStart not called")
	}
	waitFor(t, "unready process to be killed", func() bool { return !process.IsAlive(launched) })
}

func TestSupervisor_ExitBeforeReady(t *testing.T) {
	sup := newTestSupervisor(t, "#!/bin/sh\nexit 7\n", nil)

	start := time.Now()
	_, err := sup.Start(context.Background(), defaultOpts(closedPort(t)))

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Start() error = %v, want *ExitError", err)
	}
	if exitErr.Code != 7 {
		t.Errorf("Code = %d, want 7", exitErr.Code)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Start did not notice the early exit")
	}
}

func TestSupervisor_InitialEpochFailure(t *testing.T) {
	fake, port := newFakeServer(t)
	fake.setCode("failed")
	sup := newTestSupervisor(t, sleepScript, nil)

	h, err := sup.Start(context.Background(), defaultOpts(port))
	if !errors.Is(err, rpc.ErrResponseCode) {
		t.Fatalf("Start() error = %v, want ErrResponseCode", err)
	}
	if rpc.KindOf(err) != rpc.KindCode {
		t.Errorf("kind = %v, want code", rpc.KindOf(err))
	}
	if h == nil {
		t.Fatal("Handle should be returned alongside the epoch error")
	}
	if !sup.Status().Running {
		t.Error("process should stay owned after an epoch failure")
	}
}

func TestSupervisor_SpawnFailure(t *testing.T) {
	_, port := newFakeServer(t)
	sup := newTestSupervisor(t, sleepScript, func(cfg *Config) {
		cfg.Stager = nil
	})

	_, err := sup.Start(context.Background(), defaultOpts(port))
	if !errors.Is(err, process.ErrSpawn) {
		t.Errorf("Start() error = %v, want ErrSpawn", err)
	}
}

func TestNew_StageFailure(t *testing.T) {
	boom := errors.New("assets unavailable")
	_, err := New(Config{
		Stager:          workspace.StagerFunc(func(string) error { return boom }),
		WorkspaceParent: t.TempDir(),
	})
	var we *workspace.Error
	if !errors.As(err, &we) || !errors.Is(err, boom) {
		t.Errorf("New() error = %v, want workspace error wrapping %v", err, boom)
	}
}

func TestSupervisor_Callbacks(t *testing.T) {
	_, port := newFakeServer(t)

	var (
		mu      sync.Mutex
		events  []string
		blocks  = map[string]uint64{}
		started int
	)
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}

	sup := newTestSupervisor(t, sleepScript, func(cfg *Config) {
		cfg.Callbacks = Callbacks{
			OnStart: func(pid int, _ simulator.Options) {
				started = pid
				record("start")
			},
			OnReady: func(int, time.Duration) { record("ready") },
			OnKill:  func(int) { record("kill") },
			OnBlocks: func(source string, n uint64) {
				mu.Lock()
				blocks[source] += n
				mu.Unlock()
			},
		}
	})

	h, err := sup.Start(context.Background(), defaultOpts(port))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := sup.GenerateBlocks(context.Background(), 5); err != nil {
		t.Fatalf("GenerateBlocks() error: %v", err)
	}
	if err := sup.Kill(); err != nil {
		t.Fatalf("Kill() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(events, ",") != "start,ready,kill" {
		t.Errorf("events = %v", events)
	}
	if started != h.PID() {
		t.Errorf("OnStart pid = %d, want %d", started, h.PID())
	}
	if blocks[SourceEpoch] != 21 || blocks[SourceManual] != 5 {
		t.Errorf("blocks = %v", blocks)
	}
	if sup.State() != StateKilled {
		t.Errorf("State() = %v, want killed", sup.State())
	}
}

// =============================================================================
// Autogeneration
// =============================================================================

func TestSupervisor_AutogenerateOnStart(t *testing.T) {
	fake, port := newFakeServer(t)
	sup := newTestSupervisor(t, sleepScript, nil)

	_, err := sup.Start(context.Background(), defaultOpts(port).WithAutogeneration(10*time.Millisecond))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	waitFor(t, "autogenerated blocks", func() bool {
		return fake.count("/simulator/generate-blocks/1") >= 3
	})

	if err := sup.Kill(); err != nil {
		t.Fatalf("Kill() error: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	settled := fake.count("/simulator/generate-blocks/1")
	time.Sleep(100 * time.Millisecond)
	if after := fake.count("/simulator/generate-blocks/1"); after != settled {
		t.Errorf("autogeneration continued after kill: %d -> %d", settled, after)
	}
}

func TestSupervisor_AutogenerateStopsOnError(t *testing.T) {
	fake, port := newFakeServer(t)
	sup := newTestSupervisor(t, sleepScript, nil)
	ctx := context.Background()

	if _, err := sup.Start(ctx, defaultOpts(port)); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	fake.setCode("failed")

	done := make(chan error, 1)
	go func() { done <- sup.Autogenerate(ctx, 10*time.Millisecond) }()

	select {
	case err := <-done:
		if !errors.Is(err, rpc.ErrResponseCode) {
			t.Errorf("Autogenerate() error = %v, want ErrResponseCode", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Autogenerate did not stop on error")
	}
}

func TestSupervisor_AutogenerateContextCancel(t *testing.T) {
	_, port := newFakeServer(t)
	sup := newTestSupervisor(t, sleepScript, nil)

	if _, err := sup.Start(context.Background(), defaultOpts(port)); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := sup.Autogenerate(ctx, 5*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Autogenerate() error = %v, want DeadlineExceeded", err)
	}
	if sup.Status().BlocksGenerated <= 21 {
		t.Error("no blocks autogenerated")
	}
}

// =============================================================================
// Listen
// =============================================================================

func TestHandle_ListenKilled(t *testing.T) {
	_, port := newFakeServer(t)
	lines := &lineCollector{}
	sup := newTestSupervisor(t, sleepScript, func(cfg *Config) {
		cfg.LineParser = lines
	})

	h, err := sup.Start(context.Background(), defaultOpts(port))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- h.Listen(context.Background()) }()

	waitFor(t, "relayed stdout line", func() bool { return lines.contains("simulator started") })

	if err := h.Listen(context.Background()); !errors.Is(err, ErrStdoutAlreadyConsumed) {
		t.Errorf("second Listen() error = %v, want ErrStdoutAlreadyConsumed", err)
	}

	if err := sup.Kill(); err != nil {
		t.Fatalf("Kill() error: %v", err)
	}
	select {
	case err := <-done:
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || !exitErr.Killed || exitErr.Signal != syscall.SIGKILL {
			t.Errorf("Listen() after Kill = %v, want killed SIGKILL ExitError", err)
		}
		if !errors.Is(err, ErrProcessKilled) {
			t.Errorf("Listen() after Kill = %v, want ErrProcessKilled", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Listen did not return after Kill")
	}
}

func TestHandle_ListenExit(t *testing.T) {
	tests := []struct {
		name     string
		code     int
		wantCode int
	}{
		{"clean", 0, 0},
		{"failure", 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, port := newFakeServer(t)
			lines := &lineCollector{}
			sup := newTestSupervisor(t, exitScript(tt.code), func(cfg *Config) {
				cfg.LineParser = relay.Multi{lines, logging.NewSimulatorLineHandler(logging.Discard(), false)}
			})

			h, err := sup.Start(context.Background(), defaultOpts(port))
			if err != nil {
				t.Fatalf("Start() error: %v", err)
			}

			err = h.Listen(context.Background())
			if tt.wantCode == 0 {
				if err != nil {
					t.Errorf("Listen() = %v, want nil", err)
				}
			} else {
				var exitErr *ExitError
				if !errors.As(err, &exitErr) {
					t.Fatalf("Listen() = %v, want *ExitError", err)
				}
				if exitErr.Code != tt.wantCode || exitErr.Signal != 0 {
					t.Errorf("ExitError = %+v, want code %d", exitErr, tt.wantCode)
				}
			}

			if !lines.contains("shutting down") {
				t.Error("stdout line was not relayed")
			}
			if sup.State() != StateExited {
				t.Errorf("State() = %v, want exited", sup.State())
			}
		})
	}
}

func TestHandle_ListenSignal(t *testing.T) {
	_, port := newFakeServer(t)
	sup := newTestSupervisor(t, sleepScript, nil)

	h, err := sup.Start(context.Background(), defaultOpts(port))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- h.Listen(context.Background()) }()

	// Killed behind the supervisor's back: still owned, so reported.
	syscall.Kill(h.PID(), syscall.SIGKILL)

	select {
	case err := <-done:
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Signal != syscall.SIGKILL {
			t.Errorf("Listen() = %v, want SIGKILL ExitError", err)
		}
		if errors.Is(err, ErrProcessKilled) {
			t.Errorf("Listen() = %v, external kill reported as supervisor kill", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Listen did not return")
	}
}

func TestHandle_ListenContextCancel(t *testing.T) {
	_, port := newFakeServer(t)
	lines := &lineCollector{}
	sup := newTestSupervisor(t, tickScript, func(cfg *Config) {
		cfg.LineParser = lines
	})

	h, err := sup.Start(context.Background(), defaultOpts(port))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := h.Listen(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Listen() = %v, want DeadlineExceeded", err)
	}

	// The simulator keeps writing; it must neither die of SIGPIPE nor stall.
	seen := lines.len()
	time.Sleep(500 * time.Millisecond)

	if !process.IsAlive(h.PID()) || !sup.Status().Running {
		t.Fatal("cancelling Listen should not stop the simulator")
	}
	if lines.len() <= seen {
		t.Errorf("lines = %d after cancel, want more than %d", lines.len(), seen)
	}
	if err := sup.GenerateBlocks(context.Background(), 1); err != nil {
		t.Errorf("GenerateBlocks() after cancelled Listen: %v", err)
	}
}

// =============================================================================
// Close
// =============================================================================

func TestSupervisor_Close(t *testing.T) {
	_, port := newFakeServer(t)
	sup := newTestSupervisor(t, sleepScript, nil)

	h, err := sup.Start(context.Background(), defaultOpts(port))
	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	dir := sup.Dir()

	if err := sup.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("workspace %s still exists: %v", dir, err)
	}
	waitFor(t, "process to die after Close", func() bool { return !process.IsAlive(h.PID()) })

	if err := sup.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

// =============================================================================
// Concurrency
// =============================================================================

func TestSupervisor_ConcurrentStart(t *testing.T) {
	_, port := newFakeServer(t)
	sup := newTestSupervisor(t, sleepScript, nil)

	const starters = 4
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		handles []*Handle
	)
	for i := 0; i < starters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h, _ := sup.Start(context.Background(), defaultOpts(port))
			if h == nil {
				return
			}
			mu.Lock()
			handles = append(handles, h)
			mu.Unlock()
		}()
	}
	wg.Wait()

	t.Cleanup(func() {
		for _, h := range handles {
			process.Kill(h.PID())
		}
	})
	if len(handles) == 0 {
		t.Fatal("no Start succeeded")
	}

	owned := sup.Status().PID
	waitFor(t, "a single live simulator", func() bool {
		alive := 0
		for _, h := range handles {
			if process.IsAlive(h.PID()) {
				alive++
			}
		}
		return alive == 1
	})
	for _, h := range handles {
		if process.IsAlive(h.PID()) && h.PID() != owned {
			t.Errorf("live pid %d is not the owned pid %d", h.PID(), owned)
		}
	}
}

func TestSupervisor_ConcurrentCommands(t *testing.T) {
	fake, port := newFakeServer(t)
	sup := newTestSupervisor(t, sleepScript, nil)
	ctx := context.Background()

	if _, err := sup.Start(ctx, defaultOpts(port)); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- sup.GenerateBlocks(ctx, 1)
		}()
		go func() {
			defer wg.Done()
			sup.Status()
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("GenerateBlocks() error: %v", err)
		}
	}
	if n := fake.count("/simulator/generate-blocks/1"); n != workers {
		t.Errorf("generate-blocks/1 requests = %d, want %d", n, workers)
	}
	if got := sup.Status().BlocksGenerated; got != 21+workers {
		t.Errorf("BlocksGenerated = %d, want %d", got, 21+workers)
	}
}

func TestSupervisor_SlowRequestDoesNotBlock(t *testing.T) {
	fake := &fakeSimulator{}
	entered := make(chan struct{})
	release := make(chan struct{})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)

	port := startServer(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/simulator/generate-blocks/7" {
			close(entered)
			<-release
		}
		fake.ServeHTTP(w, r)
	}))
	sup := newTestSupervisor(t, sleepScript, nil)

	if _, err := sup.Start(context.Background(), defaultOpts(port)); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sup.GenerateBlocks(context.Background(), 7) }()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("generate-blocks/7 never reached the server")
	}

	returned := make(chan struct{})
	go func() {
		sup.Status()
		sup.Kill()
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Status/Kill blocked behind an in-flight request")
	}
	if sup.Status().Running {
		t.Error("Status().Running = true after Kill")
	}

	unblock()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("GenerateBlocks did not return after the server answered")
	}
}

// =============================================================================
// WaitReady
// =============================================================================

func TestWaitReady_EventuallyReady(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	_, portStr, _ := net.SplitHostPort(u.Host)
	port, _ := strconv.Atoi(portStr)

	client := rpc.New(rpc.WithHost("127.0.0.1"))
	if err := WaitReady(context.Background(), client, uint16(port), 2*time.Second, 5*time.Millisecond); err != nil {
		t.Fatalf("WaitReady() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestWaitReady_Timeout(t *testing.T) {
	client := rpc.New(rpc.WithHost("127.0.0.1"))

	start := time.Now()
	err := WaitReady(context.Background(), client, closedPort(t), 100*time.Millisecond, 10*time.Millisecond)
	if !errors.Is(err, ErrReadyTimeout) {
		t.Fatalf("WaitReady() error = %v, want ErrReadyTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond || elapsed > 2*time.Second {
		t.Errorf("elapsed = %v, want about 100ms", elapsed)
	}
}

func TestWaitReady_ContextCancelled(t *testing.T) {
	client := rpc.New(rpc.WithHost("127.0.0.1"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitReady(ctx, client, closedPort(t), time.Second, 10*time.Millisecond)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("WaitReady() error = %v, want context.Canceled", err)
	}
}

// =============================================================================
// State
// =============================================================================

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateLaunched, "launched"},
		{StateReady, "ready"},
		{StateRunning, "running"},
		{StateExited, "exited"},
		{StateKilled, "killed"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func TestState_IsActive(t *testing.T) {
	for _, s := range []State{StateLaunched, StateReady, StateRunning} {
		if !s.IsActive() || s.IsTerminal() {
			t.Errorf("%v: IsActive=%v IsTerminal=%v", s, s.IsActive(), s.IsTerminal())
		}
	}
	for _, s := range []State{StateExited, StateKilled} {
		if s.IsActive() || !s.IsTerminal() {
			t.Errorf("%v: IsActive=%v IsTerminal=%v", s, s.IsActive(), s.IsTerminal())
		}
	}
	if StateIdle.IsActive() || StateIdle.IsTerminal() {
		t.Error("idle should be neither active nor terminal")
	}
}

func TestExitError_Error(t *testing.T) {
	if got := (&ExitError{Code: 3}).Error(); !strings.Contains(got, "code 3") {
		t.Errorf("Error() = %q", got)
	}
	if got := (&ExitError{Code: 137, Signal: syscall.SIGKILL}).Error(); !strings.Contains(got, "signal") {
		t.Errorf("Error() = %q", got)
	}

	killed := fmt.Errorf("supervise: %w", &ExitError{Code: 137, Signal: syscall.SIGKILL, Killed: true})
	if !errors.Is(killed, ErrProcessKilled) {
		t.Errorf("errors.Is(%v, ErrProcessKilled) = false", killed)
	}
	if errors.Is(&ExitError{Code: 137, Signal: syscall.SIGKILL}, ErrProcessKilled) {
		t.Error("unrequested SIGKILL matched ErrProcessKilled")
	}
}
