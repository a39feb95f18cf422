package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"memebot/internal/driver"
	"memebot/pkg/chat"
	"memebot/pkg/knowledge"
	"memebot/pkg/textmatch"
)

func writeConfigFile(t *testing.T, path string, contents string) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatalf("create config dir: %v", err)
	}
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func newTestRegistry(t *testing.T) *driver.Registry {
	t.Helper()

	registry, err := driver.NewBuiltinRegistry(strings.NewReader(""), &bytes.Buffer{})
	if err != nil {
		t.Fatalf("new builtin registry failed: %v", err)
	}

	return registry
}

const consoleDriverJSON = `"drivers":[{"name":"console","type":"console","config":{}}]`

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    slog.Level
		wantErr bool
	}{
		{name: "debug", input: "debug", want: slog.LevelDebug},
		{name: "info", input: "info", want: slog.LevelInfo},
		{name: "warn", input: "warn", want: slog.LevelWarn},
		{name: "warning", input: "warning", want: slog.LevelWarn},
		{name: "error", input: "ERROR", want: slog.LevelError},
		{name: "invalid", input: "trace", wantErr: true},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			got, err := parseLogLevel(testCase.input)
			if testCase.wantErr && err == nil {
				t.Fatal("expected error")
			}
			if !testCase.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if testCase.wantErr {
				return
			}
			if got != testCase.want {
				t.Fatalf("level = %v, want %v", got, testCase.want)
			}
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Run("loads all supported fields from config file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "bot.json")
		writeConfigFile(t, configPath, `{
			"log_level":"warn",
			"kernel":{
				"module_hook_timeout":"7s",
				"shutdown_timeout":"15s",
				"handler_timeout":"9s",
				"subscription_buffer":64,
				"subscription_workers":5,
				"backpressure":"block"
			},
			"drivers":[
				{"name":"console","type":"console","config":{"user":"alice"}},
				{"name":"tg-main","type":"telegram","enabled":false,"config":{}}
			],
			"store":{"driver":"sqlite","dsn":"data/memes.db","op_timeout":"3s","retries":4},
			"matcher":{"threshold":0.75},
			"docs":{"file":"docs/ruby.yaml"}
		}`)
		t.Setenv(envConfigFile, configPath)
		t.Setenv(envDatabaseURL, "")

		cfg, err := loadConfig(newTestRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}

		if cfg.logLevel != slog.LevelWarn {
			t.Fatalf("log level = %v, want %v", cfg.logLevel, slog.LevelWarn)
		}
		if cfg.moduleHookTimeout != 7*time.Second {
			t.Fatalf("module hook timeout = %s, want 7s", cfg.moduleHookTimeout)
		}
		if cfg.shutdownTimeout != 15*time.Second {
			t.Fatalf("shutdown timeout = %s, want 15s", cfg.shutdownTimeout)
		}
		if cfg.handlerTimeout != 9*time.Second {
			t.Fatalf("handler timeout = %s, want 9s", cfg.handlerTimeout)
		}
		if cfg.subscriptionBuffer != 64 {
			t.Fatalf("subscription buffer = %d, want 64", cfg.subscriptionBuffer)
		}
		if cfg.subscriptionWorkers != 5 {
			t.Fatalf("subscription workers = %d, want 5", cfg.subscriptionWorkers)
		}
		if cfg.backpressure != chat.BackpressureBlock {
			t.Fatalf("backpressure = %q, want block", cfg.backpressure)
		}
		if len(cfg.drivers) != 2 {
			t.Fatalf("drivers len = %d, want 2", len(cfg.drivers))
		}
		if !cfg.drivers[0].Enabled || cfg.drivers[1].Enabled {
			t.Fatalf("driver enabled flags = %v/%v, want true/false", cfg.drivers[0].Enabled, cfg.drivers[1].Enabled)
		}
		if cfg.storeDriver != knowledge.DriverSQLite {
			t.Fatalf("store driver = %q, want sqlite", cfg.storeDriver)
		}
		if cfg.storeDSN != "data/memes.db" {
			t.Fatalf("store dsn = %q, want data/memes.db", cfg.storeDSN)
		}
		if cfg.storeOpTimeout != 3*time.Second {
			t.Fatalf("store op timeout = %s, want 3s", cfg.storeOpTimeout)
		}
		if cfg.storeRetries != 4 {
			t.Fatalf("store retries = %d, want 4", cfg.storeRetries)
		}
		if cfg.matcherThreshold != 0.75 {
			t.Fatalf("matcher threshold = %v, want 0.75", cfg.matcherThreshold)
		}
		if cfg.docsFile != "docs/ruby.yaml" {
			t.Fatalf("docs file = %q, want docs/ruby.yaml", cfg.docsFile)
		}
	})

	t.Run("applies defaults for omitted sections", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "bot.json")
		writeConfigFile(t, configPath, `{`+consoleDriverJSON+`}`)
		t.Setenv(envConfigFile, configPath)
		t.Setenv(envDatabaseURL, "")

		cfg, err := loadConfig(newTestRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}
		if cfg.storeDriver != storeDriverMemory {
			t.Fatalf("store driver = %q, want memory", cfg.storeDriver)
		}
		if cfg.matcherThreshold != textmatch.DefaultThreshold {
			t.Fatalf("matcher threshold = %v, want %v", cfg.matcherThreshold, textmatch.DefaultThreshold)
		}
		if cfg.backpressure != chat.BackpressureDropNewest {
			t.Fatalf("backpressure = %q, want drop_newest", cfg.backpressure)
		}
		if cfg.storeRetries != defaultStoreRetries {
			t.Fatalf("store retries = %d, want %d", cfg.storeRetries, defaultStoreRetries)
		}
	})

	t.Run("database url from environment overrides dsn", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "bot.json")
		writeConfigFile(t, configPath, `{`+consoleDriverJSON+`,"store":{"driver":"postgres"}}`)
		t.Setenv(envConfigFile, configPath)
		t.Setenv(envDatabaseURL, "postgres://memebot@localhost/memebot?sslmode=disable")

		cfg, err := loadConfig(newTestRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}
		if cfg.storeDSN != "postgres://memebot@localhost/memebot?sslmode=disable" {
			t.Fatalf("store dsn = %q, want env override", cfg.storeDSN)
		}
	})

	t.Run("loads fallback path bin/config/bot.json when no explicit path is set", func(t *testing.T) {
		workDir := t.TempDir()
		configPath := filepath.Join(workDir, "bin", "config", "bot.json")
		writeConfigFile(t, configPath, `{"log_level":"debug",`+consoleDriverJSON+`}`)

		currentDir, err := os.Getwd()
		if err != nil {
			t.Fatalf("get working directory: %v", err)
		}
		if err := os.Chdir(workDir); err != nil {
			t.Fatalf("chdir to temp work dir: %v", err)
		}
		t.Cleanup(func() {
			if err := os.Chdir(currentDir); err != nil {
				t.Fatalf("restore working directory: %v", err)
			}
		})
		t.Setenv(envConfigFile, "")
		t.Setenv(envDatabaseURL, "")

		cfg, err := loadConfig(newTestRegistry(t))
		if err != nil {
			t.Fatalf("load config failed: %v", err)
		}
		if cfg.logLevel != slog.LevelDebug {
			t.Fatalf("log level = %v, want debug", cfg.logLevel)
		}
	})

	t.Run("invalid config values fail", func(t *testing.T) {
		tests := []struct {
			name       string
			fileJSON   string
			wantErrSub string
		}{
			{
				name:       "invalid log level",
				fileJSON:   `{"log_level":"trace",` + consoleDriverJSON + `}`,
				wantErrSub: "parse log_level",
			},
			{
				name:       "invalid kernel timeout",
				fileJSON:   `{"kernel":{"module_hook_timeout":"bad"},` + consoleDriverJSON + `}`,
				wantErrSub: "parse kernel.module_hook_timeout",
			},
			{
				name:       "non-positive handler timeout",
				fileJSON:   `{"kernel":{"handler_timeout":"0s"},` + consoleDriverJSON + `}`,
				wantErrSub: "parse kernel.handler_timeout",
			},
			{
				name:       "non-positive kernel buffer",
				fileJSON:   `{"kernel":{"subscription_buffer":0},` + consoleDriverJSON + `}`,
				wantErrSub: "parse kernel.subscription_buffer",
			},
			{
				name:       "unknown backpressure",
				fileJSON:   `{"kernel":{"backpressure":"spill"},` + consoleDriverJSON + `}`,
				wantErrSub: "parse kernel.backpressure",
			},
			{
				name:       "invalid store timeout",
				fileJSON:   `{"store":{"op_timeout":"soon"},` + consoleDriverJSON + `}`,
				wantErrSub: "parse store.op_timeout",
			},
			{
				name:       "negative retries",
				fileJSON:   `{"store":{"retries":-1},` + consoleDriverJSON + `}`,
				wantErrSub: "parse store.retries",
			},
			{
				name:       "threshold out of range",
				fileJSON:   `{"matcher":{"threshold":1.5},` + consoleDriverJSON + `}`,
				wantErrSub: "parse matcher.threshold",
			},
			{
				name:       "driver without config",
				fileJSON:   `{"drivers":[{"name":"console","type":"console"}]}`,
				wantErrSub: "parse drivers[0].config",
			},
			{
				name:       "no enabled driver",
				fileJSON:   `{"drivers":[{"name":"console","type":"console","enabled":false,"config":{}}]}`,
				wantErrSub: "at least one enabled driver",
			},
			{
				name:       "unknown driver type",
				fileJSON:   `{"drivers":[{"name":"irc","type":"irc","config":{}}]}`,
				wantErrSub: "drivers[irc].type",
			},
			{
				name: "duplicate driver name",
				fileJSON: `{"drivers":[
					{"name":"console","type":"console","config":{}},
					{"name":"console","type":"console","config":{}}
				]}`,
				wantErrSub: "duplicate name",
			},
			{
				name:       "unknown store driver",
				fileJSON:   `{"store":{"driver":"redis"},` + consoleDriverJSON + `}`,
				wantErrSub: "store.driver",
			},
			{
				name:       "sql store without dsn",
				fileJSON:   `{"store":{"driver":"sqlite"},` + consoleDriverJSON + `}`,
				wantErrSub: "store.dsn is required",
			},
		}

		for _, testCase := range tests {
			testCase := testCase
			t.Run(testCase.name, func(t *testing.T) {
				configPath := filepath.Join(t.TempDir(), "bot.json")
				writeConfigFile(t, configPath, testCase.fileJSON)
				t.Setenv(envConfigFile, configPath)
				t.Setenv(envDatabaseURL, "")

				_, err := loadConfig(newTestRegistry(t))
				if err == nil {
					t.Fatal("expected error")
				}
				if !strings.Contains(err.Error(), testCase.wantErrSub) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErrSub)
				}
			})
		}
	})

	t.Run("missing explicit config file fails", func(t *testing.T) {
		t.Setenv(envConfigFile, filepath.Join(t.TempDir(), "missing.json"))
		if _, err := loadConfig(newTestRegistry(t)); err == nil {
			t.Fatal("expected error for missing config file")
		}
	})
}

func TestLoadEnvFile(t *testing.T) {
	const key = "MEMEBOT_TEST_ENV_FILE_VALUE"

	t.Run("missing file is ignored", func(t *testing.T) {
		if err := loadEnvFile(filepath.Join(t.TempDir(), ".env")); err != nil {
			t.Fatalf("load missing env file: %v", err)
		}
	})

	t.Run("exports values from file", func(t *testing.T) {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset env: %v", err)
		}

		envPath := filepath.Join(t.TempDir(), ".env")
		writeConfigFile(t, envPath, key+"=from-file\n")
		if err := loadEnvFile(envPath); err != nil {
			t.Fatalf("load env file: %v", err)
		}
		if got := os.Getenv(key); got != "from-file" {
			t.Fatalf("env value = %q, want from-file", got)
		}
	})

	t.Run("existing environment wins", func(t *testing.T) {
		t.Setenv(key, "from-env")

		envPath := filepath.Join(t.TempDir(), ".env")
		writeConfigFile(t, envPath, key+"=from-file\n")
		if err := loadEnvFile(envPath); err != nil {
			t.Fatalf("load env file: %v", err)
		}
		if got := os.Getenv(key); got != "from-env" {
			t.Fatalf("env value = %q, want from-env", got)
		}
	})
}

func TestOpenKnowledgeStore(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	tests := []struct {
		name string
		cfg  func(t *testing.T) appConfig
	}{
		{
			name: "memory",
			cfg: func(*testing.T) appConfig {
				return defaultAppConfig()
			},
		},
		{
			name: "sqlite with retries",
			cfg: func(t *testing.T) appConfig {
				cfg := defaultAppConfig()
				cfg.storeDriver = knowledge.DriverSQLite
				cfg.storeDSN = filepath.Join(t.TempDir(), "nested", "memes.db")
				return cfg
			},
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			ctx := context.Background()
			store, closeStore, err := openKnowledgeStore(ctx, logger, testCase.cfg(t))
			if err != nil {
				t.Fatalf("open knowledge store failed: %v", err)
			}
			t.Cleanup(func() {
				if err := closeStore(); err != nil {
					t.Errorf("close store: %v", err)
				}
			})

			if err := store.Create(ctx, "Pizza?", "Dominos"); err != nil {
				t.Fatalf("create failed: %v", err)
			}
			answer, found, err := store.Read(ctx, "pizza?")
			if err != nil || !found || answer != "Dominos" {
				t.Fatalf("read = %q, %v, %v; want Dominos, true, nil", answer, found, err)
			}
		})
	}
}

func TestLoadDocumentation(t *testing.T) {
	matcher := textmatch.New()

	t.Run("bundled index when no file is configured", func(t *testing.T) {
		index, err := loadDocumentation(defaultAppConfig(), matcher)
		if err != nil {
			t.Fatalf("load documentation failed: %v", err)
		}
		if index.Len() == 0 {
			t.Fatal("bundled documentation is empty")
		}
	})

	t.Run("configured file", func(t *testing.T) {
		docsPath := filepath.Join(t.TempDir(), "docs.yaml")
		writeConfigFile(t, docsPath, "entries:\n  - name: Kernel#puts\n    summary: prints\n    body: puts obj\n")

		cfg := defaultAppConfig()
		cfg.docsFile = docsPath
		index, err := loadDocumentation(cfg, matcher)
		if err != nil {
			t.Fatalf("load documentation failed: %v", err)
		}
		got, err := index.Search(context.Background(), "kernel#puts")
		if err != nil {
			t.Fatalf("search failed: %v", err)
		}
		if got != "# Kernel#puts\n\nprints\n---\nputs obj" {
			t.Fatalf("search = %q", got)
		}
	})

	t.Run("missing file fails", func(t *testing.T) {
		cfg := defaultAppConfig()
		cfg.docsFile = filepath.Join(t.TempDir(), "missing.yaml")
		if _, err := loadDocumentation(cfg, matcher); err == nil {
			t.Fatal("expected error for missing docs file")
		}
	})
}

// lockedBuffer lets the test read console output while the driver writes.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

// slowCreateStore delays writes the way a remote database does.
type slowCreateStore struct {
	knowledge.Store
	delay time.Duration
}

func (s slowCreateStore) Create(ctx context.Context, question, answer string) error {
	time.Sleep(s.delay)

	return s.Store.Create(ctx, question, answer)
}

// startConsoleRuntime runs the bot over input with the given config and
// returns its console output plus a stop function.
func startConsoleRuntime(
	t *testing.T,
	cfg appConfig,
	input string,
	wrapStore func(knowledge.Store) knowledge.Store,
) (*lockedBuffer, func()) {
	t.Helper()

	output := &lockedBuffer{}
	registry, err := driver.NewBuiltinRegistry(strings.NewReader(input), output)
	if err != nil {
		t.Fatalf("new builtin registry failed: %v", err)
	}
	cfg.drivers = []driver.Definition{
		{Name: "console", Type: "console", Enabled: true, Config: []byte(`{}`)},
	}
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	ctx, cancel := context.WithCancel(context.Background())

	kernelRuntime := buildKernelRuntime(logger, cfg)
	store, closeStore, err := openKnowledgeStore(ctx, logger, cfg)
	if err != nil {
		cancel()
		t.Fatalf("open knowledge store failed: %v", err)
	}
	if wrapStore != nil {
		store = wrapStore(store)
	}

	matcher := textmatch.New(textmatch.WithThreshold(cfg.matcherThreshold))
	documentation, err := loadDocumentation(cfg, matcher)
	if err != nil {
		cancel()
		t.Fatalf("load documentation failed: %v", err)
	}
	drivers, dispatcher, err := buildDriverRuntime(ctx, logger, cfg, registry)
	if err != nil {
		cancel()
		t.Fatalf("build driver runtime failed: %v", err)
	}
	if err := registerRuntimeDrivers(kernelRuntime, drivers); err != nil {
		cancel()
		t.Fatalf("register drivers failed: %v", err)
	}
	if err := registerRuntimeServices(kernelRuntime, dispatcher, store, documentation); err != nil {
		cancel()
		t.Fatalf("register services failed: %v", err)
	}
	if err := registerRuntimeModules(ctx, kernelRuntime, matcher); err != nil {
		cancel()
		t.Fatalf("register modules failed: %v", err)
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- kernelRuntime.Run(ctx)
	}()

	stop := func() {
		cancel()
		defer func() { _ = closeStore() }()
		select {
		case err := <-runErr:
			if err != nil && !strings.Contains(err.Error(), context.Canceled.Error()) {
				t.Fatalf("run returned error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("kernel did not stop after cancel")
		}
	}

	return output, stop
}

func TestRuntimeAnswersConsoleConversation(t *testing.T) {
	input := strings.Join([]string{
		"remember 'best pizza?' with 'Dominos'",
		"answer best pizza?",
		"answer best pizzas?",
		"all memes",
	}, "\n") + "\n"

	output, stop := startConsoleRuntime(t, defaultAppConfig(), input, nil)
	defer stop()

	want := []string{
		"The response for 'best pizza?' is 'Dominos'",
		"Dominos",
		"Found the closest meme to your query: 'best pizza?'.",
		"You could ask me for the following memes:\n1) best pizza?",
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		got := output.String()
		if containsInOrder(got, want) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("console output = %q, want lines %q in order", got, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRuntimeRepliesOncePerLineInOrder(t *testing.T) {
	cfg := defaultAppConfig()
	// More pairs than the subscription buffer holds, so publishing must wait.
	pairs := cfg.subscriptionBuffer + 44

	lines := make([]string, 0, 2*pairs)
	want := make([]string, 0, 2*pairs)
	for index := 0; index < pairs; index++ {
		question := fmt.Sprintf("q%d?", index)
		answer := fmt.Sprintf("a%d", index)
		lines = append(lines,
			fmt.Sprintf("remember '%s' with '%s'", question, answer),
			fmt.Sprintf("answer '%s'", question),
		)
		want = append(want, fmt.Sprintf("The response for '%s' is '%s'", question, answer), answer)
	}

	output, stop := startConsoleRuntime(t, cfg, strings.Join(lines, "\n")+"\n", func(store knowledge.Store) knowledge.Store {
		return slowCreateStore{Store: store, delay: 2 * time.Millisecond}
	})
	defer stop()

	deadline := time.Now().Add(20 * time.Second)
	var got []string
	for {
		got = strings.Split(strings.TrimSuffix(output.String(), "\n"), "\n")
		if len(got) >= len(want) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("replies = %d, want %d", len(got), len(want))
		}
		time.Sleep(20 * time.Millisecond)
	}

	if len(got) != len(want) {
		t.Fatalf("replies = %d, want %d", len(got), len(want))
	}
	for index := range want {
		if got[index] != want[index] {
			t.Fatalf("reply[%d] = %q, want %q", index, got[index], want[index])
		}
	}
}

func containsInOrder(text string, parts []string) bool {
	for _, part := range parts {
		index := strings.Index(text, part)
		if index < 0 {
			return false
		}
		text = text[index+len(part):]
	}

	return true
}
