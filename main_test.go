package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

type mockApp struct {
	opts      AppOptions
	called    map[string]bool
	caseID    string
	returnErr error
}

func newMockApp() *mockApp {
	return &mockApp{
		called: make(map[string]bool),
	}
}

func (m *mockApp) ApplyOptions(opts AppOptions) { m.opts = opts }
func (m *mockApp) RunImport(caseID string) error {
	m.called["RunImport"] = true
	m.caseID = caseID
	return m.returnErr
}
func (m *mockApp) RunService() error {
	m.called["RunService"] = true
	return m.returnErr
}

func TestRun_Flags(t *testing.T) {
	tests := []struct {
		name           string
		args           []string
		expectedCalled string
		verifyOpts     func(*testing.T, AppOptions)
	}{
		{
			name:           "Import",
			args:           []string{"--import", "case-7", "--storage", "/tmp/cases", "--out", "/tmp/out"},
			expectedCalled: "RunImport",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ImportCase != "case-7" {
					t.Errorf("expected ImportCase case-7, got %s", opts.ImportCase)
				}
				if opts.StorageRoot != "/tmp/cases" {
					t.Errorf("expected StorageRoot /tmp/cases, got %s", opts.StorageRoot)
				}
				if opts.OutputDir != "/tmp/out" {
					t.Errorf("expected OutputDir /tmp/out, got %s", opts.OutputDir)
				}
				if opts.Format != "png" {
					t.Errorf("expected default Format png, got %s", opts.Format)
				}
			},
		},
		{
			name:           "ImportSVG",
			args:           []string{"--import", "case-7", "--format", "svg"},
			expectedCalled: "RunImport",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.Format != "svg" {
					t.Errorf("expected Format svg, got %s", opts.Format)
				}
			},
		},
		{
			name:           "Service",
			args:           []string{"--config", "custom.yaml", "--http-addr", ":9999", "--log-level", "debug", "--pretty"},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ConfigFile != "custom.yaml" {
					t.Errorf("expected ConfigFile custom.yaml, got %s", opts.ConfigFile)
				}
				if opts.HTTPAddr != ":9999" {
					t.Errorf("expected HTTPAddr :9999, got %s", opts.HTTPAddr)
				}
				if opts.LogLevel != "debug" {
					t.Errorf("expected LogLevel debug, got %s", opts.LogLevel)
				}
				if !opts.Pretty {
					t.Error("expected Pretty true")
				}
			},
		},
		{
			name:           "Defaults",
			args:           []string{},
			expectedCalled: "RunService",
			verifyOpts: func(t *testing.T, opts AppOptions) {
				if opts.ConfigFile != defaultConfigFile {
					t.Errorf("expected ConfigFile %s, got %s", defaultConfigFile, opts.ConfigFile)
				}
				if opts.OutputDir != "." {
					t.Errorf("expected OutputDir ., got %s", opts.OutputDir)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			err := run(tt.args, &out, app)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			if !app.called[tt.expectedCalled] {
				t.Errorf("expected %s to be called", tt.expectedCalled)
			}
			if len(app.called) != 1 {
				t.Errorf("expected exactly one mode to run, got %v", app.called)
			}

			if tt.verifyOpts != nil {
				tt.verifyOpts(t, app.opts)
			}
		})
	}
}

func TestRun_Help(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{"--help"}, &out, app)
	if err == nil {
		t.Error("expected error from --help, got nil")
	}
	if !strings.Contains(out.String(), "Usage of casemap") {
		t.Errorf("expected usage info in output, got: %s", out.String())
	}
	if !strings.Contains(out.String(), "-import") {
		t.Errorf("expected --import in usage, got: %s", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("expected nothing to run, got %v", app.called)
	}
}

func TestRun_Version(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	if err := run([]string{"--version"}, &out, app); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if strings.TrimSpace(out.String()) != "casemap version: "+Version {
		t.Errorf("unexpected version output: %q", out.String())
	}
	if len(app.called) != 0 {
		t.Errorf("expected nothing to run, got %v", app.called)
	}
}

func TestRun_Default(t *testing.T) {
	app := newMockApp()
	var out bytes.Buffer
	err := run([]string{}, &out, app)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	expectedPrefix := "casemap version: " + Version
	if !strings.Contains(out.String(), expectedPrefix) {
		t.Errorf("expected output to contain version, got: %s", out.String())
	}

	if !strings.Contains(out.String(), "casemap service starting...") {
		t.Errorf("expected output to contain service starting message, got: %s", out.String())
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad format", []string{"--import", "c", "--format", "jpeg"}},
		{"unknown flag", []string{"--vacuum"}},
		{"stray argument", []string{"extra"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := newMockApp()
			var out bytes.Buffer
			if err := run(tt.args, &out, app); err == nil {
				t.Error("expected an error")
			}
			if len(app.called) != 0 {
				t.Errorf("expected nothing to run, got %v", app.called)
			}
		})
	}
}

func TestRun_PropagatesAppError(t *testing.T) {
	app := newMockApp()
	app.returnErr = errors.New("import failed")
	var out bytes.Buffer
	err := run([]string{"--import", "c"}, &out, app)
	if err == nil || err.Error() != "import failed" {
		t.Errorf("expected import failure, got %v", err)
	}
	if app.caseID != "c" {
		t.Errorf("expected case c, got %q", app.caseID)
	}
}

func TestMain_Execute(t *testing.T) {
	// Smoke test to ensure version is set
	if Version == "" {
		t.Error("expected Version to be set")
	}
}
