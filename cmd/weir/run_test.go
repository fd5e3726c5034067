package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const greetYAML = `
id: greet
activities:
  - id: hello
    nodeType: echo
    config:
      label: hi
  - id: shape
    nodeType: transform
    end: true
    config:
      fields:
        greeting: "hello {{name}}"
transitions:
  - from: hello
    to: shape
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRunFile(t *testing.T) {
	def := writeFile(t, "greet.yaml", greetYAML)
	data := writeFile(t, "data.yaml", "name: ada\n")
	var out bytes.Buffer
	if err := runFile(context.Background(), &out, def, data); err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), `"status": "ended"`) {
		t.Fatalf("expected an ended instance, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "hello ada") {
		t.Fatalf("expected transformed greeting, got:\n%s", out.String())
	}
}

func TestValidateFile(t *testing.T) {
	var out bytes.Buffer
	ok, err := validateFile(&out, writeFile(t, "greet.yaml", greetYAML))
	if err != nil || !ok {
		t.Fatalf("expected valid definition: %v %s", err, out.String())
	}

	out.Reset()
	bad := strings.Replace(greetYAML, "nodeType: transform", "nodeType: nope", 1)
	ok, err = validateFile(&out, writeFile(t, "bad.yaml", bad))
	if err != nil || ok {
		t.Fatalf("expected issues, got ok=%v err=%v", ok, err)
	}
	if !strings.Contains(out.String(), "nope") {
		t.Fatalf("issue should name the node type: %s", out.String())
	}
}

func TestPIDFile(t *testing.T) {
	t.Setenv("WEIR_HOME", t.TempDir())
	if _, err := readPID(); err == nil {
		t.Fatalf("expected missing pid file")
	}
	if err := writePID(os.Getpid()); err != nil {
		t.Fatal(err)
	}
	pid, err := readPID()
	if err != nil || pid != os.Getpid() {
		t.Fatalf("read back %d %v", pid, err)
	}
	if !isRunning(pid) {
		t.Fatalf("own process should be running")
	}
	removePIDFile()
	if _, err := readPID(); err == nil {
		t.Fatalf("pid file should be gone")
	}
}
