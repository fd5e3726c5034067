package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/Tsinling0525/weir/cmd/api/server"
	"github.com/Tsinling0525/weir/config"
	"github.com/Tsinling0525/weir/logging"
)

func runServer() error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	app, err := server.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	fmt.Printf("Starting weir API server on %s (store=%s)\n", cfg.Addr(), cfg.Store)
	return app.Serve(ctx)
}

func usage() {
	fmt.Println("Usage:")
	fmt.Println("  weir server                         # start API server (foreground)")
	fmt.Println("  weir start                          # start background daemon")
	fmt.Println("  weir stop                           # stop background daemon")
	fmt.Println("  weir status                         # show daemon status")
	fmt.Println("  weir validate --file path           # check a definition without running it")
	fmt.Println("  weir run --file path [--data path]  # run a definition once, in process")
	fmt.Println("  weir inst ...                       # manage instances on the local server")
}

func instUsage() {
	fmt.Println("Usage: weir inst <deploy|start|ps|get|logs|send|cancel> [args]")
}

func fail(err error) {
	fmt.Println("error:", err)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		if err := runServer(); err != nil {
			fail(err)
		}
		return
	}
	switch os.Args[1] {
	case "server":
		if err := runServer(); err != nil {
			fail(err)
		}
	case "start":
		if err := startDaemon(); err != nil {
			fmt.Println("start error:", err)
			os.Exit(1)
		}
	case "stop":
		if err := stopDaemon(); err != nil {
			fmt.Println("stop error:", err)
			os.Exit(1)
		}
	case "status":
		if err := statusDaemon(); err != nil {
			fmt.Println("status error:", err)
			os.Exit(1)
		}
	case "validate":
		fs := flag.NewFlagSet("validate", flag.ExitOnError)
		file := fs.String("file", "", "Path to a YAML, JSON or n8n definition")
		_ = fs.Parse(os.Args[2:])
		if *file == "" {
			fmt.Println("--file is required")
			os.Exit(2)
		}
		ok, err := validateFile(os.Stdout, *file)
		if err != nil {
			fail(err)
		}
		if !ok {
			os.Exit(1)
		}
	case "run":
		fs := flag.NewFlagSet("run", flag.ExitOnError)
		file := fs.String("file", "", "Path to a YAML, JSON or n8n definition")
		data := fs.String("data", "", "Path to a YAML or JSON file with trigger data")
		_ = fs.Parse(os.Args[2:])
		if *file == "" {
			fmt.Println("--file is required")
			os.Exit(2)
		}
		if err := runFile(context.Background(), os.Stdout, *file, *data); err != nil {
			fail(err)
		}
	case "inst":
		if len(os.Args) < 3 {
			instUsage()
			os.Exit(2)
		}
		if err := runInst(os.Args[2], os.Args[3:]); err != nil {
			fail(err)
		}
	default:
		usage()
	}
}

func runInst(sub string, args []string) error {
	fs := flag.NewFlagSet("inst "+sub, flag.ExitOnError)
	id := fs.String("id", "", "Instance ID")
	switch sub {
	case "deploy":
		file := fs.String("file", "", "Path to a definition")
		_ = fs.Parse(args)
		if *file == "" {
			return fmt.Errorf("--file is required")
		}
		return instDeploy(*file)
	case "start":
		wf := fs.String("workflow", "", "Workflow ID or source workflow ID")
		data := fs.String("data", "", "Path to a YAML or JSON file with trigger data")
		_ = fs.Parse(args)
		if *wf == "" {
			return fmt.Errorf("--workflow is required")
		}
		return instStart(*wf, *id, *data)
	case "ps":
		status := fs.String("status", "", "Only list instances with this status")
		_ = fs.Parse(args)
		return instPS(*status)
	case "send":
		ai := fs.String("activity", "", "Waiting activity instance ID")
		data := fs.String("data", "", "Path to a YAML or JSON file with message data")
		_ = fs.Parse(args)
		if *ai == "" {
			return fmt.Errorf("--activity is required")
		}
		return instSend(*id, *ai, *data)
	case "get", "logs", "cancel":
		_ = fs.Parse(args)
		if *id == "" {
			return fmt.Errorf("--id is required")
		}
		switch sub {
		case "get":
			return instGet(*id)
		case "logs":
			return instLogs(*id)
		}
		return instCancel(*id)
	}
	instUsage()
	os.Exit(2)
	return nil
}

// --- Daemon helpers ---

func weirHomeDir() (string, error) {
	if v := os.Getenv("WEIR_HOME"); v != "" {
		return v, nil
	}
	h, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(h, ".weir"), nil
}

func ensureDir(path string) error {
	if fi, err := os.Stat(path); err == nil {
		if fi.IsDir() {
			return nil
		}
		return fmt.Errorf("%s exists and is not a directory", path)
	} else if os.IsNotExist(err) {
		return os.MkdirAll(path, 0o755)
	} else {
		return err
	}
}

func pidFilePath() (string, error) {
	base, err := weirHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "weir.pid"), nil
}

func logFilePath() (string, error) {
	base, err := weirHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "weir.log"), nil
}

func readPID() (int, error) {
	p, err := pidFilePath()
	if err != nil {
		return 0, err
	}
	b, err := os.ReadFile(p)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(b)))
}

func writePID(pid int) error {
	p, err := pidFilePath()
	if err != nil {
		return err
	}
	return os.WriteFile(p, []byte(strconv.Itoa(pid)), 0o644)
}

func removePIDFile() {
	if p, err := pidFilePath(); err == nil {
		_ = os.Remove(p)
	}
}

func isRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 only checks existence; EPERM means it exists but is not ours.
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

func startDaemon() error {
	home, err := weirHomeDir()
	if err != nil {
		return err
	}
	if err := ensureDir(home); err != nil {
		return err
	}
	if pid, err := readPID(); err == nil && isRunning(pid) {
		return fmt.Errorf("weir already running (pid %d)", pid)
	}

	logPath, _ := logFilePath()
	lf, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer lf.Close()
	_, _ = io.WriteString(lf, time.Now().Format(time.RFC3339)+" starting weir daemon\n")

	bin, err := os.Executable()
	if err != nil {
		return err
	}
	cmd := exec.Command(bin, "server")
	cmd.Stdout = lf
	cmd.Stderr = lf
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return err
	}
	if err := writePID(cmd.Process.Pid); err != nil {
		return err
	}
	fmt.Printf("weir started in background (pid %d). Logs: %s\n", cmd.Process.Pid, logPath)
	return nil
}

func stopDaemon() error {
	pid, err := readPID()
	if err != nil {
		return fmt.Errorf("cannot read pid file: %w", err)
	}
	if !isRunning(pid) {
		removePIDFile()
		fmt.Println("weir is not running")
		return nil
	}
	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		return err
	}
	// The server drains in-flight work before exiting.
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if !isRunning(pid) {
			removePIDFile()
			fmt.Println("weir stopped")
			return nil
		}
		time.Sleep(150 * time.Millisecond)
	}
	_ = syscall.Kill(pid, syscall.SIGKILL)
	removePIDFile()
	fmt.Println("weir force-stopped")
	return nil
}

func statusDaemon() error {
	pid, err := readPID()
	if err != nil {
		fmt.Println("weir not running (no pid file)")
		return nil
	}
	if isRunning(pid) {
		logPath, _ := logFilePath()
		fmt.Printf("weir running (pid %d). Logs: %s\n", pid, logPath)
	} else {
		fmt.Printf("weir not running (stale pid %d)\n", pid)
		removePIDFile()
	}
	return nil
}
