package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"testing"
)

// TestMain doubles as the external binary when GTPEER_HELPER_PROCESS is
// set: it echoes its arguments and exits with GTPEER_HELPER_EXIT.
func TestMain(m *testing.M) {
	if os.Getenv("GTPEER_HELPER_PROCESS") == "1" {
		fmt.Fprint(os.Stdout, strings.Join(os.Args[1:], " "))
		code, _ := strconv.Atoi(os.Getenv("GTPEER_HELPER_EXIT"))
		os.Exit(code)
	}
	os.Exit(m.Run())
}

func helperRunner(t *testing.T, exit int, stdout *bytes.Buffer) Runner {
	t.Helper()
	t.Setenv("GTPEER_HELPER_PROCESS", "1")
	t.Setenv("GTPEER_HELPER_EXIT", strconv.Itoa(exit))
	return Runner{
		Binary: os.Args[0],
		Stdout: stdout,
		Stderr: &bytes.Buffer{},
	}
}

func TestCommandLine(t *testing.T) {
	r := Runner{Args: []string{"-logLevel", "debug"}}
	cmd, err := r.Command(context.Background(), ModeServer, "/etc/gt.yaml", "-x")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"gt", "server", "-config", "/etc/gt.yaml", "-logLevel", "debug", "-x"}
	if strings.Join(cmd.Args, " ") != strings.Join(want, " ") {
		t.Errorf("args = %q, want %q", cmd.Args, want)
	}
	if cmd.Stdout != os.Stdout || cmd.Stdin != os.Stdin {
		t.Error("standard streams are not inherited")
	}

	cmd, err = r.Command(context.Background(), ModeClient, "")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(cmd.Args[1:2], " "); got != "client" || len(cmd.Args) != 4 {
		t.Errorf("args = %q", cmd.Args)
	}

	if _, err := r.Command(context.Background(), "proxy", ""); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestRunPassesArguments(t *testing.T) {
	var out bytes.Buffer
	r := helperRunner(t, 0, &out)
	r.Args = []string{"-logLevel", "info"}

	if err := r.Run(context.Background(), ModeClient, "c.yaml"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := "client -config c.yaml -logLevel info"; out.String() != want {
		t.Errorf("stdout = %q, want %q", out.String(), want)
	}
}

func TestRunExitCode(t *testing.T) {
	var out bytes.Buffer
	r := helperRunner(t, 3, &out)

	err := r.Run(context.Background(), ModeServer, "", "extra")
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Run error = %v, want *exec.ExitError", err)
	}
	if ExitCode(err) != 3 {
		t.Errorf("ExitCode = %d, want 3", ExitCode(err))
	}
	if out.String() != "server extra" {
		t.Errorf("stdout = %q", out.String())
	}
}

func TestRunMissingBinary(t *testing.T) {
	r := Runner{Binary: "/nonexistent/gt"}
	err := r.Run(context.Background(), ModeServer, "")
	if err == nil || ExitCode(err) != 1 {
		t.Fatalf("Run = %v", err)
	}
}

func TestExitCode(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Error("ExitCode(nil) != 0")
	}
	if ExitCode(errors.New("boom")) != 1 {
		t.Error("ExitCode(plain error) != 1")
	}
}
