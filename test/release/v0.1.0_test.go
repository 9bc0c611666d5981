package test

import (
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"
)

// TestCLIContract validates the v0.1.0 command surface and the behavioral
// contracts scripts depend on: every command group ships, bad input fails
// fast without a server, and failures stay machine-parseable in JSON mode.
func TestCLIContract(t *testing.T) {
	// 1. Build CLI
	tmpBin := "./governor_test_bin"
	buildCmd := exec.Command("go", "build", "-o", tmpBin, "../../cmd/governor")
	if out, err := buildCmd.CombinedOutput(); err != nil {
		t.Fatalf("Failed to build CLI: %v\n%s", err, string(out))
	}
	defer os.Remove(tmpBin)

	// Point every invocation at a dead server. Nothing below may depend on
	// a running daemon; port 1 refuses connections immediately.
	deadServer := "ALEUTIAN_GOVERNANCE_SERVER=http://127.0.0.1:1"

	// 2. Help output lists every command group
	t.Log("Running 'governor --help'...")
	helpCmd := exec.Command(tmpBin, "--help")
	out, err := helpCmd.CombinedOutput()
	output := string(out)
	if err != nil {
		t.Fatalf("Help command failed: %v\n%s", err, output)
	}

	groups := []string{"gate", "ledger", "policy", "feedback", "objectives", "symmetry", "status", "watch"}
	for _, group := range groups {
		if !strings.Contains(output, group) {
			t.Errorf("FAIL: Command group %q missing from help. Output:\n%s", group, output)
		}
	}

	// 3. Invalid verdicts are rejected locally, before any network call
	// A typo'd CI script must get a clear error, not a connection failure.
	t.Log("Running 'governor gate transition' with a bogus verdict...")
	badCmd := exec.Command(tmpBin, "gate", "transition", "--session", "rel-check", "--result", "MAYBE")
	badCmd.Env = append(os.Environ(), deadServer)
	out, err = badCmd.CombinedOutput()
	output = string(out)

	if err == nil {
		t.Fatalf("FAIL: Bogus verdict was accepted. Output:\n%s", output)
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 2 {
		t.Errorf("FAIL: Expected exit code 2 for bogus verdict, got: %v", err)
	}
	if !strings.Contains(output, `invalid gate result "MAYBE"`) {
		t.Errorf("FAIL: Error did not name the rejected verdict. Output:\n%s", output)
	}
	if strings.Contains(output, "connection refused") {
		t.Errorf("FAIL: Validation hit the network before checking the verdict. Output:\n%s", output)
	}

	// 4. JSON mode keeps failures machine-parseable
	// Even when the daemon is down, --json consumers get an envelope on
	// stdout instead of loose text.
	t.Log("Running 'governor --json ledger stats' against the dead server...")
	jsonCmd := exec.Command(tmpBin, "--json", "ledger", "stats")
	jsonCmd.Env = append(os.Environ(), deadServer)
	stdout, err := jsonCmd.Output()
	envelope := string(stdout)

	if err == nil {
		t.Fatal("FAIL: Expected an error against the dead server")
	}
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 2 {
		t.Errorf("FAIL: Expected exit code 2 for unreachable server, got: %v", err)
	}
	if !strings.Contains(envelope, `"api_version": "1.0"`) {
		t.Errorf("FAIL: JSON error envelope missing api_version. Stdout:\n%s", envelope)
	}
	if !strings.Contains(envelope, `"success": false`) {
		t.Errorf("FAIL: JSON error envelope missing success=false. Stdout:\n%s", envelope)
	}

	t.Log("SUCCESS: v0.1.0 CLI contracts hold.")
}
