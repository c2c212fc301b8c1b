package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"proctor-quiz-service/internal/auth"
)

func TestTokenCommandIssuesVerifiableToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := "auth:\n  secret: cli-secret\n  issuer: cli-test\n  token_ttl: 1h\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("JWT_SECRET", "")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--config", path, "--user", "u42", "--name", "Grace", "--admin"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}

	id, err := auth.NewService("cli-secret", "cli-test", time.Hour).Verify(strings.TrimSpace(out.String()))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if id.UserID != "u42" || id.Name != "Grace" || !id.IsAdmin() {
		t.Fatalf("unexpected identity %+v", id)
	}
}

func TestResolvePort(t *testing.T) {
	if got := resolvePort("9000", "8080", "1"); got != "9000" {
		t.Fatalf("flag should win, got %s", got)
	}
	if got := resolvePort("", "8080", "1"); got != "8080" {
		t.Fatalf("config should win over fallback, got %s", got)
	}
	if got := resolvePort("", "", "1"); got != "1" {
		t.Fatalf("expected fallback, got %s", got)
	}
}
