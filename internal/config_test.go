package internal

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/starford/carenotes/internal/auth"
	pkgconfig "github.com/starford/carenotes/pkg/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := NewDefaultConfig().Validate(); err != nil {
		t.Fatalf("default config: %v", err)
	}
}

func TestAuthConfig_DisabledMode(t *testing.T) {
	cfg := NewDefaultConfig().Auth
	if err := cfg.Validate(); err != nil {
		t.Fatalf("disabled mode should pass: %v", err)
	}
	if cfg.AuthEnabled() {
		t.Error("disabled mode should not be enabled")
	}
}

func TestAuthConfig_EmptyModeDefaultsDisabled(t *testing.T) {
	cfg := NewDefaultConfig().Auth
	cfg.Mode = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("empty mode should default to disabled: %v", err)
	}
	if cfg.Mode != AuthModeDisabled {
		t.Errorf("mode = %q, want %q", cfg.Mode, AuthModeDisabled)
	}
}

func TestAuthConfig_DisabledNeedsAnonymous(t *testing.T) {
	cfg := AuthConfig{Mode: AuthModeDisabled}
	if err := cfg.Validate(); err == nil {
		t.Fatal("disabled mode without anonymous principal should fail")
	}
}

func TestAuthConfig_PasswordModeValid(t *testing.T) {
	cfg := AuthConfig{
		Mode:  AuthModePassword,
		Users: []auth.User{{ID: "u1", Name: "alice", PasswordHash: "$argon2id$..."}},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("password mode with users should pass: %v", err)
	}
	if !cfg.AuthEnabled() {
		t.Error("password mode should be enabled")
	}
}

func TestAuthConfig_PasswordModeWithoutUsers(t *testing.T) {
	cfg := AuthConfig{Mode: AuthModePassword}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("password mode without users should fail")
	}
	if !strings.Contains(err.Error(), "no users") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestAuthConfig_DuplicateUser(t *testing.T) {
	cfg := AuthConfig{
		Mode: AuthModePassword,
		Users: []auth.User{
			{ID: "u1", Name: "alice", PasswordHash: "h"},
			{ID: "u2", Name: "alice", PasswordHash: "h"},
		},
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Errorf("err = %v", err)
	}
}

func TestAuthConfig_InvalidMode(t *testing.T) {
	cfg := NewDefaultConfig().Auth
	cfg.Mode = "magic"
	if err := cfg.Validate(); err == nil {
		t.Fatal("invalid mode should fail validation")
	}
}

func TestIndexConfig(t *testing.T) {
	cfg := NewDefaultConfig().Index
	cfg.Driver = ""
	if err := cfg.Validate(); err != nil || cfg.Driver != IndexDriverSQLite {
		t.Fatalf("empty driver: %v, %q", err, cfg.Driver)
	}

	cfg.Driver = IndexDriverPostgres
	if err := cfg.Validate(); err == nil {
		t.Error("postgres without host should fail")
	}
	cfg.Postgres.Host = "db"
	cfg.Postgres.Username = "care"
	cfg.Postgres.DatabaseName = "notes"
	if err := cfg.Validate(); err != nil {
		t.Errorf("postgres: %v", err)
	}

	cfg.Driver = "mongo"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown driver should fail")
	}
}

func TestMediaConfig_ShortSecret(t *testing.T) {
	cfg := MediaConfig{Secret: "short", TTL: time.Minute}
	if err := cfg.Validate(); err == nil {
		t.Error("short secret should fail")
	}
}

func TestFeedConfig_Schedule(t *testing.T) {
	cfg := NewDefaultConfig().Feed
	cfg.Refresh = "every now and then"
	if err := cfg.Validate(); err == nil {
		t.Error("bad schedule should fail")
	}
	cfg.Refresh = "*/5 * * * *"
	if err := cfg.Validate(); err != nil {
		t.Errorf("cron expression: %v", err)
	}
}

func TestFullConfig_AuthValidationCalled(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Auth.Mode = AuthModePassword
	if err := cfg.Validate(); err == nil {
		t.Fatal("full config validate should catch auth error")
	}
}

func TestLoadYAML(t *testing.T) {
	const hash = "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA$aGFzaA"
	t.Setenv("TEST_MEDIA_SECRET", "0123456789abcdef0123")
	// Hashes contain '$', so they come in through the environment.
	t.Setenv("TEST_ALICE_HASH", hash)
	body := `
app:
  log_level: debug
  http:
    port: 9090
vault:
  path: /srv/vault
index:
  driver: sqlite
  sqlite:
    path: /srv/index.db
auth:
  mode: password
  session_ttl: 12h
  users:
    - id: u1
      name: alice
      password_hash: "${TEST_ALICE_HASH}"
media:
  secret: ${TEST_MEDIA_SECRET}
  ttl: 2m
mcp:
  user:
    user_id: u1
    name: alice
feed:
  refresh: "@every 1m"
`
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := NewDefaultConfig()
	if err := pkgconfig.Load(p, cfg); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.HTTP.Port != 9090 || cfg.Auth.SessionTTL != 12*time.Hour || cfg.Media.TTL != 2*time.Minute {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Media.Secret != "0123456789abcdef0123" || cfg.MCP.User.UserID != "u1" {
		t.Errorf("media/mcp = %+v %+v", cfg.Media, cfg.MCP)
	}
	if len(cfg.Auth.Users) != 1 || cfg.Auth.Users[0].Name != "alice" || cfg.Auth.Users[0].PasswordHash != hash {
		t.Errorf("users = %+v", cfg.Auth.Users)
	}
	// Defaults survive for keys the file omits.
	if cfg.Feed.Limit != 50 || cfg.Auth.LoginBurst != 5 {
		t.Errorf("defaults lost: %+v %+v", cfg.Feed, cfg.Auth)
	}
}
