package config

import (
	"os"
	"testing"
)

func TestParseServerConfigRequiresModel(t *testing.T) {
	_, err := ParseServerConfig([]string{"--tts-model", "/models/tts"})
	if err == nil {
		t.Fatal("expected error when --model is missing")
	}
}

func TestParseServerConfigDefaults(t *testing.T) {
	cfg, err := ParseServerConfig([]string{"--model", "whisper", "--tts-model", "/models/tts"})
	if err != nil {
		t.Fatalf("ParseServerConfig: %v", err)
	}
	if cfg.Port != 9500 {
		t.Fatalf("expected default port 9500, got %d", cfg.Port)
	}
	if cfg.SocketPath == "" {
		t.Fatal("expected a default socket path")
	}
}

func TestParseServerConfigOverridesPort(t *testing.T) {
	cfg, err := ParseServerConfig([]string{"--model", "whisper", "--tts-model", "/models/tts", "--port", "9999"})
	if err != nil {
		t.Fatalf("ParseServerConfig: %v", err)
	}
	if cfg.Port != 9999 {
		t.Fatalf("expected overridden port 9999, got %d", cfg.Port)
	}
}

func TestParseOrchestratorConfigRequiresExistingAgentFile(t *testing.T) {
	_, err := ParseOrchestratorConfig([]string{"--agent", "/nonexistent/agent.md"})
	if err == nil {
		t.Fatal("expected error for nonexistent agent file")
	}
}

func TestParseOrchestratorConfigMock(t *testing.T) {
	agentPath := t.TempDir() + "/agent.md"
	if err := os.WriteFile(agentPath, []byte("you are helpful"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := ParseOrchestratorConfig([]string{"--agent", agentPath, "--mock"})
	if err != nil {
		t.Fatalf("ParseOrchestratorConfig: %v", err)
	}
	if !cfg.Mock {
		t.Fatal("expected Mock to be true")
	}
	if cfg.AgentPath != agentPath {
		t.Fatalf("expected AgentPath %q, got %q", agentPath, cfg.AgentPath)
	}
}

func TestParseOrchestratorConfigToolsDefaultAndOverride(t *testing.T) {
	agentPath := t.TempDir() + "/agent.md"
	if err := os.WriteFile(agentPath, []byte("you are helpful"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := ParseOrchestratorConfig([]string{"--agent", agentPath})
	if err != nil {
		t.Fatalf("ParseOrchestratorConfig: %v", err)
	}
	if len(cfg.Tools) != 1 || cfg.Tools[0] != "web_search" {
		t.Fatalf("expected default tools [web_search], got %v", cfg.Tools)
	}

	cfg, err = ParseOrchestratorConfig([]string{"--agent", agentPath, "--tools", "web_search, code_exec"})
	if err != nil {
		t.Fatalf("ParseOrchestratorConfig: %v", err)
	}
	if len(cfg.Tools) != 2 || cfg.Tools[0] != "web_search" || cfg.Tools[1] != "code_exec" {
		t.Fatalf("expected [web_search code_exec], got %v", cfg.Tools)
	}

	cfg, err = ParseOrchestratorConfig([]string{"--agent", agentPath, "--tools", ""})
	if err != nil {
		t.Fatalf("ParseOrchestratorConfig: %v", err)
	}
	if len(cfg.Tools) != 0 {
		t.Fatalf("expected empty tools to disable the allowlist, got %v", cfg.Tools)
	}
}

func TestParseClientConfigDefaultServer(t *testing.T) {
	cfg, err := ParseClientConfig(nil)
	if err != nil {
		t.Fatalf("ParseClientConfig: %v", err)
	}
	if cfg.Server == "" {
		t.Fatal("expected a default server address")
	}
}
