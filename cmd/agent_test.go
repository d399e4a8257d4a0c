package cmd

import (
	"context"
	"errors"
	"io"
	"testing"

	"mcphub/internal/agent"
	"mcphub/internal/cli"
)

func TestAgentCmdProperties(t *testing.T) {
	t.Run("agent command Use field", func(t *testing.T) {
		if agentCmd.Use != "agent" {
			t.Errorf("expected Use 'agent', got %q", agentCmd.Use)
		}
	})

	t.Run("agent command has short description", func(t *testing.T) {
		if agentCmd.Short == "" {
			t.Error("expected Short description to be set")
		}
	})

	t.Run("agent command has RunE", func(t *testing.T) {
		if agentCmd.RunE == nil {
			t.Error("expected RunE to be set")
		}
	})
}

func TestAgentFlags(t *testing.T) {
	expectedFlags := []string{"endpoint", "config-dir", "transport", "bearer", "verbose", "no-color", "json-rpc"}

	for _, name := range expectedFlags {
		if agentCmd.Flags().Lookup(name) == nil {
			t.Errorf("expected --%s flag to exist", name)
		}
	}

	t.Run("transport defaults to streamable-http", func(t *testing.T) {
		flag := agentCmd.Flags().Lookup("transport")
		if flag == nil {
			t.Fatal("expected --transport flag to exist")
		}
		if flag.DefValue != "streamable-http" {
			t.Errorf("expected default transport streamable-http, got %s", flag.DefValue)
		}
	})
}

func TestParseAgentTransport(t *testing.T) {
	tests := []struct {
		value    string
		expected agent.TransportType
		wantErr  bool
	}{
		{"sse", agent.TransportSSE, false},
		{"streamable-http", agent.TransportStreamableHTTP, false},
		{"stdio", "", true},
		{"", "", true},
		{"carrier-pigeon", "", true},
	}

	for _, tt := range tests {
		t.Run("value "+tt.value, func(t *testing.T) {
			transport, err := parseAgentTransport(tt.value)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseAgentTransport(%q) expected error, got %v", tt.value, transport)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseAgentTransport(%q) unexpected error: %v", tt.value, err)
			}
			if transport != tt.expected {
				t.Errorf("parseAgentTransport(%q) = %v, want %v", tt.value, transport, tt.expected)
			}
		})
	}
}

func quietAgentLogger() *agent.Logger {
	return agent.NewLoggerWithWriter(false, false, false, io.Discard)
}

func TestConnectWithRetry_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := agent.NewClient("http://127.0.0.1:1/mcp", quietAgentLogger(), agent.TransportStreamableHTTP)

	err := connectWithRetry(ctx, client, quietAgentLogger(), "http://127.0.0.1:1/mcp", agent.TransportStreamableHTTP)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestConnectWithRetry_ClassifiesConnectionError(t *testing.T) {
	// Port 1 is never listening, so every attempt fails with a refused
	// connection and the classified error maps to the connection exit code.
	endpoint := "http://127.0.0.1:1/mcp"
	client := agent.NewClient(endpoint, quietAgentLogger(), agent.TransportStreamableHTTP)

	err := connectWithRetry(context.Background(), client, quietAgentLogger(), endpoint, agent.TransportStreamableHTTP)
	if err == nil {
		t.Fatal("expected connection failure")
	}

	var connErr *cli.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %T: %v", err, err)
	}
	if connErr.Endpoint != endpoint {
		t.Errorf("expected endpoint %q, got %q", endpoint, connErr.Endpoint)
	}

	if code := getExitCode(err); code != ExitCodeConnection {
		t.Errorf("expected exit code %d, got %d", ExitCodeConnection, code)
	}
}
