package net

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/kruthik-b-s/portfolio/pkg/catalog"
	"github.com/kruthik-b-s/portfolio/pkg/source"
	"github.com/kruthik-b-s/portfolio/pkg/sql"
)

func setupTestServer(t *testing.T, store source.Store) (*Server, string, func()) {
	t.Helper()

	if store == nil {
		sample, err := source.Sample()
		if err != nil {
			t.Fatalf("failed to load sample: %v", err)
		}
		store = sample
	}

	server := NewServer(ServerConfig{
		Host:         "127.0.0.1",
		Engine:       sql.NewEngine(catalog.Portfolio(), store),
		QueryTimeout: 5 * time.Second,
	})

	if err := server.Start(0); err != nil {
		t.Fatalf("failed to start server: %v", err)
	}

	cleanup := func() {
		server.Stop()
	}

	return server, server.Addr().String(), cleanup
}

// client pairs a connection with the reader buffering its responses.
type client struct {
	conn   net.Conn
	reader *bufio.Reader
}

func connectToServer(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	return &client{conn: conn, reader: bufio.NewReader(conn)}
}

func (c *client) skipWelcome() string {
	c.conn.SetDeadline(time.Now().Add(5 * time.Second))
	line, _ := c.reader.ReadString('\n')
	return line
}

func (c *client) Close() {
	c.conn.Close()
}

func sendAndReceive(t *testing.T, c *client, command string) string {
	t.Helper()

	c.conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := c.conn.Write([]byte(command + "\n")); err != nil {
		t.Fatalf("failed to send: %v", err)
	}

	var response strings.Builder
	for {
		line, err := c.reader.ReadString('\n')
		if err != nil {
			break
		}
		response.WriteString(line)
		// Check if we've received a complete response
		if strings.Contains(line, "row(s))") ||
			strings.HasPrefix(line, "ERROR") ||
			strings.Contains(line, "Goodbye") ||
			strings.HasPrefix(line, "Tables:") ||
			strings.Contains(line, "[LIMIT n];") {
			break
		}
	}
	return response.String()
}

func TestServerStartStop(t *testing.T) {
	server, _, cleanup := setupTestServer(t, nil)
	defer cleanup()

	if server.ActiveConnections() != 0 {
		t.Errorf("expected 0 active connections, got %d", server.ActiveConnections())
	}
	if err := server.Stop(); err != nil {
		t.Errorf("stop: %v", err)
	}
	// A second stop is a no-op
	if err := server.Stop(); err != nil {
		t.Errorf("second stop: %v", err)
	}
}

func TestServerConnection(t *testing.T) {
	server, addr, cleanup := setupTestServer(t, nil)
	defer cleanup()

	conn := connectToServer(t, addr)
	defer conn.Close()

	if welcome := conn.skipWelcome(); !strings.Contains(welcome, "portfolioql") {
		t.Errorf("expected welcome message, got: %s", welcome)
	}

	// Give server time to register connection
	time.Sleep(50 * time.Millisecond)

	if server.ActiveConnections() != 1 {
		t.Errorf("expected 1 active connection, got %d", server.ActiveConnections())
	}
}

func TestServerHelpAndStatus(t *testing.T) {
	_, addr, cleanup := setupTestServer(t, nil)
	defer cleanup()

	conn := connectToServer(t, addr)
	defer conn.Close()
	conn.skipWelcome()

	response := sendAndReceive(t, conn, "HELP;")
	if !strings.Contains(response, "Commands:") {
		t.Errorf("expected help text, got: %s", response)
	}

	sendAndReceive(t, conn, "SELECT skill FROM skills;")
	sendAndReceive(t, conn, "DROP TABLE skills;")

	response = sendAndReceive(t, conn, "STATUS;")
	if !strings.Contains(response, "Queries: 2") || !strings.Contains(response, "Failed: 1") {
		t.Errorf("unexpected status: %s", response)
	}
}

func TestServerQuery(t *testing.T) {
	_, addr, cleanup := setupTestServer(t, nil)
	defer cleanup()

	conn := connectToServer(t, addr)
	defer conn.Close()
	conn.skipWelcome()

	response := sendAndReceive(t, conn, "SELECT skill, proficiency FROM skills WHERE category = 'DevOps' ORDER BY proficiency DESC;")
	want := "skill\tproficiency\nDocker\t78\nKubernetes\t60\n(2 row(s))\n"
	if response != want {
		t.Errorf("response = %q, want %q", response, want)
	}
}

func TestServerMultilineQuery(t *testing.T) {
	_, addr, cleanup := setupTestServer(t, nil)
	defer cleanup()

	conn := connectToServer(t, addr)
	defer conn.Close()
	conn.skipWelcome()

	conn.conn.Write([]byte("SELECT title, published_date\n"))
	conn.conn.Write([]byte("FROM blogs\n"))
	response := sendAndReceive(t, conn, "WHERE id = 6;")

	if !strings.Contains(response, "NULL") || !strings.Contains(response, "(1 row(s))") {
		t.Errorf("unexpected response: %s", response)
	}
}

func TestServerRejectsMutation(t *testing.T) {
	_, addr, cleanup := setupTestServer(t, nil)
	defer cleanup()

	conn := connectToServer(t, addr)
	defer conn.Close()
	conn.skipWelcome()

	tests := []struct {
		query string
		want  string
	}{
		{"INSERT INTO skills VALUES (9, 'x', 'y', 1);", "ERROR: mutation rejected"},
		{"SELECT * FROM users;", "ERROR: unknown table"},
		{"SELECT skill FROM skills WHERE proficiency > 100;", "ERROR: empty result"},
	}
	for _, tt := range tests {
		if response := sendAndReceive(t, conn, tt.query); !strings.HasPrefix(response, tt.want) {
			t.Errorf("%s: got %q, want prefix %q", tt.query, response, tt.want)
		}
	}
}

type failingStore struct{}

func (failingStore) FetchTable(ctx context.Context, table string) ([]map[string]any, error) {
	return nil, errors.New("connection refused")
}

func (failingStore) CountRows(ctx context.Context, table string) (int, error) {
	return 0, errors.New("connection refused")
}

func TestServerSourceUnavailable(t *testing.T) {
	_, addr, cleanup := setupTestServer(t, failingStore{})
	defer cleanup()

	conn := connectToServer(t, addr)
	defer conn.Close()
	conn.skipWelcome()

	response := sendAndReceive(t, conn, "SELECT * FROM skills;")
	if !strings.HasPrefix(response, "ERROR: source unavailable") {
		t.Errorf("unexpected response: %s", response)
	}
}

func TestServerExit(t *testing.T) {
	server, addr, cleanup := setupTestServer(t, nil)
	defer cleanup()

	conn := connectToServer(t, addr)
	defer conn.Close()
	conn.skipWelcome()

	if response := sendAndReceive(t, conn, "EXIT;"); !strings.Contains(response, "Goodbye") {
		t.Errorf("expected goodbye, got: %s", response)
	}

	time.Sleep(50 * time.Millisecond)
	if server.ActiveConnections() != 0 {
		t.Errorf("expected 0 active connections after exit, got %d", server.ActiveConnections())
	}
}

func TestServerMultipleConnections(t *testing.T) {
	server, addr, cleanup := setupTestServer(t, nil)
	defer cleanup()

	conn1 := connectToServer(t, addr)
	defer conn1.Close()

	conn2 := connectToServer(t, addr)
	defer conn2.Close()

	conn1.skipWelcome()
	conn2.skipWelcome()

	// Give server time to register connections
	time.Sleep(100 * time.Millisecond)

	if server.ActiveConnections() != 2 {
		t.Errorf("expected 2 active connections, got %d", server.ActiveConnections())
	}

	r1 := sendAndReceive(t, conn1, "SELECT COUNT(*) AS n FROM skills;")
	r2 := sendAndReceive(t, conn2, "SELECT COUNT(*) AS n FROM skills;")
	if r1 != r2 || !strings.Contains(r1, "8") {
		t.Errorf("connections disagree: %q vs %q", r1, r2)
	}
}
