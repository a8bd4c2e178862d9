// Package net provides the TCP line server for portfolioql.
// It allows multiple clients to connect and run read-only queries concurrently.
package net

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kruthik-b-s/portfolio/internal/logger"
	"github.com/kruthik-b-s/portfolio/pkg/metrics"
	"github.com/kruthik-b-s/portfolio/pkg/sql"
)

// Server is the TCP server for portfolioql.
type Server struct {
	listener     net.Listener
	logger       *logger.Logger
	engine       *sql.Engine
	host         string
	queryTimeout time.Duration

	// Connection management
	connID  atomic.Uint64
	conns   map[uint64]*Connection
	connsMu sync.Mutex

	// Lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running atomic.Bool
}

// ServerConfig holds configuration for the server.
type ServerConfig struct {
	Host   string
	Logger *logger.Logger
	Engine *sql.Engine
	// QueryTimeout bounds each query; zero means no bound.
	QueryTimeout time.Duration
}

// NewServer creates a new TCP server.
func NewServer(cfg ServerConfig) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		logger:       log.Named("tcp"),
		engine:       cfg.Engine,
		host:         cfg.Host,
		queryTimeout: cfg.QueryTimeout,
		conns:        make(map[uint64]*Connection),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the server listening on the specified port. Port 0 picks a
// free port, see Addr.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("%s:%d", s.host, port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.running.Store(true)

	s.logger.Infow("server started", "address", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop gracefully stops the server.
func (s *Server) Stop() error {
	if !s.running.Load() {
		return nil
	}
	s.running.Store(false)
	s.cancel()

	// Close listener to stop accepting new connections
	if s.listener != nil {
		_ = s.listener.Close()
	}

	// Close all active connections
	s.connsMu.Lock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()

	s.logger.Infow("server stopped")
	return nil
}

// acceptLoop accepts new connections.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.logger.Errorw("accept error", "error", err)
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection handles a client connection.
func (s *Server) handleConnection(netConn net.Conn) {
	defer s.wg.Done()

	connID := s.connID.Add(1)
	conn := NewConnection(connID, netConn, s.engine, s.logger)
	conn.queryTimeout = s.queryTimeout

	s.registerConn(conn)
	defer s.unregisterConn(connID)

	metrics.TCPConnections.Inc()
	defer metrics.TCPConnections.Dec()

	conn.logger.Debugw("client connected", "remote", netConn.RemoteAddr())

	conn.Handle(s.ctx)

	conn.logger.Debugw("client disconnected", "queries", conn.queries.Load())
}

// registerConn adds a connection to the active set.
func (s *Server) registerConn(conn *Connection) {
	s.connsMu.Lock()
	s.conns[conn.id] = conn
	s.connsMu.Unlock()
}

// unregisterConn removes a connection from the active set.
func (s *Server) unregisterConn(connID uint64) {
	s.connsMu.Lock()
	delete(s.conns, connID)
	s.connsMu.Unlock()
}

// ActiveConnections returns the number of active connections.
func (s *Server) ActiveConnections() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// Connection represents a client connection.
type Connection struct {
	id           uint64
	conn         net.Conn
	engine       *sql.Engine
	logger       *logger.Logger
	queryTimeout time.Duration
	queries      atomic.Uint64
	failed       atomic.Uint64
	closed       atomic.Bool
}

// NewConnection creates a new connection handler.
func NewConnection(id uint64, conn net.Conn, engine *sql.Engine, log *logger.Logger) *Connection {
	return &Connection{
		id:     id,
		conn:   conn,
		engine: engine,
		logger: log.ForConn(id),
	}
}

// Handle processes commands from the client.
func (c *Connection) Handle(ctx context.Context) {
	defer c.Close()

	c.send("portfolioql ready (read-only)\n")

	reader := bufio.NewReader(c.conn)
	var buffer strings.Builder

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF && !c.closed.Load() {
				c.logger.Debugw("read error", "error", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		// Accumulate input
		if buffer.Len() > 0 {
			buffer.WriteString(" ")
		}
		buffer.WriteString(line)

		input := buffer.String()
		if !strings.HasSuffix(input, ";") {
			continue
		}

		response, quit := c.execute(ctx, input)
		c.send(response)
		if quit {
			return
		}
		buffer.Reset()
	}
}

// execute runs one query or meta command and returns the response. quit
// reports that the client asked to disconnect.
func (c *Connection) execute(ctx context.Context, input string) (response string, quit bool) {
	cmd := strings.TrimSuffix(strings.TrimSpace(input), ";")

	switch strings.ToUpper(strings.TrimSpace(cmd)) {
	case "QUIT", "EXIT", "\\Q":
		return "Goodbye!\n", true
	case "HELP", "\\H", "\\?":
		return c.helpText(), false
	case "STATUS", "\\S":
		return c.statusText(), false
	}

	if c.queryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.queryTimeout)
		defer cancel()
	}

	c.queries.Add(1)
	result, err := c.engine.Execute(ctx, input)
	if err != nil {
		c.failed.Add(1)
		return fmt.Sprintf("ERROR: %v\n", err), false
	}

	return formatResult(result), false
}

// formatResult formats a query result for the wire protocol.
func formatResult(result *sql.Result) string {
	var sb strings.Builder

	sb.WriteString(strings.Join(result.Columns, "\t"))
	sb.WriteString("\n")

	for i := range result.Rows {
		row := result.Values(i)
		values := make([]string, len(row))
		for j, v := range row {
			if v.IsNull() {
				values[j] = "NULL"
			} else {
				values[j] = v.String()
			}
		}
		sb.WriteString(strings.Join(values, "\t"))
		sb.WriteString("\n")
	}

	sb.WriteString(fmt.Sprintf("(%d row(s))\n", len(result.Rows)))
	return sb.String()
}

// send writes a response to the client.
func (c *Connection) send(msg string) {
	if !c.closed.Load() {
		_, _ = c.conn.Write([]byte(msg))
	}
}

// Close closes the connection.
func (c *Connection) Close() {
	if c.closed.CompareAndSwap(false, true) {
		_ = c.conn.Close()
	}
}

// helpText returns help information.
func (c *Connection) helpText() string {
	return `Commands:
  HELP;              Show this help
  STATUS;            Show connection status
  EXIT;              Disconnect

Queries (read-only, end with ;):
  SELECT cols FROM table [JOIN ...] [WHERE ...]
         [GROUP BY ...] [HAVING ...] [ORDER BY ...] [LIMIT n];
`
}

// statusText returns status information.
func (c *Connection) statusText() string {
	return fmt.Sprintf("Connection ID: %d\nQueries: %d\nFailed: %d\nTables: %s\n",
		c.id, c.queries.Load(), c.failed.Load(), strings.Join(c.engine.Registry().Tables(), ", "))
}
