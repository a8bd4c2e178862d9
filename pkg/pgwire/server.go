package pgwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgproto3"

	"github.com/kruthik-b-s/portfolio/internal/logger"
	"github.com/kruthik-b-s/portfolio/pkg/auth"
	"github.com/kruthik-b-s/portfolio/pkg/metrics"
	"github.com/kruthik-b-s/portfolio/pkg/sql"
)

// Server accepts PostgreSQL protocol connections and answers them from the
// query engine.
type Server struct {
	listener     net.Listener
	logger       *logger.Logger
	engine       *sql.Engine
	users        *auth.Users
	host         string
	queryTimeout time.Duration

	nextID  atomic.Uint32
	conns   map[uint32]*Conn
	connsMu sync.Mutex

	wg      sync.WaitGroup
	running atomic.Bool
}

// ServerConfig holds configuration for the server.
type ServerConfig struct {
	Host   string
	Logger *logger.Logger
	Engine *sql.Engine
	// Users, when non-empty, requires a cleartext password login.
	Users *auth.Users
	// QueryTimeout bounds each query; zero means no bound.
	QueryTimeout time.Duration
}

// NewServer creates a new PostgreSQL protocol server.
func NewServer(cfg ServerConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &Server{
		logger:       log.Named("pgwire"),
		engine:       cfg.Engine,
		users:        cfg.Users,
		host:         cfg.Host,
		queryTimeout: cfg.QueryTimeout,
		conns:        make(map[uint32]*Conn),
	}
}

// Start listens on port; port 0 picks a free one, see Addr.
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

// Stop closes the listener and every open connection.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.connsMu.Lock()
	for _, c := range s.conns {
		c.close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	s.logger.Infow("server stopped")
	return nil
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for s.running.Load() {
		netConn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.logger.Errorw("accept error", "error", err)
			}
			continue
		}

		s.wg.Add(1)
		go s.handleConn(netConn)
	}
}

func (s *Server) handleConn(netConn net.Conn) {
	defer s.wg.Done()

	backend := pgproto3.NewBackend(netConn, netConn)
	backend.SetMaxBodyLen(maxMessageLength)

	c := &Conn{
		id:         s.nextID.Add(1),
		secret:     rand.Uint32(),
		server:     s,
		netConn:    netConn,
		backend:    backend,
		statements: make(map[string]*statement),
		portals:    make(map[string]*portal),
	}
	defer c.close()

	proceed, err := c.handleStartup()
	if err != nil {
		s.logger.Debugw("startup failed", "remote", netConn.RemoteAddr(), "error", err)
		return
	}
	if !proceed {
		return
	}

	s.register(c)
	defer s.unregister(c.id)

	metrics.PGConnections.Inc()
	defer metrics.PGConnections.Dec()

	s.logger.Debugw("client connected", logger.KeyConnID, c.id, "user", c.parameters["user"], "application", c.parameters["application_name"])
	if err := c.run(); err != nil && !errors.Is(err, io.EOF) && s.running.Load() {
		s.logger.Debugw("connection error", logger.KeyConnID, c.id, "error", err)
	}
	s.logger.Debugw("client disconnected", logger.KeyConnID, c.id, "queries", c.queries)
}

func (s *Server) register(c *Conn) {
	s.connsMu.Lock()
	s.conns[c.id] = c
	s.connsMu.Unlock()
}

func (s *Server) unregister(id uint32) {
	s.connsMu.Lock()
	delete(s.conns, id)
	s.connsMu.Unlock()
}

// cancelQuery aborts the running query of connection id if secret matches
// the key sent to that client.
func (s *Server) cancelQuery(id, secret uint32) {
	s.connsMu.Lock()
	c, ok := s.conns[id]
	s.connsMu.Unlock()
	if !ok || c.secret != secret {
		s.logger.Debugw("ignoring cancel request", logger.KeyConnID, id)
		return
	}
	c.cancelRunning()
}

// ActiveConnections returns the number of connections past startup.
func (s *Server) ActiveConnections() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// statement is a parsed prepared statement. The result computed while
// describing it is handed to the first portal bound from it.
type statement struct {
	query  string
	result *sql.Result
}

// portal is a bound statement ready to execute.
type portal struct {
	result  *sql.Result
	formats []int16
	sent    int
}

// Conn is one client session.
type Conn struct {
	id      uint32
	secret  uint32
	server  *Server
	netConn net.Conn
	backend *pgproto3.Backend

	parameters map[string]string
	statements map[string]*statement
	portals    map[string]*portal
	queries    int

	// skipping is set after an error in the extended protocol; messages are
	// discarded until the next Sync.
	skipping bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc
	closed   atomic.Bool
}

// handleStartup negotiates the session. It reports false when the
// connection carried a cancel request and should simply be closed.
func (c *Conn) handleStartup() (bool, error) {
	for {
		msg, err := c.backend.ReceiveStartupMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				c.sendError(protocolError(err.Error()))
				_ = c.backend.Flush()
			}
			return false, err
		}

		switch m := msg.(type) {
		case *pgproto3.SSLRequest, *pgproto3.GSSEncRequest:
			// Encryption is not offered; the client retries in plain text.
			if _, err := c.netConn.Write([]byte{'N'}); err != nil {
				return false, err
			}

		case *pgproto3.CancelRequest:
			c.server.cancelQuery(m.ProcessID, m.SecretKey)
			return false, nil

		case *pgproto3.StartupMessage:
			c.parameters = m.Parameters
			if c.parameters == nil {
				c.parameters = make(map[string]string)
			}
			if err := c.authenticate(); err != nil {
				return false, err
			}
			return true, c.sendStartupResponse()

		default:
			return false, fmt.Errorf("unexpected startup message %T", msg)
		}
	}
}

// authenticate asks for a cleartext password when the server has users.
func (c *Conn) authenticate() error {
	if !c.server.users.Enabled() {
		return nil
	}

	c.backend.Send(&pgproto3.AuthenticationCleartextPassword{})
	if err := c.backend.Flush(); err != nil {
		return err
	}
	if err := c.backend.SetAuthType(pgproto3.AuthTypeCleartextPassword); err != nil {
		return err
	}

	msg, err := c.backend.Receive()
	if err != nil {
		return err
	}
	user := c.parameters["user"]
	pw, ok := msg.(*pgproto3.PasswordMessage)
	if !ok {
		c.sendError(protocolError(fmt.Sprintf("expected password message, got %T", msg)))
		_ = c.backend.Flush()
		return fmt.Errorf("unexpected message %T during authentication", msg)
	}

	if err := c.server.users.Authenticate(user, pw.Password); err != nil {
		c.server.logger.Warnw("authentication failed", "user", user, "remote", c.netConn.RemoteAddr())
		c.sendError(&sqlError{code: "28P01", message: fmt.Sprintf("password authentication failed for user %q", user)})
		_ = c.backend.Flush()
		return fmt.Errorf("authentication failed for %q: %w", user, err)
	}
	return nil
}

func (c *Conn) sendStartupResponse() error {
	c.backend.Send(&pgproto3.AuthenticationOk{})

	params := []struct{ key, value string }{
		{"server_version", ServerVersion},
		{"server_encoding", "UTF8"},
		{"client_encoding", "UTF8"},
		{"DateStyle", "ISO, MDY"},
		{"TimeZone", "UTC"},
		{"integer_datetimes", "on"},
		{"standard_conforming_strings", "on"},
		{"default_transaction_read_only", "on"},
		{"application_name", c.parameters["application_name"]},
	}
	for _, p := range params {
		c.backend.Send(&pgproto3.ParameterStatus{Name: p.key, Value: p.value})
	}

	c.backend.Send(&pgproto3.BackendKeyData{ProcessID: c.id, SecretKey: c.secret})
	return c.sendReadyForQuery()
}

// run is the message loop of an established session.
func (c *Conn) run() error {
	for {
		msg, err := c.backend.Receive()
		if err != nil {
			return err
		}

		if _, ok := msg.(*pgproto3.Terminate); ok {
			return nil
		}
		if _, ok := msg.(*pgproto3.Sync); c.skipping && !ok {
			continue
		}

		if err := c.handleMessage(msg); err != nil {
			return err
		}
	}
}

// handleMessage dispatches one frontend message. Only write failures are
// returned; query errors are reported to the client.
func (c *Conn) handleMessage(msg pgproto3.FrontendMessage) error {
	switch m := msg.(type) {
	case *pgproto3.Query:
		return c.handleQuery(m.String)
	case *pgproto3.Parse:
		c.extended(c.handleParse(m))
	case *pgproto3.Bind:
		c.extended(c.handleBind(m))
	case *pgproto3.Describe:
		c.extended(c.handleDescribe(m))
	case *pgproto3.Execute:
		c.extended(c.handleExecute(m))
	case *pgproto3.Close:
		c.extended(c.handleClose(m))
	case *pgproto3.Flush:
		return c.backend.Flush()
	case *pgproto3.Sync:
		c.skipping = false
		return c.sendReadyForQuery()
	default:
		c.sendError(protocolError(fmt.Sprintf("unsupported message %T", msg)))
		return c.sendReadyForQuery()
	}
	return nil
}

// extended reports err to the client and starts skipping to the next Sync.
func (c *Conn) extended(err error) {
	if err != nil {
		c.sendError(err)
		c.skipping = true
	}
}

// handleQuery runs a simple-protocol query.
func (c *Conn) handleQuery(query string) error {
	if isEmptyQuery(query) {
		c.backend.Send(&pgproto3.EmptyQueryResponse{})
		return c.sendReadyForQuery()
	}

	res, err := c.runQuery(query)
	if err != nil {
		c.sendError(err)
		return c.sendReadyForQuery()
	}

	c.sendRowDescription(res, nil)
	c.sendRows(res, 0, len(res.Rows), nil)
	c.sendCommandComplete(len(res.Rows))
	return c.sendReadyForQuery()
}

// runQuery executes text under the connection's cancel handle.
func (c *Conn) runQuery(text string) (*sql.Result, error) {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if c.server.queryTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), c.server.queryTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	c.cancelMu.Lock()
	c.cancel = cancel
	c.cancelMu.Unlock()

	defer func() {
		c.cancelMu.Lock()
		c.cancel = nil
		c.cancelMu.Unlock()
		cancel()
	}()

	c.queries++
	return c.server.engine.Execute(ctx, text)
}

func (c *Conn) cancelRunning() {
	c.cancelMu.Lock()
	defer c.cancelMu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
}

func (c *Conn) handleParse(m *pgproto3.Parse) error {
	if len(m.ParameterOIDs) > 0 {
		return parametersError()
	}
	c.statements[m.Name] = &statement{query: m.Query}
	c.backend.Send(&pgproto3.ParseComplete{})
	return nil
}

func (c *Conn) handleBind(m *pgproto3.Bind) error {
	if len(m.Parameters) > 0 {
		return parametersError()
	}

	stmt, ok := c.statements[m.PreparedStatement]
	if !ok {
		return &sqlError{code: "26000", message: fmt.Sprintf("prepared statement %q does not exist", m.PreparedStatement)}
	}

	pt := &portal{formats: m.ResultFormatCodes}
	if stmt.result != nil {
		pt.result, stmt.result = stmt.result, nil
	} else if !isEmptyQuery(stmt.query) {
		res, err := c.runQuery(stmt.query)
		if err != nil {
			return err
		}
		pt.result = res
	}

	c.portals[m.DestinationPortal] = pt
	c.backend.Send(&pgproto3.BindComplete{})
	return nil
}

func (c *Conn) handleDescribe(m *pgproto3.Describe) error {
	switch m.ObjectType {
	case 'S':
		stmt, ok := c.statements[m.Name]
		if !ok {
			return &sqlError{code: "26000", message: fmt.Sprintf("prepared statement %q does not exist", m.Name)}
		}
		if isEmptyQuery(stmt.query) {
			c.backend.Send(&pgproto3.ParameterDescription{})
			c.backend.Send(&pgproto3.NoData{})
			return nil
		}
		if stmt.result == nil {
			res, err := c.runQuery(stmt.query)
			if err != nil {
				return err
			}
			stmt.result = res
		}
		c.backend.Send(&pgproto3.ParameterDescription{})
		c.sendRowDescription(stmt.result, nil)
		return nil

	case 'P':
		pt, ok := c.portals[m.Name]
		if !ok {
			return &sqlError{code: "34000", message: fmt.Sprintf("portal %q does not exist", m.Name)}
		}
		if pt.result == nil {
			c.backend.Send(&pgproto3.NoData{})
			return nil
		}
		c.sendRowDescription(pt.result, pt.formats)
		return nil

	default:
		return protocolError(fmt.Sprintf("invalid Describe target %q", m.ObjectType))
	}
}

func (c *Conn) handleExecute(m *pgproto3.Execute) error {
	pt, ok := c.portals[m.Portal]
	if !ok {
		return &sqlError{code: "34000", message: fmt.Sprintf("portal %q does not exist", m.Portal)}
	}
	if pt.result == nil {
		c.backend.Send(&pgproto3.EmptyQueryResponse{})
		return nil
	}

	end := len(pt.result.Rows)
	if limit := int(m.MaxRows); limit > 0 && pt.sent+limit < end {
		end = pt.sent + limit
	}
	c.sendRows(pt.result, pt.sent, end, pt.formats)
	n := end - pt.sent
	pt.sent = end

	if pt.sent < len(pt.result.Rows) {
		c.backend.Send(&pgproto3.PortalSuspended{})
		return nil
	}
	c.sendCommandComplete(n)
	return nil
}

func (c *Conn) handleClose(m *pgproto3.Close) error {
	switch m.ObjectType {
	case 'S':
		delete(c.statements, m.Name)
	case 'P':
		delete(c.portals, m.Name)
	default:
		return protocolError(fmt.Sprintf("invalid Close target %q", m.ObjectType))
	}
	c.backend.Send(&pgproto3.CloseComplete{})
	return nil
}

func (c *Conn) sendRowDescription(res *sql.Result, formats []int16) {
	fields := make([]pgproto3.FieldDescription, len(res.Columns))
	for i, col := range res.Columns {
		oid := columnOID(res, col)
		fields[i] = pgproto3.FieldDescription{
			Name:         []byte(col),
			DataTypeOID:  oid,
			DataTypeSize: typeSize(oid),
			TypeModifier: -1,
			Format:       formatFor(formats, i),
		}
	}
	c.backend.Send(&pgproto3.RowDescription{Fields: fields})
}

// sendRows queues rows [from, to) as DataRow messages.
func (c *Conn) sendRows(res *sql.Result, from, to int, formats []int16) {
	oids := make([]uint32, len(res.Columns))
	for i, col := range res.Columns {
		oids[i] = columnOID(res, col)
	}

	for r := from; r < to; r++ {
		values := make([][]byte, len(res.Columns))
		for i, v := range res.Values(r) {
			values[i] = encodeValue(v, oids[i], formatFor(formats, i))
		}
		c.backend.Send(&pgproto3.DataRow{Values: values})
	}
}

func (c *Conn) sendCommandComplete(rows int) {
	c.backend.Send(&pgproto3.CommandComplete{CommandTag: []byte(fmt.Sprintf("SELECT %d", rows))})
}

func (c *Conn) sendReadyForQuery() error {
	c.backend.Send(&pgproto3.ReadyForQuery{TxStatus: txnStatusIdle})
	return c.backend.Flush()
}

// sendError queues an ErrorResponse for err.
func (c *Conn) sendError(err error) {
	se := toSQLError(err)
	if se.code != "08P01" {
		c.server.logger.Debugw("query failed", logger.KeyConnID, c.id, "sqlstate", se.code, "error", err)
	}
	c.backend.Send(&pgproto3.ErrorResponse{
		Severity: "ERROR",
		Code:     se.code,
		Message:  se.message,
		Detail:   se.detail,
	})
}

func (c *Conn) close() {
	if c.closed.CompareAndSwap(false, true) {
		c.cancelRunning()
		_ = c.netConn.Close()
	}
}

// isEmptyQuery reports whether text holds no statement at all.
func isEmptyQuery(text string) bool {
	return strings.Trim(text, "; \t\r\n") == ""
}
