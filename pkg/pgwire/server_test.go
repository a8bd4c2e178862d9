package pgwire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgproto3"
	"golang.org/x/crypto/bcrypt"

	"github.com/kruthik-b-s/portfolio/pkg/auth"
	"github.com/kruthik-b-s/portfolio/pkg/catalog"
	"github.com/kruthik-b-s/portfolio/pkg/source"
	"github.com/kruthik-b-s/portfolio/pkg/sql"
)

func setupServer(t *testing.T, store source.Store) *Server {
	t.Helper()

	if store == nil {
		sample, err := source.Sample()
		if err != nil {
			t.Fatalf("failed to load sample: %v", err)
		}
		store = sample
	}

	return startServer(t, ServerConfig{
		Host:         "127.0.0.1",
		Engine:       sql.NewEngine(catalog.Portfolio(), store),
		QueryTimeout: 5 * time.Second,
	})
}

func startServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()

	server := NewServer(cfg)
	if err := server.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func connect(t *testing.T, server *Server) *pgx.Conn {
	t.Helper()

	conn, err := dial(server, "tester")
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(context.Background()) })
	return conn
}

func dial(server *Server, userinfo string) (*pgx.Conn, error) {
	port := server.Addr().(*net.TCPAddr).Port
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return pgx.Connect(ctx, fmt.Sprintf("postgres://%s@127.0.0.1:%d/portfolio?sslmode=disable", userinfo, port))
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(ServerConfig{Host: "127.0.0.1"})
	if err := server.Start(0); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if server.Addr() == nil {
		t.Fatal("Addr should be set after Start")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}
}

func TestSimpleProtocolQuery(t *testing.T) {
	conn := connect(t, setupServer(t, nil))
	ctx := context.Background()

	rows, err := conn.Query(ctx,
		"SELECT skill, proficiency FROM skills WHERE category = 'DevOps' ORDER BY proficiency DESC",
		pgx.QueryExecModeSimpleProtocol)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}

	fields := rows.FieldDescriptions()
	if len(fields) != 2 || fields[0].Name != "skill" || fields[0].DataTypeOID != OIDText || fields[1].DataTypeOID != OIDFloat8 {
		t.Errorf("unexpected fields: %+v", fields)
	}

	type skill struct {
		name  string
		score float64
	}
	var got []skill
	for rows.Next() {
		var s skill
		if err := rows.Scan(&s.name, &s.score); err != nil {
			t.Fatalf("scan failed: %v", err)
		}
		got = append(got, s)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows error: %v", err)
	}

	want := []skill{{"Docker", 78}, {"Kubernetes", 60}}
	if len(got) != len(want) {
		t.Fatalf("got %d rows, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	if tag := rows.CommandTag(); tag.String() != "SELECT 2" {
		t.Errorf("command tag = %q, want SELECT 2", tag.String())
	}
}

func TestExtendedProtocolQuery(t *testing.T) {
	conn := connect(t, setupServer(t, nil))
	ctx := context.Background()

	// The second run reuses the cached prepared statement.
	for i := 0; i < 2; i++ {
		var n float64
		if err := conn.QueryRow(ctx, "SELECT COUNT(*) AS n FROM skills").Scan(&n); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		if n != 8 {
			t.Errorf("run %d: count = %v, want 8", i, n)
		}
	}

	var name string
	if err := conn.QueryRow(ctx, "SELECT skill FROM skills WHERE id = 1").Scan(&name); err != nil {
		t.Fatalf("text column: %v", err)
	}
	if name != "Go" {
		t.Errorf("skill = %q, want Go", name)
	}
}

func TestNullValues(t *testing.T) {
	conn := connect(t, setupServer(t, nil))

	for _, mode := range []pgx.QueryExecMode{pgx.QueryExecModeSimpleProtocol, pgx.QueryExecModeCacheStatement} {
		var title string
		var published *string
		err := conn.QueryRow(context.Background(), "SELECT title, published_date FROM blogs WHERE id = 6", mode).Scan(&title, &published)
		if err != nil {
			t.Fatalf("mode %v: %v", mode, err)
		}
		if published != nil {
			t.Errorf("mode %v: published_date = %q, want NULL", mode, *published)
		}
	}
}

func TestQueryErrors(t *testing.T) {
	conn := connect(t, setupServer(t, nil))
	ctx := context.Background()

	tests := []struct {
		name  string
		query string
		code  string
	}{
		{"mutation", "DELETE FROM skills", "25006"},
		{"unknown table", "SELECT * FROM nope", "42P01"},
		{"unknown column", "SELECT nope FROM skills", "42703"},
		{"syntax", "SELEC skill FROM skills", "42601"},
		{"empty result", "SELECT * FROM skills WHERE id = 999", "02000"},
		{"multi statement", "SELECT * FROM skills; SELECT * FROM blogs", "0A000"},
	}

	for _, tt := range tests {
		for _, mode := range []pgx.QueryExecMode{pgx.QueryExecModeSimpleProtocol, pgx.QueryExecModeDescribeExec} {
			t.Run(fmt.Sprintf("%s/%v", tt.name, mode), func(t *testing.T) {
				if tt.name == "multi statement" && mode != pgx.QueryExecModeSimpleProtocol {
					t.Skip("multiple statements only travel over the simple protocol")
				}
				_, err := conn.Exec(ctx, tt.query, mode)
				var pgErr *pgconn.PgError
				if !errors.As(err, &pgErr) {
					t.Fatalf("expected a PgError, got %v", err)
				}
				if pgErr.Code != tt.code {
					t.Errorf("code = %s, want %s (%s)", pgErr.Code, tt.code, pgErr.Message)
				}
			})
		}
	}

	// The session stays usable after errors.
	var n float64
	if err := conn.QueryRow(ctx, "SELECT COUNT(*) FROM blogs").Scan(&n); err != nil {
		t.Fatalf("query after errors: %v", err)
	}
}

func TestParametersRejected(t *testing.T) {
	conn := connect(t, setupServer(t, nil))

	var name string
	if err := conn.QueryRow(context.Background(), "SELECT skill FROM skills WHERE id = $1", 1).Scan(&name); err == nil {
		t.Fatal("expected parameters to be rejected")
	}
}

// blockingStore holds every fetch until the query context ends.
type blockingStore struct {
	started chan struct{}
	once    sync.Once
}

func (s *blockingStore) FetchTable(ctx context.Context, table string) ([]map[string]any, error) {
	s.once.Do(func() { close(s.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *blockingStore) CountRows(ctx context.Context, table string) (int, error) {
	return 0, nil
}

func TestCancelRequest(t *testing.T) {
	store := &blockingStore{started: make(chan struct{})}
	conn := connect(t, setupServer(t, store))

	errCh := make(chan error, 1)
	go func() {
		_, err := conn.Exec(context.Background(), "SELECT * FROM skills", pgx.QueryExecModeSimpleProtocol)
		errCh <- err
	}()

	select {
	case <-store.started:
	case <-time.After(5 * time.Second):
		t.Fatal("query never reached the store")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.PgConn().CancelRequest(ctx); err != nil {
		t.Fatalf("cancel request failed: %v", err)
	}

	select {
	case err := <-errCh:
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != "57014" {
			t.Errorf("error = %v, want SQLSTATE 57014", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("query was not canceled")
	}
}

func TestMultipleConnections(t *testing.T) {
	server := setupServer(t, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		conn := connect(t, server)
		wg.Add(1)
		go func() {
			defer wg.Done()
			var n float64
			if err := conn.QueryRow(context.Background(), "SELECT COUNT(*) FROM experience").Scan(&n); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("query failed: %v", err)
	}

	if n := server.ActiveConnections(); n != 5 {
		t.Errorf("ActiveConnections = %d, want 5", n)
	}
}

// rawClient drives the server message by message for cases pgx never
// produces.
type rawClient struct {
	conn     net.Conn
	frontend *pgproto3.Frontend
}

func dialRaw(t *testing.T, server *Server) *rawClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", server.Addr().String(), 5*time.Second)
	if err != nil {
		t.Fatalf("Failed to connect: %v", err)
	}
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
	t.Cleanup(func() { _ = conn.Close() })
	return &rawClient{conn: conn, frontend: pgproto3.NewFrontend(conn, conn)}
}

func (c *rawClient) send(t *testing.T, msg pgproto3.FrontendMessage) {
	t.Helper()
	c.frontend.Send(msg)
	if err := c.frontend.Flush(); err != nil {
		t.Fatalf("send %T: %v", msg, err)
	}
}

func (c *rawClient) startup(t *testing.T, version uint32) {
	t.Helper()
	c.send(t, &pgproto3.StartupMessage{
		ProtocolVersion: version,
		Parameters:      map[string]string{"user": "tester", "database": "portfolio"},
	})
}

// untilReady collects messages up to and including ReadyForQuery.
func (c *rawClient) untilReady(t *testing.T) []pgproto3.BackendMessage {
	t.Helper()
	var msgs []pgproto3.BackendMessage
	for {
		msg, err := c.frontend.Receive()
		if err != nil {
			t.Fatalf("receive: %v (after %d messages)", err, len(msgs))
		}
		msgs = append(msgs, retain(msg))
		if _, ok := msg.(*pgproto3.ReadyForQuery); ok {
			return msgs
		}
	}
}

// retain copies the messages the tests inspect. Frontend reuses one struct
// per message type, and its byte slices alias the read buffer, so a message
// is only valid until the next Receive.
func retain(msg pgproto3.BackendMessage) pgproto3.BackendMessage {
	switch m := msg.(type) {
	case *pgproto3.DataRow:
		values := make([][]byte, len(m.Values))
		for i, v := range m.Values {
			if v != nil {
				values[i] = append([]byte{}, v...)
			}
		}
		return &pgproto3.DataRow{Values: values}
	case *pgproto3.ParameterStatus:
		return &pgproto3.ParameterStatus{Name: m.Name, Value: m.Value}
	case *pgproto3.BackendKeyData:
		cp := *m
		return &cp
	case *pgproto3.CommandComplete:
		return &pgproto3.CommandComplete{CommandTag: append([]byte{}, m.CommandTag...)}
	case *pgproto3.ErrorResponse:
		cp := *m
		return &cp
	default:
		return msg
	}
}

func TestSSLRequestThenStartup(t *testing.T) {
	c := dialRaw(t, setupServer(t, nil))

	c.send(t, &pgproto3.SSLRequest{})
	response := make([]byte, 1)
	if _, err := c.conn.Read(response); err != nil {
		t.Fatalf("Failed to read SSL response: %v", err)
	}
	if response[0] != 'N' {
		t.Fatalf("Expected 'N' for SSL rejection, got %c", response[0])
	}

	c.startup(t, pgproto3.ProtocolVersionNumber)
	msgs := c.untilReady(t)
	if _, ok := msgs[0].(*pgproto3.AuthenticationOk); !ok {
		t.Errorf("first message = %T, want AuthenticationOk", msgs[0])
	}

	var key *pgproto3.BackendKeyData
	params := make(map[string]string)
	for _, msg := range msgs {
		switch m := msg.(type) {
		case *pgproto3.BackendKeyData:
			key = m
		case *pgproto3.ParameterStatus:
			params[m.Name] = m.Value
		}
	}
	if key == nil || key.ProcessID == 0 {
		t.Errorf("missing BackendKeyData: %+v", key)
	}
	if params["server_version"] != ServerVersion || params["default_transaction_read_only"] != "on" {
		t.Errorf("unexpected parameters: %v", params)
	}
}

func TestEmptyQuery(t *testing.T) {
	c := dialRaw(t, setupServer(t, nil))
	c.startup(t, pgproto3.ProtocolVersionNumber)
	c.untilReady(t)

	c.send(t, &pgproto3.Query{String: " ; "})
	msgs := c.untilReady(t)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want EmptyQueryResponse then ReadyForQuery", len(msgs))
	}
	if _, ok := msgs[0].(*pgproto3.EmptyQueryResponse); !ok {
		t.Errorf("first message = %T, want EmptyQueryResponse", msgs[0])
	}
}

func TestRowLimitedExecute(t *testing.T) {
	c := dialRaw(t, setupServer(t, nil))
	c.startup(t, pgproto3.ProtocolVersionNumber)
	c.untilReady(t)

	c.frontend.Send(&pgproto3.Parse{Query: "SELECT skill FROM skills WHERE category = 'DevOps' ORDER BY skill"})
	c.frontend.Send(&pgproto3.Bind{})
	c.frontend.Send(&pgproto3.Execute{MaxRows: 1})
	c.frontend.Send(&pgproto3.Execute{MaxRows: 1})
	c.send(t, &pgproto3.Sync{})

	var rows []string
	var suspended, completed int
	for _, msg := range c.untilReady(t) {
		switch m := msg.(type) {
		case *pgproto3.DataRow:
			rows = append(rows, string(m.Values[0]))
		case *pgproto3.PortalSuspended:
			suspended++
		case *pgproto3.CommandComplete:
			completed++
			if string(m.CommandTag) != "SELECT 1" {
				t.Errorf("command tag = %q, want SELECT 1", m.CommandTag)
			}
		case *pgproto3.ErrorResponse:
			t.Fatalf("unexpected error: %s", m.Message)
		}
	}

	if len(rows) != 2 || rows[0] != "Docker" || rows[1] != "Kubernetes" {
		t.Errorf("rows = %v, want [Docker Kubernetes]", rows)
	}
	if suspended != 1 || completed != 1 {
		t.Errorf("suspended = %d, completed = %d, want 1 and 1", suspended, completed)
	}
}

func TestExtendedErrorSkipsToSync(t *testing.T) {
	c := dialRaw(t, setupServer(t, nil))
	c.startup(t, pgproto3.ProtocolVersionNumber)
	c.untilReady(t)

	c.frontend.Send(&pgproto3.Parse{Query: "DELETE FROM skills"})
	c.frontend.Send(&pgproto3.Bind{})
	c.frontend.Send(&pgproto3.Execute{})
	c.send(t, &pgproto3.Sync{})

	msgs := c.untilReady(t)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want ParseComplete, ErrorResponse, ReadyForQuery", len(msgs))
	}
	errMsg, ok := msgs[1].(*pgproto3.ErrorResponse)
	if !ok || errMsg.Code != "25006" {
		t.Errorf("second message = %#v, want ErrorResponse 25006", msgs[1])
	}
}

func TestUnsupportedProtocolVersion(t *testing.T) {
	c := dialRaw(t, setupServer(t, nil))
	c.startup(t, 2<<16)

	msg, err := c.frontend.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if _, ok := msg.(*pgproto3.ErrorResponse); !ok {
		t.Errorf("got %T, want ErrorResponse", msg)
	}
}

func TestPasswordLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	users, err := auth.NewUsers(map[string]string{"reader": string(hash)})
	if err != nil {
		t.Fatalf("NewUsers: %v", err)
	}

	sample, err := source.Sample()
	if err != nil {
		t.Fatalf("failed to load sample: %v", err)
	}
	server := startServer(t, ServerConfig{
		Host:   "127.0.0.1",
		Engine: sql.NewEngine(catalog.Portfolio(), sample),
		Users:  users,
	})

	conn, err := dial(server, "reader:s3cret")
	if err != nil {
		t.Fatalf("login with the right password failed: %v", err)
	}
	_ = conn.Close(context.Background())

	tests := []struct {
		name     string
		userinfo string
	}{
		{"wrong password", "reader:nope"},
		{"unknown user", "writer:s3cret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, err := dial(server, tt.userinfo)
			if err == nil {
				_ = conn.Close(context.Background())
				t.Fatal("expected login to fail")
			}
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) || pgErr.Code != "28P01" {
				t.Errorf("error = %v, want SQLSTATE 28P01", err)
			}
		})
	}
}

func TestToSQLError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"unknown table", &sql.QueryError{Kind: sql.ErrUnknownTable}, "42P01"},
		{"missing from", &sql.QueryError{Kind: sql.ErrMissingFromClause}, "42601"},
		{"source", &sql.QueryError{Kind: sql.ErrSourceUnavailable, Err: errors.New("refused")}, "58000"},
		{"canceled", &sql.QueryError{Kind: sql.ErrSourceUnavailable, Err: context.Canceled}, "57014"},
		{"timeout", &sql.QueryError{Kind: sql.ErrSourceUnavailable, Err: context.DeadlineExceeded}, "57014"},
		{"protocol", protocolError("bad"), "08P01"},
		{"internal", errors.New("boom"), "XX000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toSQLError(tt.err).code; got != tt.code {
				t.Errorf("code = %s, want %s", got, tt.code)
			}
		})
	}
}
