package testserver

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rpggio/optrack/internal/domain/activity"
	"github.com/rpggio/optrack/internal/mcp"
	"github.com/rpggio/optrack/internal/sqlite"
	"github.com/rpggio/optrack/internal/transport"
	"github.com/stretchr/testify/require"
)

// TestServer is a full HTTP stack over an in-memory database.
type TestServer struct {
	Server   *httptest.Server
	DB       *sqlite.DB
	Keys     *sqlite.APIKeyStore
	Activity *activity.Service
	Token    string
	UserID   string
}

// New starts a server that accepts token for userID on both /rpc and /mcp.
func New(t *testing.T, token, userID string) *TestServer {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := sqlite.New(dsn)
	require.NoError(t, err)
	require.NoError(t, db.RunMigrations())

	keys := sqlite.NewAPIKeyStore(db)
	activitySvc := activity.NewService(sqlite.NewActivityRepository(db), nil)

	router := transport.NewServer(transport.NewActivityHandler(activitySvc), transport.Options{
		Auth: transport.AuthMiddleware(keys),
	})
	router.Handle("/mcp", mcp.NewHTTPHandler(mcp.NewServer(mcp.Config{
		Services:      mcp.Services{Activity: activitySvc},
		Resolver:      keys,
		AuthEnabled:   true,
		TransportMode: "http",
	})))
	server := httptest.NewServer(router)

	ts := &TestServer{
		Server:   server,
		DB:       db,
		Keys:     keys,
		Activity: activitySvc,
		Token:    token,
		UserID:   userID,
	}

	require.NoError(t, ts.AddAPIKey(token, userID))

	t.Cleanup(func() {
		server.Close()
		_ = db.Close()
	})

	return ts
}

// AddAPIKey registers another bearer token.
func (ts *TestServer) AddAPIKey(token, userID string) error {
	return ts.Keys.Add(context.Background(), token, userID, "test")
}

// Client returns a JSON-RPC client authenticated as the server's user.
func (ts *TestServer) Client() *transport.Client {
	return transport.NewClient(ts.Server.URL, ts.Token, ts.Server.Client())
}
