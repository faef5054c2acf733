package websockets_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	handler "github.com/chris/classifieds-wallet/pkg/handlers/websockets"
	"github.com/chris/classifieds-wallet/pkg/middleware"
	"github.com/chris/classifieds-wallet/pkg/storage/memory"
	"github.com/chris/classifieds-wallet/pkg/websockets"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connectEvent(connectionID, token string) events.APIGatewayWebsocketProxyRequest {
	return events.APIGatewayWebsocketProxyRequest{
		RequestContext:        events.APIGatewayWebsocketProxyRequestContext{ConnectionID: connectionID},
		QueryStringParameters: map[string]string{"token": token},
	}
}

func TestHandleConnect(t *testing.T) {
	ctx := context.Background()
	auth := middleware.NewAuthenticator("secret")

	t.Run("Success", func(t *testing.T) {
		store := memory.New()
		h := handler.NewHandler(store, auth)
		token, err := auth.IssueToken("user-a", middleware.RoleUser, time.Hour)
		require.NoError(t, err)

		resp, err := h.HandleConnect(ctx, connectEvent("conn-1", token))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		conns, err := store.GetConnections(ctx, "user-a")
		require.NoError(t, err)
		assert.Equal(t, []string{"conn-1"}, conns)

		resp, err = h.HandleDisconnect(ctx, connectEvent("conn-1", ""))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		conns, err = store.GetConnections(ctx, "user-a")
		require.NoError(t, err)
		assert.Empty(t, conns)
	})

	t.Run("Invalid Token", func(t *testing.T) {
		store := memory.New()
		h := handler.NewHandler(store, auth)

		resp, err := h.HandleConnect(ctx, connectEvent("conn-1", "garbage"))
		require.NoError(t, err)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestServeHTTP(t *testing.T) {
	auth := middleware.NewAuthenticator("secret")
	hub := websockets.NewLocalHub()
	srv := httptest.NewServer(auth.Authenticate(handler.NewLocalHandler(hub)))
	defer srv.Close()

	token, err := auth.IssueToken("user-a", middleware.RoleUser, time.Hour)
	require.NoError(t, err)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Registration happens after the upgrade completes.
	require.Eventually(t, func() bool { return hub.Count("user-a") == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), "user-a", websockets.Message{Type: websockets.MessageTypeBalanceUpdated}))

	var msg websockets.Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, websockets.MessageTypeBalanceUpdated, msg.Type)
}

func TestServeHTTPDisconnect(t *testing.T) {
	auth := middleware.NewAuthenticator("secret")
	hub := websockets.NewLocalHub()
	srv := httptest.NewServer(auth.Authenticate(handler.NewLocalHandler(hub)))
	defer srv.Close()

	token, err := auth.IssueToken("user-b", middleware.RoleUser, time.Hour)
	require.NoError(t, err)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/?token="+token, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Count("user-b") == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.Count("user-b") == 0 }, 2*time.Second, 10*time.Millisecond)
}
