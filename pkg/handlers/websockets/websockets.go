package websockets

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aws/aws-lambda-go/events"
	"github.com/chris/classifieds-wallet/pkg/api"
	"github.com/chris/classifieds-wallet/pkg/middleware"
	"github.com/chris/classifieds-wallet/pkg/websockets"
	"github.com/gorilla/websocket"
)

// Handler handles WebSocket connections. Every connection belongs to the user named
// in its token, and only that user's wallet events are pushed to it.
type Handler struct {
	connManager websockets.ConnectionManager
	auth        *middleware.Authenticator
	hub         *websockets.LocalHub
}

// NewHandler creates a Handler for API Gateway connect and disconnect events.
func NewHandler(connManager websockets.ConnectionManager, auth *middleware.Authenticator) *Handler {
	return &Handler{connManager: connManager, auth: auth}
}

// NewLocalHandler creates a Handler that serves websocket upgrades in process and
// registers them with hub.
func NewLocalHandler(hub *websockets.LocalHub) *Handler {
	return &Handler{hub: hub}
}

// HandleConnect authenticates the "token" query parameter and stores the connection
// under the token's subject.
func (h *Handler) HandleConnect(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := request.RequestContext.ConnectionID

	claims, err := h.auth.ParseToken(request.QueryStringParameters["token"])
	if err != nil {
		slog.Warn("websocket connect refused", "connectionId", connectionID, "error", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusUnauthorized}, nil
	}

	if err := h.connManager.AddConnection(ctx, connectionID, claims.Subject); err != nil {
		slog.Error("failed to save connection ID", "error", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, err
	}

	slog.Info("Client connected", "connectionId", connectionID, "userId", claims.Subject)
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

// HandleDisconnect handles client disconnections.
func (h *Handler) HandleDisconnect(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	slog.Info("Client disconnected", "connectionId", request.RequestContext.ConnectionID)

	if err := h.connManager.RemoveConnection(ctx, request.RequestContext.ConnectionID); err != nil {
		slog.Error("failed to delete connection ID", "error", err)
		return events.APIGatewayProxyResponse{StatusCode: http.StatusInternalServerError}, err
	}

	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

// HandleDefault handles messages sent from a client. Clients only listen.
func (h *Handler) HandleDefault(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	slog.Info("Received message", "connectionId", request.RequestContext.ConnectionID, "body", request.Body)
	return events.APIGatewayProxyResponse{StatusCode: http.StatusOK}, nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeHTTP upgrades an authenticated request and keeps the connection registered
// with the local hub until the client goes away.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		api.WriteMessage(w, r, http.StatusUnauthorized, "unauthorized", "missing credentials")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade connection", "error", err)
		return
	}
	defer conn.Close()

	connectionID := h.hub.Register(claims.Subject, conn)
	slog.Info("Client connected locally", "connectionId", connectionID, "userId", claims.Subject)
	defer func() {
		h.hub.Unregister(claims.Subject, connectionID)
		slog.Info("Client disconnected locally", "connectionId", connectionID)
	}()

	// Reads only detect the close; clients send nothing meaningful.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Error("unexpected close error", "error", err)
			}
			break
		}
	}
}
