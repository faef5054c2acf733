package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/chris/classifieds-wallet/pkg/app"
	"github.com/chris/classifieds-wallet/pkg/config"
	wshandler "github.com/chris/classifieds-wallet/pkg/handlers/websockets"
)

var handler *wshandler.Handler

func init() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	wallet, err := app.New(context.Background(), cfg, nil)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}
	handler = wshandler.NewHandler(wallet.Store, wallet.Auth)
}

// HandleRequest dispatches API Gateway websocket route events.
func HandleRequest(ctx context.Context, request events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	switch request.RequestContext.RouteKey {
	case "$connect":
		return handler.HandleConnect(ctx, request)
	case "$disconnect":
		return handler.HandleDisconnect(ctx, request)
	default:
		return handler.HandleDefault(ctx, request)
	}
}

func main() {
	lambda.Start(HandleRequest)
}
