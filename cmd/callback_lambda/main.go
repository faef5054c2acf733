package main

import (
	"context"
	"errors"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/chris/classifieds-wallet/pkg/app"
	"github.com/chris/classifieds-wallet/pkg/config"
	"github.com/chris/classifieds-wallet/pkg/gateway"
	"github.com/chris/classifieds-wallet/pkg/ledger"
	"github.com/chris/classifieds-wallet/pkg/models"
	"github.com/chris/classifieds-wallet/pkg/topup"
)

var workflow *topup.Workflow

func init() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx := context.Background()
	wallet, err := app.New(ctx, cfg, nil)
	if err != nil {
		log.Fatalf("failed to initialize: %v", err)
	}

	publisher, err := wallet.APIGatewayPublisher(ctx)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	wallet.UsePublisher(publisher)

	workflow = wallet.TopUps
}

// retryable reports whether a failed callback may succeed on redelivery.
func retryable(err error) bool {
	return errors.Is(err, ledger.ErrUpstreamTimeout) || errors.Is(err, topup.ErrReceiptRequired)
}

// HandleRequest applies gateway callbacks delivered through the callback queue.
func HandleRequest(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse

	for _, message := range sqsEvent.Records {
		log.Printf("Processing message %s", message.MessageId)

		env, err := gateway.DecodeEnvelope(message.Body)
		if err != nil {
			log.Printf("ERROR: discarding message %s: %v", message.MessageId, err)
			continue
		}

		req, err := workflow.HandleCallback(ctx, models.TopUpMethod(env.Method), env.Payload, env.Signature)
		switch {
		case err == nil:
			log.Printf("Applied %s callback for top-up %s: %s", env.Method, req.Id, req.Status)
		case errors.Is(err, gateway.ErrUnsupportedEvent):
			log.Printf("Ignoring %s event in message %s", env.Method, message.MessageId)
		case retryable(err):
			log.Printf("ERROR: will retry message %s: %v", message.MessageId, err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: message.MessageId})
		default:
			log.Printf("ERROR: rejected callback in message %s: %v", message.MessageId, err)
		}
	}

	return resp, nil
}

func main() {
	lambda.Start(HandleRequest)
}
