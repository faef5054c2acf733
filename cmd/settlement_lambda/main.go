package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/chris/classifieds-wallet/pkg/app"
	"github.com/chris/classifieds-wallet/pkg/config"
	"github.com/chris/classifieds-wallet/pkg/reconcile"
	"github.com/chris/classifieds-wallet/pkg/scheduler"
)

var worker *reconcile.Worker

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

	worker = wallet.Worker()
}

// HandleRequest runs the reconciliation jobs queued by the sweep. A failed record is
// reported back so only it is redelivered.
func HandleRequest(ctx context.Context, sqsEvent events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse

	for _, message := range sqsEvent.Records {
		log.Printf("Processing message %s", message.MessageId)

		job, err := scheduler.DecodeJob(message.Body)
		if err != nil {
			// Malformed jobs never succeed; drop them instead of retrying.
			log.Printf("ERROR: discarding message %s: %v", message.MessageId, err)
			continue
		}

		if err := worker.Handle(ctx, job); err != nil {
			log.Printf("ERROR: failed to run %s job for %s: %v", job.Kind, job.ID, err)
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: message.MessageId})
			continue
		}

		log.Printf("Finished %s job for %s", job.Kind, job.ID)
	}

	return resp, nil
}

func main() {
	lambda.Start(HandleRequest)
}
