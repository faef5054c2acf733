package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/chris/classifieds-wallet/pkg/app"
	"github.com/chris/classifieds-wallet/pkg/config"
	"github.com/chris/classifieds-wallet/pkg/reconcile"
)

var sweeper *reconcile.Sweeper

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

	// Jobs go to the queue drained by the settlement lambda.
	sched, err := wallet.Scheduler(ctx)
	if err != nil {
		log.Fatalf("failed to create scheduler: %v", err)
	}
	sweeper = wallet.Sweeper(sched)
}

// HandleRequest is triggered by an EventBridge Schedule.
func HandleRequest(ctx context.Context) error {
	log.Println("Starting reconciliation sweep...")

	summary, err := sweeper.Sweep(ctx)
	if err != nil {
		log.Printf("ERROR: reconciliation sweep failed: %v", err)
		return err
	}

	log.Printf("Reconciliation sweep finished: %d top-ups resumed, %d accounts checked, %d failed to queue",
		summary.TopUps, summary.Accounts, summary.Failed)
	return nil
}

func main() {
	lambda.Start(HandleRequest)
}
