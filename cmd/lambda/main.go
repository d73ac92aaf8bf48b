package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/stefando/partupload/internal/app"
	"github.com/stefando/partupload/internal/gateway"
)

// Services are built once per container and reused across invocations
var handler gateway.Handler

// Init initializes the AWS clients and services
func init() {
	a, err := app.New(context.Background())
	if err != nil {
		log.Fatalf("Failed to initialize services: %v", err)
	}
	handler = gateway.NewHandler(a.Handler, a.Logger)
}

func main() {
	lambda.Start(handler)
}
