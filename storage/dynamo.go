package storage

import (
	"context"
	"log"
	"os"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

var (
	Dynamo        *dynamodb.Client
	MessagesTable string
)

// InitializeDynamo builds the DynamoDB client for the message log. Region
// and credentials come from the default AWS config chain.
func InitializeDynamo() {
	MessagesTable = os.Getenv("DYNAMO_MESSAGES_TABLE")
	if MessagesTable == "" {
		log.Panic("DYNAMO_MESSAGES_TABLE environment variable is required")
	}

	cfg, err := config.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Panic("error loading aws config: " + err.Error())
	}
	Dynamo = dynamodb.NewFromConfig(cfg)
}
