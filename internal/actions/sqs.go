package actions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/vantage-sec/vantage/internal/catalog"
	"github.com/vantage-sec/vantage/internal/graph"
	"github.com/vantage-sec/vantage/internal/settings"
)

// sqsAPI is the slice of the SQS client the handler uses; tests substitute a
// fake.
type sqsAPI interface {
	CreateQueue(ctx context.Context, in *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueUrl(ctx context.Context, in *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSHandler enqueues each result row as a JSON message on the configured
// queue.
type SQSHandler struct {
	log          *slog.Logger
	endpoint     string
	createQueues bool
	source       string

	mu  sync.Mutex
	api sqsAPI
}

// NewSQSHandler creates the sqs action handler. The client is created lazily
// on first use.
func NewSQSHandler(s *settings.Settings, log *slog.Logger) *SQSHandler {
	return &SQSHandler{
		log:          log,
		endpoint:     s.SQSURL,
		createQueues: s.SQSCreateQueues,
		source:       s.EngineName,
	}
}

func (h *SQSHandler) ActionName() string { return "sqs" }

func (h *SQSHandler) getAPI(ctx context.Context) (sqsAPI, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.api != nil {
		return h.api, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	h.api = sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if h.endpoint != "" {
			o.BaseEndpoint = aws.String(h.endpoint)
		}
	})
	return h.api, nil
}

// Setup creates the queues referenced by sqs actions when development-mode
// queue creation is enabled. Queue creation is idempotent on the SQS side.
func (h *SQSHandler) Setup(ctx context.Context, cat *catalog.Catalog) error {
	if !h.createQueues {
		return nil
	}
	for id, sq := range cat.ScheduledQueries {
		for _, action := range sq.Actions {
			if action.ActionType != "sqs" {
				continue
			}
			queueName := action.Str("sqs_queue", "")
			if queueName == "" {
				return fmt.Errorf("scheduled query %s: sqs action is missing sqs_queue", id)
			}
			api, err := h.getAPI(ctx)
			if err != nil {
				return err
			}
			if _, err := api.CreateQueue(ctx, &sqs.CreateQueueInput{
				QueueName: aws.String(queueName),
			}); err != nil {
				return fmt.Errorf("failed to create queue %s: %w", queueName, err)
			}
		}
	}
	return nil
}

func (h *SQSHandler) HandleResults(ctx context.Context, queryID string, action catalog.Action, rows []graph.Row) error {
	if len(rows) == 0 {
		return nil
	}

	api, err := h.getAPI(ctx)
	if err != nil {
		return err
	}

	queueName := action.Str("sqs_queue", "")
	queueURL, err := api.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queueName),
	})
	if err != nil {
		return fmt.Errorf("failed to resolve queue %s: %w", queueName, err)
	}

	attr := returnAttr(action)
	h.log.Info("sending results for query",
		"result_count", len(rows),
		"scheduled_query_id", queryID)

	for _, row := range rows {
		details, ok := rowDetails(row, attr)
		if !ok {
			continue
		}
		body, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to serialise row for queue %s: %w", queueName, err)
		}
		if _, err := api.SendMessage(ctx, &sqs.SendMessageInput{
			QueueUrl:    queueURL.QueueUrl,
			MessageBody: aws.String(string(body)),
			MessageAttributes: map[string]types.MessageAttributeValue{
				"type": {
					DataType:    aws.String("String"),
					StringValue: aws.String(queryID),
				},
				"source": {
					DataType:    aws.String("String"),
					StringValue: aws.String(h.source),
				},
			},
		}); err != nil {
			return fmt.Errorf("failed to send message to queue %s: %w", queueName, err)
		}
	}
	return nil
}
