package sqsqueue

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// API is the subset of the SQS client used here.
type API interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// RunTrigger asks a worker to execute one reminder run. An empty TenantID means all tenants.
type RunTrigger struct {
	RunID       string    `json:"runId"`
	TenantID    string    `json:"tenantId,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

type Producer struct {
	SQS      API
	QueueURL string
}

func (p *Producer) EnqueueRun(ctx context.Context, trig RunTrigger) error {
	body, err := json.Marshal(trig)
	if err != nil {
		return err
	}

	in := &sqs.SendMessageInput{
		QueueUrl:    &p.QueueURL,
		MessageBody: str(string(body)),
	}
	if isFIFO(p.QueueURL) {
		// One run per tenant scope at a time; the run id dedups scheduler retries.
		in.MessageGroupId = str(messageGroupID(trig.TenantID))
		in.MessageDeduplicationId = str(trig.RunID)
	}
	_, err = p.SQS.SendMessage(ctx, in)
	return err
}

func isFIFO(queueURL string) bool { return strings.HasSuffix(queueURL, ".fifo") }

func messageGroupID(tenantID string) string {
	if tenantID == "" {
		return "reminder-run:all"
	}
	return "reminder-run:" + tenantID
}

func str(s string) *string { return &s }
