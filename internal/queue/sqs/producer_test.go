package sqsqueue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

type fakeSQS struct {
	sent    []*sqs.SendMessageInput
	deleted []string
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func (f *fakeSQS) ReceiveMessage(context.Context, *sqs.ReceiveMessageInput, ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, *in.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

func TestEnqueueRunFIFO(t *testing.T) {
	f := &fakeSQS{}
	p := &Producer{SQS: f, QueueURL: "https://sqs.local/000/runs.fifo"}
	trig := RunTrigger{RunID: "run_1", TenantID: "t1", RequestedAt: time.Unix(0, 0).UTC()}
	if err := p.EnqueueRun(context.Background(), trig); err != nil {
		t.Fatal(err)
	}
	in := f.sent[0]
	if in.MessageGroupId == nil || *in.MessageGroupId != "reminder-run:t1" {
		t.Fatalf("unexpected group id %v", in.MessageGroupId)
	}
	if *in.MessageDeduplicationId != "run_1" {
		t.Fatalf("run id should dedup")
	}
	var got RunTrigger
	if err := json.Unmarshal([]byte(*in.MessageBody), &got); err != nil || got.RunID != trig.RunID || got.TenantID != "t1" || !got.RequestedAt.Equal(trig.RequestedAt) {
		t.Fatalf("body round trip: %+v %v", got, err)
	}
}

func TestEnqueueRunStandardQueue(t *testing.T) {
	f := &fakeSQS{}
	p := &Producer{SQS: f, QueueURL: "https://sqs.local/000/runs"}
	if err := p.EnqueueRun(context.Background(), RunTrigger{RunID: "run_1"}); err != nil {
		t.Fatal(err)
	}
	if f.sent[0].MessageGroupId != nil {
		t.Fatalf("standard queues take no group id")
	}
}

func TestConsumerDeletesOnlyHandled(t *testing.T) {
	f := &fakeSQS{}
	c := &Consumer{SQS: f, QueueURL: "q"}
	body := `{"runId":"run_1"}`
	bad := "{"

	c.handle(context.Background(), types.Message{Body: &body, ReceiptHandle: str("ok")}, func(context.Context, RunTrigger) error { return nil })
	c.handle(context.Background(), types.Message{Body: &body, ReceiptHandle: str("fail")}, func(context.Context, RunTrigger) error { return errors.New("x") })
	c.handle(context.Background(), types.Message{Body: &bad, ReceiptHandle: str("poison")}, func(context.Context, RunTrigger) error { return nil })

	if len(f.deleted) != 2 || f.deleted[0] != "ok" || f.deleted[1] != "poison" {
		t.Fatalf("unexpected deletions %v", f.deleted)
	}
}
