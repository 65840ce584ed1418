package storage

import (
	"context"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"todoless/notify"
)

// QueueExporter copies every published change event onto an Azure queue for
// downstream consumers. It is a notify.Forwarder.
type QueueExporter struct {
	queue *azqueue.QueueClient
}

func queueClientOptions() *azqueue.ClientOptions {
	return &azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

// NewQueueExporter connects to queueName using connStr.
func NewQueueExporter(connStr, queueName string) (*QueueExporter, error) {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, queueClientOptions())
	if err != nil {
		return nil, err
	}
	return &QueueExporter{queue: q}, nil
}

// Forward enqueues env as a JSON message.
func (e *QueueExporter) Forward(ctx context.Context, env notify.Envelope) error {
	data, err := sonic.Marshal(env)
	if err != nil {
		return err
	}
	_, err = e.queue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// CreateQueue creates the export queue if it does not exist yet.
func (e *QueueExporter) CreateQueue(ctx context.Context) error {
	if _, err := e.queue.Create(ctx, nil); err != nil {
		var respErr *azcore.ResponseError
		if !(errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists") {
			return err
		}
	}
	return nil
}
