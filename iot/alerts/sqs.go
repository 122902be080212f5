// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package alerts

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/goccy/go-json"
	"github.com/relabs-tech/espgate/core/logger"
)

// SQSConfiguration configures the SQSDispatcher. AccessID and AccessKey are
// optional, without them the default credential chain is used.
type SQSConfiguration struct {
	QueueURL  string
	AWSRegion string
	AccessID  string
	AccessKey string
}

type sqsSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSDispatcher queues alerts as push jobs on an SQS queue
type SQSDispatcher struct {
	client   sqsSender
	queueURL string
}

// NewSQSDispatcher returns a new SQSDispatcher
func NewSQSDispatcher(ctx context.Context, c SQSConfiguration) (*SQSDispatcher, error) {
	if c.QueueURL == "" {
		return nil, fmt.Errorf("QueueURL must not be empty")
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(c.AWSRegion)}
	if c.AccessID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessID, c.AccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cannot load aws config: %w", err)
	}
	logger.Default().Debugln("SQS alerts enabled for", c.QueueURL)
	return &SQSDispatcher{client: sqs.NewFromConfig(cfg), queueURL: c.QueueURL}, nil
}

// Dispatch implements Dispatcher
func (d *SQSDispatcher) Dispatch(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	out, err := d.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(d.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"type": {DataType: aws.String("String"), StringValue: aws.String(alert.Type)},
		},
	})
	if err != nil {
		return fmt.Errorf("cannot send alert to sqs: %w", err)
	}
	logger.FromContext(ctx).Infof("alert %s queued as sqs message %s", alert.Type, aws.ToString(out.MessageId))
	return nil
}
