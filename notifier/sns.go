package notifier

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/goliatone/go-accounts"
)

// SNSAPI is the subset of the SNS client used here
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// NewSNSClient creates an SNS client for region. endpoint overrides the AWS
// endpoint when set.
func NewSNSClient(ctx context.Context, region, endpoint string) (*sns.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sns.NewFromConfig(awsCfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// snsEnvelope is the JSON document published to the topic. Subscribers
// (a mail worker, a queue) do the final delivery.
type snsEnvelope struct {
	Template string            `json:"template"`
	To       string            `json:"to"`
	Username string            `json:"username,omitempty"`
	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
	Links    map[string]string `json:"links"`
}

// SNSNotifier publishes notifications to an SNS topic.
type SNSNotifier struct {
	client   SNSAPI
	topicARN string
	links    accounts.LinkBuilder
}

func NewSNSNotifier(client SNSAPI, topicARN, baseURL string) *SNSNotifier {
	return &SNSNotifier{
		client:   client,
		topicARN: topicARN,
		links:    accounts.LinkBuilder{BaseURL: baseURL},
	}
}

func (s *SNSNotifier) Send(ctx context.Context, n accounts.Notification) error {
	msg, err := Render(s.links, n)
	if err != nil {
		return err
	}

	payload, err := json.Marshal(snsEnvelope{
		Template: n.Template,
		To:       n.To,
		Username: n.Username,
		Subject:  msg.Subject,
		Body:     msg.Body,
		Links:    s.links.Links(n),
	})
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String(msg.Subject),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"template": {DataType: aws.String("String"), StringValue: aws.String(n.Template)},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish %s: %w", n.Template, err)
	}
	return nil
}
