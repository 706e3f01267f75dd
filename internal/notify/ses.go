package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

type SES struct {
	client *sesv2.Client
}

// NewSES loads the default AWS credential chain for region.
func NewSES(ctx context.Context, region string) (*SES, error) {
	if region == "" {
		region = "us-east-1"
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return &SES{}, fmt.Errorf("load aws config: %w", err)
	}
	return &SES{client: sesv2.NewFromConfig(cfg)}, nil
}

func (s *SES) Name() string     { return "ses" }
func (s *SES) Configured() bool { return s != nil && s.client != nil }

func (s *SES) SendEmail(ctx context.Context, e *Email) error {
	if s.client == nil {
		return errors.New("ses client not initialized")
	}
	var body types.Body
	if e.HTML != "" {
		body.Html = &types.Content{Data: aws.String(e.HTML)}
	}
	if e.Text != "" {
		body.Text = &types.Content{Data: aws.String(e.Text)}
	}
	_, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(e.From),
		Destination:      &types.Destination{ToAddresses: e.To},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(e.Subject)},
				Body:    &body,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("ses send: %w", err)
	}
	return nil
}
