package notify

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/unishark/portalwatch/internal/watch"
)

// SESAPI is the slice of the SES client the channel uses.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESChannel delivers email payloads through Amazon SES.
type SESChannel struct {
	client SESAPI
	from   string
}

// NewSESChannel creates an email channel sending from the given address.
func NewSESChannel(client SESAPI, from string) *SESChannel {
	return &SESChannel{client: client, from: from}
}

// Name implements watch.Channel.
func (c *SESChannel) Name() string { return "email" }

// Deliver sends the payload as an HTML email with a plain-text fallback.
func (c *SESChannel) Deliver(ctx context.Context, destination string, payload watch.Payload) error {
	input := &ses.SendEmailInput{
		Source:      aws.String(c.from),
		Destination: &types.Destination{ToAddresses: []string{destination}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(payload.Subject)},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(payload.HTML)},
				Text: &types.Content{Data: aws.String(payload.Text)},
			},
		},
	}
	if _, err := c.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("send email via ses: %w", err)
	}
	return nil
}
