package mailer

import (
	"context"
	"fmt"

	"github.com/mrz1836/postmark"
)

// Postmark sends through the Postmark transactional API.
type Postmark struct {
	client  *postmark.Client
	from    string
	replyTo string
}

func NewPostmark(serverToken, accountToken, from, replyTo string) *Postmark {
	return &Postmark{
		client:  postmark.NewClient(serverToken, accountToken),
		from:    from,
		replyTo: replyTo,
	}
}

func (p *Postmark) Send(ctx context.Context, msg Message) error {
	resp, err := p.client.SendEmail(ctx, postmark.Email{
		From:       p.from,
		ReplyTo:    p.replyTo,
		To:         msg.To,
		Subject:    msg.Subject,
		Tag:        msg.Tag,
		HTMLBody:   msg.HTMLBody,
		TrackOpens: true,
		TrackLinks: "HtmlOnly",
	})
	if err != nil {
		return fmt.Errorf("postmark send: %w", err)
	}
	// Postmark reports some failures in-band with a 200 response.
	if resp.ErrorCode > 0 {
		return fmt.Errorf("postmark error %d: %s", resp.ErrorCode, resp.Message)
	}
	return nil
}
