package services

import (
	"fmt"
	"html"
	"strings"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/zeebo/errs"
)

var MailError = errs.Class("mail")

// Mailer delivers contact messages to dataset actors.
type Mailer interface {
	SendContactEmail(msg ContactEmail) error
}

type ContactEmail struct {
	To      []string
	ReplyTo string
	Subject string
	Body    string
	// DatasetURL is linked from the message footer.
	DatasetURL string
}

type SendGridMailer struct {
	client *sendgrid.Client
	from   *mail.Email
}

func NewSendGridMailer(apiKey, fromName, fromAddress string) *SendGridMailer {
	return &SendGridMailer{
		client: sendgrid.NewSendClient(apiKey),
		from:   mail.NewEmail(fromName, fromAddress),
	}
}

// BuildContactMessage renders msg as a SendGrid message with one
// personalization per recipient so recipients do not see each other.
func BuildContactMessage(from *mail.Email, msg ContactEmail) *mail.SGMailV3 {
	plainTextContent := fmt.Sprintf("%s\n\n--\nThis message was sent through the dataset contact form: %s", msg.Body, msg.DatasetURL)

	htmlContent := fmt.Sprintf(`
        <div style="font-family: Arial, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
			<p>%s</p>
			<div style="margin-top: 30px; font-size: 12px; color: #7f8c8d;">
				<p>This message was sent through the dataset contact form: <a href="%s">%s</a></p>
			</div>
		</div>
        `, strings.ReplaceAll(html.EscapeString(msg.Body), "\n", "<br>"), msg.DatasetURL, msg.DatasetURL)

	message := mail.NewV3Mail()
	message.SetFrom(from)
	message.Subject = msg.Subject
	message.SetReplyTo(mail.NewEmail("", msg.ReplyTo))
	for _, to := range msg.To {
		p := mail.NewPersonalization()
		p.AddTos(mail.NewEmail("", to))
		message.AddPersonalizations(p)
	}
	message.AddContent(mail.NewContent("text/plain", plainTextContent), mail.NewContent("text/html", htmlContent))
	return message
}

func (m *SendGridMailer) SendContactEmail(msg ContactEmail) error {
	response, err := m.client.Send(BuildContactMessage(m.from, msg))
	if err != nil {
		return MailError.Wrap(err)
	}
	if response.StatusCode >= 300 {
		return MailError.New("sendgrid responded with status %d", response.StatusCode)
	}
	return nil
}
