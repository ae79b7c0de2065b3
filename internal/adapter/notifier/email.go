package notifier

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strconv"
	"strings"
	"text/template"

	"github.com/rl1809/stockbridge/internal/core/domain"
	"github.com/rl1809/stockbridge/internal/port"
)

var _ port.Notifier = (*Email)(nil)

// SMTPConfig is the outgoing mail server. An empty Host disables e-mail.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (c SMTPConfig) addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type sendFunc func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error

// Email tells storage staff about new orders and sends the orderer a copy.
type Email struct {
	cfg          SMTPConfig
	storageEmail string
	send         sendFunc
}

func NewEmail(cfg SMTPConfig, storageEmail string) *Email {
	return &Email{cfg: cfg, storageEmail: storageEmail, send: smtp.SendMail}
}

var orderTemplate = template.Must(template.New("order").Parse(`Order {{.Order.HostOrderID}} from {{.Order.HostName}}
Type: {{.Order.OrderType}}
Contact: {{.Order.ContactPerson}}{{with .Order.ContactEmail}} <{{.}}>{{end}}
Deliver to: {{.Order.Receiver.Name}}{{with .Order.Receiver.Address}}, {{.}}{{end}}{{with .Order.Receiver.PostalCode}}, {{.}}{{end}}{{with .Order.Receiver.City}} {{.}}{{end}}
{{with .Order.Note}}Note: {{.}}
{{end}}
Items:
{{range .Items}}- {{.HostID}}: {{.Description}} ({{.ItemCategory}}, location {{.Location}})
{{end}}`))

type orderMail struct {
	Order domain.Order
	Items []domain.Item
}

func (e *Email) OrderCreated(_ context.Context, key string, order domain.Order, items []domain.Item) error {
	if e.cfg.Host == "" {
		return nil
	}

	var body bytes.Buffer
	if err := orderTemplate.Execute(&body, orderMail{Order: order, Items: items}); err != nil {
		return fmt.Errorf("render order mail: %w", err)
	}

	var recipients []string
	if e.storageEmail != "" {
		recipients = append(recipients, e.storageEmail)
	}
	if order.ContactEmail != "" {
		// A contact address that does not parse is left out rather than
		// spliced into the headers.
		if addr, err := mail.ParseAddress(order.ContactEmail); err == nil {
			recipients = append(recipients, addr.Address)
		}
	}
	if len(recipients) == 0 {
		return nil
	}

	subject := fmt.Sprintf("New %s order %s from %s", strings.ToLower(string(order.OrderType)), order.HostOrderID, order.HostName)
	msg := buildMessage(e.cfg.From, recipients, subject, key, body.String())

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	if err := e.send(e.cfg.addr(), auth, e.cfg.From, recipients, msg); err != nil {
		return fmt.Errorf("send order mail %s: %w", order.Key(), err)
	}
	return nil
}

func (e *Email) ItemChanged(context.Context, string, domain.Item) error {
	return nil
}

func (e *Email) OrderChanged(context.Context, string, domain.Order) error {
	return nil
}

var headerBreaks = strings.NewReplacer("\r", "", "\n", "")

// buildMessage renders a plain text mail. Header values never carry line
// breaks and the subject is RFC 2047 encoded when it is not plain ASCII.
func buildMessage(from string, to []string, subject, messageID, body string) []byte {
	var b strings.Builder
	b.WriteString("From: " + headerBreaks.Replace(from) + "\r\n")
	b.WriteString("To: " + headerBreaks.Replace(strings.Join(to, ", ")) + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("Message-ID: <" + headerBreaks.Replace(messageID) + "@stockbridge>\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
