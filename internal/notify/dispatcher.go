package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"text/template"
	"time"

	"github.com/resocorp/ArmogridPaaS-sub000/internal/config"
	"github.com/resocorp/ArmogridPaaS-sub000/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Event kinds
const (
	KindPaymentSuccess = "payment.success"
	KindPaymentFailed  = "payment.failed"
	KindRegistration   = "registration"
)

// Channel names used in logs and metrics
const (
	ChannelEmail            = "email"
	ChannelWhatsApp         = "whatsapp"
	ChannelCustomerWhatsApp = "customer_whatsapp"
	ChannelSMS              = "sms"
)

// Event is an outcome worth telling someone about
type Event struct {
	Kind          string
	Reference     string
	Gateway       string
	RoomNo        string
	MeterID       string
	Amount        float64 // naira
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Reason        string
	OccurredAt    time.Time
}

// Result reports which channels delivered
type Result struct {
	EmailSent            bool `json:"emailSent"`
	WhatsAppSent         bool `json:"whatsappSent"`
	CustomerWhatsAppSent bool `json:"customerWhatsappSent"`
	SMSSent              bool `json:"smsSent"`
}

// EmailSender delivers email
type EmailSender interface {
	SendMail(ctx context.Context, to, subject, body string) error
}

// Messenger delivers a short text message to a phone number
type Messenger interface {
	Send(ctx context.Context, to, body string) error
}

// Channels are the delivery backends. A nil channel is unconfigured.
type Channels struct {
	Email    EmailSender
	WhatsApp Messenger
	SMS      Messenger
}

// Recipients are the operator contacts
type Recipients struct {
	AdminEmail string
	AdminPhone string
}

// NewChannels builds the backends whose settings are present
func NewChannels(cfg config.NotifyConfig) Channels {
	client := &http.Client{Timeout: cfg.RequestTimeout}

	var ch Channels
	if cfg.SMTPHost != "" && cfg.SMTPFrom != "" {
		ch.Email = NewSMTPSender(SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}
	if cfg.UltraMsgURL != "" && cfg.UltraMsgToken != "" {
		ch.WhatsApp = NewUltraMsg(cfg.UltraMsgURL, cfg.UltraMsgToken, client)
	}
	if cfg.GoIPURL != "" {
		ch.SMS = NewGoIP(cfg.GoIPURL, cfg.GoIPUser, cfg.GoIPPassword, cfg.GoIPLine, client)
	}
	return ch
}

// Dispatcher fans an event out to every channel
type Dispatcher struct {
	channels   Channels
	recipients Recipients
	timeout    time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewDispatcher creates a dispatcher. timeout bounds one Notify call.
func NewDispatcher(channels Channels, recipients Recipients, timeout time.Duration, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Dispatcher{
		channels:   channels,
		recipients: recipients,
		timeout:    timeout,
		metrics:    m,
		logger:     logger,
	}
}

// Notify attempts all channels concurrently and never fails. A channel's
// error only clears its flag in the result.
func (d *Dispatcher) Notify(ctx context.Context, ev Event) Result {
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	logger := d.logger.With(
		zap.String("event", ev.Kind),
		zap.String("reference", ev.Reference),
		zap.String("room_no", ev.RoomNo),
	)

	var res Result
	var g errgroup.Group

	if d.channels.Email != nil && d.recipients.AdminEmail != "" {
		g.Go(func() error {
			res.EmailSent = d.attempt(logger, ChannelEmail, func() error {
				subject, body, err := render(ev, adminSubject, adminBody)
				if err != nil {
					return err
				}
				return d.channels.Email.SendMail(ctx, d.recipients.AdminEmail, subject, body)
			})
			return nil
		})
	}

	if d.channels.WhatsApp != nil && d.recipients.AdminPhone != "" {
		g.Go(func() error {
			res.WhatsAppSent = d.attempt(logger, ChannelWhatsApp, func() error {
				_, body, err := render(ev, nil, adminBody)
				if err != nil {
					return err
				}
				return d.channels.WhatsApp.Send(ctx, d.recipients.AdminPhone, body)
			})
			return nil
		})
	}

	if d.channels.WhatsApp != nil && ev.CustomerPhone != "" {
		g.Go(func() error {
			res.CustomerWhatsAppSent = d.attempt(logger, ChannelCustomerWhatsApp, func() error {
				_, body, err := render(ev, nil, customerBody)
				if err != nil {
					return err
				}
				return d.channels.WhatsApp.Send(ctx, ev.CustomerPhone, body)
			})
			return nil
		})
	}

	if d.channels.SMS != nil && ev.CustomerPhone != "" {
		g.Go(func() error {
			res.SMSSent = d.attempt(logger, ChannelSMS, func() error {
				_, body, err := render(ev, nil, customerBody)
				if err != nil {
					return err
				}
				return d.channels.SMS.Send(ctx, ev.CustomerPhone, body)
			})
			return nil
		})
	}

	_ = g.Wait()

	logger.Info("notification dispatched",
		zap.Bool("email_sent", res.EmailSent),
		zap.Bool("whatsapp_sent", res.WhatsAppSent),
		zap.Bool("customer_whatsapp_sent", res.CustomerWhatsAppSent),
		zap.Bool("sms_sent", res.SMSSent))
	return res
}

func (d *Dispatcher) attempt(logger *zap.Logger, channel string, send func() error) (sent bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notification channel panicked", zap.String("channel", channel), zap.Any("panic", r))
			sent = false
		}
		d.metrics.Notification(channel, sent)
	}()

	if err := send(); err != nil {
		logger.Warn("notification failed", zap.String("channel", channel), zap.Error(err))
		return false
	}
	return true
}

var funcs = template.FuncMap{
	"naira": func(v float64) string { return fmt.Sprintf("NGN %.2f", v) },
	"stamp": func(t time.Time) string { return t.Format("2006-01-02 15:04") },
}

var (
	adminSubject = template.Must(template.New("adminSubject").Funcs(funcs).Parse(
		`{{if eq .Kind "payment.success"}}Recharge successful{{else if eq .Kind "payment.failed"}}Recharge failed{{else}}New registration{{end}}: room {{.RoomNo}}`))

	adminBody = template.Must(template.New("adminBody").Funcs(funcs).Parse(
		`{{if eq .Kind "registration"}}New customer registration
Name: {{.CustomerName}}
Room: {{.RoomNo}}
Phone: {{.CustomerPhone}}
Email: {{.CustomerEmail}}
{{else}}{{if eq .Kind "payment.success"}}Recharge successful{{else}}Recharge failed{{end}}
Reference: {{.Reference}} ({{.Gateway}})
Room: {{.RoomNo}} / meter {{.MeterID}}
Amount: {{naira .Amount}}
Customer: {{.CustomerName}} {{.CustomerPhone}}
{{if .Reason}}Reason: {{.Reason}}
{{end}}{{end}}Time: {{stamp .OccurredAt}}`))

	customerBody = template.Must(template.New("customerBody").Funcs(funcs).Parse(
		`{{if eq .Kind "payment.success"}}Hello {{.CustomerName}}, your recharge of {{naira .Amount}} for room {{.RoomNo}} was successful. Ref: {{.Reference}}{{else if eq .Kind "payment.failed"}}Hello {{.CustomerName}}, your payment of {{naira .Amount}} for room {{.RoomNo}} did not go through. Ref: {{.Reference}}{{else}}Hello {{.CustomerName}}, welcome! Your registration for room {{.RoomNo}} has been received.{{end}}`))
)

func render(ev Event, subject, body *template.Template) (string, string, error) {
	var s string
	if subject != nil {
		var buf bytes.Buffer
		if err := subject.Execute(&buf, ev); err != nil {
			return "", "", fmt.Errorf("render subject: %w", err)
		}
		s = buf.String()
	}
	var buf bytes.Buffer
	if err := body.Execute(&buf, ev); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return s, buf.String(), nil
}
