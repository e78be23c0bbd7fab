package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/fuomag9/inframirror/internal/alert"
	"github.com/fuomag9/inframirror/internal/models"
)

// Source loads the notification channels of a monitor
type Source interface {
	MonitorNotifications(ctx context.Context, monitorID int) ([]models.Notification, error)
	DefaultNotifications(ctx context.Context) ([]models.Notification, error)
}

// Dispatcher fans alert transitions out to notification providers
type Dispatcher struct {
	source      Source
	logger      *zap.Logger
	maxParallel int
}

// NewDispatcher creates a new notification dispatcher
func NewDispatcher(source Source, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		source:      source,
		logger:      logger.Named("notification"),
		maxParallel: 8,
	}
}

// Notify sends the message for a transition to every channel of the monitor
func (d *Dispatcher) Notify(ctx context.Context, m *models.Monitor, hb *models.Heartbeat, tr alert.Transition) error {
	msg := NewMessage(m, hb, tr)
	if msg == nil {
		return nil
	}

	targets, err := d.targets(ctx, m)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		d.logger.Debug("No notification channels", zap.Int("monitor_id", m.ID))
		return nil
	}

	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(d.maxParallel)
	for i := range targets {
		n := &targets[i]
		p.Go(func(ctx context.Context) error {
			if err := d.send(ctx, n, msg); err != nil {
				d.logger.Warn("Failed to send notification",
					zap.Int("monitor_id", m.ID),
					zap.Int("notification_id", n.ID),
					zap.String("type", n.Type),
					zap.Error(err))
				return fmt.Errorf("%s (%s): %w", n.Name, n.Type, err)
			}
			d.logger.Info("Notification sent",
				zap.Int("monitor_id", m.ID),
				zap.Int("notification_id", n.ID),
				zap.String("type", n.Type),
				zap.String("kind", msg.Kind))
			return nil
		})
	}
	return p.Wait()
}

// TestNotification sends a test message through one channel
func (d *Dispatcher) TestNotification(ctx context.Context, n *models.Notification) error {
	msg := &Message{
		Title:       "Test Notification",
		Body:        "This is a test notification from InfraMirror.",
		Kind:        KindTest,
		MonitorName: "Test Monitor",
		Status:      models.StatusUp,
		Time:        time.Now().UTC().Format(time.RFC3339),
	}
	return d.send(ctx, n, msg)
}

// targets returns the linked channels, or the default channels when the
// monitor never had its channels configured explicitly.
func (d *Dispatcher) targets(ctx context.Context, m *models.Monitor) ([]models.Notification, error) {
	linked, err := d.source.MonitorNotifications(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get monitor notifications: %w", err)
	}
	if len(linked) > 0 || m.NotificationsConfigured {
		return linked, nil
	}

	defaults, err := d.source.DefaultNotifications(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get default notifications: %w", err)
	}
	return defaults, nil
}

func (d *Dispatcher) send(ctx context.Context, n *models.Notification, msg *Message) error {
	if !n.Active {
		return nil
	}
	provider, ok := GetProvider(n.Type)
	if !ok {
		return errors.New("unknown notification provider: " + n.Type)
	}
	return provider.Send(ctx, n, msg)
}

// NewMessage builds the message for a transition, or nil when the transition
// is not notified.
func NewMessage(m *models.Monitor, hb *models.Heartbeat, tr alert.Transition) *Message {
	msg := &Message{
		MonitorID:   m.ID,
		MonitorName: m.Name,
		MonitorURL:  m.URL,
		Status:      hb.Status,
		ErrorType:   hb.ErrorType,
		Ping:        hb.ResponseTimeMs,
		Time:        hb.ExecutedAt.UTC().Format(time.RFC3339),
	}

	detail := hb.ErrorMessage
	if detail == "" {
		detail = hb.Message
	}

	switch tr {
	case alert.Down:
		msg.Kind = KindDown
		msg.Title = fmt.Sprintf("Monitor %s is DOWN", m.Name)
		msg.Important = true
	case alert.Resend:
		msg.Kind = KindResend
		msg.Title = fmt.Sprintf("Monitor %s is still DOWN", m.Name)
		msg.Important = true
	case alert.Up:
		msg.Kind = KindUp
		msg.Title = fmt.Sprintf("Monitor %s is UP", m.Name)
	default:
		return nil
	}
	msg.Body = detail
	return msg
}
