package app

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"uniadmit/internal/common"
	"uniadmit/internal/domain/application"
	"uniadmit/internal/domain/message"
	"uniadmit/internal/domain/notification"
	"uniadmit/internal/domain/user"
	"uniadmit/internal/metrics"
	"uniadmit/internal/ratelimit"
)

const maxMessageLength = 4000

type MessageService struct {
	repo     message.Repository
	apps     application.Repository
	notifier notification.Dispatcher
	limiter  ratelimit.Limiter
	rule     ratelimit.Rule
	metrics  *metrics.Collector
	logger   *slog.Logger
}

func NewMessageService(repo message.Repository, apps application.Repository, notifier notification.Dispatcher, limiter ratelimit.Limiter,
	rule ratelimit.Rule, collector *metrics.Collector, logger *slog.Logger) *MessageService {
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MessageService{repo: repo, apps: apps, notifier: notifier, limiter: limiter, rule: rule, metrics: collector, logger: logger}
}

// Send stores a message on the application thread. Messages from admins notify
// the student; a failed notification is returned as a warning.
func (s *MessageService) Send(ctx context.Context, actor user.Actor, applicationID common.UUID, body string) (*message.Message, []string, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil, common.NewValidationError("invalid message", map[string]string{"body": "body is required"})
	}
	if utf8.RuneCountInString(body) > maxMessageLength {
		return nil, nil, common.NewValidationError("invalid message", map[string]string{"body": "body is too long"})
	}
	app, err := s.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, nil, err
	}
	if err := authorizeApplication(actor, *app); err != nil {
		return nil, nil, err
	}
	if !s.rule.Allow(ctx, s.limiter, applicationID.String()+":"+actor.ID.String()) {
		s.metrics.Inc(metrics.RateLimitedOperations)
		return nil, nil, common.NewError(common.CodeRateLimited, "messages are sent too frequently", nil)
	}
	created, err := s.repo.Create(ctx, message.Message{
		ApplicationID: applicationID,
		SenderID:      actor.ID,
		SenderRole:    actor.Role,
		Body:          body,
	})
	if err != nil {
		return nil, nil, err
	}
	if !actor.IsAdmin() || s.notifier == nil {
		return created, nil, nil
	}
	err = s.notifier.Dispatch(context.WithoutCancel(ctx), notification.Notification{
		ID:            common.NewUUID(),
		Kind:          notification.KindMessageReceived,
		ApplicationID: applicationID,
		RecipientID:   app.StudentID,
		Payload:       map[string]string{"message_id": created.ID.String(), "preview": preview(body)},
		CreatedAt:     time.Now().UTC(),
	})
	if err != nil {
		s.metrics.Inc(metrics.SideEffectWarnings)
		s.logger.Warn(warnNotification, slog.String("application_id", applicationID.String()), slog.Any("error", err))
		return created, []string{warnNotification}, nil
	}
	s.metrics.Inc(metrics.NotificationsQueued)
	return created, nil, nil
}

func (s *MessageService) List(ctx context.Context, actor user.Actor, applicationID common.UUID, limit, offset int) ([]message.Message, error) {
	app, err := s.apps.GetByID(ctx, applicationID)
	if err != nil {
		return nil, err
	}
	if err := authorizeApplication(actor, *app); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByApplication(ctx, applicationID, limit, offset)
}

func preview(body string) string {
	const max = 120
	if utf8.RuneCountInString(body) <= max {
		return body
	}
	runes := []rune(body)
	return string(runes[:max]) + "..."
}
