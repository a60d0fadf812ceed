package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/grading"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/internal/repository"
)

const gradeFeedBufferSize = 16

// GradeFeed fans grading events out to Redis, NATS and live subscribers so
// badge workers and open dashboards on any replica see them.
type GradeFeed interface {
	HandleEvent(ctx context.Context, event grading.Event) error
	Subscribe(userID uint) (<-chan dto.GradeEvent, func())
	Start(ctx context.Context)
}

type gradeFeed struct {
	responses    repository.ResponseRepository
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
	broker       *gradeBroker
	nodeID       string
	now          func() time.Time
}

type gradeEnvelope struct {
	Source string         `json:"source"`
	Event  dto.GradeEvent `json:"event"`
}

type gradeBroker struct {
	mu          sync.RWMutex
	subscribers map[uint]map[chan dto.GradeEvent]struct{}
}

// NewGradeFeed constructs the grade feed. Either broker may be nil.
// channelBase names the Redis channel, with colons turned into dots for the
// NATS subject.
func NewGradeFeed(responses repository.ResponseRepository, redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) GradeFeed {
	channel := ""
	subject := ""
	if channelBase != "" {
		channel = channelBase + ":grades"
		subject = strings.ReplaceAll(channelBase, ":", ".") + ".grades"
	}

	return &gradeFeed{
		responses:    responses,
		redis:        redisClient,
		redisChannel: channel,
		nats:         natsConn,
		natsSubject:  subject,
		logger:       logger.With().Str("component", "grade_feed").Logger(),
		broker:       &gradeBroker{subscribers: map[uint]map[chan dto.GradeEvent]struct{}{}},
		nodeID:       uuid.NewString(),
		now:          time.Now,
	}
}

func (f *gradeFeed) Start(ctx context.Context) {
	if f.redis != nil && f.redisChannel != "" {
		go f.consumeRedis(ctx)
	}
	if f.nats != nil && f.natsSubject != "" {
		go f.consumeNATS(ctx)
	}
}

// HandleEvent never fails: broker outages are logged so they cannot undo a
// grade that was already stored.
func (f *gradeFeed) HandleEvent(ctx context.Context, event grading.Event) error {
	response, err := f.responses.GetByID(ctx, event.Submission.ResponseID)
	if err != nil {
		f.logger.Warn().Err(err).Uint("submission_id", event.Submission.ID).Msg("cannot resolve owner of graded submission")
		return nil
	}

	graded := dto.GradeEvent{
		Type:         event.Type,
		UserID:       response.UserID,
		ActivityID:   response.ActivityID,
		SubmissionID: event.Submission.ID,
		Status:       event.Submission.Status,
		Grade:        event.Grade,
		GradedAt:     f.now().UTC(),
	}
	if event.Activity != nil {
		graded.NodeID = event.Activity.NodeID
	}

	f.broker.broadcast(graded)
	observability.GradeEvents().WithLabelValues(graded.Type).Inc()
	if err := f.publish(ctx, graded); err != nil {
		f.logger.Warn().Err(err).Msg("failed to publish grade event to broker")
	}
	return nil
}

func (f *gradeFeed) Subscribe(userID uint) (<-chan dto.GradeEvent, func()) {
	channel := make(chan dto.GradeEvent, gradeFeedBufferSize)
	f.broker.subscribe(userID, channel)
	observability.FeedClientsActive().Inc()

	var once sync.Once
	return channel, func() {
		once.Do(func() {
			f.broker.unsubscribe(userID, channel)
			observability.FeedClientsActive().Dec()
		})
	}
}

func (f *gradeFeed) publish(ctx context.Context, event dto.GradeEvent) error {
	payload, err := json.Marshal(gradeEnvelope{Source: f.nodeID, Event: event})
	if err != nil {
		return err
	}

	var errs []error
	if f.redis != nil && f.redisChannel != "" {
		if err := f.redis.Publish(ctx, f.redisChannel, payload).Err(); err != nil {
			errs = append(errs, err)
		}
	}
	if f.nats != nil && f.natsSubject != "" {
		if err := f.nats.Publish(f.natsSubject, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *gradeFeed) consumeRedis(ctx context.Context) {
	pubsub := f.redis.Subscribe(ctx, f.redisChannel)
	defer func() { _ = pubsub.Close() }()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			f.logger.Error().Err(err).Msg("grade feed redis subscription closed")
			return
		}
		f.handleEnvelope([]byte(msg.Payload))
	}
}

func (f *gradeFeed) consumeNATS(ctx context.Context) {
	sub, err := f.nats.Subscribe(f.natsSubject, func(msg *nats.Msg) {
		f.handleEnvelope(msg.Data)
	})
	if err != nil {
		f.logger.Error().Err(err).Msg("failed to subscribe to grade feed subject")
		return
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			f.logger.Warn().Err(err).Msg("failed to drain grade feed subscription")
		}
	}()
}

// handleEnvelope relays events published by other replicas. Every replica
// receives each event, so subscribers must be local to one replica.
func (f *gradeFeed) handleEnvelope(payload []byte) {
	var envelope gradeEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		f.logger.Warn().Err(err).Msg("invalid grade event payload")
		return
	}
	if envelope.Source == f.nodeID {
		return
	}
	f.broker.broadcast(envelope.Event)
}

func (b *gradeBroker) subscribe(userID uint, ch chan dto.GradeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[userID]; !ok {
		b.subscribers[userID] = map[chan dto.GradeEvent]struct{}{}
	}
	b.subscribers[userID][ch] = struct{}{}
}

func (b *gradeBroker) unsubscribe(userID uint, ch chan dto.GradeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if subscribers, ok := b.subscribers[userID]; ok {
		delete(subscribers, ch)
		close(ch)
		if len(subscribers) == 0 {
			delete(b.subscribers, userID)
		}
	}
}

func (b *gradeBroker) broadcast(event dto.GradeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers[event.UserID] {
		select {
		case ch <- event:
		default:
		}
	}
}
