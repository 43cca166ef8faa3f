// Package pubsubboot provides a Google Cloud Pub/Sub service with message
// channels and dead-lettering.
package pubsubboot

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"cloud.google.com/go/pubsub"
	"github.com/nielskrijger/appboot"
	"github.com/nielskrijger/appboot/props"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	PropProjectID = "pubsub.projectId"
	PropCreateAll = "pubsub.createAll"
)

var (
	ErrPubSubClosed    = errors.New("pubsub service has been closed")
	errMissingProject  = errors.New("property \"pubsub.projectId\" is required")
	errNoDeadLetter    = errors.New("no deadletter channel configured")
	errChannelNotFound = errors.New("channel not found")
)

const (
	// DefaultDeadLetterName identifies the dead letter channel if no other
	// name was defined.
	DefaultDeadLetterName = "dead-letter"
	RetryDelay            = time.Minute * 2
	AckDeadline           = 10 * time.Second
	MaxAttributeLength    = 1024
)

// PubSub adds some utility methods to the Google Cloud Pub/Sub client, such
// as ensuring topics and subscriptions exist and dead-lettering.
//
// It represents a topic and its subscription as a single message Channel.
type PubSub struct {
	appboot.BaseService

	*pubsub.Client

	Channels map[string]*Channel

	// DeadLetterChannel receives messages that failed unrecoverably.
	DeadLetterChannel *Channel

	projectID string
	log       zerolog.Logger
}

// RichMessage embeds the received message with the channel it was received
// on. It helps handling retryable and unrecoverable errors.
type RichMessage struct {
	*pubsub.Message
	Service *PubSub
	Channel *Channel
}

// Channel is a message channel containing a topic ID and optionally a subscription.
type Channel struct {
	ID             string
	TopicID        string
	SubscriptionID string

	// MaxRetryAge is the time since publishing within which a message with a
	// recoverable error is still NACK'ed rather than dead-lettered.
	//
	// The default MaxRetryAge is 2 minutes.
	//
	// When no dead letter channel is configured a message will always be
	// NACK'ed upon a recoverable error.
	MaxRetryAge time.Duration
}

type Option func(*PubSub)

// WithChannel adds a channel with a topic and a subscription.
//
// The channel ID is a self-chosen name separate from the topicID and subscriptionID
// to more easily reference the subscription in the rest of your codebase.
//
// If you're not intending to receive any messages you can leave the subscriptionID empty.
// Be aware any messages sent to a topic without any subscription are essentially lost.
func WithChannel(ch *Channel) Option {
	return func(s *PubSub) {
		if ch.MaxRetryAge == 0 {
			ch.MaxRetryAge = RetryDelay
		}

		s.Channels[ch.ID] = ch
	}
}

// WithDeadLetter adds a dead letter channel.
//
// Without a dead letter channel messages get NACK'ed on error and retried until
// Google Pub/Sub removes them after 7 days.
//
// A RichMessage is sent to the dead letter channel if an unrecoverable error
// occurred or if the max message age has expired. When the channel ID is left
// empty "dead-letter" is used instead.
func WithDeadLetter(ch *Channel) Option {
	return func(s *PubSub) {
		if ch.ID == "" {
			ch.ID = DefaultDeadLetterName
		}

		s.Channels[ch.ID] = ch
		s.DeadLetterChannel = ch
	}
}

// New returns an unstarted Pub/Sub service. Provide it to the application
// to configure its channels:
//
//	appboot.Provide(app, func() (*pubsubboot.PubSub, error) {
//		return pubsubboot.New(pubsubboot.WithChannel(orders)), nil
//	})
func New(options ...Option) *PubSub {
	s := &PubSub{Channels: make(map[string]*Channel)}

	for _, option := range options {
		option(s)
	}

	return s
}

func (s *PubSub) Name() string {
	return "pubsub"
}

func (s *PubSub) DefaultProperties() map[string]string {
	return map[string]string{
		PropCreateAll: "true",
	}
}

// OnStart connects to Google Cloud Pub/Sub, honoring PUBSUB_EMULATOR_HOST,
// and creates all topics and subscriptions unless "pubsub.createAll" is
// false.
func (s *PubSub) OnStart(ctx context.Context) error {
	app := s.App()
	s.log = app.Logger().With().Str("service", s.Name()).Logger()

	if s.Channels == nil {
		s.Channels = make(map[string]*Channel)
	}

	projectID, err := app.GetMandatoryProperty(PropProjectID)
	if errors.Is(err, props.ErrNotFound) {
		return errMissingProject
	} else if err != nil {
		return err
	}

	createAll, err := appboot.Property(app, PropCreateAll, true)
	if err != nil {
		return err
	}

	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return errors.Wrap(err, "connecting to gcloud pubsub")
	}

	s.Client = client
	s.projectID = projectID
	s.log.Info().Msgf("connected to %s pubsub", projectID)

	if !createAll {
		return nil
	}

	s.log.Info().Msg("ensuring all google pubsub topics & subscriptions exist")

	if err := s.CreateAll(ctx); err != nil {
		_ = client.Close()

		return err
	}

	return nil
}

// OnStop releases any resources held by the client such as memory and goroutines.
func (s *PubSub) OnStop() error {
	if err := s.Client.Close(); err != nil {
		return errors.Wrapf(err, "closing %s service", s.Name())
	}

	return nil
}

func (s *PubSub) Channel(channelID string) *Channel {
	return s.Channels[channelID]
}

func (s *PubSub) channel(channelID string) (*Channel, error) {
	ch := s.Channels[channelID]
	if ch == nil {
		return nil, errors.Wrapf(errChannelNotFound, "%q", channelID)
	}

	return ch, nil
}

// CreateAll ensures all topics and subscriptions exist.
func (s *PubSub) CreateAll(ctx context.Context) error {
	for _, ch := range s.Channels {
		if err := s.EnsureTopic(ctx, ch.TopicID); err != nil {
			return err
		}

		if ch.SubscriptionID != "" {
			if err := s.EnsureSubscription(ctx, ch.TopicID, ch.SubscriptionID); err != nil {
				return err
			}
		}
	}

	return nil
}

// EnsureTopic creates a topic with specified ID if it doesn't exist already.
func (s *PubSub) EnsureTopic(ctx context.Context, topicID string) error {
	exists, err := s.Topic(topicID).Exists(ctx)

	switch {
	case err != nil:
		return translateError(err, "checking if topic %s exists", topicID)
	case !exists:
		if _, err := s.CreateTopic(ctx, topicID); err != nil {
			return translateError(err, "creating topic %s", topicID)
		}

		s.log.Info().Msgf("created new topic %q", topicID)
	default:
		s.log.Debug().Msgf("topic %q already exists", topicID)
	}

	return nil
}

// EnsureSubscription creates a subscription for specified topic. The topic
// must already exist.
//
// The subscription is created with an ACK deadline of 10 seconds, meaning the
// message must be ACK'ed or NACK'ed within 10 seconds or else it will be re-delivered.
func (s *PubSub) EnsureSubscription(ctx context.Context, topicID string, subID string) error {
	exists, err := s.Subscription(subID).Exists(ctx)

	switch {
	case err != nil:
		return translateError(err, "checking if subscription %s exists", subID)
	case !exists:
		_, err := s.CreateSubscription(ctx, subID, pubsub.SubscriptionConfig{
			Topic:       s.Topic(topicID),
			AckDeadline: AckDeadline,
		})
		if err != nil {
			return translateError(err, "creating subscription %s", subID)
		}

		s.log.Info().Msgf("created new subscription %q on topic %q", subID, topicID)
	default:
		s.log.Debug().Msgf("subscription %q for topic %q already exists", subID, topicID)
	}

	return nil
}

// DeleteAll deletes all topics and subscriptions of all configured channels,
// including the dead-letter channel.
func (s *PubSub) DeleteAll(ctx context.Context) error {
	for id := range s.Channels {
		if err := s.DeleteChannel(ctx, id); err != nil {
			return err
		}
	}

	return nil
}

// DeleteChannel deletes the topic and subscription of a channel if they
// exist.
func (s *PubSub) DeleteChannel(ctx context.Context, channelID string) error {
	ch, err := s.channel(channelID)
	if err != nil {
		return err
	}

	if ch.SubscriptionID != "" {
		sub := s.Subscription(ch.SubscriptionID)

		if exists, err := sub.Exists(ctx); err != nil {
			return translateError(err, "failed to retrieve subscription %q", ch.SubscriptionID)
		} else if exists {
			if err := sub.Delete(ctx); err != nil {
				return translateError(err, "failed to delete subscription %q", ch.SubscriptionID)
			}

			s.log.Info().Msgf("deleted subscription %q on topic %q", ch.SubscriptionID, ch.TopicID)
		}
	}

	topic := s.Topic(ch.TopicID)

	if exists, err := topic.Exists(ctx); err != nil {
		return translateError(err, "failed to retrieve topic %q", ch.TopicID)
	} else if exists {
		if err := topic.Delete(ctx); err != nil {
			return translateError(err, "failed to delete topic %q", ch.TopicID)
		}

		s.log.Info().Msgf("deleted topic %q", ch.TopicID)
	}

	return nil
}

// Receive starts receiving messages on specified channel until ctx is done.
func (s *PubSub) Receive(ctx context.Context, channelID string, f func(context.Context, *RichMessage)) error {
	ch, err := s.channel(channelID)
	if err != nil {
		return err
	}

	if ch.SubscriptionID == "" {
		return errors.Errorf("channel %q does not have a subscription", channelID)
	}

	err = s.Subscription(ch.SubscriptionID).Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		f(ctx, &RichMessage{Message: msg, Service: s, Channel: ch})
	})

	return translateError(err, "receiving message from subscription %q failed", ch.SubscriptionID)
}

// ReceiveNr blocks until the specified number of messages have been received
// and ACK'ed, or until ctx is done.
//
// This should only be used with caution for scripting and testing purposes.
func (s *PubSub) ReceiveNr(ctx context.Context, channelID string, nrOfMessages int) ([]*RichMessage, error) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu   sync.Mutex
		msgs []*RichMessage
	)

	err := s.Receive(cctx, channelID, func(_ context.Context, msg *RichMessage) {
		mu.Lock()
		defer mu.Unlock()

		if len(msgs) >= nrOfMessages {
			msg.Nack()

			return
		}

		msg.Ack()
		msgs = append(msgs, msg)

		if len(msgs) >= nrOfMessages {
			cancel()
		}
	})
	if err != nil {
		return nil, err
	}

	mu.Lock()
	defer mu.Unlock()

	return msgs, nil
}

// PublishEvent publishes a JSON message to the channel's topic and waits for
// it to be published on the server.
func (s *PubSub) PublishEvent(ctx context.Context, channelID string, eventName string, payload any) error {
	ch, err := s.channel(channelID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal payload for event %q on topic %q", eventName, ch.TopicID)
	}

	_, err = s.Topic(ch.TopicID).Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"event": eventName},
	}).Get(ctx)

	return translateError(err, "could not publish event %q to topic %q", eventName, ch.TopicID)
}

// TryPublishEvent is the same as PublishEvent but logs any error rather than
// returning it.
func (s *PubSub) TryPublishEvent(ctx context.Context, channelID string, eventName string, payload any) {
	if err := s.PublishEvent(ctx, channelID, eventName, payload); err != nil {
		s.log.Error().Err(err).Msgf("failed to publish event %q", eventName)
	}
}

// DeadLetter publishes a copy of a message to the dead letter channel and
// ACK's the original message. If dead-lettering fails the original message is
// NACK'ed.
//
// The copy carries the original attributes plus the original message ID,
// topic, subscription, the error and a dead letter count.
func (msg *RichMessage) DeadLetter(ctx context.Context, cause error) error {
	dl := msg.Service.DeadLetterChannel
	if dl == nil {
		return errNoDeadLetter
	}

	attrs := make(map[string]string, len(msg.Attributes)+5) //nolint:gomnd
	for k, v := range msg.Attributes {
		attrs[k] = v
	}

	attrs["originalMessageID"] = msg.ID
	attrs["originalTopicID"] = msg.Channel.TopicID
	attrs["originalSubscriptionID"] = msg.Channel.SubscriptionID
	attrs["error"] = TrimLeftBytes(cause.Error(), MaxAttributeLength)
	attrs["deadLetterCount"] = "1"

	if i, err := strconv.ParseInt(msg.Attributes["deadLetterCount"], 10, 64); err == nil {
		attrs["deadLetterCount"] = strconv.FormatInt(i+1, 10)
	}

	_, err := msg.Service.Topic(dl.TopicID).Publish(ctx, &pubsub.Message{
		Data:       msg.Data,
		Attributes: attrs,
	}).Get(ctx)
	if err != nil {
		msg.Nack()

		return errors.Wrapf(err, "failed to send message to dead letter topic %q", dl.TopicID)
	}

	msg.Ack()

	return nil
}

// TryDeadLetter is the same as DeadLetter but logs any error rather than
// returning it.
func (msg *RichMessage) TryDeadLetter(ctx context.Context, cause error) {
	if err := msg.DeadLetter(ctx, cause); err != nil {
		msg.Service.log.Error().Err(err).Msg("failed to send message to dead letter queue")
	}
}

// RetryableError NACKs a message if it is within the max retry age of its
// channel, otherwise it is sent to the dead letter channel.
func (msg *RichMessage) RetryableError(ctx context.Context, cause error) error {
	if msg.Service.DeadLetterChannel != nil && time.Since(msg.PublishTime) > msg.Channel.MaxRetryAge {
		return msg.DeadLetter(ctx, cause)
	}

	msg.Nack()

	return nil
}

// TryRetryableError is the same as RetryableError but logs any error rather
// than returning it.
func (msg *RichMessage) TryRetryableError(ctx context.Context, cause error) {
	if err := msg.RetryableError(ctx, cause); err != nil {
		msg.Service.log.Error().Err(err).Msg("failed processing retryable error")
	}
}

// translateError returns ErrPubSubClosed when the client connection is
// closed, otherwise err is wrapped with the message.
func translateError(err error, wrapMsg string, args ...any) error {
	if err == nil {
		return nil
	}

	if st, ok := status.FromError(err); ok && st.Code() == codes.Canceled {
		return ErrPubSubClosed
	}

	return errors.Wrapf(err, wrapMsg, args...)
}

// TrimLeftBytes trims a string from the left until the string has max X bytes.
// Removes any invalid runes at the end.
func TrimLeftBytes(str string, maxBytes int) string {
	if len(str) <= maxBytes {
		return str
	}

	res := str[:maxBytes]
	if utf8.ValidString(res) {
		return res
	}

	// remove the last partial rune
	lastRune := maxBytes
	for lastRune > 0 && !utf8.RuneStart(str[lastRune]) {
		lastRune--
	}

	return res[:lastRune]
}
