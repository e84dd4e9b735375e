package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"priceetl/internal/logging"
)

// publishFunc publishes one message and waits for its server id.
type publishFunc func(ctx context.Context, msg *pubsub.Message) (string, error)

// PubSub publishes jobs as JSON messages to one topic.
type PubSub struct {
	client  *pubsub.Client
	topic   *pubsub.Topic
	publish publishFunc
	log     logrus.FieldLogger
}

// NewPubSub connects to project and publishes to topicID.
func NewPubSub(ctx context.Context, project, topicID string, log logrus.FieldLogger, opts ...option.ClientOption) (*PubSub, error) {
	if project == "" || topicID == "" {
		return nil, errors.New("pubsub: project and topic are required")
	}
	c, err := pubsub.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("pubsub client: %w", err)
	}
	p := &PubSub{client: c, topic: c.Topic(topicID), log: logging.OrDiscard(log)}
	p.publish = func(ctx context.Context, msg *pubsub.Message) (string, error) {
		return p.topic.Publish(ctx, msg).Get(ctx)
	}
	return p, nil
}

func (p *PubSub) Dispatch(ctx context.Context, j Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(j)
	if err != nil {
		return err
	}
	id, err := p.publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"kind": string(j.Kind), "job_id": j.ID},
	})
	if err != nil {
		return fmt.Errorf("publish %s job: %w", j.Kind, err)
	}
	p.log.WithFields(logrus.Fields{"job_id": j.ID, "kind": j.Kind, "message_id": id}).Info("job published")
	return nil
}

func (p *PubSub) Close() error {
	if p.topic != nil {
		p.topic.Stop()
	}
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}

// Worker runs jobs received from a subscription.
type Worker struct {
	handle    Handler
	permanent func(error) bool
	log       logrus.FieldLogger
}

// NewWorker returns a worker that runs h. permanent tells failures that must
// not be redelivered.
func NewWorker(h Handler, permanent func(error) bool, log logrus.FieldLogger) *Worker {
	if permanent == nil {
		permanent = func(error) bool { return false }
	}
	return &Worker{handle: h, permanent: permanent, log: logging.OrDiscard(log)}
}

// Process runs the job in data and reports whether the message should be
// acked. Undecodable messages are acked, since redelivery cannot fix them.
func (w *Worker) Process(ctx context.Context, data []byte) bool {
	j, err := Decode(data)
	if err != nil {
		w.log.WithError(err).Error("dropping invalid job message")
		return true
	}
	log := w.log.WithFields(logrus.Fields{"job_id": j.ID, "kind": j.Kind})
	if err := w.handle(ctx, j); err != nil {
		if w.permanent(err) {
			log.WithError(err).Error("job failed permanently")
			return true
		}
		log.WithError(err).Warn("job failed, requesting redelivery")
		return false
	}
	log.Info("job done")
	return true
}

// Receive consumes subscription until ctx is done.
func (w *Worker) Receive(ctx context.Context, client *pubsub.Client, subscription string, maxOutstanding int) error {
	sub := client.Subscription(subscription)
	if maxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	}
	w.log.WithField("subscription", subscription).Info("worker receiving")
	return sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		if w.Process(ctx, m.Data) {
			m.Ack()
		} else {
			m.Nack()
		}
	})
}

// Client exposes the underlying client so a worker can share it.
func (p *PubSub) Client() *pubsub.Client { return p.client }
