package messaging

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPublishAndConsume(t *testing.T) {
	rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := NewConsumer(rdb, ConsumerConfig{ConsumerName: "worker-1", BlockTimeout: 50 * time.Millisecond})
	got := make(chan PublishJob, 1)
	consumer.RegisterHandler(TypePublishArticle, func(_ context.Context, msg *Message) error {
		var job PublishJob
		if err := msg.UnmarshalPayload(&job); err != nil {
			return err
		}
		got <- job
		return nil
	})
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer consumer.Stop()

	producer := NewProducer(rdb, "", 0)
	if _, err := producer.EnqueuePublish(ctx, &PublishJob{ArticleID: "a-1", UserID: "u-1", ConnectionID: "c-1", Live: true}); err != nil {
		t.Fatalf("EnqueuePublish: %v", err)
	}

	select {
	case job := <-got:
		if job.ArticleID != "a-1" || !job.Live {
			t.Fatalf("unexpected job %+v", job)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("handler not invoked")
	}
}

func TestFailingMessageGoesToDLQ(t *testing.T) {
	rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	consumer := NewConsumer(rdb, ConsumerConfig{
		ConsumerName: "worker-1",
		BlockTimeout: 50 * time.Millisecond,
		RetryLimit:   1,
	})
	consumer.RegisterHandler(TypePublishArticle, func(context.Context, *Message) error {
		return errors.New("webflow down")
	})
	if err := consumer.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer consumer.Stop()

	if _, err := NewProducer(rdb, "", 0).EnqueuePublish(ctx, &PublishJob{ArticleID: "a-1", UserID: "u-1"}); err != nil {
		t.Fatalf("EnqueuePublish: %v", err)
	}

	waitFor(t, "dead letter", func() bool {
		n, err := consumer.DLQLength(ctx)
		return err == nil && n == 1
	})
}

func TestBackoff(t *testing.T) {
	b := BackoffConfig{Initial: time.Second, Max: 5 * time.Second, Multiplier: 2}
	if got := b.CalculateBackoff(0); got != time.Second {
		t.Fatalf("retry 0 = %v", got)
	}
	if got := b.CalculateBackoff(2); got != 4*time.Second {
		t.Fatalf("retry 2 = %v", got)
	}
	if got := b.CalculateBackoff(10); got != 5*time.Second {
		t.Fatalf("retry 10 = %v", got)
	}
}
