package publishing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"articleforge-api/internal/domain/entity"
	"articleforge-api/internal/infrastructure/messaging"
	"articleforge-api/internal/infrastructure/persistence/memory"
	"articleforge-api/internal/infrastructure/publishing/webflow"
	apperrors "articleforge-api/pkg/errors"
)

type fakePublisher struct {
	calls      int
	collection string
	live       bool
	err        error
}

func (f *fakePublisher) Publish(_ context.Context, a *entity.Article, _ *entity.CMSConnection, collectionID string, _ map[string]string, opts webflow.PublishOptions) (*webflow.PublishResult, error) {
	f.calls++
	f.collection = collectionID
	f.live = opts.PublishLive
	if f.err != nil {
		return nil, f.err
	}
	return &webflow.PublishResult{ExternalID: "item-" + a.ID, ExternalURL: "https://acme.webflow.io/blog/" + webflow.Slugify(a.Title)}, nil
}

func (f *fakePublisher) GetCollection(context.Context, string, string) (*webflow.Collection, error) {
	return &webflow.Collection{ID: "col1", Slug: "blog"}, nil
}

func seed(t *testing.T) (*memory.Store, *entity.Article, *entity.CMSConnection) {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()

	article := entity.NewArticle("user-1", "Hello Go")
	article.Content = "# Hello Go\n\nBody"
	if err := store.Articles().Create(ctx, article); err != nil {
		t.Fatalf("seed article: %v", err)
	}
	conn := entity.NewCMSConnection("user-1", entity.CMSProviderWebflow, "Blog", "site1", "tok")
	conn.DefaultCollectionID = "col-default"
	if err := store.CMSConnections().Create(ctx, conn); err != nil {
		t.Fatalf("seed connection: %v", err)
	}
	return store, article, conn
}

func newService(store *memory.Store, pub *fakePublisher, queue Enqueuer) *Service {
	return NewService(store, store.Articles(), store.CMSConnections(), pub, queue)
}

func TestPublishRecordsResult(t *testing.T) {
	store, article, conn := seed(t)
	pub := &fakePublisher{}
	svc := newService(store, pub, nil)

	res, err := svc.Publish(context.Background(), Request{UserID: "user-1", ArticleID: article.ID, ConnectionID: conn.ID, PublishLive: true})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if pub.collection != "col-default" || !pub.live {
		t.Fatalf("publisher got collection %q live %v", pub.collection, pub.live)
	}

	got, _ := store.Articles().GetByID(context.Background(), article.ID)
	if got.Status != entity.ArticleStatusPublished || got.ExternalID == nil || *got.ExternalID != res.ExternalID {
		t.Fatalf("article not marked published: %+v", got)
	}
	if got.ExternalURL == nil || *got.ExternalURL != "https://acme.webflow.io/blog/hello-go" {
		t.Fatalf("external url = %v", got.ExternalURL)
	}
}

func TestPublishRejectsForeignResources(t *testing.T) {
	store, article, conn := seed(t)
	svc := newService(store, &fakePublisher{}, nil)
	ctx := context.Background()

	_, err := svc.Publish(ctx, Request{UserID: "user-2", ArticleID: article.ID, ConnectionID: conn.ID})
	if !errors.Is(err, apperrors.ErrArticleNotFound) {
		t.Fatalf("err = %v, want article not found", err)
	}

	other := entity.NewCMSConnection("user-2", entity.CMSProviderWebflow, "Other", "site2", "tok2")
	if err := store.CMSConnections().Create(ctx, other); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err = svc.Publish(ctx, Request{UserID: "user-1", ArticleID: article.ID, ConnectionID: other.ID})
	if !errors.Is(err, apperrors.ErrConnectionNotFound) {
		t.Fatalf("err = %v, want connection not found", err)
	}
}

func TestPublishFailureLeavesArticleDraft(t *testing.T) {
	store, article, conn := seed(t)
	svc := newService(store, &fakePublisher{err: apperrors.ErrPublishFailed}, nil)

	if _, err := svc.Publish(context.Background(), Request{UserID: "user-1", ArticleID: article.ID, ConnectionID: conn.ID}); !errors.Is(err, apperrors.ErrPublishFailed) {
		t.Fatalf("err = %v", err)
	}
	got, _ := store.Articles().GetByID(context.Background(), article.ID)
	if got.Status != entity.ArticleStatusDraft {
		t.Fatalf("status = %s, want draft", got.Status)
	}
}

func TestEnqueueAndHandleMessage(t *testing.T) {
	store, article, conn := seed(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	pub := &fakePublisher{}
	svc := newService(store, pub, messaging.NewProducer(rdb, "", 0))
	ctx := context.Background()

	id, err := svc.Enqueue(ctx, Request{UserID: "user-1", ArticleID: article.ID, ConnectionID: conn.ID, CollectionID: "col1"})
	if err != nil || id == "" {
		t.Fatalf("Enqueue = %q, %v", id, err)
	}
	if n := rdb.XLen(ctx, string(messaging.StreamArticlePublish)).Val(); n != 1 {
		t.Fatalf("stream length = %d, want 1", n)
	}

	msg, err := messaging.NewMessage("m-1", messaging.TypePublishArticle, "user-1", messaging.PublishJob{
		ArticleID: article.ID, UserID: "user-1", ConnectionID: conn.ID, CollectionID: "col1",
	})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := svc.HandleMessage(ctx, msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if pub.calls != 1 || pub.collection != "col1" {
		t.Fatalf("publisher calls = %d collection = %q", pub.calls, pub.collection)
	}

	gone, _ := messaging.NewMessage("m-2", messaging.TypePublishArticle, "user-1", messaging.PublishJob{
		ArticleID: "missing", UserID: "user-1", ConnectionID: conn.ID,
	})
	if err := svc.HandleMessage(ctx, gone); err != nil {
		t.Fatalf("missing article must be acked, got %v", err)
	}
}

func TestPublishDue(t *testing.T) {
	store, article, conn := seed(t)
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	article.Status = entity.ArticleStatusScheduled
	article.ScheduledDate = &past
	article.CMSConnectionID = &conn.ID
	if err := store.Articles().Update(ctx, article); err != nil {
		t.Fatalf("update: %v", err)
	}

	orphan := entity.NewArticle("user-1", "No target")
	orphan.Status = entity.ArticleStatusScheduled
	orphan.ScheduledDate = &past
	if err := store.Articles().Create(ctx, orphan); err != nil {
		t.Fatalf("create: %v", err)
	}

	future := time.Now().Add(time.Hour)
	later := entity.NewArticle("user-1", "Later")
	later.Status = entity.ArticleStatusScheduled
	later.ScheduledDate = &future
	later.CMSConnectionID = &conn.ID
	if err := store.Articles().Create(ctx, later); err != nil {
		t.Fatalf("create: %v", err)
	}

	pub := &fakePublisher{}
	published, failed, err := newService(store, pub, nil).PublishDue(ctx, 10)
	if err != nil {
		t.Fatalf("PublishDue: %v", err)
	}
	if published != 1 || failed != 1 {
		t.Fatalf("published = %d failed = %d", published, failed)
	}
	if !pub.live {
		t.Fatalf("scheduled publishes go live")
	}
}

func TestCollectionSchemaChecksOwnership(t *testing.T) {
	store, _, conn := seed(t)
	svc := newService(store, &fakePublisher{}, nil)

	if _, err := svc.CollectionSchema(context.Background(), "user-2", conn.ID, "col1"); !errors.Is(err, apperrors.ErrConnectionNotFound) {
		t.Fatalf("err = %v", err)
	}
	col, err := svc.CollectionSchema(context.Background(), "user-1", conn.ID, "col1")
	if err != nil || col.Slug != "blog" {
		t.Fatalf("CollectionSchema = %+v, %v", col, err)
	}
}
