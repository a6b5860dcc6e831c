// Package memory 提供进程内存储实现，用于本地调试与测试
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"articleforge-api/internal/domain/entity"
	"articleforge-api/internal/domain/repository"
)

type txKey struct{}

// Store 进程内存储，所有表共用一把读写锁
type Store struct {
	mu          sync.RWMutex
	txMu        sync.Mutex
	articles    map[string]entity.Article
	profiles    map[string]entity.Profile
	txs         []entity.CreditTransaction
	connections map[string]entity.CMSConnection
}

// NewStore 创建空存储
func NewStore() *Store {
	return &Store{
		articles:    make(map[string]entity.Article),
		profiles:    make(map[string]entity.Profile),
		connections: make(map[string]entity.CMSConnection),
	}
}

// WithTransaction 串行化事务，嵌套调用复用外层
//
// 内存实现不支持回滚，失败前已写入的数据会保留。
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	return fn(context.WithValue(ctx, txKey{}, true))
}

// WithOwner 内存实现无行级安全，直接执行
func (s *Store) WithOwner(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return s.WithTransaction(ctx, fn)
}

// Articles 文章仓储
func (s *Store) Articles() *ArticleRepository { return &ArticleRepository{s: s} }

// Profiles 用户资料仓储
func (s *Store) Profiles() *ProfileRepository { return &ProfileRepository{s: s} }

// CreditTransactions 积分流水仓储
func (s *Store) CreditTransactions() *CreditTransactionRepository {
	return &CreditTransactionRepository{s: s}
}

// CMSConnections CMS 连接仓储
func (s *Store) CMSConnections() *CMSConnectionRepository { return &CMSConnectionRepository{s: s} }

// ArticleRepository 文章仓储
type ArticleRepository struct{ s *Store }

func (r *ArticleRepository) Create(_ context.Context, a *entity.Article) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	r.s.articles[a.ID] = cloneArticle(*a)
	return nil
}

func (r *ArticleRepository) GetByID(_ context.Context, id string) (*entity.Article, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.articles[id]
	if !ok || a.DeletedAt.Valid {
		return nil, nil
	}
	out := cloneArticle(a)
	return &out, nil
}

func (r *ArticleRepository) Update(_ context.Context, a *entity.Article) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a.UpdatedAt = time.Now()
	r.s.articles[a.ID] = cloneArticle(*a)
	return nil
}

func (r *ArticleRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.articles[id]
	if !ok {
		return nil
	}
	a.DeletedAt.Time = time.Now()
	a.DeletedAt.Valid = true
	r.s.articles[id] = a
	return nil
}

func (r *ArticleRepository) ListByUser(_ context.Context, userID string, filter *repository.ArticleFilter, p repository.Pagination) (*repository.PagedResult[*entity.Article], error) {
	r.s.mu.RLock()
	var matched []*entity.Article
	for _, a := range r.s.articles {
		if a.UserID != userID || a.DeletedAt.Valid {
			continue
		}
		if filter != nil {
			if filter.Status != "" && a.Status != filter.Status {
				continue
			}
			if filter.Query != "" && !strings.Contains(strings.ToLower(a.Title), strings.ToLower(filter.Query)) {
				continue
			}
		}
		cp := cloneArticle(a)
		matched = append(matched, &cp)
	}
	r.s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].UpdatedAt.After(matched[j].UpdatedAt) })
	return repository.NewPagedResult(page(matched, p), int64(len(matched)), p), nil
}

func (r *ArticleRepository) ListDueScheduled(_ context.Context, now time.Time, limit int) ([]*entity.Article, error) {
	r.s.mu.RLock()
	var due []*entity.Article
	for _, a := range r.s.articles {
		if !a.DeletedAt.Valid && a.IsDueForPublish(now) {
			cp := cloneArticle(a)
			due = append(due, &cp)
		}
	}
	r.s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledDate.Before(*due[j].ScheduledDate) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// ProfileRepository 用户资料仓储
type ProfileRepository struct{ s *Store }

func (r *ProfileRepository) GetByUserID(_ context.Context, userID string) (*entity.Profile, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *ProfileRepository) EnsureCreated(_ context.Context, p *entity.Profile) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.profiles[p.UserID]; ok {
		return false, nil
	}
	r.s.profiles[p.UserID] = *p
	return true, nil
}

// TryDebit 在写锁内完成检查与扣减
func (r *ProfileRepository) TryDebit(_ context.Context, userID string, amount int) (int, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[userID]
	if !ok || p.Credits < amount {
		return 0, false, nil
	}
	p.Credits -= amount
	p.UpdatedAt = time.Now()
	r.s.profiles[userID] = p
	return p.Credits, true, nil
}

func (r *ProfileRepository) Credit(_ context.Context, userID string, amount int) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.profiles[userID]
	if !ok {
		return 0, errProfileNotFound(userID)
	}
	p.Credits += amount
	p.UpdatedAt = time.Now()
	r.s.profiles[userID] = p
	return p.Credits, nil
}

// CreditTransactionRepository 积分流水仓储
type CreditTransactionRepository struct{ s *Store }

func (r *CreditTransactionRepository) Append(_ context.Context, tx *entity.CreditTransaction) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	r.s.txs = append(r.s.txs, *tx)
	return nil
}

func (r *CreditTransactionRepository) ListByUser(_ context.Context, userID string, p repository.Pagination) (*repository.PagedResult[*entity.CreditTransaction], error) {
	r.s.mu.RLock()
	var out []*entity.CreditTransaction
	for i := len(r.s.txs) - 1; i >= 0; i-- {
		if r.s.txs[i].UserID == userID {
			cp := r.s.txs[i]
			out = append(out, &cp)
		}
	}
	r.s.mu.RUnlock()
	return repository.NewPagedResult(page(out, p), int64(len(out)), p), nil
}

// Count 返回用户流水条数，供测试断言
func (r *CreditTransactionRepository) Count(userID string) int {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	n := 0
	for _, tx := range r.s.txs {
		if tx.UserID == userID {
			n++
		}
	}
	return n
}

// CMSConnectionRepository CMS 连接仓储
type CMSConnectionRepository struct{ s *Store }

func (r *CMSConnectionRepository) Create(_ context.Context, c *entity.CMSConnection) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	r.s.connections[c.ID] = *c
	return nil
}

func (r *CMSConnectionRepository) GetByID(_ context.Context, id string) (*entity.CMSConnection, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.connections[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *CMSConnectionRepository) ListByUser(_ context.Context, userID string) ([]*entity.CMSConnection, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []*entity.CMSConnection
	for _, c := range r.s.connections {
		if c.UserID == userID {
			cp := c
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *CMSConnectionRepository) Update(_ context.Context, c *entity.CMSConnection) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c.UpdatedAt = time.Now()
	r.s.connections[c.ID] = *c
	return nil
}

func (r *CMSConnectionRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.connections, id)
	return nil
}

func cloneArticle(a entity.Article) entity.Article {
	a.Keywords = append(a.Keywords[:0:0], a.Keywords...)
	return a
}

func page[T any](items []T, p repository.Pagination) []T {
	start := p.Offset()
	if start >= len(items) {
		return nil
	}
	end := start + p.Limit()
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

type profileNotFoundError string

func (e profileNotFoundError) Error() string { return "profile " + string(e) + " not found" }

func errProfileNotFound(userID string) error { return profileNotFoundError(userID) }
