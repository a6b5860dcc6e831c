package generation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"articleforge-api/internal/domain/entity"
	apperrors "articleforge-api/pkg/errors"
	"articleforge-api/pkg/logger"
)

// Session 单个用户的一次创作会话，持有一个状态机
type Session struct {
	mu sync.Mutex

	id       string
	userID   string
	stage    entity.GenerationStage
	failedAt entity.GenerationStage
	lastErr  string

	request  entity.GenerationRequest
	titles   []string
	draft    string
	article  string
	sections []entity.SectionState

	cancel    context.CancelFunc
	updatedAt time.Time
}

// Snapshot 会话的只读视图
type Snapshot struct {
	SessionID string                   `json:"session_id"`
	Stage     entity.GenerationStage   `json:"stage"`
	FailedAt  entity.GenerationStage   `json:"failed_at,omitempty"`
	Error     string                   `json:"error,omitempty"`
	Request   entity.GenerationRequest `json:"request"`
	Titles    []string                 `json:"titles"`
	Draft     string                   `json:"draft,omitempty"`
	Article   string                   `json:"article,omitempty"`
	Sections  []entity.SectionState    `json:"sections"`
	UpdatedAt time.Time                `json:"updated_at"`
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID: s.id,
		Stage:     s.stage,
		FailedAt:  s.failedAt,
		Error:     s.lastErr,
		Request:   s.request.Clone(),
		Titles:    append([]string{}, s.titles...),
		Draft:     s.draft,
		Article:   s.article,
		Sections:  append([]entity.SectionState{}, s.sections...),
		UpdatedAt: s.updatedAt,
	}
}

// Snapshot 返回当前状态的拷贝
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// ID 会话标识
func (s *Session) ID() string { return s.id }

// mutate 在非运行状态下修改请求
func (s *Session) mutate(fn func(req *entity.GenerationRequest) error) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage.Running() {
		return Snapshot{}, apperrors.ErrAlreadyGenerating
	}
	req := s.request.Clone()
	if err := fn(&req); err != nil {
		return Snapshot{}, err
	}
	s.request = req
	s.updatedAt = time.Now()
	return s.snapshotLocked(), nil
}

// updateSection 推进段落状态；非法推进被忽略
func (s *Session) updateSection(idx int, status entity.SectionStatus, message, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if idx < 0 || idx >= len(s.sections) {
		return
	}
	sec := &s.sections[idx]
	if sec.Status != status && !sec.Status.CanAdvanceTo(status) {
		return
	}
	sec.Status = status
	if message != "" {
		sec.Message = message
	}
	if content != "" {
		sec.Content = content
	}
	s.updatedAt = time.Now()
}

type sessionKey struct {
	userID    string
	sessionID string
}

// Registry 进程内会话表，按 (userID, sessionID) 索引，空闲超时后清理
type Registry struct {
	mu       sync.Mutex
	sessions map[sessionKey]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewRegistry 创建会话表
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Registry{
		sessions: make(map[sessionKey]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// GetOrCreate 取已有会话；sessionID 为空或不存在时新建
func (r *Registry) GetOrCreate(userID, sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sessionID != "" {
		if s, ok := r.sessions[sessionKey{userID, sessionID}]; ok {
			return s
		}
	} else {
		sessionID = uuid.NewString()
	}

	s := &Session{
		id:        sessionID,
		userID:    userID,
		stage:     entity.StageIdle,
		updatedAt: r.now(),
	}
	r.sessions[sessionKey{userID, sessionID}] = s
	return s
}

// Get 查找会话，其他用户的会话同样视为不存在
func (r *Registry) Get(userID, sessionID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[sessionKey{userID, sessionID}]
	if !ok {
		return nil, apperrors.ErrSessionNotFound
	}
	return s, nil
}

// Remove 删除会话并取消其进行中的任务
func (r *Registry) Remove(userID, sessionID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[sessionKey{userID, sessionID}]
	delete(r.sessions, sessionKey{userID, sessionID})
	r.mu.Unlock()

	if ok {
		s.mu.Lock()
		if s.cancel != nil {
			s.cancel()
		}
		s.mu.Unlock()
	}
	return ok
}

// Len 当前会话数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep 清理空闲超过 TTL 且未在运行的会话
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, s := range r.sessions {
		s.mu.Lock()
		idle := !s.stage.Running() && s.updatedAt.Before(cutoff)
		s.mu.Unlock()
		if idle {
			delete(r.sessions, key)
			removed++
		}
	}
	return removed
}

// RunSweeper 周期清理，ctx 结束时返回
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := r.Sweep(); n > 0 {
				logger.Debug(ctx, "expired generation sessions removed", "count", n)
			}
		}
	}
}
