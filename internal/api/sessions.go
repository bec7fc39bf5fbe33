package api

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/reviewmate/internal/chat"
	"github.com/reviewmate/internal/prcontext"
	"github.com/reviewmate/internal/providers"
)

// session is the server-side state of one review panel. Its mutex serializes
// every operation on the controller.
type session struct {
	mu     sync.Mutex
	ctrl   *chat.Controller
	loaded bool
}

// sessions keeps the most recently used sessions by conversation key.
type sessions struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *session]
	opts  Options
}

func newSessions(opts Options) (*sessions, error) {
	size := opts.Sessions
	if size <= 0 {
		size = 128
	}
	cache, err := lru.New[string, *session](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	return &sessions{cache: cache, opts: opts}, nil
}

// get returns the locked session of pageURL, creating it if needed. The
// caller must call unlock.
func (s *sessions) get(ctx context.Context, pageURL string) (sess *session, unlock func(), err error) {
	key := providers.ConversationKey(pageURL)

	s.mu.Lock()
	sess, ok := s.cache.Get(key)
	if !ok {
		opts := []prcontext.Option{prcontext.WithLimits(s.opts.Limits)}
		if s.opts.RepoWideCache != nil {
			opts = append(opts, prcontext.WithCache(s.opts.RepoWideCache))
		}
		assembler := prcontext.NewAssembler(s.opts.Host, opts...)
		sess = &session{ctrl: chat.NewController(key, assembler, s.opts.Store, s.opts.Settings)}
		s.cache.Add(key, sess)
	}
	s.mu.Unlock()

	sess.mu.Lock()
	if !sess.loaded {
		if err := sess.ctrl.Load(ctx); err != nil {
			sess.mu.Unlock()
			return nil, nil, err
		}
		sess.loaded = true
	}
	return sess, sess.mu.Unlock, nil
}

// peek returns the session for key without creating one.
func (s *sessions) peek(key string) (*session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Get(key)
}
