package memory

import (
	"time"

	"github.com/patrickmn/go-cache"

	"voicechat-be/pkg/chat/session"
)

// SessionRegistry tracks the live session controller per conversation.
// Entries idle past the TTL are evicted and their controllers reset, so
// abandoned sessions release their transcript buffers.
type SessionRegistry struct {
	cache *cache.Cache
}

func NewSessionRegistry(ttl time.Duration) *SessionRegistry {
	c := cache.New(ttl, 10*time.Minute)
	c.OnEvicted(func(key string, value interface{}) {
		if ctrl, ok := value.(*session.Controller); ok {
			ctrl.Reset()
		}
	})
	return &SessionRegistry{cache: c}
}

// Save stores or refreshes the controller under the given key. Keys are
// "<userID>:<conversationID>" so two users can never share a session.
func (r *SessionRegistry) Save(key string, ctrl *session.Controller) {
	r.cache.Set(key, ctrl, cache.DefaultExpiration)
}

func (r *SessionRegistry) Get(key string) (*session.Controller, bool) {
	if x, found := r.cache.Get(key); found {
		return x.(*session.Controller), true
	}
	return nil, false
}

// Delete resets and removes the controller, if present.
func (r *SessionRegistry) Delete(key string) {
	if ctrl, found := r.Get(key); found {
		ctrl.Reset()
	}
	r.cache.Delete(key)
}
