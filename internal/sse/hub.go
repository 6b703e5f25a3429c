// Package sse fans out new-message frames to inbox watchers.
package sse

import (
	"strings"
	"sync"
)

const subscriberBuffer = 8

type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan []byte]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[chan []byte]struct{})}
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// Subscribe registers a watcher for address. The returned func unregisters
// it and closes the channel.
func (h *Hub) Subscribe(address string) (<-chan []byte, func()) {
	key := normalize(address)
	ch := make(chan []byte, subscriberBuffer)
	h.mu.Lock()
	if _, ok := h.subs[key]; !ok {
		h.subs[key] = make(map[chan []byte]struct{})
	}
	h.subs[key][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if subscribers, ok := h.subs[key]; ok {
				delete(subscribers, ch)
				if len(subscribers) == 0 {
					delete(h.subs, key)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast delivers payload to every watcher of the given addresses. Slow
// watchers with a full buffer miss the frame.
func (h *Hub) Broadcast(addresses []string, payload []byte) {
	if len(addresses) == 0 {
		return
	}
	unique := map[string]struct{}{}
	for _, address := range addresses {
		key := normalize(address)
		if key == "" {
			continue
		}
		unique[key] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for key := range unique {
		for ch := range h.subs[key] {
			select {
			case ch <- payload:
			default:
			}
		}
	}
}

// Watchers reports how many subscribers an address has.
func (h *Hub) Watchers(address string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[normalize(address)])
}
