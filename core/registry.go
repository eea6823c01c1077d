package core

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

type PlatformRegistry struct {
	mu        sync.RWMutex
	platforms map[string]Platform
}

func NewPlatformRegistry() *PlatformRegistry {
	return &PlatformRegistry{platforms: make(map[string]Platform)}
}

func (r *PlatformRegistry) Register(platform Platform) error {
	if platform == nil {
		return fmt.Errorf("core: platform is nil")
	}
	id := strings.TrimSpace(strings.ToLower(platform.ID()))
	if id == "" {
		return fmt.Errorf("core: platform id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.platforms[id]; exists {
		return fmt.Errorf("core: platform already registered: %s", id)
	}
	r.platforms[id] = platform
	return nil
}

func (r *PlatformRegistry) Get(platformID string) (Platform, bool) {
	id := strings.TrimSpace(strings.ToLower(platformID))
	if id == "" {
		return nil, false
	}
	r.mu.RLock()
	platform, ok := r.platforms[id]
	r.mu.RUnlock()
	return platform, ok
}

func (r *PlatformRegistry) List() []Platform {
	r.mu.RLock()
	keys := make([]string, 0, len(r.platforms))
	for id := range r.platforms {
		keys = append(keys, id)
	}
	sort.Strings(keys)
	platforms := make([]Platform, 0, len(keys))
	for _, id := range keys {
		platforms = append(platforms, r.platforms[id])
	}
	r.mu.RUnlock()
	return platforms
}

var _ Registry = (*PlatformRegistry)(nil)
