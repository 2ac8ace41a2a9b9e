package favicon

import (
	"image"
	"strings"
	"sync"
)

// Cache maps a lower-cased host to its decoded icon. It only ever holds
// icons that were actually fetched and decoded.
type Cache struct {
	mu    sync.RWMutex
	icons map[string]image.Image
}

func NewCache() *Cache {
	return &Cache{icons: make(map[string]image.Image)}
}

func (c *Cache) Get(host string) (image.Image, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	img, ok := c.icons[strings.ToLower(host)]
	return img, ok
}

func (c *Cache) Put(host string, img image.Image) {
	if img == nil {
		return
	}
	c.mu.Lock()
	c.icons[strings.ToLower(host)] = img
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.icons)
}

func (c *Cache) Clear() {
	c.mu.Lock()
	c.icons = make(map[string]image.Image)
	c.mu.Unlock()
}
