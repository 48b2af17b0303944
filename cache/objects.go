package cache

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// The object cache holds large immutable objects that are expensive to load
// and meant to be shared for the life of the process, such as evaluation
// models.

type objectCache struct {
	sync.Mutex
	objects map[string]interface{}
}

type LoadFunc func(key string) (interface{}, error)

var globalObjectCache = &objectCache{objects: make(map[string]interface{})}

func (c *objectCache) get(key string, loadFunc LoadFunc) (interface{}, error) {
	c.Lock()
	defer c.Unlock()
	if obj, ok := c.objects[key]; ok {
		log.Debug().Str("key", key).Msg("getting obj from cache")
		return obj, nil
	}
	log.Debug().Str("key", key).Msg("loading into cache")
	obj, err := loadFunc(key)
	if err != nil {
		return nil, err
	}
	c.objects[key] = obj
	return obj, nil
}

// Load returns the object stored under key, calling loadFunc the first time
// the key is requested. Failed loads are not cached.
func Load(key string, loadFunc LoadFunc) (interface{}, error) {
	return globalObjectCache.get(key, loadFunc)
}
