// Package cache accumulates normalized responses into one store.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jensneuse/abstractlogger"

	"github.com/hanpama/graphcache/internal/eventbus"
	"github.com/hanpama/graphcache/internal/events"
	"github.com/hanpama/graphcache/internal/execution"
	"github.com/hanpama/graphcache/internal/language"
	"github.com/hanpama/graphcache/internal/merge"
	"github.com/hanpama/graphcache/internal/normalize"
	"github.com/hanpama/graphcache/internal/pagination"
	"github.com/hanpama/graphcache/internal/response"
	"github.com/hanpama/graphcache/internal/schema"
	"github.com/hanpama/graphcache/internal/store"
)

// DefaultContextCacheSize bounds the number of built execution contexts
// kept for reuse.
const DefaultContextCacheSize = 256

// Request is one operation. Data is the JSON "data" member of its
// response and is only read by Write.
type Request struct {
	Query         string
	OperationName string
	Variables     map[string]any
	Data          []byte
}

type Options struct {
	IdentityField string
	Words         pagination.Words
	Logger        abstractlogger.Logger
	// Bus receives cache events. Nil publishes on the global bus.
	Bus              *eventbus.Bus
	ContextCacheSize int
}

type Option func(*Options)

func WithIdentityField(name string) Option      { return func(o *Options) { o.IdentityField = name } }
func WithWords(w pagination.Words) Option       { return func(o *Options) { o.Words = w } }
func WithLogger(l abstractlogger.Logger) Option { return func(o *Options) { o.Logger = l } }
func WithBus(b *eventbus.Bus) Option            { return func(o *Options) { o.Bus = b } }
func WithContextCacheSize(n int) Option         { return func(o *Options) { o.ContextCacheSize = n } }

// Cache folds successive responses into one store. It is safe for
// concurrent use; readers see whole merges only.
type Cache struct {
	schema   *schema.Schema
	opt      Options
	contexts *lru.Cache[uint64, *execution.Context]

	mu    sync.Mutex
	store *store.Store
}

func New(s *schema.Schema, opts ...Option) (*Cache, error) {
	opt := Options{
		IdentityField:    execution.DefaultIdentityField,
		Words:            pagination.Default(),
		Logger:           abstractlogger.NoopLogger,
		ContextCacheSize: DefaultContextCacheSize,
	}
	for _, f := range opts {
		f(&opt)
	}
	if err := opt.Words.Validate(); err != nil {
		return nil, err
	}
	contexts, err := lru.New[uint64, *execution.Context](opt.ContextCacheSize)
	if err != nil {
		return nil, fmt.Errorf("context cache: %w", err)
	}
	return &Cache{schema: s, opt: opt, contexts: contexts, store: store.New()}, nil
}

// Write normalizes req's data and merges it into the cached store. It
// returns the normalized page on its own.
func (c *Cache) Write(ctx context.Context, req Request) (*store.Store, error) {
	start := time.Now()
	ectx, err := c.context(req)
	if err != nil {
		c.opt.Logger.Error("cache write: build", abstractlogger.Error(err))
		return nil, err
	}
	opName, opType := ectx.OperationName, string(ectx.OperationType)
	eventbus.PublishTo(c.opt.Bus, ctx, events.WriteStart{OperationName: opName, OperationType: opType})

	page, err := c.normalize(ectx, req.Data)
	if err == nil {
		err = c.merge(ctx, page)
	}
	finish := events.WriteFinish{OperationName: opName, OperationType: opType, Err: err, Duration: time.Since(start)}
	if page != nil {
		finish.Entities = page.Len()
	}
	eventbus.PublishTo(c.opt.Bus, ctx, finish)
	if err != nil {
		c.opt.Logger.Error("cache write",
			abstractlogger.String("operation", opName),
			abstractlogger.Error(err),
		)
		return nil, err
	}
	c.opt.Logger.Debug("cache write",
		abstractlogger.String("operation", opName),
		abstractlogger.Int("entities", finish.Entities),
	)
	return page, nil
}

func (c *Cache) normalize(ectx *execution.Context, data []byte) (*store.Store, error) {
	v, err := response.Parse(data)
	if err != nil {
		return nil, err
	}
	return normalize.Normalize(v, ectx)
}

func (c *Cache) merge(ctx context.Context, page *store.Store) error {
	start := time.Now()
	c.mu.Lock()
	prev := c.store
	next, err := merge.Stores(prev, page)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.store = next
	c.mu.Unlock()
	eventbus.PublishTo(c.opt.Bus, ctx, events.MergeFinish{
		Entities: next.Len(),
		Changed:  changedAt(prev, next, page.Keys()),
		Duration: time.Since(start),
	})
	return nil
}

// changedAt reports whether any of keys holds a different record in next
// than in prev. Entities a page does not mention survive a merge as they
// were, so the page's keys are the only ones worth comparing.
func changedAt(prev, next *store.Store, keys []store.Key) bool {
	for _, k := range keys {
		old, ok := prev.Entities[k]
		if !ok || store.Digest(store.RecordOf(old)) != store.Digest(store.RecordOf(next.Entities[k])) {
			return true
		}
	}
	return false
}

// Read answers req from the cached store.
func (c *Cache) Read(ctx context.Context, req Request) (response.Value, error) {
	start := time.Now()
	ectx, err := c.context(req)
	if err != nil {
		return response.Value{}, err
	}
	opName, opType := ectx.OperationName, string(ectx.OperationType)
	eventbus.PublishTo(c.opt.Bus, ctx, events.ReadStart{OperationName: opName, OperationType: opType})
	out, err := normalize.Denormalize(c.Snapshot(), ectx)
	eventbus.PublishTo(c.opt.Bus, ctx, events.ReadFinish{OperationName: opName, OperationType: opType, Err: err, Duration: time.Since(start)})
	if err != nil {
		c.opt.Logger.Debug("cache read",
			abstractlogger.String("operation", opName),
			abstractlogger.Error(err),
		)
		return response.Value{}, err
	}
	return out, nil
}

// Snapshot returns the current store. It must not be modified.
func (c *Cache) Snapshot() *store.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

func (c *Cache) Reset() {
	c.mu.Lock()
	c.store = store.New()
	c.mu.Unlock()
}

// context builds the execution context for req, reusing one built for the
// same query, operation and variables.
func (c *Cache) context(req Request) (*execution.Context, error) {
	key, err := contextKey(req)
	if err != nil {
		return nil, err
	}
	if ectx, ok := c.contexts.Get(key); ok {
		return ectx, nil
	}
	doc, err := language.ParseQuery(req.Query)
	if err != nil {
		return nil, fmt.Errorf("parse query: %w", err)
	}
	ectx, err := execution.Build(c.schema, doc, execution.Options{
		OperationName: req.OperationName,
		IdentityField: c.opt.IdentityField,
		Words:         c.opt.Words,
		Variables:     req.Variables,
	})
	if err != nil {
		return nil, err
	}
	c.contexts.Add(key, ectx)
	return ectx, nil
}

func contextKey(req Request) (uint64, error) {
	vars, err := json.Marshal(req.Variables)
	if err != nil {
		return 0, fmt.Errorf("encode variables: %w", err)
	}
	h := xxhash.New()
	_, _ = h.WriteString(req.Query)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(req.OperationName)
	_, _ = h.WriteString("\x00")
	_, _ = h.Write(vars)
	return h.Sum64(), nil
}
