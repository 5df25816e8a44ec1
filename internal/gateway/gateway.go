package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vbonduro/buildtrack/internal/auth"
	"github.com/vbonduro/buildtrack/internal/docref"
	"github.com/vbonduro/buildtrack/internal/errsurface"
	"github.com/vbonduro/buildtrack/internal/livequery"
	"github.com/vbonduro/buildtrack/internal/metrics"
)

type write struct {
	ctx     context.Context
	op      errsurface.Operation
	ref     docref.Ref
	data    json.RawMessage
	patch   []patchEntry
	payload json.RawMessage
}

// Gateway is the single entry point for document reads and writes. Writes
// return immediately and are applied in call order by one dispatcher
// goroutine; there is no retry and no rollback of the caller's view.
type Gateway struct {
	backend Backend
	hub     *livequery.Hub
	emitter *errsurface.Emitter
	logger  *slog.Logger
	newID   func() string

	mu      sync.Mutex
	queue   []write
	pending int
	idle    chan struct{}
	closed  bool

	wake chan struct{}
	done chan struct{}
}

func New(backend Backend, hub *livequery.Hub, emitter *errsurface.Emitter, logger *slog.Logger) *Gateway {
	g := &Gateway{
		backend: backend,
		hub:     hub,
		emitter: emitter,
		logger:  logger,
		newID:   uuid.NewString,
		idle:    make(chan struct{}),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go g.run()
	return g
}

// Set creates or replaces the document at ref.
func (g *Gateway) Set(ctx context.Context, ref docref.Ref, doc any) {
	data, err := json.Marshal(doc)
	if err != nil {
		g.logger.Error("dropping unencodable write", "path", ref.Path(), "error", err)
		return
	}
	g.enqueue(write{ctx: ctx, op: errsurface.OpCreate, ref: ref, data: data, payload: data})
}

// Add creates doc under a freshly generated id and returns its reference
// without waiting for the write.
func (g *Gateway) Add(ctx context.Context, col docref.CollectionRef, doc any) docref.Ref {
	ref := col.Doc(g.newID())
	g.Set(ctx, ref, doc)
	return ref
}

// Update merges patch into the stored document.
func (g *Gateway) Update(ctx context.Context, ref docref.Ref, patch Patch) {
	entries, err := encodePatch(patch)
	if err != nil {
		g.logger.Error("dropping unencodable write", "path", ref.Path(), "error", err)
		return
	}
	payload, err := json.Marshal(patch)
	if err != nil {
		payload = nil
	}
	g.enqueue(write{ctx: ctx, op: errsurface.OpUpdate, ref: ref, patch: entries, payload: payload})
}

func (g *Gateway) Delete(ctx context.Context, ref docref.Ref) {
	g.enqueue(write{ctx: ctx, op: errsurface.OpDelete, ref: ref})
}

func (g *Gateway) enqueue(w write) {
	// Keep the principal and other values but not the deadline: the write
	// outlives the request that issued it.
	w.ctx = context.WithoutCancel(w.ctx)

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.logger.Error("write after close dropped", "path", w.ref.Path(), "operation", w.op)
		return
	}
	g.queue = append(g.queue, w)
	g.pending++
	g.mu.Unlock()
	metrics.GatewayQueueDepth.Inc()

	select {
	case g.wake <- struct{}{}:
	default:
	}
}

func (g *Gateway) run() {
	defer close(g.done)
	for {
		g.mu.Lock()
		for len(g.queue) == 0 {
			if g.closed {
				g.mu.Unlock()
				return
			}
			g.mu.Unlock()
			<-g.wake
			g.mu.Lock()
		}
		w := g.queue[0]
		g.queue[0] = write{}
		g.queue = g.queue[1:]
		g.mu.Unlock()

		g.apply(w)
		metrics.GatewayQueueDepth.Dec()

		g.mu.Lock()
		g.pending--
		if g.pending == 0 {
			close(g.idle)
			g.idle = make(chan struct{})
		}
		g.mu.Unlock()
	}
}

func (g *Gateway) apply(w write) {
	start := time.Now()
	var err error
	switch w.op {
	case errsurface.OpCreate:
		err = g.backend.Set(w.ctx, w.ref, w.data)
	case errsurface.OpUpdate:
		err = g.backend.Update(w.ctx, w.ref, func(doc map[string]json.RawMessage) error {
			return applyPatch(doc, w.patch)
		})
	case errsurface.OpDelete:
		err = g.backend.Delete(w.ctx, w.ref)
	default:
		err = fmt.Errorf("unsupported write operation %q", w.op)
	}

	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrPermissionDenied):
		outcome = "denied"
		g.publish(w.ctx, w.ref.Path(), w.op, w.payload)
	default:
		outcome = "failed"
		g.logger.Error("write failed", "path", w.ref.Path(), "operation", w.op, "error", err)
	}
	metrics.RecordGatewayWrite(string(w.op), outcome, time.Since(start))
}

func (g *Gateway) publish(ctx context.Context, path string, op errsurface.Operation, payload json.RawMessage) {
	perr := &errsurface.PermissionError{
		Path:      path,
		Operation: op,
		Principal: auth.FromContext(ctx),
	}
	if payload != nil {
		perr.RequestResourceData = payload
	}
	metrics.IncrementPermissionErrors(string(op))
	if n := g.emitter.Emit(errsurface.EventPermissionError, perr); n == 0 {
		g.logger.Warn("permission error with no listener", "path", path, "operation", op)
	}
}

// Flush waits until every write accepted so far has been applied.
func (g *Gateway) Flush(ctx context.Context) error {
	g.mu.Lock()
	if g.pending == 0 {
		g.mu.Unlock()
		return nil
	}
	idle := g.idle
	g.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting writes and waits for the queue to drain.
func (g *Gateway) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
	select {
	case g.wake <- struct{}{}:
	default:
	}

	select {
	case <-g.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get reads one document. A denial is returned to the caller and also
// published on the error channel.
func (g *Gateway) Get(ctx context.Context, ref docref.Ref) (*Document, error) {
	doc, err := g.backend.Get(ctx, ref)
	if errors.Is(err, ErrPermissionDenied) {
		g.publish(ctx, ref.Path(), errsurface.OpGet, nil)
	}
	return doc, err
}

func (g *Gateway) List(ctx context.Context, col docref.CollectionRef) ([]Document, error) {
	docs, err := g.backend.List(ctx, col)
	if errors.Is(err, ErrPermissionDenied) {
		g.publish(ctx, col.Path(), errsurface.OpList, nil)
	}
	return docs, err
}

// Subscribe streams the document at ref, re-reading it after every change.
func (g *Gateway) Subscribe(ctx context.Context, ref docref.Ref) <-chan livequery.Result[*Document] {
	return livequery.Subscribe(ctx, g.hub, ref.Path(), func(ctx context.Context) (*Document, error) {
		return g.Get(ctx, ref)
	})
}

func (g *Gateway) SubscribeCollection(ctx context.Context, col docref.CollectionRef) <-chan livequery.Result[[]Document] {
	return livequery.Subscribe(ctx, g.hub, col.Path(), func(ctx context.Context) ([]Document, error) {
		return g.List(ctx, col)
	})
}
