// Package join implements C7: the per-request join coordinator that
// merges the translation and inpaint branches, grounded on
// rendering_pipeline/result_check.py's ResultChecker (single lock,
// write-then-check-under-lock, exactly-once pop).
package join

import (
	"sync"
	"time"

	"github.com/tidwall/buntdb"

	"github.com/lee-daon/image-translate-worker/internal/model"
	"github.com/lee-daon/image-translate-worker/internal/nlog"
)

// Coordinator holds partial per-request state until both the
// translation and inpaint branches have deposited, then emits exactly
// one RenderJob per request_id.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]*model.PartialJoin

	// sweep is a lightweight in-memory buntdb used purely for its TTL
	// expiry: each deposit also writes a bookkeeping key with the
	// request's deadline, and a ticker scans for expired keys to drive
	// the stale-entry sweep (spec.md §4.7/§5), instead of a hand-rolled
	// ticker-plus-timestamp-map.
	sweep    *buntdb.DB
	deadline time.Duration

	onRender func(model.RenderJob)
	onStale  func(requestID, imageID string)

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Coordinator. onRender is invoked exactly once per
// request_id when both slots are deposited. onStale is invoked for
// entries the sweep evicts past deadline (spec.md §4.7: "routes them to
// the error path").
func New(deadline time.Duration, onRender func(model.RenderJob), onStale func(requestID, imageID string)) (*Coordinator, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, err
	}
	c := &Coordinator{
		pending:  make(map[string]*model.PartialJoin),
		sweep:    db,
		deadline: deadline,
		onRender: onRender,
		onStale:  onStale,
		stopCh:   make(chan struct{}),
	}
	c.wg.Add(1)
	go c.sweepLoop()
	return c, nil
}

// DepositTranslation writes the translation slot and checks for
// completeness.
func (c *Coordinator) DepositTranslation(requestID, imageID string, items []model.TranslatedItem) {
	c.deposit(requestID, func(p *model.PartialJoin) {
		p.Translation = &model.TranslationResult{ImageID: imageID, Items: items}
	})
}

// DepositInpainting writes the inpaint slot and checks for completeness.
func (c *Coordinator) DepositInpainting(requestID string, result model.InpaintResult) {
	c.deposit(requestID, func(p *model.PartialJoin) {
		r := result
		p.Inpainting = &r
	})
}

// deposit writes one slot and checks for completeness. A requestID that
// has already reached a terminal state — emitted as a RenderJob or
// evicted by the stale sweep — is never re-admitted to c.pending: a
// branch that arrives late (e.g. an inpaint result racing a sweep that
// already evicted its request on the translation-only deposit) would
// otherwise recreate a fresh single-slot entry, get swept a second
// time, and double the terminal emission (spec.md §3: "exactly one
// terminal emission"; §8: "no duplicates, no drops").
func (c *Coordinator) deposit(requestID string, set func(*model.PartialJoin)) {
	c.mu.Lock()
	if c.isDone(requestID) {
		c.mu.Unlock()
		nlog.Warningf("join: dropping late deposit for already-terminated request %s", requestID)
		return
	}

	p, ok := c.pending[requestID]
	if !ok {
		p = &model.PartialJoin{Deposited: time.Now()}
		c.pending[requestID] = p
		c.trackDeadline(requestID)
	}
	set(p)

	var emit *model.RenderJob
	if p.Translation != nil && p.Inpainting != nil {
		delete(c.pending, requestID)
		c.untrackDeadline(requestID)
		c.markDone(requestID)
		rj := model.RenderJob{
			RequestID:       requestID,
			ImageID:         p.Inpainting.ImageID,
			IsLong:          p.Inpainting.IsLong,
			OriginalImage:   p.Inpainting.OriginalImage,
			InpaintedImage:  p.Inpainting.InpaintedImage,
			InpaintedWidth:  p.Inpainting.InpaintedWidth,
			InpaintedHeight: p.Inpainting.InpaintedHeight,
			TranslatedItems: p.Translation.Items,
		}
		emit = &rj
	}
	c.mu.Unlock()

	if emit != nil {
		c.onRender(*emit)
	}
}

const (
	deadlineKeyPrefix = "deadline:"
	doneKeyPrefix     = "done:"
)

func (c *Coordinator) trackDeadline(requestID string) {
	_ = c.sweep.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(deadlineKeyPrefix+requestID, requestID, &buntdb.SetOptions{Expires: true, TTL: c.deadline})
		return err
	})
}

func (c *Coordinator) untrackDeadline(requestID string) {
	_ = c.sweep.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(deadlineKeyPrefix + requestID)
		if err == buntdb.ErrNotFound {
			return nil
		}
		return err
	})
}

// markDone records requestID as terminated so a late-arriving branch
// (after emission or eviction) cannot recreate its pending entry. The
// bookkeeping key carries its own TTL so the set doesn't grow
// unbounded — by the time it expires, no in-flight branch for that
// request can still be outstanding (every external call this worker
// makes carries its own transport timeout well inside the deadline).
func (c *Coordinator) markDone(requestID string) {
	_ = c.sweep.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(doneKeyPrefix+requestID, requestID, &buntdb.SetOptions{Expires: true, TTL: c.deadline})
		return err
	})
}

// isDone reports whether requestID was already emitted or evicted.
// Callers hold c.mu; buntdb has its own internal locking and this never
// calls back into the Coordinator, so nesting the two is safe.
func (c *Coordinator) isDone(requestID string) bool {
	var found bool
	_ = c.sweep.View(func(tx *buntdb.Tx) error {
		_, err := tx.Get(doneKeyPrefix + requestID)
		found = err == nil
		return nil
	})
	return found
}

// sweepLoop periodically removes pending entries whose deadline key has
// expired in the buntdb instance, routing them to the error path.
func (c *Coordinator) sweepLoop() {
	defer c.wg.Done()
	t := time.NewTicker(c.deadline / 2)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			c.sweepOnce()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Coordinator) sweepOnce() {
	c.mu.Lock()
	stale := make([]string, 0)
	for requestID := range c.pending {
		var found bool
		_ = c.sweep.View(func(tx *buntdb.Tx) error {
			_, err := tx.Get(deadlineKeyPrefix + requestID)
			found = err == nil
			return nil
		})
		if !found {
			stale = append(stale, requestID)
		}
	}
	evicted := make(map[string]string, len(stale))
	for _, requestID := range stale {
		p := c.pending[requestID]
		imageID := ""
		if p.Translation != nil {
			imageID = p.Translation.ImageID
		} else if p.Inpainting != nil {
			imageID = p.Inpainting.ImageID
		}
		evicted[requestID] = imageID
		delete(c.pending, requestID)
		// Mark terminated so a late branch that arrives after this
		// eviction cannot recreate the entry and be swept a second time
		// (see deposit's isDone check).
		c.markDone(requestID)
	}
	c.mu.Unlock()

	for requestID, imageID := range evicted {
		nlog.Warningf("join: evicting stale request %s (past deadline)", requestID)
		c.onStale(requestID, imageID)
	}
}

// Close stops the sweep loop and the backing buntdb.
func (c *Coordinator) Close() {
	close(c.stopCh)
	c.wg.Wait()
	_ = c.sweep.Close()
}

// Len reports the number of in-flight requests, for tests and metrics.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
