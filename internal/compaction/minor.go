package compaction

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/return2faye/siltkv/internal/backend"
	"github.com/return2faye/siltkv/internal/manifest"
	"github.com/return2faye/siltkv/internal/memtable"
	"github.com/return2faye/siltkv/internal/sstable"
	"github.com/return2faye/siltkv/internal/superversion"
)

// SSTPathFunc maps an allocated SST number to the path its writer
// should use.
type SSTPathFunc func(number uint64) string

// MinorPool turns frozen memtables into L0 SSTs (spec §4.I). Tasks are
// submitted as memtables freeze; at most cfg.MinorWorkers flushes run
// concurrently, the rest queue on the semaphore.
type MinorPool struct {
	be      backend.Backend
	vs      *manifest.VersionSet
	sv      *superversion.Holder
	pathFor SSTPathFunc
	log     zerolog.Logger

	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	stopped atomic.Bool
}

func NewMinorPool(be backend.Backend, vs *manifest.VersionSet, sv *superversion.Holder, pathFor SSTPathFunc, cfg Config, log zerolog.Logger) *MinorPool {
	cfg = cfg.WithDefaults()
	return &MinorPool{
		be:      be,
		vs:      vs,
		sv:      sv,
		pathFor: pathFor,
		log:     log.With().Str("pool", "minor").Logger(),
		sem:     semaphore.NewWeighted(int64(cfg.MinorWorkers)),
	}
}

// Submit enqueues mem for flushing. Returns immediately; the flush
// itself runs on a pool goroutine bounded by cfg.MinorWorkers. onFlushed,
// if non-nil, runs after the flush completes (success or empty) — the
// façade uses it to remove the WAL segment backing mem once its data is
// durable in an SST.
func (p *MinorPool) Submit(mem *memtable.Memtable, onFlushed func()) {
	if p.stopped.Load() {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.sem.Release(1)
		if p.flush(mem) && onFlushed != nil {
			onFlushed()
		}
	}()
}

// flush writes mem to a new L0 SST and publishes it. It reports whether
// mem's data is now durable (true also for an empty memtable).
func (p *MinorPool) flush(mem *memtable.Memtable) bool {
	number, err := p.vs.AllocateSSTNumber()
	if err != nil {
		p.log.Error().Err(err).Uint64("memtable", mem.Number()).Msg("allocate sst number")
		return false
	}
	path := p.pathFor(number)

	w, err := sstable.NewWriter(p.be, path+".tmp", path, number, 0, uint(mem.Count()))
	if err != nil {
		p.log.Error().Err(err).Msg("open sst writer")
		return false
	}

	it := mem.NewIterator()
	for it.Valid() {
		if err := w.Add(it.Key(), it.Value()); err != nil {
			p.log.Error().Err(err).Msg("write sst record")
			w.Abort()
			return false
		}
		it.Next()
	}

	if w.Empty() {
		w.Abort()
		p.installFlushed(mem, nil)
		return true
	}

	meta, err := w.Finish()
	if err != nil {
		p.log.Error().Err(err).Msg("finish sst")
		return false
	}

	if err := p.vs.PublishEdits(
		manifest.Edit{Tag: manifest.TagNewRun, Level: 0},
		manifest.Edit{Tag: manifest.TagSSTAppended, Level: 0, File: meta},
	); err != nil {
		p.log.Error().Err(err).Msg("publish flush edit")
		return false
	}

	p.installFlushed(mem, &meta)
	return true
}

func (p *MinorPool) installFlushed(mem *memtable.Memtable, meta *sstable.FileMetaData) {
	p.sv.DropFlushed(mem, p.vs.Current())
	if meta != nil {
		p.log.Info().Uint64("sst", meta.Number).Uint64("keys", meta.TotalKeys).Msg("flushed memtable")
	}
}

// Stop waits for every flush submitted before it (running or still
// queued) to complete; no new Submit calls are honored after Stop begins.
func (p *MinorPool) Stop() {
	p.stopped.Store(true)
	p.wg.Wait()
}
