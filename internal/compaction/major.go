package compaction

import (
	"bytes"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/return2faye/siltkv/internal/backend"
	"github.com/return2faye/siltkv/internal/cache"
	"github.com/return2faye/siltkv/internal/iterutil"
	"github.com/return2faye/siltkv/internal/keys"
	"github.com/return2faye/siltkv/internal/manifest"
	"github.com/return2faye/siltkv/internal/sstable"
	"github.com/return2faye/siltkv/internal/superversion"
)

const (
	minBackoff = 20 * time.Millisecond
	maxBackoff = 2 * time.Second
)

// MajorPool merges overlapping SST runs across adjacent levels (spec
// §4.J): a fixed set of worker goroutines each loop picker -> merge ->
// publish, backing off with no work found.
type MajorPool struct {
	be      backend.Backend
	vs      *manifest.VersionSet
	sv      *superversion.Holder
	cache   *cache.Cache
	pathFor SSTPathFunc
	picker  *Picker
	tracker *Tracker
	cfg     Config
	log     zerolog.Logger

	stop chan struct{}
	wg   sync.WaitGroup
}

func NewMajorPool(be backend.Backend, vs *manifest.VersionSet, sv *superversion.Holder, c *cache.Cache, pathFor SSTPathFunc, tracker *Tracker, cfg Config, log zerolog.Logger) *MajorPool {
	cfg = cfg.WithDefaults()
	return &MajorPool{
		be:      be,
		vs:      vs,
		sv:      sv,
		cache:   c,
		pathFor: pathFor,
		picker:  NewPicker(cfg),
		tracker: tracker,
		cfg:     cfg,
		log:     log.With().Str("pool", "major").Logger(),
		stop:    make(chan struct{}),
	}
}

// Start launches cfg.MajorWorkers worker goroutines.
func (p *MajorPool) Start() {
	for i := 0; i < p.cfg.MajorWorkers; i++ {
		p.wg.Add(1)
		go p.loop()
	}
}

func (p *MajorPool) loop() {
	defer p.wg.Done()
	backoff := minBackoff
	for {
		select {
		case <-p.stop:
			return
		default:
		}

		task, ok := p.picker.Pick(p.vs.Current(), p.tracker)
		if !ok {
			select {
			case <-p.stop:
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = minBackoff
		p.run(task)
	}
}

// Stop signals every worker to return and blocks until they do. A merge
// in progress is aborted at its next record, discarding its outputs.
func (p *MajorPool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *MajorPool) abort(task *Task, outputs []sstable.FileMetaData, curWriter *sstable.Writer, reason error) {
	if curWriter != nil {
		curWriter.Abort()
	}
	for _, o := range outputs {
		p.be.Remove(p.pathFor(o.Number))
	}
	for _, f := range task.Inputs {
		p.tracker.Revert(f.Number)
	}
	p.log.Error().Err(reason).Int("level", task.InputLevel).Msg("major compaction aborted")
}

func (p *MajorPool) run(task *Task) {
	sources := make([]iterutil.Source, 0, len(task.Inputs))
	for _, f := range task.Inputs {
		r, err := p.cache.Get(f.Number)
		if err != nil {
			p.abort(task, nil, nil, err)
			return
		}
		sources = append(sources, r.RawScan(nil))
	}
	merged := iterutil.NewMergeIterator(sources)
	oldest := p.vs.OldestSnapshotSequence()

	var outputs []sstable.FileMetaData
	var writer *sstable.Writer
	var lastUserKey []byte
	haveLast := false
	dropRestOfGroup := false

	finishCurrent := func() error {
		if writer == nil || writer.Empty() {
			if writer != nil {
				writer.Abort()
			}
			writer = nil
			return nil
		}
		meta, err := writer.Finish()
		if err != nil {
			return err
		}
		outputs = append(outputs, meta)
		writer = nil
		return nil
	}

	openWriter := func() error {
		num, err := p.vs.AllocateSSTNumber()
		if err != nil {
			return err
		}
		path := p.pathFor(num)
		w, err := sstable.NewWriter(p.be, path+".tmp", path, num, task.TargetLevel, 1024)
		if err != nil {
			return err
		}
		writer = w
		return nil
	}

	for merged.Valid() {
		select {
		case <-p.stop:
			p.abort(task, outputs, writer, nil)
			return
		default:
		}

		key := merged.Key()
		userKey := key.UserKey()

		if !haveLast || !bytes.Equal(userKey, lastUserKey) {
			haveLast = true
			lastUserKey = append(lastUserKey[:0], userKey...)
			dropRestOfGroup = false
			if key.Type() == keys.TypeDel && key.Seq() < oldest {
				dropRestOfGroup = true
				merged.Next()
				continue
			}
		} else if dropRestOfGroup || key.Seq() < oldest {
			dropRestOfGroup = true
			merged.Next()
			continue
		}

		if writer == nil {
			if err := openWriter(); err != nil {
				p.abort(task, outputs, nil, err)
				return
			}
		}
		if err := writer.Add(key, merged.Value()); err != nil {
			p.abort(task, outputs, writer, err)
			return
		}
		if writer.Size() >= p.cfg.TargetFileSize {
			if err := finishCurrent(); err != nil {
				p.abort(task, outputs, nil, err)
				return
			}
		}
		merged.Next()
	}

	if err := finishCurrent(); err != nil {
		p.abort(task, outputs, nil, err)
		return
	}

	edits := make([]manifest.Edit, 0, len(outputs)+len(task.Inputs))
	for _, o := range outputs {
		edits = append(edits, manifest.Edit{Tag: manifest.TagSSTAppended, Level: task.TargetLevel, File: o})
	}
	for _, f := range task.Inputs {
		edits = append(edits, manifest.Edit{Tag: manifest.TagSSTRemove, Number: f.Number})
	}
	if err := p.vs.PublishEdits(edits...); err != nil {
		p.abort(task, outputs, nil, err)
		return
	}

	for _, f := range task.Inputs {
		p.tracker.Deprecate(f.Number)
		p.tracker.Forget(f.Number)
		p.cache.Evict(f.Number)
	}
	p.sv.InstallVersion(p.vs.Current())

	p.log.Info().
		Int("input_level", task.InputLevel).
		Int("target_level", task.TargetLevel).
		Int("inputs", len(task.Inputs)).
		Int("outputs", len(outputs)).
		Msg("major compaction committed")
}
