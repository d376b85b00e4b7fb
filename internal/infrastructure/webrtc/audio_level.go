package webrtc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/pion/rtp"

	"sfucore/internal/core/domain"
	"sfucore/internal/core/ports"
)

type levelSum struct {
	total uint32
	count uint32
}

// AudioLevelObserver averages the RFC 6464 levels of its producers and
// reports the loudest ones every interval.
type AudioLevelObserver struct {
	closeNotifier

	router *Router
	opts   ports.AudioLevelObserverOptions
	stop   chan struct{}

	mu        sync.Mutex
	levels    map[string]*levelSum
	onVolumes func([]ports.AudioVolume)
	onSilence func()
	silent    bool
}

var _ ports.AudioLevelObserver = (*AudioLevelObserver)(nil)

func newAudioLevelObserver(r *Router, opts ports.AudioLevelObserverOptions) *AudioLevelObserver {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = 1
	}
	if opts.Threshold == 0 {
		opts.Threshold = -80
	}
	return &AudioLevelObserver{
		router: r,
		opts:   opts,
		stop:   make(chan struct{}),
		levels: make(map[string]*levelSum),
		silent: true,
	}
}

func (o *AudioLevelObserver) start() {
	o.router.worker.goSafe("audio level observer", func(ctx context.Context) {
		ticker := time.NewTicker(o.opts.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-o.stop:
				return
			case <-ticker.C:
				o.report()
			}
		}
	})
}

func (o *AudioLevelObserver) AddProducer(producerID string) error {
	if o.Closed() {
		return fmt.Errorf("audio level observer closed")
	}
	p, ok := o.router.producer(producerID)
	if !ok {
		return domain.ErrProducerNotFound
	}
	if p.kind != domain.KindAudio {
		return fmt.Errorf("%w: producer %s is not audio", domain.ErrUnsupportedCodec, producerID)
	}
	o.mu.Lock()
	if _, ok := o.levels[producerID]; !ok {
		o.levels[producerID] = &levelSum{}
	}
	o.mu.Unlock()
	p.observer.Store(o)
	return nil
}

func (o *AudioLevelObserver) RemoveProducer(producerID string) error {
	o.mu.Lock()
	delete(o.levels, producerID)
	o.mu.Unlock()
	if p, ok := o.router.producer(producerID); ok {
		p.observer.CompareAndSwap(o, nil)
	}
	return nil
}

func (o *AudioLevelObserver) OnVolumes(fn func(volumes []ports.AudioVolume)) {
	o.mu.Lock()
	o.onVolumes = fn
	o.mu.Unlock()
}

func (o *AudioLevelObserver) OnSilence(fn func()) {
	o.mu.Lock()
	o.onSilence = fn
	o.mu.Unlock()
}

// record accumulates the level carried in one audio-level extension.
func (o *AudioLevelObserver) record(producerID string, raw []byte) {
	if len(raw) == 0 {
		return
	}
	var ext rtp.AudioLevelExtension
	if err := ext.Unmarshal(raw); err != nil {
		return
	}
	o.mu.Lock()
	if s, ok := o.levels[producerID]; ok {
		s.total += uint32(ext.Level)
		s.count++
	}
	o.mu.Unlock()
}

// report emits the loudest producers above the threshold, or a single
// silence notification when none qualify.
func (o *AudioLevelObserver) report() {
	o.mu.Lock()
	var volumes []ports.AudioVolume
	for id, s := range o.levels {
		if s.count == 0 {
			continue
		}
		volume := -int8(s.total / s.count)
		if volume > o.opts.Threshold {
			volumes = append(volumes, ports.AudioVolume{ProducerID: id, Volume: volume})
		}
		s.total, s.count = 0, 0
	}
	sort.Slice(volumes, func(i, j int) bool { return volumes[i].Volume > volumes[j].Volume })
	if len(volumes) > o.opts.MaxEntries {
		volumes = volumes[:o.opts.MaxEntries]
	}

	onVolumes, onSilence := o.onVolumes, o.onSilence
	fireSilence := false
	if len(volumes) == 0 {
		fireSilence = !o.silent
		o.silent = true
	} else {
		o.silent = false
	}
	o.mu.Unlock()

	switch {
	case len(volumes) > 0 && onVolumes != nil:
		onVolumes(volumes)
	case fireSilence && onSilence != nil:
		onSilence()
	}
}

func (o *AudioLevelObserver) Close() error {
	if !o.markClosed() {
		return nil
	}
	close(o.stop)
	o.mu.Lock()
	ids := make([]string, 0, len(o.levels))
	for id := range o.levels {
		ids = append(ids, id)
	}
	o.levels = make(map[string]*levelSum)
	o.mu.Unlock()

	for _, id := range ids {
		if p, ok := o.router.producer(id); ok {
			p.observer.CompareAndSwap(o, nil)
		}
	}
	o.router.removeObserver(o)
	o.notify()
	return nil
}
