// Package state holds the UI-facing projection of the telemetry feed.
package state

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/event"

	"transformer-telemetry/internal/telemetry"
)

// DefaultSeriesCap bounds every displayed series.
const DefaultSeriesCap = 256

const subscriberBuffer = 64

// ErrUnknownEntity is returned when selecting an entity that is not monitored.
var ErrUnknownEntity = errors.New("state: unknown entity")

// LastAnomaly is the classification of the latest sample shown for the
// selected entity.
type LastAnomaly struct {
	Kind            telemetry.AnomalyKind `json:"kind"`
	EntityID        telemetry.EntityID    `json:"entityId"`
	TimestampMillis int64                 `json:"timestampMillis"`
}

// UIState is one consistent snapshot. Every series belongs to SelectedEntity.
type UIState struct {
	SelectedEntity telemetry.EntityID                           `json:"selectedEntity"`
	Series         map[telemetry.Metric][]telemetry.SeriesPoint `json:"series"`
	LastAnomaly    *LastAnomaly                                 `json:"lastAnomaly,omitempty"`
	Running        bool                                         `json:"running"`
	Entities       []telemetry.EntityID                         `json:"entities"`
	Revision       uint64                                       `json:"revision"`
}

// Clone returns a deep copy.
func (u UIState) Clone() UIState {
	out := u
	out.Series = make(map[telemetry.Metric][]telemetry.SeriesPoint, len(u.Series))
	for k, v := range u.Series {
		out.Series[k] = append([]telemetry.SeriesPoint(nil), v...)
	}
	out.Entities = append([]telemetry.EntityID(nil), u.Entities...)
	if u.LastAnomaly != nil {
		la := *u.LastAnomaly
		out.LastAnomaly = &la
	}
	return out
}

type history struct {
	series map[telemetry.Metric][]telemetry.SeriesPoint
	last   *LastAnomaly
}

// Store owns the UI snapshot. Updates are serialised and each one publishes a
// freshly built snapshot; readers never see a partial update.
type Store struct {
	cap int

	mu        sync.Mutex
	notifyMu  sync.Mutex
	selected  telemetry.EntityID
	entities  []telemetry.EntityID
	running   bool
	revision  uint64
	histories map[telemetry.EntityID]*history

	current atomic.Pointer[UIState]
	feed    event.Feed
}

// NewStore builds an empty, not-running store.
func NewStore(seriesCap int) *Store {
	if seriesCap <= 0 {
		seriesCap = DefaultSeriesCap
	}
	s := &Store{cap: seriesCap, histories: make(map[telemetry.EntityID]*history)}
	s.current.Store(s.build())
	return s
}

// SetEntities replaces the known entity list. The first entity becomes the
// selection unless the current selection is still known. History of entities
// no longer listed is discarded.
func (s *Store) SetEntities(ids []telemetry.EntityID) {
	s.mu.Lock()
	s.entities = append([]telemetry.EntityID(nil), ids...)

	known := make(map[telemetry.EntityID]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}
	for id := range s.histories {
		if _, ok := known[id]; !ok {
			delete(s.histories, id)
		}
	}
	if _, ok := known[s.selected]; !ok {
		s.selected = ""
		if len(ids) > 0 {
			s.selected = ids[0]
		}
	}
	s.publishLocked()
}

// SetRunning flips the running flag.
func (s *Store) SetRunning(running bool) {
	s.mu.Lock()
	if s.running == running {
		s.mu.Unlock()
		return
	}
	s.running = running
	s.publishLocked()
}

// SelectEntity switches the displayed entity. History accumulated earlier for
// id is shown again and new samples append to it.
func (s *Store) SelectEntity(id telemetry.EntityID) error {
	s.mu.Lock()
	if !s.knownLocked(id) {
		s.mu.Unlock()
		return ErrUnknownEntity
	}
	if s.selected == id {
		s.mu.Unlock()
		return nil
	}
	s.selected = id
	s.publishLocked()
	return nil
}

// OnSample appends sample to the displayed series if it belongs to the
// selected entity and reports whether it did.
func (s *Store) OnSample(sample telemetry.SmoothedSample) bool {
	s.mu.Lock()
	id := sample.Raw.EntityID
	if id != s.selected || id == "" {
		s.mu.Unlock()
		return false
	}

	h := s.historyLocked(id)
	for _, metric := range telemetry.Metrics {
		h.series[metric] = appendCapped(h.series[metric], telemetry.SeriesPoint{
			TimestampMillis: sample.Raw.TimestampMillis,
			Value:           sample.Value(metric),
		}, s.cap)
	}
	h.last = &LastAnomaly{Kind: sample.Anomaly, EntityID: id, TimestampMillis: sample.Raw.TimestampMillis}
	s.publishLocked()
	return true
}

// Snapshot returns a copy of the current UI state.
func (s *Store) Snapshot() UIState {
	return s.current.Load().Clone()
}

// Subscribe registers fn to be called with every new snapshot. Calls happen
// in order on a goroutine dedicated to the subscriber; fn must not block for
// long. The returned function cancels the subscription.
func (s *Store) Subscribe(fn func(UIState)) (unsubscribe func()) {
	ch := make(chan *UIState, subscriberBuffer)
	sub := s.feed.Subscribe(ch)

	go func() {
		for {
			select {
			case st := <-ch:
				fn(st.Clone())
			case <-sub.Err():
				return
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(sub.Unsubscribe) }
}

// publishLocked builds and stores the next snapshot, releases s.mu and then
// notifies subscribers. notifyMu is taken before s.mu is released so
// notifications go out in revision order.
func (s *Store) publishLocked() {
	s.revision++
	next := s.build()
	s.current.Store(next)

	s.notifyMu.Lock()
	s.mu.Unlock()
	s.feed.Send(next)
	s.notifyMu.Unlock()
}

func (s *Store) build() *UIState {
	st := &UIState{
		SelectedEntity: s.selected,
		Series:         make(map[telemetry.Metric][]telemetry.SeriesPoint, len(telemetry.Metrics)),
		Running:        s.running,
		Entities:       append([]telemetry.EntityID{}, s.entities...),
		Revision:       s.revision,
	}

	h := s.histories[s.selected]
	for _, metric := range telemetry.Metrics {
		var pts []telemetry.SeriesPoint
		if h != nil {
			pts = h.series[metric]
		}
		st.Series[metric] = append(make([]telemetry.SeriesPoint, 0, len(pts)), pts...)
	}
	if h != nil && h.last != nil {
		la := *h.last
		st.LastAnomaly = &la
	}
	return st
}

func (s *Store) knownLocked(id telemetry.EntityID) bool {
	for _, e := range s.entities {
		if e == id {
			return true
		}
	}
	return false
}

func (s *Store) historyLocked(id telemetry.EntityID) *history {
	h, ok := s.histories[id]
	if !ok {
		h = &history{series: make(map[telemetry.Metric][]telemetry.SeriesPoint, len(telemetry.Metrics))}
		s.histories[id] = h
	}
	return h
}

func appendCapped(pts []telemetry.SeriesPoint, p telemetry.SeriesPoint, limit int) []telemetry.SeriesPoint {
	if len(pts) < limit {
		return append(pts, p)
	}
	copy(pts, pts[1:])
	pts[len(pts)-1] = p
	return pts
}
