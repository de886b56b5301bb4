package formstate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/sopsync/internal/form"
	"github.com/roach88/sopsync/internal/schema"
)

var (
	// ErrUnknownField is returned when a field id is not in the template.
	ErrUnknownField = errors.New("unknown field")

	// ErrShapeMismatch is returned when a list is written to a scalar field
	// or a scalar to a checkbox-multiple field.
	ErrShapeMismatch = errors.New("value shape does not match field type")
)

// Source identifies who produced a write.
type Source string

const (
	SourceUser      Source = "user"
	SourcePrefill   Source = "prefill"
	SourceAssistant Source = "assistant"
)

// Persister is the external key-value collaborator snapshots are written to.
// Get reports found=false for a missing key.
type Persister interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte) error
}

// Change is one applied field write.
type Change struct {
	Seq     int64
	Key     string
	Source  Source
	FieldID string
	Value   form.Value
}

// ChangeRecorder receives every applied field write, in order.
type ChangeRecorder interface {
	RecordChange(ctx context.Context, c Change) error
}

// Option configures a Store.
type Option func(*Store)

// WithPersister sets the snapshot persister. Open sets it implicitly.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithRecorder sets the change recorder.
func WithRecorder(r ChangeRecorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithClock sets the sequencer used to stamp changes.
func WithClock(c Sequencer) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithDebounce coalesces write-through into one write per quiet period d.
// Zero (the default) writes immediately after every change.
func WithDebounce(d time.Duration) Option {
	return func(s *Store) { s.debounce = d }
}

// Store is the form state for one template, keyed for persistence.
//
// All methods are safe for concurrent use; mutators are serialized.
type Store struct {
	tmpl *schema.Template
	key  string

	persister Persister
	recorder  ChangeRecorder
	clock     Sequencer
	logger    *slog.Logger
	debounce  time.Duration

	mu            sync.Mutex
	state         form.State
	persistedHash string
	timer         *time.Timer
	persistErrs   int
}

// New creates an empty store for tmpl. Nothing is read from persistence.
func New(tmpl *schema.Template, key string, opts ...Option) *Store {
	s := &Store{
		tmpl:   tmpl,
		key:    key,
		state:  form.State{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.clock == nil {
		s.clock = NewClock()
	}
	s.persistedHash = form.MustSnapshotHash(s.state)
	return s
}

// Open creates a store and restores the snapshot persisted under key.
//
// Restored values that no longer fit the template (unknown ids, wrong shape)
// are dropped. A read or decode failure is logged and yields an empty store.
func Open(ctx context.Context, tmpl *schema.Template, key string, p Persister, opts ...Option) *Store {
	s := New(tmpl, key, append(opts, WithPersister(p))...)
	if p == nil {
		return s
	}

	data, found, err := p.Get(ctx, key)
	if err != nil {
		s.persistErrs++
		s.logger.Warn("snapshot restore failed", "key", key, "error", err)
		return s
	}
	if !found {
		return s
	}

	saved, err := form.UnmarshalState(data)
	if err != nil {
		s.logger.Warn("snapshot decode failed", "key", key, "error", err)
		return s
	}

	dropped := 0
	for _, id := range saved.SortedKeys() {
		v := saved[id]
		field, ok := tmpl.Field(id)
		if !ok || v.IsEmpty() || !shapeMatches(field, v) {
			dropped++
			continue
		}
		s.state[id] = v
	}
	s.persistedHash = form.MustSnapshotHash(s.state)

	s.logger.Debug("snapshot restored", "key", key, "fields", len(s.state), "dropped", dropped)
	return s
}

// Template returns the template this store validates against.
func (s *Store) Template() *schema.Template {
	return s.tmpl
}

// Key returns the persistence key.
func (s *Store) Key() string {
	return s.key
}

// Value returns the current value of a field (empty if unset).
func (s *Store) Value(fieldID string) form.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Get(fieldID)
}

// Snapshot returns an immutable copy of the state.
func (s *Store) Snapshot() form.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// PersistErrors returns how many persistence or history writes have failed.
func (s *Store) PersistErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistErrs
}

// ApplyUserEdit overwrites a field unconditionally. Writing an empty value
// clears the field.
func (s *Store) ApplyUserEdit(ctx context.Context, fieldID string, v form.Value) error {
	field, ok := s.tmpl.Field(fieldID)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, fieldID)
	}
	if !shapeMatches(field, v) {
		return fmt.Errorf("%w: field %q is %s, got %s", ErrShapeMismatch, fieldID, field.Type, v.Kind())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Get(fieldID).Equal(normalize(v)) {
		return nil
	}
	s.setLocked(ctx, SourceUser, fieldID, v)
	s.scheduleLocked(ctx)
	return nil
}

// ApplyMerge writes each key of partial whose current value is empty.
// Keys that cannot be applied are skipped individually and reported.
func (s *Store) ApplyMerge(ctx context.Context, src Source, partial form.Partial) MergeResult {
	var res MergeResult

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range partial.SortedKeys() {
		v := partial[id]
		field, ok := s.tmpl.Field(id)
		switch {
		case !ok:
			res.skip(id, SkipUnknownField)
		case v.IsEmpty():
			res.skip(id, SkipEmptyValue)
		case !shapeMatches(field, v):
			res.skip(id, SkipShapeMismatch)
		case !s.state.Get(id).IsEmpty():
			res.skip(id, SkipNotEmpty)
		default:
			s.setLocked(ctx, src, id, v)
			res.Applied = append(res.Applied, id)
		}
	}

	if len(res.Applied) > 0 {
		s.scheduleLocked(ctx)
	}
	s.logger.Debug("merge applied",
		"key", s.key,
		"source", src,
		"applied", len(res.Applied),
		"skipped", len(res.Skipped),
	)
	return res
}

// Flush writes the current snapshot if it differs from the last one
// persisted, cancelling any pending debounced write.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return s.persistLocked(ctx)
}

// setLocked writes v (or deletes the key for an empty value) and records the
// change. Caller holds s.mu.
func (s *Store) setLocked(ctx context.Context, src Source, fieldID string, v form.Value) {
	v = normalize(v)
	if v.IsEmpty() {
		delete(s.state, fieldID)
	} else {
		s.state[fieldID] = v
	}

	if s.recorder == nil {
		return
	}
	c := Change{
		Seq:     s.clock.Next(),
		Key:     s.key,
		Source:  src,
		FieldID: fieldID,
		Value:   v,
	}
	if err := s.recorder.RecordChange(ctx, c); err != nil {
		s.persistErrs++
		s.logger.Warn("change history write failed", "key", s.key, "field", fieldID, "error", err)
	}
}

// scheduleLocked persists now or arms the debounce timer. Caller holds s.mu.
func (s *Store) scheduleLocked(ctx context.Context) {
	if s.persister == nil {
		return
	}
	if s.debounce <= 0 {
		_ = s.persistLocked(ctx)
		return
	}
	if s.timer != nil {
		s.timer.Reset(s.debounce)
		return
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.Flush(context.Background()); err != nil {
			s.logger.Debug("debounced flush failed", "key", s.key, "error", err)
		}
	})
}

// persistLocked writes the canonical snapshot unless its hash matches the
// last successful write. Caller holds s.mu.
func (s *Store) persistLocked(ctx context.Context) error {
	if s.persister == nil {
		return nil
	}

	data, err := form.MarshalCanonical(s.state)
	if err != nil {
		s.persistErrs++
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	hash, err := form.SnapshotHash(s.state)
	if err != nil {
		s.persistErrs++
		return fmt.Errorf("hash snapshot: %w", err)
	}
	if hash == s.persistedHash {
		return nil
	}

	if err := s.persister.Set(ctx, s.key, data); err != nil {
		s.persistErrs++
		s.logger.Warn("snapshot write failed", "key", s.key, "error", err)
		return fmt.Errorf("persist %s: %w", s.key, err)
	}
	s.persistedHash = hash
	return nil
}

// shapeMatches reports whether v may be stored in field. Empty values fit
// every field.
func shapeMatches(field schema.FieldDef, v form.Value) bool {
	if v.IsEmpty() {
		return true
	}
	return field.Type.IsList() == v.IsList()
}

// normalize folds "", [] and empty into the empty value.
func normalize(v form.Value) form.Value {
	if v.IsEmpty() {
		return form.Empty()
	}
	return v
}
