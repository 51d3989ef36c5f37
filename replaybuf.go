package replaybuf

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/replaybuf/checkpoint"
	"github.com/hupe1980/replaybuf/chunkstore"
	"github.com/hupe1980/replaybuf/ratelimiter"
	"github.com/hupe1980/replaybuf/schema"
	"github.com/hupe1980/replaybuf/selector"
	"github.com/hupe1980/replaybuf/table"
)

// Server hosts a set of replay tables sharing one chunk store.
type Server struct {
	logger       *Logger
	metrics      MetricsCollector
	checkpointer *checkpoint.Checkpointer

	chunks *chunkstore.ChunkStore

	mu      sync.RWMutex
	tables  map[string]*table.Table
	stateID schema.StateID
	closed  bool
}

// ServerInfo describes the server and all its tables. TablesStateID
// changes whenever the table set is rebuilt (restore), letting clients
// detect that cached table handles are stale.
type ServerInfo struct {
	TablesStateID schema.StateID     `json:"tables_state_id"`
	Tables        []schema.TableInfo `json:"tables"`
}

// New creates an empty Server.
func New(opts ...Option) *Server {
	s := &Server{
		logger:  NewLogger(nil),
		metrics: NoopMetricsCollector{},
		tables:  make(map[string]*table.Table),
		stateID: schema.NewStateID(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.chunks == nil {
		s.chunks = chunkstore.New()
	}
	return s
}

// ChunkStore returns the chunk store shared by all tables.
func (s *Server) ChunkStore() *chunkstore.ChunkStore { return s.chunks }

// CreateTable creates and registers a table. The table always uses the
// server's shared chunk store.
func (s *Server) CreateTable(cfg table.Config) (*table.Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("%w: server closed", ErrCancelled)
	}
	if _, ok := s.tables[cfg.Name]; ok {
		return nil, fmt.Errorf("%w: table %q already exists", ErrFailedPrecondition, cfg.Name)
	}

	cfg.ChunkStore = s.chunks
	t, err := table.New(cfg)
	if err != nil {
		return nil, translateError(err)
	}
	s.tables[cfg.Name] = t

	s.logger.InfoContext(context.Background(), "table created",
		"table", cfg.Name,
		"max_size", cfg.MaxSize,
	)
	return t, nil
}

// Table returns the named table.
func (s *Server) Table(name string) (*table.Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: table %q", ErrNotFound, name)
	}
	return t, nil
}

// Tables returns all table names, sorted.
func (s *Server) Tables() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ServerInfo returns the state id and per-table info.
func (s *Server) ServerInfo() ServerInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := ServerInfo{TablesStateID: s.stateID}
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		info.Tables = append(info.Tables, s.tables[name].Info())
	}
	return info
}

// Sample draws n items from the named table. It blocks while the
// table's rate limiter withholds samples; ctx aborts the wait. On error
// the items sampled so far are returned alongside it.
func (s *Server) Sample(ctx context.Context, tableName string, n int) ([]table.SampledItem, error) {
	start := time.Now()

	t, err := s.Table(tableName)
	if err != nil {
		s.metrics.RecordSample(n, 0, time.Since(start), err)
		return nil, err
	}
	if n <= 0 {
		err := fmt.Errorf("%w: sample count must be positive, got %d", ErrInvalidArgument, n)
		s.metrics.RecordSample(n, 0, time.Since(start), err)
		return nil, err
	}

	samples := make([]table.SampledItem, 0, n)
	for len(samples) < n {
		sample, err := t.Sample(ctx)
		if err != nil {
			err = translateError(err)
			s.metrics.RecordSample(n, len(samples), time.Since(start), err)
			s.logger.LogSample(ctx, tableName, n, len(samples), err)
			return samples, err
		}
		samples = append(samples, sample)
	}

	s.metrics.RecordSample(n, len(samples), time.Since(start), nil)
	s.logger.LogSample(ctx, tableName, n, len(samples), nil)
	return samples, nil
}

// MutatePriorities applies deletions and priority updates to the named
// table. Unknown item keys are skipped.
func (s *Server) MutatePriorities(ctx context.Context, tableName string, updates []schema.KeyWithPriority, deletes []uint64) error {
	start := time.Now()

	t, err := s.Table(tableName)
	if err != nil {
		s.metrics.RecordMutate(len(updates), len(deletes), time.Since(start), err)
		return err
	}

	err = translateError(t.MutatePriorities(updates, deletes))
	s.metrics.RecordMutate(len(updates), len(deletes), time.Since(start), err)
	s.logger.LogMutate(ctx, tableName, len(updates), len(deletes), err)
	return err
}

// Reset clears the named table.
func (s *Server) Reset(ctx context.Context, tableName string) error {
	start := time.Now()

	t, err := s.Table(tableName)
	if err != nil {
		return err
	}
	t.Reset()

	s.metrics.RecordReset(time.Since(start))
	s.logger.LogReset(ctx, tableName)
	return nil
}

// Close cancels all rate limiter waits on all tables. Data remains
// readable; no new blocking operations will be admitted.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for _, t := range s.tables {
		t.Close()
	}
	return nil
}

// Checkpoint saves all tables and their chunks through the configured
// checkpointer and returns the checkpoint id.
func (s *Server) Checkpoint(ctx context.Context) (string, error) {
	start := time.Now()

	if s.checkpointer == nil {
		return "", fmt.Errorf("%w: no checkpointer configured", ErrFailedPrecondition)
	}

	state := s.checkpointState()
	id, err := s.checkpointer.Save(ctx, state)
	s.metrics.RecordCheckpoint(time.Since(start), err)
	s.logger.LogCheckpoint(ctx, id, len(state.Tables), len(state.Chunks), err)
	return id, err
}

func (s *Server) checkpointState() checkpoint.State {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := checkpoint.State{StateID: s.stateID}
	chunkKeys := make(map[uint64]bool)

	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		t := s.tables[name]
		info := t.Info()
		data := t.CheckpointData()

		state.Tables = append(state.Tables, checkpoint.TableState{
			Name:            info.Name,
			MaxSize:         info.MaxSize,
			MaxTimesSampled: info.MaxTimesSampled,
			Signature:       info.Signature,
			Sampler:         info.SamplerOptions,
			Remover:         info.RemoverOptions,
			Limiter: checkpoint.LimiterState{
				SamplesPerInsert: info.RateLimiterInfo.SamplesPerInsert,
				MinDiff:          info.RateLimiterInfo.MinDiff,
				MaxDiff:          info.RateLimiterInfo.MaxDiff,
				MinSizeToSample:  info.RateLimiterInfo.MinSizeToSample,
				Inserts:          data.Inserts,
				Samples:          data.Samples,
				Deletes:          data.Deletes,
			},
			Items: data.Items,
		})

		for _, item := range data.Items {
			for _, key := range item.ChunkKeys {
				chunkKeys[key] = true
			}
		}
	}

	keys := make([]uint64, 0, len(chunkKeys))
	for key := range chunkKeys {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, key := range keys {
		c, err := s.chunks.Get(key)
		if err != nil {
			panic(fmt.Sprintf("replaybuf: live item references missing chunk %d", key))
		}
		state.Chunks = append(state.Chunks, c.Data())
	}
	return state
}

// Restore replaces the server's tables with the latest checkpoint from
// the configured checkpointer. Existing tables are closed and a new
// tables-state id is issued.
func (s *Server) Restore(ctx context.Context) error {
	if s.checkpointer == nil {
		return fmt.Errorf("%w: no checkpointer configured", ErrFailedPrecondition)
	}

	state, err := s.checkpointer.Load(ctx)
	if err != nil {
		s.logger.LogRestore(ctx, 0, 0, err)
		return err
	}
	return s.applyState(ctx, state)
}

func (s *Server) applyState(ctx context.Context, state checkpoint.State) error {
	chunks := chunkstore.New()
	byKey := make(map[uint64]*chunkstore.Chunk, len(state.Chunks))
	for _, data := range state.Chunks {
		c, err := chunks.Put(data)
		if err != nil {
			return translateError(err)
		}
		byKey[data.ChunkKey] = c
	}

	tables := make(map[string]*table.Table, len(state.Tables))
	items := 0
	for _, ts := range state.Tables {
		t, err := buildTable(ts, chunks)
		if err != nil {
			return err
		}
		for _, item := range ts.Items {
			resolved := make([]*chunkstore.Chunk, 0, len(item.ChunkKeys))
			for _, key := range item.ChunkKeys {
				c, ok := byKey[key]
				if !ok {
					return fmt.Errorf("%w: item %d references chunk %d missing from checkpoint",
						ErrInvalidArgument, item.Key, key)
				}
				resolved = append(resolved, c)
			}
			if err := t.InsertCheckpointItem(item, resolved); err != nil {
				return translateError(err)
			}
			items++
		}
		t.RestoreLimiter(ts.Limiter.Inserts, ts.Limiter.Samples, ts.Limiter.Deletes)
		tables[ts.Name] = t
	}

	s.mu.Lock()
	old := s.tables
	s.tables = tables
	s.chunks = chunks
	s.stateID = schema.NewStateID()
	s.mu.Unlock()

	for _, t := range old {
		t.Close()
	}

	s.logger.LogRestore(ctx, len(tables), items, nil)
	return nil
}

func buildTable(ts checkpoint.TableState, chunks *chunkstore.ChunkStore) (*table.Table, error) {
	sampler, err := selector.New(ts.Sampler)
	if err != nil {
		return nil, translateError(err)
	}
	remover, err := selector.New(ts.Remover)
	if err != nil {
		return nil, translateError(err)
	}
	limiter, err := ratelimiter.New(
		ts.Limiter.SamplesPerInsert,
		ts.Limiter.MinSizeToSample,
		ts.Limiter.MinDiff,
		ts.Limiter.MaxDiff,
	)
	if err != nil {
		return nil, translateError(err)
	}

	t, err := table.New(table.Config{
		Name:            ts.Name,
		Sampler:         sampler,
		Remover:         remover,
		MaxSize:         ts.MaxSize,
		MaxTimesSampled: ts.MaxTimesSampled,
		RateLimiter:     limiter,
		Signature:       ts.Signature,
		ChunkStore:      chunks,
	})
	if err != nil {
		return nil, translateError(err)
	}
	return t, nil
}
