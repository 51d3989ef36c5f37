// Package checkpoint persists and restores replay state through a
// blobstore.Store.
//
// A checkpoint is a directory of blobs:
//
//	checkpoints/<id>/manifest.json   table list, codec, state id
//	checkpoints/<id>/chunks.bin      compressed chunk payloads
//	checkpoints/<id>/tables/<name>   per-table items and counters
//	CURRENT                          path of the latest manifest
//
// The CURRENT pointer is written last, so a crash mid-save leaves the
// previous checkpoint intact. Per-table blobs upload concurrently,
// bounded by a semaphore and an optional byte-rate throttle.
package checkpoint

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/hupe1980/replaybuf/blobstore"
	"github.com/hupe1980/replaybuf/chunkstore"
	"github.com/hupe1980/replaybuf/codec"
	"github.com/hupe1980/replaybuf/schema"
)

// FormatVersion identifies the checkpoint layout. Bump on incompatible
// changes.
const FormatVersion = 1

// CurrentName is the pointer blob naming the latest manifest.
const CurrentName = "CURRENT"

// LimiterState is the portable rate limiter configuration and counters.
type LimiterState struct {
	SamplesPerInsert float64 `json:"samples_per_insert"`
	MinDiff          float64 `json:"min_diff"`
	MaxDiff          float64 `json:"max_diff"`
	MinSizeToSample  int64   `json:"min_size_to_sample"`
	Inserts          int64   `json:"inserts"`
	Samples          int64   `json:"samples"`
	Deletes          int64   `json:"deletes"`
}

// TableState is the portable state of one table.
type TableState struct {
	Name            string                        `json:"name"`
	MaxSize         int64                         `json:"max_size"`
	MaxTimesSampled int32                         `json:"max_times_sampled"`
	Signature       string                        `json:"signature,omitempty"`
	Sampler         schema.KeyDistributionOptions `json:"sampler"`
	Remover         schema.KeyDistributionOptions `json:"remover"`
	Limiter         LimiterState                  `json:"limiter"`
	Items           []schema.PrioritizedItem      `json:"items"`
}

// State is a full snapshot handed to Save.
type State struct {
	StateID schema.StateID     `json:"state_id"`
	Tables  []TableState       `json:"tables"`
	Chunks  []schema.ChunkData `json:"chunks"`
}

// Manifest describes one saved checkpoint.
type Manifest struct {
	Version     int                    `json:"version"`
	Codec       string                 `json:"codec"`
	Compression chunkstore.Compression `json:"compression"`
	StateID     schema.StateID         `json:"state_id"`
	CreatedAt   time.Time              `json:"created_at"`
	ChunksBlob  string                 `json:"chunks_blob"`
	TableBlobs  []string               `json:"table_blobs"`
}

// Option configures a Checkpointer.
type Option func(*Checkpointer)

// WithCodec overrides the serialization codec.
func WithCodec(c codec.Codec) Option {
	return func(cp *Checkpointer) { cp.codec = c }
}

// WithCompression sets the chunk payload compression.
func WithCompression(c chunkstore.Compression) Option {
	return func(cp *Checkpointer) { cp.compression = c }
}

// WithConcurrency bounds the number of parallel blob uploads.
func WithConcurrency(n int64) Option {
	return func(cp *Checkpointer) {
		if n > 0 {
			cp.concurrency = n
		}
	}
}

// WithByteRate throttles upload bandwidth to n bytes per second, so a
// background checkpoint does not starve live traffic.
func WithByteRate(n int) Option {
	return func(cp *Checkpointer) {
		if n > 0 {
			cp.limiter = rate.NewLimiter(rate.Limit(n), n)
		}
	}
}

// Checkpointer saves and loads snapshots.
type Checkpointer struct {
	store       blobstore.Store
	codec       codec.Codec
	compression chunkstore.Compression
	concurrency int64
	limiter     *rate.Limiter
}

// New creates a Checkpointer on top of a blob store.
func New(store blobstore.Store, opts ...Option) *Checkpointer {
	cp := &Checkpointer{
		store:       store,
		codec:       codec.Default,
		compression: chunkstore.CompressionZSTD,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(cp)
	}
	return cp
}

func checkpointDir(id string) string {
	return path.Join("checkpoints", id)
}

// Save writes the snapshot and commits it as the latest checkpoint.
// It returns the checkpoint id.
func (cp *Checkpointer) Save(ctx context.Context, state State) (string, error) {
	id := fmt.Sprintf("%d-%s", time.Now().UTC().UnixNano(), state.StateID)
	dir := checkpointDir(id)

	manifest := Manifest{
		Version:     FormatVersion,
		Codec:       cp.codec.Name(),
		Compression: cp.compression,
		StateID:     state.StateID,
		CreatedAt:   time.Now().UTC(),
		ChunksBlob:  path.Join(dir, "chunks.bin"),
	}
	for _, ts := range state.Tables {
		manifest.TableBlobs = append(manifest.TableBlobs, path.Join(dir, "tables", ts.Name))
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(cp.concurrency)

	put := func(name string, data []byte) {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			if err := cp.throttle(gctx, len(data)); err != nil {
				return err
			}
			return cp.store.Put(gctx, name, data)
		})
	}

	chunkBytes, err := cp.encodeChunks(state.Chunks)
	if err != nil {
		return "", err
	}
	put(manifest.ChunksBlob, chunkBytes)

	for i, ts := range state.Tables {
		data, err := cp.codec.Marshal(ts)
		if err != nil {
			return "", fmt.Errorf("encode table %s: %w", ts.Name, err)
		}
		put(manifest.TableBlobs[i], data)
	}

	if err := g.Wait(); err != nil {
		return "", err
	}

	manifestBytes, err := cp.codec.Marshal(manifest)
	if err != nil {
		return "", fmt.Errorf("encode manifest: %w", err)
	}
	manifestPath := path.Join(dir, "manifest.json")
	if err := cp.store.Put(ctx, manifestPath, manifestBytes); err != nil {
		return "", err
	}

	// Commit. With a plain S3 store this is last-writer-wins; the DDB
	// commit store turns it into a compare-and-swap.
	if err := cp.store.Put(ctx, CurrentName, []byte(manifestPath)); err != nil {
		return "", err
	}
	return id, nil
}

// Load reads the checkpoint named by the CURRENT pointer.
func (cp *Checkpointer) Load(ctx context.Context) (State, error) {
	current, err := blobstore.ReadAll(ctx, cp.store, CurrentName)
	if err != nil {
		return State{}, err
	}
	return cp.LoadManifest(ctx, strings.TrimSpace(string(current)))
}

// LoadManifest reads one specific checkpoint by manifest path.
func (cp *Checkpointer) LoadManifest(ctx context.Context, manifestPath string) (State, error) {
	manifestBytes, err := blobstore.ReadAll(ctx, cp.store, manifestPath)
	if err != nil {
		return State{}, err
	}

	var manifest Manifest
	if err := cp.codec.Unmarshal(manifestBytes, &manifest); err != nil {
		return State{}, fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.Version != FormatVersion {
		return State{}, fmt.Errorf("unsupported checkpoint version %d", manifest.Version)
	}
	dec, ok := codec.ByName(manifest.Codec)
	if !ok {
		return State{}, fmt.Errorf("unknown checkpoint codec %q", manifest.Codec)
	}

	state := State{StateID: manifest.StateID}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(cp.concurrency)
	state.Tables = make([]TableState, len(manifest.TableBlobs))

	for i, name := range manifest.TableBlobs {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			data, err := blobstore.ReadAll(gctx, cp.store, name)
			if err != nil {
				return fmt.Errorf("read table blob %s: %w", name, err)
			}
			return dec.Unmarshal(data, &state.Tables[i])
		})
	}

	g.Go(func() error {
		data, err := blobstore.ReadAll(gctx, cp.store, manifest.ChunksBlob)
		if err != nil {
			return fmt.Errorf("read chunk blob: %w", err)
		}
		chunks, err := cp.decodeChunks(dec, data, manifest.Compression)
		if err != nil {
			return err
		}
		state.Chunks = chunks
		return nil
	})

	if err := g.Wait(); err != nil {
		return State{}, err
	}
	return state, nil
}

// List returns the ids of all saved checkpoints, oldest first.
func (cp *Checkpointer) List(ctx context.Context) ([]string, error) {
	names, err := cp.store.List(ctx, "checkpoints/")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var ids []string
	for _, name := range names {
		rest := strings.TrimPrefix(name, "checkpoints/")
		id, _, ok := strings.Cut(rest, "/")
		if ok && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// Delete removes a saved checkpoint by id. The CURRENT pointer is not
// touched.
func (cp *Checkpointer) Delete(ctx context.Context, id string) error {
	names, err := cp.store.List(ctx, checkpointDir(id)+"/")
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := cp.store.Delete(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (cp *Checkpointer) throttle(ctx context.Context, n int) error {
	if cp.limiter == nil || n == 0 {
		return nil
	}
	burst := cp.limiter.Burst()
	// Larger blobs drain the bucket in burst-sized slices.
	for n > 0 {
		take := n
		if take > burst {
			take = burst
		}
		if err := cp.limiter.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

func (cp *Checkpointer) encodeChunks(chunks []schema.ChunkData) ([]byte, error) {
	raw, err := cp.codec.Marshal(chunks)
	if err != nil {
		return nil, fmt.Errorf("encode chunks: %w", err)
	}
	compressed, err := chunkstore.CompressData(raw, cp.compression)
	if err != nil {
		return nil, fmt.Errorf("compress chunks: %w", err)
	}
	return compressed, nil
}

func (cp *Checkpointer) decodeChunks(dec codec.Codec, data []byte, c chunkstore.Compression) ([]schema.ChunkData, error) {
	raw, err := chunkstore.DecompressData(data, c)
	if err != nil {
		return nil, fmt.Errorf("decompress chunks: %w", err)
	}
	var chunks []schema.ChunkData
	if err := dec.Unmarshal(raw, &chunks); err != nil {
		return nil, fmt.Errorf("decode chunks: %w", err)
	}
	return chunks, nil
}
