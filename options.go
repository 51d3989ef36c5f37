package replaybuf

import (
	"github.com/hupe1980/replaybuf/checkpoint"
	"github.com/hupe1980/replaybuf/chunkstore"
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to a text logger at info level.
func WithLogger(l *Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetricsCollector sets the metrics collector. Defaults to no-op.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(s *Server) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithCheckpointer enables Checkpoint and Restore on the server.
func WithCheckpointer(cp *checkpoint.Checkpointer) Option {
	return func(s *Server) {
		s.checkpointer = cp
	}
}

// WithChunkStore shares an existing chunk store instead of creating a
// fresh one. All tables on a server always share a single store.
func WithChunkStore(cs *chunkstore.ChunkStore) Option {
	return func(s *Server) {
		if cs != nil {
			s.chunks = cs
		}
	}
}
