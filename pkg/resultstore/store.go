package resultstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/bridgeerr"
	"github.com/mahawi1992/mwilliams-mcpbridge/pkg/clock"
)

// DefaultTTL is the lifetime a stored result survives before
// list_results/get_result stop serving it (§4.4).
const DefaultTTL = 10 * time.Minute

// sweepInterval mirrors the teacher's health-check loop cadence:
// infrequent enough to be cheap, frequent enough that an expired
// result doesn't linger long after its TTL.
const sweepInterval = 60 * time.Second

// StoredResult is a compacted downstream tool result held until it is
// fetched via get_result or expires.
type StoredResult struct {
	ResultID    string
	Server      string
	Tool        string
	FullPayload any
	Summary     map[string]any
	CreatedAt   time.Time
}

// Store holds compacted results in memory. The zero value is not
// usable; construct one with NewStore.
type Store struct {
	mu      sync.Mutex
	results map[string]*StoredResult
	ttl     time.Duration
	clk     clock.Clock
	counter uint64
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStore constructs a Store with the given TTL. A zero ttl defaults
// to DefaultTTL.
func NewStore(ttl time.Duration, clk clock.Clock, logger *slog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clk == nil {
		clk = clock.Real
	}
	return &Store{
		results: make(map[string]*StoredResult),
		ttl:     ttl,
		clk:     clk,
		logger:  logger,
	}
}

// nextID builds a §4.4 result_id: <server>_<tool>_<base36-timestamp>_<base36-counter>.
// The counter makes IDs unique even when two results are stored within
// the same nanosecond.
func (s *Store) nextID(server, tool string) string {
	n := atomic.AddUint64(&s.counter, 1)
	ts := s.clk.Now().UnixNano()
	return fmt.Sprintf("%s_%s_%s_%s", server, tool, strconv.FormatInt(ts, 36), strconv.FormatUint(n, 36))
}

// Store classifies payload per §4.4. Small payloads pass through
// uncompacted; large ones are retained under a new result_id and a
// summary/preview envelope is returned instead.
func (s *Store) Store(payload any, server, tool string, cfg CompactorConfig) map[string]any {
	if !IsLarge(payload, cfg) {
		return map[string]any{
			"compacted": false,
			"data":      payload,
		}
	}
	return s.StoreForced(payload, server, tool, cfg)
}

// StoreForced retains payload under a new result_id regardless of
// classification, for call_mcp_tool's explicit compact override.
func (s *Store) StoreForced(payload any, server, tool string, cfg CompactorConfig) map[string]any {
	size, _ := payloadSize(payload)
	id := s.nextID(server, tool)
	summary := Summary(payload, server, tool, size)
	preview := Preview(payload, cfg)

	s.mu.Lock()
	s.results[id] = &StoredResult{
		ResultID:    id,
		Server:      server,
		Tool:        tool,
		FullPayload: payload,
		Summary:     summary,
		CreatedAt:   s.clk.Now(),
	}
	s.mu.Unlock()

	return map[string]any{
		"compacted": true,
		"result_id": id,
		"summary":   summary,
		"preview":   preview,
		"hint":      "call get_result with this result_id to fetch the full payload",
	}
}

// Get returns the full payload for id, or a ResultMissing/ResultExpired
// bridgeerr.Error if it is unknown or has outlived its TTL.
func (s *Store) Get(id string) (map[string]any, error) {
	s.mu.Lock()
	r, ok := s.results[id]
	if !ok {
		s.mu.Unlock()
		return nil, bridgeerr.New(bridgeerr.KindResultMissing, "", "", errors.New("no such result_id: "+id))
	}

	age := s.clk.Now().Sub(r.CreatedAt)
	if age > s.ttl {
		delete(s.results, id)
		s.mu.Unlock()
		return nil, bridgeerr.New(bridgeerr.KindResultExpired, r.Server, r.Tool, fmt.Errorf("result %q expired %s ago", id, age-s.ttl))
	}
	s.mu.Unlock()

	return map[string]any{
		"result_id":   id,
		"server":      r.Server,
		"tool":        r.Tool,
		"age_seconds": age.Seconds(),
		"data":        r.FullPayload,
	}, nil
}

// ListResults returns a summary entry per live (non-expired) stored
// result, oldest first.
func (s *Store) ListResults() []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	out := make([]map[string]any, 0, len(s.results))
	for id, r := range s.results {
		age := now.Sub(r.CreatedAt)
		if age > s.ttl {
			continue
		}
		expiresIn := s.ttl - age
		out = append(out, map[string]any{
			"result_id":          id,
			"summary":            r.Summary,
			"age_seconds":        age.Seconds(),
			"expires_in_seconds": expiresIn.Seconds(),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i]["age_seconds"].(float64) > out[j]["age_seconds"].(float64)
	})
	return out
}

// Count returns the number of currently held results, including ones
// past their TTL but not yet swept.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// Start launches the background expiry sweep. Calling Start on an
// already-running store is a no-op, matching the teacher's
// HealthMonitor.Start contract.
func (s *Store) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.sweepLoop(ctx)
}

// Stop halts the background sweep and blocks until the loop exits.
func (s *Store) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
	s.cancel = nil
	s.done = nil
}

func (s *Store) sweepLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Store) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	for id, r := range s.results {
		if now.Sub(r.CreatedAt) > s.ttl {
			delete(s.results, id)
		}
	}
	if s.logger != nil {
		s.logger.Debug("result store sweep complete", "remaining", len(s.results))
	}
}
