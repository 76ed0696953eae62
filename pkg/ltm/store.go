package ltm

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mindsim/engram/pkg/activation"
	"github.com/mindsim/engram/pkg/metrics"
)

// DefaultMaxMemories is the capacity ceiling applied when Config.MaxMemories
// is zero.
const DefaultMaxMemories = 10000

// DefaultSalience is applied to stored memories when no explicit salience is
// provided.
const DefaultSalience = 0.5

// Config holds construction parameters for a Store.
type Config struct {
	// MaxMemories is the hard capacity ceiling. Exceeding it after a new
	// insert evicts the single lowest-activation record. Default 10000.
	MaxMemories int

	// ContentAddressedIDs derives memory IDs from content and context only,
	// so identical resubmission reinforces the existing record. The default
	// (false) mixes the wall-clock instant into the hash: re-encoding the
	// same observation at a different instant creates a separate episodic
	// memory, and only truly-simultaneous resubmission reinforces.
	ContentAddressedIDs bool

	// MaxAccessHistory caps the per-memory access log, keeping the most
	// recent samples. Zero means unbounded.
	MaxAccessHistory int

	// Calculator computes activation. Defaults to activation.NewCalculator().
	Calculator *activation.Calculator

	// Snapshots is the optional persistence sink. When set, the store loads
	// from it at construction time and SaveSnapshot writes back to it.
	Snapshots SnapshotStore

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to the no-op collector.
	Metrics metrics.Collector
}

// StoreOptions carries the optional attributes of a Store call.
type StoreOptions struct {
	EmotionTag     *EmotionTag
	ContextHash    string
	Salience       float64
	Source         string
	LinkedMemories []string
}

// DefaultStoreOptions returns the option values used when Store is called
// with nil options.
func DefaultStoreOptions() *StoreOptions {
	return &StoreOptions{
		Salience: DefaultSalience,
		Source:   "direct",
	}
}

// Query selects and ranks memories for Retrieve. The zero value matches
// everything retrievable, ranked by activation, limited to 10 results, with
// access recording enabled.
type Query struct {
	// Text filters by case-insensitive substring containment against the
	// stringified content. Empty means no text filter.
	Text string

	// MemoryType, ContextHash and EmotionLabel each restrict the candidate
	// set through the corresponding index. Empty means no restriction on
	// that axis.
	MemoryType   MemoryType
	ContextHash  string
	EmotionLabel string

	// MinActivation overrides the calculator's retrieval threshold when
	// non-nil: candidates below it are dropped.
	MinActivation *float64

	// Limit truncates the ranked result. Values <= 0 mean 10.
	Limit int

	// SkipAccessUpdate suppresses the access recording (timestamp append and
	// count bump) normally applied to every returned record.
	SkipAccessUpdate bool
}

// Store is the authoritative long-term memory table with three secondary
// indices and an access-history log. All methods are safe for concurrent
// use.
type Store struct {
	mu sync.Mutex

	calc             *activation.Calculator
	maxMemories      int
	contentAddressed bool
	maxHistory       int
	snapshots        SnapshotStore
	logger           *slog.Logger
	collector        metrics.Collector
	now              func() time.Time

	memories      map[string]*ConsolidatedMemory
	accessHistory map[string][]time.Time

	typeIndex    map[MemoryType]map[string]struct{}
	contextIndex map[string]map[string]struct{}
	emotionIndex map[string]map[string]struct{}

	totalRetrievals int64
	totalStores     int64
}

// Stats summarizes the store's contents and lifetime counters. The struct
// marshals to the nested mapping shape expected by external logging sinks.
type Stats struct {
	TotalMemories       int            `json:"total_memories"`
	EpisodicCount       int            `json:"episodic_count"`
	SemanticCount       int            `json:"semantic_count"`
	ProceduralCount     int            `json:"procedural_count"`
	EmotionalCount      int            `json:"emotional_count"`
	EmotionDistribution map[string]int `json:"emotion_distribution"`
	TotalRetrievals     int64          `json:"total_retrievals"`
	TotalStores         int64          `json:"total_stores"`
}

// NewStore creates a Store and, when a snapshot sink is configured, loads
// the previous state from it. A failed or missing load is logged and the
// store starts empty; it is never fatal.
func NewStore(cfg Config) *Store {
	if cfg.MaxMemories <= 0 {
		cfg.MaxMemories = DefaultMaxMemories
	}
	if cfg.Calculator == nil {
		cfg.Calculator = activation.NewCalculator()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoopCollector()
	}

	s := &Store{
		calc:             cfg.Calculator,
		maxMemories:      cfg.MaxMemories,
		contentAddressed: cfg.ContentAddressedIDs,
		maxHistory:       cfg.MaxAccessHistory,
		snapshots:        cfg.Snapshots,
		logger:           cfg.Logger,
		collector:        cfg.Metrics,
		now:              time.Now,
		memories:         make(map[string]*ConsolidatedMemory),
		accessHistory:    make(map[string][]time.Time),
		typeIndex:        make(map[MemoryType]map[string]struct{}),
		contextIndex:     make(map[string]map[string]struct{}),
		emotionIndex:     make(map[string]map[string]struct{}),
	}
	for _, t := range MemoryTypes {
		s.typeIndex[t] = make(map[string]struct{})
	}

	if s.snapshots != nil {
		if err := s.loadSnapshot(context.Background()); err != nil {
			s.logger.Error("ltm: snapshot load failed, starting empty", "error", err)
		}
	}

	return s
}

// Store writes a memory to the long-term store and returns the stored
// record. If the derived ID already exists the existing record is reinforced
// (access bump and activation recompute) instead of duplicated. After every
// successful new insert the capacity ceiling is enforced by evicting the
// single lowest-activation record.
func (s *Store) Store(content any, memoryType MemoryType, opts *StoreOptions) *ConsolidatedMemory {
	if opts == nil {
		opts = DefaultStoreOptions()
	}
	if opts.Source == "" {
		opts.Source = "direct"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	memoryID := s.generateID(content, opts.ContextHash, now)

	if existing, ok := s.memories[memoryID]; ok {
		s.reinforceLocked(existing, now)
		return existing
	}

	memory := &ConsolidatedMemory{
		MemoryID:           memoryID,
		Content:            content,
		MemoryType:         memoryType,
		CreatedAt:          now,
		LastAccessed:       now,
		AccessCount:        1,
		EmotionTag:         opts.EmotionTag,
		ContextHash:        opts.ContextHash,
		LinkedMemories:     dedupeIDs(opts.LinkedMemories),
		Source:             opts.Source,
		SalienceAtEncoding: opts.Salience,
	}

	s.accessHistory[memoryID] = []time.Time{now}
	memory.BaseActivation = s.calc.BaseActivation(s.accessHistory[memoryID], now)

	s.memories[memoryID] = memory
	s.indexLocked(memory)
	s.totalStores++
	s.collector.RecordStore(string(memoryType))

	if len(s.memories) > s.maxMemories {
		s.evictLowestLocked(now)
	}
	s.collector.SetMemoryCount(len(s.memories))

	s.logger.Debug("ltm: stored memory",
		"memory_id", shortID(memoryID),
		"type", memoryType,
		"emotion", emotionLabel(opts.EmotionTag))

	return memory
}

// Retrieve returns memories matching the query, sorted by total activation
// descending and truncated to the limit. Base activation is recomputed
// against the current clock for every candidate, and records below the
// activation floor (Query.MinActivation, or the calculator's retrieval
// threshold) are dropped. A miss is an empty slice, never an error.
func (s *Store) Retrieve(q Query) []*ConsolidatedMemory {
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := s.candidatesLocked(q)

	now := s.now()
	results := make([]*ConsolidatedMemory, 0, len(candidates))
	for id := range candidates {
		memory := s.memories[id]

		memory.BaseActivation = s.calc.BaseActivation(s.accessHistory[id], now)

		if q.MinActivation != nil {
			if memory.TotalActivation() < *q.MinActivation {
				continue
			}
		} else if !s.calc.IsRetrievable(memory.TotalActivation()) {
			continue
		}

		if q.Text != "" {
			content := strings.ToLower(contentString(memory.Content))
			if !strings.Contains(content, strings.ToLower(q.Text)) {
				continue
			}
		}

		results = append(results, memory)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].TotalActivation() > results[j].TotalActivation()
	})
	if len(results) > limit {
		results = results[:limit]
	}

	if !q.SkipAccessUpdate {
		for _, memory := range results {
			s.recordAccessLocked(memory.MemoryID, now)
		}
	}

	s.totalRetrievals++
	s.collector.RecordRetrieval("query", len(results))

	return results
}

// RetrieveByEmotion returns memories whose emotional valence lies within
// tolerance of the target, closest first.
func (s *Store) RetrieveByEmotion(targetValence, tolerance float64, limit int) []*ConsolidatedMemory {
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	type scored struct {
		memory *ConsolidatedMemory
		diff   float64
	}
	matches := make([]scored, 0)
	for _, memory := range s.memories {
		if memory.EmotionTag == nil {
			continue
		}
		diff := math.Abs(memory.EmotionTag.Valence - targetValence)
		if diff <= tolerance {
			matches = append(matches, scored{memory, diff})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].diff < matches[j].diff
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]*ConsolidatedMemory, len(matches))
	for i, m := range matches {
		results[i] = m.memory
	}
	s.collector.RecordRetrieval("emotion", len(results))
	return results
}

// RetrieveEmotional returns strongly emotional memories: tagged records with
// valence >= threshold (positive) or <= -threshold (negative), sorted by
// |valence| * intensity descending.
func (s *Store) RetrieveEmotional(valenceThreshold float64, positive bool, limit int) []*ConsolidatedMemory {
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]*ConsolidatedMemory, 0)
	for _, memory := range s.memories {
		tag := memory.EmotionTag
		if tag == nil {
			continue
		}
		if positive && tag.Valence >= valenceThreshold {
			results = append(results, memory)
		} else if !positive && tag.Valence <= -valenceThreshold {
			results = append(results, memory)
		}
	}

	sort.Slice(results, func(i, j int) bool {
		ti, tj := results[i].EmotionTag, results[j].EmotionTag
		return math.Abs(ti.Valence)*ti.Intensity > math.Abs(tj.Valence)*tj.Intensity
	})
	if len(results) > limit {
		results = results[:limit]
	}
	s.collector.RecordRetrieval("emotional", len(results))
	return results
}

// LinkedMemories walks the linked-memory back-references breadth-first up to
// depth hops, returning each reachable record at most once, flattened across
// levels. Dangling IDs are skipped silently; an unknown starting ID yields
// an empty slice.
func (s *Store) LinkedMemories(memoryID string, depth int) []*ConsolidatedMemory {
	s.mu.Lock()
	defer s.mu.Unlock()

	start, ok := s.memories[memoryID]
	if !ok {
		return []*ConsolidatedMemory{}
	}

	visited := map[string]struct{}{memoryID: {}}
	toVisit := append([]string(nil), start.LinkedMemories...)
	results := make([]*ConsolidatedMemory, 0)

	for level := 0; level < depth; level++ {
		var nextLevel []string
		for _, linkedID := range toVisit {
			if _, seen := visited[linkedID]; seen {
				continue
			}
			visited[linkedID] = struct{}{}

			if memory, ok := s.memories[linkedID]; ok {
				results = append(results, memory)
				nextLevel = append(nextLevel, memory.LinkedMemories...)
			}
		}
		toVisit = nextLevel
	}

	s.collector.RecordRetrieval("linked", len(results))
	return results
}

// Remove deletes a memory and its index entries. Returns false when the ID
// is unknown.
func (s *Store) Remove(memoryID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.memories[memoryID]; !ok {
		return false
	}
	s.removeLocked(memoryID)
	s.collector.SetMemoryCount(len(s.memories))
	return true
}

// Len returns the number of memories currently stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.memories)
}

// Get returns the memory with the given ID without recording an access.
func (s *Store) Get(memoryID string) (*ConsolidatedMemory, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[memoryID]
	return m, ok
}

// BackdateAccess replaces a memory's access history with accesses at the
// given ages before now, oldest last. Intended for simulations and demos
// that need a memory to look aged. Returns false for unknown IDs.
func (s *Store) BackdateAccess(memoryID string, ages []time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	memory, ok := s.memories[memoryID]
	if !ok {
		return false
	}

	now := s.now()
	history := make([]time.Time, 0, len(ages))
	for _, age := range ages {
		history = append(history, now.Add(-age))
	}
	s.accessHistory[memoryID] = history
	memory.AccessCount = len(history)
	memory.BaseActivation = s.calc.BaseActivation(history, now)
	return true
}

// Stats returns counts by type, the emotion-label distribution, and the
// cumulative retrieval and store counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	emotionCounts := make(map[string]int, len(s.emotionIndex))
	for label, ids := range s.emotionIndex {
		emotionCounts[label] = len(ids)
	}

	return Stats{
		TotalMemories:       len(s.memories),
		EpisodicCount:       len(s.typeIndex[Episodic]),
		SemanticCount:       len(s.typeIndex[Semantic]),
		ProceduralCount:     len(s.typeIndex[Procedural]),
		EmotionalCount:      len(s.typeIndex[Emotional]),
		EmotionDistribution: emotionCounts,
		TotalRetrievals:     s.totalRetrievals,
		TotalStores:         s.totalStores,
	}
}

// candidatesLocked builds the candidate ID set by intersecting the indices
// for the filters present in the query. No filter on an axis means no
// restriction through that axis.
func (s *Store) candidatesLocked(q Query) map[string]struct{} {
	candidates := make(map[string]struct{}, len(s.memories))
	for id := range s.memories {
		candidates[id] = struct{}{}
	}

	if q.MemoryType != "" {
		intersect(candidates, s.typeIndex[q.MemoryType])
	}
	if q.ContextHash != "" {
		intersect(candidates, s.contextIndex[q.ContextHash])
	}
	if q.EmotionLabel != "" {
		intersect(candidates, s.emotionIndex[q.EmotionLabel])
	}
	return candidates
}

// reinforceLocked re-encodes an existing memory: access bump, history
// append, activation recompute.
func (s *Store) reinforceLocked(memory *ConsolidatedMemory, now time.Time) {
	s.recordAccessLocked(memory.MemoryID, now)
	memory.BaseActivation = s.calc.BaseActivation(s.accessHistory[memory.MemoryID], now)
	s.logger.Debug("ltm: reinforced memory", "memory_id", shortID(memory.MemoryID))
}

// recordAccessLocked appends an access sample and bumps the record's access
// bookkeeping. The history is trimmed to the configured cap, keeping the
// most recent samples.
func (s *Store) recordAccessLocked(memoryID string, now time.Time) {
	history := append(s.accessHistory[memoryID], now)
	if s.maxHistory > 0 && len(history) > s.maxHistory {
		history = history[len(history)-s.maxHistory:]
	}
	s.accessHistory[memoryID] = history

	if memory, ok := s.memories[memoryID]; ok {
		memory.LastAccessed = now
		memory.AccessCount++
	}
}

func (s *Store) indexLocked(memory *ConsolidatedMemory) {
	s.typeIndex[memory.MemoryType][memory.MemoryID] = struct{}{}

	if memory.ContextHash != "" {
		if s.contextIndex[memory.ContextHash] == nil {
			s.contextIndex[memory.ContextHash] = make(map[string]struct{})
		}
		s.contextIndex[memory.ContextHash][memory.MemoryID] = struct{}{}
	}

	if memory.EmotionTag != nil && memory.EmotionTag.EmotionLabel != "" {
		label := memory.EmotionTag.EmotionLabel
		if s.emotionIndex[label] == nil {
			s.emotionIndex[label] = make(map[string]struct{})
		}
		s.emotionIndex[label][memory.MemoryID] = struct{}{}
	}
}

// evictLowestLocked removes the single record with the lowest total
// activation at eviction time. Base activation is recomputed against the
// current clock for the scan, so staleness of the cached values cannot save
// a record. Ties are broken by map iteration order, which is undefined.
func (s *Store) evictLowestLocked(now time.Time) {
	if len(s.memories) == 0 {
		return
	}

	lowestID := ""
	lowest := math.Inf(1)
	for id, memory := range s.memories {
		memory.BaseActivation = s.calc.BaseActivation(s.accessHistory[id], now)
		if memory.TotalActivation() < lowest {
			lowest = memory.TotalActivation()
			lowestID = id
		}
	}

	if lowestID != "" {
		s.removeLocked(lowestID)
		s.collector.RecordEviction()
	}
}

func (s *Store) removeLocked(memoryID string) {
	memory := s.memories[memoryID]

	delete(s.typeIndex[memory.MemoryType], memoryID)
	if set, ok := s.contextIndex[memory.ContextHash]; ok {
		delete(set, memoryID)
	}
	if memory.EmotionTag != nil && memory.EmotionTag.EmotionLabel != "" {
		if set, ok := s.emotionIndex[memory.EmotionTag.EmotionLabel]; ok {
			delete(set, memoryID)
		}
	}

	delete(s.memories, memoryID)
	delete(s.accessHistory, memoryID)

	s.logger.Debug("ltm: evicted memory", "memory_id", shortID(memoryID))
}

// generateID derives the memory ID from content and context. Unless the
// store is content-addressed, the wall-clock instant is mixed in as well, so
// re-encoding the same observation later creates a new episodic record.
func (s *Store) generateID(content any, contextHash string, now time.Time) string {
	input := contentString(content) + ":" + contextHash
	if !s.contentAddressed {
		input = fmt.Sprintf("%s:%.6f", input, timeToEpoch(now))
	}
	return fmt.Sprintf("%x", sha256.Sum256([]byte(input)))
}

func intersect(dst map[string]struct{}, other map[string]struct{}) {
	for id := range dst {
		if _, ok := other[id]; !ok {
			delete(dst, id)
		}
	}
}

func dedupeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func emotionLabel(tag *EmotionTag) string {
	if tag == nil {
		return "none"
	}
	return tag.EmotionLabel
}
