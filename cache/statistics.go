package cache

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// Statistics counts cache and persistence events for one session factory.
// Counters live in a private metrics.Set so several factories (tests, demos)
// never share state, and Clear can reset them between demonstrations.
type Statistics struct {
	set *metrics.Set

	secondLevelHit  *metrics.Counter
	secondLevelMiss *metrics.Counter
	secondLevelPut  *metrics.Counter

	queryHit  *metrics.Counter
	queryMiss *metrics.Counter
	queryPut  *metrics.Counter

	naturalIDHit  *metrics.Counter
	naturalIDMiss *metrics.Counter
	naturalIDPut  *metrics.Counter

	entityLoad   *metrics.Counter
	entityInsert *metrics.Counter
	entityUpdate *metrics.Counter
	entityDelete *metrics.Counter

	optimisticFailure *metrics.Counter
	flush             *metrics.Counter
	txBegin           *metrics.Counter
	txCommit          *metrics.Counter
	txRollback        *metrics.Counter
}

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	SecondLevelCacheHits   uint64
	SecondLevelCacheMisses uint64
	SecondLevelCachePuts   uint64

	QueryCacheHits   uint64
	QueryCacheMisses uint64
	QueryCachePuts   uint64

	NaturalIDCacheHits   uint64
	NaturalIDCacheMisses uint64
	NaturalIDCachePuts   uint64

	EntityLoads   uint64
	EntityInserts uint64
	EntityUpdates uint64
	EntityDeletes uint64

	OptimisticFailures   uint64
	Flushes              uint64
	TransactionBegins    uint64
	TransactionCommits   uint64
	TransactionRollbacks uint64
}

// NewStatistics creates a counter set whose metric names start with namespace.
func NewStatistics(namespace string) *Statistics {
	if namespace == "" {
		namespace = "ormlab"
	}
	set := metrics.NewSet()
	counter := func(name string) *metrics.Counter {
		return set.NewCounter(fmt.Sprintf("%s_%s_total", namespace, name))
	}

	return &Statistics{
		set:               set,
		secondLevelHit:    counter("second_level_cache_hit"),
		secondLevelMiss:   counter("second_level_cache_miss"),
		secondLevelPut:    counter("second_level_cache_put"),
		queryHit:          counter("query_cache_hit"),
		queryMiss:         counter("query_cache_miss"),
		queryPut:          counter("query_cache_put"),
		naturalIDHit:      counter("natural_id_cache_hit"),
		naturalIDMiss:     counter("natural_id_cache_miss"),
		naturalIDPut:      counter("natural_id_cache_put"),
		entityLoad:        counter("entity_load"),
		entityInsert:      counter("entity_insert"),
		entityUpdate:      counter("entity_update"),
		entityDelete:      counter("entity_delete"),
		optimisticFailure: counter("optimistic_failure"),
		flush:             counter("flush"),
		txBegin:           counter("transaction_begin"),
		txCommit:          counter("transaction_commit"),
		txRollback:        counter("transaction_rollback"),
	}
}

// A nil *Statistics is valid and records nothing.

func (s *Statistics) RecordEntityLoad() {
	if s != nil {
		s.entityLoad.Inc()
	}
}

func (s *Statistics) RecordEntityInsert() {
	if s != nil {
		s.entityInsert.Inc()
	}
}

func (s *Statistics) RecordEntityUpdate() {
	if s != nil {
		s.entityUpdate.Inc()
	}
}

func (s *Statistics) RecordEntityDelete() {
	if s != nil {
		s.entityDelete.Inc()
	}
}

func (s *Statistics) RecordOptimisticFailure() {
	if s != nil {
		s.optimisticFailure.Inc()
	}
}

func (s *Statistics) RecordFlush() {
	if s != nil {
		s.flush.Inc()
	}
}

func (s *Statistics) RecordBegin() {
	if s != nil {
		s.txBegin.Inc()
	}
}

func (s *Statistics) RecordCommit() {
	if s != nil {
		s.txCommit.Inc()
	}
}

func (s *Statistics) RecordRollback() {
	if s != nil {
		s.txRollback.Inc()
	}
}

// recordRegion attributes a region lookup to the counters of its kind.
// A miss always implies a put because regions only cache successful fetches.
func (s *Statistics) recordRegion(kind RegionKind, hit bool) {
	if s == nil {
		return
	}
	var hits, misses, puts *metrics.Counter
	switch kind {
	case RegionNaturalID:
		hits, misses, puts = s.naturalIDHit, s.naturalIDMiss, s.naturalIDPut
	case RegionQuery:
		hits, misses, puts = s.queryHit, s.queryMiss, s.queryPut
	default:
		hits, misses, puts = s.secondLevelHit, s.secondLevelMiss, s.secondLevelPut
	}
	if hit {
		hits.Inc()
		return
	}
	misses.Inc()
	puts.Inc()
}

// Snapshot returns the current counter values.
func (s *Statistics) Snapshot() Snapshot {
	if s == nil {
		return Snapshot{}
	}
	return Snapshot{
		SecondLevelCacheHits:   s.secondLevelHit.Get(),
		SecondLevelCacheMisses: s.secondLevelMiss.Get(),
		SecondLevelCachePuts:   s.secondLevelPut.Get(),
		QueryCacheHits:         s.queryHit.Get(),
		QueryCacheMisses:       s.queryMiss.Get(),
		QueryCachePuts:         s.queryPut.Get(),
		NaturalIDCacheHits:     s.naturalIDHit.Get(),
		NaturalIDCacheMisses:   s.naturalIDMiss.Get(),
		NaturalIDCachePuts:     s.naturalIDPut.Get(),
		EntityLoads:            s.entityLoad.Get(),
		EntityInserts:          s.entityInsert.Get(),
		EntityUpdates:          s.entityUpdate.Get(),
		EntityDeletes:          s.entityDelete.Get(),
		OptimisticFailures:     s.optimisticFailure.Get(),
		Flushes:                s.flush.Get(),
		TransactionBegins:      s.txBegin.Get(),
		TransactionCommits:     s.txCommit.Get(),
		TransactionRollbacks:   s.txRollback.Get(),
	}
}

// Clear resets every counter to zero.
func (s *Statistics) Clear() {
	if s == nil {
		return
	}
	for _, c := range []*metrics.Counter{
		s.secondLevelHit, s.secondLevelMiss, s.secondLevelPut,
		s.queryHit, s.queryMiss, s.queryPut,
		s.naturalIDHit, s.naturalIDMiss, s.naturalIDPut,
		s.entityLoad, s.entityInsert, s.entityUpdate, s.entityDelete,
		s.optimisticFailure, s.flush, s.txBegin, s.txCommit, s.txRollback,
	} {
		c.Set(0)
	}
}

// WritePrometheus writes the counters in Prometheus text exposition format.
func (s *Statistics) WritePrometheus(w io.Writer) {
	if s == nil {
		return
	}
	s.set.WritePrometheus(w)
}
