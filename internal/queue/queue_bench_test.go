package queue

import (
	"strconv"
	"testing"
	"time"

	"github.com/mokutsu/mfcscraper-go/internal/types"
)

// benchItem builds a queued item with a mid-range score. Status and
// audience are varied by i so the lane is not score-uniform.
func benchItem(i int, enqueuedAt time.Time) *item {
	statuses := []types.CollectionStatus{types.StatusOwned, types.StatusOrdered, types.StatusWished}
	it := &item{
		fingerprint: strconv.Itoa(100000 + i),
		lane:        types.LaneWarm,
		status:      statuses[i%len(statuses)],
		waiters:     map[string]struct{}{"user-a": {}},
		enqueuedAt:  enqueuedAt,
	}
	if i%4 == 0 {
		it.cookies = map[string]string{"PHPSESSID": "x"}
		it.sessionID = "sess-bench-0000001"
		it.waiters["user-b"] = struct{}{}
	}
	return it
}

// BenchmarkItemScore measures the per-item sort key, recomputed for every
// queued entry on each scored insertion.
func BenchmarkItemScore(b *testing.B) {
	now := time.Now()
	it := benchItem(0, now.Add(-3*time.Minute))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		it.score(now)
	}
}

// BenchmarkScoredInsert measures placing a new item into a deep WARM lane,
// the linear scan every enqueue and re-queue pays.
func BenchmarkScoredInsert(b *testing.B) {
	const depth = 500
	now := time.Now()

	base := make([]*item, depth)
	for i := range base {
		base[i] = benchItem(i, now.Add(-time.Duration(i)*time.Second))
	}
	newcomer := benchItem(4, now) // credentialed owned item, lands early

	q := &Queue{lanes: map[types.Lane][]*item{}}
	backing := make([]*item, depth, depth+1)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		copy(backing, base)
		q.lanes[types.LaneWarm] = backing[:depth]
		q.insertLocked(newcomer)
	}
}
