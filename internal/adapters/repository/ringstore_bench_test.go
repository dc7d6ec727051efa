package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/headwindml/headwind/internal/domain/model"
)

func makeBenchRows(n int) []*model.ScoredEvent {
	rows := make([]*model.ScoredEvent, 0, n)
	for i := 0; i < n; i++ {
		score := float64(i%100) / 100
		rows = append(rows, mkRowB(
			fmt.Sprintf("%d", 1000+i%40),
			fmt.Sprintf("%d", 10+i%8),
			fmt.Sprintf("trip-%d", i),
			baseTime.Add(time.Duration(i)*time.Second),
			score,
		))
	}
	return rows
}

func mkRowB(stop, route, trip string, at time.Time, score float64) *model.ScoredEvent {
	return &model.ScoredEvent{
		StopID:        stop,
		RouteID:       route,
		TripID:        trip,
		HeadwaySec:    300,
		AnomalyScore:  score,
		IsAnomaly:     score >= 0.6,
		IsHighAnomaly: score >= 0.85,
		ObservedAt:    at,
	}
}

func BenchmarkRingStoreConsume(b *testing.B) {
	ctx := context.Background()
	s := NewRingStore(ctx, WithSnapshotInterval(time.Hour))
	defer s.Close()

	rows := makeBenchRows(64)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = s.Consume(ctx, rows)
	}
}

func BenchmarkRingStoreRecent(b *testing.B) {
	ctx := context.Background()
	s := NewRingStore(ctx, WithSnapshotInterval(time.Hour))
	defer s.Close()
	_ = s.Consume(ctx, makeBenchRows(50000))

	q := Query{Window: time.Hour, MinScore: 0.6, Limit: 50}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Recent(ctx, q); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRingStoreHeat(b *testing.B) {
	ctx := context.Background()
	s := NewRingStore(ctx, WithSnapshotInterval(time.Hour))
	defer s.Close()
	_ = s.Consume(ctx, makeBenchRows(50000))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Heat(ctx, time.Hour); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkRingStoreSnapshot(b *testing.B) {
	ctx := context.Background()
	s := NewRingStore(ctx, WithSnapshotInterval(time.Hour))
	defer s.Close()
	_ = s.Consume(ctx, makeBenchRows(50000))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s.publishSnapshot()
	}
}
