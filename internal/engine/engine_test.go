package engine

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/headwindml/headwind/internal/config"
	"github.com/headwindml/headwind/internal/domain/model"
	"github.com/headwindml/headwind/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(); err != nil {
		panic(err)
	}
	_ = logger.SetLevelString("error")
	os.Exit(m.Run())
}

func testConfig() Config {
	return Config{
		Seed:                    42,
		MaxKeys:                 100,
		RollingWindow:           12,
		TripMemory:              4096,
		OutOfOrderTolerance:     2 * time.Minute,
		PredictorEpsilon:        1,
		PredictorRegularization: 1,
		PredictorMaxStep:        50,
		CalibratorDecay:         0.995,
		CalibratorMinCount:      30,
		CalibratorSmoothing:     1,
		ForestTrees:             8,
		ForestHeight:            6,
		ForestWindow:            256,
		ForestRebuildEvery:      4,
		DriftDelta:              0.002,
		DriftMinWindow:          32,
		DriftGranularity:        config.DriftPerKey,
		WeightSSL:               0.5,
		WeightForest:            0.3,
		WeightRelative:          0.2,
		AnomalyThreshold:        0.6,
		HighAnomalyThreshold:    0.85,
		RelativeFloorSec:        30,
	}
}

// stream builds arrivals for one key with consecutive trips. Each call
// advances the clock by the given headway.
type stream struct {
	stop, route string
	at          time.Time
	n           int
}

func newStream(route, stop string) *stream {
	return &stream{
		stop:  stop,
		route: route,
		at:    time.Date(2024, 3, 12, 6, 0, 0, 0, time.UTC),
	}
}

func (s *stream) next(headwaySec float64) *model.ArrivalEvent {
	s.at = s.at.Add(time.Duration(headwaySec * float64(time.Second)))
	s.n++
	return &model.ArrivalEvent{
		EventID:    fmt.Sprintf("ev-%s-%s-%d", s.route, s.stop, s.n),
		StopID:     s.stop,
		RouteID:    s.route,
		TripID:     fmt.Sprintf("trip-%s-%d", s.route, s.n),
		ObservedAt: s.at,
	}
}

func (s *stream) batch(headways ...float64) []*model.ArrivalEvent {
	out := make([]*model.ArrivalEvent, 0, len(headways))
	for _, h := range headways {
		out = append(out, s.next(h))
	}
	return out
}

func TestSuddenGapScoresHigh(t *testing.T) {
	convey.Convey("Given a key trained on steady five-minute headways", t, func() {
		e := New(testConfig())
		b := newStream("22", "1001")
		rng := rand.New(rand.NewSource(7))

		events := []*model.ArrivalEvent{b.next(0)}
		for i := 0; i < 1000; i++ {
			h := 300 + 30*rng.NormFloat64()
			if h < 60 {
				h = 60
			}
			events = append(events, b.next(h))
		}
		scored := e.ScoreBatch(context.Background(), events)
		convey.So(len(scored), convey.ShouldEqual, 1000)

		convey.Convey("A twenty-minute gap is flagged as an anomaly", func() {
			out := e.ScoreBatch(context.Background(), []*model.ArrivalEvent{b.next(1200)})
			convey.So(len(out), convey.ShouldEqual, 1)

			gap := out[0]
			convey.So(gap.HeadwaySec, convey.ShouldEqual, 1200)
			convey.So(gap.PredictedHeadwaySec, convey.ShouldBeBetween, 150.0, 450.0)
			convey.So(gap.AnomalyScore, convey.ShouldBeGreaterThanOrEqualTo, 0.60)
			convey.So(gap.IsAnomaly, convey.ShouldBeTrue)
		})

		convey.Convey("A steady row right after training does not alarm", func() {
			out := e.ScoreBatch(context.Background(), []*model.ArrivalEvent{b.next(300)})
			convey.So(len(out), convey.ShouldEqual, 1)
			convey.So(out[0].IsAnomaly, convey.ShouldBeFalse)
		})

		convey.Convey("Every emitted score stays inside the unit interval", func() {
			for _, s := range scored {
				convey.So(s.AnomalyScore, convey.ShouldBeBetween, -0.0001, 1.0001)
				convey.So(s.SSLResidualScore, convey.ShouldBeBetween, -0.0001, 1.0001)
				convey.So(s.HSTScore, convey.ShouldBeBetween, -0.0001, 1.0001)
				convey.So(s.RelativeErrorScore, convey.ShouldBeBetween, -0.0001, 1.0001)
			}
		})
	})
}

func TestColdStartDoesNotAlarm(t *testing.T) {
	convey.Convey("Given a brand new key", t, func() {
		e := New(testConfig())
		b := newStream("22", "1001")

		convey.Convey("The first arrival bootstraps silently", func() {
			out := e.ScoreBatch(context.Background(), []*model.ArrivalEvent{b.next(0)})
			convey.So(len(out), convey.ShouldEqual, 0)

			telem := e.Telemetry()
			convey.So(telem.RowsSeen, convey.ShouldEqual, 1)
		})

		convey.Convey("The first headway row is scored but cannot alarm", func() {
			out := e.ScoreBatch(context.Background(), b.batch(0, 300))
			convey.So(len(out), convey.ShouldEqual, 1)

			first := out[0]
			convey.So(first.SSLResidualScore, convey.ShouldEqual, 0)
			convey.So(first.HSTScore, convey.ShouldEqual, 0)
			convey.So(first.AnomalyScore, convey.ShouldAlmostEqual, 0.2, 0.0001)
			convey.So(first.IsAnomaly, convey.ShouldBeFalse)
		})
	})
}

func TestDuplicateReplayIsIdempotent(t *testing.T) {
	convey.Convey("Given a key with two arrivals", t, func() {
		e := New(testConfig())
		b := newStream("22", "1001")
		a1 := b.next(0)
		a2 := b.next(300)

		first := e.ScoreBatch(context.Background(), []*model.ArrivalEvent{a1, a2})
		convey.So(len(first), convey.ShouldEqual, 1)
		before := e.Telemetry()

		convey.Convey("Redelivering the same event produces nothing new", func() {
			replay := *a2
			out := e.ScoreBatch(context.Background(), []*model.ArrivalEvent{&replay})
			convey.So(len(out), convey.ShouldEqual, 0)

			after := e.Telemetry()
			convey.So(after.DuplicateEvents, convey.ShouldEqual, before.DuplicateEvents+1)
			convey.So(after.RowsSeen, convey.ShouldEqual, before.RowsSeen)
			convey.So(after.RowsUpdated, convey.ShouldEqual, before.RowsUpdated)
		})
	})
}

func TestCrossKeyOrderIndependence(t *testing.T) {
	run := func(order func(a, b []*model.ArrivalEvent) []*model.ArrivalEvent) map[string][]float64 {
		e := New(testConfig())
		ba := newStream("22", "1001")
		bb := newStream("66", "2002")

		evA := []*model.ArrivalEvent{ba.next(0)}
		evB := []*model.ArrivalEvent{bb.next(0)}
		for i := 0; i < 80; i++ {
			evA = append(evA, ba.next(240+float64(i%7)*20))
			evB = append(evB, bb.next(600+float64(i%5)*30))
		}

		scored := e.ScoreBatch(context.Background(), order(evA, evB))
		out := make(map[string][]float64)
		for _, s := range scored {
			k := s.RouteID + "@" + s.StopID
			out[k] = append(out[k], s.AnomalyScore)
		}
		return out
	}

	convey.Convey("Interleaved and block-ordered streams score identically per key", t, func() {
		interleaved := run(func(a, b []*model.ArrivalEvent) []*model.ArrivalEvent {
			out := make([]*model.ArrivalEvent, 0, len(a)+len(b))
			for i := range a {
				out = append(out, a[i], b[i])
			}
			return out
		})
		blocks := run(func(a, b []*model.ArrivalEvent) []*model.ArrivalEvent {
			out := make([]*model.ArrivalEvent, 0, len(a)+len(b))
			out = append(out, a...)
			return append(out, b...)
		})

		convey.So(interleaved, convey.ShouldResemble, blocks)
	})
}

func TestDriftResetsAndRecovers(t *testing.T) {
	convey.Convey("Given a key whose headway regime shifts from 300s to 900s", t, func() {
		e := New(testConfig())
		b := newStream("22", "1001")
		rng := rand.New(rand.NewSource(3))

		events := []*model.ArrivalEvent{b.next(0)}
		for i := 0; i < 600; i++ {
			events = append(events, b.next(300+5*rng.NormFloat64()))
		}
		e.ScoreBatch(context.Background(), events)

		var shifted []*model.ArrivalEvent
		for i := 0; i < 300; i++ {
			shifted = append(shifted, b.next(900+5*rng.NormFloat64()))
		}
		out := e.ScoreBatch(context.Background(), shifted)

		convey.Convey("Drift is detected and counted", func() {
			convey.So(e.Telemetry().DriftEvents, convey.ShouldBeGreaterThanOrEqualTo, 1)
		})

		convey.Convey("The predictor relearns the new regime", func() {
			best := 0.0
			for _, s := range out[len(out)-50:] {
				if s.PredictedHeadwaySec > best {
					best = s.PredictedHeadwaySec
				}
			}
			convey.So(best, convey.ShouldBeGreaterThan, 600.0)
		})
	})
}

func TestRouteGranularityDriftReset(t *testing.T) {
	convey.Convey("Given two keys on the same route with trained models", t, func() {
		cfg := testConfig()
		cfg.DriftGranularity = config.DriftPerRoute
		e := New(cfg)

		ba := newStream("22", "1001")
		bb := newStream("22", "2002")

		train := []*model.ArrivalEvent{ba.next(0), bb.next(0)}
		for i := 0; i < 200; i++ {
			train = append(train, ba.next(300), bb.next(420))
		}
		e.ScoreBatch(context.Background(), train)

		var shifted []*model.ArrivalEvent
		for i := 0; i < 200; i++ {
			shifted = append(shifted, ba.next(900))
		}
		e.ScoreBatch(context.Background(), shifted)
		convey.So(e.Telemetry().DriftEvents, convey.ShouldBeGreaterThanOrEqualTo, 1)

		convey.Convey("The sibling key's predictor was reset after the batch", func() {
			out := e.ScoreBatch(context.Background(), []*model.ArrivalEvent{bb.next(420)})
			convey.So(len(out), convey.ShouldEqual, 1)
			convey.So(out[0].PredictedHeadwaySec, convey.ShouldEqual, 0)
		})
	})

	convey.Convey("With per-key granularity the sibling keeps its model", t, func() {
		e := New(testConfig())

		ba := newStream("22", "1001")
		bb := newStream("22", "2002")

		train := []*model.ArrivalEvent{ba.next(0), bb.next(0)}
		for i := 0; i < 200; i++ {
			train = append(train, ba.next(300), bb.next(420))
		}
		e.ScoreBatch(context.Background(), train)

		var shifted []*model.ArrivalEvent
		for i := 0; i < 200; i++ {
			shifted = append(shifted, ba.next(900))
		}
		e.ScoreBatch(context.Background(), shifted)
		convey.So(e.Telemetry().DriftEvents, convey.ShouldBeGreaterThanOrEqualTo, 1)

		out := e.ScoreBatch(context.Background(), []*model.ArrivalEvent{bb.next(420)})
		convey.So(len(out), convey.ShouldEqual, 1)
		convey.So(out[0].PredictedHeadwaySec, convey.ShouldBeGreaterThan, 100.0)
	})
}

func TestMalformedEventsAreCountedAndSkipped(t *testing.T) {
	convey.Convey("Given a batch with a malformed event in the middle", t, func() {
		e := New(testConfig())
		b := newStream("22", "1001")

		bad := &model.ArrivalEvent{EventID: "bad", StopID: "1001", RouteID: "22"}
		out := e.ScoreBatch(context.Background(), []*model.ArrivalEvent{b.next(0), bad, b.next(300)})

		convey.So(len(out), convey.ShouldEqual, 1)
		telem := e.Telemetry()
		convey.So(telem.MalformedEvents, convey.ShouldEqual, 1)
		convey.So(telem.RowsSeen, convey.ShouldEqual, 2)
	})
}

func TestOutOfOrderHandling(t *testing.T) {
	convey.Convey("Given a primed key", t, func() {
		e := New(testConfig())
		b := newStream("22", "1001")
		e.ScoreBatch(context.Background(), b.batch(0, 300, 300))
		head := b.at

		convey.Convey("A late arrival within tolerance scores flagged", func() {
			late := &model.ArrivalEvent{
				EventID:    "late-1",
				StopID:     "1001",
				RouteID:    "22",
				TripID:     "trip-late-1",
				ObservedAt: head.Add(-time.Minute),
			}
			out := e.ScoreBatch(context.Background(), []*model.ArrivalEvent{late})

			convey.So(len(out), convey.ShouldEqual, 1)
			convey.So(out[0].OutOfOrder, convey.ShouldBeTrue)
			convey.So(out[0].HeadwaySec, convey.ShouldEqual, 60)
		})

		convey.Convey("An arrival beyond tolerance yields nothing", func() {
			stale := &model.ArrivalEvent{
				EventID:    "stale-1",
				StopID:     "1001",
				RouteID:    "22",
				TripID:     "trip-stale-1",
				ObservedAt: head.Add(-10 * time.Minute),
			}
			before := e.Telemetry().RowsSeen
			out := e.ScoreBatch(context.Background(), []*model.ArrivalEvent{stale})

			convey.So(len(out), convey.ShouldEqual, 0)
			convey.So(e.Telemetry().RowsSeen, convey.ShouldEqual, before)
		})
	})
}

func TestKeyEvictionIsNonFatal(t *testing.T) {
	convey.Convey("Given an engine bounded to two keys", t, func() {
		cfg := testConfig()
		cfg.MaxKeys = 2
		e := New(cfg)

		var scored int
		for _, pair := range []struct{ route, stop string }{
			{"22", "1001"}, {"66", "2002"}, {"84", "3003"},
		} {
			b := newStream(pair.route, pair.stop)
			out := e.ScoreBatch(context.Background(), b.batch(0, 300))
			scored += len(out)
		}

		convey.So(scored, convey.ShouldEqual, 3)
		telem := e.Telemetry()
		convey.So(telem.TrackedKeys, convey.ShouldBeLessThanOrEqualTo, 2)
		convey.So(telem.EvictedKeys, convey.ShouldBeGreaterThanOrEqualTo, 1)
	})
}

func TestConcurrentScoringOnDisjointKeys(t *testing.T) {
	convey.Convey("Multiple goroutines scoring disjoint keys race nothing", t, func() {
		e := New(testConfig())
		const workers = 8
		const rows = 200

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func(w int) {
				defer wg.Done()
				b := newStream(fmt.Sprintf("r%d", w), fmt.Sprintf("s%d", w))
				events := []*model.ArrivalEvent{b.next(0)}
				for i := 0; i < rows; i++ {
					events = append(events, b.next(300+float64(i%9)*10))
				}
				e.ScoreBatch(context.Background(), events)
			}(w)
		}
		wg.Wait()

		telem := e.Telemetry()
		convey.So(telem.RowsSeen, convey.ShouldEqual, int64(workers*(rows+1)))
		convey.So(telem.TrackedKeys, convey.ShouldEqual, workers)
	})
}

func TestScoreBatchHonorsContext(t *testing.T) {
	convey.Convey("A cancelled context stops the batch immediately", t, func() {
		e := New(testConfig())
		b := newStream("22", "1001")
		events := b.batch(0, 300, 300, 300)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		out := e.ScoreBatch(ctx, events)
		convey.So(len(out), convey.ShouldEqual, 0)
	})
}

func TestTelemetryAggregates(t *testing.T) {
	convey.Convey("Telemetry reflects the processed stream", t, func() {
		e := New(testConfig())
		b := newStream("22", "1001")

		events := []*model.ArrivalEvent{b.next(0)}
		for i := 0; i < 100; i++ {
			events = append(events, b.next(300))
		}
		e.ScoreBatch(context.Background(), events)

		telem := e.Telemetry()
		convey.So(telem.RowsSeen, convey.ShouldEqual, 101)
		convey.So(telem.RowsUpdated, convey.ShouldEqual, 100)
		convey.So(telem.TrackedKeys, convey.ShouldEqual, 1)
		convey.So(telem.MAEEMA, convey.ShouldBeGreaterThanOrEqualTo, 0)
		convey.So(telem.ResidualQ90, convey.ShouldBeGreaterThanOrEqualTo, 0)
		convey.So(telem.LastRun.IsZero(), convey.ShouldBeFalse)
	})
}
