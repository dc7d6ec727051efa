package extract

import (
	"testing"
	"time"

	"github.com/smartystreets/goconvey/convey"

	"github.com/headwindml/headwind/internal/domain/model"
)

func arrival(trip string, at time.Time) *model.ArrivalEvent {
	return &model.ArrivalEvent{
		EventID:    "ev-" + trip,
		StopID:     "1001",
		RouteID:    "22",
		TripID:     trip,
		ObservedAt: at,
	}
}

func TestApply(t *testing.T) {
	base := time.Date(2024, 3, 12, 8, 0, 0, 0, time.UTC)

	convey.Convey("Given fresh extraction state", t, func() {
		s := NewState(16, 2*time.Minute)

		convey.Convey("The first arrival bootstraps without a headway", func() {
			out := s.Apply(arrival("t1", base))

			convey.So(out.Kind, convey.ShouldEqual, KindBootstrap)
			convey.So(out.HeadwaySec, convey.ShouldEqual, 0)
			convey.So(s.LastArrival(), convey.ShouldEqual, base)
		})

		convey.Convey("A later arrival yields the elapsed headway", func() {
			s.Apply(arrival("t1", base))
			out := s.Apply(arrival("t2", base.Add(5*time.Minute)))

			convey.So(out.Kind, convey.ShouldEqual, KindHeadway)
			convey.So(out.HeadwaySec, convey.ShouldEqual, 300)
			convey.So(out.OutOfOrder, convey.ShouldBeFalse)
			convey.So(s.LastArrival(), convey.ShouldEqual, base.Add(5*time.Minute))
		})

		convey.Convey("Replaying a credited trip is a silent duplicate", func() {
			s.Apply(arrival("t1", base))
			s.Apply(arrival("t2", base.Add(5*time.Minute)))

			out := s.Apply(arrival("t2", base.Add(9*time.Minute)))

			convey.So(out.Kind, convey.ShouldEqual, KindDuplicate)
			convey.So(s.LastArrival(), convey.ShouldEqual, base.Add(5*time.Minute))
		})

		convey.Convey("A late arrival within tolerance is flagged, not dropped", func() {
			s.Apply(arrival("t1", base))
			s.Apply(arrival("t2", base.Add(5*time.Minute)))

			out := s.Apply(arrival("t3", base.Add(4*time.Minute)))

			convey.So(out.Kind, convey.ShouldEqual, KindHeadway)
			convey.So(out.OutOfOrder, convey.ShouldBeTrue)
			convey.So(out.HeadwaySec, convey.ShouldEqual, 60)

			convey.Convey("And the stream head did not move backward", func() {
				next := s.Apply(arrival("t4", base.Add(6*time.Minute)))
				convey.So(next.Kind, convey.ShouldEqual, KindHeadway)
				convey.So(next.HeadwaySec, convey.ShouldEqual, 60)
			})
		})

		convey.Convey("An arrival at the exact stream head is a zero-lag flag", func() {
			s.Apply(arrival("t1", base))
			out := s.Apply(arrival("t2", base))

			convey.So(out.Kind, convey.ShouldEqual, KindHeadway)
			convey.So(out.OutOfOrder, convey.ShouldBeTrue)
			convey.So(out.HeadwaySec, convey.ShouldEqual, 0)
		})

		convey.Convey("An arrival beyond tolerance is stale but still credited", func() {
			s.Apply(arrival("t1", base))
			s.Apply(arrival("t2", base.Add(10*time.Minute)))

			out := s.Apply(arrival("t3", base.Add(1*time.Minute)))
			convey.So(out.Kind, convey.ShouldEqual, KindStale)

			replay := s.Apply(arrival("t3", base.Add(1*time.Minute)))
			convey.So(replay.Kind, convey.ShouldEqual, KindDuplicate)
		})
	})
}

func TestTripMemoryEviction(t *testing.T) {
	base := time.Date(2024, 3, 12, 8, 0, 0, 0, time.UTC)

	convey.Convey("Given state remembering only two trips", t, func() {
		s := NewState(2, 2*time.Minute)
		s.Apply(arrival("a", base))
		s.Apply(arrival("b", base.Add(time.Minute)))
		s.Apply(arrival("c", base.Add(2*time.Minute)))

		convey.Convey("The oldest trip was evicted and is no longer a duplicate", func() {
			out := s.Apply(arrival("a", base.Add(3*time.Minute)))
			convey.So(out.Kind, convey.ShouldEqual, KindHeadway)
		})

		convey.Convey("Recent trips are still remembered", func() {
			out := s.Apply(arrival("c", base.Add(3*time.Minute)))
			convey.So(out.Kind, convey.ShouldEqual, KindDuplicate)
		})
	})
}

func TestSnapshotRoundTrip(t *testing.T) {
	base := time.Date(2024, 3, 12, 8, 0, 0, 0, time.UTC)

	convey.Convey("Given primed extraction state", t, func() {
		s := NewState(16, 2*time.Minute)
		s.Apply(arrival("t1", base))
		s.Apply(arrival("t2", base.Add(5*time.Minute)))

		restored := RestoreState(s.Snapshot(), 16, 2*time.Minute)

		convey.Convey("The stream head survives the round trip", func() {
			convey.So(restored.LastArrival().Equal(base.Add(5*time.Minute)), convey.ShouldBeTrue)

			out := restored.Apply(arrival("t9", base.Add(8*time.Minute)))
			convey.So(out.Kind, convey.ShouldEqual, KindHeadway)
			convey.So(out.HeadwaySec, convey.ShouldEqual, 180)
		})

		convey.Convey("Pre-checkpoint stragglers fall out as stale", func() {
			out := restored.Apply(arrival("t0", base.Add(-30*time.Minute)))
			convey.So(out.Kind, convey.ShouldEqual, KindStale)
		})
	})

	convey.Convey("An unprimed snapshot restores to an unprimed state", t, func() {
		s := NewState(16, 2*time.Minute)
		restored := RestoreState(s.Snapshot(), 16, 2*time.Minute)

		out := restored.Apply(arrival("t1", base))
		convey.So(out.Kind, convey.ShouldEqual, KindBootstrap)
	})
}
