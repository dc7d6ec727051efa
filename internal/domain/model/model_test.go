package model_test

import (
	"errors"
	"testing"
	"time"

	model "github.com/headwindml/headwind/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestKey(t *testing.T) {
	convey.Convey("Given a Key", t, func() {
		convey.Convey("When rendering it as a string", func() {
			k := model.Key{StopID: "stop-12", RouteID: "route-4"}

			convey.Convey("Then it should read route@stop", func() {
				convey.So(k.String(), convey.ShouldEqual, "route-4@stop-12")
			})
		})

		convey.Convey("When comparing keys", func() {
			k1 := model.Key{StopID: "s1", RouteID: "r1"}
			k2 := model.Key{StopID: "s1", RouteID: "r1"}
			k3 := model.Key{StopID: "s2", RouteID: "r1"}

			convey.Convey("Then equal fields should compare equal", func() {
				convey.So(k1, convey.ShouldEqual, k2)
				convey.So(k1, convey.ShouldNotEqual, k3)
			})
		})
	})
}

func TestArrivalEvent(t *testing.T) {
	convey.Convey("Given an ArrivalEvent", t, func() {
		now := time.Date(2025, 6, 2, 8, 30, 0, 0, time.UTC)

		convey.Convey("When creating a fully populated event", func() {
			ev := model.ArrivalEvent{
				EventID:      "ev-1",
				StopID:       "stop-12",
				RouteID:      "route-4",
				TripID:       "trip-77",
				ObservedAt:   now,
				SequenceHint: 3,
			}

			convey.Convey("Then it should validate and derive its key", func() {
				convey.So(ev.Validate(), convey.ShouldBeNil)
				convey.So(ev.Key(), convey.ShouldEqual, model.Key{StopID: "stop-12", RouteID: "route-4"})
				convey.So(ev.DedupeID(), convey.ShouldEqual, "stop-12|trip-77")
			})
		})

		convey.Convey("When required fields are missing", func() {
			cases := []model.ArrivalEvent{
				{RouteID: "r", TripID: "t", ObservedAt: now},
				{StopID: "s", TripID: "t", ObservedAt: now},
				{StopID: "s", RouteID: "r", ObservedAt: now},
				{StopID: "s", RouteID: "r", TripID: "t"},
			}

			convey.Convey("Then Validate should flag each as malformed", func() {
				for _, ev := range cases {
					err := ev.Validate()
					convey.So(err, convey.ShouldNotBeNil)
					convey.So(errors.Is(err, model.ErrMalformedEvent), convey.ShouldBeTrue)
				}
			})
		})

		convey.Convey("When two events share stop and trip", func() {
			ev1 := model.ArrivalEvent{StopID: "s", RouteID: "r", TripID: "t", ObservedAt: now}
			ev2 := model.ArrivalEvent{StopID: "s", RouteID: "r", TripID: "t", ObservedAt: now.Add(time.Minute)}

			convey.Convey("Then their dedup keys should collide", func() {
				convey.So(ev1.DedupeID(), convey.ShouldEqual, ev2.DedupeID())
			})
		})
	})
}

func TestScoredEvent(t *testing.T) {
	convey.Convey("Given a ScoredEvent", t, func() {
		convey.Convey("When creating one from a scoring pass", func() {
			now := time.Now()
			se := model.ScoredEvent{
				StopID:              "stop-12",
				RouteID:             "route-4",
				TripID:              "trip-77",
				HeadwaySec:          1200,
				PredictedHeadwaySec: 300,
				Residual:            900,
				SSLResidualScore:    1.0,
				HSTScore:            0.8,
				RelativeErrorScore:  1.0,
				AnomalyScore:        0.94,
				IsAnomaly:           true,
				IsHighAnomaly:       true,
				ObservedAt:          now,
			}

			convey.Convey("Then it should carry the component scores and its key", func() {
				convey.So(se.Key(), convey.ShouldEqual, model.Key{StopID: "stop-12", RouteID: "route-4"})
				convey.So(se.AnomalyScore, convey.ShouldBeBetweenOrEqual, 0, 1)
				convey.So(se.IsAnomaly, convey.ShouldBeTrue)
				convey.So(se.IsHighAnomaly, convey.ShouldBeTrue)
			})
		})
	})
}

func TestTelemetryReport(t *testing.T) {
	convey.Convey("Given a TelemetryReport", t, func() {
		convey.Convey("When zero valued", func() {
			var tr model.TelemetryReport

			convey.Convey("Then all counters should start at zero", func() {
				convey.So(tr.RowsSeen, convey.ShouldEqual, 0)
				convey.So(tr.RowsUpdated, convey.ShouldEqual, 0)
				convey.So(tr.DriftEvents, convey.ShouldEqual, 0)
				convey.So(tr.TrackedKeys, convey.ShouldEqual, 0)
				convey.So(tr.LastRun.IsZero(), convey.ShouldBeTrue)
			})
		})

		convey.Convey("When populated", func() {
			tr := model.TelemetryReport{
				RowsSeen:    100,
				RowsUpdated: 80,
			}

			convey.Convey("Then updates should never exceed rows seen", func() {
				convey.So(tr.RowsUpdated, convey.ShouldBeLessThanOrEqualTo, tr.RowsSeen)
			})
		})
	})
}
