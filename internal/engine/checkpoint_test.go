package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/headwindml/headwind/internal/domain/model"
)

func TestCheckpointRoundtrip(t *testing.T) {
	convey.Convey("Given a trained engine", t, func() {
		trained := New(testConfig())
		b := newStream("22", "1001")

		events := []*model.ArrivalEvent{b.next(0)}
		for i := 0; i < 200; i++ {
			events = append(events, b.next(300+float64(i%7)*15))
		}
		trained.ScoreBatch(context.Background(), events)

		path := filepath.Join(t.TempDir(), "engine.ckpt")
		convey.So(trained.SaveCheckpoint(path), convey.ShouldBeNil)

		convey.Convey("The temp file is gone and the checkpoint exists", func() {
			_, err := os.Stat(path)
			convey.So(err, convey.ShouldBeNil)
			_, err = os.Stat(path + ".tmp")
			convey.So(os.IsNotExist(err), convey.ShouldBeTrue)
		})

		convey.Convey("A fresh engine restores the same aggregates", func() {
			restored := New(testConfig())
			convey.So(restored.LoadCheckpoint(path), convey.ShouldBeNil)

			want := trained.Telemetry()
			got := restored.Telemetry()
			convey.So(got.RowsSeen, convey.ShouldEqual, want.RowsSeen)
			convey.So(got.RowsUpdated, convey.ShouldEqual, want.RowsUpdated)
			convey.So(got.RejectedUpdates, convey.ShouldEqual, want.RejectedUpdates)
			convey.So(got.DriftEvents, convey.ShouldEqual, want.DriftEvents)
			convey.So(got.TrackedKeys, convey.ShouldEqual, want.TrackedKeys)
			convey.So(got.MAEEMA, convey.ShouldEqual, want.MAEEMA)
			convey.So(got.ResidualQ90, convey.ShouldEqual, want.ResidualQ90)
		})

		convey.Convey("Both engines score the next arrival with the same regression state", func() {
			restored := New(testConfig())
			convey.So(restored.LoadCheckpoint(path), convey.ShouldBeNil)

			next := b.next(300)
			fromTrained := trained.ScoreBatch(context.Background(), []*model.ArrivalEvent{next})
			copied := *next
			fromRestored := restored.ScoreBatch(context.Background(), []*model.ArrivalEvent{&copied})

			convey.So(len(fromTrained), convey.ShouldEqual, 1)
			convey.So(len(fromRestored), convey.ShouldEqual, 1)
			convey.So(fromRestored[0].HeadwaySec, convey.ShouldEqual, fromTrained[0].HeadwaySec)
			convey.So(fromRestored[0].PredictedHeadwaySec, convey.ShouldEqual, fromTrained[0].PredictedHeadwaySec)
			convey.So(fromRestored[0].Residual, convey.ShouldEqual, fromTrained[0].Residual)
			convey.So(fromRestored[0].SSLResidualScore, convey.ShouldEqual, fromTrained[0].SSLResidualScore)
		})

		convey.Convey("Trip memory does not survive, so an old replay is stale rather than duplicate", func() {
			restored := New(testConfig())
			convey.So(restored.LoadCheckpoint(path), convey.ShouldBeNil)

			replay := *events[10]
			before := restored.Telemetry()
			out := restored.ScoreBatch(context.Background(), []*model.ArrivalEvent{&replay})

			convey.So(len(out), convey.ShouldEqual, 0)
			after := restored.Telemetry()
			convey.So(after.DuplicateEvents, convey.ShouldEqual, before.DuplicateEvents)
			convey.So(after.RowsSeen, convey.ShouldEqual, before.RowsSeen)
		})

		convey.Convey("The restored engine keeps learning", func() {
			restored := New(testConfig())
			convey.So(restored.LoadCheckpoint(path), convey.ShouldBeNil)
			base := restored.Telemetry().RowsSeen

			out := restored.ScoreBatch(context.Background(), []*model.ArrivalEvent{b.next(300), b.next(300)})
			convey.So(len(out), convey.ShouldEqual, 2)
			convey.So(restored.Telemetry().RowsSeen, convey.ShouldEqual, base+2)
		})
	})
}

func TestCheckpointMissingFile(t *testing.T) {
	convey.Convey("Loading a path that does not exist is a recognizable cold start", t, func() {
		e := New(testConfig())
		err := e.LoadCheckpoint(filepath.Join(t.TempDir(), "never-written.ckpt"))
		convey.So(errors.Is(err, ErrNoCheckpoint), convey.ShouldBeTrue)
	})
}

func TestCheckpointCorruptFile(t *testing.T) {
	convey.Convey("Loading garbage reports corruption", t, func() {
		path := filepath.Join(t.TempDir(), "engine.ckpt")
		convey.So(os.WriteFile(path, []byte("not a checkpoint"), 0o600), convey.ShouldBeNil)

		e := New(testConfig())
		err := e.LoadCheckpoint(path)
		convey.So(errors.Is(err, ErrCheckpointCorrupt), convey.ShouldBeTrue)
	})
}

func TestCheckpointRespectsKeyBound(t *testing.T) {
	convey.Convey("Given a checkpoint holding three keys", t, func() {
		big := New(testConfig())
		for _, pair := range []struct{ route, stop string }{
			{"22", "1001"}, {"66", "2002"}, {"84", "3003"},
		} {
			b := newStream(pair.route, pair.stop)
			big.ScoreBatch(context.Background(), b.batch(0, 300, 310, 290))
		}
		convey.So(big.TrackedKeys(), convey.ShouldEqual, 3)

		path := filepath.Join(t.TempDir(), "engine.ckpt")
		convey.So(big.SaveCheckpoint(path), convey.ShouldBeNil)

		convey.Convey("An engine bounded to one key loads only one", func() {
			cfg := testConfig()
			cfg.MaxKeys = 1
			small := New(cfg)

			convey.So(small.LoadCheckpoint(path), convey.ShouldBeNil)
			convey.So(small.TrackedKeys(), convey.ShouldEqual, 1)
		})
	})
}

func TestCheckpointIntoNestedDirectory(t *testing.T) {
	convey.Convey("Saving creates missing parent directories", t, func() {
		e := New(testConfig())
		b := newStream("22", "1001")
		e.ScoreBatch(context.Background(), b.batch(0, 300))

		path := filepath.Join(t.TempDir(), "state", "nested", "engine.ckpt")
		convey.So(e.SaveCheckpoint(path), convey.ShouldBeNil)

		info, err := os.Stat(path)
		convey.So(err, convey.ShouldBeNil)
		convey.So(info.Size(), convey.ShouldBeGreaterThan, 0)
	})
}
