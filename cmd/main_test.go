package main

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestCommandTree(t *testing.T) {
	Convey("The serve command exists and takes no flags of its own", t, func() {
		cmd := newServeCmd()
		So(cmd.Use, ShouldEqual, "serve")
		So(cmd.RunE, ShouldNotBeNil)
	})

	Convey("The simulate command exposes the generator knobs", t, func() {
		cmd := newSimulateCmd()
		So(cmd.Use, ShouldEqual, "simulate")

		for _, name := range []string{
			"base-url", "routes", "stops-per-route", "arrivals-per-stop",
			"headway-mean", "headway-std", "disrupt-factor", "disrupt-tail",
			"duplicate-rate", "seed", "workers", "timeout", "settle-wait", "verbose",
		} {
			So(cmd.Flags().Lookup(name), ShouldNotBeNil)
		}

		Convey("Flag values land in the simulator config", func() {
			So(cmd.Flags().Set("routes", "7"), ShouldBeNil)
			So(cmd.Flags().Set("headway-mean", "240"), ShouldBeNil)

			routes, err := cmd.Flags().GetInt("routes")
			So(err, ShouldBeNil)
			So(routes, ShouldEqual, 7)
		})
	})
}
