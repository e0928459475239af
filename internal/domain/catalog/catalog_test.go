package catalog_test

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/insights/internal/domain/catalog"
	"github.com/okian/insights/internal/domain/rules"
)

func TestDefault(t *testing.T) {
	Convey("Given the default catalog", t, func() {
		reg := catalog.Default()

		Convey("Then every family is registered in order", func() {
			ids := make([]string, 0, reg.Len())
			for _, d := range reg.All() {
				ids = append(ids, d.ID)
			}
			So(ids, ShouldResemble, []string{"C1", "C2", "C3", "C4", "C5", "C6", "C7", "Y1", "Y2", "M1", "M2"})
		})

		Convey("Then triggers and domains partition the rules", func() {
			So(len(reg.ByTrigger(rules.TriggerDaily)), ShouldEqual, 4)
			So(len(reg.ByTrigger(rules.TriggerWeekly)), ShouldEqual, 6)
			So(len(reg.ByTrigger(rules.TriggerOnDemand)), ShouldEqual, 1)
			So(len(reg.ByDomain("circles")), ShouldEqual, 7)
			So(len(reg.ByDomain("youth")), ShouldEqual, 2)
			So(len(reg.ByDomain("missions")), ShouldEqual, 2)
		})
	})
}
