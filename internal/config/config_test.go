package config_test

import (
	"errors"
	"runtime"
	"testing"

	"github.com/okian/insights/internal/config"
	"github.com/smartystreets/goconvey/convey"
)

func TestConfig_New(t *testing.T) {
	convey.Convey("Given a new config with default options", t, func() {
		cfg := config.New()

		convey.Convey("Then it should have sensible defaults", func() {
			convey.So(cfg.Addr, convey.ShouldEqual, ":9080")
			convey.So(cfg.WorkerCount, convey.ShouldEqual, runtime.NumCPU()*2)
			convey.So(cfg.RuleTimeoutMS, convey.ShouldEqual, 10_000)
			convey.So(cfg.SeedDemo, convey.ShouldBeTrue)
			convey.So(cfg.MetricsNamespace, convey.ShouldEqual, "insights")
			convey.So(cfg.MetricsBucketCount, convey.ShouldEqual, 0)
			convey.So(cfg.Validate(), convey.ShouldBeNil)
		})
	})
}

func TestConfig_Validate(t *testing.T) {
	convey.Convey("Given configs with a single invalid field", t, func() {
		cases := []struct {
			name   string
			mutate func(*config.Config)
		}{
			{"addr", func(c *config.Config) { c.Addr = " " }},
			{"store", func(c *config.Config) { c.Store = "redis" }},
			{"sqlite_path", func(c *config.Config) { c.Store = config.StoreSQLite; c.SQLitePath = "" }},
			{"worker_count", func(c *config.Config) { c.WorkerCount = 0 }},
			{"rule_timeout", func(c *config.Config) { c.RuleTimeoutMS = -1 }},
			{"lookback", func(c *config.Config) { c.LookbackDays = 0 }},
			{"metrics_namespace", func(c *config.Config) { c.MetricsNamespace = "" }},
			{"metrics_bucket_count", func(c *config.Config) { c.MetricsBucketCount = -1 }},
			{"metrics_bucket_factor", func(c *config.Config) {
				c.MetricsBucketCount = 4
				c.MetricsBucketStartMS = 1
				c.MetricsBucketFactor = 1
			}},
		}

		for _, tc := range cases {
			cfg := config.New()
			tc.mutate(cfg)

			convey.Convey("Then "+tc.name+" is rejected", func() {
				convey.So(errors.Is(cfg.Validate(), config.ErrInvalidConfig), convey.ShouldBeTrue)
			})
		}
	})
}
