package quota

import "go.uber.org/fx"

var Module = fx.Module("quota",
	fx.Provide(NewPolicy),
	fx.Provide(NewRedisCounter),
	fx.Provide(func(c *RedisCounter) Counter { return c }),
	fx.Provide(NewChecker),
)
