package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall-clock reads so services and jobs can be driven by a
// fixed instant in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewSystemClock returns a Clock backed by time.Now in UTC.
func NewSystemClock() Clock { return systemClock{} }

var Module = fx.Module("clock",
	fx.Provide(NewSystemClock),
)
