package alert

import (
	"go.uber.org/fx"

	"github.com/inkwellhq/inkwell/internal/alert/service"
)

var Module = fx.Module("alert",
	fx.Provide(service.New),
)
