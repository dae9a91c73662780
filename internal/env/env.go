package env

import (
	"github.com/thatsimonsguy/pump-controller/internal/config"
)

var Cfg *config.Config
