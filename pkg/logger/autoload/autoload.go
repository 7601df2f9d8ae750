// Package autoload initializes the process logger from the environment as
// an import side effect, before any config parsing runs.
package autoload

import (
	"github.com/kelseyhightower/envconfig"

	logx "github.com/dukalink/dukalink/pkg/logger"
)

func init() {
	var conf logx.Config
	if err := envconfig.Process("LOG", &conf); err != nil {
		logx.Init()
		return
	}
	logx.Init(conf)
}
