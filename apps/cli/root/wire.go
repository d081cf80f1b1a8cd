package root

import (
	"github.com/zenGate-Global/palmyra-worlds/apps/cli/cmd/auth"
	"github.com/zenGate-Global/palmyra-worlds/apps/cli/cmd/bootstrap"
	"github.com/zenGate-Global/palmyra-worlds/apps/cli/cmd/world"
)

func init() {
	Root().AddCommand(auth.Command())
	Root().AddCommand(bootstrap.Command())
	Root().AddCommand(world.Command())
}
