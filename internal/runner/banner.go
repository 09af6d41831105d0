package runner

import (
	"github.com/fleetpatch/fleetpatch/pkg/version"
	"github.com/projectdiscovery/gologger"
)

var banner = `
   ___ __         __             __       __
  / _// /__ ___  / /_ ___  ___ _/ /_ ____/ /
 / _// / -_) -_)/ __// _ \/ _ '/ __// __/ _ \
/_/ /_/\__/\__/ \__/ / .__/\_,_/\__/ \__/_//_/
                    /_/
`

// showBanner is used to show the banner to the user
func showBanner() {
	gologger.Print().Msgf("%s\n", banner)
	gologger.Print().Msgf("\t\tfleetpatch %s\n\n", version.GetVersion())
}
