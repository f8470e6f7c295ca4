// Package banner renders the startup banner shown on stderr.
package banner

import "fmt"

const art = `
 _      _   _                       __
| | ___| |_| |_ ___ _ __ ___ _ __ / _|
| |/ _ \ __| __/ _ \ '__/ __| '__| |_
| |  __/ |_| ||  __/ | | (__| |  |  _|
|_|\___|\__|\__\___|_|  \___|_|  |_|
`

// Banner returns the banner followed by the version line.
func Banner(version string) string {
	return fmt.Sprintf("%s  handwritten word recognition with a chain CRF (%s)\n\n", art, version)
}
