// Command ndiffports.so is the ndiffports policy built as a Go plugin
// shared object (`go build -buildmode=plugin`). It exports the
// MptcpdPlugin descriptor symbol the plugin loader resolves by name.
package main

import (
	"log/slog"

	"github.com/mptcpd/mptcpd/internal/policy/ndiffports"
)

var policy = ndiffports.New(slog.Default())

// MptcpdPlugin is the well-known descriptor symbol resolved via
// plugin.Lookup by internal/plugin's loader.
var MptcpdPlugin = policy.Descriptor(10)

func main() {}
