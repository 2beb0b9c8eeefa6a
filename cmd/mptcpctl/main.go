// mptcpctl is the CLI client for the mptcpd path manager daemon.
package main

import "github.com/mptcpd/mptcpd/cmd/mptcpctl/commands"

func main() {
	commands.Execute()
}
