// rdmabenchctl is a thin cobra-based driver CLI for starting and
// inspecting rdmabench benchmark sessions on a remote agent.
package main

import "github.com/dantte-lp/rdmabench/cmd/rdmabenchctl/commands"

func main() {
	commands.Execute()
}
