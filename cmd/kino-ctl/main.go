package main

import (
	"fmt"
	"os"

	cli "github.com/spf13/pflag"

	"kino/internal/ipc"
)

func main() {
	socket := cli.StringP("socket", "s", ipc.DefaultSocketPath, "Control socket path")
	cli.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: kino-ctl [-s socket] begin|end|toggle|status")
		cli.PrintDefaults()
	}
	cli.Parse()

	cmd := ipc.CmdToggle
	if cli.NArg() > 0 {
		cmd = cli.Arg(0)
	}

	reply, err := ipc.SendCommand(*socket, cmd)
	if err != nil {
		fmt.Println("kino not running:", err)
		os.Exit(1)
	}

	state := reply.Label
	if reply.Recording {
		state += " (gravando)"
	}
	if !reply.Connected {
		state += " (sem conexão)"
	}

	if !reply.OK {
		fmt.Printf("%s: %s\n", state, reply.Error)
		os.Exit(1)
	}
	fmt.Println(state)
}
