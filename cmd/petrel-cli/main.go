package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/petreldb/petrel-server/server/common"
)

const historyFile = ".petrel_history"

var (
	host = "127.0.0.1"
	port = common.DefaultPort

	rootCmd = &cobra.Command{
		Use:   "petrel-cli",
		Short: "Interactive petrel client",
		RunE:  run,
	}
)

func init() {
	fs := rootCmd.Flags()
	fs.StringVar(&host, "host", host, "server `address`")
	fs.IntVarP(&port, "port", "p", port, "server `port`")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// complete reports whether the buffered input forms one full request.
// Statements end with a semicolon; the pseudo-commands stand alone.
func complete(input string) bool {
	if strings.HasSuffix(input, ";") {
		return true
	}
	switch input {
	case "exit", "crash", "set output_file on", "set output_file off":
		return true
	}
	return false
}

func run(cmd *cobra.Command, args []string) error {
	conn, err := net.Dial("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	defer conn.Close()
	r := bufio.NewReaderSize(conn, common.BufferLength)

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	var buf string
	for {
		prompt := "petrel> "
		if buf != "" {
			prompt = "     -> "
		}
		s, err := line.Prompt(prompt)
		if err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if buf == "" {
			buf = s
		} else {
			buf += " " + s
		}
		if !complete(buf) {
			continue
		}
		line.AppendHistory(buf)
		req := buf
		buf = ""

		if _, err := conn.Write(append([]byte(req), 0)); err != nil {
			return err
		}
		if req == "crash" {
			// The server dies without replying.
			fmt.Println("server crashed")
			return nil
		}
		reply, err := r.ReadString(0)
		if err != nil {
			return err
		}
		reply = strings.TrimSuffix(reply, "\x00")
		if reply != "" {
			fmt.Println(strings.TrimRight(reply, "\n"))
		}
		if req == "exit" {
			return nil
		}
	}
}
