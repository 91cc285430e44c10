package net

import (
	"bufio"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/petreldb/petrel-server/server/conf"
)

func TestServerServeAndStop(t *testing.T) {
	h := newHarness(t)
	cfg := conf.NewCfg()
	cfg.BindAddress = "127.0.0.1"
	cfg.Port = 0

	srv := NewServer(cfg, h.sm, h.tm, h.lm)
	require.NoError(t, srv.Listen())
	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	r := bufio.NewReader(conn)
	send := func(req string) string {
		_, err := conn.Write(append([]byte(req), 0))
		require.NoError(t, err)
		reply, err := r.ReadString(0)
		require.NoError(t, err)
		return strings.TrimSuffix(reply, "\x00")
	}

	send("set output_file off")
	require.Equal(t, "ok\n", send("CREATE TABLE t (a INT);"))
	require.Equal(t, "1 rows affected\n", send("INSERT INTO t VALUES (1);"))
	require.Equal(t, "bye", send("exit"))

	srv.Stop()
	require.NoError(t, <-served)
}
