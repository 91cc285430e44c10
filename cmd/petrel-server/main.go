package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/petreldb/petrel-server/logger"
	"github.com/petreldb/petrel-server/server/catalog"
	"github.com/petreldb/petrel-server/server/conf"
	srvnet "github.com/petreldb/petrel-server/server/net"
	"github.com/petreldb/petrel-server/server/recovery"
	"github.com/petreldb/petrel-server/server/storage/bufferpool"
	"github.com/petreldb/petrel-server/server/storage/disk"
	"github.com/petreldb/petrel-server/server/storage/heap"
	"github.com/petreldb/petrel-server/server/storage/index"
	"github.com/petreldb/petrel-server/server/txn"
	"github.com/petreldb/petrel-server/server/wal"
)

var (
	configFile string
	dataDir    = "data"
	host       string
	port       int

	rootCmd = &cobra.Command{
		Use:   "petrel-server <database>",
		Short: "Start the petrel database server",
		Args:  cobra.ExactArgs(1),
		RunE:  run,
	}
)

func init() {
	fs := rootCmd.Flags()
	fs.StringVar(&configFile, "config", "", "ini config `file`")
	fs.StringVar(&dataDir, "data", dataDir, "`directory` holding databases")
	fs.StringVar(&host, "host", "", "bind address, overrides config")
	fs.IntVar(&port, "port", 0, "listen port, overrides config")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := conf.NewCfg()
	if configFile != "" {
		if err := cfg.Load(configFile); err != nil {
			return err
		}
	}
	if host != "" {
		cfg.BindAddress = host
	}
	if port != 0 {
		cfg.Port = port
	}
	if err := logger.Init(logger.Config{LogPath: cfg.LogPath, LogLevel: cfg.LogLevel}); err != nil {
		return err
	}

	dm := disk.NewDiskManager()
	bpm := bufferpool.NewBufferPoolManager(cfg.BufferPoolPages, dm)
	sm := catalog.NewSmManager(dm, bpm, heap.NewRmManager(dm, bpm), index.NewIxManager(dm, bpm))

	dbDir := filepath.Join(dataDir, args[0])
	if _, err := os.Stat(dbDir); os.IsNotExist(err) {
		logger.Infof("creating database %s", args[0])
		if err := sm.CreateDatabase(dbDir); err != nil {
			return err
		}
	}
	if err := sm.OpenDatabase(dbDir); err != nil {
		return err
	}

	lf, err := disk.OpenLogFile(filepath.Join(dbDir, "db.log"))
	if err != nil {
		return err
	}
	lm, err := wal.NewLogManager(lf, cfg.LogBufferSize)
	if err != nil {
		return err
	}
	// A dirty page must not reach disk before the log that covers it.
	bpm.FlushLog = lm.Flush
	tm := txn.NewTransactionManager(txn.NewLockManager(), lm, sm)

	if err := recovery.NewRecoveryManager(sm, lm, tm).Recover(); err != nil {
		return err
	}

	srv := srvnet.NewServer(cfg, sm, tm, lm)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Infof("shutting down")
		srv.Stop()
	}()

	if err := srv.Serve(); err != nil {
		return err
	}
	if err := sm.CloseDatabase(); err != nil {
		return err
	}
	return lf.Close()
}
