package conf

import (
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"

	"github.com/petreldb/petrel-server/server/common"
)

// Cfg carries the server settings. Defaults come from NewCfg, an optional
// ini file overlays them.
type Cfg struct {
	Raw *ini.File

	BindAddress string
	Port        int

	BufferPoolPages int
	LogBufferSize   int

	LogPath  string
	LogLevel string
}

// NewCfg returns the built-in defaults.
func NewCfg() *Cfg {
	return &Cfg{
		BindAddress:     "0.0.0.0",
		Port:            common.DefaultPort,
		BufferPoolPages: 65536,
		LogBufferSize:   common.LogBufferSize,
		LogLevel:        "info",
	}
}

// Load overlays settings from an ini file. Missing keys keep their defaults.
func (c *Cfg) Load(path string) error {
	f, err := ini.Load(path)
	if err != nil {
		return errors.Wrapf(err, "load config %s", path)
	}
	c.Raw = f

	srv := f.Section("server")
	if k := srv.Key("bind_address"); k.String() != "" {
		c.BindAddress = k.String()
	}
	if k := srv.Key("port"); k.String() != "" {
		v, err := k.Int()
		if err != nil {
			return errors.Wrap(err, "parse server.port")
		}
		c.Port = v
	}
	if k := srv.Key("log_path"); k.String() != "" {
		c.LogPath = k.String()
	}
	if k := srv.Key("log_level"); k.String() != "" {
		c.LogLevel = k.String()
	}

	st := f.Section("storage")
	if k := st.Key("buffer_pool_pages"); k.String() != "" {
		v, err := k.Int()
		if err != nil {
			return errors.Wrap(err, "parse storage.buffer_pool_pages")
		}
		c.BufferPoolPages = v
	}
	if k := st.Key("log_buffer_size"); k.String() != "" {
		v, err := k.Int()
		if err != nil {
			return errors.Wrap(err, "parse storage.log_buffer_size")
		}
		c.LogBufferSize = v
	}
	return nil
}
