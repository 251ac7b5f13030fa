// Package state reads the monitor configuration: HCL files with
// include support, translated into component options with defaults.
package state

import (
	"path/filepath"
	"sync"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"

	"github.com/bauer-group/hargassner/helpers"
	"github.com/bauer-group/hargassner/log2"
	tele_config "github.com/bauer-group/hargassner/tele/config"
	"github.com/bauer-group/hargassner/telnet"
)

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Boiler struct { //nolint:maligned
		Host     string `hcl:"host"`
		Port     int    `hcl:"port"`
		Firmware string `hcl:"firmware"`

		ReadBufferSize         int `hcl:"read_buffer_size"`
		ConnectTimeoutSec      int `hcl:"connect_timeout_sec"`
		ReadTimeoutSec         int `hcl:"read_timeout_sec"`
		StalenessTimeoutSec    int `hcl:"staleness_timeout_sec"`
		MaxConsecutiveTimeouts int `hcl:"max_consecutive_timeouts"`
		ReconnectDelaySec      int `hcl:"reconnect_delay_sec"`
		ReconnectDelayMaxSec   int `hcl:"reconnect_delay_max_sec"`
	} `hcl:"boiler"`

	Tele tele_config.Config `hcl:"tele"`

	_copy_guard sync.Mutex //nolint:unused
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

// ClientOptions translates the boiler section into telnet.Options,
// filling defaults for everything unset.
func (c *Config) ClientOptions(log *log2.Log) telnet.Options {
	b := &c.Boiler
	return telnet.Options{
		Host:     b.Host,
		Port:     helpers.IntDefault(b.Port, telnet.DefaultPort),
		Firmware: b.Firmware,
		Log:      log,

		ReadBufferSize:         helpers.IntDefault(b.ReadBufferSize, telnet.DefaultReadBufferSize),
		ConnectTimeout:         helpers.IntSecondDefault(b.ConnectTimeoutSec, telnet.DefaultConnectTimeout),
		ReadTimeout:            helpers.IntSecondDefault(b.ReadTimeoutSec, telnet.DefaultReadTimeout),
		StalenessTimeout:       helpers.IntSecondDefault(b.StalenessTimeoutSec, telnet.DefaultStalenessTimeout),
		MaxConsecutiveTimeouts: helpers.IntDefault(b.MaxConsecutiveTimeouts, telnet.DefaultMaxConsecutiveTimeouts),
		ReconnectDelay:         helpers.IntSecondDefault(b.ReconnectDelaySec, telnet.DefaultReconnectDelay),
		ReconnectDelayMax:      helpers.IntSecondDefault(b.ReconnectDelayMaxSec, telnet.DefaultReconnectDelayMax),
	}
}

func (c *Config) Validate() error {
	errs := make([]error, 0, 4)
	if c.Boiler.Host == "" {
		errs = append(errs, errors.NotValidf("config boiler.host required"))
	}
	if c.Tele.Enable && c.Tele.Broker == "" {
		errs = append(errs, errors.NotValidf("config tele.broker required when tele.enable"))
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		log.Fatalf("config duplicate source=%s", source.Name)
	} else {
		log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	}
	c.includeSeen[source.Name] = struct{}{}
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			err = errors.NotFoundf("config required name=%s path=%s", source.Name, norm)
			*errs = append(*errs, err)
			return
		}
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	err = hcl.Unmarshal(bs, c)
	if err != nil {
		err = errors.Annotatef(err, "config unmarshal source=%s content='%s'", source.Name, string(bs))
		*errs = append(*errs, err)
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		includeNorm := fs.Normalize(include.Name)
		if _, ok := c.includeSeen[includeNorm]; ok {
			err = errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name)
			*errs = append(*errs, err)
			continue
		}
		c.read(log, fs, include, errs)
	}
}

func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	if len(names) == 0 {
		log.Fatal("code error [Must]ReadConfig() without names")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(names[0])
		osfs.SetBase(dir)
		names[0] = name
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, name := range names {
		c.read(log, fs, ConfigSource{Name: name}, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}
