package module

import (
	"runtime"

	"github.com/alexisbeaulieu97/opreg/internal/config"
	"github.com/alexisbeaulieu97/opreg/internal/loadscope"
	"github.com/alexisbeaulieu97/opreg/internal/metrics"
)

// Options configures how descriptors load their modules.
type Options struct {
	// Opener turns binaries into module descriptions. Defaults to Go plugins.
	Opener loadscope.Opener
	// Workers bounds concurrent type extraction. Zero uses GOMAXPROCS.
	Workers int
	// Metrics receives load activity. Nil disables recording.
	Metrics *metrics.Recorder
}

// DefaultOptions returns options loading Go plugins with one extraction
// worker per available CPU.
func DefaultOptions() *Options {
	return &Options{
		Opener:  loadscope.PluginOpener{},
		Metrics: metrics.Default(),
	}
}

// OptionsFromConfig derives options from host configuration. Modules linked
// into the host are resolved through catalog before falling back to plugins.
func OptionsFromConfig(cfg *config.Config, catalog *loadscope.Catalog) *Options {
	opts := DefaultOptions()
	opts.Opener = loadscope.DefaultOpener(catalog)
	if cfg != nil {
		opts.Workers = cfg.Workers
	}
	return opts
}

func (o *Options) workers() int {
	if o == nil || o.Workers <= 0 {
		return runtime.GOMAXPROCS(0)
	}
	return o.Workers
}

func (o *Options) opener() loadscope.Opener {
	if o == nil || o.Opener == nil {
		return loadscope.PluginOpener{}
	}
	return o.Opener
}

func (o *Options) recorder() *metrics.Recorder {
	if o == nil {
		return nil
	}
	return o.Metrics
}
