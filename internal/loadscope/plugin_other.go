//go:build !(cgo && (linux || darwin || freebsd))

package loadscope

import (
	"errors"

	"github.com/alexisbeaulieu97/opreg/pkg/operator"
)

// ErrPluginsUnsupported is returned where the Go plugin runtime is unavailable.
var ErrPluginsUnsupported = errors.New("go plugins are not supported on this platform; link modules into a Catalog instead")

// PluginOpener opens modules compiled with -buildmode=plugin.
type PluginOpener struct{}

// Open implements Opener.
func (PluginOpener) Open(string) (*operator.Module, error) {
	return nil, ErrPluginsUnsupported
}
