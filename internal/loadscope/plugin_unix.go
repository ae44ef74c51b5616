//go:build cgo && (linux || darwin || freebsd)

package loadscope

import (
	"fmt"
	"plugin"

	"github.com/alexisbeaulieu97/opreg/pkg/operator"
)

// PluginOpener opens modules compiled with -buildmode=plugin.
type PluginOpener struct{}

// Open implements Opener.
func (PluginOpener) Open(path string) (*operator.Module, error) {
	plug, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin %s: %w", path, err)
	}
	symbol, err := plug.Lookup(operator.SymbolName)
	if err != nil {
		return nil, fmt.Errorf("lookup %s: %w", operator.SymbolName, err)
	}

	switch v := symbol.(type) {
	case **operator.Module:
		return *v, nil
	case *operator.Module:
		return v, nil
	default:
		return nil, fmt.Errorf("plugin symbol %s has type %T, want *operator.Module", operator.SymbolName, symbol)
	}
}
