package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/alexisbeaulieu97/opreg/internal/loadscope"
	"github.com/alexisbeaulieu97/opreg/internal/module"
)

type depsOptions struct {
	jsonOutput bool
	load       bool
}

func newDepsCmd(flags *rootFlags) *cobra.Command {
	opts := &depsOptions{}

	cmd := &cobra.Command{
		Use:   "deps [module-dir]",
		Short: "Resolve module dependencies and show load order and scope sharing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeps(cmd, flags, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")
	cmd.Flags().BoolVar(&opts.load, "load", false, "Load every module in dependency order and report the result")

	return cmd
}

type depsEntry struct {
	Descriptor *module.Descriptor
	DependsOn  []string
	ScopeOwner string
	Status     string
	Operators  int
}

func runDeps(cmd *cobra.Command, flags *rootFlags, opts *depsOptions, args []string) error {
	app, err := flags.appContext(cmd)
	if err != nil {
		return err
	}

	root := app.Config.ModuleDir
	if len(args) == 1 {
		root = args[0]
	}

	set, err := module.Discover(root, app.Options, app.Logger)
	if err != nil {
		return newCommandError("discover modules", root, err, "Check that the directory exists and is readable.")
	}
	defer set.UnloadAll()

	if err := set.ResolveExtensions(); err != nil {
		app.Logger.Errors(err, "extension module could not be resolved")
		return newCommandError("resolve extensions", root, err, "Fix the package manifests of the editor-only modules listed above.")
	}

	ordered, err := set.LoadOrder()
	if err != nil {
		return newCommandError("order modules", root, err, "Remove one of the dependencies forming the cycle.")
	}

	graph := set.Graph()
	entries := lo.Map(ordered, func(d *module.Descriptor, _ int) depsEntry {
		return depsEntry{
			Descriptor: d,
			DependsOn:  graph.Dependencies(d.Name()),
			Status:     "not loaded",
		}
	})

	for i := range entries {
		d := entries[i].Descriptor
		if opts.load {
			if d.TryLoadTypes() {
				entries[i].Status = "loaded"
				entries[i].Operators = len(d.OperatorTypes())
			} else {
				entries[i].Status = "failed"
			}
		}
		entries[i].ScopeOwner = scopeOwner(d)
	}

	if opts.jsonOutput {
		return renderDepsJSON(cmd.OutOrStdout(), root, entries, opts.load)
	}
	return renderDepsTable(cmd.OutOrStdout(), entries, opts.load)
}

// scopeOwner names the module whose load scope d resolves through, or an
// empty string when d still owns its own scope.
func scopeOwner(d *module.Descriptor) string {
	if d.OwnsLoadScope() {
		return ""
	}
	if scope := d.Scope(); scope != nil && !scope.Closed() {
		return loadscope.BinaryName(scope.Path())
	}
	return "released"
}

func renderDepsTable(out io.Writer, entries []depsEntry, load bool) error {
	if len(entries) == 0 {
		fmt.Fprintln(out, "No module binaries found.")
		return nil
	}

	p := newPrinter(out)
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	header := "ORDER\tMODULE\tEDITOR-ONLY\tSCOPE\tDEPENDS ON"
	if load {
		header += "\tSTATUS\tOPERATORS"
	}
	fmt.Fprintln(writer, header)

	for i, e := range entries {
		scope := "own"
		if e.ScopeOwner != "" {
			scope = "shared with " + e.ScopeOwner
		}
		row := fmt.Sprintf("%d\t%s\t%s\t%s\t%s",
			i+1,
			e.Descriptor.Name(),
			yesNo(e.Descriptor.IsEditorOnly()),
			scope,
			valueOrFallback(strings.Join(e.DependsOn, ", "), "-"),
		)
		if load {
			status := e.Status
			if status == "failed" {
				status = p.failure(status)
			}
			row += fmt.Sprintf("\t%s\t%d", status, e.Operators)
		}
		fmt.Fprintln(writer, row)
	}
	return writer.Flush()
}

type depsJSONModule struct {
	Name       string   `json:"name"`
	Path       string   `json:"path"`
	EditorOnly bool     `json:"editor_only"`
	OwnsScope  bool     `json:"owns_scope"`
	ScopeOwner string   `json:"scope_owner,omitempty"`
	DependsOn  []string `json:"depends_on"`
	Status     string   `json:"status,omitempty"`
	Operators  int      `json:"operators,omitempty"`
}

type depsJSONPayload struct {
	Version string           `json:"version"`
	Root    string           `json:"root"`
	Count   int              `json:"count"`
	Modules []depsJSONModule `json:"modules"`
}

func renderDepsJSON(out io.Writer, root string, entries []depsEntry, load bool) error {
	payload := depsJSONPayload{
		Version: "1.0",
		Root:    root,
		Count:   len(entries),
		Modules: make([]depsJSONModule, len(entries)),
	}

	for i, e := range entries {
		mod := depsJSONModule{
			Name:       e.Descriptor.Name(),
			Path:       e.Descriptor.Path(),
			EditorOnly: e.Descriptor.IsEditorOnly(),
			OwnsScope:  e.ScopeOwner == "",
			ScopeOwner: e.ScopeOwner,
			DependsOn:  e.DependsOn,
		}
		if mod.DependsOn == nil {
			mod.DependsOn = []string{}
		}
		if load {
			mod.Status = e.Status
			mod.Operators = e.Operators
		}
		payload.Modules[i] = mod
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
