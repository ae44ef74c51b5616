package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/alexisbeaulieu97/opreg/internal/manifest"
	"github.com/alexisbeaulieu97/opreg/internal/module"
	"github.com/alexisbeaulieu97/opreg/internal/typeinfo"
	opregerrors "github.com/alexisbeaulieu97/opreg/pkg/errors"
)

type inspectOptions struct {
	jsonOutput bool
	members    bool
}

func newInspectCmd(flags *rootFlags) *cobra.Command {
	opts := &inspectOptions{}

	cmd := &cobra.Command{
		Use:   "inspect <module-binary>...",
		Short: "Load module binaries and list the operator types they register",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, flags, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output in JSON format")
	cmd.Flags().BoolVar(&opts.members, "members", false, "Include member names of each operator type")

	return cmd
}

type moduleReport struct {
	Descriptor *module.Descriptor
	Version    string
	Share      bool
	Namespaces []string
	Operators  []*typeinfo.OperatorTypeRecord
	Rejected   []error
}

func runInspect(cmd *cobra.Command, flags *rootFlags, opts *inspectOptions, paths []string) error {
	app, err := flags.appContext(cmd)
	if err != nil {
		return err
	}

	reports := make([]moduleReport, 0, len(paths))
	for _, path := range paths {
		report, err := inspectModule(app, path)
		if err != nil {
			return err
		}
		reports = append(reports, report)
	}

	if opts.jsonOutput {
		return renderInspectJSON(cmd.OutOrStdout(), reports, opts.members)
	}
	return renderInspectTable(cmd.OutOrStdout(), reports, opts.members)
}

func inspectModule(app *AppContext, path string) (moduleReport, error) {
	editorOnly := false
	if info, err := manifest.Read(filepath.Dir(path)); err == nil {
		editorOnly = info.EditorOnly
	}

	d := module.New(path, editorOnly, app.Options, app.Logger)
	defer d.Unload()

	if !d.TryLoadTypes() {
		cause := opregerrors.NewModuleError(d.Name(), errors.New("binary could not be opened or its types could not be enumerated"))
		return moduleReport{}, newCommandError("inspect", fmt.Sprintf("loading %s", d.Path()), cause,
			"Run again with --log-level debug and make sure every module it references is installed next to it.")
	}

	report := moduleReport{
		Descriptor: d,
		Version:    "-",
		Share:      d.ShouldShareResources(),
		Namespaces: d.Namespaces(),
		Operators:  lo.Values(d.OperatorTypes()),
		Rejected:   multierr.Errors(d.LastLoadErrors()),
	}
	if info, ok := d.TryGetReleaseInfo(); ok {
		report.Version = info.Version
	}
	sort.Slice(report.Operators, func(i, j int) bool {
		return report.Operators[i].Type.String() < report.Operators[j].Type.String()
	})
	return report, nil
}

func renderInspectTable(out io.Writer, reports []moduleReport, members bool) error {
	p := newPrinter(out)

	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(out)
		}
		fmt.Fprintf(out, "%s %s\n", p.heading(r.Descriptor.Name()), r.Version)
		fmt.Fprintln(out, p.muted(r.Descriptor.Path()))
		fmt.Fprintf(out, "namespaces: %s\n", valueOrFallback(strings.Join(r.Namespaces, ", "), "-"))
		fmt.Fprintf(out, "shares resources: %s\n\n", yesNo(r.Share))

		if len(r.Operators) == 0 {
			fmt.Fprintln(out, "No operator types registered.")
		} else {
			writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "IDENTITY\tTYPE\tINPUTS\tOUTPUTS\tTRAITS")
			for _, rec := range r.Operators {
				fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
					rec.TypeIdentity,
					rec.Type.String(),
					formatSlots(rec.Inputs),
					formatSlots(rec.Outputs),
					formatTraits(rec),
				)
			}
			if err := writer.Flush(); err != nil {
				return err
			}
		}

		if members {
			for _, rec := range r.Operators {
				fmt.Fprintf(out, "%s members: %s\n", rec.Type.String(), valueOrFallback(strings.Join(rec.MemberNames, ", "), "-"))
			}
		}

		for _, err := range r.Rejected {
			fmt.Fprintln(out, p.warn("rejected: "+firstLine(err.Error())))
		}
	}
	return nil
}

func formatSlots(slots []typeinfo.SlotDescriptor) string {
	if len(slots) == 0 {
		return "-"
	}
	parts := lo.Map(slots, func(s typeinfo.SlotDescriptor, _ int) string {
		kind := s.ValueKind
		if s.GenericParameterIndex >= 0 {
			kind = fmt.Sprintf("T%d", s.GenericParameterIndex)
		}
		if s.IsMultiInput {
			kind = "[]" + kind
		}
		return s.Name + ":" + kind
	})
	return strings.Join(parts, ", ")
}

func formatTraits(rec *typeinfo.OperatorTypeRecord) string {
	var traits []string
	if rec.IsGeneric {
		traits = append(traits, "generic")
	}
	if rec.IsExtractable {
		traits = append(traits, "extractable("+typeName(rec.ExtractableType)+")")
	}
	if rec.IsDescriptiveFileNameType {
		traits = append(traits, "descriptive-name")
	}
	return valueOrFallback(strings.Join(traits, ", "), "-")
}

type inspectJSONSlot struct {
	Name         string            `json:"name"`
	ValueType    string            `json:"value_type"`
	ValueKind    string            `json:"value_kind"`
	MultiInput   bool              `json:"multi_input"`
	GenericIndex int               `json:"generic_index"`
	PortID       string            `json:"port_id"`
	Options      map[string]string `json:"options,omitempty"`
}

type inspectJSONOperator struct {
	Identity            string            `json:"identity"`
	Type                string            `json:"type"`
	Generic             bool              `json:"generic"`
	Extractable         string            `json:"extractable,omitempty"`
	DescriptiveFileName bool              `json:"descriptive_file_name"`
	Inputs              []inspectJSONSlot `json:"inputs"`
	Outputs             []inspectJSONSlot `json:"outputs"`
	Members             []string          `json:"members,omitempty"`
}

type inspectJSONModule struct {
	Name           string                `json:"name"`
	Path           string                `json:"path"`
	Version        string                `json:"version"`
	EditorOnly     bool                  `json:"editor_only"`
	ShareResources bool                  `json:"share_resources"`
	Namespaces     []string              `json:"namespaces"`
	Operators      []inspectJSONOperator `json:"operators"`
	Rejected       []string              `json:"rejected,omitempty"`
}

type inspectJSONPayload struct {
	Version string              `json:"version"`
	Count   int                 `json:"count"`
	Modules []inspectJSONModule `json:"modules"`
}

func renderInspectJSON(out io.Writer, reports []moduleReport, members bool) error {
	payload := inspectJSONPayload{
		Version: "1.0",
		Count:   len(reports),
		Modules: make([]inspectJSONModule, len(reports)),
	}

	for i, r := range reports {
		mod := inspectJSONModule{
			Name:           r.Descriptor.Name(),
			Path:           r.Descriptor.Path(),
			Version:        r.Version,
			EditorOnly:     r.Descriptor.IsEditorOnly(),
			ShareResources: r.Share,
			Namespaces:     r.Namespaces,
			Operators:      make([]inspectJSONOperator, len(r.Operators)),
		}
		for j, rec := range r.Operators {
			op := inspectJSONOperator{
				Identity:            rec.TypeIdentity.String(),
				Type:                rec.Type.String(),
				Generic:             rec.IsGeneric,
				DescriptiveFileName: rec.IsDescriptiveFileNameType,
				Inputs:              jsonSlots(rec.Inputs),
				Outputs:             jsonSlots(rec.Outputs),
			}
			if rec.IsExtractable {
				op.Extractable = typeName(rec.ExtractableType)
			}
			if members {
				op.Members = rec.MemberNames
			}
			mod.Operators[j] = op
		}
		for _, err := range r.Rejected {
			mod.Rejected = append(mod.Rejected, firstLine(err.Error()))
		}
		payload.Modules[i] = mod
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}

func jsonSlots(slots []typeinfo.SlotDescriptor) []inspectJSONSlot {
	return lo.Map(slots, func(s typeinfo.SlotDescriptor, _ int) inspectJSONSlot {
		return inspectJSONSlot{
			Name:         s.Name,
			ValueType:    typeName(s.ValueType),
			ValueKind:    s.ValueKind,
			MultiInput:   s.IsMultiInput,
			GenericIndex: s.GenericParameterIndex,
			PortID:       s.Attribute.ID.String(),
			Options:      s.Attribute.Options,
		}
	})
}

func typeName(t reflect.Type) string {
	if t == nil {
		return ""
	}
	return t.String()
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
