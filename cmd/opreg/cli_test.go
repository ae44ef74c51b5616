package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/opreg/internal/loadscope"
	"github.com/alexisbeaulieu97/opreg/internal/manifest"
	"github.com/alexisbeaulieu97/opreg/pkg/operator"
)

const doubleID = "9b1f6f0e-3c2a-4d71-8f4e-2a7c5d9e1b30"

type doubleOp struct {
	operator.Instance `guid:"9b1f6f0e-3c2a-4d71-8f4e-2a7c5d9e1b30"`

	Value  *operator.Input[float64]  `input:"6f1c2d3e-0000-4000-8000-000000000001,label=Value"`
	Result *operator.Output[float64] `output:"6f1c2d3e-0000-4000-8000-000000000002"`
}

type concatOp struct {
	operator.Instance `guid:"4e0a9c1d-7b2f-4c5e-9d3a-1f8b6e2c7a40"`

	Parts  *operator.MultiInput[string] `input:"6f1c2d3e-0000-4000-8000-000000000003"`
	Result *operator.Output[string]     `output:"6f1c2d3e-0000-4000-8000-000000000004"`
}

type orphanOp struct {
	operator.Instance

	Value *operator.Input[float64] `input:"6f1c2d3e-0000-4000-8000-000000000005"`
}

type editorSettings struct{}

func (editorSettings) ShouldShareResources() bool { return true }

type cliFixture struct {
	t       *testing.T
	root    string
	catalog *loadscope.Catalog
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	return &cliFixture{t: t, root: t.TempDir(), catalog: loadscope.NewCatalog()}
}

// install registers mod in the catalog and writes a placeholder binary and
// manifest under root/<name>.
func (f *cliFixture) install(mod *operator.Module, editorOnly bool, deps ...manifest.Reference) string {
	f.t.Helper()
	dir := filepath.Join(f.root, mod.Name)
	require.NoError(f.t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, mod.Name+loadscope.BinaryExt)
	require.NoError(f.t, os.WriteFile(path, []byte("module binary"), 0o644))
	require.NoError(f.t, manifest.Write(dir, &manifest.ReleaseInfo{
		Name:         mod.Name,
		Version:      mod.Version,
		EditorOnly:   editorOnly,
		Dependencies: deps,
	}))
	require.NoError(f.t, f.catalog.Add(mod.Name, mod))
	return path
}

func (f *cliFixture) installNumbers() string {
	return f.install(operator.NewModule("lib.numbers", "1.2.0").Register(
		operator.Type[doubleOp](),
		operator.Type[concatOp](),
		operator.Type[orphanOp](),
	), false)
}

func (f *cliFixture) installEditor() string {
	return f.install(operator.NewModule("lib.numbers-editor", "1.2.0").
		Reference("lib.numbers").
		Register(operator.Type[editorSettings]()),
		true, manifest.Reference{Identity: "lib.numbers"})
}

func (f *cliFixture) execute(args ...string) (stdout, stderr string, err error) {
	root := newRootCmd(f.catalog)
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(errOut)
	root.SetArgs(append(args, "--log-level", "error", "--human-readable=false"))

	err = root.Execute()
	return out.String(), errOut.String(), err
}
