package module

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/opreg/internal/loadscope"
	"github.com/alexisbeaulieu97/opreg/internal/logger"
	"github.com/alexisbeaulieu97/opreg/internal/manifest"
	"github.com/alexisbeaulieu97/opreg/internal/metrics"
	"github.com/alexisbeaulieu97/opreg/pkg/operator"
)

const (
	addID   = "5d7d61ae-0a41-4ffa-a51d-93bab665e7fe"
	scaleID = "0c8f1f8e-6a55-4d8e-9a4e-3f0b0d2f4c11"
)

type addOp struct {
	operator.Instance `guid:"5d7d61ae-0a41-4ffa-a51d-93bab665e7fe"`

	A      *operator.Input[float64]  `input:"a1b2c3d4-0000-4000-8000-000000000001"`
	B      *operator.Input[float64]  `input:"a1b2c3d4-0000-4000-8000-000000000002,label=Second"`
	Result *operator.Output[float64] `output:"a1b2c3d4-0000-4000-8000-000000000003"`
}

func (a *addOp) Update() {
	a.Result.Set(a.A.Get() + a.B.Get())
}

// Same identity as addOp.
type plusOp struct {
	operator.Instance `guid:"5d7d61ae-0a41-4ffa-a51d-93bab665e7fe"`

	Result *operator.Output[float64]
}

type noIdentityOp struct {
	operator.Instance

	Result *operator.Output[float64]
}

type twoIdentityOp struct {
	operator.Instance `guid:"9e3b7f38-2f3c-4a4e-8d43-5b6f1d0b8a01"`

	Alias  string `guid:"9e3b7f38-2f3c-4a4e-8d43-5b6f1d0b8a02"`
	Result *operator.Output[float64]
}

type badIdentityOp struct {
	operator.Instance `guid:"not-a-uuid"`
}

type triggerOp struct {
	operator.Instance `guid:"4f1d2c3b-7a6e-4b5d-9c8f-0e1d2c3b4a59"`

	Result *operator.Output[int] `output:"4f1d2c3b-7a6e-4b5d-9c8f-0e1d2c3b4a60"`
}

type unannotatedOp struct {
	operator.Instance `guid:"7b0e6d1c-3f2a-4c59-8e7d-6a5b4c3d2e1f"`

	Input  *operator.Input[string] // no port annotation
	Output *operator.Output[string]
}

type gainOp struct {
	operator.Instance `guid:"2a3b4c5d-6e7f-4a8b-9c0d-1e2f3a4b5c6d"`

	Gain   operator.Input[float64]   `input:"2a3b4c5d-6e7f-4a8b-9c0d-000000000001"`
	Result *operator.Output[float64] `output:"2a3b4c5d-6e7f-4a8b-9c0d-000000000002"`
}

type sumOp struct {
	operator.Instance `guid:"8c7b6a59-4d3e-4f2a-b1c0-d9e8f7a6b5c4"`

	Values *operator.MultiInput[float64] `input:"8c7b6a59-4d3e-4f2a-b1c0-000000000001"`
	Sum    *operator.Output[float64]     `output:"8c7b6a59-4d3e-4f2a-b1c0-000000000002"`
}

type passOp[T any] struct {
	operator.Instance `guid:"3e4f5a6b-7c8d-4e9f-a0b1-c2d3e4f5a6b7"`

	In    *operator.Input[T]      `input:"3e4f5a6b-7c8d-4e9f-a0b1-000000000001"`
	Count *operator.Input[int]    `input:"3e4f5a6b-7c8d-4e9f-a0b1-000000000002"`
	Out   *operator.Output[T]     `output:"3e4f5a6b-7c8d-4e9f-a0b1-000000000003"`
	Items *operator.Output[[]int] `output:"3e4f5a6b-7c8d-4e9f-a0b1-000000000004"`
}

type scaleOp[T any] struct {
	operator.Instance `guid:"0c8f1f8e-6a55-4d8e-9a4e-3f0b0d2f4c11"`

	In *operator.Input[T] `input:"0c8f1f8e-6a55-4d8e-9a4e-000000000001"`
}

type textOp struct {
	operator.Instance `guid:"6d5c4b3a-2918-4776-a5b4-c3d2e1f0a9b8"`
	operator.ExtractsInput[string]
	operator.DescriptiveFileName

	Text *operator.Output[string] `output:"6d5c4b3a-2918-4776-a5b4-000000000001"`
}

type shareSettings struct{}

func (shareSettings) ShouldShareResources() bool { return true }

type declineSettings struct{}

func (declineSettings) ShouldShareResources() bool { return false }

type brokenSettings struct{}

func (brokenSettings) ShouldShareResources() bool { return true }

type helper struct {
	Name string
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fixture struct {
	t       testing.TB
	root    string
	catalog *loadscope.Catalog
	opts    *Options
	logs    *lockedBuffer
	log     *logger.Logger
}

func newFixture(t testing.TB) *fixture {
	t.Helper()

	catalog := loadscope.NewCatalog()
	logs := &lockedBuffer{}
	log, err := logger.New(logger.Options{Level: "debug", Writer: logs})
	require.NoError(t, err)

	return &fixture{
		t:       t,
		root:    t.TempDir(),
		catalog: catalog,
		opts: &Options{
			Opener:  catalog,
			Workers: 4,
			Metrics: metrics.New(prometheus.NewRegistry()),
		},
		logs: logs,
		log:  log,
	}
}

// install registers mod in the catalog and writes its binary into a
// directory of its own.
func (f *fixture) install(mod *operator.Module) string {
	f.t.Helper()
	require.NoError(f.t, f.catalog.Add(mod.Name, mod))
	return f.writeBinary(mod.Name)
}

// register adds mod to the catalog without creating its binary.
func (f *fixture) register(mod *operator.Module) {
	f.t.Helper()
	require.NoError(f.t, f.catalog.Add(mod.Name, mod))
}

func (f *fixture) writeBinary(name string) string {
	f.t.Helper()
	dir := filepath.Join(f.root, name)
	require.NoError(f.t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name+loadscope.BinaryExt)
	require.NoError(f.t, os.WriteFile(path, []byte("module binary"), 0o644))
	return path
}

func (f *fixture) writeManifest(name, version string, editorOnly bool, deps ...manifest.Reference) {
	f.t.Helper()
	dir := filepath.Join(f.root, name)
	require.NoError(f.t, os.MkdirAll(dir, 0o755))
	require.NoError(f.t, manifest.Write(dir, &manifest.ReleaseInfo{
		Name:         name,
		Version:      version,
		EditorOnly:   editorOnly,
		Dependencies: deps,
	}))
}

func (f *fixture) descriptor(path string) *Descriptor {
	return New(path, false, f.opts, f.log)
}

func errorsOfType[T error](err error) []T {
	var out []T
	for _, e := range flatten(err) {
		var target T
		if errors.As(e, &target) {
			out = append(out, target)
		}
	}
	return out
}

func flatten(err error) []error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}
		return out
	}
	return []error{err}
}
