package module

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"slices"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexisbeaulieu97/opreg/internal/loadscope"
	"github.com/alexisbeaulieu97/opreg/internal/manifest"
	"github.com/alexisbeaulieu97/opreg/internal/metrics"
	"github.com/alexisbeaulieu97/opreg/pkg/operator"
)

func TestTryLoadTypesSingleOperator(t *testing.T) {
	f := newFixture(t)
	path := f.install(operator.NewModule("lib.numbers", "1.0.0").Register(operator.Type[addOp]()))

	d := f.descriptor(path)
	require.True(t, d.TryLoadTypes())

	types := d.OperatorTypes()
	require.Len(t, types, 1)

	rec, ok := d.OperatorType(uuid.MustParse(addID))
	require.True(t, ok)
	require.Equal(t, reflect.TypeFor[addOp](), rec.Type)
	require.False(t, rec.IsGeneric)

	require.Len(t, rec.Inputs, 2)
	require.Len(t, rec.Outputs, 1)
	require.Equal(t, "A", rec.Inputs[0].Name)
	require.Equal(t, "B", rec.Inputs[1].Name)
	require.Equal(t, "Result", rec.Outputs[0].Name)

	b, ok := rec.Input("B")
	require.True(t, ok)
	require.Equal(t, uuid.MustParse("a1b2c3d4-0000-4000-8000-000000000002"), b.Attribute.ID)
	require.Equal(t, "Second", b.Attribute.Options["label"])
	require.Equal(t, -1, b.GenericParameterIndex)
	require.False(t, b.IsMultiInput)
	require.Equal(t, reflect.TypeFor[float64](), b.ValueType)
	require.Equal(t, "number", b.ValueKind)

	require.Contains(t, rec.MemberNames, "Instance")
	require.Contains(t, rec.MemberNames, "SymbolChildID")
	require.Contains(t, rec.MemberNames, "Update")
	require.Contains(t, rec.MemberNames, "OperatorInstance")

	require.Equal(t, []string{reflect.TypeFor[addOp]().PkgPath()}, d.Namespaces())
	require.NoError(t, d.LastLoadErrors())
	require.Equal(t, 1.0, testutil.ToFloat64(f.opts.Metrics.LoadCount("lib.numbers", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(f.opts.Metrics.OperatorTypes("lib.numbers")))
}

func TestTryLoadTypesIsIdempotent(t *testing.T) {
	f := newFixture(t)
	path := f.install(operator.NewModule("lib.numbers", "1.0.0").Register(operator.Type[addOp]()))

	d := f.descriptor(path)
	require.True(t, d.TryLoadTypes())
	first := d.OperatorTypes()
	require.True(t, d.TryLoadTypes())

	require.Equal(t, first, d.OperatorTypes())
	require.Equal(t, 1.0, testutil.ToFloat64(f.opts.Metrics.LoadCount("lib.numbers", "success")))
}

func TestOperatorTypesLoadsLazily(t *testing.T) {
	f := newFixture(t)
	path := f.install(operator.NewModule("lib.numbers", "1.0.0").Register(operator.Type[addOp]()))

	d := f.descriptor(path)
	require.False(t, d.Loaded())
	require.Nil(t, d.Scope())

	require.Len(t, d.OperatorTypes(), 1)
	require.True(t, d.Loaded())
	require.NotNil(t, d.Scope())
}

func TestDuplicateIdentityKeepsOneType(t *testing.T) {
	f := newFixture(t)
	path := f.install(operator.NewModule("lib.numbers", "1.0.0").Register(
		operator.Type[addOp](),
		operator.Type[plusOp](),
	))

	d := f.descriptor(path)
	require.True(t, d.TryLoadTypes())

	types := d.OperatorTypes()
	require.Len(t, types, 1)
	winner := types[uuid.MustParse(addID)].Type
	require.Contains(t, []reflect.Type{reflect.TypeFor[addOp](), reflect.TypeFor[plusOp]()}, winner)

	dups := errorsOfType[ErrDuplicateIdentity](d.LastLoadErrors())
	require.Len(t, dups, 1)
	require.Equal(t, uuid.MustParse(addID), dups[0].ID)
	require.NotEqual(t, dups[0].Type, dups[0].Existing)
	require.Equal(t, winner.String(), dups[0].Existing)

	require.Contains(t, f.logs.String(), "rejected operator type")
	require.Equal(t, 1.0, testutil.ToFloat64(f.opts.Metrics.RejectedCount("lib.numbers", metrics.ReasonDuplicate)))
}

func TestIdentityProblemsRejectOnlyThatType(t *testing.T) {
	f := newFixture(t)
	path := f.install(operator.NewModule("lib.numbers", "1.0.0").Register(
		operator.Type[noIdentityOp](),
		operator.Type[addOp](),
		operator.Type[twoIdentityOp](),
		operator.Type[badIdentityOp](),
		operator.Type[sumOp](),
	))

	d := f.descriptor(path)
	require.True(t, d.TryLoadTypes())

	types := d.OperatorTypes()
	require.Len(t, types, 2)
	for _, rec := range types {
		require.NotEqual(t, reflect.TypeFor[noIdentityOp](), rec.Type)
		require.NotEqual(t, reflect.TypeFor[twoIdentityOp](), rec.Type)
		require.NotEqual(t, reflect.TypeFor[badIdentityOp](), rec.Type)
	}

	missing := errorsOfType[ErrMissingIdentity](d.LastLoadErrors())
	require.Len(t, missing, 2)
	counts := []int{missing[0].Count, missing[1].Count}
	require.ElementsMatch(t, []int{0, 2}, counts)
	require.Len(t, errorsOfType[ErrInvalidIdentity](d.LastLoadErrors()), 1)
	require.Equal(t, 3.0, testutil.ToFloat64(f.opts.Metrics.RejectedCount("lib.numbers", metrics.ReasonIdentity)))
}

func TestSharedSlotIsRejected(t *testing.T) {
	f := newFixture(t)
	path := f.install(operator.NewModule("lib.numbers", "1.0.0").Register(
		operator.Type[triggerOp](
			operator.WithShared("Trigger", &operator.Output[int]{}),
			operator.WithShared("DefaultLabel", "trigger"),
		),
	))

	d := f.descriptor(path)
	require.True(t, d.TryLoadTypes())

	rec, ok := d.OperatorType(uuid.MustParse("4f1d2c3b-7a6e-4b5d-9c8f-0e1d2c3b4a59"))
	require.True(t, ok)
	require.Len(t, rec.Outputs, 1)
	require.Equal(t, "Result", rec.Outputs[0].Name)
	require.Empty(t, rec.Inputs)
	require.Contains(t, rec.MemberNames, "Trigger")
	require.Contains(t, rec.MemberNames, "DefaultLabel")

	static := errorsOfType[ErrStaticSlot](d.LastLoadErrors())
	require.Len(t, static, 1)
	require.Equal(t, "Trigger", static[0].Slot)
}

func TestInputWithoutAnnotationIsSkipped(t *testing.T) {
	f := newFixture(t)
	path := f.install(operator.NewModule("lib.text", "1.0.0").Register(operator.Type[unannotatedOp]()))

	d := f.descriptor(path)
	require.True(t, d.TryLoadTypes())

	rec, ok := d.OperatorType(uuid.MustParse("7b0e6d1c-3f2a-4c59-8e7d-6a5b4c3d2e1f"))
	require.True(t, ok)
	require.Empty(t, rec.Inputs)
	require.Len(t, rec.Outputs, 1)
	require.Equal(t, "Output", rec.Outputs[0].Name)
	require.Equal(t, uuid.Nil, rec.Outputs[0].Attribute.ID)

	missing := errorsOfType[ErrMissingPortAnnotation](d.LastLoadErrors())
	require.Len(t, missing, 1)
	require.Equal(t, "Input", missing[0].Slot)
}

func TestSlotHeldByValueWarns(t *testing.T) {
	f := newFixture(t)
	path := f.install(operator.NewModule("lib.numbers", "1.0.0").Register(operator.Type[gainOp]()))

	d := f.descriptor(path)
	require.True(t, d.TryLoadTypes())

	rec, ok := d.OperatorType(uuid.MustParse("2a3b4c5d-6e7f-4a8b-9c0d-1e2f3a4b5c6d"))
	require.True(t, ok)
	require.Len(t, rec.Inputs, 1)
	require.Equal(t, "Gain", rec.Inputs[0].Name)
	require.Contains(t, f.logs.String(), "held by value")
	require.NoError(t, d.LastLoadErrors())
}

func TestMultiInputAndGenericSlots(t *testing.T) {
	f := newFixture(t)
	path := f.install(operator.NewModule("lib.flow", "1.0.0").Register(
		operator.Type[sumOp](),
		operator.Type[passOp[operator.T0]](),
		operator.Type[scaleOp[float64]](),
	))

	d := f.descriptor(path)
	require.True(t, d.TryLoadTypes())
	require.Len(t, d.OperatorTypes(), 3)

	sum, ok := d.OperatorType(uuid.MustParse("8c7b6a59-4d3e-4f2a-b1c0-d9e8f7a6b5c4"))
	require.True(t, ok)
	values, ok := sum.Input("Values")
	require.True(t, ok)
	require.True(t, values.IsMultiInput)
	require.Equal(t, -1, values.GenericParameterIndex)

	pass, ok := d.OperatorType(uuid.MustParse("3e4f5a6b-7c8d-4e9f-a0b1-c2d3e4f5a6b7"))
	require.True(t, ok)
	require.True(t, pass.IsGeneric)
	in, _ := pass.Input("In")
	require.Equal(t, 0, in.GenericParameterIndex)
	require.Equal(t, DynamicKind, in.ValueKind)
	count, _ := pass.Input("Count")
	require.Equal(t, -1, count.GenericParameterIndex)
	out, _ := pass.Output("Out")
	require.Equal(t, 0, out.GenericParameterIndex)
	items, _ := pass.Output("Items")
	require.Equal(t, "list of number", items.ValueKind)

	scale, ok := d.OperatorType(uuid.MustParse(scaleID))
	require.True(t, ok)
	require.False(t, scale.IsGeneric)
	scaleIn, _ := scale.Input("In")
	require.Equal(t, -1, scaleIn.GenericParameterIndex)
}

func TestMarkerCapabilities(t *testing.T) {
	f := newFixture(t)
	path := f.install(operator.NewModule("lib.text", "1.0.0").Register(
		operator.Type[textOp](),
		operator.Type[addOp](),
	))

	d := f.descriptor(path)
	require.True(t, d.TryLoadTypes())

	text, ok := d.OperatorType(uuid.MustParse("6d5c4b3a-2918-4776-a5b4-c3d2e1f0a9b8"))
	require.True(t, ok)
	require.True(t, text.IsExtractable)
	require.Equal(t, reflect.TypeFor[string](), text.ExtractableType)
	require.True(t, text.IsDescriptiveFileNameType)

	add, ok := d.OperatorType(uuid.MustParse(addID))
	require.True(t, ok)
	require.False(t, add.IsExtractable)
	require.Nil(t, add.ExtractableType)
	require.False(t, add.IsDescriptiveFileNameType)
}

func TestResourceSharingProbe(t *testing.T) {
	failing := func() (any, error) { return nil, os.ErrPermission }

	tests := []struct {
		name  string
		specs []operator.TypeSpec
		want  bool
	}{
		{
			name:  "no candidates",
			specs: []operator.TypeSpec{operator.Type[addOp](), operator.Type[helper]()},
			want:  false,
		},
		{
			name:  "one opts in",
			specs: []operator.TypeSpec{operator.Type[declineSettings](), operator.Type[shareSettings]()},
			want:  true,
		},
		{
			name:  "construction failure does not opt in",
			specs: []operator.TypeSpec{operator.Type[brokenSettings](operator.WithConstructor(failing))},
			want:  false,
		},
		{
			name: "construction failure does not hide other candidates",
			specs: []operator.TypeSpec{
				operator.Type[brokenSettings](operator.WithConstructor(failing)),
				operator.Type[shareSettings](),
			},
			want: true,
		},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			name := "lib.share" + string(rune('a'+i))
			path := f.install(operator.NewModule(name, "1.0.0").Register(tt.specs...))

			d := f.descriptor(path)
			require.True(t, d.TryLoadTypes())
			require.Equal(t, tt.want, d.ShouldShareResources())
		})
	}
}

func TestLoadFailureResetsAndRecovers(t *testing.T) {
	f := newFixture(t)
	f.register(operator.NewModule("lib.core", "1.0.0").Register(operator.Type[helper]()))
	path := f.install(operator.NewModule("lib.ext", "1.0.0").
		Reference("lib.core").
		Register(operator.Type[addOp](), operator.Type[shareSettings]()))

	d := f.descriptor(path)
	require.False(t, d.TryLoadTypes())
	require.Empty(t, d.OperatorTypes())
	require.False(t, d.ShouldShareResources())
	require.Empty(t, d.Namespaces())
	require.False(t, d.Loaded())
	require.Contains(t, f.logs.String(), "failed to enumerate module types")

	// The missing reference appears beside the module.
	core := filepath.Join(d.Directory(), "lib.core"+loadscope.BinaryExt)
	require.NoError(t, os.WriteFile(core, []byte("module binary"), 0o644))

	require.True(t, d.TryLoadTypes())
	require.Len(t, d.OperatorTypes(), 1)
	require.True(t, d.ShouldShareResources())
}

func TestLoadFailureForMissingBinary(t *testing.T) {
	f := newFixture(t)
	f.register(operator.NewModule("lib.numbers", "1.0.0").Register(operator.Type[addOp]()))

	path := filepath.Join(f.root, "lib.numbers", "lib.numbers"+loadscope.BinaryExt)
	d := f.descriptor(path)
	require.False(t, d.TryLoadTypes())
	require.Empty(t, d.OperatorTypes())
	require.Equal(t, 0.0, testutil.ToFloat64(f.opts.Metrics.LoadCount("lib.numbers", "success")))

	f.writeBinary("lib.numbers")
	require.True(t, d.TryLoadTypes())
	require.Len(t, d.OperatorTypes(), 1)
}

func TestUnloadTearsDownOwnedScope(t *testing.T) {
	f := newFixture(t)
	teardowns := 0
	path := f.install(operator.NewModule("lib.numbers", "1.0.0").
		Register(operator.Type[addOp]()).
		OnTeardown(func() { teardowns++ }))

	d := f.descriptor(path)
	require.True(t, d.TryLoadTypes())
	scope := d.Scope()
	require.NotNil(t, scope)

	d.Unload()
	require.True(t, scope.Closed())
	require.Nil(t, d.Scope())
	require.False(t, d.Loaded())
	require.True(t, d.OwnsLoadScope())
	require.Equal(t, 1, teardowns)
	require.Equal(t, 1.0, testutil.ToFloat64(f.opts.Metrics.Teardowns()))

	// An owner reloads through a fresh scope.
	require.True(t, d.TryLoadTypes())
	require.NotSame(t, scope, d.Scope())
	require.Len(t, d.OperatorTypes(), 1)
}

func TestTypesInheritingFrom(t *testing.T) {
	f := newFixture(t)
	path := f.install(operator.NewModule("lib.text", "1.0.0").Register(
		operator.Type[addOp](),
		operator.Type[textOp](),
		operator.Type[shareSettings](),
		operator.Type[helper](),
	))

	d := f.descriptor(path)

	nodes := slices.Collect(d.TypesInheritingFrom(reflect.TypeFor[operator.Node]()))
	require.ElementsMatch(t, []reflect.Type{reflect.TypeFor[addOp](), reflect.TypeFor[textOp]()}, nodes)

	sharers := slices.Collect(d.TypesInheritingFrom(reflect.TypeFor[operator.ResourceSharer]()))
	require.Equal(t, []reflect.Type{reflect.TypeFor[shareSettings]()}, sharers)

	descriptive := slices.Collect(d.TypesInheritingFrom(reflect.TypeFor[operator.DescriptiveFileName]()))
	require.Equal(t, []reflect.Type{reflect.TypeFor[textOp]()}, descriptive)

	first := 0
	for range d.TypesInheritingFrom(reflect.TypeFor[operator.Node]()) {
		first++
		break
	}
	require.Equal(t, 1, first)
}

func TestTypesInheritingFromEmptyOnFailure(t *testing.T) {
	f := newFixture(t)
	d := f.descriptor(filepath.Join(f.root, "missing", "missing.so"))

	require.Empty(t, slices.Collect(d.TypesInheritingFrom(reflect.TypeFor[operator.Node]())))
}

func TestCreateInstance(t *testing.T) {
	f := newFixture(t)
	path := f.install(operator.NewModule("lib.numbers", "1.0.0").Register(
		operator.Type[addOp](operator.WithConstructor(func() (any, error) {
			return &addOp{
				A:      &operator.Input[float64]{Default: 2},
				B:      &operator.Input[float64]{Default: 3},
				Result: &operator.Output[float64]{},
			}, nil
		})),
		operator.Type[helper](),
	))

	d := f.descriptor(path)

	v, err := d.CreateInstance(loadscope.QualifiedName(reflect.TypeFor[addOp]()))
	require.NoError(t, err)
	add, ok := v.(*addOp)
	require.True(t, ok)
	add.Update()
	assert.Equal(t, 5.0, add.Result.Value)

	v, err = d.CreateInstance(loadscope.QualifiedName(reflect.TypeFor[helper]()))
	require.NoError(t, err)
	require.IsType(t, &helper{}, v)

	v, err = d.CreateInstance("example.com/unknown.Type")
	require.Error(t, err)
	require.Nil(t, v)
	var notFound loadscope.ErrTypeNotFound
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "example.com/unknown.Type", notFound.Type)
	require.Contains(t, f.logs.String(), "type is not exported by the module")
	require.NotContains(t, f.logs.String(), "failed to create instance")
}

func TestCreateInstanceReportsConstructorErrors(t *testing.T) {
	f := newFixture(t)
	path := f.install(operator.NewModule("lib.numbers", "1.0.0").Register(
		operator.Type[helper](operator.WithConstructor(func() (any, error) {
			return nil, errors.New("no default inputs")
		})),
	))

	d := f.descriptor(path)
	v, err := d.CreateInstance(loadscope.QualifiedName(reflect.TypeFor[helper]()))
	require.EqualError(t, err, "no default inputs")
	require.Nil(t, v)

	var notFound loadscope.ErrTypeNotFound
	require.False(t, errors.As(err, &notFound))
	require.Contains(t, f.logs.String(), "failed to create instance")
	require.NotContains(t, f.logs.String(), "type is not exported by the module")
}

func TestCreateInstanceRecoversPanics(t *testing.T) {
	f := newFixture(t)
	path := f.install(operator.NewModule("lib.numbers", "1.0.0").Register(
		operator.Type[helper](operator.WithConstructor(func() (any, error) {
			panic("boom")
		})),
	))

	d := f.descriptor(path)
	require.NotPanics(t, func() {
		v, err := d.CreateInstance(loadscope.QualifiedName(reflect.TypeFor[helper]()))
		require.Error(t, err)
		require.Nil(t, v)
	})
}

func TestTryGetReleaseInfo(t *testing.T) {
	f := newFixture(t)
	path := f.install(operator.NewModule("lib.numbers", "1.2.0").Register(operator.Type[addOp]()))

	d := f.descriptor(path)
	_, ok := d.TryGetReleaseInfo()
	require.False(t, ok)

	f.writeManifest("lib.numbers", "1.2.0", false)
	require.True(t, d.TryLoadTypes())
	info, ok := d.TryGetReleaseInfo()
	require.True(t, ok)
	require.Equal(t, "lib.numbers", info.Name)
	require.NotContains(t, f.logs.String(), "does not match")

	f.writeManifest("lib.numbers", "1.3.0", false, manifest.Reference{Identity: "lib.core"})
	info, ok = d.TryGetReleaseInfo()
	require.True(t, ok)
	require.Equal(t, "1.3.0", info.Version)
	require.Contains(t, f.logs.String(), "does not match the loaded binary")
}

func TestConcurrentQueries(t *testing.T) {
	f := newFixture(t)
	path := f.install(operator.NewModule("lib.flow", "1.0.0").Register(
		operator.Type[addOp](),
		operator.Type[sumOp](),
		operator.Type[textOp](),
	))

	d := f.descriptor(path)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Len(t, d.OperatorTypes(), 3)
			assert.NotEmpty(t, d.Namespaces())
		}()
	}
	wg.Wait()
	require.Equal(t, 1.0, testutil.ToFloat64(f.opts.Metrics.LoadCount("lib.flow", "success")))
}
