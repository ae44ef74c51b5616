// Package module loads operator modules and keeps the metadata of their
// operator types.
//
// A Descriptor is created for every module binary found on disk. The first
// metadata request loads the binary through a load scope, walks its exported
// types and builds an identity keyed registry of operator records. Unload
// drops that state and, when the descriptor owns the scope, tears the scope
// down. Extension modules share the scope of the module they extend through
// ReplaceResolversOf so type identity stays consistent across both.
package module

import (
	"errors"
	"iter"
	"path/filepath"
	"reflect"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/alexisbeaulieu97/opreg/internal/loadscope"
	"github.com/alexisbeaulieu97/opreg/internal/logger"
	"github.com/alexisbeaulieu97/opreg/internal/manifest"
	"github.com/alexisbeaulieu97/opreg/internal/metrics"
	"github.com/alexisbeaulieu97/opreg/internal/typeinfo"
	"github.com/alexisbeaulieu97/opreg/pkg/operator"
)

// Descriptor tracks one module binary and the operator types it exports.
type Descriptor struct {
	name       string
	path       string
	directory  string
	editorOnly bool

	opts    *Options
	log     *logger.Logger
	metrics *metrics.Recorder

	mu         sync.Mutex
	scope      *loadscope.Scope
	ownsScope  bool
	image      *loadscope.Image
	loaded     bool
	types      []reflect.Type
	registry   *typeinfo.Registry
	namespaces *typeinfo.NamespaceSet
	share      bool
	lastErrs   error
}

// New creates a descriptor for the module binary at path. Nothing is loaded
// until metadata is requested.
func New(path string, editorOnly bool, opts *Options, log *logger.Logger) *Descriptor {
	if opts == nil {
		opts = DefaultOptions()
	}
	if log == nil {
		log = logger.Nop()
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	name := loadscope.BinaryName(abs)

	return &Descriptor{
		name:       name,
		path:       abs,
		directory:  filepath.Dir(abs),
		editorOnly: editorOnly,
		opts:       opts,
		log:        log.With("module", name),
		metrics:    opts.recorder(),
		ownsScope:  true,
		registry:   typeinfo.NewRegistry(),
		namespaces: typeinfo.NewNamespaceSet(),
	}
}

// Name returns the module name derived from the binary.
func (d *Descriptor) Name() string { return d.name }

// Path returns the absolute binary path.
func (d *Descriptor) Path() string { return d.path }

// Directory returns the directory holding the binary and its manifest.
func (d *Descriptor) Directory() string { return d.directory }

// IsEditorOnly reports whether the module only extends the editor.
func (d *Descriptor) IsEditorOnly() bool { return d.editorOnly }

// OwnsLoadScope reports whether this descriptor is responsible for tearing
// its load scope down. It turns false once another descriptor's scope is
// adopted and never turns back.
func (d *Descriptor) OwnsLoadScope() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ownsScope
}

// Scope returns the current load scope, or nil when none was created yet.
func (d *Descriptor) Scope() *loadscope.Scope {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.scope
}

// Loaded reports whether the types of the current load cycle are available.
func (d *Descriptor) Loaded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loaded
}

// LastLoadErrors returns the per-type extraction errors of the last load.
func (d *Descriptor) LastLoadErrors() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErrs
}

// ShouldShareResources reports whether a non-operator type of the module
// opted into resource sharing. Loads the module when needed.
func (d *Descriptor) ShouldShareResources() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tryLoadTypesLocked()
	return d.share
}

// OperatorTypes returns a snapshot of the operator registry. Loads the module
// when needed; a module that failed to load has no operator types.
func (d *Descriptor) OperatorTypes() map[uuid.UUID]*typeinfo.OperatorTypeRecord {
	return d.loadedRegistry().Snapshot()
}

// OperatorType looks up one operator record by identity.
func (d *Descriptor) OperatorType(id uuid.UUID) (*typeinfo.OperatorTypeRecord, bool) {
	return d.loadedRegistry().Get(id)
}

// Namespaces returns the sorted package paths observed among the module's
// types.
func (d *Descriptor) Namespaces() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tryLoadTypesLocked()
	return d.namespaces.List()
}

func (d *Descriptor) loadedRegistry() *typeinfo.Registry {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.tryLoadTypesLocked()
	return d.registry
}

// TryLoadTypes loads the module and builds its operator registry. It returns
// false when the binary cannot be opened or its types cannot be enumerated;
// the module then stays inert until the problem is fixed and it is loaded
// again. Calling it after a successful load is a no-op.
func (d *Descriptor) TryLoadTypes() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tryLoadTypesLocked()
}

func (d *Descriptor) tryLoadTypesLocked() bool {
	// Types loaded through a scope its owner tore down are dangling.
	if d.scope != nil && d.scope.Closed() {
		d.resetLocked()
	}
	if d.loaded {
		return true
	}

	done := d.metrics.StartLoad(d.name)

	img, err := d.imageLocked()
	if err != nil {
		d.log.Error(err, "failed to load module binary")
		d.resetLocked()
		done(false, 0)
		return false
	}

	types, err := img.Types()
	if err != nil {
		d.log.Error(err, "failed to enumerate module types")
		d.resetLocked()
		done(false, 0)
		return false
	}

	registry := typeinfo.NewRegistry()
	namespaces := typeinfo.NewNamespaceSet()
	operators, others := lo.FilterReject(types, func(t reflect.Type, _ int) bool {
		return isOperatorType(t)
	})

	errs := d.extractOperatorTypes(img, operators, registry, namespaces)
	for _, t := range others {
		namespaces.Add(t.PkgPath())
	}
	share := d.probeResourceSharing(img, others)

	d.types = types
	d.registry = registry
	d.namespaces = namespaces
	d.share = share
	d.lastErrs = errs
	d.loaded = true

	done(true, registry.Len())
	d.log.WithFields(map[string]any{
		"operators": registry.Len(),
		"types":     len(types),
		"rejected":  len(multierr.Errors(errs)),
	}).Info("module types loaded")
	return true
}

func (d *Descriptor) extractOperatorTypes(img *loadscope.Image, operators []reflect.Type, registry *typeinfo.Registry, namespaces *typeinfo.NamespaceSet) error {
	var (
		errMu sync.Mutex
		errs  error
		group errgroup.Group
	)
	group.SetLimit(d.opts.workers())

	for _, t := range operators {
		group.Go(func() error {
			namespaces.Add(t.PkgPath())
			if err := d.setUpOperatorType(img, t, registry); err != nil {
				errMu.Lock()
				errs = multierr.Append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return errs
}

// probeResourceSharing constructs every resource sharing candidate and ORs
// their opt-in flags. Candidates that cannot be constructed do not opt in.
func (d *Descriptor) probeResourceSharing(img *loadscope.Image, candidates []reflect.Type) bool {
	share := false
	for _, t := range candidates {
		if !implementsAny(t, resourceSharerType) {
			continue
		}

		log := d.log.With("type", t.String())
		v, err := img.New(loadscope.QualifiedName(t))
		if err != nil {
			log.Error(err, "failed to construct resource sharing candidate; treating it as not opting in")
			continue
		}
		sharer, ok := v.(operator.ResourceSharer)
		if !ok {
			log.Warn("constructed resource sharing candidate does not expose its opt-in flag; treating it as not opting in")
			continue
		}
		if askShare(sharer, log) {
			share = true
		}
	}
	return share
}

func askShare(sharer operator.ResourceSharer, log *logger.Logger) (share bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn("resource sharing query panicked; treating it as not opting in")
			share = false
		}
	}()
	return sharer.ShouldShareResources()
}

// imageLocked returns the module image, creating the scope for an owner that
// has none yet.
func (d *Descriptor) imageLocked() (*loadscope.Image, error) {
	if d.scope != nil && d.scope.Closed() {
		d.image = nil
		return nil, loadscope.ErrScopeClosed
	}
	if d.image != nil {
		return d.image, nil
	}

	scope, err := d.scopeLocked()
	if err != nil {
		return nil, err
	}
	img, err := scope.Load(d.path)
	if err != nil {
		return nil, err
	}
	d.image = img
	return img, nil
}

func (d *Descriptor) scopeLocked() (*loadscope.Scope, error) {
	if d.scope != nil {
		return d.scope, nil
	}
	if !d.ownsScope {
		return nil, ErrScopeReleased
	}
	d.scope = loadscope.New(d.path, d.opts.opener())
	return d.scope, nil
}

func (d *Descriptor) resetLocked() {
	d.image = nil
	d.loaded = false
	d.types = nil
	d.registry = typeinfo.NewRegistry()
	d.namespaces = typeinfo.NewNamespaceSet()
	d.share = false
	d.lastErrs = nil
}

// TypesInheritingFrom yields every module type implementing the interface
// capability or embedding the struct capability. The module is loaded when
// the sequence is first iterated; nothing is yielded if loading fails.
func (d *Descriptor) TypesInheritingFrom(capability reflect.Type) iter.Seq[reflect.Type] {
	return func(yield func(reflect.Type) bool) {
		if capability == nil {
			return
		}

		d.mu.Lock()
		ok := d.tryLoadTypesLocked()
		types := d.types
		d.mu.Unlock()
		if !ok {
			return
		}

		for _, t := range types {
			if inheritsFrom(t, capability) && !yield(t) {
				return
			}
		}
	}
}

// Unload clears the registry and drops the loaded binary. The load scope is
// torn down only when this descriptor owns it; an adopted scope is merely
// released.
func (d *Descriptor) Unload() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.resetLocked()
	d.metrics.Unloaded(d.name)

	if d.scope == nil {
		return
	}
	if d.ownsScope {
		if err := d.scope.Close(); err != nil && !errors.Is(err, loadscope.ErrScopeClosed) {
			d.log.Error(err, "load scope teardown reported errors")
		}
		d.metrics.ScopeTornDown()
		d.log.Debug("load scope torn down")
	} else {
		d.log.Debug("released shared load scope")
	}
	d.scope = nil
}

// CreateInstance constructs the type with the given fully qualified name
// through the module's binary.
func (d *Descriptor) CreateInstance(typeName string) (any, error) {
	d.mu.Lock()
	img, err := d.imageLocked()
	d.mu.Unlock()
	if err != nil {
		d.log.Error(err, "failed to load module binary for instantiation")
		return nil, err
	}

	log := d.log.With("type", typeName)
	if _, ok := img.Lookup(typeName); !ok {
		err := loadscope.ErrTypeNotFound{Module: d.name, Type: typeName}
		log.Warn("type is not exported by the module")
		return nil, err
	}

	v, err := img.New(typeName)
	if err != nil {
		log.Error(err, "failed to create instance")
		return nil, err
	}
	return v, nil
}

// TryGetReleaseInfo reads the module manifest. When the binary is loaded and
// its version differs from the declared one a warning is logged.
func (d *Descriptor) TryGetReleaseInfo() (*manifest.ReleaseInfo, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	info, err := manifest.Read(d.directory)
	if err != nil {
		d.log.Debug("no usable package manifest: " + err.Error())
		return nil, false
	}

	if d.image != nil && !manifest.SameVersion(info.Version, d.image.Version()) {
		d.log.WithFields(map[string]any{
			"manifestVersion": info.Version,
			"binaryVersion":   d.image.Version(),
		}).Warn("package manifest version does not match the loaded binary")
	}
	return info, true
}
