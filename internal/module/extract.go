package module

import (
	"errors"
	"reflect"
	"strings"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/zclconf/go-cty/cty/gocty"
	"go.uber.org/multierr"

	"github.com/alexisbeaulieu97/opreg/internal/loadscope"
	"github.com/alexisbeaulieu97/opreg/internal/metrics"
	"github.com/alexisbeaulieu97/opreg/internal/typeinfo"
	"github.com/alexisbeaulieu97/opreg/pkg/operator"
)

// DynamicKind is the value kind reported for slot values without a fixed
// data shape.
const DynamicKind = "dynamic"

var (
	nodeType           = reflect.TypeFor[operator.Node]()
	instanceType       = reflect.TypeFor[operator.Instance]()
	slotType           = reflect.TypeFor[operator.Slot]()
	inputSlotType      = reflect.TypeFor[operator.InputSlot]()
	outputSlotType     = reflect.TypeFor[operator.OutputSlot]()
	extractableType    = reflect.TypeFor[operator.Extractable]()
	descriptiveType    = reflect.TypeFor[operator.DescriptiveFileNamer]()
	resourceSharerType = reflect.TypeFor[operator.ResourceSharer]()
	typeParameterType  = reflect.TypeFor[operator.TypeParameter]()

	operatorPkgPath = instanceType.PkgPath()

	placeholderNames = placeholderNameSet(
		reflect.TypeFor[operator.T0](),
		reflect.TypeFor[operator.T1](),
		reflect.TypeFor[operator.T2](),
		reflect.TypeFor[operator.T3](),
	)
)

// setUpOperatorType extracts the record of one operator type and inserts it
// into registry. Field level problems are returned alongside a successful
// registration; identity problems reject the whole type.
func (d *Descriptor) setUpOperatorType(img *loadscope.Image, t reflect.Type, registry *typeinfo.Registry) (err error) {
	log := d.log.With("type", t.String())

	defer func() {
		if r := recover(); r != nil {
			err = ErrExtractionPanic{Type: t.String(), Value: r}
			log.Error(err, "operator type extraction failed")
			d.metrics.Rejected(d.name, metrics.ReasonPanic)
		}
	}()

	id, err := extractIdentity(t)
	if err != nil {
		log.Error(err, "rejected operator type")
		d.metrics.Rejected(d.name, metrics.ReasonIdentity)
		return err
	}

	spec, _ := img.Spec(t)
	args, open := openGenericArguments(t)
	rec := &typeinfo.OperatorTypeRecord{
		Type:         t,
		TypeIdentity: id,
		IsGeneric:    open,
		MemberNames:  memberNames(t, spec),
	}

	var errs error
	for _, member := range spec.Shared {
		if member.Value == nil || !implementsAny(reflect.TypeOf(member.Value), slotType) {
			continue
		}
		slotErr := ErrStaticSlot{Type: t.String(), Slot: member.Name}
		log.Error(slotErr, "rejected slot")
		d.metrics.Rejected(d.name, metrics.ReasonStaticSlot)
		errs = multierr.Append(errs, slotErr)
	}

	for i := range t.NumField() {
		field := t.Field(i)
		if field.Anonymous || !implementsAny(field.Type, slotType) {
			continue
		}

		slotLog := log.With("slot", field.Name)
		isInput := implementsAny(field.Type, inputSlotType)
		if !isInput && !implementsAny(field.Type, outputSlotType) {
			slotLog.Warn("slot field is neither an input nor an output; skipping")
			continue
		}
		if field.Type.Kind() != reflect.Pointer {
			slotLog.Warn("slot field is held by value and is copied with the operator; declare it as a pointer")
		}

		slot, slotErr := describeSlot(t, field, isInput, args, open)
		if slotErr != nil {
			slotLog.Error(slotErr, "rejected slot")
			d.metrics.Rejected(d.name, metrics.ReasonAnnotation)
			errs = multierr.Append(errs, slotErr)
			continue
		}

		if isInput {
			rec.Inputs = append(rec.Inputs, slot)
		} else {
			rec.Outputs = append(rec.Outputs, slot)
		}
	}

	if implementsAny(t, extractableType) {
		if ex, ok := reflect.New(t).Interface().(operator.Extractable); ok {
			rec.IsExtractable = true
			rec.ExtractableType = ex.ExtractableValueType()
		}
	}
	rec.IsDescriptiveFileNameType = implementsAny(t, descriptiveType)

	if existing, ok := registry.TryAdd(rec); !ok {
		dupErr := ErrDuplicateIdentity{ID: id, Type: t.String(), Existing: existing.Type.String()}
		log.Error(dupErr, "rejected operator type")
		d.metrics.Rejected(d.name, metrics.ReasonDuplicate)
		return multierr.Append(errs, dupErr)
	}
	return errs
}

func describeSlot(owner reflect.Type, field reflect.StructField, isInput bool, args []string, open bool) (typeinfo.SlotDescriptor, error) {
	valueType := slotValueType(field.Type)
	slot := typeinfo.SlotDescriptor{
		Name:                  field.Name,
		GenericParameterIndex: -1,
		ValueType:             valueType,
		ValueKind:             valueKind(valueType),
	}
	if open {
		slot.GenericParameterIndex = genericIndex(valueType, args)
	}

	key := operator.OutputTag
	if isInput {
		key = operator.InputTag
		slot.IsMultiInput = isMultiInput(field.Type)
	}

	raw, ok := field.Tag.Lookup(key)
	if !ok {
		if isInput {
			return slot, ErrMissingPortAnnotation{Type: owner.String(), Slot: field.Name}
		}
		return slot, nil
	}

	attr, err := typeinfo.ParsePortAttribute(raw)
	if err != nil {
		return slot, ErrInvalidPortAnnotation{Type: owner.String(), Slot: field.Name, Err: err}
	}
	slot.Attribute = attr
	return slot, nil
}

// extractIdentity reads the single guid tag among the type's own fields.
func extractIdentity(t reflect.Type) (uuid.UUID, error) {
	var values []string
	for i := range t.NumField() {
		if value, ok := t.Field(i).Tag.Lookup(operator.IdentityTag); ok {
			values = append(values, value)
		}
	}
	if len(values) != 1 {
		return uuid.Nil, ErrMissingIdentity{Type: t.String(), Count: len(values)}
	}

	id, err := uuid.Parse(strings.TrimSpace(values[0]))
	if err != nil {
		return uuid.Nil, ErrInvalidIdentity{Type: t.String(), Value: values[0], Err: err}
	}
	if id == uuid.Nil {
		return uuid.Nil, ErrInvalidIdentity{Type: t.String(), Value: values[0], Err: errors.New("identity must not be the nil UUID")}
	}
	return id, nil
}

func isOperatorType(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t != instanceType && implementsAny(t, nodeType)
}

// implementsAny reports whether t or *t implements iface.
func implementsAny(t, iface reflect.Type) bool {
	if t.Implements(iface) {
		return true
	}
	return t.Kind() != reflect.Pointer && t.Kind() != reflect.Interface && reflect.PointerTo(t).Implements(iface)
}

// inheritsFrom reports whether t satisfies the interface capability or embeds
// the struct capability, directly or transitively.
func inheritsFrom(t, capability reflect.Type) bool {
	if t == capability {
		return false
	}
	if capability.Kind() == reflect.Interface {
		return implementsAny(t, capability)
	}
	return embeds(t, capability, make(map[reflect.Type]bool))
}

func embeds(t, target reflect.Type, seen map[reflect.Type]bool) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct || seen[t] {
		return false
	}
	seen[t] = true

	for i := range t.NumField() {
		field := t.Field(i)
		if !field.Anonymous {
			continue
		}
		embedded := field.Type
		if embedded.Kind() == reflect.Pointer {
			embedded = embedded.Elem()
		}
		if embedded == target || embeds(embedded, target, seen) {
			return true
		}
	}
	return false
}

func slotValueType(t reflect.Type) reflect.Type {
	elem := t
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	ptr := reflect.New(elem)
	if slot, ok := ptr.Elem().Interface().(operator.Slot); ok {
		return slot.SlotValueType()
	}
	if slot, ok := ptr.Interface().(operator.Slot); ok {
		return slot.SlotValueType()
	}
	return nil
}

func isMultiInput(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.PkgPath() == operatorPkgPath && strings.HasPrefix(t.Name(), "MultiInput[")
}

// valueKind names the data shape of a slot value using cty's type system.
func valueKind(t reflect.Type) (kind string) {
	if t == nil || t.Kind() == reflect.Interface || implementsAny(t, typeParameterType) {
		return DynamicKind
	}

	defer func() {
		if recover() != nil {
			kind = DynamicKind
		}
	}()

	ty, err := gocty.ImpliedType(reflect.Zero(t).Interface())
	if err != nil {
		return DynamicKind
	}
	return ty.FriendlyName()
}

// openGenericArguments returns the type arguments of an instantiated generic
// type and whether every one of them is a placeholder.
func openGenericArguments(t reflect.Type) ([]string, bool) {
	name := t.Name()
	start := strings.IndexByte(name, '[')
	if start < 0 || !strings.HasSuffix(name, "]") {
		return nil, false
	}

	args := splitTypeArguments(name[start+1 : len(name)-1])
	if len(args) == 0 {
		return nil, false
	}
	open := lo.EveryBy(args, func(arg string) bool {
		_, ok := placeholderNames[arg]
		return ok
	})
	return args, open
}

func splitTypeArguments(list string) []string {
	var args []string
	depth, start := 0, 0
	for i, r := range list {
		switch r {
		case '[':
			depth++
		case ']':
			depth--
		case ',':
			if depth == 0 {
				args = append(args, strings.TrimSpace(list[start:i]))
				start = i + 1
			}
		}
	}
	if rest := strings.TrimSpace(list[start:]); rest != "" {
		args = append(args, rest)
	}
	return args
}

func genericIndex(valueType reflect.Type, args []string) int {
	if valueType == nil {
		return -1
	}
	if idx := lo.IndexOf(args, loadscope.QualifiedName(valueType)); idx >= 0 {
		return idx
	}
	return lo.IndexOf(args, valueType.String())
}

func placeholderNameSet(types ...reflect.Type) map[string]struct{} {
	names := make(map[string]struct{}, 2*len(types))
	for _, t := range types {
		names[loadscope.QualifiedName(t)] = struct{}{}
		names[t.String()] = struct{}{}
	}
	return names
}

// memberNames lists fields, shared members and methods of t without
// duplicates, in declaration order.
func memberNames(t reflect.Type, spec operator.TypeSpec) []string {
	var names []string
	seen := make(map[string]struct{})
	add := func(name string) {
		if name == "" || name == "_" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}

	for _, field := range reflect.VisibleFields(t) {
		if field.IsExported() {
			add(field.Name)
		}
	}
	for _, member := range spec.Shared {
		add(member.Name)
	}
	ptr := reflect.PointerTo(t)
	for i := range ptr.NumMethod() {
		add(ptr.Method(i).Name)
	}
	return names
}
