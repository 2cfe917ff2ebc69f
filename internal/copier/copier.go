// Package copier copies persisted object graphs. Each model declares which of
// its relations are copied along with it and which are shared with the copy.
package copier

import (
	"fmt"
	"reflect"

	"github.com/EarthModule/fairdata-metax-v3/internal/apperr"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

// Config lists relations by Go field name.
type Config struct {
	// CopiedRelations are copied recursively and linked to the copy.
	CopiedRelations []string
	// ParentRelations are linked to the copy without copying the related rows.
	ParentRelations []string
}

// Copyable is implemented by models the Engine knows how to copy.
type Copyable interface {
	CopyConfig() Config
}

// ReferenceData is implemented by models that are shared instead of copied.
type ReferenceData interface {
	IsReferenceData() bool
}

type model struct {
	schema  *schema.Schema
	copied  []*schema.Relationship
	parents []*schema.Relationship
}

// Engine copies models registered with New.
type Engine struct {
	db     *gorm.DB
	models map[reflect.Type]*model
}

// New validates the copy configuration of every model. Unknown relation names
// and parent relations that would require moving rows are rejected.
func New(db *gorm.DB, models ...Copyable) (*Engine, error) {
	e := &Engine{db: db, models: map[reflect.Type]*model{}}
	for _, m := range models {
		if err := e.register(m); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) register(m Copyable) error {
	typ := indirectType(reflect.TypeOf(m))
	sch, err := e.parse(typ)
	if err != nil {
		return err
	}

	cfg := m.CopyConfig()
	registered := &model{schema: sch}
	for _, name := range cfg.CopiedRelations {
		rel, ok := sch.Relationships.Relations[name]
		if !ok {
			return apperr.Config.New("%s has no relation %q", sch.Name, name)
		}
		registered.copied = append(registered.copied, rel)
	}
	for _, name := range cfg.ParentRelations {
		rel, ok := sch.Relationships.Relations[name]
		if !ok {
			return apperr.Config.New("%s has no relation %q", sch.Name, name)
		}
		if rel.Type == schema.HasOne || rel.Type == schema.HasMany {
			return apperr.Config.New("%s relation %q cannot be shared with a copy", sch.Name, name)
		}
		registered.parents = append(registered.parents, rel)
	}

	e.models[typ] = registered
	return nil
}

func (e *Engine) parse(typ reflect.Type) (*schema.Schema, error) {
	stmt := &gorm.Statement{DB: e.db}
	if err := stmt.Parse(reflect.New(typ).Interface()); err != nil {
		return nil, apperr.Config.New("failed to parse %s: %v", typ.Name(), err)
	}
	return stmt.Schema, nil
}

func (e *Engine) model(typ reflect.Type) (*model, error) {
	if m, ok := e.models[typ]; ok {
		return m, nil
	}
	sch, err := e.parse(typ)
	if err != nil {
		return nil, err
	}
	m := &model{schema: sch}
	e.models[typ] = m
	return m, nil
}

// Memo maps already copied rows to their copies so a row reachable through
// several relations is copied once.
type Memo map[string]reflect.Value

func memoKey(typ reflect.Type, id interface{}) string {
	return fmt.Sprintf("%s:%v", typ.String(), id)
}

// Copy copies original, a pointer to a persisted model, and returns a pointer
// to the copy. overrides set fields of the top level copy by Go field name.
// The whole graph is written inside one transaction.
func (e *Engine) Copy(tx *gorm.DB, original interface{}, overrides map[string]interface{}, memo Memo) (interface{}, error) {
	if memo == nil {
		memo = Memo{}
	}
	src := reflect.ValueOf(original)
	if src.Kind() != reflect.Ptr || src.Elem().Kind() != reflect.Struct {
		return nil, apperr.Config.New("copy requires a pointer to a struct, got %T", original)
	}

	var copied reflect.Value
	err := tx.Transaction(func(tx *gorm.DB) error {
		var err error
		copied, err = e.copyValue(tx, src, overrides, memo)
		return err
	})
	if err != nil {
		return nil, err
	}
	return copied.Interface(), nil
}

// CopyOf is a typed wrapper around Engine.Copy.
func CopyOf[T any](e *Engine, tx *gorm.DB, original *T, overrides map[string]interface{}) (*T, error) {
	copied, err := e.Copy(tx, original, overrides, nil)
	if err != nil {
		return nil, err
	}
	return copied.(*T), nil
}

func (e *Engine) copyValue(tx *gorm.DB, src reflect.Value, overrides map[string]interface{}, memo Memo) (reflect.Value, error) {
	if ref, ok := src.Interface().(ReferenceData); ok && ref.IsReferenceData() {
		return src, nil
	}

	typ := src.Elem().Type()
	m, err := e.model(typ)
	if err != nil {
		return reflect.Value{}, err
	}
	pk := m.schema.PrioritizedPrimaryField
	if pk == nil {
		return reflect.Value{}, apperr.Config.New("%s has no primary key", m.schema.Name)
	}

	key := memoKey(typ, src.Elem().FieldByName(pk.Name).Interface())
	if existing, ok := memo[key]; ok {
		if err := applyOverrides(existing, overrides); err != nil {
			return reflect.Value{}, err
		}
		if len(overrides) > 0 {
			if err := tx.Model(existing.Interface()).Updates(overrides).Error; err != nil {
				return reflect.Value{}, fmt.Errorf("failed to relink %s copy: %w", m.schema.Name, err)
			}
		}
		return existing, nil
	}

	dst := reflect.New(typ)
	dst.Elem().Set(src.Elem())
	if err := resetIdentity(dst, m.schema); err != nil {
		return reflect.Value{}, err
	}
	memo[key] = dst

	// Relations start out unset; copied and parent relations are linked below.
	for name, rel := range m.schema.Relationships.Relations {
		if !ownsRelation(m.schema, rel) || isListed(m, name) {
			continue
		}
		clearRelation(dst, rel)
	}
	if err := applyOverrides(dst, overrides); err != nil {
		return reflect.Value{}, err
	}

	// Rows referenced through a foreign key on this model must exist before it is created.
	for _, rel := range m.copied {
		if rel.Type != schema.BelongsTo {
			continue
		}
		related, err := loadOne(tx, src, rel)
		if err != nil {
			return reflect.Value{}, err
		}
		if !related.IsValid() {
			clearRelation(dst, rel)
			continue
		}
		relatedCopy, err := e.copyValue(tx, related, nil, memo)
		if err != nil {
			return reflect.Value{}, err
		}
		linkBelongsTo(dst, rel, relatedCopy)
	}

	if err := tx.Omit(clause.Associations).Create(dst.Interface()).Error; err != nil {
		return reflect.Value{}, fmt.Errorf("failed to create %s copy: %w", m.schema.Name, err)
	}

	for _, rel := range m.copied {
		var err error
		switch rel.Type {
		case schema.HasOne, schema.HasMany:
			err = e.copyChildren(tx, src, dst, rel, memo)
		case schema.Many2Many:
			err = e.copyMany2Many(tx, src, dst, rel, memo, true)
		}
		if err != nil {
			return reflect.Value{}, err
		}
	}
	for _, rel := range m.parents {
		if rel.Type == schema.Many2Many {
			if err := e.copyMany2Many(tx, src, dst, rel, memo, false); err != nil {
				return reflect.Value{}, err
			}
		}
	}
	return dst, nil
}

func (e *Engine) copyChildren(tx *gorm.DB, src, dst reflect.Value, rel *schema.Relationship, memo Memo) error {
	children, err := loadMany(tx, src, rel)
	if err != nil {
		return err
	}

	overrides := map[string]interface{}{}
	for _, ref := range rel.References {
		if ref.OwnPrimaryKey {
			overrides[ref.ForeignKey.Name] = dst.Elem().FieldByName(ref.PrimaryKey.Name).Interface()
		}
	}

	var copies []reflect.Value
	for _, child := range children {
		copied, err := e.copyValue(tx, child, overrides, memo)
		if err != nil {
			return err
		}
		copies = append(copies, copied)
	}
	setRelation(dst, rel, copies)
	return nil
}

func (e *Engine) copyMany2Many(tx *gorm.DB, src, dst reflect.Value, rel *schema.Relationship, memo Memo, copyRows bool) error {
	related, err := loadMany(tx, src, rel)
	if err != nil {
		return err
	}

	var linked []reflect.Value
	for _, item := range related {
		if copyRows {
			if item, err = e.copyValue(tx, item, nil, memo); err != nil {
				return err
			}
		}

		row := map[string]interface{}{}
		for _, ref := range rel.References {
			if ref.OwnPrimaryKey {
				row[ref.ForeignKey.DBName] = dst.Elem().FieldByName(ref.PrimaryKey.Name).Interface()
			} else {
				row[ref.ForeignKey.DBName] = item.Elem().FieldByName(ref.PrimaryKey.Name).Interface()
			}
		}
		if err := tx.Table(rel.JoinTable.Table).Create(row).Error; err != nil {
			return fmt.Errorf("failed to link %s: %w", rel.Name, err)
		}
		linked = append(linked, item)
	}
	setRelation(dst, rel, linked)
	return nil
}

// ownsRelation reports whether rel is declared by a field of sch. gorm also
// registers back-references of other models on a schema, for example the
// Actors of a DatasetActor reached from Provenance, and those have no field.
func ownsRelation(sch *schema.Schema, rel *schema.Relationship) bool {
	if rel.Field == nil || rel.Field.Schema == nil || rel.Field.Schema.ModelType != sch.ModelType {
		return false
	}
	_, ok := sch.ModelType.FieldByName(rel.Field.Name)
	return ok
}

func isListed(m *model, name string) bool {
	for _, rel := range m.copied {
		if rel.Name == name {
			return true
		}
	}
	for _, rel := range m.parents {
		if rel.Name == name {
			return true
		}
	}
	return false
}

func resetIdentity(dst reflect.Value, sch *schema.Schema) error {
	elem := dst.Elem()
	for _, field := range sch.PrimaryFields {
		value := elem.FieldByName(field.Name)
		if value.Type() == reflect.TypeOf(uuid.UUID{}) {
			value.Set(reflect.ValueOf(uuid.New()))
			continue
		}
		value.Set(reflect.Zero(value.Type()))
	}
	for _, name := range []string{"CreatedAt", "UpdatedAt", "DeletedAt"} {
		if value := elem.FieldByName(name); value.IsValid() && value.CanSet() {
			value.Set(reflect.Zero(value.Type()))
		}
	}
	return nil
}

func applyOverrides(dst reflect.Value, overrides map[string]interface{}) error {
	for name, v := range overrides {
		field := dst.Elem().FieldByName(name)
		if !field.IsValid() || !field.CanSet() {
			return apperr.Config.New("%s has no field %q", dst.Elem().Type().Name(), name)
		}
		if err := assign(field, reflect.ValueOf(v)); err != nil {
			return apperr.Config.New("%s.%s: %v", dst.Elem().Type().Name(), name, err)
		}
	}
	return nil
}

// assign sets field to v, converting between T and *T where needed.
func assign(field, v reflect.Value) error {
	if !v.IsValid() {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	switch {
	case v.Type().AssignableTo(field.Type()):
		field.Set(v)
	case field.Kind() == reflect.Ptr && v.Type().AssignableTo(field.Type().Elem()):
		ptr := reflect.New(field.Type().Elem())
		ptr.Elem().Set(v)
		field.Set(ptr)
	case v.Kind() == reflect.Ptr && v.Type().Elem().AssignableTo(field.Type()):
		if v.IsNil() {
			field.Set(reflect.Zero(field.Type()))
		} else {
			field.Set(v.Elem())
		}
	default:
		return fmt.Errorf("cannot assign %s to %s", v.Type(), field.Type())
	}
	return nil
}

func clearRelation(dst reflect.Value, rel *schema.Relationship) {
	field := dst.Elem().FieldByName(rel.Field.Name)
	if !field.IsValid() {
		return
	}
	field.Set(reflect.Zero(field.Type()))
	if rel.Type != schema.BelongsTo {
		return
	}
	for _, ref := range rel.References {
		if ref.OwnPrimaryKey {
			continue
		}
		fk := dst.Elem().FieldByName(ref.ForeignKey.Name)
		fk.Set(reflect.Zero(fk.Type()))
	}
}

func linkBelongsTo(dst reflect.Value, rel *schema.Relationship, related reflect.Value) {
	for _, ref := range rel.References {
		if ref.OwnPrimaryKey {
			continue
		}
		fk := dst.Elem().FieldByName(ref.ForeignKey.Name)
		_ = assign(fk, related.Elem().FieldByName(ref.PrimaryKey.Name))
	}
	setRelation(dst, rel, []reflect.Value{related})
}

// setRelation stores values, pointers to structs, in the relation field of dst.
func setRelation(dst reflect.Value, rel *schema.Relationship, values []reflect.Value) {
	field := dst.Elem().FieldByName(rel.Field.Name)
	fieldType := field.Type()

	if fieldType.Kind() != reflect.Slice {
		if len(values) == 0 {
			field.Set(reflect.Zero(fieldType))
			return
		}
		_ = assign(field, values[0])
		return
	}

	slice := reflect.MakeSlice(fieldType, 0, len(values))
	for _, v := range values {
		if fieldType.Elem().Kind() == reflect.Ptr {
			slice = reflect.Append(slice, v)
		} else {
			slice = reflect.Append(slice, v.Elem())
		}
	}
	field.Set(slice)
}

func loadOne(tx *gorm.DB, src reflect.Value, rel *schema.Relationship) (reflect.Value, error) {
	for _, ref := range rel.References {
		if !ref.OwnPrimaryKey && src.Elem().FieldByName(ref.ForeignKey.Name).IsZero() {
			return reflect.Value{}, nil
		}
	}

	related := reflect.New(rel.FieldSchema.ModelType)
	if err := tx.Model(src.Interface()).Association(rel.Name).Find(related.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("failed to load %s: %w", rel.Name, err)
	}
	pk := rel.FieldSchema.PrioritizedPrimaryField
	if pk == nil || related.Elem().FieldByName(pk.Name).IsZero() {
		return reflect.Value{}, nil
	}
	return related, nil
}

func loadMany(tx *gorm.DB, src reflect.Value, rel *schema.Relationship) ([]reflect.Value, error) {
	slice := reflect.New(reflect.SliceOf(reflect.PtrTo(rel.FieldSchema.ModelType)))
	if err := tx.Model(src.Interface()).Association(rel.Name).Find(slice.Interface()); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", rel.Name, err)
	}

	items := make([]reflect.Value, 0, slice.Elem().Len())
	for i := 0; i < slice.Elem().Len(); i++ {
		items = append(items, slice.Elem().Index(i))
	}
	return items, nil
}

func indirectType(typ reflect.Type) reflect.Type {
	for typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	return typ
}
