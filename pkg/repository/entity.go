package repository

import (
	"fmt"
	"reflect"

	"github.com/ammar0144/persist4go/pkg/entity"
)

// Entity is the constraint on repository type parameters
type Entity = entity.Entity

// newModel creates an empty T suitable for calling Entity methods. T is
// normally a pointer to a struct; a nil pointer would not do.
func newModel[T Entity]() (T, error) {
	var zero T
	entityType := reflect.TypeOf((*T)(nil)).Elem()

	var model interface{}
	if entityType.Kind() == reflect.Ptr {
		model = reflect.New(entityType.Elem()).Interface()
	} else {
		model = reflect.New(entityType).Elem().Interface()
	}

	ent, ok := model.(T)
	if !ok {
		return zero, fmt.Errorf("entity type %v cannot be instantiated", entityType)
	}
	return ent, nil
}

// cast converts engine results to T
func cast[T Entity](items []entity.Entity) ([]T, error) {
	out := make([]T, 0, len(items))
	for _, item := range items {
		v, ok := item.(T)
		if !ok {
			var zero T
			return nil, fmt.Errorf("result %T is not a %T", item, zero)
		}
		out = append(out, v)
	}
	return out, nil
}
