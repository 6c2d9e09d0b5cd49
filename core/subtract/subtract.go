// Package subtract computes the difference between two readings of a counters struct.
package subtract

import (
	"reflect"
)

// Sub returns curr minus prev, field by field.
//
// A struct type with a `func (T) Sub(T) T` method is subtracted with that method.
// Otherwise, exported integer fields are subtracted, nested structs and arrays are visited recursively,
// and every other field is left as the zero value.
// A field tagged `subtract:"-"` is skipped.
func Sub[T any](curr, prev T) T {
	return sub(reflect.ValueOf(curr), reflect.ValueOf(prev)).Interface().(T)
}

func sub(currV, prevV reflect.Value) reflect.Value {
	typ := currV.Type()
	if m, ok := typ.MethodByName("Sub"); ok && m.Type.NumIn() == 2 && m.Type.NumOut() == 1 &&
		m.Type.In(1) == typ && m.Type.Out(0) == typ {
		return m.Func.Call([]reflect.Value{currV, prevV})[0]
	}

	diffV := reflect.New(typ).Elem()
	switch typ.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		diffV.SetUint(currV.Uint() - prevV.Uint())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		diffV.SetInt(currV.Int() - prevV.Int())
	case reflect.Array:
		for i := range currV.Len() {
			diffV.Index(i).Set(sub(currV.Index(i), prevV.Index(i)))
		}
	case reflect.Struct:
		for _, field := range reflect.VisibleFields(typ) {
			if !field.IsExported() || field.Anonymous || field.Tag.Get("subtract") == "-" {
				continue
			}
			diffV.FieldByIndex(field.Index).Set(sub(currV.FieldByIndex(field.Index), prevV.FieldByIndex(field.Index)))
		}
	}
	return diffV
}
