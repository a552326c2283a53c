package connector

import (
	"fmt"
	"reflect"
	"time"
)

// assignScan copies a driver-produced value into a Scan destination
// pointer. Both pgx and database/sql already decode into Go's native
// types (int64, string, bool, time.Time, []byte, nil) before this point;
// this only has to bridge "whatever the driver gave us" to "whatever the
// caller's pointer type is", the same job database/sql.Rows.Scan does
// internally for simple types.
func assignScan(dest any, src any) error {
	switch d := dest.(type) {
	case *int64:
		v, err := toInt64(src)
		if err != nil {
			return err
		}
		*d = v
		return nil
	case *int:
		v, err := toInt64(src)
		if err != nil {
			return err
		}
		*d = int(v)
		return nil
	case *string:
		v, ok := src.(string)
		if !ok && src != nil {
			return fmt.Errorf("doze: cannot scan %T into *string", src)
		}
		*d = v
		return nil
	case **string:
		if src == nil {
			*d = nil
			return nil
		}
		v, ok := src.(string)
		if !ok {
			return fmt.Errorf("doze: cannot scan %T into **string", src)
		}
		*d = &v
		return nil
	case *bool:
		v, ok := src.(bool)
		if !ok && src != nil {
			return fmt.Errorf("doze: cannot scan %T into *bool", src)
		}
		*d = v
		return nil
	case *time.Time:
		if src == nil {
			*d = time.Time{}
			return nil
		}
		v, ok := src.(time.Time)
		if !ok {
			return fmt.Errorf("doze: cannot scan %T into *time.Time", src)
		}
		*d = v
		return nil
	case **time.Time:
		if src == nil {
			*d = nil
			return nil
		}
		v, ok := src.(time.Time)
		if !ok {
			return fmt.Errorf("doze: cannot scan %T into **time.Time", src)
		}
		*d = &v
		return nil
	case *[]byte:
		if src == nil {
			*d = nil
			return nil
		}
		v, ok := src.([]byte)
		if !ok {
			return fmt.Errorf("doze: cannot scan %T into *[]byte", src)
		}
		*d = v
		return nil
	default:
		return assignReflect(dest, src)
	}
}

func toInt64(src any) (int64, error) {
	switch v := src.(type) {
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case int:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("doze: cannot scan %T into integer", src)
	}
}

// assignReflect handles named types over the above primitives (e.g.
// doze.Status, doze.EventType) via reflection, since a type switch can't
// enumerate every caller-defined string/int alias.
func assignReflect(dest any, src any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("doze: scan destination must be a non-nil pointer, got %T", dest)
	}
	elem := rv.Elem()
	if src == nil {
		elem.Set(reflect.Zero(elem.Type()))
		return nil
	}
	sv := reflect.ValueOf(src)
	if sv.Type().ConvertibleTo(elem.Type()) {
		elem.Set(sv.Convert(elem.Type()))
		return nil
	}
	if elem.Kind() == reflect.Ptr && sv.Type().ConvertibleTo(elem.Type().Elem()) {
		converted := reflect.New(elem.Type().Elem())
		converted.Elem().Set(sv.Convert(elem.Type().Elem()))
		elem.Set(converted)
		return nil
	}
	return fmt.Errorf("doze: cannot scan %T into %T", src, dest)
}
