package endpoint

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// defaultFieldLimit is the maximum byte length of a single decoded value
// when no maxLength tag is present.
var defaultFieldLimit = 16 * 1024 // 16KB

// sources in precedence order.
var sources = []string{"path", "query", "header", "cookie"}

// Unmarshal populates dst (must be a non-nil pointer to a struct) from the request.
//
// Supported structtags:
//   - `path:"name"`   r.PathValue(name)
//   - `query:"name"`  r.URL.Query()
//   - `header:"name"` r.Header
//   - `cookie:"name"` r.Cookie(name)
//   - `query:"-"` (any source) to ignore the field entirely
//   - `maxLength:"n"` to set the maximum byte length for a field value;
//     `maxLength:"0"` disables the limit
//
// If the name is empty, it defaults to the struct field name lowercased.
// When multiple source tags are present, precedence is path, query, header,
// cookie. Fields without data are left unchanged.
//
// Supported field types are string, []string, bool and the signed integer types.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() != reflect.Struct {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}

	t := root.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" { // unexported
			continue
		}
		limit, err := fieldLengthLimit(sf)
		if err != nil {
			return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
		}
		if err := decodeField(r, root.Field(i), sf, limit); err != nil {
			return err
		}
	}
	return nil
}

func decodeField(r *http.Request, field reflect.Value, sf reflect.StructField, limit int) error {
	for _, src := range sources {
		tag, ok := sf.Tag.Lookup(src)
		if !ok {
			continue
		}
		name := strings.TrimSpace(tag)
		if name == "-" {
			return nil
		}
		if name == "" {
			name = strings.ToLower(sf.Name)
		}
		values := fetch(r, src, name)
		if len(values) == 0 {
			continue
		}
		for _, val := range values {
			if limit > 0 && len(val) > limit {
				return Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q: value exceeds max length %d", src, name, limit))
			}
		}
		if err := setField(field, values); err != nil {
			return Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: %w", src, name, sf.Name, err))
		}
		return nil
	}
	return nil
}

func fetch(r *http.Request, src, name string) []string {
	switch src {
	case "path":
		if v := r.PathValue(name); v != "" {
			return []string{v}
		}
	case "query":
		if r.URL != nil {
			return r.URL.Query()[name]
		}
	case "header":
		return r.Header[http.CanonicalHeaderKey(name)]
	case "cookie":
		var out []string
		for _, c := range r.Cookies() {
			if c.Name == name {
				out = append(out, c.Value)
			}
		}
		return out
	}
	return nil
}

func setField(field reflect.Value, values []string) error {
	if field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String {
		field.Set(reflect.ValueOf(append([]string(nil), values...)).Convert(field.Type()))
		return nil
	}
	// Scalars take the first value.
	val := values[0]
	switch field.Kind() {
	case reflect.String:
		field.SetString(val)
	case reflect.Bool:
		b, err := strconv.ParseBool(val)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(val, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	default:
		return fmt.Errorf("unsupported field type %s", field.Type())
	}
	return nil
}

func fieldLengthLimit(sf reflect.StructField) (int, error) {
	val, has := sf.Tag.Lookup("maxLength")
	if !has {
		return defaultFieldLimit, nil
	}
	val = strings.TrimSpace(val)
	if val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("maxLength: invalid integer %q", val)
	}
	if n < 0 {
		return 0, errors.New("maxLength: must be >= 0")
	}
	return n, nil
}
