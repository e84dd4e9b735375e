// Package json streams product price records from JSON sources.
//
// Accepted shapes:
//   - a root array of objects, optionally followed by JSONL objects
//   - a root envelope object whose first array field holds the objects
//     ({"data":[...], "meta":{...}}); other fields are skipped
//   - a single object, or JSONL (one object per line)
//
// Objects are matched against the transformer field aliases. The first object
// decides whether the source is usable; later objects may omit optional keys.
package json

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"priceetl/internal/transformer"
)

const arrayJoin = ", "

type emitter struct {
	ctx     context.Context
	out     chan<- *transformer.Row
	line    int
	checked bool
}

func (e *emitter) emit(obj map[string]any) error {
	e.line++

	keys, err := transformer.ResolveKeys(obj)
	if err != nil && !e.checked {
		return err
	}
	e.checked = true

	row := transformer.GetRow()
	row.Line = e.line
	for f, k := range keys {
		if k == "" {
			continue
		}
		row.V[f] = scalar(obj[k])
	}

	select {
	case e.out <- row:
		return nil
	case <-e.ctx.Done():
		row.Drop()
		return e.ctx.Err()
	}
}

// StreamRows decodes r and sends one row per object to out. It does not close
// out. onErr receives decode errors before they are returned; JSON syntax
// errors are file level because the decoder cannot resynchronize.
func StreamRows(
	ctx context.Context,
	r io.Reader,
	out chan<- *transformer.Row,
	onErr func(line int, err error),
) error {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	e := &emitter{ctx: ctx, out: out}
	report := func(err error) error {
		if onErr != nil {
			onErr(e.line+1, err)
		}
		return err
	}

	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("json: empty input: %w", transformer.ErrMissingColumns)
		}
		return report(fmt.Errorf("json: read first token: %w", err))
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}

	switch d {
	case '[':
		if err := streamArray(ctx, dec, e, report); err != nil {
			return err
		}
		if err := expectDelim(dec, ']'); err != nil {
			return err
		}
	case '{':
		single, err := streamEnvelope(ctx, dec, e, report)
		if err != nil {
			return err
		}
		if err := expectDelim(dec, '}'); err != nil {
			return err
		}
		if single != nil {
			if err := e.emit(single); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("json: unsupported root delimiter %q", d)
	}

	// JSONL tail.
	for {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return report(fmt.Errorf("json: decode object: %w", err))
		}
		if obj == nil {
			continue
		}
		if err := e.emit(obj); err != nil {
			return err
		}
	}
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read %q: %w", want, err)
	}
	if tok != want {
		return fmt.Errorf("json: expected %q, got %v", want, tok)
	}
	return nil
}

// streamArray emits each element of the array whose '[' was just consumed.
// Null elements are skipped; any other non-object element is an error.
func streamArray(ctx context.Context, dec *json.Decoder, e *emitter, report func(error) error) error {
	for dec.More() {
		if err := ctx.Err(); err != nil {
			return err
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return report(fmt.Errorf("json: decode array element: %w", err))
		}
		if raw == nil {
			continue
		}
		obj, ok := raw.(map[string]any)
		if !ok {
			return report(fmt.Errorf("json: array element is %T, want object", raw))
		}
		if err := e.emit(obj); err != nil {
			return err
		}
	}
	return nil
}

// streamEnvelope walks the root object whose '{' was just consumed. The first
// array-valued field is streamed and the remaining fields are skipped. When the
// object has no array field it is returned whole as a single record.
func streamEnvelope(ctx context.Context, dec *json.Decoder, e *emitter, report func(error) error) (map[string]any, error) {
	single := make(map[string]any)

	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, report(fmt.Errorf("json: read key: %w", err))
		}
		key, _ := kt.(string)

		vt, err := dec.Token()
		if err != nil {
			return nil, report(fmt.Errorf("json: read value: %w", err))
		}

		if vt == json.Delim('[') {
			if err := streamArray(ctx, dec, e, report); err != nil {
				return nil, err
			}
			if err := expectDelim(dec, ']'); err != nil {
				return nil, err
			}
			for dec.More() {
				if _, err := dec.Token(); err != nil {
					return nil, fmt.Errorf("json: skip key: %w", err)
				}
				if err := skipValue(dec); err != nil {
					return nil, err
				}
			}
			return nil, nil
		}

		v, err := materialize(dec, vt)
		if err != nil {
			return nil, report(err)
		}
		single[key] = v
	}
	return single, nil
}

func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value: %w", err)
	}
	_, err = materialize(dec, tok)
	return err
}

// materialize builds the value whose first token is tok.
func materialize(dec *json.Decoder, tok any) (any, error) {
	d, ok := tok.(json.Delim)
	if !ok {
		return tok, nil
	}
	switch d {
	case '{':
		m := make(map[string]any)
		for dec.More() {
			kt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested key: %w", err)
			}
			k, _ := kt.(string)
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested value: %w", err)
			}
			v, err := materialize(dec, vt)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, expectDelim(dec, '}')
	case '[':
		var arr []any
		for dec.More() {
			vt, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested element: %w", err)
			}
			v, err := materialize(dec, vt)
			if err != nil {
				return nil, err
			}
			arr = append(arr, v)
		}
		return arr, expectDelim(dec, ']')
	default:
		return nil, fmt.Errorf("json: unexpected delimiter %q", d)
	}
}

// scalar flattens string arrays and pulls "name" out of nested objects such as
// {"category":{"name":"Dairy"}}. Empty strings become nil like empty CSV cells.
func scalar(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return s
		}
		return nil
	case []any:
		parts := make([]string, 0, len(t))
		for _, it := range t {
			if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		if len(parts) == 0 {
			return nil
		}
		return strings.Join(parts, arrayJoin)
	case map[string]any:
		if n, ok := t["name"]; ok {
			return scalar(n)
		}
		return nil
	default:
		return v
	}
}
