package intent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	tokens "github.com/revclaw/revclaw/internal/security/token"
)

// Serialización canónica de payloads.
//
// La garantía de payload-binding (lo aprobado es exactamente lo ejecutado)
// depende de que create y execute hasheen los mismos bytes para payloads
// semánticamente idénticos. Reglas, aplicadas recursivamente:
//
//   - objetos: claves ordenadas bytewise, sin espacios ("k":v,"k2":v2)
//   - arrays: orden preservado (el orden de un array SÍ es semántico)
//   - números: se re-emiten tal cual llegaron (json.Number, sin reformatear)
//   - strings/bool/null: encoding/json estándar
//
// Cualquier asimetría acá rompe la garantía en silencio; no cambiar un lado
// sin el otro.

// Canonicalize devuelve la forma canónica de un payload JSON.
func Canonicalize(raw json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	// Rechazar basura después del primer valor.
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// HashPayload devuelve sha256(canonical) en base64url, el valor que se persiste
// y se compara en approve/execute.
func HashPayload(raw json.RawMessage) (canonical []byte, hash string, err error) {
	canonical, err = Canonicalize(raw)
	if err != nil {
		return nil, "", err
	}
	return canonical, tokens.SHA256Base64URL(string(canonical)), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, el := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, el); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case json.Number:
		buf.WriteString(t.String())
	case string:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
	case bool:
		if t {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case nil:
		buf.WriteString("null")
	default:
		return fmt.Errorf("unsupported JSON value %T", v)
	}
	return nil
}
