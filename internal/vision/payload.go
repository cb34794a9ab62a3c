package vision

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"

	"candlesight/internal/types"
)

// payloadSchema constrains what the in-page extraction script may hand back.
// Everything but the timestamp is optional; quality is carried separately in
// the confidence field.
const payloadSchema = `{
	"type": "object",
	"properties": {
		"ts": {"type": "number"},
		"open": {"type": "number"},
		"high": {"type": "number"},
		"low": {"type": "number"},
		"close": {"type": "number"},
		"price": {"type": "number"},
		"direction": {"type": "string", "enum": ["up", "down"]},
		"confidence": {"type": "number", "minimum": 0, "maximum": 100},
		"method": {"type": "string"}
	},
	"required": ["ts"]
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func payloadSchemaCompiled() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("payload.json", strings.NewReader(payloadSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile("payload.json")
	})
	return compiledSchema, schemaErr
}

// ParsePayload turns the JSON the page script evaluated into a raw
// observation. A malformed or schema-violating payload is an extraction
// failure, not an error: the caller gets the explicit failed signal.
func ParsePayload(raw string) (types.RawObservation, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || !gjson.Valid(raw) {
		return failedObservation(), nil
	}
	schema, err := payloadSchemaCompiled()
	if err != nil {
		return types.RawObservation{}, fmt.Errorf("vision: compiling payload schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return failedObservation(), nil
	}
	if err := schema.Validate(doc); err != nil {
		return failedObservation(), nil
	}

	parsed := gjson.Parse(raw)
	obs := types.RawObservation{
		Timestamp:        time.UnixMilli(parsed.Get("ts").Int()).UTC(),
		Confidence:       int(parsed.Get("confidence").Int()),
		ExtractionMethod: parsed.Get("method").String(),
	}
	if obs.ExtractionMethod == "" {
		obs.ExtractionMethod = "chart_payload"
	}
	if v := parsed.Get("open"); v.Exists() {
		f := v.Float()
		obs.Open = &f
	}
	if v := parsed.Get("high"); v.Exists() {
		f := v.Float()
		obs.High = &f
	}
	if v := parsed.Get("low"); v.Exists() {
		f := v.Float()
		obs.Low = &f
	}
	if v := parsed.Get("close"); v.Exists() {
		f := v.Float()
		obs.Close = &f
	} else if v := parsed.Get("price"); v.Exists() {
		f := v.Float()
		obs.Close = &f
	}
	if v := parsed.Get("direction"); v.Exists() {
		d := types.Direction(v.String())
		if d.Valid() {
			obs.Direction = &d
		}
	}
	if obs.Confidence == 0 && (obs.Close != nil || obs.Direction != nil) {
		// script omitted confidence but delivered a reading
		obs.Confidence = 50
	}
	return obs, nil
}

func failedObservation() types.RawObservation {
	return types.RawObservation{
		Timestamp:        time.Now().UTC(),
		Confidence:       0,
		ExtractionMethod: types.ExtractionFailed,
	}
}
