package client

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/saiset-co/autoglean/types"
	"github.com/saiset-co/autoglean/utils"
)

const notesSchema = `{"type": ["string", "null"]}`

const fieldsSchema = `{
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"required": ["old", "new"],
		"properties": {
			"old": {"type": ["string", "null"]},
			"new": {"type": ["string", "null"]}
		}
	}
}`

var changeSchemas = map[types.ChangeType]string{
	types.ChangeCreated: `{
		"type": "object",
		"properties": {"fields": ` + fieldsSchema + `, "notes": ` + notesSchema + `}
	}`,
	types.ChangeUpdated: `{
		"type": "object",
		"required": ["fields"],
		"properties": {"fields": ` + fieldsSchema + `, "notes": ` + notesSchema + `}
	}`,
	types.ChangeDeleted: `{
		"type": "object",
		"properties": {"notes": ` + notesSchema + `}
	}`,
	types.ChangeVisibilityChanged: `{
		"type": "object",
		"required": ["from", "to"],
		"properties": {
			"from": {"enum": ["public", "private", "shared"]},
			"to": {"enum": ["public", "private", "shared"]},
			"notes": ` + notesSchema + `
		}
	}`,
}

var (
	compiledSchemas     map[types.ChangeType]*jsonschema.Schema
	compiledSchemasOnce sync.Once
	compiledSchemasErr  error
)

var changedAtLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

type historyWire struct {
	ID                  int64           `json:"id" validate:"required"`
	ChangeType          string          `json:"change_type" validate:"required"`
	ChangedByUserNameEN string          `json:"changed_by_user_name_en"`
	ChangedByUserNameAR string          `json:"changed_by_user_name_ar"`
	ChangedAt           string          `json:"changed_at" validate:"required"`
	Changes             json.RawMessage `json:"changes"`
}

// DecodeHistory decodes GET /api/extractors/{id}/history. The changes payload
// of every record is checked against the schema of its change_type before
// it is decoded into the matching types.Change.
func DecodeHistory(body []byte) ([]types.HistoryRecord, error) {
	wire, err := DecodeList[historyWire](body)
	if err != nil {
		return nil, err
	}

	records := make([]types.HistoryRecord, 0, len(wire))
	for _, item := range wire {
		record, err := item.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	return records, nil
}

func (w *historyWire) toRecord() (types.HistoryRecord, error) {
	changedAt, err := parseChangedAt(w.ChangedAt)
	if err != nil {
		return types.HistoryRecord{}, types.Errorf(types.ErrMalformedResponse, "record %d: %v", w.ID, err)
	}

	change, err := decodeChange(types.ChangeType(w.ChangeType), w.Changes)
	if err != nil {
		return types.HistoryRecord{}, types.Errorf(types.ErrMalformedResponse, "record %d: %v", w.ID, err)
	}

	return types.HistoryRecord{
		ID:                  w.ID,
		ChangeType:          types.ChangeType(w.ChangeType),
		ChangedByUserNameEN: w.ChangedByUserNameEN,
		ChangedByUserNameAR: w.ChangedByUserNameAR,
		ChangedAt:           changedAt,
		Changes:             change,
	}, nil
}

func decodeChange(changeType types.ChangeType, raw json.RawMessage) (types.Change, error) {
	schemas, err := loadChangeSchemas()
	if err != nil {
		return nil, err
	}

	schema, ok := schemas[changeType]
	if !ok {
		return nil, types.NewErrorf("unknown change_type %q", changeType)
	}

	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 || bytes.Equal(payload, []byte("null")) {
		payload = []byte("{}")
	}

	var document interface{}
	if err := utils.Unmarshal(payload, &document); err != nil {
		return nil, types.WrapError(err, "changes")
	}

	if err := schema.Validate(document); err != nil {
		return nil, types.WrapError(err, string(changeType))
	}

	switch changeType {
	case types.ChangeCreated:
		return decodeInto[types.CreatedChange](payload)
	case types.ChangeUpdated:
		return decodeInto[types.UpdatedChange](payload)
	case types.ChangeDeleted:
		return decodeInto[types.DeletedChange](payload)
	default:
		return decodeInto[types.VisibilityChange](payload)
	}
}

func decodeInto[T types.Change](payload []byte) (types.Change, error) {
	var change T
	if err := utils.Unmarshal(payload, &change); err != nil {
		return nil, err
	}
	return change, nil
}

func loadChangeSchemas() (map[types.ChangeType]*jsonschema.Schema, error) {
	compiledSchemasOnce.Do(func() {
		compiled := make(map[types.ChangeType]*jsonschema.Schema, len(changeSchemas))
		for changeType, source := range changeSchemas {
			schema, err := jsonschema.CompileString("history_"+string(changeType)+".json", source)
			if err != nil {
				compiledSchemasErr = types.WrapError(err, "compile history schema")
				return
			}
			compiled[changeType] = schema
		}
		compiledSchemas = compiled
	})

	return compiledSchemas, compiledSchemasErr
}

func parseChangedAt(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range changedAtLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, types.NewErrorf("unparseable changed_at %q", value)
}
