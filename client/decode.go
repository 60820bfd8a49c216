package client

import (
	"bytes"
	"encoding/json"

	"github.com/go-playground/validator/v10"

	"github.com/saiset-co/autoglean/types"
	"github.com/saiset-co/autoglean/utils"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Decode unmarshals a reply into target and checks its struct tags. Any
// failure is ErrMalformedResponse; callers never see a zero value.
func Decode[T any](body []byte, target *T) error {
	if len(bytes.TrimSpace(body)) == 0 {
		return types.Errorf(types.ErrMalformedResponse, "empty body")
	}

	if err := utils.Unmarshal(body, target); err != nil {
		return types.Wrap(types.ErrMalformedResponse, err)
	}

	if err := validate.Struct(target); err != nil {
		return types.Wrap(types.ErrMalformedResponse, err)
	}

	return nil
}

// DecodeList is Decode for JSON arrays of structs.
func DecodeList[T any](body []byte) ([]T, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, types.Errorf(types.ErrMalformedResponse, "empty body")
	}

	var items []T
	if err := utils.Unmarshal(body, &items); err != nil {
		return nil, types.Wrap(types.ErrMalformedResponse, err)
	}

	if items == nil {
		return nil, types.Errorf(types.ErrMalformedResponse, "expected a list")
	}

	for i := range items {
		if err := validate.Struct(&items[i]); err != nil {
			return nil, types.Errorf(types.ErrMalformedResponse, "item %d: %v", i, err)
		}
	}

	return items, nil
}

// DecodeTaskResult reads the result payload of a successful task.
func DecodeTaskResult(raw json.RawMessage) (*types.TaskResult, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, types.Errorf(types.ErrMalformedResponse, "task result is missing")
	}

	var result types.TaskResult
	if err := Decode(trimmed, &result); err != nil {
		return nil, err
	}

	return &result, nil
}
