package iot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrUpstream marks every failure reported by, or on the way to, the meter platform
var ErrUpstream = errors.New("iot upstream error")

// APIError is an explicit error answer from the platform
type APIError struct {
	Path    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("iot %s: %s", e.Path, e.Message)
}

func (e *APIError) Unwrap() error { return ErrUpstream }

// StatusError is a non-2xx HTTP answer from the platform
type StatusError struct {
	Path       string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("iot %s: unexpected status %d", e.Path, e.StatusCode)
}

func (e *StatusError) Unwrap() error { return ErrUpstream }

// Envelope is the single response shape every caller works with
type Envelope struct {
	OK      bool
	Data    json.RawMessage
	Message string
}

type rawEnvelope struct {
	Success  json.RawMessage `json:"success"`
	ErrorMsg string          `json:"errorMsg"`
	Code     json.RawMessage `json:"code"`
	Msg      string          `json:"msg"`
	Data     json.RawMessage `json:"data"`
}

// normalize folds the platform's two response dialects into one Envelope.
// The newer dialect is {success:"1", errorMsg, data}; the legacy one is
// {code, msg, data} where code 0 or 200 means success.
func normalize(body []byte) (Envelope, error) {
	var raw rawEnvelope
	if err := json.Unmarshal(body, &raw); err != nil {
		return Envelope{}, fmt.Errorf("%w: malformed response: %v", ErrUpstream, err)
	}

	env := Envelope{Data: raw.Data}
	switch {
	case len(raw.Success) > 0 && !isNull(raw.Success):
		env.OK = truthy(raw.Success)
		env.Message = raw.ErrorMsg
	case len(raw.Code) > 0 && !isNull(raw.Code):
		code := scalar(raw.Code)
		env.OK = code == "0" || code == "200"
		env.Message = raw.Msg
	default:
		return Envelope{}, fmt.Errorf("%w: unrecognized response shape", ErrUpstream)
	}

	if env.Message == "" {
		env.Message = raw.Msg
	}
	if env.Message == "" {
		env.Message = raw.ErrorMsg
	}
	if !env.OK && env.Message == "" {
		env.Message = "request rejected"
	}
	return env, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func scalar(raw json.RawMessage) string {
	return strings.Trim(strings.TrimSpace(string(raw)), `"`)
}

func truthy(raw json.RawMessage) bool {
	switch strings.ToLower(scalar(raw)) {
	case "1", "true":
		return true
	default:
		return false
	}
}

// decodeList accepts a bare array or an object wrapping it under list/rows/records
func decodeList[T any](data json.RawMessage, logger *zap.Logger) ([]T, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || isNull(trimmed) {
		return nil, nil
	}

	var raw []json.RawMessage
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, err
		}
	} else {
		var wrapper struct {
			List    []json.RawMessage `json:"list"`
			Rows    []json.RawMessage `json:"rows"`
			Records []json.RawMessage `json:"records"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, err
		}
		switch {
		case wrapper.List != nil:
			raw = wrapper.List
		case wrapper.Rows != nil:
			raw = wrapper.Rows
		default:
			raw = wrapper.Records
		}
	}
	if raw == nil {
		return nil, nil
	}

	items := make([]T, 0, len(raw))
	for _, item := range raw {
		var v T
		if err := decodeItem(item, &v, logger); err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, nil
}

// maxBadNumerics bounds how many distinct non-numeric values one record may
// carry before it is rejected.
const maxBadNumerics = 8

// decodeItem decodes one record into out. A numeric field holding a value
// such as "N/A" is logged and decoded as 0 instead of failing the record.
func decodeItem(item json.RawMessage, out any, logger *zap.Logger) error {
	for n := 0; n < maxBadNumerics; n++ {
		err := json.Unmarshal(item, out)
		var numErr *NumberError
		if !errors.As(err, &numErr) {
			return err
		}
		if logger != nil {
			logger.Warn("non-numeric value in platform record, using 0", zap.String("value", numErr.Value))
		}
		cleaned, ok := nullValue(item, numErr.Raw)
		if !ok {
			return err
		}
		item = cleaned
	}
	return json.Unmarshal(item, out)
}

// nullValue replaces every top-level field whose raw value equals bad with
// null. It reports false when nothing matched.
func nullValue(item json.RawMessage, bad []byte) (json.RawMessage, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return nil, false
	}
	replaced := false
	for k, v := range fields {
		if bytes.Equal(bytes.TrimSpace(v), bad) {
			fields[k] = json.RawMessage("null")
			replaced = true
		}
	}
	if !replaced {
		return nil, false
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return nil, false
	}
	return out, true
}
