package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownPayloadKind is returned when a stored record carries an unrecognized payload tag.
var ErrUnknownPayloadKind = errors.New("unknown payload kind")

// rawRecordAlias drops RawRecord's methods so the envelope can be encoded by
// the default codec.
type rawRecordAlias RawRecord

type rawRecordWire struct {
	rawRecordAlias
	PayloadKind PayloadKind     `json:"payload_kind,omitempty"`
	PayloadData json.RawMessage `json:"payload,omitempty"`
}

// MarshalJSON writes the envelope plus a payload_kind tag and the payload body.
func (r RawRecord) MarshalJSON() ([]byte, error) {
	w := rawRecordWire{rawRecordAlias: rawRecordAlias(r)}
	if r.Payload != nil {
		data, err := json.Marshal(r.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", r.Payload.Kind(), err)
		}
		w.PayloadKind = r.Payload.Kind()
		w.PayloadData = data
	}
	return json.Marshal(w)
}

// UnmarshalJSON restores the payload variant named by payload_kind.
func (r *RawRecord) UnmarshalJSON(data []byte) error {
	var w rawRecordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = RawRecord(w.rawRecordAlias)
	r.Payload = nil

	switch w.PayloadKind {
	case "":
		return nil
	case KindStructured:
		var p StructuredPayload
		if err := json.Unmarshal(w.PayloadData, &p); err != nil {
			return fmt.Errorf("decode structured payload: %w", err)
		}
		r.Payload = p
	case KindDom:
		var p DomScraped
		if err := json.Unmarshal(w.PayloadData, &p); err != nil {
			return fmt.Errorf("decode dom payload: %w", err)
		}
		r.Payload = p
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPayloadKind, w.PayloadKind)
	}
	return nil
}
