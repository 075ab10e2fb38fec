package message

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"

	"pipeworker/codec"
)

// wire accepts both historical spellings of every field. Field matching is
// case-insensitive in both codecs, so "type" and "Type" land in the same place.
type wire struct {
	Type        codec.Raw `json:"Type"`
	Script      string    `json:"Script"`
	Code        string    `json:"code"`
	Names       []string  `json:"Names"`
	ExportNames []string  `json:"exportNames"`
	ModulePath  []string  `json:"ModulePath"`
	ModulePaths []string  `json:"modulePaths"`
	Func        string    `json:"Func"`
	Target      string    `json:"target"`
	Args        codec.Raw `json:"Args"`
}

// Decode parses raw with c. The returned Request is never nil.
//
// When inferType is set, a message without a type is classified by shape
// (code and names make a load, a target makes a call); otherwise an absent
// type is unrecognized.
func Decode(raw []byte, c codec.Codec, inferType bool) (*Request, error) {
	req := &Request{Raw: raw, Codec: c}

	var w wire
	if err := c.Decode(raw, &w); err != nil {
		return req, NewError(KindDecode, "decode", errors.Wrapf(err, "malformed %s message", c.Type()))
	}

	code := firstNonEmpty(w.Script, w.Code)
	names := w.Names
	if names == nil {
		names = w.ExportNames
	}
	target := firstNonEmpty(w.Func, w.Target)

	var typ string
	switch {
	case !isNull(w.Type):
		var s string
		if err := c.Decode(w.Type, &s); err == nil {
			typ = normalizeType(s)
		}
	case inferType && code != "" && names != nil:
		typ = TypeLoad
	case inferType && target != "":
		typ = TypeCall
	}

	switch typ {
	case TypeLoad:
		if code == "" {
			return req, NewError(KindDecode, "decode", errors.New("load message missing code"))
		}
		if len(names) == 0 {
			return req, NewError(KindDecode, "decode", errors.New("load message missing export names"))
		}
		for _, name := range names {
			if name == "" {
				return req, NewError(KindDecode, "decode", errors.New("load message has an empty export name"))
			}
		}
		paths := w.ModulePath
		if paths == nil {
			paths = w.ModulePaths
		}
		req.Type = TypeLoad
		req.Load = &Load{Code: code, ExportNames: names, ModulePaths: paths}
	case TypeCall:
		if target == "" {
			return req, NewError(KindDecode, "decode", errors.New("call message missing target"))
		}
		var args []codec.Raw
		if !isNull(w.Args) {
			if err := c.Decode(w.Args, &args); err != nil {
				return req, NewError(KindDecode, "decode", errors.Wrap(err, "call args must be an array"))
			}
		}
		req.Type = TypeCall
		req.Call = &Call{Target: target, Args: args}
	default:
		return req, &Error{Kind: KindUnknownType, Err: ErrUnknownType}
	}
	return req, nil
}

func normalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case TypeLoad, TypeInit:
		return TypeLoad
	case TypeCall:
		return TypeCall
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// isNull reports an absent value or an explicit null in either codec.
func isNull(r codec.Raw) bool {
	if len(r) == 0 {
		return true
	}
	if len(r) == 1 && (r[0] == 0xf6 || r[0] == 0xf7) {
		return true
	}
	return bytes.Equal(bytes.TrimSpace(r), []byte("null"))
}
