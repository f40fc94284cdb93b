package domain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

type PayloadKind string

const (
	KindText     PayloadKind = "text"
	KindFile     PayloadKind = "file"
	KindImage    PayloadKind = "image"
	KindLocation PayloadKind = "location"
)

const (
	MaxFileSize  = 10 * 1024 * 1024 // 10MB
	MaxImageSize = 5 * 1024 * 1024  // 5MB
)

type Location struct {
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Accuracy float64 `json:"accuracy"`
}

// Payload is one unit of shared content carried over an open session.
type Payload struct {
	Kind     PayloadKind `json:"kind"`
	Sender   string      `json:"sender"`
	Body     string      `json:"body,omitempty"`
	Filename string      `json:"filename,omitempty"`
	Data     []byte      `json:"bytes,omitempty"`
	*Location
}

func NewTextPayload(sender, body string) *Payload {
	return &Payload{Kind: KindText, Sender: sender, Body: body}
}

func NewFilePayload(sender, filename string, data []byte) *Payload {
	return &Payload{Kind: KindFile, Sender: sender, Filename: filename, Data: data}
}

func NewImagePayload(sender, filename string, data []byte) *Payload {
	return &Payload{Kind: KindImage, Sender: sender, Filename: filename, Data: data}
}

func NewLocationPayload(sender string, loc Location) *Payload {
	return &Payload{Kind: KindLocation, Sender: sender, Location: &loc}
}

// SizeLimit returns the maximum attachment size for the payload kind, or 0 when unbounded.
func (p *Payload) SizeLimit() int {
	switch p.Kind {
	case KindFile:
		return MaxFileSize
	case KindImage:
		return MaxImageSize
	}
	return 0
}

func (p *Payload) Validate() error {
	switch p.Kind {
	case KindText:
		return nil
	case KindFile:
		if p.Filename == "" {
			return fmt.Errorf("file payload without filename")
		}
		return nil
	case KindImage:
		return nil
	case KindLocation:
		if p.Location == nil {
			return fmt.Errorf("location payload without coordinates")
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, p.Kind)
	}
}

func (p *Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload parses a wire payload. Messages without a kind are treated as
// legacy chat text ({username, message}); the legacy {type, data, location}
// shape for shared content is accepted as well.
func DecodePayload(data []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid payload: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

type wirePayload Payload

func (p *Payload) UnmarshalJSON(data []byte) error {
	var w struct {
		wirePayload
		Username       string    `json:"username"`
		Message        string    `json:"message"`
		Type           string    `json:"type"`
		LegacyData     string    `json:"data"`
		LegacyLocation *Location `json:"location"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*p = Payload(w.wirePayload)
	if p.Sender == "" {
		p.Sender = w.Username
	}
	if p.Kind != "" {
		return nil
	}

	switch PayloadKind(w.Type) {
	case KindFile, KindImage:
		p.Kind = PayloadKind(w.Type)
		if len(p.Data) == 0 && w.LegacyData != "" {
			decoded, err := decodeDataURL(w.LegacyData)
			if err != nil {
				return err
			}
			p.Data = decoded
		}
	case KindLocation:
		p.Kind = KindLocation
		if p.Location == nil {
			p.Location = w.LegacyLocation
		}
	default:
		p.Kind = KindText
		if p.Body == "" {
			p.Body = w.Message
		}
	}
	return nil
}

func decodeDataURL(s string) ([]byte, error) {
	if i := strings.Index(s, "base64,"); i >= 0 {
		s = s[i+len("base64,"):]
	}
	out, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid legacy data url: %w", err)
	}
	return out, nil
}
