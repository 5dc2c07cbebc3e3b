// Package qrpayload encodes a confirmed prescription into the compact
// string carried by its QR code, and decodes scanned strings back.
// Decode(Encode(p)) == p for every valid payload.
package qrpayload

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xeipuuv/gojsonschema"

	"github.com/blockmed/blockmed/internal/ledger"
)

//go:embed schema.json
var schemaJSON []byte

var schema = func() *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("qrpayload: bad embedded schema: %v", err))
	}
	return s
}()

// ErrInvalidPayload is returned for payloads that fail validation.
var ErrInvalidPayload = errors.New("invalid QR payload")

// Payload is the QR content. Field order is the wire order.
type Payload struct {
	PrescriptionID string `json:"prescriptionId"`
	PatientHash    string `json:"patientHash"`
	IPFSHash       string `json:"ipfsHash"`
}

// FromRecord builds the payload of a fetched record.
func FromRecord(rec *ledger.Record) Payload {
	return Payload{
		PrescriptionID: strconv.FormatUint(rec.ID, 10),
		PatientHash:    rec.PatientHash,
		IPFSHash:       rec.DocumentHash,
	}
}

// RecordID parses the prescription id. Only the canonical decimal form
// (no sign, no leading zeros) is accepted.
func (p Payload) RecordID() (uint64, error) {
	id, err := strconv.ParseUint(p.PrescriptionID, 10, 64)
	if err != nil || id == 0 || strconv.FormatUint(id, 10) != p.PrescriptionID {
		return 0, fmt.Errorf("%w: prescriptionId %q is not a positive integer", ErrInvalidPayload, p.PrescriptionID)
	}
	return id, nil
}

func (p Payload) validate() error {
	if _, err := p.RecordID(); err != nil {
		return err
	}
	if p.PatientHash == "" || p.IPFSHash == "" {
		return fmt.Errorf("%w: patientHash and ipfsHash are required", ErrInvalidPayload)
	}
	if !utf8.ValidString(p.PatientHash) || !utf8.ValidString(p.IPFSHash) {
		return fmt.Errorf("%w: hashes must be valid UTF-8", ErrInvalidPayload)
	}
	return nil
}

func checkSchema(s string) error {
	result, err := schema.Validate(gojsonschema.NewStringLoader(s))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(msgs, "; "))
	}
	return nil
}

// Encode returns the compact JSON form of p. The result is checked against
// the same schema Decode uses.
func Encode(p Payload) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	if err := checkSchema(string(b)); err != nil {
		return "", err
	}
	return string(b), nil
}

// Decode validates a scanned string and returns its payload.
func Decode(s string) (Payload, error) {
	s = strings.TrimSpace(s)
	if err := checkSchema(s); err != nil {
		return Payload{}, err
	}

	var p Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return Payload{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if err := p.validate(); err != nil {
		return Payload{}, err
	}
	return p, nil
}
