package keystore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const recordFormatVersion = 1

// MaxIdentifierLength is the longest identifier a record can carry.
const MaxIdentifierLength = 255

// RecordState marks whether a record may still be used.
type RecordState uint8

const (
	RecordValid RecordState = iota + 1
	RecordInvalidated
)

// Record is the persisted form of one secret.
type Record struct {
	Identifier string
	State      RecordState
	// Epoch is the platform enrollment epoch at creation time.
	Epoch     uint64
	CreatedAt int64
	// Blob is backend specific: sealed material or a TPM unique value.
	Blob []byte
}

func validIdentifier(id string) bool {
	return id != "" && len(id) <= MaxIdentifierLength
}

// EncodeRecord serializes r.
func EncodeRecord(r *Record) ([]byte, error) {
	if !validIdentifier(r.Identifier) {
		return nil, ErrInvalidIdentifier
	}
	if len(r.Blob) > math.MaxUint16 {
		return nil, errors.New("record blob too large")
	}

	var buf bytes.Buffer
	buf.WriteByte(recordFormatVersion)
	buf.WriteByte(byte(r.State))
	buf.WriteByte(byte(len(r.Identifier)))
	buf.WriteString(r.Identifier)
	if err := binary.Write(&buf, binary.BigEndian, r.Epoch); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(r.Blob))); err != nil {
		return nil, err
	}
	buf.Write(r.Blob)
	return buf.Bytes(), nil
}

// DecodeRecord parses data produced by EncodeRecord.
func DecodeRecord(data []byte) (*Record, error) {
	r, err := decodeRecord(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	return r, nil
}

func decodeRecord(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersion {
		return nil, errors.New("invalid record version")
	}

	state, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	r := &Record{State: RecordState(state)}
	if r.State != RecordValid && r.State != RecordInvalidated {
		return nil, errors.New("invalid record state")
	}

	idLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	id := make([]byte, idLen)
	if _, err := io.ReadFull(reader, id); err != nil {
		return nil, err
	}
	r.Identifier = string(id)

	if err := binary.Read(reader, binary.BigEndian, &r.Epoch); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.CreatedAt); err != nil {
		return nil, err
	}

	var blobLen uint16
	if err := binary.Read(reader, binary.BigEndian, &blobLen); err != nil {
		return nil, err
	}
	r.Blob = make([]byte, blobLen)
	if _, err := io.ReadFull(reader, r.Blob); err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing record bytes")
	}
	return r, nil
}
