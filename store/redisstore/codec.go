package redisstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"time"

	"github.com/indigoroots/authcore/store"
)

const tokenRecordVersionV1 = 1

var errInvalidRecord = errors.New("invalid token record encoding")

// Layout: version(1) used(1) expiresAt(8) createdAt(8) idLen(2) id identLen(2) identifier.
// The used flag sits at a fixed offset so the consume script can flip it in place.
func encodeTokenRecord(rec store.TokenRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(tokenRecordVersionV1)
	if rec.Used {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, rec.CreatedAt.UnixMilli()); err != nil {
		return nil, err
	}
	for _, s := range []string{rec.ID, rec.Identifier} {
		if len(s) > 65535 {
			return nil, errors.New("token record field too long")
		}
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(s))); err != nil {
			return nil, err
		}
		buf.WriteString(s)
	}
	return buf.Bytes(), nil
}

func decodeTokenRecord(kind store.Kind, tokenHash string, data []byte) (store.TokenRecord, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return store.TokenRecord{}, err
	}
	if version != tokenRecordVersionV1 {
		return store.TokenRecord{}, errInvalidRecord
	}
	used, err := reader.ReadByte()
	if err != nil {
		return store.TokenRecord{}, err
	}

	var expiresAt, createdAt int64
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return store.TokenRecord{}, err
	}
	if err := binary.Read(reader, binary.BigEndian, &createdAt); err != nil {
		return store.TokenRecord{}, err
	}

	fields := make([]string, 2)
	for i := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return store.TokenRecord{}, err
		}
		b := make([]byte, n)
		if _, err := io.ReadFull(reader, b); err != nil {
			return store.TokenRecord{}, err
		}
		fields[i] = string(b)
	}

	return store.TokenRecord{
		ID:         fields[0],
		Kind:       kind,
		Identifier: fields[1],
		TokenHash:  tokenHash,
		ExpiresAt:  time.UnixMilli(expiresAt).UTC(),
		Used:       used == 1,
		CreatedAt:  time.UnixMilli(createdAt).UTC(),
	}, nil
}
