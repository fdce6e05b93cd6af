package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
)

const (
	recordFormatVersionCurrent = 1
)

const (
	maxShortField  = 255
	maxPermissions = 1024
)

const (
	flagTwoFactorEnabled  byte = 1 << 0
	flagTwoFactorVerified byte = 1 << 1

	knownFlags = flagTwoFactorEnabled | flagTwoFactorVerified
)

// Encode serializes a record to the compact binary wire form stored in
// Redis. Strings are length-prefixed; integers are big-endian.
func Encode(r *Record) ([]byte, error) {
	if !r.State.valid() {
		return nil, errors.New("invalid session state")
	}

	var buf bytes.Buffer

	buf.WriteByte(recordFormatVersionCurrent)

	for _, field := range []struct {
		name  string
		value string
	}{
		{"userID", r.UserID},
		{"tenantID", r.TenantID},
		{"email", r.Email},
		{"displayName", r.DisplayName},
		{"role", r.Role},
	} {
		if len(field.value) > maxShortField {
			return nil, errors.New(field.name + " too long")
		}
		buf.WriteByte(byte(len(field.value)))
		buf.WriteString(field.value)
	}

	buf.WriteByte(byte(r.State))

	var flags byte
	if r.TwoFactorEnabled {
		flags |= flagTwoFactorEnabled
	}
	if r.TwoFactorVerified {
		flags |= flagTwoFactorVerified
	}
	buf.WriteByte(flags)

	if len(r.Permissions) > maxPermissions {
		return nil, errors.New("too many permissions")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(r.Permissions))); err != nil {
		return nil, err
	}
	for _, p := range r.Permissions {
		if len(p) > maxShortField {
			return nil, errors.New("permission name too long")
		}
		buf.WriteByte(byte(len(p)))
		buf.WriteString(p)
	}

	if len(r.PendingSecret) > maxShortField {
		return nil, errors.New("pending secret too long")
	}
	buf.WriteByte(byte(len(r.PendingSecret)))
	buf.Write(r.PendingSecret)

	if len(r.PendingCodeHashes) > maxShortField {
		return nil, errors.New("too many pending code hashes")
	}
	buf.WriteByte(byte(len(r.PendingCodeHashes)))
	for _, h := range r.PendingCodeHashes {
		buf.Write(h[:])
	}

	if err := binary.Write(&buf, binary.BigEndian, r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, r.ExpiresAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses a stored blob. Unknown format versions are rejected rather
// than guessed at.
func Decode(data []byte) (*Record, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != recordFormatVersionCurrent {
		return nil, errors.New("invalid session record version")
	}

	r := &Record{}

	if r.UserID, err = readShortString(reader); err != nil {
		return nil, err
	}
	if r.TenantID, err = readShortString(reader); err != nil {
		return nil, err
	}
	if r.Email, err = readShortString(reader); err != nil {
		return nil, err
	}
	if r.DisplayName, err = readShortString(reader); err != nil {
		return nil, err
	}
	if r.Role, err = readShortString(reader); err != nil {
		return nil, err
	}

	state, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	r.State = State(state)
	if !r.State.valid() {
		return nil, errors.New("invalid session state")
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if flags&^knownFlags != 0 {
		return nil, errors.New("invalid two-factor flags")
	}
	r.TwoFactorEnabled = flags&flagTwoFactorEnabled != 0
	r.TwoFactorVerified = flags&flagTwoFactorVerified != 0

	var permCount uint16
	if err := binary.Read(reader, binary.BigEndian, &permCount); err != nil {
		return nil, err
	}
	if permCount > maxPermissions {
		return nil, errors.New("too many permissions")
	}
	if permCount > 0 {
		r.Permissions = make([]string, 0, permCount)
		for i := uint16(0); i < permCount; i++ {
			p, err := readShortString(reader)
			if err != nil {
				return nil, err
			}
			r.Permissions = append(r.Permissions, p)
		}
	}

	secretLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if secretLen > 0 {
		r.PendingSecret = make([]byte, secretLen)
		if _, err := io.ReadFull(reader, r.PendingSecret); err != nil {
			return nil, err
		}
	}

	hashCount, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if hashCount > 0 {
		r.PendingCodeHashes = make([][32]byte, hashCount)
		for i := byte(0); i < hashCount; i++ {
			if _, err := io.ReadFull(reader, r.PendingCodeHashes[i][:]); err != nil {
				return nil, err
			}
		}
	}

	if err := binary.Read(reader, binary.BigEndian, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &r.ExpiresAt); err != nil {
		return nil, err
	}

	return r, nil
}

func readShortString(reader *bytes.Reader) (string, error) {
	n, err := reader.ReadByte()
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", nil
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(reader, b); err != nil {
		return "", err
	}
	return string(b), nil
}
