package main

import (
	"encoding/binary"
	"reflect"

	"github.com/go-restruct/restruct"
	"github.com/pkg/errors"
)

// All on-disk records are packed little-endian in field order, independent of
// the in-memory struct layout.

func BytesOf(data interface{}) ([]byte, error) {
	v := reflect.ValueOf(data)
	if v.Kind() != reflect.Ptr {
		return nil, errors.New("data must be a pointer")
	}
	return restruct.Pack(binary.LittleEndian, data)
}

func StructOf(data []byte, v interface{}) error {
	return restruct.Unpack(data, binary.LittleEndian, v)
}

func SizeOf(data interface{}) (int, error) {
	return restruct.SizeOf(data)
}

func Pad(data []byte, size int) []byte {
	if len(data) == size {
		return data
	}
	if len(data) > size {
		panic("data is too long")
	}
	return append(data, make([]byte, size-len(data))...)
}

// BlockOf packs v and pads it to a full block.
func BlockOf(v interface{}) ([]byte, error) {
	data, err := BytesOf(v)
	if err != nil {
		return nil, err
	}
	if len(data) > BlockSize {
		return nil, errors.Errorf("%T packs to %d bytes, more than a block", v, len(data))
	}
	return Pad(data, BlockSize), nil
}
