package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

func JsonStringify(data interface{}) string {
	b, _ := json.MarshalIndent(data, "", "    ")
	return string(b)
}

func GetFileSize(filename string) (int64, error) {
	fi, err := os.Stat(filename)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

type Integer interface {
	int | int8 | int16 | int32 | int64 | uint | uint8 | uint16 | uint32 | uint64
}

func Min[T Integer](nums ...T) T {
	if len(nums) == 0 {
		panic(ErrUnreachable)
	}
	min := nums[0]
	for _, v := range nums[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

// CeilDiv divides rounding up.
func CeilDiv[T Integer](a, b T) T {
	return (a + b - 1) / b
}

const O_ACCMODE = 03
const O_RDONLY = 00
const O_WRONLY = 01
const O_RDWR = 02
const O_CREAT = 0100
const O_EXCL = 0200
const O_TRUNC = 01000
const O_APPEND = 02000

func DecodeFlags(flags uint32) []string {
	var ret []string
	switch flags & O_ACCMODE {
	case O_RDONLY:
		ret = append(ret, "O_RDONLY")
	case O_WRONLY:
		ret = append(ret, "O_WRONLY")
	case O_RDWR:
		ret = append(ret, "O_RDWR")
	}
	named := []struct {
		flag uint32
		name string
	}{
		{O_CREAT, "O_CREAT"},
		{O_EXCL, "O_EXCL"},
		{O_TRUNC, "O_TRUNC"},
		{O_APPEND, "O_APPEND"},
	}
	for _, n := range named {
		if flags&n.flag != 0 {
			ret = append(ret, n.name)
		}
	}
	return ret
}

func Join[T any](a []T, sep string) string {
	var ret string
	for i, v := range a {
		if i != 0 {
			ret += sep
		}
		ret += fmt.Sprintf("%v", v)
	}
	return ret
}

func PreviewBuffer(buf []byte, length int) string {
	if len(buf) < length {
		length = len(buf)
	}
	str := string(buf[:length])
	strHex := hex.EncodeToString(buf[:length])
	return fmt.Sprintf("%s(%s)", str, strHex)
}
