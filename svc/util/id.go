package util

import (
	"crypto/rand"
	"io"

	"github.com/pkg/errors"
)

const (
	base62Chars     = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	DefaultIDLength = 10
	MinIDLength     = 8
	MaxIDLength     = 32
)

// 248 is the largest multiple of 62 that fits in a byte; bytes >= it are
// rejected so every symbol is equally likely.
const maxUnbiased = 256 - 256%len(base62Chars)

type IDGen struct {
	length int
	src    io.Reader
}

func NewIDGen(length int) (*IDGen, error) {
	if length < MinIDLength || length > MaxIDLength {
		return nil, errors.Errorf("id length must be between %d and %d", MinIDLength, MaxIDLength)
	}
	return &IDGen{length: length, src: rand.Reader}, nil
}

func (g *IDGen) Length() int {
	return g.length
}

func (g *IDGen) Generate() (string, error) {
	out := make([]byte, 0, g.length)
	buf := make([]byte, g.length+g.length/2)
	for len(out) < g.length {
		if _, err := io.ReadFull(g.src, buf); err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		for _, b := range buf {
			if int(b) >= maxUnbiased {
				continue
			}
			out = append(out, base62Chars[int(b)%len(base62Chars)])
			if len(out) == g.length {
				break
			}
		}
	}
	return string(out), nil
}

// Plausible reports whether id could have been produced by any generator,
// so ids minted under an earlier length setting stay reachable.
func (g *IDGen) Plausible(id string) bool {
	if len(id) < MinIDLength || len(id) > MaxIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= '0' && c <= '9' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z') {
			return false
		}
	}
	return true
}
