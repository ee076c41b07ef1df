package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Params are the Argon2id cost settings encoded into every hash.
type Params struct {
	Time    uint32
	Memory  uint32
	Threads uint8
	KeyLen  uint32
	SaltLen int
}

var DefaultParams = Params{
	Time:    1,
	Memory:  64 * 1024,
	Threads: 4,
	KeyLen:  32,
	SaltLen: 16,
}

// Hasher turns plaintext passwords into encoded one-way hashes.
type Hasher interface {
	Hash(password string) (string, error)
}

type Argon2id struct {
	params Params
}

func NewArgon2id(params Params) *Argon2id {
	return &Argon2id{params: params}
}

// NewHasher returns the production hasher.
func NewHasher() Hasher {
	return NewArgon2id(DefaultParams)
}

// Hash returns a PHC-formatted Argon2id hash.
func (a *Argon2id) Hash(password string) (string, error) {
	p := a.params
	salt := make([]byte, p.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, p.Time, p.Memory, p.Threads, p.KeyLen)

	saltB64 := base64.RawStdEncoding.EncodeToString(salt)
	hashB64 := base64.RawStdEncoding.EncodeToString(hash)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s", argon2.Version, p.Memory, p.Time, p.Threads, saltB64, hashB64), nil
}

// Hash hashes password with DefaultParams.
func Hash(password string) (string, error) {
	return NewArgon2id(DefaultParams).Hash(password)
}

// Verify checks whether a password matches the encoded Argon2id hash.
func Verify(password, encoded string) bool {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" || parts[2] != fmt.Sprintf("v=%d", argon2.Version) {
		return false
	}

	params, ok := parseParams(parts[3])
	if !ok {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	check := argon2.IDKey([]byte(password), salt, params.Time, params.Memory, params.Threads, uint32(len(hash)))
	return subtle.ConstantTimeCompare(hash, check) == 1
}

func parseParams(raw string) (Params, bool) {
	fields := strings.Split(raw, ",")
	if len(fields) != 3 {
		return Params{}, false
	}

	values := make([]uint64, 0, 3)
	for i, prefix := range []string{"m=", "t=", "p="} {
		v, ok := strings.CutPrefix(fields[i], prefix)
		if !ok {
			return Params{}, false
		}
		bits := 32
		if prefix == "p=" {
			bits = 8
		}
		parsed, err := strconv.ParseUint(v, 10, bits)
		if err != nil {
			return Params{}, false
		}
		values = append(values, parsed)
	}

	return Params{
		Memory:  uint32(values[0]),
		Time:    uint32(values[1]),
		Threads: uint8(values[2]),
	}, true
}
