package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	KeyLen      uint32
}

var Default = Params{Memory: 64 * 1024, Time: 3, Parallelism: 1, KeyLen: 32}

var ErrEmptyPassword = errors.New("empty password")

// Hasher produce PHC strings argon2id y verifica también hashes bcrypt heredados.
type Hasher struct {
	p Params
}

func NewHasher(p Params) *Hasher {
	if p.Memory == 0 || p.Time == 0 || p.Parallelism == 0 || p.KeyLen == 0 {
		p = Default
	}
	return &Hasher{p: p}
}

func (h *Hasher) Params() Params { return h.p }

// Hash devuelve un PHC string: $argon2id$v=19$m=...,t=...,p=...$<saltB64>$<dkB64>
func (h *Hasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", ErrEmptyPassword
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	dk := argon2.IDKey([]byte(plain), salt, h.p.Time, h.p.Memory, h.p.Parallelism, h.p.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, h.p.Memory, h.p.Time, h.p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(dk),
	), nil
}

// Verify compara en tiempo constante. Nunca devuelve error: un hash ilegible es mismatch.
func (h *Hasher) Verify(plain, encoded string) bool {
	if plain == "" || encoded == "" {
		return false
	}
	if isBcrypt(encoded) {
		return bcrypt.CompareHashAndPassword([]byte(encoded), []byte(plain)) == nil
	}
	ph, ok := parsePHC(encoded)
	if !ok {
		return false
	}
	key := argon2.IDKey([]byte(plain), ph.salt, ph.p.Time, ph.p.Memory, ph.p.Parallelism, uint32(len(ph.dk)))
	return subtle.ConstantTimeCompare(key, ph.dk) == 1
}

// NeedsRehash es true para hashes bcrypt y para argon2id con otros parámetros.
func (h *Hasher) NeedsRehash(encoded string) bool {
	if isBcrypt(encoded) {
		return true
	}
	ph, ok := parsePHC(encoded)
	if !ok {
		return true
	}
	return ph.p.Memory != h.p.Memory || ph.p.Time != h.p.Time ||
		ph.p.Parallelism != h.p.Parallelism || uint32(len(ph.dk)) != h.p.KeyLen
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

type phc struct {
	p    Params
	salt []byte
	dk   []byte
}

func parsePHC(s string) (phc, bool) {
	// "", "argon2id", "v=19", "m=..,t=..,p=..", salt, dk
	parts := strings.Split(s, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return phc{}, false
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return phc{}, false
	}
	var out phc
	for _, kv := range strings.Split(parts[3], ",") {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return phc{}, false
		}
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return phc{}, false
		}
		switch k {
		case "m":
			out.p.Memory = uint32(n)
		case "t":
			out.p.Time = uint32(n)
		case "p":
			if n > 255 {
				return phc{}, false
			}
			out.p.Parallelism = uint8(n)
		default:
			return phc{}, false
		}
	}
	if out.p.Memory == 0 || out.p.Time == 0 || out.p.Parallelism == 0 {
		return phc{}, false
	}
	var err error
	if out.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return phc{}, false
	}
	if out.dk, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(out.dk) == 0 {
		return phc{}, false
	}
	out.p.KeyLen = uint32(len(out.dk))
	return out, true
}
