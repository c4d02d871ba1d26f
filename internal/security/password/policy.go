package password

import (
	"strconv"
	"strings"
	"unicode"
)

// Claves de tenant_setting leídas por PolicyFromSettings.
const (
	SettingsPrefix = "PasswordPolicy."

	KeyMinLength              = SettingsPrefix + "MinLength"
	KeyRequireUppercase       = SettingsPrefix + "RequireUppercase"
	KeyRequireLowercase       = SettingsPrefix + "RequireLowercase"
	KeyRequireDigit           = SettingsPrefix + "RequireDigit"
	KeyRequireNonAlphanumeric = SettingsPrefix + "RequireNonAlphanumeric"
	KeyMaxLifetimeDays        = SettingsPrefix + "MaxLifetimeDays"
	KeyHistoryEnabled         = SettingsPrefix + "HistoryEnabled"
	KeyHistoryCount           = SettingsPrefix + "HistoryCount"
)

const (
	DefaultMinLength       = 10
	DefaultMaxLifetimeDays = 120
	DefaultHistoryCount    = 12
)

// Códigos de violación.
const (
	CodeRequired       = "required"
	CodeTooShort       = "too_short"
	CodeMissingUpper   = "missing_uppercase"
	CodeMissingLower   = "missing_lowercase"
	CodeMissingDigit   = "missing_digit"
	CodeMissingSpecial = "missing_special"
	CodeCommonPassword = "common_password"
	CodeReused         = "reused"
	CodeMismatch       = "mismatch"
)

type Policy struct {
	MinLength              int
	RequireUppercase       bool
	RequireLowercase       bool
	RequireDigit           bool
	RequireNonAlphanumeric bool
	// MaxLifetimeDays 0 => nunca expira.
	MaxLifetimeDays int
	HistoryEnabled  bool
	HistoryCount    int
}

func DefaultPolicy() Policy {
	return Policy{
		MinLength:              DefaultMinLength,
		RequireUppercase:       true,
		RequireLowercase:       true,
		RequireDigit:           true,
		RequireNonAlphanumeric: true,
		MaxLifetimeDays:        DefaultMaxLifetimeDays,
		HistoryEnabled:         false,
		HistoryCount:           DefaultHistoryCount,
	}
}

// PolicyFromSettings parsea cada clave por separado. Un valor inválido solo
// afecta a su propia clave, que vuelve al default. Nunca falla.
func PolicyFromSettings(s map[string]string) Policy {
	p := DefaultPolicy()
	p.MinLength = intSetting(s, KeyMinLength, DefaultMinLength, 1)
	p.RequireUppercase = requirement(s, KeyRequireUppercase)
	p.RequireLowercase = requirement(s, KeyRequireLowercase)
	p.RequireDigit = requirement(s, KeyRequireDigit)
	p.RequireNonAlphanumeric = requirement(s, KeyRequireNonAlphanumeric)
	p.MaxLifetimeDays = intSetting(s, KeyMaxLifetimeDays, DefaultMaxLifetimeDays, 0)
	if v, ok := parseBool(s[KeyHistoryEnabled]); ok {
		p.HistoryEnabled = v
	}
	p.HistoryCount = intSetting(s, KeyHistoryCount, DefaultHistoryCount, 1)
	return p
}

// intSetting acepta solo enteros decimales de 32 bits >= min.
// "10.5", "1e3", overflow y vacío vuelven a def.
func intSetting(s map[string]string, key string, def, min int) int {
	raw := strings.TrimSpace(s[key])
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 32)
	if err != nil || int(n) < min {
		return def
	}
	return int(n)
}

// requirement: cualquier cosa que no sea true/false exige la clase (fail-secure).
func requirement(s map[string]string, key string) bool {
	if v, ok := parseBool(s[key]); ok {
		return v
	}
	return true
}

func parseBool(raw string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true":
		return true, true
	case "false":
		return false, true
	}
	return false, false
}

// Violation es una regla incumplida; es un valor, no un error.
type Violation struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Violations []Violation

func (v Violations) OK() bool { return len(v) == 0 }

func (v Violations) Codes() []string {
	out := make([]string, len(v))
	for i := range v {
		out[i] = v[i].Code
	}
	return out
}

func (v Violations) Has(code string) bool {
	for i := range v {
		if v[i].Code == code {
			return true
		}
	}
	return false
}

// Validate acumula todas las reglas incumplidas. Vacío => solo "required".
func (p Policy) Validate(pwd string) Violations {
	if pwd == "" {
		return Violations{{Code: CodeRequired, Message: "password is required"}}
	}
	var out Violations
	if n := len([]rune(pwd)); n < p.MinLength {
		out = append(out, Violation{Code: CodeTooShort,
			Message: "password must be at least " + strconv.Itoa(p.MinLength) + " characters"})
	}
	var hasU, hasL, hasD, hasS bool
	for _, r := range pwd {
		switch {
		case unicode.IsUpper(r):
			hasU = true
		case unicode.IsLower(r):
			hasL = true
		case unicode.IsDigit(r):
			hasD = true
		case !unicode.IsLetter(r) && !unicode.IsNumber(r):
			hasS = true
		}
	}
	if p.RequireUppercase && !hasU {
		out = append(out, Violation{Code: CodeMissingUpper, Message: "password must contain an uppercase letter"})
	}
	if p.RequireLowercase && !hasL {
		out = append(out, Violation{Code: CodeMissingLower, Message: "password must contain a lowercase letter"})
	}
	if p.RequireDigit && !hasD {
		out = append(out, Violation{Code: CodeMissingDigit, Message: "password must contain a digit"})
	}
	if p.RequireNonAlphanumeric && !hasS {
		out = append(out, Violation{Code: CodeMissingSpecial, Message: "password must contain a non-alphanumeric character"})
	}
	return out
}
