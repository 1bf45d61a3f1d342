package domain

import (
	"errors"
	"fmt"
)

// Method is the closed set of second-factor kinds. Dispatch on it with an
// explicit switch so a new method can't be added without the compiler (and
// reviewers) seeing every site that must handle it.
type Method uint8

const (
	MethodNone Method = iota
	MethodEmail
	MethodAuthenticatorApp
	MethodBackupCode // usable for login verification only, never as the enabled method
)

var ErrUnknownMethod = errors.New("unknown two-factor method")

func (m Method) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodEmail:
		return "email"
	case MethodAuthenticatorApp:
		return "authenticator"
	case MethodBackupCode:
		return "backup_code"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}

// ParseMethod maps the stored/transport string form back to a Method.
func ParseMethod(s string) (Method, error) {
	switch s {
	case "none", "":
		return MethodNone, nil
	case "email":
		return MethodEmail, nil
	case "authenticator":
		return MethodAuthenticatorApp, nil
	case "backup_code":
		return MethodBackupCode, nil
	default:
		return MethodNone, fmt.Errorf("%w: %q", ErrUnknownMethod, s)
	}
}

// Enableable reports whether the method can be an account's enabled method.
func (m Method) Enableable() bool {
	return m == MethodEmail || m == MethodAuthenticatorApp
}
