package token

import (
	"crypto/md5"
	"fmt"
	"sort"
	"strings"
)

// KeyGenerator derives the authentication key (fingerprint) identifying a
// logical authorization. Two semantically identical contexts always produce
// the same key, which is how the manager recognises "the same authorization
// being re-requested" and keeps issuance idempotent.
type KeyGenerator struct{}

// Key returns a fixed-width hex digest over the client id, principal and
// sorted scope. The digest only normalises length and character set; it is
// not a security boundary.
func (KeyGenerator) Key(authentication *Authentication) string {
	scope := append([]string(nil), authentication.Scope...)
	sort.Strings(scope)

	var sb strings.Builder
	sb.WriteString("client_id=")
	sb.WriteString(authentication.ClientID)
	sb.WriteString(";scope=")
	sb.WriteString(strings.Join(scope, " "))
	if authentication.Principal != "" {
		sb.WriteString(";username=")
		sb.WriteString(authentication.Principal)
	}

	return fmt.Sprintf("%032x", md5.Sum([]byte(sb.String())))
}
