package raysharp

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// The NVR speaks RFC 7616 digest with MD5 only. qop=auth and the optional
// userhash extension are the two variants seen in the wild.

var digestParamRe = regexp.MustCompile(`(\w+)=(?:"([^"]*)"|([\w-]+))`)

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// parseDigestChallenge parses a WWW-Authenticate: Digest header into its
// parameter map. The "Digest " prefix is optional.
func parseDigestChallenge(header string) map[string]string {
	header = strings.TrimSpace(header)
	if len(header) >= 7 && strings.EqualFold(header[:7], "digest ") {
		header = header[7:]
	}
	params := make(map[string]string)
	for _, m := range digestParamRe.FindAllStringSubmatch(header, -1) {
		val := m[2]
		if val == "" {
			val = m[3]
		}
		params[m[1]] = val
	}
	return params
}

func newCnonce() string {
	var b [16]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// buildDigestAuthorization computes the Authorization header value for one
// request. nc is the caller-maintained nonce counter.
func buildDigestAuthorization(username, password, method, uri string, challenge map[string]string, nc int) string {
	realm := challenge["realm"]
	nonce := challenge["nonce"]
	qop := challenge["qop"]
	useUserhash := strings.EqualFold(challenge["userhash"], "true")

	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", username, realm, password))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, uri))

	user := username
	if useUserhash {
		user = md5Hex(fmt.Sprintf("%s:%s", username, realm))
	}

	parts := []string{
		fmt.Sprintf(`username="%s"`, user),
		fmt.Sprintf(`realm="%s"`, realm),
		fmt.Sprintf(`nonce="%s"`, nonce),
		fmt.Sprintf(`uri="%s"`, uri),
	}

	// Without qop the response falls back to the RFC 2069 form and the
	// cnonce/nc fields must not appear.
	if strings.Contains(qop, "auth") {
		cnonce := newCnonce()
		ncStr := fmt.Sprintf("%08x", nc)
		response := md5Hex(fmt.Sprintf("%s:%s:%s:%s:%s:%s", ha1, nonce, ncStr, cnonce, qop, ha2))
		parts = append(parts,
			fmt.Sprintf(`cnonce="%s"`, cnonce),
			fmt.Sprintf(`nc=%s`, ncStr),
			fmt.Sprintf(`qop=%s`, qop),
			fmt.Sprintf(`response="%s"`, response),
		)
	} else {
		response := md5Hex(fmt.Sprintf("%s:%s:%s", ha1, nonce, ha2))
		parts = append(parts, fmt.Sprintf(`response="%s"`, response))
	}
	if useUserhash {
		parts = append(parts, "userhash=true")
	}
	return "Digest " + strings.Join(parts, ", ")
}
