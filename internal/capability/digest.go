package capability

import (
	"crypto/md5"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// No HTTP Digest-auth client exists anywhere in the retrieval pack (the
// go-digest library found in several pack go.mod files is OCI content
// addressing, unrelated — see DESIGN.md); this is a from-scratch RFC 7616
// digest challenge/response client built on net/http, used only for the
// BrightSign reboot PUT.
type DigestAdapter struct {
	Username string
	Password string
	Client   *http.Client
}

func NewDigestAdapter(username, password string) *DigestAdapter {
	return &DigestAdapter{
		Username: username,
		Password: password,
		Client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Put issues a digest-authenticated PUT against url with an empty body,
// performing the initial 401 challenge round-trip transparently.
func (a *DigestAdapter) Put(url string) error {
	req, err := http.NewRequest(http.MethodPut, url, nil)
	if err != nil {
		return NewError("digest", KindProtocol, err)
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return NewError("digest", KindUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		if resp.StatusCode >= 400 {
			return NewError("digest", KindProtocol, fmt.Errorf("unexpected status %d", resp.StatusCode))
		}
		return nil
	}

	challenge := parseDigestChallenge(resp.Header.Get("WWW-Authenticate"))
	if challenge == nil {
		return NewError("digest", KindAuth, fmt.Errorf("missing digest challenge"))
	}

	authHeader, err := a.buildAuthHeader(http.MethodPut, url, challenge)
	if err != nil {
		return NewError("digest", KindAuth, err)
	}

	req2, err := http.NewRequest(http.MethodPut, url, nil)
	if err != nil {
		return NewError("digest", KindProtocol, err)
	}
	req2.Header.Set("Authorization", authHeader)

	resp2, err := a.Client.Do(req2)
	if err != nil {
		return NewError("digest", KindUnreachable, err)
	}
	defer resp2.Body.Close()

	if resp2.StatusCode == http.StatusUnauthorized {
		return NewError("digest", KindAuth, fmt.Errorf("digest authentication rejected"))
	}
	if resp2.StatusCode >= 400 {
		return NewError("digest", KindProtocol, fmt.Errorf("unexpected status %d", resp2.StatusCode))
	}
	return nil
}

type digestChallenge struct {
	realm string
	nonce string
	qop   string
	opaque string
}

func parseDigestChallenge(header string) *digestChallenge {
	if !strings.HasPrefix(header, "Digest ") {
		return nil
	}
	fields := strings.TrimPrefix(header, "Digest ")
	c := &digestChallenge{}
	for _, part := range splitDigestFields(fields) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		switch key {
		case "realm":
			c.realm = val
		case "nonce":
			c.nonce = val
		case "qop":
			c.qop = val
		case "opaque":
			c.opaque = val
		}
	}
	if c.realm == "" || c.nonce == "" {
		return nil
	}
	return c
}

func splitDigestFields(s string) []string {
	var fields []string
	depth := 0
	start := 0
	for i, r := range s {
		switch r {
		case '"':
			depth = 1 - depth
		case ',':
			if depth == 0 {
				fields = append(fields, s[start:i])
				start = i + 1
			}
		}
	}
	fields = append(fields, s[start:])
	return fields
}

func (a *DigestAdapter) buildAuthHeader(method, uri string, c *digestChallenge) (string, error) {
	ha1 := md5Hex(fmt.Sprintf("%s:%s:%s", a.Username, c.realm, a.Password))
	ha2 := md5Hex(fmt.Sprintf("%s:%s", method, uri))

	response := ""
	cnonce := ""
	nc := "00000001"
	if c.qop != "" {
		nonceBytes := make([]byte, 8)
		if _, err := rand.Read(nonceBytes); err != nil {
			return "", err
		}
		cnonce = hex.EncodeToString(nonceBytes)
		response = md5Hex(strings.Join([]string{ha1, c.nonce, nc, cnonce, "auth", ha2}, ":"))
	} else {
		response = md5Hex(strings.Join([]string{ha1, c.nonce, ha2}, ":"))
	}

	var b strings.Builder
	fmt.Fprintf(&b, `Digest username="%s", realm="%s", nonce="%s", uri="%s", response="%s"`,
		a.Username, c.realm, c.nonce, uri, response)
	if c.opaque != "" {
		fmt.Fprintf(&b, `, opaque="%s"`, c.opaque)
	}
	if c.qop != "" {
		fmt.Fprintf(&b, `, qop=%s, nc=%s, cnonce="%s"`, c.qop, nc, cnonce)
	}
	return b.String(), nil
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}
