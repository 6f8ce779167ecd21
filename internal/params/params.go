// Package params normalises OAuth callback parameters.
//
// Identity providers hand parameters back either as a query string
// (authorization-code flow) or in the URL fragment (implicit flow), depending
// on how the redirect was requested. Extract reads both and merges them so the
// rest of the sign-in flow never has to care which one it got.
package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// Keys the sign-in flow looks at.
const (
	KeyError            = "error"
	KeyErrorDescription = "error_description"
	KeyCode             = "code"
	KeyState            = "state"
	KeyAccessToken      = "access_token"
	KeyRefreshToken     = "refresh_token"
)

// Bag is an ordered string map. Keys keep the position of their first
// occurrence; setting an existing key replaces its value in place.
type Bag struct {
	keys   []string
	values map[string]string
}

// NewBag returns an empty Bag.
func NewBag() *Bag {
	return &Bag{values: make(map[string]string)}
}

func (b *Bag) Set(key, value string) {
	if _, ok := b.values[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.values[key] = value
}

// Get returns the value for key, or "" if absent.
func (b *Bag) Get(key string) string {
	return b.values[key]
}

func (b *Bag) Lookup(key string) (string, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Has reports whether key is present with a non-empty value.
func (b *Bag) Has(key string) bool {
	return b.values[key] != ""
}

func (b *Bag) Len() int {
	return len(b.keys)
}

// Keys returns the keys in order.
func (b *Bag) Keys() []string {
	out := make([]string, len(b.keys))
	copy(out, b.keys)
	return out
}

// Map returns a copy as a plain map.
func (b *Bag) Map() map[string]string {
	out := make(map[string]string, len(b.values))
	for k, v := range b.values {
		out[k] = v
	}
	return out
}

// MarshalJSON writes the bag as a JSON object in key order.
func (b *Bag) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range b.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(b.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Result is the merged parameter bag plus the two sources it came from.
type Result struct {
	Merged *Bag
	Query  *Bag
	Hash   *Bag
}

// HasOAuthParams reports whether the URL looks like a provider redirect.
func (r *Result) HasOAuthParams() bool {
	return r.Merged.Has(KeyAccessToken) || r.Merged.Has(KeyCode) || r.Merged.Has(KeyError)
}

// Empty returns a Result with no parameters.
func Empty() *Result {
	return &Result{Merged: NewBag(), Query: NewBag(), Hash: NewBag()}
}

// Extract parses rawURL's query string and fragment into one bag, with
// fragment values winning on key collision.
//
// The fragment is only treated as parameters if it contains '='; a plain
// anchor such as "#section" yields an empty Hash bag.
func Extract(rawURL string) (*Result, error) {
	base, fragment, hasFragment := strings.Cut(rawURL, "#")

	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("params: parsing url: %w", err)
	}

	query := parse(u.RawQuery)

	hash := NewBag()
	if hasFragment && strings.Contains(fragment, "=") {
		hash = parse(fragment)
	}

	merged := NewBag()
	for _, k := range query.keys {
		merged.Set(k, query.values[k])
	}
	for _, k := range hash.keys {
		merged.Set(k, hash.values[k])
	}

	return &Result{Merged: merged, Query: query, Hash: hash}, nil
}

// parse reads an application/x-www-form-urlencoded string in order.
// url.ParseQuery is not used because it loses ordering and rejects ';',
// which browsers accept inside values.
func parse(s string) *Bag {
	b := NewBag()
	for _, pair := range strings.Split(s, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		b.Set(unescape(k), unescape(v))
	}
	return b
}

// unescape decodes like a browser: '+' is a space, and a malformed escape is
// kept literally instead of failing the whole parse.
func unescape(s string) string {
	out, err := url.QueryUnescape(s)
	if err != nil {
		return strings.ReplaceAll(s, "+", " ")
	}
	return out
}
