package website

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/signetd/signet/pkg/cerr"
)

// Normalize reduces a request URL to its origin (scheme and host). Two URLs
// differing only in path, query or fragment map to the same domain key.
func Normalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", cerr.NewError(cerr.InvalidArgument, "invalid origin url", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", cerr.NewError(cerr.InvalidArgument, "origin url must be absolute", fmt.Errorf("missing scheme or host in %q", rawURL))
	}
	return u.Scheme + "://" + strings.ToLower(u.Host), nil
}
