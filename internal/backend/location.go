package backend

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParseLocation parses the CLI location syntax spec.md §6 defines —
// folder:<fs-path>, zip:<fs-path>, ftp://[user[:pass]@]host[:port][/root],
// sftp://…/ssh://… — and returns the matching Backend instance.
func ParseLocation(ctx context.Context, input string) (Backend, error) {
	input = strings.TrimSpace(input)

	typ, rest, ok := strings.Cut(input, ":")
	if !ok {
		return nil, fmt.Errorf("backend: invalid location %q, expected type:path", input)
	}

	switch typ {
	case "folder":
		return NewFolder(rest)
	case "zip":
		return NewZip(strings.TrimPrefix(rest, "//"))
	case "ftp":
		return newFTPFromURL(ctx, input)
	case "sftp", "ssh":
		return newSFTPFromURL(ctx, input)
	default:
		return nil, fmt.Errorf("backend: unknown location type %q", typ)
	}
}

// parsedRemote holds the pieces common to FTP and SFTP location URLs.
type parsedRemote struct {
	host string
	port int
	user string
	pass string
	root string
}

// parseRemoteURL parses a ftp://, sftp://, or ssh:// URL, percent-decoding
// embedded credentials (the teacher's original Rust revision does the same
// with percent_decode_str before handing the credentials to the SSH client).
func parseRemoteURL(raw string, defaultPort int) (parsedRemote, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return parsedRemote{}, fmt.Errorf("backend: invalid URL %q: %w", raw, err)
	}

	if u.Host == "" {
		return parsedRemote{}, fmt.Errorf("backend: no host in %q", raw)
	}

	host := u.Hostname()
	port := defaultPort
	if p := u.Port(); p != "" {
		parsed, err := strconv.Atoi(p)
		if err != nil {
			return parsedRemote{}, fmt.Errorf("backend: invalid port in %q: %w", raw, err)
		}
		port = parsed
	}

	user := ""
	pass := ""
	if u.User != nil {
		user = u.User.Username()
		pass, _ = u.User.Password()
	}

	root := strings.TrimPrefix(u.Path, "/")

	return parsedRemote{host: host, port: port, user: user, pass: pass, root: root}, nil
}
