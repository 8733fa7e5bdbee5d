package blockfs

import (
	"strings"

	"github.com/elliotwutingfeng/asciiset"
)

const (
	// Separator divides path components.
	Separator = '/'
	// Escape makes the following separator or escape byte part of a name.
	Escape = '\\'
)

// metachars are the bytes that must be escaped inside a name.
var metachars = mustASCIISet(string([]byte{Separator, Escape}))

func mustASCIISet(chars string) asciiset.ASCIISet {
	as, ok := asciiset.MakeASCIISet(chars)
	if !ok {
		panic("path metacharacters must be ASCII")
	}
	return as
}

// Components splits a path into unescaped names. absolute reports a leading
// separator, meaning resolution starts at the root instead of the current
// directory. Empty components are dropped.
func Components(p string) (absolute bool, names []string) {
	absolute = len(p) > 0 && p[0] == Separator

	var name strings.Builder
	for i := 0; i < len(p); i++ {
		c := p[i]
		switch {
		case c == Escape && i+1 < len(p) && metachars.Contains(p[i+1]):
			i++
			name.WriteByte(p[i])
		case c == Separator:
			if name.Len() > 0 {
				names = append(names, name.String())
				name.Reset()
			}
		default:
			name.WriteByte(c)
		}
	}
	if name.Len() > 0 {
		names = append(names, name.String())
	}
	return absolute, names
}

// Normalize returns the canonical form of p: repeated separators collapsed,
// exactly one trailing separator, and separators inside names escaped.
// The root is "/" and the empty path (the current directory) stays "".
func Normalize(p string) string {
	return render(Components(p))
}

func render(absolute bool, names []string) string {
	var sb strings.Builder
	if absolute {
		sb.WriteByte(Separator)
	}
	for _, name := range names {
		sb.WriteString(escapeName(name))
		sb.WriteByte(Separator)
	}
	return sb.String()
}

// Split separates a path into its parent path (canonical) and the unescaped
// name of its last component. The root and the empty path have no leaf.
func Split(p string) (parent, leaf string) {
	absolute, names := Components(p)
	if len(names) == 0 {
		return render(absolute, nil), ""
	}
	last := len(names) - 1
	return render(absolute, names[:last]), names[last]
}

// PopPath removes the first component from p. A leading separator pops as
// "/"; otherwise name is the unescaped first component and trim the rest of
// the path with leading separators removed.
func PopPath(p string) (name, trim string) {
	if p == "" {
		return "", ""
	}
	if p[0] == Separator {
		return "/", strings.TrimLeft(p, "/")
	}
	i := indexSeparator(p)
	if i < 0 {
		return unescape(p), ""
	}
	return unescape(p[:i]), strings.TrimLeft(p[i+1:], "/")
}

// JoinName appends an escaped name to a directory prefix ending in a separator.
func JoinName(prefix, name string) string {
	return prefix + escapeName(name)
}

// indexSeparator returns the index of the first unescaped separator, or -1.
func indexSeparator(p string) int {
	for i := 0; i < len(p); i++ {
		switch {
		case p[i] == Escape && i+1 < len(p) && metachars.Contains(p[i+1]):
			i++
		case p[i] == Separator:
			return i
		}
	}
	return -1
}

func unescape(name string) string {
	if strings.IndexByte(name, Escape) < 0 {
		return name
	}
	_, names := Components(name)
	return strings.Join(names, "")
}

func escapeName(name string) string {
	var sb strings.Builder
	for i := 0; i < len(name); i++ {
		if metachars.Contains(name[i]) {
			sb.WriteByte(Escape)
		}
		sb.WriteByte(name[i])
	}
	return sb.String()
}
