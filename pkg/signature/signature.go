// Package signature normalizes and compares cross-language call signatures.
//
// Every protocol has a canonical string form:
//
//	http  "METHOD /path/with/*"   (method "*" when unknown)
//	cli   "prog sub command"      (flags and placeholders removed)
//	ffi   "symbol"
//	rpc   "service.method"        (service "*" when unknown)
//
// Call sites and exports are normalized into the same form so the resolver can
// bucket exports by signature and classify each candidate with Match.
package signature

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/panbanda/embargo/pkg/models"
)

var (
	// ErrEmptySignature is returned when the input carries nothing to match on.
	ErrEmptySignature = errors.New("empty signature")
	// ErrUnknownProtocol is returned for protocols outside the closed set.
	ErrUnknownProtocol = errors.New("unknown protocol")
)

// Wildcard stands in for path parameters, unknown methods and unknown services.
const Wildcard = "*"

// MatchKind classifies how well a call signature matches an export signature.
type MatchKind int

const (
	MatchNone MatchKind = iota
	MatchPartial
	MatchFull
)

// String returns the lowercase name used in edge context.
func (m MatchKind) String() string {
	switch m {
	case MatchFull:
		return "full"
	case MatchPartial:
		return "partial"
	default:
		return "none"
	}
}

var (
	colonParamRe = regexp.MustCompile(`:[a-zA-Z_][a-zA-Z0-9_]*`)
	braceParamRe = regexp.MustCompile(`\{[^}/]*\}`)
	angleParamRe = regexp.MustCompile(`<[^>/]*>`)
	// ${id} in template literals, %s/%d in format strings
	templateParamRe = regexp.MustCompile(`\$\{[^}/]*\}|%[sdvq]`)
)

var httpMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// Normalize builds the canonical call signature from call site metadata.
func Normalize(protocol models.Protocol, meta models.Attrs) (string, error) {
	switch protocol {
	case models.ProtocolHTTP:
		p := meta.Value(models.MetaPath)
		if p == "" {
			p = meta.Value(models.MetaURL)
		}
		return normalizeHTTP(meta.Value(models.MetaMethod), p)
	case models.ProtocolCLI:
		return normalizeCommand(meta.Value(models.MetaCommand))
	case models.ProtocolFFI:
		return normalizeSymbol(meta.Value(models.MetaSymbol))
	case models.ProtocolRPC:
		return normalizeRPC(meta.Value(models.MetaService), meta.Value(models.MetaRPC))
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, string(protocol))
	}
}

// NormalizeExport canonicalizes a declared export signature.
func NormalizeExport(protocol models.Protocol, sig string) (string, error) {
	sig = strings.TrimSpace(sig)
	switch protocol {
	case models.ProtocolHTTP:
		method, rest, found := strings.Cut(sig, " ")
		if found && (httpMethods[strings.ToUpper(method)] || method == Wildcard) {
			return normalizeHTTP(method, strings.TrimSpace(rest))
		}
		return normalizeHTTP("", sig)
	case models.ProtocolCLI:
		return normalizeCommand(sig)
	case models.ProtocolFFI:
		return normalizeSymbol(sig)
	case models.ProtocolRPC:
		service, method := splitRPC(sig)
		return normalizeRPC(service, method)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, string(protocol))
	}
}

// Match classifies a normalized call signature against a normalized export
// signature of the same protocol.
func Match(protocol models.Protocol, call, export string) MatchKind {
	if call == "" || export == "" {
		return MatchNone
	}
	switch protocol {
	case models.ProtocolHTTP:
		return matchHTTP(call, export)
	case models.ProtocolCLI:
		return matchCommand(call, export)
	case models.ProtocolFFI:
		switch {
		case call == export:
			return MatchFull
		case strings.EqualFold(call, export):
			return MatchPartial
		}
	case models.ProtocolRPC:
		return matchRPC(call, export)
	}
	return MatchNone
}

// NormalizePath canonicalizes an HTTP path: query and fragment stripped,
// trailing slash removed, parameters replaced by the wildcard, lowercased.
func NormalizePath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = templateParamRe.ReplaceAllString(p, Wildcard)
	p = colonParamRe.ReplaceAllString(p, Wildcard)
	p = braceParamRe.ReplaceAllString(p, Wildcard)
	p = angleParamRe.ReplaceAllString(p, Wildcard)
	// a leading placeholder is a base URL, not a path segment
	p = strings.TrimPrefix(p, Wildcard+"/")
	p = strings.TrimRight(p, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.ToLower(p)
}

func normalizeHTTP(method, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: http path", ErrEmptySignature)
	}
	if strings.Contains(raw, "://") {
		if u, err := url.Parse(raw); err == nil {
			raw = u.Path
			if raw == "" {
				raw = "/"
			}
		}
	}
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = Wildcard
	}
	return method + " " + NormalizePath(raw), nil
}

func matchHTTP(call, export string) MatchKind {
	if call == export {
		return MatchFull
	}
	cm, cp, _ := strings.Cut(call, " ")
	em, ep, _ := strings.Cut(export, " ")
	if cm != em && cm != Wildcard && em != Wildcard {
		return MatchNone
	}
	if cp == ep || segmentsMatch(cp, ep) {
		return MatchPartial
	}
	return MatchNone
}

// segmentsMatch compares two normalized paths segment by segment, letting a
// wildcard on either side match any single segment.
func segmentsMatch(a, b string) bool {
	as := strings.Split(a, "/")
	bs := strings.Split(b, "/")
	if len(as) != len(bs) {
		return false
	}
	for i := range as {
		if as[i] != bs[i] && as[i] != Wildcard && bs[i] != Wildcard {
			return false
		}
	}
	return true
}

// Tokens splits a command line into its canonical tokens. The program token is
// reduced to its base name without a script extension; flags and placeholder
// tokens such as [args] or <name> are dropped.
func Tokens(command string) []string {
	fields := strings.Fields(command)
	out := make([]string, 0, len(fields))
	for i, f := range fields {
		f = strings.Trim(f, `"'`+"`,")
		if f == "" || strings.HasPrefix(f, "-") {
			continue
		}
		if strings.HasPrefix(f, "[") || strings.HasPrefix(f, "<") || strings.HasPrefix(f, "{") {
			continue
		}
		if i == 0 {
			f = path.Base(strings.ReplaceAll(f, `\`, "/"))
			for _, ext := range []string{".py", ".sh", ".exe", ".js", ".rb"} {
				f = strings.TrimSuffix(f, ext)
			}
		}
		out = append(out, f)
	}
	return out
}

func normalizeCommand(command string) (string, error) {
	tokens := Tokens(command)
	if len(tokens) == 0 {
		return "", fmt.Errorf("%w: cli command", ErrEmptySignature)
	}
	return strings.Join(tokens, " "), nil
}

func matchCommand(call, export string) MatchKind {
	ct := strings.Fields(call)
	et := strings.Fields(export)
	if hasPrefix(ct, et) {
		return MatchFull
	}
	if len(ct) > 1 && hasPrefix(ct[1:], et) {
		return MatchPartial
	}
	return MatchNone
}

func hasPrefix(tokens, prefix []string) bool {
	if len(prefix) == 0 || len(prefix) > len(tokens) {
		return false
	}
	for i := range prefix {
		if tokens[i] != prefix[i] {
			return false
		}
	}
	return true
}

func normalizeSymbol(sym string) (string, error) {
	sym = strings.TrimSpace(sym)
	sym = strings.TrimPrefix(sym, "C.")
	if sym == "" {
		return "", fmt.Errorf("%w: ffi symbol", ErrEmptySignature)
	}
	return sym, nil
}

// splitRPC accepts "Service.Method", "pkg.Service.Method" and the gRPC wire
// form "/pkg.Service/Method".
func splitRPC(sig string) (service, method string) {
	sig = strings.TrimPrefix(strings.TrimSpace(sig), "/")
	if s, m, ok := strings.Cut(sig, "/"); ok {
		return s, m
	}
	if i := strings.LastIndexByte(sig, '.'); i >= 0 {
		return sig[:i], sig[i+1:]
	}
	return "", sig
}

// ServiceName reduces a service identifier to its bare, lowercase name:
// package qualifiers and generated-code suffixes are removed.
func ServiceName(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimPrefix(s, "*")
	for _, suffix := range []string{"Servicer", "Server", "Stub", "Client", "Service"} {
		if len(s) > len(suffix) && strings.HasSuffix(s, suffix) {
			s = strings.TrimSuffix(s, suffix)
			break
		}
	}
	return strings.ToLower(s)
}

func normalizeRPC(service, method string) (string, error) {
	method = strings.TrimSpace(method)
	if method == "" {
		return "", fmt.Errorf("%w: rpc method", ErrEmptySignature)
	}
	if strings.Contains(method, "/") || (service == "" && strings.Contains(method, ".")) {
		service, method = splitRPC(method)
	}
	svc := ServiceName(service)
	if svc == "" {
		svc = Wildcard
	}
	return svc + "." + strings.ToLower(method), nil
}

func matchRPC(call, export string) MatchKind {
	if call == export && !strings.HasPrefix(call, Wildcard+".") {
		return MatchFull
	}
	cs, cm := splitLast(call)
	es, em := splitLast(export)
	if cm != em {
		return MatchNone
	}
	if cs == Wildcard || es == Wildcard {
		return MatchPartial
	}
	return MatchNone
}

func splitLast(sig string) (string, string) {
	i := strings.LastIndexByte(sig, '.')
	if i < 0 {
		return "", sig
	}
	return sig[:i], sig[i+1:]
}
