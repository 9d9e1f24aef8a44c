package parser

import (
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/panbanda/embargo/pkg/models"
)

// Route and client patterns follow the common framework idioms: Flask and
// FastAPI decorators, Express routers, gin/chi/net/http muxes, Spring and
// ASP.NET attributes, actix macros.
var (
	pyRouteRe     = regexp.MustCompile(`^@\s*[\w.]+\.(route|api_route|get|post|put|delete|patch|head|options)\(\s*(?:(?:rule|path)\s*=\s*)?[rbuf]?["']([^"']*)["']`)
	pyMethodsRe   = regexp.MustCompile(`methods\s*=\s*[\[(]([^\])]*)[\])]`)
	quotedRe      = regexp.MustCompile(`["']([^"']+)["']`)
	clickRe       = regexp.MustCompile(`^@\s*(?:[\w.]+\.)?(command|group)\(\s*(?:name\s*=\s*)?(?:["']([^"']+)["'])?`)
	springRe      = regexp.MustCompile(`@(Get|Post|Put|Delete|Patch|Request)Mapping(?:\(\s*(?:(?:value|path)\s*=\s*)?\{?\s*"([^"]*)")?`)
	springClassRe = regexp.MustCompile(`@RequestMapping\(\s*(?:(?:value|path)\s*=\s*)?\{?\s*"([^"]*)"`)
	springVerbRe  = regexp.MustCompile(`method\s*=\s*\{?\s*(?:RequestMethod\.)?(\w+)`)
	aspnetRe      = regexp.MustCompile(`\[Http(Get|Post|Put|Delete|Patch)(?:\(\s*"([^"]*)"\s*\))?\]`)
	aspnetClassRe = regexp.MustCompile(`\[Route\(\s*"([^"]*)"\s*\)\]`)
	actixRe       = regexp.MustCompile(`#\[(get|post|put|delete|patch|head)\(\s*"([^"]+)"`)
	noMangleRe    = regexp.MustCompile(`#\[(?:unsafe\()?no_mangle\)?\]`)
	exportNameRe  = regexp.MustCompile(`#\[(?:unsafe\()?export_name\s*=\s*"([^"]+)"`)
	cgoExportRe   = regexp.MustCompile(`//export\s+(\w+)`)

	jsRouteRe = regexp.MustCompile(`^(?:app|router|server|api|routes|r|\w*[Rr]outer)\.(get|post|put|delete|patch|all|head|options)$`)
	goRouteRe = regexp.MustCompile(`^[\w.]+\.(GET|POST|PUT|DELETE|PATCH|HEAD|OPTIONS|Any|Get|Post|Put|Delete|Patch|Head|Options|HandleFunc|Handle)$`)

	pyHTTPCallRe   = regexp.MustCompile(`^(?:requests|httpx|(?:self\.)?\w*(?:session|client|Session|Client))\.(get|post|put|delete|patch|head|options|request)$`)
	jsHTTPCallRe   = regexp.MustCompile(`^(?:axios|(?:this\.)?\w*(?:api|http|client|Client|Api|Http))\.(get|post|put|delete|patch|head|options)$`)
	goHTTPCallRe   = regexp.MustCompile(`^(?:http|\w*[Cc]lient)\.(Get|Post|PostForm|Head)$`)
	goNewRequestRe = regexp.MustCompile(`^http\.NewRequest(WithContext)?$`)
	fetchMethodRe  = regexp.MustCompile(`method\s*:\s*["'](\w+)["']`)
	formatCallRe   = regexp.MustCompile(`^(?:fmt\.Sprintf|String\.format|string\.Format)\(`)

	pyCLIRe = regexp.MustCompile(`^(?:subprocess\.(?:run|call|check_call|check_output|Popen)|os\.system|os\.popen)$`)
	goCLIRe = regexp.MustCompile(`^exec\.Command(?:Context)?$`)
	jsCLIRe = regexp.MustCompile(`^(?:(child_process|childProcess|cp)\.)?(?:exec|execSync|spawn|spawnSync|execFile|execFileSync)$`)

	argparseRe  = regexp.MustCompile(`\.add_parser$`)
	commanderRe = regexp.MustCompile(`^\w*(?:program|cli|commander)\.command$`)
	cobraTypeRe = regexp.MustCompile(`^&?(?:cobra\.Command|cli\.Command|cli\.App)$`)
	cobraUseRe  = regexp.MustCompile(`\bUse:\s*"([^"]+)"`)
	cobraRunRe  = regexp.MustCompile(`\bRunE?:\s*([A-Za-z_][\w.]*)\s*[,}\n]`)
	cliNameRe   = regexp.MustCompile(`\bName:\s*"([^"]+)"`)
	cliActionRe = regexp.MustCompile(`\bAction:\s*([A-Za-z_][\w.]*)\s*[,}\n]`)

	pyStubRe       = regexp.MustCompile(`((?:self\.)?\w+)\s*=\s*(?:[\w.]+\.)?(\w+Stub)\(`)
	goClientRe     = regexp.MustCompile(`([\w.]+)\s*:?=\s*(?:\w+\.)?New(\w+Client)\(`)
	javaStubRe     = regexp.MustCompile(`(\w+)\s*=\s*(\w+)Grpc\.new(?:Blocking|Future)?Stub\(`)
	grpcImplRe     = regexp.MustCompile(`type\s+(\w+)\s+struct\s*\{[^}]*?Unimplemented(\w+)Server`)
	ctypesImportRe = regexp.MustCompile(`(?m)^\s*(?:import\s+ctypes|from\s+ctypes\s+import)`)
	ctypesLibRe    = regexp.MustCompile(`((?:self\.)?\w+)\s*=\s*(?:ctypes\.)?(?:cdll\.LoadLibrary|windll\.LoadLibrary|CDLL|WinDLL|PyDLL|cdll\.\w+)\(`)
)

var httpVerbs = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true,
	"PATCH": true, "HEAD": true, "OPTIONS": true,
}

// scanProtocolHandles finds the variables that hold RPC clients and FFI
// library handles.
func (x *extractor) scanProtocolHandles() {
	switch x.lang {
	case LangPython:
		for _, m := range pyStubRe.FindAllSubmatch(x.src, -1) {
			x.stubs[string(m[1])] = string(m[2])
		}
		if ctypesImportRe.Match(x.src) {
			for _, m := range ctypesLibRe.FindAllSubmatch(x.src, -1) {
				x.ctypes[string(m[1])] = true
			}
		}
	case LangGo:
		for _, m := range goClientRe.FindAllSubmatch(x.src, -1) {
			x.stubs[string(m[1])] = string(m[2])
		}
		for _, m := range grpcImplRe.FindAllSubmatch(x.src, -1) {
			x.grpcImpls[string(m[1])] = string(m[2])
		}
	case LangJava:
		for _, m := range javaStubRe.FindAllSubmatch(x.src, -1) {
			x.stubs[string(m[1])] = string(m[2])
		}
	}
}

func (x *extractor) export(node models.Key, proto models.Protocol, sig string, attrs models.Attrs) {
	x.res.Exports = append(x.res.Exports, models.NodeExport{
		Node:       node,
		Protocol:   proto,
		Signature:  sig,
		Attributes: attrs,
	})
}

func httpRoute(method, path, framework string) models.NodeExport {
	method = strings.ToUpper(method)
	if method == "" {
		method = "*"
	}
	return models.NodeExport{
		Protocol:  models.ProtocolHTTP,
		Signature: method + " " + path,
		Attributes: models.Attrs{
			{Key: models.MetaMethod, Value: method},
			{Key: models.MetaPath, Value: path},
			{Key: "framework", Value: framework},
		},
	}
}

func (x *extractor) httpExport(node models.Key, method, path, framework string) {
	e := httpRoute(method, path, framework)
	e.Node = node
	x.res.Exports = append(x.res.Exports, e)
}

// decorators returns the Python decorators applied to n.
func (x *extractor) decorators(n *sitter.Node) []string {
	p := n.Parent()
	if p == nil || p.Type() != "decorated_definition" {
		return nil
	}
	var out []string
	for i := range int(p.NamedChildCount()) {
		if c := p.NamedChild(i); c.Type() == "decorator" {
			out = append(out, x.text(c))
		}
	}
	return out
}

// functionExports registers the protocol entrypoints a function declares
// through decorators, annotations, attributes or directives.
func (x *extractor) functionExports(n *sitter.Node, key models.Key, name string, kind models.NodeKind, s scope) {
	switch x.lang {
	case LangPython:
		for _, d := range x.decorators(n) {
			if m := pyRouteRe.FindStringSubmatch(d); m != nil {
				methods := []string{m[1]}
				if m[1] == "route" || m[1] == "api_route" {
					methods = []string{"GET"}
					if mm := pyMethodsRe.FindStringSubmatch(d); mm != nil {
						methods = methods[:0]
						for _, q := range quotedRe.FindAllStringSubmatch(mm[1], -1) {
							methods = append(methods, q[1])
						}
					}
				}
				for _, verb := range methods {
					x.httpExport(key, verb, joinRoute(s.prefix, m[2]), "python")
				}
				continue
			}
			if m := clickRe.FindStringSubmatch(d); m != nil {
				cmd := m[2]
				if cmd == "" {
					cmd = strings.ReplaceAll(name, "_", "-")
				}
				x.export(key, models.ProtocolCLI, cmd, models.Attrs{{Key: models.MetaCommand, Value: cmd}})
			}
		}
		if s.rpcService != "" && kind == models.KindMethod && !strings.HasPrefix(name, "_") {
			x.rpcExport(key, s.rpcService, name)
		}

	case LangJava:
		pre := x.preamble(n)
		for _, m := range springRe.FindAllStringSubmatch(pre, -1) {
			verb := m[1]
			if verb == "Request" {
				verb = "*"
				if v := springVerbRe.FindStringSubmatch(pre); v != nil {
					verb = v[1]
				}
			}
			x.httpExport(key, verb, joinRoute(s.prefix, m[2]), "spring")
		}
		if s.rpcService != "" && kind == models.KindMethod && x.hasModifier(n, "public") {
			x.rpcExport(key, s.rpcService, name)
		}

	case LangCSharp:
		for _, m := range aspnetRe.FindAllStringSubmatch(x.preamble(n), -1) {
			x.httpExport(key, m[1], joinRoute(s.prefix, m[2]), "aspnet")
		}

	case LangRust:
		pre := x.preamble(n)
		for _, m := range actixRe.FindAllStringSubmatch(pre, -1) {
			x.httpExport(key, m[1], m[2], "actix")
		}
		if m := exportNameRe.FindStringSubmatch(pre); m != nil {
			x.ffiExport(key, m[1])
		} else if noMangleRe.MatchString(pre) {
			x.ffiExport(key, name)
		}

	case LangGo:
		if m := cgoExportRe.FindStringSubmatch(x.preamble(n)); m != nil {
			x.ffiExport(key, m[1])
		}
		if n.Type() == "method_declaration" && x.exported(n, name, s) && x.firstParamIsContext(n) {
			recv := x.goReceiver(n)
			svc := x.grpcImpls[recv]
			if svc == "" && strings.HasSuffix(recv, "Server") {
				svc = recv
			}
			if svc != "" {
				x.rpcExport(key, svc, name)
			}
		}

	case LangC, LangCPP:
		if kind == models.KindFunction && s.class < 0 && name != "main" && x.exported(n, name, s) {
			x.ffiExport(key, name)
		}
	}
}

func (x *extractor) rpcExport(key models.Key, service, method string) {
	x.export(key, models.ProtocolRPC, service+"."+method, models.Attrs{
		{Key: models.MetaRPC, Value: method},
	})
}

func (x *extractor) ffiExport(key models.Key, symbol string) {
	x.export(key, models.ProtocolFFI, symbol, models.Attrs{{Key: models.MetaSymbol, Value: symbol}})
}

func (x *extractor) firstParamIsContext(n *sitter.Node) bool {
	params := n.ChildByFieldName("parameters")
	if params == nil {
		return false
	}
	for i := range int(params.NamedChildCount()) {
		p := params.NamedChild(i)
		if p.Type() == "parameter_declaration" {
			return x.text(p.ChildByFieldName("type")) == "context.Context"
		}
	}
	return false
}

// classRoutePrefix returns the route prefix a controller class applies to
// its handlers.
func (x *extractor) classRoutePrefix(n *sitter.Node, name string) string {
	switch x.lang {
	case LangJava:
		if m := springClassRe.FindStringSubmatch(x.preamble(n)); m != nil {
			return m[1]
		}
	case LangCSharp:
		if m := aspnetClassRe.FindStringSubmatch(x.preamble(n)); m != nil {
			controller := strings.ToLower(strings.TrimSuffix(name, "Controller"))
			return strings.ReplaceAll(m[1], "[controller]", controller)
		}
	}
	return ""
}

func joinRoute(prefix, p string) string {
	if prefix == "" {
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		return p
	}
	out := "/" + strings.Trim(prefix, "/")
	if p = strings.Trim(p, "/"); p != "" {
		out += "/" + p
	}
	return out
}

func isInlineFunc(n *sitter.Node) bool {
	switch n.Type() {
	case "arrow_function", "function", "function_expression", "func_literal":
		return true
	}
	return false
}

// namedArgs returns the argument expressions of an argument list.
func namedArgs(args *sitter.Node) []*sitter.Node {
	if args == nil {
		return nil
	}
	var out []*sitter.Node
	for i := range int(args.NamedChildCount()) {
		a := args.NamedChild(i)
		if isComment(a) {
			continue
		}
		out = append(out, a)
	}
	return out
}

// routeCall turns a router registration into an HTTP export. Inline
// handlers become their own function node. It reports whether the call's
// children were visited.
func (x *extractor) routeCall(n *sitter.Node, callee string, args *sitter.Node, s scope) bool {
	var m []string
	switch x.lang {
	case LangJavaScript, LangTypeScript, LangTSX:
		m = jsRouteRe.FindStringSubmatch(callee)
	case LangGo:
		m = goRouteRe.FindStringSubmatch(callee)
	}
	argv := namedArgs(args)
	if m == nil || len(argv) < 2 {
		return false
	}
	pattern, ok := literal(x.text(argv[0]))
	if !ok {
		return false
	}
	method := strings.ToUpper(m[1])
	switch method {
	case "ALL", "ANY", "HANDLEFUNC", "HANDLE":
		method = "*"
	}
	if verb, rest, found := strings.Cut(pattern, " "); found && httpVerbs[strings.ToUpper(verb)] {
		method, pattern = strings.ToUpper(verb), strings.TrimSpace(rest)
	}
	if !strings.HasPrefix(pattern, "/") {
		return false
	}
	framework := "express"
	if x.lang == LangGo {
		framework = "go"
	}

	handler := argv[len(argv)-1]
	if !isInlineFunc(handler) {
		x.exports = append(x.exports, pendingExport{
			handler:  baseName(x.text(handler)),
			fallback: s.owner,
			export:   httpRoute(method, pattern, framework),
		})
		for _, a := range argv {
			x.walk(a, s)
		}
		return true
	}

	sig := method + " " + pattern
	key := x.res.AddNode(models.Node{
		Name:      sig,
		Kind:      models.KindFunction,
		Lines:     lines(handler),
		Exported:  true,
		Arity:     x.arity(handler, false),
		Signature: x.signature(handler),
	})
	x.httpExport(key, method, pattern, framework)
	for _, a := range argv[:len(argv)-1] {
		x.walk(a, s)
	}
	inner := scope{owner: key, class: -1}
	if body := handler.ChildByFieldName("body"); body != nil {
		x.walk(body, inner)
	} else {
		x.walkChildren(handler, inner)
	}
	return true
}

// cliRegistration records subcommands declared through argparse or commander.
func (x *extractor) cliRegistration(callee string, args *sitter.Node, s scope) {
	var ok bool
	switch x.lang {
	case LangPython:
		ok = argparseRe.MatchString(callee)
	case LangJavaScript, LangTypeScript, LangTSX:
		ok = commanderRe.MatchString(callee)
	}
	argv := namedArgs(args)
	if !ok || len(argv) == 0 {
		return
	}
	cmd, isLit := literal(x.text(argv[0]))
	if !isLit || cmd == "" {
		return
	}
	x.export(s.owner, models.ProtocolCLI, cmd, models.Attrs{{Key: models.MetaCommand, Value: cmd}})
}

// commandLiteral registers cobra and urfave/cli command definitions.
func (x *extractor) commandLiteral(n *sitter.Node, s scope) {
	if !cobraTypeRe.MatchString(x.text(n.ChildByFieldName("type"))) {
		return
	}
	body := x.text(n.ChildByFieldName("body"))
	var cmd, handler string
	if m := cobraUseRe.FindStringSubmatch(body); m != nil {
		cmd = m[1]
		if h := cobraRunRe.FindStringSubmatch(body); h != nil {
			handler = h[1]
		}
	} else if m := cliNameRe.FindStringSubmatch(body); m != nil {
		cmd = m[1]
		if h := cliActionRe.FindStringSubmatch(body); h != nil {
			handler = h[1]
		}
	}
	if cmd == "" {
		return
	}
	x.exports = append(x.exports, pendingExport{
		handler:  baseName(handler),
		fallback: s.owner,
		export: models.NodeExport{
			Protocol:   models.ProtocolCLI,
			Signature:  cmd,
			Attributes: models.Attrs{{Key: models.MetaCommand, Value: cmd}},
		},
	})
}

func splitCallee(callee string) (obj, name string) {
	i := strings.LastIndexByte(callee, '.')
	if i < 0 {
		return "", callee
	}
	return callee[:i], callee[i+1:]
}

// protocolCall classifies a call as a cross-language invocation.
func (x *extractor) protocolCall(callee string, args *sitter.Node) (models.Protocol, models.Attrs, bool) {
	obj, name := splitCallee(callee)
	switch x.lang {
	case LangGo:
		if sym, ok := strings.CutPrefix(callee, "C."); ok {
			return models.ProtocolFFI, models.Attrs{{Key: models.MetaSymbol, Value: sym}}, true
		}
	case LangPython:
		if obj != "" && x.ctypes[obj] {
			return models.ProtocolFFI, models.Attrs{{Key: models.MetaSymbol, Value: name}}, true
		}
	case LangRust:
		if x.externs[callee] {
			return models.ProtocolFFI, models.Attrs{{Key: models.MetaSymbol, Value: callee}}, true
		}
	}
	if svc, ok := x.stubs[obj]; ok && obj != "" {
		return models.ProtocolRPC, models.Attrs{
			{Key: models.MetaService, Value: svc},
			{Key: models.MetaRPC, Value: name},
		}, true
	}

	argv := namedArgs(args)
	if meta, ok := x.httpCall(callee, argv); ok {
		return models.ProtocolHTTP, meta, true
	}
	if meta, ok := x.cliCall(callee, argv); ok {
		return models.ProtocolCLI, meta, true
	}
	return models.ProtocolNone, nil, false
}

func (x *extractor) httpCall(callee string, argv []*sitter.Node) (models.Attrs, bool) {
	var method string
	urlIdx := 0
	switch x.lang {
	case LangPython:
		m := pyHTTPCallRe.FindStringSubmatch(callee)
		if m == nil {
			return nil, false
		}
		method = m[1]
		if method == "request" {
			if len(argv) == 0 {
				return nil, false
			}
			method, _ = literal(x.text(argv[0]))
			urlIdx = 1
		}
	case LangJavaScript, LangTypeScript, LangTSX:
		if callee == "fetch" {
			method = "GET"
			if len(argv) > 1 {
				if mm := fetchMethodRe.FindStringSubmatch(x.text(argv[1])); mm != nil {
					method = mm[1]
				}
			}
			break
		}
		m := jsHTTPCallRe.FindStringSubmatch(callee)
		if m == nil {
			return nil, false
		}
		method = m[1]
	case LangGo:
		if m := goHTTPCallRe.FindStringSubmatch(callee); m != nil {
			switch m[1] {
			case "Get":
				method = "GET"
			case "Head":
				method = "HEAD"
			default:
				method = "POST"
			}
			break
		}
		m := goNewRequestRe.FindStringSubmatch(callee)
		if m == nil {
			return nil, false
		}
		if m[1] != "" {
			urlIdx = 1
		}
		if urlIdx >= len(argv) {
			return nil, false
		}
		method = goMethodConst(x.text(argv[urlIdx]))
		urlIdx++
	default:
		return nil, false
	}

	if urlIdx >= len(argv) {
		return nil, false
	}
	u := urlFromExpr(x.text(argv[urlIdx]))
	if !strings.Contains(u, "/") {
		return nil, false
	}
	return models.Attrs{
		{Key: models.MetaMethod, Value: strings.ToUpper(method)},
		{Key: models.MetaURL, Value: u},
	}, true
}

// goMethodConst reads a method from a string literal or a net/http
// MethodX constant.
func goMethodConst(expr string) string {
	if lit, ok := literal(expr); ok {
		return lit
	}
	if m, ok := strings.CutPrefix(expr, "http.Method"); ok {
		return m
	}
	return ""
}

func (x *extractor) cliCall(callee string, argv []*sitter.Node) (models.Attrs, bool) {
	switch x.lang {
	case LangPython:
		if !pyCLIRe.MatchString(callee) {
			return nil, false
		}
	case LangGo:
		if !goCLIRe.MatchString(callee) {
			return nil, false
		}
	case LangJavaScript, LangTypeScript, LangTSX:
		m := jsCLIRe.FindStringSubmatch(callee)
		if m == nil || (m[1] == "" && !x.childProc) {
			return nil, false
		}
	default:
		return nil, false
	}
	cmd := x.commandArgs(argv)
	if cmd == "" {
		return nil, false
	}
	return models.Attrs{{Key: models.MetaCommand, Value: cmd}}, true
}

// commandArgs joins the literal words of a command invocation. Keyword
// arguments and option objects are ignored.
func (x *extractor) commandArgs(argv []*sitter.Node) string {
	var words []string
	for _, a := range argv {
		switch a.Type() {
		case "keyword_argument", "object", "pair", "dictionary":
			continue
		case "list", "array", "tuple":
			for i := range int(a.NamedChildCount()) {
				if lit, ok := literal(x.text(a.NamedChild(i))); ok {
					words = append(words, lit)
				}
			}
			continue
		}
		if lit, ok := literal(x.text(a)); ok {
			words = append(words, lit)
		}
	}
	return strings.TrimSpace(strings.Join(words, " "))
}

// literal returns the contents of a leading string literal. Python string
// prefixes and template literals are accepted; trailing text such as a
// format call is ignored.
func literal(s string) (string, bool) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && i < 2 && strings.IndexByte("rRbBuUfF", s[i]) >= 0 {
		i++
	}
	if i >= len(s) {
		return "", false
	}
	q := s[i]
	if q != '"' && q != '\'' && q != '`' {
		return "", false
	}
	s = s[i:]
	if len(s) >= 6 && (strings.HasPrefix(s, `"""`) || strings.HasPrefix(s, `'''`)) {
		if end := strings.Index(s[3:], s[:3]); end >= 0 {
			return s[3 : 3+end], true
		}
		return "", false
	}
	for j := 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			j++
		case q:
			return s[1:j], true
		}
	}
	return "", false
}

func unquote(s string) string {
	return strings.Trim(strings.TrimSpace(s), "\"'`")
}

// urlFromExpr rebuilds a URL path from a string expression. Literal pieces
// are kept, a leading non-literal operand is treated as the base URL and
// later ones become path parameters.
func urlFromExpr(expr string) string {
	expr = strings.TrimSpace(expr)
	if loc := formatCallRe.FindStringIndex(expr); loc != nil {
		lit, _ := literal(expr[loc[1]:])
		return lit
	}
	var b strings.Builder
	for _, part := range splitConcat(expr) {
		if lit, ok := literal(part); ok {
			b.WriteString(lit)
			continue
		}
		if b.Len() > 0 {
			b.WriteString("{param}")
		}
	}
	return b.String()
}

// splitConcat splits expr on top-level '+' operators.
func splitConcat(expr string) []string {
	var parts []string
	depth, start := 0, 0
	var quote byte
	for i := 0; i < len(expr); i++ {
		c := expr[i]
		switch {
		case quote != 0:
			if c == '\\' {
				i++
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'' || c == '`':
			quote = c
		case c == '(' || c == '[' || c == '{':
			depth++
		case c == ')' || c == ']' || c == '}':
			depth--
		case c == '+' && depth == 0:
			parts = append(parts, strings.TrimSpace(expr[start:i]))
			start = i + 1
		}
	}
	return append(parts, strings.TrimSpace(expr[start:]))
}
