package parser

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/panbanda/embargo/pkg/models"
)

const (
	maxSignatureLen = 240
	maxRawLen       = 160
)

// scope is the syntactic context a node is visited in.
type scope struct {
	owner      models.Key // caller for call sites found here
	class      int        // enclosing class node, -1 outside a class body
	typeName   string     // receiver type for impl blocks
	prefix     string     // class-level route prefix
	exported   bool       // enclosing class visibility
	rpcService string     // enclosing gRPC servicer
	iface      bool       // members are implicitly public
}

type pendingBase struct {
	from      int
	fromName  string
	base      string
	implement bool
}

type pendingMember struct {
	typeName string
	member   int
}

type pendingExport struct {
	handler  string
	fallback models.Key
	export   models.NodeExport
}

type extractor struct {
	lang Language
	src  []byte
	res  *models.ParseResult

	module models.Key

	imported   map[string]bool   // names bound by imports
	funcs      map[string]int    // first function node per name
	classes    map[string]int    // first class-like node per name
	externs    map[string]bool   // Rust extern block symbols
	ctypes     map[string]bool   // Python ctypes library handles
	stubs      map[string]string // RPC client variable -> service
	grpcImpls  map[string]string // Go server type -> service
	cjsExports map[string]bool   // CommonJS exported names
	childProc  bool

	bases   []pendingBase
	members []pendingMember
	exports []pendingExport
}

func extract(lang Language, path string, src []byte, root *sitter.Node) *models.ParseResult {
	name, module := moduleName(lang, path, src)
	x := &extractor{
		lang:       lang,
		src:        src,
		res:        models.NewParseResult(path, string(lang), module),
		imported:   make(map[string]bool),
		funcs:      make(map[string]int),
		classes:    make(map[string]int),
		externs:    make(map[string]bool),
		ctypes:     make(map[string]bool),
		stubs:      make(map[string]string),
		grpcImpls:  make(map[string]string),
		cjsExports: make(map[string]bool),
	}
	x.module = x.res.AddNode(models.Node{
		Name:  name,
		Kind:  models.KindModule,
		Lines: models.LineRange{Start: 1, End: int(root.EndPoint().Row) + 1},
		Arity: models.ArityUnknown,
	})
	x.prescan(root)
	x.walk(root, scope{owner: x.module, class: -1})
	x.finish()
	return x.res
}

var (
	goPackageRe     = regexp.MustCompile(`(?m)^\s*package\s+(\w+)`)
	javaPackageRe   = regexp.MustCompile(`(?m)^\s*package\s+([\w.]+)\s*;`)
	csNamespaceRe   = regexp.MustCompile(`(?m)^\s*namespace\s+([\w.]+)`)
	cjsObjectRe     = regexp.MustCompile(`module\.exports\s*=\s*\{([^}]*)\}`)
	cjsNameRe       = regexp.MustCompile(`(?:module\.)?exports\.(\w+)\s*=|module\.exports\s*=\s*(\w+)\s*;?\s*$`)
	identRe         = regexp.MustCompile(`[A-Za-z_$][\w$]*`)
	whitespaceRe    = regexp.MustCompile(`\s+`)
	commentMarkerRe = regexp.MustCompile(`^\s*(?:///?!?|#|/\*\*?|\*/|\*)\s?`)
)

// moduleName returns the display name and the resolution name of the file's
// module.
func moduleName(lang Language, path string, src []byte) (name, module string) {
	slash := filepath.ToSlash(path)
	dir := filepath.ToSlash(filepath.Dir(path))
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	noExt := strings.TrimSuffix(slash, filepath.Ext(slash))

	switch lang {
	case LangGo:
		if m := goPackageRe.FindSubmatch(src); m != nil {
			return string(m[1]), dir
		}
		return filepath.Base(dir), dir
	case LangPython:
		if stem == "__init__" {
			return filepath.Base(dir), dir
		}
	case LangJavaScript, LangTypeScript, LangTSX:
		if stem == "index" {
			return filepath.Base(dir), dir
		}
	case LangRust:
		if stem == "mod" || stem == "lib" || stem == "main" {
			return filepath.Base(dir), dir
		}
	case LangJava:
		if m := javaPackageRe.FindSubmatch(src); m != nil {
			return stem, string(m[1]) + "." + stem
		}
		return stem, stem
	case LangCSharp:
		if m := csNamespaceRe.FindSubmatch(src); m != nil {
			return string(m[1]), string(m[1])
		}
	}
	return stem, noExt
}

func (x *extractor) text(n *sitter.Node) string {
	return GetNodeText(n, x.src)
}

func line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

func lines(n *sitter.Node) models.LineRange {
	return models.LineRange{Start: int(n.StartPoint().Row) + 1, End: int(n.EndPoint().Row) + 1}
}

// prescan collects the file-wide facts that call classification depends on
// before any call is visited.
func (x *extractor) prescan(root *sitter.Node) {
	switch x.lang {
	case LangRust:
		for _, fm := range FindNodesByType(root, x.src, "foreign_mod_item") {
			for _, sig := range FindNodesByType(fm, x.src, "function_signature_item") {
				if name := sig.ChildByFieldName("name"); name != nil {
					x.externs[x.text(name)] = true
				}
			}
		}
	case LangJavaScript, LangTypeScript, LangTSX:
		x.childProc = strings.Contains(string(x.src), "child_process")
		if m := cjsObjectRe.FindSubmatch(x.src); m != nil {
			for _, part := range strings.Split(string(m[1]), ",") {
				key, _, _ := strings.Cut(strings.TrimSpace(part), ":")
				if id := identRe.FindString(key); id != "" {
					x.cjsExports[id] = true
				}
			}
		}
		for _, m := range cjsNameRe.FindAllSubmatch(x.src, -1) {
			for _, g := range m[1:] {
				if len(g) > 0 {
					x.cjsExports[string(g)] = true
				}
			}
		}
	}
	x.scanProtocolHandles()
}

// walk visits n and its descendants.
func (x *extractor) walk(n *sitter.Node, s scope) {
	if n == nil {
		return
	}
	switch n.Type() {
	case "comment", "line_comment", "block_comment",
		"decorator", "attribute_item", "annotation", "marker_annotation", "attribute_list":
		return
	}

	switch {
	case x.isFunction(n):
		x.function(n, s)
		return
	case x.isClass(n):
		x.class(n, s)
		return
	case n.Type() == "impl_item":
		x.impl(n, s)
		return
	case x.isImport(n):
		x.importDecl(n)
		return
	case x.isCall(n):
		if x.call(n, s) {
			return
		}
	case n.Type() == "composite_literal" && x.lang == LangGo:
		x.commandLiteral(n, s)
	}

	for i := range int(n.NamedChildCount()) {
		x.walk(n.NamedChild(i), s)
	}
}

func (x *extractor) isFunction(n *sitter.Node) bool {
	switch x.lang {
	case LangGo:
		return n.Type() == "function_declaration" || n.Type() == "method_declaration"
	case LangPython:
		return n.Type() == "function_definition"
	case LangJavaScript, LangTypeScript, LangTSX:
		switch n.Type() {
		case "function_declaration", "generator_function_declaration", "method_definition":
			return true
		case "variable_declarator", "public_field_definition", "field_definition":
			return isFunctionValue(valueOf(n))
		}
	case LangJava, LangCSharp:
		return n.Type() == "method_declaration" || n.Type() == "constructor_declaration"
	case LangRust:
		return n.Type() == "function_item"
	case LangC, LangCPP:
		return n.Type() == "function_definition"
	}
	return false
}

func valueOf(n *sitter.Node) *sitter.Node {
	return n.ChildByFieldName("value")
}

func isFunctionValue(v *sitter.Node) bool {
	if v == nil {
		return false
	}
	switch v.Type() {
	case "arrow_function", "function", "function_expression", "generator_function":
		return true
	}
	return false
}

func (x *extractor) isClass(n *sitter.Node) bool {
	switch n.Type() {
	case "class_definition", "class_declaration", "abstract_class_declaration",
		"interface_declaration", "enum_declaration", "struct_declaration", "record_declaration",
		"struct_item", "enum_item", "trait_item":
		return n.ChildByFieldName("name") != nil
	case "class_specifier", "struct_specifier":
		return n.ChildByFieldName("name") != nil && n.ChildByFieldName("body") != nil
	case "type_spec":
		t := n.ChildByFieldName("type")
		return t != nil && (t.Type() == "struct_type" || t.Type() == "interface_type")
	}
	return false
}

func (x *extractor) isImport(n *sitter.Node) bool {
	switch n.Type() {
	case "import_spec", "import_statement", "import_from_statement", "import_declaration",
		"preproc_include", "using_directive", "use_declaration":
		return true
	}
	return false
}

func (x *extractor) isCall(n *sitter.Node) bool {
	switch n.Type() {
	case "call_expression", "call", "method_invocation", "invocation_expression",
		"new_expression", "object_creation_expression":
		return true
	}
	return false
}

// function records a function or method node and walks its body.
func (x *extractor) function(n *sitter.Node, s scope) {
	fn := n
	nameNode := n.ChildByFieldName("name")
	var qualifier string

	switch n.Type() {
	case "variable_declarator", "public_field_definition", "field_definition":
		fn = valueOf(n)
		if nameNode == nil {
			nameNode = n.ChildByFieldName("property")
		}
	case "function_definition":
		if x.lang == LangC || x.lang == LangCPP {
			var decl *sitter.Node
			decl, nameNode, qualifier = x.cDeclarator(n.ChildByFieldName("declarator"))
			if decl != nil {
				fn = decl
			}
		}
	}
	if nameNode == nil {
		x.walkChildren(n, s)
		return
	}
	name := x.text(nameNode)

	kind := models.KindFunction
	switch {
	case s.class >= 0, n.Type() == "method_declaration", n.Type() == "constructor_declaration",
		s.typeName != "", qualifier != "":
		kind = models.KindMethod
	}

	node := models.Node{
		Name:      name,
		Kind:      kind,
		Lines:     lines(n),
		Exported:  x.exported(n, name, s),
		Arity:     x.arity(fn, kind == models.KindMethod),
		Signature: x.signature(n),
		Doc:       x.doc(n),
	}
	key := x.res.AddNode(node)

	if s.class >= 0 {
		x.contains(s.class, key.ID)
	}
	switch {
	case n.Type() == "method_declaration" && x.lang == LangGo:
		if recv := x.goReceiver(n); recv != "" {
			x.members = append(x.members, pendingMember{typeName: recv, member: key.ID})
		}
	case s.typeName != "" && s.class < 0:
		x.members = append(x.members, pendingMember{typeName: s.typeName, member: key.ID})
	case qualifier != "":
		x.members = append(x.members, pendingMember{typeName: qualifier, member: key.ID})
	}
	if _, seen := x.funcs[name]; !seen {
		x.funcs[name] = key.ID
	}

	x.functionExports(n, key, name, kind, s)

	inner := scope{owner: key, class: -1}
	if body := fn.ChildByFieldName("body"); body != nil {
		x.walk(body, inner)
	} else {
		x.walkChildren(fn, inner)
	}
}

func (x *extractor) walkChildren(n *sitter.Node, s scope) {
	for i := range int(n.NamedChildCount()) {
		x.walk(n.NamedChild(i), s)
	}
}

// cDeclarator unwraps pointer and reference declarators down to the function
// declarator and its name. Out-of-class C++ definitions report the class as
// qualifier.
func (x *extractor) cDeclarator(d *sitter.Node) (decl, name *sitter.Node, qualifier string) {
	for d != nil {
		switch d.Type() {
		case "function_declarator":
			decl = d
			d = d.ChildByFieldName("declarator")
		case "pointer_declarator", "reference_declarator", "parenthesized_declarator":
			next := d.ChildByFieldName("declarator")
			if next == nil && d.NamedChildCount() > 0 {
				next = d.NamedChild(int(d.NamedChildCount()) - 1)
			}
			d = next
		case "qualified_identifier":
			if sc := d.ChildByFieldName("scope"); sc != nil {
				qualifier = x.text(sc)
			}
			d = d.ChildByFieldName("name")
		case "identifier", "field_identifier", "destructor_name", "operator_name":
			return decl, d, qualifier
		default:
			return decl, nil, qualifier
		}
	}
	return decl, nil, qualifier
}

func (x *extractor) goReceiver(n *sitter.Node) string {
	recv := n.ChildByFieldName("receiver")
	if recv == nil {
		return ""
	}
	for i := range int(recv.NamedChildCount()) {
		p := recv.NamedChild(i)
		if p.Type() != "parameter_declaration" {
			continue
		}
		return baseName(x.text(p.ChildByFieldName("type")))
	}
	return ""
}

// baseName reduces a type expression to its bare identifier.
func baseName(t string) string {
	t = strings.TrimSpace(t)
	t = strings.TrimLeft(t, "*&")
	if i := strings.IndexAny(t, "<[("); i >= 0 {
		t = t[:i]
	}
	if i := strings.LastIndexAny(t, ".:"); i >= 0 {
		t = t[i+1:]
	}
	return strings.TrimSpace(t)
}

func (x *extractor) contains(class, member int) {
	x.res.Edges = append(x.res.Edges, models.Edge{
		Source:     models.Key{File: x.res.Path, ID: class},
		Target:     models.Key{File: x.res.Path, ID: member},
		Type:       models.EdgeContains,
		Confidence: models.ConfidenceExact,
	})
}

// class records a class-like node and walks its body with the class as owner.
func (x *extractor) class(n *sitter.Node, s scope) {
	name := x.text(n.ChildByFieldName("name"))
	kind := models.KindClass
	switch n.Type() {
	case "interface_declaration", "trait_item":
		kind = models.KindInterface
	case "enum_declaration", "enum_item":
		kind = models.KindEnum
	case "type_spec":
		if n.ChildByFieldName("type").Type() == "interface_type" {
			kind = models.KindInterface
		}
	}

	exported := x.exported(n, name, s)
	key := x.res.AddNode(models.Node{
		Name:      name,
		Kind:      kind,
		Lines:     lines(n),
		Exported:  exported,
		Arity:     models.ArityUnknown,
		Signature: x.signature(n),
		Doc:       x.doc(n),
	})
	if s.class >= 0 {
		x.contains(s.class, key.ID)
	}
	if _, seen := x.classes[name]; !seen {
		x.classes[name] = key.ID
	}

	inner := scope{
		owner:    key,
		class:    key.ID,
		exported: exported,
		prefix:   x.classRoutePrefix(n, name),
		iface:    kind == models.KindInterface,
	}
	for _, b := range x.baseTypes(n) {
		x.bases = append(x.bases, pendingBase{from: key.ID, base: b.name, implement: b.implement})
		switch {
		case x.lang == LangPython && strings.HasSuffix(b.name, "Servicer"):
			inner.rpcService = b.name
		case x.lang == LangJava && strings.HasSuffix(b.name, "ImplBase"):
			inner.rpcService = strings.TrimSuffix(b.name, "ImplBase")
		}
	}

	if body := n.ChildByFieldName("body"); body != nil {
		x.walk(body, inner)
	}
}

// impl walks a Rust impl block, attaching its functions to the implemented type.
func (x *extractor) impl(n *sitter.Node, s scope) {
	typeName := baseName(x.text(n.ChildByFieldName("type")))
	if trait := n.ChildByFieldName("trait"); trait != nil {
		x.bases = append(x.bases, pendingBase{from: -1, fromName: typeName, base: baseName(x.text(trait)), implement: true})
	}
	inner := scope{owner: s.owner, class: -1, typeName: typeName}
	if body := n.ChildByFieldName("body"); body != nil {
		x.walk(body, inner)
	}
}

type baseType struct {
	name      string
	implement bool
}

func (x *extractor) baseTypes(n *sitter.Node) []baseType {
	var out []baseType
	add := func(node *sitter.Node, implement bool) {
		if node == nil {
			return
		}
		switch node.Type() {
		case "keyword_argument", "comment", "access_specifier", "type_arguments":
			return
		}
		if b := baseName(x.text(node)); b != "" {
			out = append(out, baseType{name: b, implement: implement})
		}
	}
	addAll := func(list *sitter.Node, implement bool) {
		if list == nil {
			return
		}
		for i := range int(list.NamedChildCount()) {
			c := list.NamedChild(i)
			if c.Type() == "type_list" {
				for j := range int(c.NamedChildCount()) {
					add(c.NamedChild(j), implement)
				}
				continue
			}
			add(c, implement)
		}
	}

	switch x.lang {
	case LangPython:
		addAll(n.ChildByFieldName("superclasses"), false)
	case LangJava:
		addAll(n.ChildByFieldName("superclass"), false)
		addAll(n.ChildByFieldName("interfaces"), true)
		for i := range int(n.NamedChildCount()) {
			if c := n.NamedChild(i); c.Type() == "extends_interfaces" {
				addAll(c, false)
			}
		}
	default:
		for i := range int(n.NamedChildCount()) {
			c := n.NamedChild(i)
			switch c.Type() {
			case "class_heritage":
				for j := range int(c.NamedChildCount()) {
					h := c.NamedChild(j)
					switch h.Type() {
					case "extends_clause":
						addAll(h, false)
					case "implements_clause":
						addAll(h, true)
					default:
						add(h, false)
					}
				}
			case "base_list", "base_class_clause":
				addAll(c, false)
			}
		}
	}
	return out
}

// exported reports visibility using each language's convention.
func (x *extractor) exported(n *sitter.Node, name string, s scope) bool {
	if name == "" {
		return false
	}
	switch x.lang {
	case LangGo:
		r, _ := utf8.DecodeRuneInString(name)
		return unicode.IsUpper(r)
	case LangPython:
		return !strings.HasPrefix(name, "_")
	case LangJavaScript, LangTypeScript, LangTSX:
		if strings.HasPrefix(name, "#") {
			return false
		}
		if s.class >= 0 {
			return s.exported && !strings.HasPrefix(name, "_") && !x.hasChild(n, "accessibility_modifier", "private")
		}
		for p := n.Parent(); p != nil; p = p.Parent() {
			switch p.Type() {
			case "export_statement":
				return true
			case "program", "statement_block", "class_body":
				return x.cjsExports[name]
			}
		}
		return x.cjsExports[name]
	case LangJava, LangCSharp:
		return s.iface || x.hasModifier(n, "public")
	case LangRust:
		return x.hasChild(n, "visibility_modifier", "")
	case LangC, LangCPP:
		return !x.hasChild(n, "storage_class_specifier", "static")
	}
	return false
}

// hasChild reports whether n has a direct child of type typ, optionally
// with text equal to want.
func (x *extractor) hasChild(n *sitter.Node, typ, want string) bool {
	for i := range int(n.ChildCount()) {
		c := n.Child(i)
		if c.Type() == typ && (want == "" || x.text(c) == want) {
			return true
		}
	}
	return false
}

func (x *extractor) hasModifier(n *sitter.Node, mod string) bool {
	for i := range int(n.ChildCount()) {
		c := n.Child(i)
		switch c.Type() {
		case mod:
			return true
		case "modifier", "modifiers":
			if x.text(c) == mod {
				return true
			}
			for j := range int(c.ChildCount()) {
				if c.Child(j).Type() == mod {
					return true
				}
			}
		}
	}
	return false
}

// arity counts declared parameters. Receivers, self and cls are not counted;
// variadic parameters make the arity unknown.
func (x *extractor) arity(fn *sitter.Node, method bool) int {
	if fn == nil {
		return models.ArityUnknown
	}
	params := fn.ChildByFieldName("parameters")
	if params == nil {
		if p := fn.ChildByFieldName("parameter"); p != nil {
			return 1
		}
		return models.ArityUnknown
	}
	for i := range int(params.ChildCount()) {
		if params.Child(i).Type() == "..." {
			return models.ArityUnknown
		}
	}

	n := 0
	first := true
	for i := range int(params.NamedChildCount()) {
		p := params.NamedChild(i)
		t := x.text(p)
		switch p.Type() {
		case "comment", "line_comment", "block_comment", "keyword_separator", "positional_separator", "self_parameter":
			continue
		case "list_splat_pattern", "dictionary_splat_pattern", "rest_pattern", "spread_parameter",
			"variadic_parameter_declaration", "variadic_parameter":
			return models.ArityUnknown
		case "parameter_declaration":
			if x.lang == LangGo {
				ids := 0
				for j := range int(p.NamedChildCount()) {
					if p.NamedChild(j).Type() == "identifier" {
						ids++
					}
				}
				n += max(ids, 1)
				first = false
				continue
			}
			if t == "void" {
				continue
			}
		}
		if strings.HasPrefix(t, "*") || strings.HasPrefix(t, "...") || strings.HasPrefix(t, "params ") {
			return models.ArityUnknown
		}
		if first && method && x.lang == LangPython && (t == "self" || t == "cls") {
			first = false
			continue
		}
		first = false
		n++
	}
	return n
}

// signature is the declaration text up to the body, whitespace collapsed.
func (x *extractor) signature(n *sitter.Node) string {
	end := n.EndByte()
	if body := n.ChildByFieldName("body"); body != nil {
		end = body.StartByte()
	} else if v := valueOf(n); v != nil && isFunctionValue(v) {
		if body := v.ChildByFieldName("body"); body != nil {
			end = body.StartByte()
		}
	}
	if end < n.StartByte() || end > uint32(len(x.src)) {
		return ""
	}
	sig := whitespaceRe.ReplaceAllString(string(x.src[n.StartByte():end]), " ")
	sig = strings.TrimSpace(sig)
	sig = strings.TrimRight(sig, "{:= ")
	sig = strings.TrimSuffix(sig, "=>")
	sig = strings.TrimSpace(sig)
	if len(sig) > maxSignatureLen {
		sig = sig[:maxSignatureLen]
	}
	return sig
}

// anchor is the node whose siblings hold decorators and comments for n.
func anchor(n *sitter.Node) *sitter.Node {
	a := n
	for p := a.Parent(); p != nil; p = p.Parent() {
		switch p.Type() {
		case "decorated_definition", "export_statement", "template_declaration", "type_declaration":
			a = p
			continue
		case "lexical_declaration", "variable_declaration":
			if a.Type() == "variable_declarator" {
				a = p
				continue
			}
		}
		break
	}
	return a
}

func isComment(n *sitter.Node) bool {
	switch n.Type() {
	case "comment", "line_comment", "block_comment":
		return true
	}
	return false
}

// doc returns the comment block directly above n, or a Python docstring.
func (x *extractor) doc(n *sitter.Node) string {
	if x.lang == LangPython {
		if body := n.ChildByFieldName("body"); body != nil && body.NamedChildCount() > 0 {
			if st := body.NamedChild(0); st.Type() == "expression_statement" && st.NamedChildCount() > 0 {
				if s := st.NamedChild(0); s.Type() == "string" {
					return cleanDocstring(x.text(s))
				}
			}
		}
		return ""
	}

	var parts []string
	next := anchor(n)
	for c := next.PrevSibling(); c != nil && isComment(c); c = c.PrevSibling() {
		if c.EndPoint().Row+1 < next.StartPoint().Row {
			break
		}
		parts = append(parts, x.text(c))
		next = c
	}
	if len(parts) == 0 {
		return ""
	}
	var out []string
	for i := len(parts) - 1; i >= 0; i-- {
		for _, l := range strings.Split(parts[i], "\n") {
			l = strings.TrimSpace(commentMarkerRe.ReplaceAllString(l, ""))
			l = strings.TrimSpace(strings.TrimSuffix(l, "*/"))
			if strings.HasPrefix(l, "export ") || strings.HasPrefix(l, "go:") {
				continue
			}
			if l != "" {
				out = append(out, l)
			}
		}
	}
	return strings.Join(out, "\n")
}

func cleanDocstring(s string) string {
	s = strings.TrimLeft(s, "rRbBuU")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(s, q) && strings.HasSuffix(s, q) && len(s) >= 2*len(q) {
			s = s[len(q) : len(s)-len(q)]
			break
		}
	}
	var out []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// preamble is the text attached in front of a declaration: decorators,
// attributes, annotations and directive comments.
func (x *extractor) preamble(n *sitter.Node) string {
	var parts []string
	a := anchor(n)
	for c := a.PrevSibling(); c != nil; c = c.PrevSibling() {
		switch c.Type() {
		case "comment", "line_comment", "block_comment", "attribute_item", "decorator", "attribute_list", "annotation", "marker_annotation":
			parts = append(parts, x.text(c))
			continue
		}
		break
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	if a != n && n.StartByte() > a.StartByte() {
		parts = append(parts, string(x.src[a.StartByte():n.StartByte()]))
	}
	end := n.EndByte()
	if name := n.ChildByFieldName("name"); name != nil {
		end = name.StartByte()
	} else if d := n.ChildByFieldName("declarator"); d != nil {
		end = d.StartByte()
	}
	if end > n.StartByte() && end <= uint32(len(x.src)) {
		parts = append(parts, string(x.src[n.StartByte():end]))
	}
	return strings.Join(parts, "\n")
}

// importDecl records the module references of an import statement and the
// names it binds.
func (x *extractor) importDecl(n *sitter.Node) {
	add := func(path string) {
		path = strings.TrimSpace(path)
		if path == "" {
			return
		}
		x.res.Imports = append(x.res.Imports, models.Import{Module: x.module, Path: path, Line: line(n)})
	}
	bind := func(name string) {
		if name = strings.TrimSpace(name); name != "" {
			x.imported[name] = true
		}
	}

	switch x.lang {
	case LangGo:
		p := unquote(x.text(n.ChildByFieldName("path")))
		add(p)
		if alias := n.ChildByFieldName("name"); alias != nil {
			bind(x.text(alias))
		} else {
			bind(goImportName(p))
		}
	case LangPython:
		if n.Type() == "import_from_statement" {
			modNode := n.ChildByFieldName("module_name")
			mod := strings.TrimLeft(x.text(modNode), ".")
			for i := range int(n.NamedChildCount()) {
				c := n.NamedChild(i)
				if modNode != nil && c.StartByte() == modNode.StartByte() {
					continue
				}
				name := x.text(c)
				if c.Type() == "aliased_import" {
					name = x.text(c.ChildByFieldName("alias"))
					c = c.ChildByFieldName("name")
				}
				bind(name)
				if mod == "" {
					add(x.text(c))
				}
			}
			add(mod)
			return
		}
		for i := range int(n.NamedChildCount()) {
			c := n.NamedChild(i)
			if c.Type() == "aliased_import" {
				add(x.text(c.ChildByFieldName("name")))
				bind(x.text(c.ChildByFieldName("alias")))
				continue
			}
			p := x.text(c)
			add(p)
			head, _, _ := strings.Cut(p, ".")
			bind(head)
		}
	case LangJavaScript, LangTypeScript, LangTSX:
		add(unquote(x.text(n.ChildByFieldName("source"))))
		for _, id := range FindNodesByType(n, x.src, "identifier") {
			bind(x.text(id))
		}
	case LangJava:
		p := strings.TrimSpace(x.text(n))
		p = strings.TrimPrefix(p, "import")
		p = strings.TrimSpace(strings.TrimSuffix(p, ";"))
		p = strings.TrimSpace(strings.TrimPrefix(p, "static "))
		p = strings.TrimSuffix(p, ".*")
		add(p)
		bind(baseName(p))
	case LangCSharp:
		p := strings.TrimSpace(x.text(n))
		p = strings.TrimPrefix(p, "global ")
		p = strings.TrimPrefix(p, "using")
		p = strings.TrimSpace(strings.TrimSuffix(p, ";"))
		p = strings.TrimSpace(strings.TrimPrefix(p, "static "))
		if alias, target, ok := strings.Cut(p, "="); ok {
			bind(alias)
			p = target
		}
		add(p)
	case LangC, LangCPP:
		add(strings.Trim(x.text(n.ChildByFieldName("path")), `"<>`))
	case LangRust:
		add(rustUsePath(x.text(n.ChildByFieldName("argument"))))
	}
}

func goImportName(p string) string {
	parts := strings.Split(p, "/")
	name := parts[len(parts)-1]
	if len(parts) > 1 && len(name) > 1 && name[0] == 'v' && strings.Trim(name[1:], "0123456789") == "" {
		name = parts[len(parts)-2]
	}
	return strings.ReplaceAll(name, "-", "_")
}

// rustUsePath reduces a use tree to the module it imports from.
func rustUsePath(p string) string {
	group := false
	if i := strings.Index(p, "::{"); i >= 0 {
		p, group = p[:i], true
	} else if i := strings.LastIndex(p, " as "); i >= 0 {
		p = p[:i]
	}
	segs := strings.Split(strings.TrimSpace(p), "::")
	for len(segs) > 0 && (segs[0] == "crate" || segs[0] == "self" || segs[0] == "super") {
		segs = segs[1:]
	}
	if len(segs) > 1 && !group {
		segs = segs[:len(segs)-1]
	}
	return strings.Join(segs, "::")
}

// call records a call site. It returns true when the node's children were
// already visited.
func (x *extractor) call(n *sitter.Node, s scope) bool {
	callee, ctype := x.callee(n)
	if callee == "" {
		return false
	}
	args := n.ChildByFieldName("arguments")

	if x.requireCall(callee, args, n) {
		return true
	}
	if x.routeCall(n, callee, args, s) {
		return true
	}
	x.cliRegistration(callee, args, s)

	site := models.CallSite{
		Caller:   s.owner,
		Callee:   callee,
		Raw:      x.raw(n),
		Line:     line(n),
		CallType: ctype,
		Arity:    x.argCount(args),
	}
	if proto, meta, ok := x.protocolCall(callee, args); ok {
		site.Protocol = proto
		site.Metadata = meta
	}
	x.res.CallSites = append(x.res.CallSites, site)
	return false
}

func (x *extractor) raw(n *sitter.Node) string {
	r := x.text(n)
	if i := strings.IndexByte(r, '\n'); i >= 0 {
		r = r[:i]
	}
	if len(r) > maxRawLen {
		r = r[:maxRawLen]
	}
	return r
}

// callee returns the callee expression text and its call type.
func (x *extractor) callee(n *sitter.Node) (string, models.CallType) {
	switch n.Type() {
	case "method_invocation":
		name := x.text(n.ChildByFieldName("name"))
		obj := n.ChildByFieldName("object")
		if obj == nil {
			return name, models.CallSimple
		}
		return x.text(obj) + "." + name, x.memberCallType(obj)
	case "new_expression":
		c := n.ChildByFieldName("constructor")
		if c == nil {
			c = n.ChildByFieldName("type")
		}
		return x.text(c), models.CallConstructor
	case "object_creation_expression":
		return x.text(n.ChildByFieldName("type")), models.CallConstructor
	}

	fn := n.ChildByFieldName("function")
	if fn == nil && n.NamedChildCount() > 0 {
		fn = n.NamedChild(0)
	}
	if fn == nil {
		return "", ""
	}
	return x.text(fn), x.calleeType(fn)
}

func (x *extractor) calleeType(fn *sitter.Node) models.CallType {
	switch fn.Type() {
	case "identifier":
		if x.lang == LangPython {
			if r, _ := utf8.DecodeRuneInString(x.text(fn)); unicode.IsUpper(r) {
				return models.CallConstructor
			}
		}
		return models.CallSimple
	case "attribute", "member_expression", "selector_expression", "field_expression",
		"member_access_expression", "field_access":
		obj := fn.ChildByFieldName("object")
		for _, f := range []string{"operand", "value", "argument", "expression"} {
			if obj != nil {
				break
			}
			obj = fn.ChildByFieldName(f)
		}
		if obj == nil && fn.NamedChildCount() > 0 {
			obj = fn.NamedChild(0)
		}
		return x.memberCallType(obj)
	case "scoped_identifier", "qualified_identifier":
		return models.CallQualified
	}
	return models.CallDynamic
}

var receivers = map[string]bool{"self": true, "this": true, "cls": true, "super": true, "super()": true, "base": true}

func (x *extractor) memberCallType(obj *sitter.Node) models.CallType {
	if obj == nil {
		return models.CallSimple
	}
	t := x.text(obj)
	switch {
	case receivers[t]:
		return models.CallMethod
	case x.imported[t], x.lang == LangGo && t == "C":
		return models.CallQualified
	}
	switch obj.Type() {
	case "attribute", "member_expression", "selector_expression", "field_expression",
		"member_access_expression", "field_access":
		return models.CallAttribute
	case "identifier", "type_identifier":
		if x.lang == LangJava || x.lang == LangCSharp {
			if r, _ := utf8.DecodeRuneInString(t); unicode.IsUpper(r) {
				return models.CallQualified
			}
		}
		return models.CallMethod
	case "this", "self", "this_expression", "base_expression", "super":
		return models.CallMethod
	}
	return models.CallDynamic
}

// argCount returns the number of arguments, or unknown when a spread is used.
func (x *extractor) argCount(args *sitter.Node) int {
	if args == nil {
		return models.ArityUnknown
	}
	switch args.Type() {
	case "generator_expression":
		return 1
	case "template_string", "string":
		return 1
	}
	n := 0
	for i := range int(args.NamedChildCount()) {
		a := args.NamedChild(i)
		switch a.Type() {
		case "comment", "line_comment", "block_comment":
			continue
		case "list_splat", "dictionary_splat", "spread_element", "variadic_argument":
			return models.ArityUnknown
		}
		if strings.HasSuffix(x.text(a), "...") {
			return models.ArityUnknown
		}
		n++
	}
	return n
}

// requireCall records CommonJS require() calls as imports.
func (x *extractor) requireCall(callee string, args, n *sitter.Node) bool {
	if callee != "require" || args == nil {
		return false
	}
	switch x.lang {
	case LangJavaScript, LangTypeScript, LangTSX:
	default:
		return false
	}
	if args.NamedChildCount() != 1 {
		return false
	}
	p, ok := literal(x.text(args.NamedChild(0)))
	if !ok {
		return false
	}
	x.res.Imports = append(x.res.Imports, models.Import{Module: x.module, Path: p, Line: line(n)})
	if decl := n.Parent(); decl != nil && decl.Type() == "variable_declarator" {
		if name := decl.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
			x.imported[x.text(name)] = true
		}
	}
	return true
}

// finish resolves intra-file references collected during the walk.
func (x *extractor) finish() {
	for _, m := range x.members {
		if id, ok := x.classes[m.typeName]; ok {
			x.contains(id, m.member)
		}
	}
	for _, b := range x.bases {
		from := b.from
		if from < 0 {
			id, ok := x.classes[b.fromName]
			if !ok {
				continue
			}
			from = id
		}
		to, ok := x.classes[b.base]
		if !ok || to == from {
			continue
		}
		typ := models.EdgeInherit
		if b.implement || x.res.Nodes[to].Kind == models.KindInterface && x.res.Nodes[from].Kind != models.KindInterface {
			typ = models.EdgeImplements
		}
		x.res.Edges = append(x.res.Edges, models.Edge{
			Source:     models.Key{File: x.res.Path, ID: from},
			Target:     models.Key{File: x.res.Path, ID: to},
			Type:       typ,
			Confidence: models.ConfidenceExact,
		})
	}
	for _, e := range x.exports {
		key := e.fallback
		if id, ok := x.funcs[e.handler]; ok && e.handler != "" {
			key = models.Key{File: x.res.Path, ID: id}
		}
		e.export.Node = key
		x.res.Exports = append(x.res.Exports, e.export)
	}
}
