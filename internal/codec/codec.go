// Package codec implements the identity & path codec: pure, total
// functions that classify a script filename into a node kind and logical
// name, and synthesize the inverse filename for a node. Shared by the
// filesystem projector and the push projector.
package codec

import (
	"strings"

	"github.com/lexsf/azul/api"
)

// illegalChars are filesystem-illegal on at least one of the common
// desktop platforms; sanitization replaces them one-way with "_". The
// canonical (pre-sanitized) name remains the name stored on the node.
const illegalChars = `<>:"|?*`

// SanitizeName replaces filesystem-illegal characters with "_".
func SanitizeName(name string) string {
	if !strings.ContainsAny(name, illegalChars) {
		return name
	}
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if strings.ContainsRune(illegalChars, r) {
			b.WriteByte('_')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Classified is the result of classifying a script filename.
type Classified struct {
	Class string
	Name  string
}

// ClassifyFile splits a script filename into a node kind and the logical
// name to use in the tree. fileName is a base name (no directory
// components). ok is false when the name carries no recognizable script
// extension.
func ClassifyFile(fileName string) (c Classified, ok bool) {
	base := fileName

	lower := strings.ToLower(base)
	switch {
	case strings.HasSuffix(lower, ".lua"):
		base = base[:len(base)-len(".lua")]
	case strings.HasSuffix(lower, ".luau"):
		base = base[:len(base)-len(".luau")]
	default:
		return Classified{}, false
	}

	switch {
	case strings.HasSuffix(base, ".server"):
		return Classified{Class: api.ClassScript, Name: strings.TrimSuffix(base, ".server")}, true
	case strings.HasSuffix(base, ".client"):
		return Classified{Class: api.ClassLocalScript, Name: strings.TrimSuffix(base, ".client")}, true
	case strings.HasSuffix(base, ".module"):
		return Classified{Class: api.ClassModuleScript, Name: strings.TrimSuffix(base, ".module")}, true
	default:
		return Classified{Class: api.ClassModuleScript, Name: base}, true
	}
}

// suffixForClass returns the canonical (non-.module) suffix for a script
// class. ModuleScript's canonical suffix is empty — classifyFile accepts
// ".module" on read for disambiguation, but encodeFile always emits the
// shortest form.
func suffixForClass(class string) string {
	switch class {
	case api.ClassScript:
		return ".server"
	case api.ClassLocalScript:
		return ".client"
	default:
		return ""
	}
}

// EncodeInput is the minimal information EncodeFile needs about a node.
type EncodeInput struct {
	Class string
	Name  string
	// Collapse is true when this node's logical name equals its
	// containing directory's logical name (the "container collapse"
	// rule): the node's source lives at "<dir>/init<suffix>.ext" rather
	// than "<dir>/<name><suffix>.ext" one level up.
	Collapse bool
}

// EncodeFile synthesizes the on-disk filename for a script node. ext is the
// configured script extension (".lua" or ".luau").
func EncodeFile(in EncodeInput, ext string) string {
	suffix := suffixForClass(in.Class)
	if in.Collapse {
		return "init" + suffix + ext
	}
	return SanitizeName(in.Name) + suffix + ext
}
