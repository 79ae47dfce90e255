package chunk

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// unitKinds maps a language's top-level AST node types to piece kinds.
// Nodes of any other type are folded into the surrounding file preamble or
// gap text.
type languageSpec struct {
	name      string
	sitter    *sitter.Language
	unitKinds map[string]string
}

var languageSpecs = map[string]*languageSpec{
	"go": {
		name:   "go",
		sitter: golang.GetLanguage(),
		unitKinds: map[string]string{
			"function_declaration": KindFunction,
			"method_declaration":   KindMethod,
			"type_declaration":     KindType,
			"const_declaration":    KindType,
			"var_declaration":      KindType,
		},
	},
	"python": {
		name:   "python",
		sitter: python.GetLanguage(),
		unitKinds: map[string]string{
			"function_definition":  KindFunction,
			"class_definition":     KindClass,
			"decorated_definition": KindFunction,
		},
	},
	"javascript": {
		name:   "javascript",
		sitter: javascript.GetLanguage(),
		unitKinds: map[string]string{
			"function_declaration": KindFunction,
			"class_declaration":    KindClass,
			"lexical_declaration":  KindType,
		},
	},
	"typescript": {
		name:   "typescript",
		sitter: typescript.GetLanguage(),
		unitKinds: map[string]string{
			"function_declaration":   KindFunction,
			"class_declaration":      KindClass,
			"interface_declaration":  KindType,
			"type_alias_declaration": KindType,
			"enum_declaration":       KindType,
			"lexical_declaration":    KindType,
		},
	},
	"tsx": {
		name:   "tsx",
		sitter: tsx.GetLanguage(),
		unitKinds: map[string]string{
			"function_declaration":   KindFunction,
			"class_declaration":      KindClass,
			"interface_declaration":  KindType,
			"type_alias_declaration": KindType,
			"lexical_declaration":    KindType,
		},
	},
}

// extToLanguage maps file extensions to language names. Extensions missing
// here still get indexed, just through the line chunker.
var extToLanguage = map[string]string{
	".go":    "go",
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".mjs":   "javascript",
	".ts":    "typescript",
	".tsx":   "tsx",
	".java":  "java",
	".kt":    "kotlin",
	".rb":    "ruby",
	".rs":    "rust",
	".c":     "c",
	".h":     "c",
	".cpp":   "cpp",
	".hpp":   "cpp",
	".cs":    "csharp",
	".swift": "swift",
	".scala": "scala",
	".sh":    "shell",
	".sql":   "sql",
	".proto": "protobuf",
	".md":    "markdown",
	".rst":   "rst",
	".yaml":  "yaml",
	".yml":   "yaml",
	".toml":  "toml",
	".json":  "json",
	".html":  "html",
	".css":   "css",
}

// LanguageForExtension maps a file extension (with or without the leading
// dot) to a language name. Unknown extensions return "".
func LanguageForExtension(ext string) string {
	ext = strings.ToLower(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return extToLanguage[ext]
}

// ParseableLanguages lists the languages the code chunker can parse.
func ParseableLanguages() []string {
	names := make([]string, 0, len(languageSpecs))
	for name := range languageSpecs {
		names = append(names, name)
	}
	return names
}

func specFor(language string) (*languageSpec, bool) {
	spec, ok := languageSpecs[language]
	return spec, ok
}

// nameOf extracts the declared name from a unit node, when the grammar
// exposes one through the "name" field.
func nameOf(node *sitter.Node, source []byte) string {
	if name := node.ChildByFieldName("name"); name != nil {
		return name.Content(source)
	}
	// Python decorators wrap the real definition one level down.
	if node.Type() == "decorated_definition" {
		if def := node.ChildByFieldName("definition"); def != nil {
			return nameOf(def, source)
		}
	}
	// Go type/const/var declarations name their specs, not themselves.
	for i := 0; i < int(node.NamedChildCount()); i++ {
		child := node.NamedChild(i)
		if name := child.ChildByFieldName("name"); name != nil {
			return name.Content(source)
		}
	}
	return ""
}
