package vectorize

import (
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

type funcInfo struct {
	module string
	name   string
	file   string
	line   int
}

// lookupFunc resolves a function value to its package path, name and
// declaration position.
func lookupFunc(fn any) (funcInfo, bool) {
	rv := reflect.ValueOf(fn)
	if rv.Kind() != reflect.Func || rv.IsNil() {
		return funcInfo{}, false
	}
	f := runtime.FuncForPC(rv.Pointer())
	if f == nil {
		return funcInfo{}, false
	}
	file, line := f.FileLine(f.Entry())
	module, name := splitFuncName(f.Name())
	return funcInfo{module: module, name: name, file: file, line: line}, true
}

var nameCleaner = strings.NewReplacer("(*", "", ")", "", "[...]", "")

// splitFuncName splits a runtime symbol such as
// "github.com/acme/billing.(*Service).Charge-fm" into the package path
// "github.com/acme/billing" and the name "Service.Charge".
func splitFuncName(symbol string) (module, name string) {
	symbol = strings.TrimSuffix(symbol, "-fm")
	slash := strings.LastIndex(symbol, "/")
	dot := strings.Index(symbol[slash+1:], ".")
	if dot < 0 {
		return "", symbol
	}
	cut := slash + 1 + dot
	// The linker escapes dots in the last path element.
	module = strings.ReplaceAll(symbol[:cut], "%2e", ".")
	return module, nameCleaner.Replace(symbol[cut+1:])
}

type parsedFile struct {
	fset *token.FileSet
	file *ast.File
	src  []byte
}

var parsedFiles sync.Map // path -> *parsedFile

func parseSource(path string) (*parsedFile, error) {
	if cached, ok := parsedFiles.Load(path); ok {
		return cached.(*parsedFile), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read source")
	}
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, errors.Wrap(err, "parse source")
	}
	pf := &parsedFile{fset: fset, file: file, src: src}
	actual, _ := parsedFiles.LoadOrStore(path, pf)
	return actual.(*parsedFile), nil
}

// sourceOf returns the doc comment and source text of the innermost
// function declaration or literal spanning line.
func sourceOf(path string, line int) (doc, source string, err error) {
	if path == "" || line <= 0 {
		return "", "", errors.New("no source position")
	}
	pf, err := parseSource(path)
	if err != nil {
		return "", "", err
	}

	var (
		best     ast.Node
		bestSpan = -1
	)
	ast.Inspect(pf.file, func(n ast.Node) bool {
		switch n.(type) {
		case *ast.FuncDecl, *ast.FuncLit:
		default:
			return true
		}
		start := pf.fset.Position(n.Pos()).Line
		end := pf.fset.Position(n.End()).Line
		if start <= line && line <= end && (bestSpan < 0 || end-start < bestSpan) {
			best, bestSpan = n, end-start
		}
		return true
	})
	if best == nil {
		return "", "", errors.Errorf("no function at %s:%d", path, line)
	}

	if decl, ok := best.(*ast.FuncDecl); ok && decl.Doc != nil {
		doc = strings.TrimSpace(decl.Doc.Text())
	}
	from := pf.fset.Position(best.Pos()).Offset
	to := pf.fset.Position(best.End()).Offset
	return doc, string(pf.src[from:to]), nil
}
