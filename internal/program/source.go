package program

import (
	"bytes"
	"errors"
	"fmt"
	"go/ast"
	"go/constant"
	"go/format"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"github.com/banshee-data/sumobot/internal/hal"
)

const robotImportPath = "robot"

const statementWrapper = `package main

import "robot"

var _ = robot.STOP

func Run() {
%s
}
`

func constantInt(d hal.Direction) constant.Value {
	return constant.MakeInt64(int64(d))
}

// wrap returns src as a complete file, wrapping a statement list in func
// Run.
func wrap(src string) (string, error) {
	if src == "" {
		return "", errors.New("empty program")
	}
	if strings.HasPrefix(src, "package ") {
		return src, nil
	}
	return fmt.Sprintf(statementWrapper, src), nil
}

// prepare checks that file is a program and returns it with a call to
// robot.Checkpoint at the top of every loop body and function body, so a run
// can be cancelled even while it calls no other primitive. Constructs that
// could loop or block outside those checkpoints are rejected: goroutines,
// channel operations, goto, recover and any other use of the name robot.
func prepare(file string) (string, error) {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, "program.go", file, parser.SkipObjectResolution)
	if err != nil {
		return "", err
	}
	if err := validate(fset, f); err != nil {
		return "", err
	}
	instrument(f)

	// Positions of the original comments no longer line up with the
	// rewritten tree.
	f.Comments = nil
	var buf bytes.Buffer
	if err := format.Node(&buf, fset, f); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func validate(fset *token.FileSet, f *ast.File) error {
	if f.Name.Name != "main" {
		return fmt.Errorf("package must be main, got %s", f.Name.Name)
	}
	for _, imp := range f.Imports {
		path, _ := strconv.Unquote(imp.Path.Value)
		if path != robotImportPath {
			return fmt.Errorf("%s: import %q not allowed", fset.Position(imp.Pos()), path)
		}
		if imp.Name != nil && imp.Name.Name != robotImportPath {
			return fmt.Errorf("%s: robot must be imported without a rename", fset.Position(imp.Pos()))
		}
	}

	hasRun := false
	for _, decl := range f.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil {
			continue
		}
		switch fn.Name.Name {
		case "main", "init":
			return fmt.Errorf("%s: func %s not allowed", fset.Position(fn.Pos()), fn.Name.Name)
		case "Run":
			if fn.Type.Params.NumFields() != 0 || fn.Type.Results.NumFields() != 0 {
				return fmt.Errorf("%s: Run must take no arguments and return nothing", fset.Position(fn.Pos()))
			}
			hasRun = true
		}
	}
	if !hasRun {
		return errors.New("func Run() not declared")
	}

	// The package selector in robot.X is the only permitted use of the
	// name, so Checkpoint calls always reach the real package.
	qualifiers := make(map[*ast.Ident]bool)
	for _, imp := range f.Imports {
		if imp.Name != nil {
			qualifiers[imp.Name] = true
		}
	}

	var bad error
	ast.Inspect(f, func(n ast.Node) bool {
		if bad != nil {
			return false
		}
		switch n := n.(type) {
		case *ast.GoStmt:
			bad = fmt.Errorf("%s: go statements not allowed", fset.Position(n.Pos()))
		case *ast.SelectStmt, *ast.SendStmt, *ast.ChanType:
			bad = fmt.Errorf("%s: channels not allowed", fset.Position(n.Pos()))
		case *ast.UnaryExpr:
			if n.Op == token.ARROW {
				bad = fmt.Errorf("%s: channels not allowed", fset.Position(n.Pos()))
			}
		case *ast.BranchStmt:
			if n.Tok == token.GOTO {
				bad = fmt.Errorf("%s: goto not allowed", fset.Position(n.Pos()))
			}
		case *ast.CallExpr:
			if id, ok := n.Fun.(*ast.Ident); ok && id.Name == "recover" {
				bad = fmt.Errorf("%s: recover not allowed", fset.Position(n.Pos()))
			}
		case *ast.SelectorExpr:
			if id, ok := n.X.(*ast.Ident); ok && id.Name == robotImportPath {
				qualifiers[id] = true
			}
		case *ast.Ident:
			if n.Name == robotImportPath && !qualifiers[n] {
				bad = fmt.Errorf("%s: %s is reserved for the robot package", fset.Position(n.Pos()), n.Name)
			}
		}
		return true
	})
	return bad
}

// instrument adds the robot import if it is missing and prepends a
// checkpoint call to every loop and function body.
func instrument(f *ast.File) {
	if len(f.Imports) == 0 {
		imp := &ast.ImportSpec{Path: &ast.BasicLit{Kind: token.STRING, Value: strconv.Quote(robotImportPath)}}
		f.Imports = append(f.Imports, imp)
		f.Decls = append([]ast.Decl{&ast.GenDecl{Tok: token.IMPORT, Specs: []ast.Spec{imp}}}, f.Decls...)
	}

	ast.Inspect(f, func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.ForStmt:
			withCheckpoint(n.Body)
		case *ast.RangeStmt:
			withCheckpoint(n.Body)
		case *ast.FuncDecl:
			withCheckpoint(n.Body)
		case *ast.FuncLit:
			withCheckpoint(n.Body)
		}
		return true
	})
}

func withCheckpoint(body *ast.BlockStmt) {
	if body == nil {
		return
	}
	call := &ast.ExprStmt{X: &ast.CallExpr{
		Fun: &ast.SelectorExpr{X: ast.NewIdent(robotImportPath), Sel: ast.NewIdent("Checkpoint")},
	}}
	body.List = append([]ast.Stmt{call}, body.List...)
}
