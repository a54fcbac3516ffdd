package markup

import (
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const defaultDateLayout = "2006-01-02"

// Builtins returns the functions every registry starts with. An argument
// written as :name resolves to the context variable name.
//
//	upper(x) lower(x) trim(x) escape(x)
//	default(x,fallback)   x unless empty
//	concat(a,b,...)       arguments joined without separator
//	date(layout)          current time in a Go layout, 2006-01-02 by default
//	include(path)         contents of templateDir/path, rendered by later passes
func Builtins(templateDir string) map[string]Func {
	return map[string]Func{
		"upper":   unary(strings.ToUpper),
		"lower":   unary(strings.ToLower),
		"trim":    unary(strings.TrimSpace),
		"escape":  unary(html.EscapeString),
		"default": defaultFunc,
		"concat":  concatFunc,
		"date":    dateFunc(time.Now),
		"include": includeFunc(templateDir),
	}
}

func argValue(rc *Context, args []string, i int) string {
	if i >= len(args) {
		return ""
	}
	arg := args[i]
	if strings.HasPrefix(arg, ":") {
		v, _ := rc.Get(arg[1:])
		return v
	}
	return arg
}

func unary(f func(string) string) Func {
	return func(rc *Context, args []string) string {
		return f(argValue(rc, args, 0))
	}
}

func defaultFunc(rc *Context, args []string) string {
	if v := argValue(rc, args, 0); v != "" {
		return v
	}
	return argValue(rc, args, 1)
}

func concatFunc(rc *Context, args []string) string {
	var b strings.Builder
	for i := range args {
		b.WriteString(argValue(rc, args, i))
	}
	return b.String()
}

func dateFunc(now func() time.Time) Func {
	return func(rc *Context, args []string) string {
		layout := argValue(rc, args, 0)
		if layout == "" {
			layout = defaultDateLayout
		}
		return now().Format(layout)
	}
}

func includeFunc(templateDir string) Func {
	return func(rc *Context, args []string) string {
		name := argValue(rc, args, 0)
		clean := filepath.Clean(filepath.FromSlash(name))
		if name == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
			return fmt.Sprintf("[include error: %s]", name)
		}

		content, err := os.ReadFile(filepath.Join(templateDir, clean))
		if err != nil {
			return fmt.Sprintf("[include error: %s]", name)
		}
		return string(content)
	}
}
