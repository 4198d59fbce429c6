package scanner

import (
	"path"
	"strings"
)

// devSignature recognises a well-known dev server from its argv. bin is
// matched against the base name of any argument; sub, when set, must follow
// it directly.
type devSignature struct {
	label string
	bin   string
	sub   string
}

// Order matters: the first match wins.
var devSignatures = []devSignature{
	{label: "Vite", bin: "vite"},
	{label: "Next.js", bin: "next-server"},
	{label: "Next.js", bin: "next"},
	{label: "Nuxt", bin: "nuxi"},
	{label: "Nuxt", bin: "nuxt"},
	{label: "Astro", bin: "astro"},
	{label: "SvelteKit", bin: "svelte-kit"},
	{label: "Remix", bin: "remix"},
	{label: "Angular", bin: "ng", sub: "serve"},
	{label: "Create React App", bin: "react-scripts"},
	{label: "Webpack Dev Server", bin: "webpack-dev-server"},
	{label: "Webpack Dev Server", bin: "webpack", sub: "serve"},
	{label: "Parcel", bin: "parcel"},
	{label: "Storybook", bin: "storybook"},
	{label: "Storybook", bin: "start-storybook"},
	{label: "Gatsby", bin: "gatsby"},
	{label: "Expo", bin: "expo"},
	{label: "Wrangler", bin: "wrangler"},
	{label: "Uvicorn", bin: "uvicorn"},
	{label: "Gunicorn", bin: "gunicorn"},
	{label: "Hypercorn", bin: "hypercorn"},
	{label: "Flask", bin: "flask", sub: "run"},
	{label: "Django", bin: "manage.py", sub: "runserver"},
	{label: "Python http.server", bin: "http.server"},
	{label: "Rails", bin: "rails", sub: "server"},
	{label: "Rails", bin: "rails", sub: "s"},
	{label: "Puma", bin: "puma"},
	{label: "Laravel", bin: "artisan", sub: "serve"},
	{label: "Hugo", bin: "hugo"},
	{label: "Jekyll", bin: "jekyll"},
	{label: "live-server", bin: "live-server"},
	{label: "http-server", bin: "http-server"},
}

var scriptRuntimes = map[string]bool{
	"node":    true,
	"nodejs":  true,
	"bun":     true,
	"deno":    true,
	"python":  true,
	"python2": true,
	"python3": true,
	"ruby":    true,
	"php":     true,
	"tsx":     true,
	"ts-node": true,
}

var scriptExts = []string{".js", ".mjs", ".cjs", ".ts", ".mts", ".tsx", ".jsx", ".py", ".rb", ".php"}

// FriendlyName derives a human label for a listening process from its
// command line. It falls back to rawName when nothing is recognised.
func FriendlyName(cmdline, rawName string) string {
	args := strings.Fields(cmdline)
	if len(args) == 0 {
		return rawName
	}
	bases := make([]string, len(args))
	for i, a := range args {
		bases[i] = argBase(a)
	}

	for _, sig := range devSignatures {
		for i, b := range bases {
			if b != sig.bin {
				continue
			}
			if sig.sub == "" || (i+1 < len(args) && strings.ToLower(args[i+1]) == sig.sub) {
				return sig.label
			}
		}
	}

	runtime := runtimeName(bases[0])
	if scriptRuntimes[runtime] {
		if script := scriptArg(args[1:]); script != "" {
			return script + " (" + runtime + ")"
		}
	}
	if rawName == "" || rawName == UnknownProcess {
		return bases[0]
	}
	return rawName
}

// argBase lowercases an argument and strips its directory and launcher
// extension, so "/app/node_modules/.bin/vite.cmd" becomes "vite".
func argBase(arg string) string {
	b := strings.ToLower(path.Base(strings.ReplaceAll(arg, "\\", "/")))
	for _, ext := range []string{".exe", ".cmd", ".js", ".mjs", ".cjs"} {
		if strings.HasSuffix(b, ext) && b != ext {
			return strings.TrimSuffix(b, ext)
		}
	}
	return b
}

// runtimeName turns python3.12 into python3.
func runtimeName(base string) string {
	if strings.HasPrefix(base, "python") {
		if dot := strings.IndexByte(base, '.'); dot > 0 {
			return base[:dot]
		}
	}
	return base
}

func scriptArg(args []string) string {
	for i := 0; i < len(args); i++ {
		a := args[i]
		if a == "-m" && i+1 < len(args) {
			return args[i+1]
		}
		if strings.HasPrefix(a, "-") {
			continue
		}
		lower := strings.ToLower(a)
		for _, ext := range scriptExts {
			if strings.HasSuffix(lower, ext) {
				return path.Base(strings.ReplaceAll(a, "\\", "/"))
			}
		}
	}
	return ""
}
