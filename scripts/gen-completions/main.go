// Command gen-completions writes bash, zsh, fish and powershell completion
// scripts for xraysync into an output directory (default "completions").
//
// Usage:
//
//	go run ./scripts/gen-completions [output-dir]
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/AbdelazizMoustafa10m/xraysync/internal/cli"
)

func main() {
	outDir := "completions"
	if len(os.Args) > 1 {
		outDir = os.Args[1]
	}
	if err := run(outDir); err != nil {
		fmt.Fprintln(os.Stderr, "gen-completions:", err)
		os.Exit(1)
	}
	fmt.Printf("All completions written to %s/\n", outDir)
}

func run(outDir string) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir %q: %w", outDir, err)
	}

	root := cli.NewRootCmd()
	scripts := map[string]func(io.Writer) error{
		"xraysync.bash": func(w io.Writer) error { return root.GenBashCompletionV2(w, true) },
		"_xraysync":     root.GenZshCompletion,
		"xraysync.fish": func(w io.Writer) error { return root.GenFishCompletion(w, true) },
		"xraysync.ps1":  root.GenPowerShellCompletionWithDesc,
	}

	for name, generate := range scripts {
		path := filepath.Join(outDir, name)
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %q: %w", path, err)
		}
		if err := generate(f); err != nil {
			f.Close()
			return fmt.Errorf("generating %q: %w", path, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("closing %q: %w", path, err)
		}
		fmt.Printf("Generated %s\n", path)
	}
	return nil
}
