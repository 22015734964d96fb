// Command-line code generation for git-derived version information.

package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/blang/semver"
)

var (
	// Name of file to output with Go version code
	outputfile = flag.String("o", "", "")

	// Display usage if true.
	showHelp = flag.Bool("help", false, "")
)

const helpMessage = `
gen-version calls git to generate Go code with source code version info.

Usage: gen-version -o lfs/gitversion.go

      -h, -help   (flag)    Show help message

`

const code = `// Code generated by gen-version; DO NOT EDIT.

package lfs

func init() {
	GitVersion = %q
}
`

// versionCode returns the generated source for a "git describe" result.  Tags that parse
// as semantic versions are normalized, e.g., "v0.3.0-4-gabcde" becomes "0.3.0-4-gabcde".
func versionCode(describe string) string {
	versionID := strings.TrimSpace(describe)
	if v, err := semver.ParseTolerant(versionID); err == nil {
		versionID = v.String()
	}
	if versionID == "" {
		versionID = "notag"
	}
	return fmt.Sprintf(code, versionID)
}

func main() {
	flag.BoolVar(showHelp, "h", false, "Show help message")
	flag.Usage = func() {
		fmt.Print(helpMessage)
	}
	flag.Parse()

	if *showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if len(*outputfile) < 4 {
		fmt.Printf("The %q is required for this program\n", "-o foo.go")
		os.Exit(1)
	}

	// Make sure we have git
	gitPath, err := exec.LookPath("git")
	if err != nil {
		fmt.Printf("Unable to find git command; alter PATH?\nError: %v\n", err)
		os.Exit(1)
	}

	out, err := exec.Command(gitPath, "describe", "--abbrev=5", "--tags").Output()
	if err != nil {
		out = []byte("notag")
	}
	if err := os.WriteFile(*outputfile, []byte(versionCode(string(out))), 0644); err != nil {
		fmt.Printf("Error saving go code: %v\n", err)
		os.Exit(1)
	}
}
