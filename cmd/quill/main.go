// quill scores prose scenes, runs refinement pipelines and drives
// multi-agent tournaments against a remote generation service.
//
// Usage:
//
//	quill classify <score>
//	quill score <file> [--watch]
//	quill enhance <file> [--mode m] [--report out.yaml] [--resume ckpt.yaml] [--write]
//	quill tournament <file> --agent id... [--strategy s...] [--brief text]
//	quill scaffold --premise text --beat text...
//	quill config show|validate|set|init|path
package main

import (
	"os"

	"github.com/quillforge/quill/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
