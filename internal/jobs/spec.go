package jobs

import "bytes"

// Spec is the immutable description of one submission.
type Spec struct {
	argv   []string
	shell  string
	script []byte
}

// NewSpec builds a Spec. The script gets a "#!<shell>" first line and a
// trailing newline.
func NewSpec(argv []string, shell string, content []byte) Spec {
	script := make([]byte, 0, len(shell)+len(content)+4)
	script = append(script, Shebang(shell)...)
	script = append(script, content...)
	if !bytes.HasSuffix(script, []byte("\n")) {
		script = append(script, '\n')
	}
	return Spec{
		argv:   append([]string(nil), argv...),
		shell:  shell,
		script: script,
	}
}

// Shebang returns the marker line written in front of every script.
func Shebang(shell string) []byte {
	return []byte("#!" + shell + "\n")
}

// Argv returns a copy of the backend-specific extra arguments.
func (s Spec) Argv() []string {
	return append([]string(nil), s.argv...)
}

func (s Spec) Shell() string {
	return s.shell
}

// Script returns a copy of the shebang-prefixed script.
func (s Spec) Script() []byte {
	return append([]byte(nil), s.script...)
}
