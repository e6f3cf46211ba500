package version

import "strings"

// Values are stamped at build time using -ldflags.
var Version = "dev"
var Built = ""
var Commit = ""

type Info struct {
	Version string `json:"version"`
	Built   string `json:"built,omitempty"`
	Commit  string `json:"commit,omitempty"`
}

func Get() Info {
	return Info{
		Version: Version,
		Built:   Built,
		Commit:  Commit,
	}
}

// String renders the info on one line, e.g. "0.3.1 (4f2c1a9) built 2026-08-01".
func (info Info) String() string {
	parts := []string{info.Version}
	if info.Commit != "" {
		parts = append(parts, "("+info.Commit+")")
	}
	if info.Built != "" {
		parts = append(parts, "built "+info.Built)
	}
	return strings.Join(parts, " ")
}
