package version

import (
	"runtime/debug"
	"strings"
	"text/tabwriter"
)

func init() {
	buildInfo = moduleBuildInfo
}

func moduleBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "not built in module mode"
	}
	return formatBuildInfo(info)
}

// formatBuildInfo lists the main module and its dependencies as aligned
// columns. Replaced modules are followed by their replacement.
func formatBuildInfo(info *debug.BuildInfo) string {
	var sb strings.Builder
	w := tabwriter.NewWriter(&sb, 0, 8, 1, ' ', 0)
	writeModule(w, "mod", &info.Main)
	for _, dep := range info.Deps {
		writeModule(w, "dep", dep)
	}
	w.Flush()
	return sb.String()
}

func writeModule(w *tabwriter.Writer, kind string, m *debug.Module) {
	line := []string{"", kind, m.Path, m.Version, m.Sum}
	if m.Replace != nil {
		line = append(line, "=>", m.Replace.Path, m.Replace.Version, m.Replace.Sum)
	}
	w.Write([]byte(strings.Join(line, "\t") + "\n"))
}
