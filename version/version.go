// Package version resolves the pipeline_version string stamped onto
// every emitted row and meta.yaml document.
package version

import "runtime/debug"

// GetPipelineVersion returns the semver of the bioetl module embedded in
// the running binary. The CLI stamps it into RunContext.PipelineVersion
// (and, from there, into every emitted row and meta.yaml) whenever the
// configuration does not pin an explicit pipeline version. Returns "dev"
// when running from an uncommitted build (no embedded module version).
func GetPipelineVersion() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}

	if info.Path == "bioetl.dev/bioetl" {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			return info.Main.Version
		}
		return "dev"
	}

	for _, dep := range info.Deps {
		if dep.Path == "bioetl.dev/bioetl" {
			if dep.Replace != nil {
				return dep.Replace.Version + " (replaced)"
			}
			return dep.Version
		}
	}

	return "dev"
}
