package command

import (
	"path/filepath"
)

// Jar launches a Java archive: java [jvm converters] -client -jar <jar>.
// Program arguments follow it in the enclosing List.
type Jar struct {
	JarPath         string
	SoftwarePackage string
	// VersionParam names the job parameter holding the package version.
	VersionParam string
	// JVM holds converters placed before -jar, typically compact switches like -Xmx2g.
	JVM []Converter
}

func (j Jar) Args(inv *Invocation) ([]string, error) {
	if j.JarPath == "" {
		return nil, nil
	}

	java := inv.JavaPath
	if java == "" {
		java = "java"
	}
	args := []string{java}

	jvm, err := List{Converters: j.JVM}.Args(inv)
	if err != nil {
		return nil, err
	}
	args = append(args, jvm...)
	args = append(args, "-client", "-jar", ResolveJar(inv.ToolsDir, j.JarPath, j.SoftwarePackage, j.version(inv)))
	return args, nil
}

func (j Jar) version(inv *Invocation) string {
	if j.VersionParam == "" {
		return ""
	}
	return inv.Params[j.VersionParam]
}

// ResolveJar locates a jar under the tools directory. With a software package
// the jar lives in <tools>/<package>[-<version>]/<jar>.
func ResolveJar(toolsDir, jarPath, softwarePackage, version string) string {
	if filepath.IsAbs(jarPath) {
		return jarPath
	}
	dir := toolsDir
	if softwarePackage != "" {
		pkgDir := softwarePackage
		if version != "" {
			pkgDir += "-" + version
		}
		dir = filepath.Join(dir, pkgDir)
	}
	return filepath.Join(dir, filepath.FromSlash(jarPath))
}
