package logger

import (
	"runtime"
	"strings"
)

type PackageNameResolver struct {
	BasePackage string
	Depth       int
}

// PackageName returns the package of the caller relative to the BasePackage,
// ie "jam" for github.com/matrix-magiq/qvalidator/jam.
func (r *PackageNameResolver) PackageName() string {
	pc, _, _, _ := runtime.Caller(r.depth())
	pcName := runtime.FuncForPC(pc).Name()
	before, after, found := strings.Cut(pcName, r.BasePackage)
	pkg := before
	if found {
		pkg, _, _ = strings.Cut(after, ".")
	}
	return strings.Trim(pkg, "/")
}

func (r *PackageNameResolver) depth() int {
	// 2 because it's used from inside logging code, we want the caller of that
	if r.Depth == 0 {
		return 2
	}
	return r.Depth
}
