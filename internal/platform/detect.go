package platform

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v4/host"
)

// lambdaMarker is set by the AWS Lambda runtime in every function sandbox.
const lambdaMarker = "LAMBDA_TASK_ROOT"

// HostDetector inspects the machine the provisioner runs on.
type HostDetector struct {
	getenv func(string) string
}

// NewDetector returns a detector for the current host.
func NewDetector() Detector {
	return &HostDetector{getenv: os.Getenv}
}

// Detect reports the host OS and architecture, which select the driver
// archive, plus the facts configs branch on: the Linux distribution, which
// decides the browser install command (apt on the Debian family, dnf on
// RHEL), and whether the process runs in a Lambda sandbox, where only /tmp is
// writable.
//
// Distribution lookup is best effort. A gopsutil failure leaves the distro
// fields empty; only an unsupported architecture or a cancelled context
// fails detection.
func (d *HostDetector) Detect(ctx context.Context) (*Info, error) {
	arch, err := normalizeArch(runtime.GOARCH)
	if err != nil {
		return nil, fmt.Errorf("platform detection failed: %w", err)
	}

	info := &Info{
		OS:      runtime.GOOS,
		Arch:    arch,
		ArchRaw: runtime.GOARCH,
		Lambda:  d.getenv(lambdaMarker) != "",
	}
	if !info.IsLinux() {
		return info, nil
	}

	id, family, version, err := host.PlatformInformationWithContext(ctx)
	switch {
	case ctx.Err() != nil:
		return nil, fmt.Errorf("platform detection cancelled: %w", ctx.Err())
	case err != nil:
		return info, nil
	}

	if id = normalizePlatform(id); id != "" {
		info.Platform = id
		info.Family = mapFamily(family)
		info.Version = normalizePlatform(version)
	}
	return info, nil
}

// StaticDetector returns a fixed Info. It is used when the target platform is
// forced through configuration and in tests.
type StaticDetector struct {
	Info *Info
	Err  error
}

// Detect returns the configured info and error.
func (s *StaticDetector) Detect(ctx context.Context) (*Info, error) {
	return s.Info, s.Err
}
