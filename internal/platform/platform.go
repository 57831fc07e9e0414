package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Platform represents the detected platform
type Platform string

const (
	PlatformMacOS   Platform = "macos"
	PlatformLinux   Platform = "linux"
	PlatformWSL     Platform = "wsl"
	PlatformWindows Platform = "windows"
	PlatformUnknown Platform = "unknown"
)

var (
	detectOnce       sync.Once
	detectedPlatform Platform
)

// Detect returns the current platform, caching the result
func Detect() Platform {
	detectOnce.Do(func() {
		detectedPlatform = detectPlatform()
	})
	return detectedPlatform
}

func detectPlatform() Platform {
	switch runtime.GOOS {
	case "darwin":
		return PlatformMacOS
	case "windows":
		return PlatformWindows
	case "linux":
		if os.Getenv("WSL_DISTRO_NAME") != "" {
			return PlatformWSL
		}
		if v, err := os.ReadFile("/proc/version"); err == nil && strings.Contains(strings.ToLower(string(v)), "microsoft") {
			return PlatformWSL
		}
		return PlatformLinux
	default:
		return PlatformUnknown
	}
}

// String returns a human-readable platform name
func (p Platform) String() string {
	switch p {
	case PlatformMacOS:
		return "macOS"
	case PlatformLinux:
		return "Linux"
	case PlatformWSL:
		return "WSL"
	case PlatformWindows:
		return "Windows"
	default:
		return "Unknown"
	}
}

// FallbackShell is the login shell used when $SHELL is unset.
// macOS has shipped zsh as the default shell since Catalina.
func (p Platform) FallbackShell() string {
	if p == PlatformMacOS {
		return "/bin/zsh"
	}
	return "/bin/bash"
}

// CheckFsnotifySupport reports whether path lives on a filesystem where
// fsnotify events are unreliable (9p, nfs, cifs, sshfs). It returns a
// human-readable reason, or "" if fsnotify should work normally.
func CheckFsnotifySupport(path string) string {
	if runtime.GOOS != "linux" {
		return ""
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return ""
	}

	mounts, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return ""
	}

	return fsnotifyWarning(mountFsType(string(mounts), absPath))
}

// mountFsType returns the filesystem type of the longest mount point
// containing absPath. Format of each line: device mountpoint fstype options ...
func mountFsType(mounts, absPath string) string {
	var matchedMount, matchedFsType string
	for _, line := range strings.Split(mounts, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		mountPoint := fields[1]
		if !strings.HasPrefix(absPath, mountPoint) {
			continue
		}
		if len(mountPoint) > len(matchedMount) {
			matchedMount = mountPoint
			matchedFsType = fields[2]
		}
	}
	return matchedFsType
}

func fsnotifyWarning(fsType string) string {
	switch {
	case fsType == "9p":
		return "sessions dir on 9p mount (WSL Windows filesystem): fsnotify disabled, polling only"
	case fsType == "nfs" || fsType == "nfs4":
		return "sessions dir on NFS mount: fsnotify disabled, polling only"
	case fsType == "cifs" || fsType == "smbfs":
		return "sessions dir on CIFS/SMB mount: fsnotify disabled, polling only"
	case strings.HasPrefix(fsType, "fuse.sshfs"):
		return "sessions dir on SSHFS mount: fsnotify disabled, polling only"
	}
	return ""
}
