// Package metadata builds the frozen ClientMetadata document sent on
// every connection's hello handshake (spec.md §4.8).
package metadata

import (
	"runtime"
)

// maxAppNameBytes is the hard limit on the application name field.
const maxAppNameBytes = 128

// maxDocumentBytes bounds the serialized size of the whole metadata
// document; fields are dropped in priority order when it would be
// exceeded (spec.md §4.8: "drop extra driver info, then platform, then
// OS name").
const maxDocumentBytes = 512

// Driver identifies this library.
type Driver struct {
	Name    string
	Version string
}

// OS classifies the host operating system into the closed mapping
// spec.md §4.8 defines.
type OS struct {
	Type string // Linux, Darwin, Windows, Unix, or unknown
	Name string
}

// Environment describes an auto-detected serverless/container runtime.
type Environment struct {
	Name                string // aws.lambda, azure.func, gcp.func, vercel, or ""
	MemoryMB            int
	TimeoutSec          int
	Region              string
	Container           ContainerSignals
}

// ContainerSignals records container-orchestration hints independent of
// any FaaS provider.
type ContainerSignals struct {
	Kubernetes bool
	Docker     bool
}

// Metadata is the frozen client identity document. Construct with New;
// the only mutation allowed afterward is AppendWrapper (for wrapper
// drivers layered on top of this core).
type Metadata struct {
	AppName     string
	Driver      Driver
	OS          OS
	Platform    string
	Environment Environment

	wrappers []Driver
}

// New builds a Metadata snapshot for the current process. appName longer
// than maxAppNameBytes is rejected (spec.md §4.8).
func New(driverName, driverVersion, appName string) (*Metadata, error) {
	if len(appName) > maxAppNameBytes {
		return nil, errAppNameTooLong
	}

	m := &Metadata{
		AppName: appName,
		Driver:  Driver{Name: driverName, Version: driverVersion},
		OS:       detectOS(),
		Platform: runtime.Version(),
	}
	m.Environment = detectEnvironment()
	return m, nil
}

// AppendWrapper records an outer wrapper-driver's identity. This is the
// only mutation allowed after construction (spec.md §4.8: "frozen after
// construction, later updated only by appending wrapper-driver info").
func (m *Metadata) AppendWrapper(name, version string) {
	m.wrappers = append(m.wrappers, Driver{Name: name, Version: version})
}

func detectOS() OS {
	name := runtime.GOOS
	return OS{Type: classifyOS(name), Name: name}
}

// classifyOS maps an OS name onto the closed set of OS types.
func classifyOS(name string) string {
	switch name {
	case "linux":
		return "Linux"
	case "darwin":
		return "Darwin"
	case "windows":
		return "Windows"
	case "hp-ux", "aix", "irix", "solaris", "sunos":
		return "Unix"
	default:
		return "unknown"
	}
}
