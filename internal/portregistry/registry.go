// Package portregistry implements the Port Registry (spec.md §4.4): a
// version-tagged JSON file mapping service name to assigned port, with a
// single mutating operation, ensureRegistryPort, that allocates the next
// free port above a floor and persists it atomically.
package portregistry

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/atimmer/devservers/pkg/logging"
)

const schemaVersion = 1
const defaultBasePort = 3100
const maxPort = 65535

// ErrNoFreePort is returned when the allocation scan exhausts the port
// range without finding an available port.
var ErrNoFreePort = fmt.Errorf("no free port available")

// File is the on-disk shape of the registry (spec.md §6).
type File struct {
	Version  int            `json:"version"`
	Services map[string]int `json:"services"`
}

// DefaultPath returns the default registry location alongside the
// configuration file, honoring DEVSERVERS_PORT_REGISTRY_PATH as an
// override (spec.md §4.4, §8).
func DefaultPath(configPath string) string {
	if p := os.Getenv("DEVSERVERS_PORT_REGISTRY_PATH"); p != "" {
		return p
	}
	return filepath.Join(filepath.Dir(configPath), "port-registry.json")
}

// Read parses the registry file. A missing file returns an empty File; when
// createIfMissing is set, an empty, versioned file is also written to disk.
func Read(path string, createIfMissing bool) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			empty := File{Version: schemaVersion, Services: map[string]int{}}
			if createIfMissing {
				if writeErr := write(path, empty); writeErr != nil {
					return File{}, writeErr
				}
			}
			return empty, nil
		}
		return File{}, fmt.Errorf("read port registry %s: %w", path, err)
	}

	var raw struct {
		Version  int                    `json:"version"`
		Services map[string]interface{} `json:"services"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return File{}, fmt.Errorf("parse port registry %s: %w", path, err)
	}
	if raw.Version != schemaVersion {
		return File{}, fmt.Errorf("port registry %s: unsupported version %d", path, raw.Version)
	}

	services := make(map[string]int, len(raw.Services))
	for name, v := range raw.Services {
		port, err := toPort(v)
		if err != nil {
			return File{}, fmt.Errorf("port registry %s: service %q: %w", path, name, err)
		}
		services[name] = port
	}

	return File{Version: raw.Version, Services: services}, nil
}

func toPort(v interface{}) (int, error) {
	switch p := v.(type) {
	case float64:
		port := int(p)
		if port < 1 || port > maxPort {
			return 0, fmt.Errorf("port %d out of range", port)
		}
		return port, nil
	case string:
		port, err := strconv.Atoi(p)
		if err != nil {
			return 0, err
		}
		if port < 1 || port > maxPort {
			return 0, fmt.Errorf("port %d out of range", port)
		}
		return port, nil
	default:
		return 0, fmt.Errorf("unsupported port value type %T", v)
	}
}

func write(path string, f File) error {
	if f.Version == 0 {
		f.Version = schemaVersion
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("encode port registry: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create registry dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".port-registry-*.json.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// AvailabilityProbe reports whether a port is free to bind on loopback. The
// default implementation (Probe) attempts a real TCP listen; tests
// substitute a fake.
type AvailabilityProbe func(port int) bool

// Probe attempts to bind a TCP listener on loopback at port, closing it
// immediately on success (spec.md §4.4).
func Probe(port int) bool {
	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

// EnsureOptions configures a single ensureRegistryPort call.
type EnsureOptions struct {
	CreateIfMissing bool
	PreferredPort   int
	BasePort        int
	Reserved        map[int]bool
	Probe           AvailabilityProbe
}

// EnsurePort implements ensureRegistryPort (spec.md §4.4): returns the
// service's existing port if already registered, otherwise scans upward
// from PreferredPort (else BasePort, else 3100) for the first port that is
// neither used nor reserved and passes the availability probe, persisting
// the new mapping.
func EnsurePort(path, name string, opts EnsureOptions) (int, error) {
	f, err := Read(path, opts.CreateIfMissing)
	if err != nil {
		return 0, err
	}

	if port, ok := f.Services[name]; ok {
		return port, nil
	}

	used := make(map[int]bool, len(f.Services)+len(opts.Reserved))
	for _, p := range f.Services {
		used[p] = true
	}
	for p := range opts.Reserved {
		used[p] = true
	}

	start := opts.PreferredPort
	if start == 0 {
		start = opts.BasePort
	}
	if start == 0 {
		start = defaultBasePort
	}

	probe := opts.Probe
	if probe == nil {
		probe = Probe
	}

	for port := start; port <= maxPort; port++ {
		if used[port] {
			continue
		}
		if !probe(port) {
			continue
		}

		services := make(map[string]int, len(f.Services)+1)
		for k, v := range f.Services {
			services[k] = v
		}
		services[name] = port
		newFile := File{Version: schemaVersion, Services: services}
		if err := write(path, newFile); err != nil {
			return 0, err
		}

		logging.Info("PortRegistry", "allocated port %d to service %s", port, name)
		return port, nil
	}

	return 0, ErrNoFreePort
}
