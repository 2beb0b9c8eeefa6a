package netlinkpm

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Generic-netlink family names for the two dialects (spec.md §6). These
// match the names the respective kernel trees register under
// genl_register_family.
const (
	familyNameUpstream = "mptcp_pm"
	familyNameLegacy   = "mptcp"
)

const (
	sysctlUpstream = "/proc/sys/net/mptcp/enabled"
	sysctlLegacy   = "/proc/sys/net/mptcp/mptcp_enabled"
)

// ErrNoMPTCPSupport indicates neither kernel sysctl exposes an enabled
// MPTCP path manager (spec.md §6 "Selection").
var ErrNoMPTCPSupport = fmt.Errorf("netlinkpm: no MPTCP support: neither %s nor %s indicate an enabled kernel path manager", sysctlUpstream, sysctlLegacy)

// probeResult is the outcome of sysctl-based dialect selection.
type probeResult struct {
	dialectName string
	familyName  string
}

// probeDialect implements spec.md §6 "Selection": probe the upstream
// sysctl first; if absent or disabled, fall back to the multipath-tcp.org
// sysctl; otherwise report ErrNoMPTCPSupport.
func probeDialect() (probeResult, error) {
	if enabled, err := readSysctlBool(sysctlUpstream); err == nil && enabled {
		return probeResult{dialectName: "upstream", familyName: familyNameUpstream}, nil
	}

	if v, err := readSysctlInt(sysctlLegacy); err == nil && (v == 1 || v == 2) {
		return probeResult{dialectName: "multipath-tcp.org", familyName: familyNameLegacy}, nil
	}

	return probeResult{}, ErrNoMPTCPSupport
}

// readSysctlBool reads a sysctl file expected to hold a single nonzero
// integer and reports whether it is nonzero.
func readSysctlBool(path string) (bool, error) {
	v, err := readSysctlInt(path)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// readSysctlInt reads the first whitespace-delimited integer from path.
func readSysctlInt(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return 0, err
		}
		return 0, fmt.Errorf("netlinkpm: %s is empty", path)
	}

	fields := strings.Fields(sc.Text())
	if len(fields) == 0 {
		return 0, fmt.Errorf("netlinkpm: %s has no value", path)
	}

	v, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, fmt.Errorf("netlinkpm: parse %s: %w", path, err)
	}
	return v, nil
}
