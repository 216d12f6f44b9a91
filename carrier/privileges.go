package carrier

import (
	"bufio"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Linux capability bits this package cares about, from
// /usr/include/linux/capability.h.
const (
	capNetAdmin = 12
	capNetRaw   = 13
)

// RequirePrivileges checks the running process's effective capability
// set for CAP_NET_RAW (required to open an AF_INET/SOCK_RAW socket)
// and CAP_NET_ADMIN (required for IP_HDRINCL on some kernels), or that
// it is running as root. It returns a descriptive error rather than
// letting socket construction fail with a bare EPERM.
func RequirePrivileges() error {
	if os.Geteuid() == 0 {
		return nil
	}
	effective, err := effectiveCapabilities()
	if err != nil {
		return errors.Wrap(err, "carrier: read process capabilities")
	}
	if !hasCap(effective, capNetRaw) {
		return errors.New("carrier: missing CAP_NET_RAW (run as root or setcap cap_net_raw+ep)")
	}
	if !hasCap(effective, capNetAdmin) {
		return errors.New("carrier: missing CAP_NET_ADMIN (run as root or setcap cap_net_admin+ep)")
	}
	return nil
}

func hasCap(mask uint64, bit uint) bool {
	return mask&(1<<bit) != 0
}

// effectiveCapabilities parses CapEff out of /proc/self/status.
func effectiveCapabilities() (uint64, error) {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	const prefix = "CapEff:"
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) <= len(prefix) || line[:len(prefix)] != prefix {
			continue
		}
		hex := line[len(prefix):]
		for len(hex) > 0 && hex[0] == '\t' {
			hex = hex[1:]
		}
		return strconv.ParseUint(hex, 16, 64)
	}
	if err := scanner.Err(); err != nil {
		return 0, err
	}
	return 0, errors.New("carrier: CapEff not found in /proc/self/status")
}
