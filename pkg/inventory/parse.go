package inventory

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fleetpatch/fleetpatch/pkg/types"
)

// Parse reads an ansible INI host file into a host list. Group headers
// are ignored (the workflow treats every host the same way), comments and
// blank lines are skipped, and numeric host ranges like web[1:3].example
// expand in place.
func Parse(r io.Reader, defaultUser string) ([]types.Host, error) {
	var hosts []types.Host
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "[") {
			continue
		}

		parsed, err := parseHostLine(line, defaultUser)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, parsed...)
	}
	return hosts, scanner.Err()
}

func parseHostLine(line, defaultUser string) ([]types.Host, error) {
	fields := strings.Fields(line)
	names, err := expandRange(fields[0])
	if err != nil {
		return nil, err
	}

	hosts := make([]types.Host, 0, len(names))
	for _, name := range names {
		hosts = append(hosts, types.Host{
			Name:     name,
			Address:  name,
			Port:     types.DefaultSSHPort,
			Username: defaultUser,
		})
	}

	for _, field := range fields[1:] {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := kv[0]
		value := strings.Trim(kv[1], "'\"")

		for i := range hosts {
			switch key {
			case "ansible_host":
				hosts[i].Address = value
			case "ansible_user":
				hosts[i].Username = value
			case "ansible_port":
				port, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("invalid port %q for %s: %w", value, hosts[i].Name, err)
				}
				hosts[i].Port = port
			}
		}
	}
	return hosts, nil
}

// expandRange expands a numeric [start:end] pattern into host names. Only
// numeric ranges are supported.
func expandRange(pattern string) ([]string, error) {
	open := strings.Index(pattern, "[")
	if open < 0 {
		return []string{pattern}, nil
	}
	close := strings.Index(pattern, "]")
	if close <= open {
		return nil, fmt.Errorf("malformed host range: %s", pattern)
	}

	prefix, suffix := pattern[:open], pattern[close+1:]
	bounds := strings.Split(pattern[open+1:close], ":")
	if len(bounds) != 2 {
		return nil, fmt.Errorf("malformed host range: %s", pattern)
	}

	start, err := strconv.Atoi(bounds[0])
	if err != nil {
		return nil, fmt.Errorf("host range %s: %w", pattern, err)
	}
	end, err := strconv.Atoi(bounds[1])
	if err != nil {
		return nil, fmt.Errorf("host range %s: %w", pattern, err)
	}
	if end < start {
		return nil, fmt.Errorf("host range %s: end before start", pattern)
	}

	var names []string
	for i := start; i <= end; i++ {
		names = append(names, fmt.Sprintf("%s%d%s", prefix, i, suffix))
	}
	return names, nil
}
