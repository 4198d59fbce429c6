package scanner

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"

	"github.com/devports/procwatch/pkg/models"
)

// parseLsofFields parses `lsof -F pcn` output. Each process block starts with
// a p line, carries a c line, then one n line per listening socket.
func parseLsofFields(output []byte) []models.PortRecord {
	records := make([]models.PortRecord, 0)
	var (
		pid  int
		name string
	)

	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		value := line[1:]
		switch line[0] {
		case 'p':
			pid, _ = strconv.Atoi(value)
			name = ""
		case 'c':
			name = value
		case 'n':
			if pid <= 0 {
				continue
			}
			host, port, ok := splitHostPort(value)
			if !ok {
				continue
			}
			records = append(records, models.PortRecord{
				Port:        port,
				PID:         pid,
				BindAddress: normalizeBindAddress(host),
				ProcessName: name,
			})
		}
	}
	return records
}

// parseSS parses `ss -Hltnp` rows:
//
//	LISTEN 0 511 0.0.0.0:3000 0.0.0.0:* users:(("node",pid=1234,fd=20))
//
// Rows without a users column belong to processes we cannot see and are skipped.
func parseSS(output []byte) []models.PortRecord {
	records := make([]models.PortRecord, 0)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 6 || fields[0] != "LISTEN" {
			continue
		}
		host, port, ok := splitHostPort(fields[3])
		if !ok {
			continue
		}
		users := strings.Join(fields[5:], " ")
		for _, u := range parseSSUsers(users) {
			records = append(records, models.PortRecord{
				Port:        port,
				PID:         u.pid,
				BindAddress: normalizeBindAddress(host),
				ProcessName: u.name,
			})
		}
	}
	return records
}

type ssUser struct {
	name string
	pid  int
}

func parseSSUsers(s string) []ssUser {
	var users []ssUser
	for {
		start := strings.Index(s, "(\"")
		if start < 0 {
			return users
		}
		s = s[start+2:]
		end := strings.Index(s, "\"")
		if end < 0 {
			return users
		}
		name := s[:end]
		s = s[end+1:]

		pidAt := strings.Index(s, "pid=")
		if pidAt < 0 {
			return users
		}
		rest := s[pidAt+4:]
		stop := strings.IndexAny(rest, ",)")
		if stop < 0 {
			stop = len(rest)
		}
		if pid, err := strconv.Atoi(rest[:stop]); err == nil && pid > 0 {
			users = append(users, ssUser{name: name, pid: pid})
		}
		s = rest[stop:]
	}
}

// parseNetstat parses `netstat -ano` output on Windows, keeping TCP rows in
// the LISTENING state:
//
//	TCP    0.0.0.0:135    0.0.0.0:0    LISTENING    1028
func parseNetstat(output []byte) []models.PortRecord {
	records := make([]models.PortRecord, 0)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 || !strings.HasPrefix(strings.ToUpper(fields[0]), "TCP") {
			continue
		}
		if !strings.EqualFold(fields[3], "LISTENING") {
			continue
		}
		pid, err := strconv.Atoi(fields[4])
		if err != nil || pid <= 0 {
			continue
		}
		host, port, ok := splitHostPort(fields[1])
		if !ok {
			continue
		}
		records = append(records, models.PortRecord{
			Port:        port,
			PID:         pid,
			BindAddress: normalizeBindAddress(host),
		})
	}
	return records
}

// parsePIDPairs parses lines of two integers, pid then ppid.
func parsePIDPairs(output []byte) map[int]int {
	parents := make(map[int]int)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		pid, err1 := strconv.Atoi(fields[0])
		ppid, err2 := strconv.Atoi(fields[1])
		if err1 != nil || err2 != nil || pid <= 0 {
			continue
		}
		parents[pid] = ppid
	}
	return parents
}

// parsePIDCommands parses lines of a pid followed by its command line.
func parsePIDCommands(output []byte) map[int]string {
	commands := make(map[int]string)
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		cut := strings.IndexAny(line, " \t")
		if cut < 0 {
			continue
		}
		pid, err := strconv.Atoi(line[:cut])
		if err != nil || pid <= 0 {
			continue
		}
		if cmd := strings.TrimSpace(line[cut+1:]); cmd != "" {
			commands[pid] = cmd
		}
	}
	return commands
}

// parseTasklistName reads the image name from `tasklist /FO CSV /NH` output.
func parseTasklistName(output []byte, pid int) string {
	r := csv.NewReader(bytes.NewReader(output))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return ""
	}
	want := strconv.Itoa(pid)
	for _, row := range rows {
		if len(row) >= 2 && strings.TrimSpace(row[1]) == want {
			return strings.TrimSpace(row[0])
		}
	}
	return ""
}

// splitHostPort splits the last colon-separated port off an address. Ports
// outside 1..65535 (and wildcards like "*") are rejected.
func splitHostPort(addr string) (string, uint16, bool) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return "", 0, false
	}
	host, portStr := addr[:i], addr[i+1:]
	// lsof appends " (LISTEN)" without -F; tolerate it anyway.
	if sp := strings.IndexByte(portStr, ' '); sp >= 0 {
		portStr = portStr[:sp]
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, false
	}
	return host, uint16(port), true
}

// normalizeBindAddress maps the wildcard spellings to 0.0.0.0 and strips
// IPv6 brackets and zone suffixes.
func normalizeBindAddress(host string) string {
	host = strings.TrimSpace(host)
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = host[1 : len(host)-1]
	}
	if i := strings.IndexByte(host, '%'); i >= 0 {
		host = host[:i]
	}
	switch host {
	case "", "*", "0.0.0.0", "::", "::0":
		return "0.0.0.0"
	}
	return host
}
