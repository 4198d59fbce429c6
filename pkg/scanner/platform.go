package scanner

import (
	"strconv"
	"strings"
)

// command is one OS invocation.
type command struct {
	name string
	args []string
}

const powershellProcessQuery = "Get-CimInstance Win32_Process | ForEach-Object { \"$($_.ProcessId)`t%s\" }"

func powershell(script string) command {
	return command{
		name: "powershell",
		args: []string{"-NoProfile", "-NonInteractive", "-Command", script},
	}
}

// lsofListeners lists listening TCP sockets, optionally scoped to pids.
// lsof returns the full table when none of the pids exist, so callers must
// re-check the pid of every record.
func lsofListeners(pids []int) command {
	args := []string{"-nP"}
	if len(pids) > 0 {
		args = append(args, "-a", "-p", joinPIDs(pids))
	}
	args = append(args, "-iTCP", "-sTCP:LISTEN", "-F", "pcn")
	return command{name: "lsof", args: args}
}

func ssListeners() command {
	return command{name: "ss", args: []string{"-Hltnp"}}
}

func netstatListeners() command {
	return command{name: "netstat", args: []string{"-ano", "-p", "TCP"}}
}

func netstatListenersV6() command {
	return command{name: "netstat", args: []string{"-ano", "-p", "TCPv6"}}
}

func processNameCommand(goos string, pid int) command {
	if goos == "windows" {
		return command{
			name: "tasklist",
			args: []string{"/FO", "CSV", "/NH", "/FI", "PID eq " + strconv.Itoa(pid)},
		}
	}
	return command{name: "ps", args: []string{"-p", strconv.Itoa(pid), "-o", "comm="}}
}

// commandLinesCommand returns full command lines as "pid<ws>cmdline" rows.
func commandLinesCommand(goos string, pids []int) command {
	if goos == "windows" {
		return powershell(strings.Replace(powershellProcessQuery, "%s", "$($_.CommandLine)", 1))
	}
	return command{name: "ps", args: []string{"-o", "pid=,args=", "-p", joinPIDs(pids)}}
}

// processTableCommand returns "pid ppid" rows for every process.
func processTableCommand(goos string) command {
	if goos == "windows" {
		return powershell(strings.Replace(powershellProcessQuery, "`t%s", " $($_.ParentProcessId)", 1))
	}
	return command{name: "ps", args: []string{"-A", "-o", "pid=,ppid="}}
}

func joinPIDs(pids []int) string {
	parts := make([]string, len(pids))
	for i, pid := range pids {
		parts[i] = strconv.Itoa(pid)
	}
	return strings.Join(parts, ",")
}
