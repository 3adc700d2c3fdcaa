package distro

import (
	"bufio"
	"slices"
	"strconv"
	"strings"
)

// ParsePasswd reads passwd(5) formatted content. Malformed lines are skipped.
func ParsePasswd(content string) []UserRecord {
	records := []UserRecord{}

	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 3 || fields[0] == "" {
			continue
		}
		uid, err := strconv.Atoi(fields[2])
		if err != nil {
			continue
		}
		records = append(records, UserRecord{Name: fields[0], UID: uid})
	}

	return records
}

// FilterCandidates returns, in input order, the names of records with
// UID >= minUID that are not reserved. The result is never nil.
func FilterCandidates(records []UserRecord, minUID int, reserved []string) []string {
	names := make([]string, 0, len(records))
	for _, record := range records {
		if record.UID < minUID {
			continue
		}
		if slices.Contains(reserved, record.Name) {
			continue
		}
		names = append(names, record.Name)
	}
	return names
}
