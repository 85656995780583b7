package domain

import (
	"path"
	"path/filepath"
	"strings"
	"time"
)

// CandidatePaths returns the remote directories that may hold the files of
// date, in probing order:
//
//	<base>/YYYY/MM/DD/
//	<base>/YYYY/MM/DDMMYYYY/
//
// followed by the same two without the trailing slash for servers that are
// sensitive to it. The result is deduplicated and never touches the network.
func CandidatePaths(base string, date time.Time) []string {
	base = strings.TrimRight(base, "/")
	yyyy := date.Format("2006")
	mm := date.Format("01")
	dd := date.Format("02")
	ddmmyyyy := date.Format("02012006")

	dayDir := base + "/" + yyyy + "/" + mm + "/" + dd + "/"
	stampDir := base + "/" + yyyy + "/" + mm + "/" + ddmmyyyy + "/"

	all := []string{dayDir, stampDir, strings.TrimSuffix(dayDir, "/"), strings.TrimSuffix(stampDir, "/")}
	seen := make(map[string]bool, len(all))
	out := make([]string, 0, len(all))
	for _, p := range all {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// RemoteFilePath joins a listed directory and a file name
func RemoteFilePath(dir, name string) string {
	return path.Join(dir, name)
}

// BaseName strips any directory component a listing may return (NLST on
// some servers yields full paths).
func BaseName(entry string) string {
	entry = strings.TrimRight(entry, "/")
	if i := strings.LastIndex(entry, "/"); i >= 0 {
		return entry[i+1:]
	}
	return entry
}

// LocalFilePath is where a station file for date is stored:
// <localBase>/<stateLabel>/<stationID>/<YYYY>/<MM>/<DD>/<fileName>.
// An empty state label collapses out of the path.
func LocalFilePath(localBase, stateLabel, stationID string, date time.Time, fileName string) string {
	return filepath.Join(
		localBase,
		strings.TrimSpace(stateLabel),
		stationID,
		date.Format("2006"),
		date.Format("01"),
		date.Format("02"),
		fileName,
	)
}
