package domain

import "strings"

const stationFileExt = ".txt"

// MatchesStation reports whether fileName belongs to stationID: the name must
// start with the station id and end with .txt, both case-insensitive.
//
// Matching is a plain prefix check. A station id that prefixes another one
// ("STAT0" and "STAT01") matches the other station's files too.
func MatchesStation(stationID, fileName string) bool {
	if stationID == "" {
		return false
	}
	name := strings.ToLower(BaseName(fileName))
	if !strings.HasSuffix(name, stationFileExt) {
		return false
	}
	return strings.HasPrefix(name, strings.ToLower(stationID))
}

// RemoteFile is a listed entry attributed to a station and a date
type RemoteFile struct {
	Name      string
	Dir       string
	StationID string
	Date      string // YYYY-MM-DD of the containing directory
	Size      int64  // 0 when unknown
}

// Path returns the full remote path of the file
func (f RemoteFile) Path() string {
	return RemoteFilePath(f.Dir, f.Name)
}
