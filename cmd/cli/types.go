package main

import "github.com/yourusername/rtu-fetch-go/internal/domain"

// Response shapes of the HTTP API, kept local so the CLI does not link the
// storage stack

type sessionStats struct {
	Dates       int    `json:"dates"`
	DatesDone   int    `json:"dates_done"`
	DatesFailed int    `json:"dates_failed"`
	Downloaded  int    `json:"downloaded"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
	Bytes       int64  `json:"bytes"`
	CurrentDate string `json:"current_date"`
}

type serverStatus struct {
	Server    domain.ServerConfig `json:"server"`
	State     domain.SessionState `json:"state"`
	SessionID string              `json:"session_id"`
	Stats     *sessionStats       `json:"stats"`
	Error     string              `json:"error"`
}

type startRequest struct {
	Start     string `json:"start,omitempty"`
	End       string `json:"end,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Date      string `json:"date,omitempty"`
}

type sessionResponse struct {
	SessionID string              `json:"session_id"`
	ServerID  string              `json:"server_id"`
	State     domain.SessionState `json:"state"`
	Range     domain.DateRange    `json:"range"`
}

type remotePreview struct {
	ServerID string              `json:"server_id"`
	Date     string              `json:"date"`
	Dir      string              `json:"dir"`
	Files    []string            `json:"files"`
	Matches  map[string][]string `json:"matches"`
}
