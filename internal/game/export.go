package game

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ExportRound appends a revealed round from snap to filename.
func ExportRound(snap Snapshot, filename string, now time.Time) error {
	if snap.Phase != PhaseRoundRevealed || snap.Round == nil {
		return ErrInvalidPhase
	}

	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	fileExists := false
	if _, err := os.Stat(filename); err == nil {
		fileExists = true
	}

	file, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	var sb strings.Builder
	if !fileExists {
		sb.WriteString("Planning Poker Results\n")
		sb.WriteString(strings.Repeat("=", 50) + "\n\n")
	}

	ticket := snap.Round.Ticket
	if ticket == "" {
		ticket = "(no ticket)"
	}
	sb.WriteString(fmt.Sprintf("Room %s, round %s: %q\n", snap.Code, snap.Round.ID, ticket))
	sb.WriteString(fmt.Sprintf("Revealed: %s\n", now.Format("2006-01-02 15:04:05")))
	sb.WriteString(strings.Repeat("-", 40) + "\n")

	names := make(map[string]string, len(snap.Participants))
	for _, p := range snap.Participants {
		names[p.UID] = p.Name
	}
	type line struct {
		name  string
		value int
	}
	lines := make([]line, 0, len(snap.Votes))
	for uid, v := range snap.Votes {
		name := names[uid]
		if name == "" {
			name = "Unknown"
		}
		lines = append(lines, line{name: name, value: v})
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].name != lines[j].name {
			return lines[i].name < lines[j].name
		}
		return lines[i].value < lines[j].value
	})
	for _, l := range lines {
		sb.WriteString(fmt.Sprintf("- %s: %d\n", l.name, l.value))
	}

	sb.WriteString(fmt.Sprintf("\nVotes: %d\n", snap.Summary.Count))
	if avg := snap.Summary.AverageString(); avg != "" {
		sb.WriteString(fmt.Sprintf("Average: %s\n", avg))
	}
	sb.WriteString("\n")

	if _, err := file.WriteString(sb.String()); err != nil {
		return fmt.Errorf("failed to write to file: %w", err)
	}
	return nil
}
