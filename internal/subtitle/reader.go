package subtitle

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

var srtTimePattern = regexp.MustCompile(`(\d{1,2}):(\d{2}):(\d{2})[,.](\d{1,3})\s*-->\s*(\d{1,2}):(\d{2}):(\d{2})[,.](\d{1,3})`)

// Parse reads SRT cues from data. Cues with unreadable timestamps are skipped
// rather than failing the whole payload.
func Parse(data []byte) []Line {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var lines []Line
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	current := Line{}
	state := "index"
	var textLines []string

	flush := func() {
		if len(textLines) > 0 {
			current.Text = strings.Join(textLines, "\n")
			lines = append(lines, current)
		}
		current = Line{}
		textLines = nil
		state = "index"
	}

	for scanner.Scan() {
		line := strings.TrimSpace(strings.ToValidUTF8(scanner.Text(), ""))

		switch state {
		case "index":
			if line == "" {
				continue
			}
			if start, end, ok := parseSRTTime(line); ok {
				// index line missing
				current.StartTime, current.EndTime = start, end
				state = "text"
				continue
			}
			index, err := strconv.Atoi(line)
			if err != nil {
				continue
			}
			current.Index = index
			state = "time"

		case "time":
			if line == "" {
				continue
			}
			start, end, ok := parseSRTTime(line)
			if !ok {
				current = Line{}
				state = "index"
				continue
			}
			current.StartTime, current.EndTime = start, end
			state = "text"

		case "text":
			if line == "" {
				flush()
				continue
			}
			textLines = append(textLines, line)
		}
	}
	if state == "text" {
		flush()
	}

	return lines
}

// ComputeStats counts cues and visible characters.
func ComputeStats(data []byte) Stats {
	lines := Parse(data)

	var st Stats
	for i, l := range lines {
		st.CueCount++
		st.CharCount += utf8.RuneCountInString(strings.ReplaceAll(l.Text, "\n", ""))
		if i == 0 || l.StartTime < st.First {
			st.First = l.StartTime
		}
		if l.EndTime > st.Last {
			st.Last = l.EndTime
		}
	}
	return st
}

// PlainText joins cue text so detectors do not see indices and timestamps.
// Payloads that do not parse as SRT are returned unchanged.
func PlainText(data []byte) string {
	lines := Parse(data)
	if len(lines) == 0 {
		return string(data)
	}

	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

// Sanitize drops lines that consist only of '#' characters, which some
// translation backends emit in place of music cues.
func Sanitize(data []byte) []byte {
	text := string(data)
	hadTrailingNewline := strings.HasSuffix(text, "\n")

	raw := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	kept := make([]string, 0, len(raw))
	for _, line := range raw {
		trimmed := strings.TrimSpace(strings.TrimSuffix(line, "\r"))
		if trimmed != "" && strings.Trim(trimmed, "#") == "" {
			continue
		}
		kept = append(kept, line)
	}

	out := strings.Join(kept, "\n")
	if hadTrailingNewline {
		out += "\n"
	}
	return []byte(out)
}

func parseSRTTime(s string) (time.Duration, time.Duration, bool) {
	m := srtTimePattern.FindStringSubmatch(s)
	if len(m) != 9 {
		return 0, 0, false
	}
	return toDuration(m[1], m[2], m[3], m[4]), toDuration(m[5], m[6], m[7], m[8]), true
}

func toDuration(hours, minutes, seconds, millis string) time.Duration {
	h, _ := strconv.Atoi(hours)
	m, _ := strconv.Atoi(minutes)
	s, _ := strconv.Atoi(seconds)
	// "5" after a comma means 500ms
	for len(millis) < 3 {
		millis += "0"
	}
	ms, _ := strconv.Atoi(millis)

	return time.Duration(h)*time.Hour +
		time.Duration(m)*time.Minute +
		time.Duration(s)*time.Second +
		time.Duration(ms)*time.Millisecond
}
