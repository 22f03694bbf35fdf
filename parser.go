package ftpfs

import (
	"fmt"
	"io/fs"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Parser turns single lines of a LIST result into stat records.
// Implementations for other server formats can be installed with
// Host.SetParser.
type Parser interface {
	// IgnoresLine returns true if the line is assumed to not contain
	// entry data, e.g. summary lines like "total 23".
	IgnoresLine(line string) bool

	// ParseLine returns the stat record derived from the line. The
	// time shift is the difference "time on server" - "UTC" and is
	// needed to convert listing timestamps to UTC. If the line can't
	// be interpreted, the returned error is a *ParserError.
	ParseLine(line string, timeShift time.Duration) (*StatResult, error)
}

// BaseParser provides the default line filtering shared by the
// built-in parsers. Custom parsers can embed it.
type BaseParser struct{}

var totalLineRegexp = regexp.MustCompile(`^total\s+\d+`)

// IgnoresLine returns true for empty lines and for the "total N"
// preamble some servers emit.
func (BaseParser) IgnoresLine(line string) bool {
	if strings.TrimSpace(line) == "" {
		return true
	}
	return totalLineRegexp.MatchString(line)
}

var monthNumbers = map[string]time.Month{
	"jan": time.January,
	"feb": time.February,
	"mar": time.March,
	"apr": time.April,
	"may": time.May,
	"jun": time.June,
	"jul": time.July,
	"aug": time.August,
	"sep": time.September,
	"oct": time.October,
	"nov": time.November,
	"dec": time.December,
}

// UnixParser parses the directory format of Unix-style servers:
//
//	-rw-r--r--   1 user     group      1234 Sep 14 09:42 filename
//	drwxr-xr-x   5 user     group      4096 Sep 14  2023 dirname
//	lrwxrwxrwx   1 user     group         7 Sep 14 09:42 link -> target
//
// A variant without the user field (eight fields per line) is
// recognized as well.
type UnixParser struct {
	BaseParser

	// Now returns the current time in UTC and exists so the year
	// heuristic for "HH:MM" timestamps can be pinned in tests. If
	// nil, time.Now is used.
	Now func() time.Time
}

// ParseLine implements Parser.
func (p *UnixParser) ParseLine(line string, timeShift time.Duration) (*StatResult, error) {
	parts, err := splitUnixLine(line)
	if err != nil {
		return nil, err
	}
	mode, err := parseUnixMode(line, parts[0])
	if err != nil {
		return nil, err
	}
	nlink, err := atoiField(line, parts[1], "link count")
	if err != nil {
		return nil, err
	}
	size, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return nil, &ParserError{Line: line, Reason: fmt.Sprintf("non-integer size %q", parts[4])}
	}
	now := p.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	mtime, precision, err := parseUnixTime(line, parts[5], parts[6], parts[7], timeShift, now)
	if err != nil {
		return nil, err
	}
	name, target, err := splitLinkName(line, parts[8])
	if err != nil {
		return nil, err
	}
	return &StatResult{
		Name:           name,
		Mode:           mode,
		NLink:          nlink,
		User:           parts[2],
		Group:          parts[3],
		Size:           size,
		MTime:          mtime,
		MTimePrecision: precision,
		Target:         target,
	}, nil
}

// splitUnixLine splits a listing line into the nine fields
// [mode, nlink, user, group, size, month, day, yearOrTime, name].
// The variant without a user field is detected by the sixth full
// field being a day number instead of a month abbreviation; the user
// is then reported as empty.
func splitUnixLine(line string) ([]string, error) {
	all := strings.Fields(line)
	if len(all) < 8 {
		return nil, &ParserError{Line: line, Reason: "too few fields"}
	}
	if _, err := strconv.Atoi(all[5]); err == nil {
		// Day number at index 5: no user field.
		parts := splitFields(line, 8)
		if len(parts) < 8 {
			return nil, &ParserError{Line: line, Reason: "too few fields"}
		}
		withUser := make([]string, 0, 9)
		withUser = append(withUser, parts[:2]...)
		withUser = append(withUser, "")
		withUser = append(withUser, parts[2:]...)
		return withUser, nil
	}
	parts := splitFields(line, 9)
	if len(parts) < 9 {
		return nil, &ParserError{Line: line, Reason: "too few fields"}
	}
	return parts, nil
}

// splitLinkName separates "name -> target" for symlink entries.
func splitLinkName(line, name string) (string, string, error) {
	switch strings.Count(name, " -> ") {
	case 0:
		return name, "", nil
	case 1:
		n, t, _ := strings.Cut(name, " -> ")
		return n, t, nil
	default:
		return "", "", &ParserError{Line: line, Reason: `name contains more than one "->"`}
	}
}

// parseUnixMode decodes the ten-character mode string, e.g.
// "drwxr-xr-x", into file type and permission bits.
func parseUnixMode(line, s string) (fs.FileMode, error) {
	if len(s) != 10 {
		return 0, &ParserError{Line: line, Reason: fmt.Sprintf("invalid mode string %q", s)}
	}
	var mode fs.FileMode
	switch s[0] {
	case '-':
		// Regular file, no type bit.
	case 'd':
		mode |= fs.ModeDir
	case 'l':
		mode |= fs.ModeSymlink
	case 'b':
		mode |= fs.ModeDevice
	case 'c':
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case 'p':
		mode |= fs.ModeNamedPipe
	case 's':
		mode |= fs.ModeSocket
	case '?':
		mode |= fs.ModeIrregular
	default:
		return 0, &ParserError{Line: line, Reason: fmt.Sprintf("unknown file type character %q", s[0])}
	}
	for i := 0; i < 9; i++ {
		c := s[1+i]
		bit := fs.FileMode(1) << uint(8-i)
		switch {
		case c == '-':
			// Bit not set.
		case i == 2 || i == 5 || i == 8:
			// Execute positions can carry setuid/setgid/sticky.
			special := fs.ModeSetuid
			if i == 5 {
				special = fs.ModeSetgid
			} else if i == 8 {
				special = fs.ModeSticky
			}
			switch c {
			case 's', 't':
				mode |= bit | special
			case 'S', 'T':
				mode |= special
			default:
				mode |= bit
			}
		default:
			mode |= bit
		}
	}
	return mode, nil
}

// futureSkew is how far into the server's future an "HH:MM" timestamp
// may point before it is assumed to belong to the previous year.
const futureSkew = 24 * time.Hour

// parseUnixTime interprets the month/day/year-or-time fields of a
// Unix-style listing line. Timestamps are given in the server's time
// zone; subtracting the time shift converts them to UTC. The returned
// precision is a minute for "HH:MM" tokens and a day for year tokens.
func parseUnixTime(line, monthAbbr, dayField, yearOrTime string, timeShift time.Duration, now func() time.Time) (time.Time, time.Duration, error) {
	month, ok := monthNumbers[strings.ToLower(monthAbbr)]
	if !ok {
		return time.Time{}, 0, &ParserError{Line: line, Reason: fmt.Sprintf("invalid month abbreviation %q", monthAbbr)}
	}
	day, err := atoiField(line, dayField, "day")
	if err != nil {
		return time.Time{}, 0, err
	}
	var year, hour, minute int
	var precision time.Duration
	if !strings.Contains(yearOrTime, ":") {
		precision = DayPrecision
		year, err = atoiField(line, yearOrTime, "year")
		if err != nil {
			return time.Time{}, 0, err
		}
	} else {
		precision = MinutePrecision
		hourField, minuteField, _ := strings.Cut(yearOrTime, ":")
		if hour, err = atoiField(line, hourField, "hour"); err != nil {
			return time.Time{}, 0, err
		}
		if minute, err = atoiField(line, minuteField, "minute"); err != nil {
			return time.Time{}, 0, err
		}
		// Start from the server's current year. If that puts the
		// timestamp further into the server's future than the allowed
		// skew, the entry must be from the previous year. When in
		// doubt, assume the entry was just created rather than being
		// to the minute one year old.
		serverNow := now().UTC().Add(timeShift)
		year = serverNow.Year()
		candidate, err := makeDatetime(line, year, month, day, hour, minute)
		if err != nil {
			return time.Time{}, 0, err
		}
		if candidate.Sub(serverNow.Truncate(time.Minute)) > futureSkew {
			year--
		}
	}
	serverTime, err := makeDatetime(line, year, month, day, hour, minute)
	if err != nil {
		return time.Time{}, 0, err
	}
	mtime := serverTime.Add(-timeShift)
	if mtime.Unix() < 0 {
		// Before the epoch: the value is clamped and its precision
		// can't be stated.
		return time.Unix(0, 0).UTC(), 0, nil
	}
	return mtime, precision, nil
}

// makeDatetime builds a UTC time and rejects out-of-range components
// instead of letting them wrap into the neighboring month or day.
func makeDatetime(line string, year int, month time.Month, day, hour, minute int) (time.Time, error) {
	t := time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
	if t.Year() != year || t.Month() != month || t.Day() != day ||
		t.Hour() != hour || t.Minute() != minute {
		return time.Time{}, &ParserError{
			Line: line,
			Reason: fmt.Sprintf("invalid datetime %04d-%02d-%02d %02d:%02d",
				year, month, day, hour, minute),
		}
	}
	return t, nil
}

// MSParser parses the directory format of MS/DOS-style servers:
//
//	10-23-01  03:25PM       <DIR>          dirname
//	10-23-01  03:25PM                 1234 filename
//
// The format has no owner, group, link count or symlink information.
type MSParser struct {
	BaseParser
}

// ParseLine implements Parser.
func (p *MSParser) ParseLine(line string, timeShift time.Duration) (*StatResult, error) {
	parts := splitFields(line, 4)
	if len(parts) < 4 {
		return nil, &ParserError{Line: line, Reason: "too few fields"}
	}
	date, clock, dirOrSize, name := parts[0], parts[1], parts[2], parts[3]
	// Read access only; in fact, we can't tell.
	mode := fs.FileMode(0o400)
	var size int64
	if dirOrSize == "<DIR>" {
		mode |= fs.ModeDir
	} else {
		var err error
		size, err = strconv.ParseInt(dirOrSize, 10, 64)
		if err != nil {
			return nil, &ParserError{Line: line, Reason: fmt.Sprintf("invalid size %q", dirOrSize)}
		}
	}
	mtime, precision, err := parseMSTime(line, date, clock, timeShift)
	if err != nil {
		return nil, err
	}
	return &StatResult{
		Name:           name,
		Mode:           mode,
		Size:           size,
		MTime:          mtime,
		MTimePrecision: precision,
	}, nil
}

// parseMSTime interprets "MM-DD-YY" dates and "HH:MMAM"/"HH:MMPM"
// clock readings. Two-digit years pivot at 1970: below 70 means 20YY,
// otherwise 19YY.
func parseMSTime(line, date, clock string, timeShift time.Duration) (time.Time, time.Duration, error) {
	dateParts := strings.Split(date, "-")
	if len(dateParts) != 3 {
		return time.Time{}, 0, &ParserError{Line: line, Reason: fmt.Sprintf("invalid date %q", date)}
	}
	monthNum, err := atoiField(line, dateParts[0], "month")
	if err != nil {
		return time.Time{}, 0, err
	}
	day, err := atoiField(line, dateParts[1], "day")
	if err != nil {
		return time.Time{}, 0, err
	}
	year, err := atoiField(line, dateParts[2], "year")
	if err != nil {
		return time.Time{}, 0, err
	}
	switch {
	case year >= 1000:
		// Four-digit year, no heuristics needed.
	case year >= 70:
		year += 1900
	default:
		year += 2000
	}
	if monthNum < 1 || monthNum > 12 {
		return time.Time{}, 0, &ParserError{Line: line, Reason: fmt.Sprintf("invalid month %d", monthNum)}
	}
	if len(clock) < 6 || clock[2] != ':' {
		return time.Time{}, 0, &ParserError{Line: line, Reason: fmt.Sprintf("invalid time string %q", clock)}
	}
	hour, err := atoiField(line, clock[0:2], "hour")
	if err != nil {
		return time.Time{}, 0, err
	}
	minute, err := atoiField(line, clock[3:5], "minute")
	if err != nil {
		return time.Time{}, 0, err
	}
	switch clock[5] {
	case 'A', 'a':
		if hour == 12 {
			hour = 0
		}
	case 'P', 'p':
		if hour != 12 {
			hour += 12
		}
	default:
		return time.Time{}, 0, &ParserError{Line: line, Reason: fmt.Sprintf("invalid time string %q", clock)}
	}
	serverTime, err := makeDatetime(line, year, time.Month(monthNum), day, hour, minute)
	if err != nil {
		return time.Time{}, 0, err
	}
	mtime := serverTime.Add(-timeShift)
	if mtime.Unix() < 0 {
		return time.Unix(0, 0).UTC(), 0, nil
	}
	return mtime, MinutePrecision, nil
}

func atoiField(line, s, what string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &ParserError{Line: line, Reason: fmt.Sprintf("non-integer %s value %q", what, s)}
	}
	return n, nil
}

// splitFields splits s on runs of whitespace into at most max fields.
// The last field keeps its interior spacing, so names containing
// blanks survive.
func splitFields(s string, max int) []string {
	isSpace := func(c byte) bool {
		return c == ' ' || c == '\t' || c == '\r' || c == '\n'
	}
	var fields []string
	i := 0
	for len(fields) < max-1 {
		for i < len(s) && isSpace(s[i]) {
			i++
		}
		if i >= len(s) {
			return fields
		}
		start := i
		for i < len(s) && !isSpace(s[i]) {
			i++
		}
		fields = append(fields, s[start:i])
	}
	for i < len(s) && isSpace(s[i]) {
		i++
	}
	if i < len(s) {
		fields = append(fields, strings.TrimRight(s[i:], "\r\n"))
	}
	return fields
}
