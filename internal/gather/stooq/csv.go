package stooq

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"kellyfactor/internal/domain"
)

// ParseCSV reads a daily price file with at least a Date and a Close column.
// A zero delim detects ';' or ',' from the header line. Rows whose date does
// not parse or whose close is not a positive number are skipped. Rows are
// returned in file order.
func ParseCSV(r io.Reader, delim rune) ([]domain.PriceObservation, error) {
	br := bufio.NewReader(r)
	if delim == 0 {
		head, err := br.Peek(peekSize(br))
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
			return nil, fmt.Errorf("reading header: %w", err)
		}
		delim = detectDelimiter(string(head))
	}

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("empty file: %w", domain.ErrInsufficientData)
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	dateCol, closeCol := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case "date", "data": // English and Polish headers
			dateCol = i
		case "close", "zamkniecie":
			closeCol = i
		}
	}
	if dateCol < 0 || closeCol < 0 {
		return nil, fmt.Errorf("header %q has no Date and Close columns: %w", strings.Join(header, string(delim)), domain.ErrInsufficientData)
	}

	var out []domain.PriceObservation
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		if len(rec) <= dateCol || len(rec) <= closeCol {
			continue
		}
		date, err := parseDate(rec[dateCol])
		if err != nil {
			continue
		}
		px, err := strconv.ParseFloat(strings.TrimSpace(rec[closeCol]), 64)
		if err != nil || math.IsNaN(px) || math.IsInf(px, 0) || px <= 0 {
			continue
		}
		out = append(out, domain.PriceObservation{Date: date, Close: px})
	}
	return out, nil
}

func peekSize(br *bufio.Reader) int {
	return min(br.Size(), 512)
}

// detectDelimiter picks the more frequent of ';' and ',' on the first line.
func detectDelimiter(head string) rune {
	if i := strings.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	if strings.Count(head, ";") > strings.Count(head, ",") {
		return ';'
	}
	return ','
}

var dateLayouts = []string{time.DateOnly, "20060102", "2006/01/02"}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}
