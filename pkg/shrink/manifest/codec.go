package manifest

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"
)

const headerComment = "Optimized Image Results"

type xmlDocument struct {
	XMLName xml.Name   `xml:"Files"`
	Entries []xmlEntry `xml:"Add"`
}

type xmlEntry struct {
	Location   string `xml:"Location,attr"`
	Service    string `xml:"Service,attr"`
	Date       string `xml:"Date,attr"`
	Hash       string `xml:"Hash,attr"`
	SizeBefore string `xml:"SizeBefore,attr"`
	SizeAfter  string `xml:"SizeAfter,attr"`
}

func encode(w io.Writer, records []Record) error {
	doc := xmlDocument{Entries: make([]xmlEntry, 0, len(records))}
	for _, rec := range records {
		entry := xmlEntry{
			Location:   rec.Path,
			Service:    rec.Service,
			Hash:       rec.Hash,
			SizeBefore: strconv.FormatFloat(rec.SizeBefore, 'f', -1, 64),
			SizeAfter:  strconv.FormatFloat(rec.SizeAfter, 'f', -1, 64),
		}
		if !rec.OptimizedAt.IsZero() {
			entry.Date = rec.OptimizedAt.In(time.Local).Format(DateLayout)
		}
		doc.Entries = append(doc.Entries, entry)
	}

	enc := xml.NewEncoder(w)
	enc.Indent("", "     ")
	if err := enc.EncodeToken(xml.Comment(headerComment)); err != nil {
		return err
	}
	// The encoder does not break the line between the comment and the root.
	if err := enc.Flush(); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	if err := enc.Encode(doc); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func decode(r io.Reader) ([]Record, error) {
	var doc xmlDocument
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty document")
		}
		return nil, err
	}

	records := make([]Record, 0, len(doc.Entries))
	for i, entry := range doc.Entries {
		rec, err := entry.record()
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (e xmlEntry) record() (Record, error) {
	if e.Location == "" {
		return Record{}, errors.New("missing Location")
	}

	rec := Record{
		Path:    e.Location,
		Service: e.Service,
		Hash:    e.Hash,
	}

	if e.Date != "" {
		t, err := time.ParseInLocation(DateLayout, e.Date, time.Local)
		if err != nil {
			return Record{}, fmt.Errorf("invalid Date %q: %w", e.Date, err)
		}
		rec.OptimizedAt = t
	}

	var err error
	if rec.SizeBefore, err = parseSize(e.SizeBefore); err != nil {
		return Record{}, fmt.Errorf("invalid SizeBefore: %w", err)
	}
	if rec.SizeAfter, err = parseSize(e.SizeAfter); err != nil {
		return Record{}, fmt.Errorf("invalid SizeAfter: %w", err)
	}
	return rec, nil
}

func parseSize(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
