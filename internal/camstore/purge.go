package camstore

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// DeleteEvent removes an event's index row, every tracking CSV, and every
// JPEG. It is idempotent: deleting an already-deleted event is a no-op,
// not an error.
func (s *Store) DeleteEvent(date, eventID string) error {
	if err := s.removeIndexRows(date, eventID); err != nil {
		return fmt.Errorf("camstore: remove index rows: %w", err)
	}
	if err := s.removeTrackingFiles(date, eventID); err != nil {
		return fmt.Errorf("camstore: remove tracking files: %w", err)
	}
	if err := s.removeImageFiles(date, eventID); err != nil {
		return fmt.Errorf("camstore: remove image files: %w", err)
	}
	return nil
}

// removeIndexRows rewrites camwatcher.csv with eventID's rows filtered out.
// The source shells out to `sed -i /{event}/d`; here the same effect is
// reached with a plain read-filter-rewrite, avoiding a shell dependency.
func (s *Store) removeIndexRows(date, eventID string) error {
	path := s.IndexPath(date)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var kept []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if !strings.Contains(line, eventID) {
			kept = append(kept, line)
		}
	}
	f.Close()

	tmp := path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	for _, line := range kept {
		if _, err := out.WriteString(line + "\n"); err != nil {
			out.Close()
			return err
		}
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) removeTrackingFiles(date, eventID string) error {
	dir := s.DateDir(date)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	prefix := eventID + "_"
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) && strings.HasSuffix(e.Name(), ".csv") {
			if err := os.Remove(dir + string(os.PathSeparator) + e.Name()); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}

func (s *Store) removeImageFiles(date, eventID string) error {
	dir := s.ImageDateDir(date)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	prefix := eventID + "_"
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			if err := os.Remove(dir + string(os.PathSeparator) + e.Name()); err != nil && !os.IsNotExist(err) {
				return err
			}
		}
	}
	return nil
}
